// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func TestRegisterOrUpdateNormalizesID(t *testing.T) {
	r := NewRegistry()
	rec, err := r.RegisterOrUpdate(Frame{DeviceID: "  HR Strap #1 "}, baseTime)
	require.NoError(t, err)
	require.Equal(t, "hr-strap-1", rec.ID)
}

func TestRegisterOrUpdateEmptyIDFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.RegisterOrUpdate(Frame{DeviceID: "   "}, baseTime)
	require.Error(t, err)
}

func TestRegisterOrUpdateMapsHeartRate(t *testing.T) {
	r := NewRegistry()
	rec, err := r.RegisterOrUpdate(Frame{
		DeviceID: "hr1",
		Data:     map[string]float64{"ComputedHeartRate": 150},
	}, baseTime)
	require.NoError(t, err)
	require.Equal(t, TypeHeartRate, rec.Type)
	require.Equal(t, 150, rec.HeartRate)
	require.True(t, rec.JustCreated)
}

func TestRegisterOrUpdateAdditiveMapping(t *testing.T) {
	r := NewRegistry()
	_, err := r.RegisterOrUpdate(Frame{
		DeviceID: "bike1",
		Data:     map[string]float64{"CalculatedCadence": 80},
	}, baseTime)
	require.NoError(t, err)

	rec, err := r.RegisterOrUpdate(Frame{
		DeviceID: "bike1",
		Data:     map[string]float64{"InstantaneousPower": 200},
	}, baseTime.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 80.0, rec.Cadence, "cadence from the prior frame must survive")
	require.Equal(t, 200.0, rec.Power)
	require.False(t, rec.JustCreated)
}

func TestUnknownMetricsStillUpdateLastSeen(t *testing.T) {
	r := NewRegistry()
	rec, err := r.RegisterOrUpdate(Frame{DeviceID: "ghost", Data: map[string]float64{"Unrecognized": 1}}, baseTime)
	require.NoError(t, err)
	require.Equal(t, baseTime, rec.LastSeen)
	require.Equal(t, TypeUnknown, rec.Type)
}

func TestCoastingForcesZeroDisplay(t *testing.T) {
	r := NewRegistry()
	_, err := r.RegisterOrUpdate(Frame{
		DeviceID: "bike1",
		Data:     map[string]float64{"CalculatedCadence": 40},
	}, baseTime)
	require.NoError(t, err)

	// rpm goes to 0 but lastSeen keeps ticking (device still "seen").
	later := baseTime.Add(13 * time.Second)
	rec, err := r.RegisterOrUpdate(Frame{
		DeviceID: "bike1",
		Data:     map[string]float64{"CalculatedCadence": 0},
	}, later)
	require.NoError(t, err)

	cadence, power, speed := Display(rec, later, 12*time.Second)
	require.Equal(t, 0.0, cadence)
	require.Equal(t, 0.0, power)
	require.Equal(t, 0.0, speed)
	require.Nil(t, rec.InactiveSince, "inactiveSince must remain unset; only lastSignificantActivity drives coasting")
}

func TestPruneInactiveThenRemove(t *testing.T) {
	r := NewRegistry()
	_, err := r.RegisterOrUpdate(Frame{DeviceID: "hr1", Data: map[string]float64{"ComputedHeartRate": 120}}, baseTime)
	require.NoError(t, err)

	th := Thresholds{Inactive: 30 * time.Second, Remove: 120 * time.Second}

	removed := r.Prune(baseTime.Add(45*time.Second), th)
	require.Empty(t, removed)
	rec, _ := r.Get("hr1")
	require.True(t, rec.IsInactive())
	require.NotNil(t, rec.RemovalAt)

	removed = r.Prune(baseTime.Add(150*time.Second), th)
	require.Equal(t, []string{"hr1"}, removed)
	_, ok := r.Get("hr1")
	require.False(t, ok)
}

func TestPruneRecoveryClearsFlags(t *testing.T) {
	r := NewRegistry()
	_, err := r.RegisterOrUpdate(Frame{DeviceID: "hr1", Data: map[string]float64{"ComputedHeartRate": 120}}, baseTime)
	require.NoError(t, err)
	th := Thresholds{Inactive: 30 * time.Second, Remove: 120 * time.Second}

	r.Prune(baseTime.Add(45*time.Second), th)
	rec, _ := r.Get("hr1")
	require.True(t, rec.IsInactive())

	// Fresh activity recorded before remove deadline.
	_, err = r.RegisterOrUpdate(Frame{DeviceID: "hr1", Data: map[string]float64{"ComputedHeartRate": 130}}, baseTime.Add(50*time.Second))
	require.NoError(t, err)

	r.Prune(baseTime.Add(51*time.Second), th)
	rec, _ = r.Get("hr1")
	require.False(t, rec.IsInactive())
	require.Nil(t, rec.RemovalAt)
}
