// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package treasurebox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fitcore/fitcore/internal/domain/zone"
)

var baseTime = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func newZones() *zone.Store {
	s := zone.NewStore()
	s.Configure([]zone.Definition{
		{ID: "warm", Name: "Warm", Min: 120, Color: "yellow", Coins: 2},
		{ID: "hot", Name: "Hot", Min: 160, Color: "red", Coins: 10},
	}, nil)
	return s
}

func TestRecordHeartRateZeroResetsInterval(t *testing.T) {
	b := NewBox(newZones(), 5000)
	b.Reset(baseTime)
	b.RecordHeartRate("alice", 170, baseTime)
	b.RecordHeartRate("alice", 0, baseTime.Add(time.Second))

	acc := b.accumulators["alice"]
	require.Nil(t, acc.HighestZone)
	require.Equal(t, noZoneColor, acc.CurrentColor)
}

func TestRecordHeartRateZoneCeilingRatchetsUp(t *testing.T) {
	b := NewBox(newZones(), 5000)
	b.Reset(baseTime)
	b.RecordHeartRate("alice", 170, baseTime) // hot
	b.RecordHeartRate("alice", 130, baseTime.Add(time.Second)) // warm, but ceiling must not drop

	acc := b.accumulators["alice"]
	require.Equal(t, "hot", acc.HighestZone.ID)
}

func TestProcessTickClearsCeilingWhenInactive(t *testing.T) {
	b := NewBox(newZones(), 5000)
	b.Reset(baseTime)
	b.RecordHeartRate("alice", 170, baseTime)

	b.ProcessTick(0, set(), baseTime.Add(time.Second))
	acc := b.accumulators["alice"]
	require.Nil(t, acc.HighestZone)
}

func TestProcessTickAwardsOnceIntervalElapsed(t *testing.T) {
	b := NewBox(newZones(), 5000)
	b.Reset(baseTime)
	b.RecordHeartRate("alice", 170, baseTime)

	b.ProcessTick(0, set("alice"), baseTime.Add(4*time.Second))
	require.Equal(t, 0, b.GetPerUserTotals()["alice"])

	b.ProcessTick(1, set("alice"), baseTime.Add(6*time.Second))
	require.Equal(t, 10, b.GetPerUserTotals()["alice"])

	timeline := b.GetCumulativeTimeline()
	require.NotEmpty(t, timeline.Cumulative)
	require.Equal(t, 10, timeline.Cumulative[len(timeline.Cumulative)-1])
	require.Equal(t, 10, timeline.PerColor["red"][len(timeline.PerColor["red"])-1])
}

func TestTransferAccumulatorSumsTotals(t *testing.T) {
	b := NewBox(newZones(), 5000)
	b.Reset(baseTime)
	b.RecordHeartRate("alice", 170, baseTime)
	b.ProcessTick(0, set("alice"), baseTime.Add(6*time.Second))
	require.Equal(t, 10, b.GetPerUserTotals()["alice"])

	b.RecordHeartRate("bob", 130, baseTime)
	b.ProcessTick(1, set("bob"), baseTime.Add(12*time.Second))

	b.TransferAccumulator("alice", "bob")
	require.Equal(t, 0, b.GetPerUserTotals()["alice"])
	require.Greater(t, b.GetPerUserTotals()["bob"], 10)
}

func set(ids ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
