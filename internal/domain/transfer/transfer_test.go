// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fitcore/fitcore/internal/domain/activity"
	"github.com/fitcore/fitcore/internal/domain/timeline"
	"github.com/fitcore/fitcore/internal/domain/treasurebox"
	"github.com/fitcore/fitcore/internal/domain/zone"
)

var baseTime = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func newHarness() (*activity.Monitor, *treasurebox.Box, *timeline.Timeline) {
	am := activity.NewMonitor()
	am.Reset(baseTime)

	zs := zone.NewStore()
	zs.Configure([]zone.Definition{{ID: "hot", Name: "Hot", Min: 140, Color: "red", Coins: 10}}, nil)
	tb := treasurebox.NewBox(zs, 5000)
	tb.Reset(baseTime)

	tl := timeline.New(5000)
	return am, tb, tl
}

func TestWithinGraceHonorsConfiguredWindow(t *testing.T) {
	am, tb, tl := newHarness()
	svc := NewService(am, tb, tl, 60*time.Second)
	svc.NoteEntityStart("e1", baseTime)

	require.True(t, svc.WithinGrace("e1", baseTime.Add(30*time.Second)))
	require.False(t, svc.WithinGrace("e1", baseTime.Add(90*time.Second)))
}

func TestTransferMovesAllFourPlanes(t *testing.T) {
	am, tb, tl := newHarness()
	svc := NewService(am, tb, tl, 60*time.Second)

	am.RecordTick(0, map[string]struct{}{"u1": {}})
	tb.RecordHeartRate("u1", 170, baseTime)
	tb.ProcessTick(0, map[string]struct{}{"u1": {}}, baseTime.Add(6*time.Second))
	tl.Tick(map[string]timeline.Value{}, baseTime) // placeholder tick to establish tickCount

	preTotal := tb.GetPerUserTotals()["u1"]
	require.Greater(t, preTotal, 0)

	svc.Transfer("u1", "jin", baseTime.Add(7*time.Second))

	require.True(t, am.IsActive("jin"))
	require.False(t, am.IsActive("u1"))
	require.Equal(t, preTotal, tb.GetPerUserTotals()["jin"])
	require.Equal(t, 0, tb.GetPerUserTotals()["u1"])

	transferred := svc.TransferredUsers()
	require.Contains(t, transferred, "u1")
}
