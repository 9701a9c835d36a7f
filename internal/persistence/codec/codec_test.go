// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fitcore/fitcore/internal/domain/session/model"
	"github.com/fitcore/fitcore/internal/domain/timeline"
	"github.com/fitcore/fitcore/internal/domain/user"
)

var start = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func baseInput() model.PersistInput {
	end := start.Add(15 * time.Second)
	return model.PersistInput{
		SessionID: "fs_20260101090000",
		Timezone:  "UTC",
		StartTime: start,
		EndTime:   end,
		TickCount: 3,
		Roster: []user.RosterEntry{
			{UserID: "alice", DisplayName: "Alice", HRDeviceID: "hr1", Source: "roster"},
		},
		Entities: []*user.SessionEntity{
			{EntityID: "ent1", ProfileID: "alice", Name: "Alice", DeviceID: "hr1", StartTime: start, Status: user.EntityActive, Coins: 5},
		},
		Timeline: timeline.Summary{
			Timebase: timeline.Timebase{StartTime: start, IntervalMs: 5000, TickCount: 3, LastTickTimestamp: end},
			Series: map[string][]timeline.Value{
				"user:alice:heart_rate":  {timeline.Num(150), timeline.Num(151), timeline.Num(152)},
				"user:alice:zone_id":     {timeline.Num(1), timeline.Num(1), timeline.Num(1)},
				"user:alice:heart_beats": {timeline.Num(12.5), timeline.Num(12.6), timeline.Num(12.7)},
				"device:device_hr1:rpm":  {timeline.Num(80), timeline.Num(79), timeline.Num(0)},
			},
		},
	}
}

func TestEncodeBuildsV2Payload(t *testing.T) {
	payload, err := Encode(baseInput())
	require.NoError(t, err)
	require.Equal(t, Version, payload.Version)
	require.Equal(t, "fs_20260101090000", payload.SessionID)
	require.Equal(t, "2026-01-01", payload.Session.Date)
	require.Len(t, payload.Entities, 1)
	require.Contains(t, payload.Participants, "alice")

	require.Contains(t, payload.Timeline.Series, "alice:hr")
	require.Contains(t, payload.Timeline.Series, "alice:zone")
	require.Contains(t, payload.Timeline.Series, "alice:beats")
	require.Contains(t, payload.Timeline.Series, "bike:hr1:rpm")
}

func TestEncodeRoundsNumericMetrics(t *testing.T) {
	payload, err := Encode(baseInput())
	require.NoError(t, err)
	require.Equal(t, "[150,151,152]", payload.Timeline.Series["alice:hr"])
	require.Equal(t, `[12.5,12.6,12.7]`, payload.Timeline.Series["alice:beats"])
}

func TestZoneIDEncodesThroughAlphabet(t *testing.T) {
	out := encodeSeries("zone_id", []timeline.Value{timeline.Num(1)})
	require.Equal(t, `["a"]`, out)
}

func TestEncodeRejectsTickCountBelowMinimum(t *testing.T) {
	in := baseInput()
	in.TickCount = 2
	in.Timeline.Timebase.TickCount = 2
	for k, col := range in.Timeline.Series {
		in.Timeline.Series[k] = col[:2]
	}
	_, err := Encode(in)
	require.Error(t, err)
}

func TestEncodeRejectsSpamGuardOnShortEmptySession(t *testing.T) {
	in := baseInput()
	in.Roster = nil
	in.Entities = nil
	in.Timeline.Series = map[string][]timeline.Value{}
	in.EndTime = start.Add(500 * time.Millisecond)
	in.Timeline.Timebase.LastTickTimestamp = in.EndTime
	_, err := Encode(in)
	require.Error(t, err)
}

func TestEncodeRejectsUserSeriesWithoutRoster(t *testing.T) {
	in := baseInput()
	in.Roster = nil
	_, err := Encode(in)
	require.Error(t, err)
}

func TestEncodeDropsAllNullSeries(t *testing.T) {
	in := baseInput()
	in.Timeline.Series["user:alice:speed"] = []timeline.Value{timeline.Null, timeline.Null, timeline.Null}
	payload, err := Encode(in)
	require.NoError(t, err)
	require.NotContains(t, payload.Timeline.Series, "user:alice:speed")
	require.NotContains(t, payload.Timeline.Series, "alice:speed")
}

func TestRLEEncodeCompactsRepeatedRuns(t *testing.T) {
	out := rleEncode([]any{1, 1, 1, 2, nil, nil, 3})
	require.Equal(t, []any{[]any{1, 3}, 2, []any{nil, 2}, 3}, out)
}

func TestDedupeEventsCollapsesRepeatedChallengeOutcome(t *testing.T) {
	events := []timeline.Event{
		{Type: "challenge_success", At: start, Data: map[string]any{"tickIndex": 4, "challengeId": "c1"}},
		{Type: "challenge_success", At: start, Data: map[string]any{"tickIndex": 4, "challengeId": "c1"}},
		{Type: "challenge_failed", At: start, Data: map[string]any{"tickIndex": 9, "challengeId": "c2"}},
	}
	out := dedupeEvents(events)
	require.Len(t, out, 2)
}
