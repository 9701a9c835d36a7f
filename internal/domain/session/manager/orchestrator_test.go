// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fitcore/fitcore/internal/clock"
	"github.com/fitcore/fitcore/internal/domain/device"
	"github.com/fitcore/fitcore/internal/domain/governance"
	"github.com/fitcore/fitcore/internal/domain/session/model"
	"github.com/fitcore/fitcore/internal/domain/user"
	"github.com/fitcore/fitcore/internal/domain/zone"
	"github.com/fitcore/fitcore/internal/eventbus"
)

var baseTime = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, persist PersistFunc) (*FitnessSession, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(baseTime)
	bus := eventbus.NewMemoryBus()
	sess, err := New(fake, bus, persist)
	require.NoError(t, err)

	cfg := model.DefaultConfig()
	cfg.PreSessionThreshold = 2
	cfg.Zones = []zone.Definition{
		{ID: "warm", Name: "Warm", Min: 100, Color: "orange", Coins: 1},
		{ID: "hot", Name: "Hot", Min: 140, Color: "red", Coins: 5},
	}
	sess.Configure(cfg)
	return sess, fake
}

func hrFrame(deviceID string, hr float64, ts time.Time) device.Frame {
	return device.Frame{DeviceID: deviceID, Data: map[string]float64{"heartRate": hr}, Timestamp: ts}
}

func TestIngestActivatesAfterPreSessionThreshold(t *testing.T) {
	sess, _ := newHarness(t, nil)
	ctx := context.Background()

	env, err := sess.Ingest(ctx, hrFrame("hr1", 120, baseTime), baseTime)
	require.NoError(t, err)
	require.True(t, env.OK)
	require.Equal(t, model.StateIdle, sess.State())

	_, err = sess.Ingest(ctx, hrFrame("hr1", 122, baseTime), baseTime)
	require.NoError(t, err)
	require.Equal(t, model.StateActive, sess.State())
}

func TestAssignGuestThenTickAwardsCoins(t *testing.T) {
	sess, fake := newHarness(t, nil)
	ctx := context.Background()

	_, err := sess.Ingest(ctx, hrFrame("hr1", 150, baseTime), baseTime)
	require.NoError(t, err)
	_, err = sess.Ingest(ctx, hrFrame("hr1", 150, baseTime), baseTime)
	require.NoError(t, err)
	require.Equal(t, model.StateActive, sess.State())

	_, err = sess.AssignGuest(user.AssignGuestInput{DeviceID: "hr1", Name: "Alice", ProfileID: "alice"}, baseTime)
	require.NoError(t, err)
	sess.SetParticipantRoster(model.RosterInput{Roster: []user.RosterEntry{
		{UserID: "alice", DisplayName: "Alice", HRDeviceID: "hr1"},
	}})

	// First tick opens the coin interval; it cannot award yet.
	t1 := baseTime.Add(5 * time.Second)
	fake.Advance(5 * time.Second)
	_, err = sess.Ingest(ctx, hrFrame("hr1", 150, t1), t1)
	require.NoError(t, err)
	sess.tickOnce(ctx, t1)
	require.Equal(t, 0, sess.Summary().GlobalCoins)

	// Second tick, one full coin-time-unit later, awards the zone's coins.
	t2 := t1.Add(5 * time.Second)
	fake.Advance(5 * time.Second)
	_, err = sess.Ingest(ctx, hrFrame("hr1", 150, t2), t2)
	require.NoError(t, err)
	sess.tickOnce(ctx, t2)

	summary := sess.Summary()
	require.Len(t, summary.Participants, 1)
	require.Equal(t, "hot", summary.Participants[0].ZoneID)
	require.Equal(t, 5, summary.GlobalCoins)
}

func TestEndSessionPersistsExactlyOnce(t *testing.T) {
	var calls int
	persist := func(ctx context.Context, in model.PersistInput) error {
		calls++
		return nil
	}
	sess, _ := newHarness(t, persist)
	ctx := context.Background()

	_, err := sess.Ingest(ctx, hrFrame("hr1", 150, baseTime), baseTime)
	require.NoError(t, err)
	_, err = sess.Ingest(ctx, hrFrame("hr1", 150, baseTime), baseTime)
	require.NoError(t, err)

	summary, err := sess.EndSession(ctx, model.EndReasonExplicit, baseTime.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, model.StateIdle, sess.State())
	require.NotEmpty(t, summary.SessionID)
}

func TestGraceTransferMovesAccumulatedCoinsToNewOccupant(t *testing.T) {
	sess, fake := newHarness(t, nil)
	ctx := context.Background()

	_, err := sess.Ingest(ctx, hrFrame("hr1", 150, baseTime), baseTime)
	require.NoError(t, err)
	_, err = sess.Ingest(ctx, hrFrame("hr1", 150, baseTime), baseTime)
	require.NoError(t, err)

	_, err = sess.AssignGuest(user.AssignGuestInput{DeviceID: "hr1", Name: "Alice", ProfileID: "alice"}, baseTime)
	require.NoError(t, err)
	sess.SetParticipantRoster(model.RosterInput{Roster: []user.RosterEntry{
		{UserID: "alice", DisplayName: "Alice", HRDeviceID: "hr1"},
	}})

	t1 := baseTime.Add(5 * time.Second)
	fake.Advance(5 * time.Second)
	_, err = sess.Ingest(ctx, hrFrame("hr1", 150, t1), t1)
	require.NoError(t, err)
	sess.tickOnce(ctx, t1)

	t2 := t1.Add(5 * time.Second)
	fake.Advance(5 * time.Second)
	_, err = sess.Ingest(ctx, hrFrame("hr1", 150, t2), t2)
	require.NoError(t, err)
	sess.tickOnce(ctx, t2)

	before := sess.Summary()
	require.Equal(t, 5, before.GlobalCoins)

	reassignAt := t2.Add(10 * time.Second)
	_, err = sess.AssignGuest(user.AssignGuestInput{DeviceID: "hr1", Name: "Bob", ProfileID: "bob"}, reassignAt)
	require.NoError(t, err)
	sess.SetParticipantRoster(model.RosterInput{Roster: []user.RosterEntry{
		{UserID: "bob", DisplayName: "Bob", HRDeviceID: "hr1"},
	}})

	after := sess.Summary()
	require.Equal(t, 5, after.GlobalCoins, "coins should follow the occupant across the grace-period swap")

	historical := sess.GetHistoricalParticipants()
	for _, id := range historical {
		require.NotEqual(t, "alice", id, "transferred-away identity must not appear in historical participants")
	}
}

func TestGovernanceLocksMediaUntilZoneRequirementMet(t *testing.T) {
	sess, fake := newHarness(t, nil)
	ctx := context.Background()

	cfg := model.DefaultConfig()
	cfg.PreSessionThreshold = 2
	cfg.Zones = []zone.Definition{{ID: "hot", Name: "Hot", Min: 140, Color: "red", Coins: 5}}
	cfg.Governance = governance.Config{GovernedTypes: []string{"movie"}}
	cfg.GovernancePolicies = map[string]governance.Policy{
		"default": {ID: "default", MinParticipants: 1, BaseRequirement: []governance.Requirement{{ZoneID: "hot", Rule: "all"}}},
	}
	sess.Configure(cfg)

	_, err := sess.Ingest(ctx, hrFrame("hr1", 100, baseTime), baseTime)
	require.NoError(t, err)
	_, err = sess.Ingest(ctx, hrFrame("hr1", 100, baseTime), baseTime)
	require.NoError(t, err)

	_, err = sess.AssignGuest(user.AssignGuestInput{DeviceID: "hr1", Name: "Alice", ProfileID: "alice"}, baseTime)
	require.NoError(t, err)
	sess.SetParticipantRoster(model.RosterInput{Roster: []user.RosterEntry{
		{UserID: "alice", DisplayName: "Alice", HRDeviceID: "hr1"},
	}})
	sess.SetMedia(model.MediaInput{ID: "m1", Type: "movie"})

	next := baseTime.Add(5 * time.Second)
	fake.Advance(5 * time.Second)
	_, err = sess.Ingest(ctx, hrFrame("hr1", 100, next), next)
	require.NoError(t, err)
	sess.tickOnce(ctx, next)

	require.False(t, sess.Summary().Governance.SatisfiedOnce)

	hotAt := next.Add(5 * time.Second)
	fake.Advance(5 * time.Second)
	_, err = sess.Ingest(ctx, hrFrame("hr1", 150, hotAt), hotAt)
	require.NoError(t, err)
	sess.tickOnce(ctx, hotAt)

	settleAt := hotAt.Add(600 * time.Millisecond)
	_, err = sess.Ingest(ctx, hrFrame("hr1", 150, settleAt), settleAt)
	require.NoError(t, err)
	sess.tickOnce(ctx, settleAt)

	require.True(t, sess.Summary().Governance.SatisfiedOnce)
}
