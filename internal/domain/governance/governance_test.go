// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package governance

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func rankTable(ranks map[string]int) func(string) int {
	return func(zoneID string) int {
		if r, ok := ranks[zoneID]; ok {
			return r
		}
		return -1
	}
}

func governedMedia() *Media {
	return &Media{ID: "m1", Type: "movie", Labels: []string{"exercise-required"}}
}

func basicConfig() Config {
	return Config{GovernedLabels: []string{"exercise-required"}, GracePeriodSeconds: 30}
}

func majorityPolicy() Policy {
	return Policy{
		ID:              "p1",
		MinParticipants: 1,
		BaseRequirement: []Requirement{{ZoneID: "active", Rule: "majority"}},
	}
}

func TestUngovernedMediaGoesIdle(t *testing.T) {
	e := NewEngine()
	e.Configure(basicConfig(), map[string]Policy{"p1": majorityPolicy()})
	e.SetMedia(&Media{ID: "x", Type: "clip"})

	snap := e.Evaluate(baseTime, nil, rankTable(nil))
	require.Equal(t, PhaseIdle, snap.Phase)
}

func TestNoActiveParticipantsYieldsPendingWithoutClearingSatisfiedOnce(t *testing.T) {
	e := NewEngine()
	e.Configure(basicConfig(), map[string]Policy{"p1": majorityPolicy()})
	e.SetMedia(governedMedia())
	e.satisfiedOnce = true

	snap := e.Evaluate(baseTime, []Participant{{ID: "u1", Active: false}}, rankTable(nil))
	require.Equal(t, PhasePending, snap.Phase)
	require.True(t, snap.SatisfiedOnce)
}

func TestNoActiveParticipantsStillPopulatesRequirementShell(t *testing.T) {
	e := NewEngine()
	e.Configure(basicConfig(), map[string]Policy{"p1": majorityPolicy()})
	e.SetMedia(governedMedia())

	snap := e.Evaluate(baseTime, []Participant{{ID: "u1", Active: false}}, rankTable(nil))
	require.Len(t, snap.Requirements, 1)
	require.Equal(t, "active", snap.Requirements[0].ZoneID)
	require.Equal(t, -1, snap.Requirements[0].RequiredCount)
	require.Empty(t, snap.Requirements[0].MissingUsers)
	require.False(t, snap.Requirements[0].Satisfied)
}

func TestRandomSelectionConsumesTheWeightedBagExactly(t *testing.T) {
	cfg := ChallengeConfig{
		MinIntervalSec: 10,
		MaxIntervalSec: 20,
		SelectionType:  "random",
		Selections: []Selection{
			{Zone: "warm", Rule: "any", TimeAllowedSec: 30, Weight: 3, Label: "a"},
			{Zone: "hot", Rule: "any", TimeAllowedSec: 30, Weight: 1, Label: "b"},
		},
	}

	e := NewEngine()
	e.SetRand(rand.New(rand.NewSource(7)))

	counts := map[string]int{}
	for i := 0; i < 8; i++ { // two full bags of 4 (weight 3 + weight 1)
		counts[e.pickSelection("p1", cfg).Label]++
	}
	require.Equal(t, 6, counts["a"])
	require.Equal(t, 2, counts["b"])
}

func TestRandomSelectionIsSeededAndReproducible(t *testing.T) {
	cfg := ChallengeConfig{
		MinIntervalSec: 10,
		MaxIntervalSec: 20,
		SelectionType:  "random",
		Selections: []Selection{
			{Zone: "warm", Rule: "any", TimeAllowedSec: 30, Weight: 1, Label: "a"},
			{Zone: "hot", Rule: "any", TimeAllowedSec: 30, Weight: 1, Label: "b"},
		},
	}

	e1 := NewEngine()
	e1.SetRand(rand.New(rand.NewSource(1)))
	e2 := NewEngine()
	e2.SetRand(rand.New(rand.NewSource(1)))

	for i := 0; i < 10; i++ {
		require.Equal(t, e1.pickSelection("p1", cfg).Label, e2.pickSelection("p1", cfg).Label,
			"the same seed must reproduce the same draw sequence")
	}
}

func TestScheduleNextChallengeDrawsWithinRange(t *testing.T) {
	e := NewEngine()
	e.SetRand(rand.New(rand.NewSource(42)))
	policy := Policy{Challenges: []ChallengeConfig{{MinIntervalSec: 10, MaxIntervalSec: 15}}}

	for i := 0; i < 20; i++ {
		e.scheduleNextChallenge(baseTime, policy)
		require.NotNil(t, e.nextChallengeAt)
		delta := e.nextChallengeAt.Sub(baseTime)
		require.GreaterOrEqual(t, delta, 10*time.Second)
		require.LessOrEqual(t, delta, 15*time.Second)
	}
}

func TestHysteresisDelaysUnlockUntilHeldFor500ms(t *testing.T) {
	e := NewEngine()
	e.Configure(basicConfig(), map[string]Policy{"p1": majorityPolicy()})
	e.SetMedia(governedMedia())

	ranks := rankTable(map[string]int{"active": 1})
	participants := []Participant{{ID: "u1", Active: true, HasZone: true, ZoneRank: 1}}

	snap := e.Evaluate(baseTime, participants, ranks)
	require.NotEqual(t, PhaseUnlocked, snap.Phase)
	require.False(t, snap.SatisfiedOnce)

	snap = e.Evaluate(baseTime.Add(300*time.Millisecond), participants, ranks)
	require.NotEqual(t, PhaseUnlocked, snap.Phase, "held for only 300ms, below the 500ms hysteresis")

	snap = e.Evaluate(baseTime.Add(600*time.Millisecond), participants, ranks)
	require.Equal(t, PhaseUnlocked, snap.Phase)
	require.True(t, snap.SatisfiedOnce)
}

func TestGraceWindowTransitionsToLockedAfterDeadline(t *testing.T) {
	e := NewEngine()
	e.Configure(Config{GovernedLabels: []string{"exercise-required"}, GracePeriodSeconds: 30}, map[string]Policy{"p1": majorityPolicy()})
	e.SetMedia(governedMedia())

	ranks := rankTable(map[string]int{"active": 1})
	met := []Participant{{ID: "u1", Active: true, HasZone: true, ZoneRank: 1}}
	unmet := []Participant{{ID: "u1", Active: true, HasZone: true, ZoneRank: 0}}

	e.Evaluate(baseTime, met, ranks)
	e.Evaluate(baseTime.Add(600*time.Millisecond), met, ranks)
	require.True(t, e.satisfiedOnce)

	snap := e.Evaluate(baseTime.Add(700*time.Millisecond), unmet, ranks)
	require.Equal(t, PhaseWarning, snap.Phase)
	require.NotNil(t, snap.Deadline)

	snap = e.Evaluate(baseTime.Add(31*time.Second), unmet, ranks)
	require.Equal(t, PhaseLocked, snap.Phase)
}

func TestPauseResumePreservesRemainingTime(t *testing.T) {
	e := NewEngine()
	e.Configure(Config{GovernedLabels: []string{"exercise-required"}, GracePeriodSeconds: 30}, map[string]Policy{"p1": majorityPolicy()})
	e.SetMedia(governedMedia())

	ranks := rankTable(map[string]int{"active": 1})
	met := []Participant{{ID: "u1", Active: true, HasZone: true, ZoneRank: 1}}
	unmet := []Participant{{ID: "u1", Active: true, HasZone: true, ZoneRank: 0}}

	e.Evaluate(baseTime, met, ranks)
	e.Evaluate(baseTime.Add(600*time.Millisecond), met, ranks)
	e.Evaluate(baseTime.Add(700*time.Millisecond), unmet, ranks)
	require.Equal(t, PhaseWarning, e.phase)

	e.Pause(baseTime.Add(5 * time.Second))
	require.Nil(t, e.deadline)

	e.Resume(baseTime.Add(20 * time.Second))
	require.NotNil(t, e.deadline)
}

func TestNormalizeRequiredCountRules(t *testing.T) {
	require.Equal(t, 10, normalizeRequiredCount("all", 10))
	require.Equal(t, 5, normalizeRequiredCount("majority", 10))
	require.Equal(t, 3, normalizeRequiredCount("some", 10))
	require.Equal(t, 1, normalizeRequiredCount("any", 10))
	require.Equal(t, 7, normalizeRequiredCount("7", 10))
	require.Equal(t, 10, normalizeRequiredCount("999", 10))
}
