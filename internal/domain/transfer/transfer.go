// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transfer implements the Grace-Period Transfer Service
// (spec.md §4.9, invariant I5): on a device reassignment within the grace
// window, it migrates an identity's state across TreasureBox, Timeline,
// ActivityMonitor, and cumulative counters as a single observable unit.
package transfer

import (
	"time"

	"github.com/fitcore/fitcore/internal/domain/activity"
	"github.com/fitcore/fitcore/internal/domain/timeline"
	"github.com/fitcore/fitcore/internal/domain/treasurebox"
	"github.com/fitcore/fitcore/internal/log"
	"github.com/fitcore/fitcore/internal/metrics"
)

// Service coordinates a grace-period identity transfer across the four
// state planes named in invariant I5.
type Service struct {
	activityMonitor *activity.Monitor
	treasureBox     *treasurebox.Box
	timeline        *timeline.Timeline

	gracePeriod time.Duration

	transferredUsers map[string]struct{}
	entityStart      map[string]time.Time
}

// NewService builds a transfer service bound to the session's live state.
func NewService(am *activity.Monitor, tb *treasurebox.Box, tl *timeline.Timeline, gracePeriod time.Duration) *Service {
	return &Service{
		activityMonitor:  am,
		treasureBox:      tb,
		timeline:         tl,
		gracePeriod:      gracePeriod,
		transferredUsers: map[string]struct{}{},
		entityStart:      map[string]time.Time{},
	}
}

// NoteEntityStart records when an entity began occupying a device, so a
// later reassignment can determine whether it falls inside the grace
// window.
func (s *Service) NoteEntityStart(entityID string, start time.Time) {
	s.entityStart[entityID] = start
}

// WithinGrace reports whether entityID's occupancy started within the
// configured grace period, as of now.
func (s *Service) WithinGrace(entityID string, now time.Time) bool {
	start, ok := s.entityStart[entityID]
	if !ok {
		return false
	}
	return now.Sub(start) <= s.gracePeriod
}

// Transfer atomically migrates fromID's state onto toID across all four
// planes. The caller must already have made toID's identity known to the
// collaborators it needs (e.g. the ledger reassignment happens before
// this call); Transfer itself never touches the ledger.
func (s *Service) Transfer(fromID, toID string, now time.Time) {
	s.activityMonitor.TransferActivity(fromID, toID)
	s.treasureBox.TransferAccumulator(fromID, toID)
	s.timeline.TransferUserSeries(fromID, toID)
	s.timeline.TransferEntitySeries(fromID, toID)

	s.timeline.LogEvent("GRACE_PERIOD_TRANSFER", map[string]any{
		"from": fromID,
		"to":   toID,
	}, now, now)

	s.transferredUsers[fromID] = struct{}{}
	delete(s.entityStart, fromID)

	metrics.IncGraceTransfer("applied")
	log.WithComponent("transfer").Info().
		Str("from", fromID).
		Str("to", toID).
		Msg("grace-period transfer applied")
}

// TransferredUsers returns the set of source identities that have ever
// been transferred away, used to exclude them from the historical
// participants view.
func (s *Service) TransferredUsers() map[string]struct{} {
	out := make(map[string]struct{}, len(s.transferredUsers))
	for id := range s.transferredUsers {
		out[id] = struct{}{}
	}
	return out
}

// Reset clears all transfer bookkeeping for a new session.
func (s *Service) Reset() {
	s.transferredUsers = map[string]struct{}{}
	s.entityStart = map[string]time.Time{}
}
