// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the FitnessSession orchestrator's lifecycle states,
// configuration, and the DTOs exchanged across its external method
// surface (spec.md §4.7, §6).
package model

import (
	"time"

	"github.com/fitcore/fitcore/internal/domain/governance"
	"github.com/fitcore/fitcore/internal/domain/timeline"
	"github.com/fitcore/fitcore/internal/domain/treasurebox"
	"github.com/fitcore/fitcore/internal/domain/user"
	"github.com/fitcore/fitcore/internal/domain/zone"
)

// State is the orchestrator's client-visible lifecycle (spec.md §4.7).
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateEnded    State = "ended"
)

// Event drives the orchestrator's fsm.Machine transitions.
type Event string

const (
	EventBufferThresholdReached Event = "buffer_threshold_reached"
	EventActivated              Event = "activated"
	EventTimeout                Event = "timeout"
	EventExplicitEnd            Event = "explicit_end"
	EventReset                  Event = "reset"
)

// EndReason explains why a session ended (spec.md §4.7).
type EndReason string

const (
	EndReasonNoActivity  EndReason = "no_activity"
	EndReasonEmptyRoster EndReason = "empty_roster"
	EndReasonExplicit    EndReason = "explicit"
)

// DeviceThresholds configures the DeviceRegistry's inactivity ramp.
type DeviceThresholds struct {
	InactiveMs int64
	RemoveMs   int64
	RPMZeroMs  int64
}

// Config is the orchestrator's full tunable surface (spec.md §4.7, §6
// `configure`).
type Config struct {
	TickIntervalMs      int64
	AutosaveIntervalMs  int64
	PreSessionThreshold int
	RemoveMs            int64 // no activity at all -> end session
	EmptySessionMs      int64 // roster empty -> end session
	CoinTimeUnitMs      int64
	GracePeriodTransfer time.Duration
	Timezone            string
	DeviceThresholds    DeviceThresholds
	Zones               []zone.Definition
	ZoneOverrides       map[string][]zone.Override
	Governance          governance.Config
	GovernancePolicies  map[string]governance.Policy
}

// DefaultConfig mirrors spec.md's stated defaults.
func DefaultConfig() Config {
	return Config{
		TickIntervalMs:      5000,
		AutosaveIntervalMs:  15000,
		PreSessionThreshold: 3,
		RemoveMs:            60000,
		EmptySessionMs:      60000,
		CoinTimeUnitMs:      5000,
		GracePeriodTransfer: 60 * time.Second,
		Timezone:            "UTC",
		DeviceThresholds: DeviceThresholds{
			InactiveMs: 30000,
			RemoveMs:   120000,
			RPMZeroMs:  5000,
		},
	}
}

// RosterInput is spec.md §6's `setParticipantRoster` payload.
type RosterInput struct {
	Roster            []user.RosterEntry
	DeviceAssignments map[string]string // deviceId -> userId, informational
}

// MediaInput is spec.md §6's `setMedia` payload.
type MediaInput struct {
	ID     string
	Type   string
	Labels []string
}

// ParticipantSummary is one row of the external `summary()` surface.
type ParticipantSummary struct {
	UserID      string
	EntityID    string
	DisplayName string
	HeartRate   int
	ZoneID      string
	CoinsTotal  int
	Active      bool
}

// Summary is the orchestrator's external read-model (spec.md §6 "summary").
type Summary struct {
	SessionID    string               `json:"sessionId"`
	State        State                `json:"state"`
	StartTime    time.Time            `json:"startTime"`
	TickCount    int                  `json:"tickCount"`
	Participants []ParticipantSummary `json:"participants"`
	GlobalCoins  int                  `json:"globalCoins"`
	Governance   governance.Snapshot  `json:"governance"`
}

// PersistInput is everything the persistence codec needs to build a
// session's v2 payload (spec.md §6). It carries no storage-backend
// concerns; redis/badger each turn the encoded bytes into a write.
type PersistInput struct {
	SessionID         string
	Timezone          string
	StartTime         time.Time
	EndTime           time.Time
	EndReason         EndReason
	TickCount         int
	Roster            []user.RosterEntry
	Entities          []*user.SessionEntity
	TreasureBox       treasurebox.Summary
	Timeline          timeline.Summary
}
