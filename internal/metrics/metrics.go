// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics collection for the session
// telemetry core. Counters/gauges are incidental to the domain (the core
// never imports an HTTP exporter itself) but are incremented inline the
// way the teacher's internal/metrics package always does.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitcore",
		Name:      "ticks_processed_total",
		Help:      "Total number of tick pipeline invocations.",
	}, []string{"session_id"})

	coinsAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitcore",
		Name:      "coins_awarded_total",
		Help:      "Total coins awarded per zone color.",
	}, []string{"color"})

	devicesPruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitcore",
		Name:      "devices_pruned_total",
		Help:      "Total devices removed by the registry's inactivity ramp.",
	}, []string{"reason"})

	ledgerReassignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitcore",
		Name:      "ledger_reassignments_total",
		Help:      "Total device-to-occupant ledger reassignments.",
	}, []string{"outcome"})

	graceTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitcore",
		Name:      "grace_transfers_total",
		Help:      "Total grace-period session-entity transfers.",
	}, []string{"outcome"})

	governancePhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitcore",
		Name:      "governance_phase_transitions_total",
		Help:      "Governance phase transitions by from/to state.",
	}, []string{"from", "to"})

	governancePhase = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitcore",
		Name:      "governance_phase",
		Help:      "Current governance phase as an enumerated value (0=idle,1=pending,2=unlocked,3=warning,4=locked).",
	})

	challengeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitcore",
		Name:      "challenge_outcomes_total",
		Help:      "Challenge sub-machine outcomes.",
	}, []string{"outcome"})

	persistenceOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitcore",
		Name:      "persistence_outcomes_total",
		Help:      "Session persistence validation outcomes.",
	}, []string{"outcome"})

	activeParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitcore",
		Name:      "active_participants",
		Help:      "Number of participants active in the current tick.",
	})

	busDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitcore",
		Name:      "eventbus_dropped_total",
		Help:      "Total in-process event bus publishes dropped by reason.",
	}, []string{"topic", "reason"})
)

func IncTicksProcessed(sessionID string) { ticksProcessed.WithLabelValues(sessionID).Inc() }

func AddCoinsAwarded(color string, n int) { coinsAwarded.WithLabelValues(color).Add(float64(n)) }

func IncDevicesPruned(reason string) { devicesPruned.WithLabelValues(reason).Inc() }

func IncLedgerReassignment(outcome string) { ledgerReassignments.WithLabelValues(outcome).Inc() }

func IncGraceTransfer(outcome string) { graceTransfers.WithLabelValues(outcome).Inc() }

func IncGovernanceTransition(from, to string) {
	governancePhaseTransitions.WithLabelValues(from, to).Inc()
}

// SetGovernancePhase records the current phase as an ordinal for dashboards.
func SetGovernancePhase(ordinal int) { governancePhase.Set(float64(ordinal)) }

func IncChallengeOutcome(outcome string) { challengeOutcomes.WithLabelValues(outcome).Inc() }

func IncPersistenceOutcome(outcome string) { persistenceOutcomes.WithLabelValues(outcome).Inc() }

func SetActiveParticipants(n int) { activeParticipants.Set(float64(n)) }

func IncBusDropped(topic, reason string) { busDropped.WithLabelValues(topic, reason).Inc() }
