// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID       = "session_id"
	FieldCorrelationID   = "correlation_id"
	FieldRequestID       = "request_id"
	FieldClientRequestID = "client_request_id"
	FieldJobID           = "job_id"
	FieldTimerID         = "timer_id"
	FieldEntityID        = "entity_id"
	FieldDeviceID        = "device_id"
	FieldUserID          = "user_id"
	FieldProfileID       = "profile_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldTickIndex = "tick_index"

	// Telemetry domain fields
	FieldZoneID     = "zone_id"
	FieldZoneColor  = "zone_color"
	FieldHeartRate  = "heart_rate"
	FieldCoins      = "coins"
	FieldPolicyID   = "policy_id"
	FieldChallenge  = "challenge_id"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldPhase    = "phase"
	FieldReason   = "reason"
)
