// SPDX-License-Identifier: MIT

// Package telemetry provides OpenTelemetry tracing utilities for the
// session telemetry core.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"
	HTTPUserAgentKey  = "http.user_agent"

	// Session attributes
	SessionIDKey        = "session.id"
	SessionPhaseKey      = "session.phase"
	SessionParticipants = "session.participants"

	// Ingest attributes
	IngestDeviceIDKey   = "ingest.device_id"
	IngestDeviceTypeKey = "ingest.device_type"
	IngestRejectedKey   = "ingest.rejected"

	// Governance attributes
	GovernancePhaseKey      = "governance.phase"
	GovernancePolicyIDKey   = "governance.policy_id"
	GovernanceChallengeKey  = "governance.challenge_status"

	// Persistence attributes
	PersistBackendKey  = "persist.backend"
	PersistOutcomeKey  = "persist.outcome"
	PersistDurationKey = "persist.duration_ms"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SessionAttributes creates session-lifecycle span attributes.
func SessionAttributes(sessionID, phase string, participants int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SessionIDKey, sessionID),
		attribute.String(SessionPhaseKey, phase),
		attribute.Int(SessionParticipants, participants),
	}
}

// IngestAttributes creates ingest-path span attributes.
func IngestAttributes(deviceID, deviceType string, rejected bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(IngestDeviceIDKey, deviceID),
		attribute.String(IngestDeviceTypeKey, deviceType),
		attribute.Bool(IngestRejectedKey, rejected),
	}
}

// GovernanceAttributes creates governance-engine span attributes.
func GovernanceAttributes(phase, policyID, challengeStatus string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(GovernancePhaseKey, phase),
	}
	if policyID != "" {
		attrs = append(attrs, attribute.String(GovernancePolicyIDKey, policyID))
	}
	if challengeStatus != "" {
		attrs = append(attrs, attribute.String(GovernanceChallengeKey, challengeStatus))
	}
	return attrs
}

// PersistAttributes creates persistence-path span attributes.
func PersistAttributes(backend, outcome string, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(PersistBackendKey, backend),
		attribute.String(PersistOutcomeKey, outcome),
		attribute.Int64(PersistDurationKey, durationMS),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
