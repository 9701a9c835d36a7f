// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fcerr defines the typed error taxonomy shared by the core's
// external entry points. It mirrors the ManuGH session manager's
// ReasonCode/error-class pattern: a small closed set of kinds that the
// host process (and, ultimately, the API layer) can branch on, plus a
// wrapping type that preserves the underlying cause for logs.
package fcerr

import (
	"errors"
	"fmt"
)

// Kind is a closed taxonomy of error classes surfaced by the core.
// Never add a Kind without a corresponding entry in spec.md §7.
type Kind string

const (
	KindInvalidID          Kind = "invalid_id"
	KindInvalidPayload     Kind = "invalid_payload"
	KindSessionMissing     Kind = "session_missing"
	KindUserAlreadyAssigned Kind = "user_already_assigned"
	KindPersistValidation  Kind = "persist_validation_fail"
	KindIDMismatch         Kind = "id_mismatch"
	KindLedgerReconcile    Kind = "ledger_reconcile_warn"
	KindTimelineInvalidKey Kind = "timeline_tick_invalid_key"
)

// DomainError wraps an internal failure with a stable Kind/Code pair
// suitable for exposure through the {ok, code, message, data} envelope
// that external entry points return (spec.md §7).
type DomainError struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
	Data    map[string]any
}

func New(kind Kind, code, message string) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, cause error) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: message, Cause: cause}
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Cause }

// Is lets errors.Is match two DomainErrors by Kind+Code, which is how the
// core treats error identity (the message/cause may vary across calls).
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind && e.Code == other.Code
}

// WithData attaches structured data to the error, returning a shallow copy.
func (e *DomainError) WithData(data map[string]any) *DomainError {
	cp := *e
	cp.Data = data
	return &cp
}

// Envelope is the {ok, code, message, data} shape every external entry
// point (ingest, assignGuest, endSession, configure, ...) returns.
type Envelope struct {
	OK      bool           `json:"ok"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Ok builds a success envelope, optionally carrying a result payload.
func Ok(data map[string]any) Envelope {
	return Envelope{OK: true, Data: data}
}

// FromError converts a DomainError (or any error) into a failure envelope.
func FromError(err error) Envelope {
	var de *DomainError
	if errors.As(err, &de) {
		return Envelope{OK: false, Code: de.Code, Message: de.Message, Data: de.Data}
	}
	return Envelope{OK: false, Code: "internal_error", Message: err.Error()}
}
