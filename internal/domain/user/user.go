// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package user implements the UserRegistry and DeviceAssignmentLedger
// (spec.md §4.2): the roster of known participants plus the authoritative
// device-id -> occupant mapping, including the SessionEntity lifecycle
// minted on every (re)assignment.
package user

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fitcore/fitcore/internal/fcerr"
	"github.com/fitcore/fitcore/internal/log"
)

// Zone override reused from the config layer at the boundary; kept as a
// plain struct here to avoid an import cycle with internal/domain/zone.
type ZoneOverride struct {
	ZoneIDOrName string
	Threshold    int
}

// RosterEntry is one known participant (spec.md's User entity).
type RosterEntry struct {
	UserID      string
	DisplayName string
	GroupLabel  string
	HRDeviceID  string
	ZoneOverrides []ZoneOverride
	Source      string // "roster" | "guest"
}

// LedgerEntry is the authoritative device -> occupant mapping
// (spec.md §3 LedgerEntry entity).
type LedgerEntry struct {
	DeviceID          string
	OccupantID        string
	OccupantName      string
	EntityID          string
	BaseUserName      string
	ZoneOverrides     []ZoneOverride
	UpdatedAt         time.Time
	AllowWhileAssigned bool
}

// EntityStatus is the lifecycle state of a SessionEntity.
type EntityStatus string

const (
	EntityActive      EntityStatus = "active"
	EntityEnded       EntityStatus = "ended"
	EntityDropped     EntityStatus = "dropped"
	EntityTransferred EntityStatus = "transferred"
)

// SessionEntity is one continuous stint of a profile on a device
// (spec.md's SessionEntity entity).
type SessionEntity struct {
	EntityID      string
	ProfileID     string
	Name          string
	DeviceID      string
	StartTime     time.Time
	Status        EntityStatus
	Coins         int
	TransferredTo string
}

// Registry is the UserRegistry + DeviceAssignmentLedger.
type Registry struct {
	roster   map[string]*RosterEntry
	byDevice map[string]string // hrDeviceId -> userId, derived from roster
	ledger   map[string]*LedgerEntry
	entities map[string]*SessionEntity
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		roster:   map[string]*RosterEntry{},
		byDevice: map[string]string{},
		ledger:   map[string]*LedgerEntry{},
		entities: map[string]*SessionEntity{},
	}
}

// SetRoster replaces the known-participant roster wholesale.
func (r *Registry) SetRoster(entries []RosterEntry) {
	roster := make(map[string]*RosterEntry, len(entries))
	byDevice := make(map[string]string, len(entries))
	for i := range entries {
		e := entries[i]
		roster[e.UserID] = &e
		if e.HRDeviceID != "" {
			byDevice[e.HRDeviceID] = e.UserID
		}
	}
	r.roster = roster
	r.byDevice = byDevice
}

// RosterSize reports how many participants are currently known, used by
// the session orchestrator's empty-roster timeout (spec.md §4.7).
func (r *Registry) RosterSize() int { return len(r.roster) }

// Roster returns every known participant.
func (r *Registry) Roster() []RosterEntry {
	out := make([]RosterEntry, 0, len(r.roster))
	for _, e := range r.roster {
		out = append(out, *e)
	}
	return out
}

// ResolveUserForDevice checks the ledger first, then falls back to a
// roster entry whose hrDeviceId matches (spec.md §4.2).
func (r *Registry) ResolveUserForDevice(deviceID string) (userID string, entityID string, ok bool) {
	if entry, ok := r.ledger[deviceID]; ok {
		return entry.OccupantID, entry.EntityID, true
	}
	if uid, ok := r.byDevice[deviceID]; ok {
		return uid, "", true
	}
	return "", "", false
}

// checkUniqueness enforces I3: among ledger entries sharing occupantID, at
// most one may have AllowWhileAssigned == false.
func (r *Registry) checkUniqueness(occupantID, excludeDevice string, allowWhileAssigned bool) error {
	if allowWhileAssigned {
		return nil
	}
	for devID, e := range r.ledger {
		if devID == excludeDevice {
			continue
		}
		if e.OccupantID == occupantID && !e.AllowWhileAssigned {
			return fcerr.New(fcerr.KindUserAlreadyAssigned, "E_USER_ALREADY_ASSIGNED",
				fmt.Sprintf("occupant %q already occupies device %q", occupantID, devID))
		}
	}
	return nil
}

// AssignGuestInput carries an assignGuest call's payload (spec.md §6).
type AssignGuestInput struct {
	DeviceID           string
	Name               string
	ProfileID          string
	BaseUserName       string
	ZoneOverrides      []ZoneOverride
	AllowWhileAssigned bool
}

// Assign installs (or replaces) a ledger entry for a device, minting a new
// SessionEntity. It enforces I3 uniqueness before mutating any state.
func (r *Registry) Assign(in AssignGuestInput, now time.Time) (*SessionEntity, error) {
	if in.DeviceID == "" {
		return nil, fcerr.New(fcerr.KindInvalidID, "E_INVALID_DEVICE", "device id must not be empty")
	}
	if in.ProfileID == "" {
		return nil, fcerr.New(fcerr.KindInvalidPayload, "E_INVALID_PAYLOAD", "profileId must not be empty")
	}
	if err := r.checkUniqueness(in.ProfileID, in.DeviceID, in.AllowWhileAssigned); err != nil {
		return nil, err
	}

	entityID := in.ProfileID + "-" + uuid.NewString()[:8]
	entry := &LedgerEntry{
		DeviceID:           in.DeviceID,
		OccupantID:         in.ProfileID,
		OccupantName:       in.Name,
		EntityID:           entityID,
		BaseUserName:       in.BaseUserName,
		ZoneOverrides:      in.ZoneOverrides,
		UpdatedAt:          now,
		AllowWhileAssigned: in.AllowWhileAssigned,
	}
	r.ledger[in.DeviceID] = entry

	ent := &SessionEntity{
		EntityID:  entityID,
		ProfileID: in.ProfileID,
		Name:      in.Name,
		DeviceID:  in.DeviceID,
		StartTime: now,
		Status:    EntityActive,
	}
	r.entities[entityID] = ent

	log.WithComponent("ledger").Info().
		Str(log.FieldDeviceID, in.DeviceID).
		Str(log.FieldProfileID, in.ProfileID).
		Str(log.FieldEntityID, entityID).
		Msg("device assigned")

	return ent, nil
}

// Get returns the current ledger entry for a device.
func (r *Registry) Get(deviceID string) (*LedgerEntry, bool) {
	e, ok := r.ledger[deviceID]
	return e, ok
}

// Entity returns a SessionEntity by id.
func (r *Registry) Entity(entityID string) (*SessionEntity, bool) {
	e, ok := r.entities[entityID]
	return e, ok
}

// Entities returns every known SessionEntity (active and historical).
func (r *Registry) Entities() []*SessionEntity {
	out := make([]*SessionEntity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	return out
}

// Clear removes a ledger entry, ending its SessionEntity.
func (r *Registry) Clear(deviceID string) {
	entry, ok := r.ledger[deviceID]
	if !ok {
		return
	}
	delete(r.ledger, deviceID)
	if ent, ok := r.entities[entry.EntityID]; ok && ent.Status == EntityActive {
		ent.Status = EntityEnded
	}
}

// logMismatch logs the two structured mismatch conditions spec.md §4.2
// names explicitly.
func (r *Registry) logMismatch(code, deviceID, resolvedUser, ledgerUser string) {
	log.WithComponent("ledger").Warn().
		Str("code", code).
		Str(log.FieldDeviceID, deviceID).
		Str("resolved_user", resolvedUser).
		Str("ledger_user", ledgerUser).
		Msg("ledger mismatch detected")
}

// CheckConsistency compares a resolved user against the ledger's recorded
// occupant and logs LEDGER_DEVICE_MISMATCH / LEDGER_DEVICE_MISSING_USER
// when they disagree, without mutating any state (spec.md §4.2).
func (r *Registry) CheckConsistency(deviceID, resolvedUser string) {
	entry, ok := r.ledger[deviceID]
	if !ok {
		return
	}
	if _, known := r.roster[resolvedUser]; !known && resolvedUser != "" {
		r.logMismatch("LEDGER_DEVICE_MISSING_USER", deviceID, resolvedUser, entry.OccupantID)
		return
	}
	if resolvedUser != "" && resolvedUser != entry.OccupantID {
		r.logMismatch("LEDGER_DEVICE_MISMATCH", deviceID, resolvedUser, entry.OccupantID)
	}
}

// CleanupOrphanGuests drops ledger entries whose bound user no longer
// exists or whose bound device-id no longer matches the user's
// hrDeviceId (spec.md §4.2).
func (r *Registry) CleanupOrphanGuests() (removed []string) {
	for deviceID, entry := range r.ledger {
		roster, known := r.roster[entry.OccupantID]
		if !known {
			removed = append(removed, deviceID)
			r.Clear(deviceID)
			continue
		}
		if roster.HRDeviceID != "" && roster.HRDeviceID != deviceID {
			removed = append(removed, deviceID)
			r.Clear(deviceID)
		}
	}
	return removed
}

// ReconcileFinding describes one inconsistency surfaced by Reconcile.
type ReconcileFinding struct {
	Kind     string // "missing-user" | "device-mismatch" | "device-missing"
	DeviceID string
	Detail   string
}

// ReconcileAssignments returns findings without mutating any state
// (spec.md §4.2).
func (r *Registry) ReconcileAssignments() []ReconcileFinding {
	var findings []ReconcileFinding
	for deviceID, entry := range r.ledger {
		if _, known := r.roster[entry.OccupantID]; !known {
			findings = append(findings, ReconcileFinding{Kind: "missing-user", DeviceID: deviceID, Detail: entry.OccupantID})
			continue
		}
		roster := r.roster[entry.OccupantID]
		if roster.HRDeviceID != "" && roster.HRDeviceID != deviceID {
			findings = append(findings, ReconcileFinding{Kind: "device-mismatch", DeviceID: deviceID, Detail: roster.HRDeviceID})
		}
	}
	for uid, roster := range r.roster {
		if roster.HRDeviceID == "" {
			continue
		}
		if _, ok := r.ledger[roster.HRDeviceID]; !ok {
			findings = append(findings, ReconcileFinding{Kind: "device-missing", DeviceID: roster.HRDeviceID, Detail: uid})
		}
	}
	return findings
}
