// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package device implements the DeviceRegistry (spec.md §4.1): one record
// per physical sensor, normalizing raw sensor frames into typed metric
// samples and tracking the inactivity ramp that ultimately removes a
// device from the roster.
package device

import (
	"regexp"
	"strings"
	"time"

	"github.com/fitcore/fitcore/internal/fcerr"
)

// Type classifies the dominant signal a device reports.
type Type string

const (
	TypeHeartRate Type = "heart_rate"
	TypeCadence   Type = "cadence"
	TypePower     Type = "power"
	TypeSpeed     Type = "speed"
	TypeUnknown   Type = "unknown"
)

// Frame is a raw sensor payload as received over the wire (spec.md §6).
type Frame struct {
	DeviceID  string
	Profile   string
	Data      map[string]float64
	Timestamp time.Time
}

// Record is one DeviceRegistry entry (spec.md §3 Device entity).
type Record struct {
	ID      string
	Type    Type
	Profile string

	HeartRate int
	Cadence   float64
	Power     float64
	Speed     float64
	Distance  float64
	Battery   float64

	LastSeen               time.Time
	LastSignificantActivity time.Time
	InactiveSince          *time.Time
	RemovalAt              *time.Time

	// JustCreated is true only on the registerOrUpdate call that created
	// the record, so the orchestrator can reset any cumulative counters
	// bound to this device.
	JustCreated bool

	// LastOccupantID is an informational cache of the ledger's last
	// resolved occupant, for diagnostics only.
	LastOccupantID string
}

// Thresholds configures the inactivity ramp (spec.md §4.1).
type Thresholds struct {
	Inactive time.Duration
	Remove   time.Duration
	RPMZero  time.Duration
}

var slugPattern = regexp.MustCompile(`[^a-z0-9_-]+`)

func normalizeID(raw string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(raw))
	id = slugPattern.ReplaceAllString(id, "-")
	id = strings.Trim(id, "-")
	if id == "" {
		return "", fcerr.New(fcerr.KindInvalidID, "E_INVALID_DEVICE_ID", "device id must not be empty")
	}
	return id, nil
}

// Registry holds one Record per physical sensor.
type Registry struct {
	records map[string]*Record
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: map[string]*Record{}}
}

func isCadenceLike(t Type) bool {
	return t == TypeCadence || t == TypePower || t == TypeSpeed
}

func significant(v float64) bool { return v > 0 }

// RegisterOrUpdate maps a raw frame into the registry, slug-normalizing the
// device id, mapping well-known fields additively, and refreshing the
// activity timestamps (spec.md §4.1).
func (r *Registry) RegisterOrUpdate(f Frame, now time.Time) (*Record, error) {
	id, err := normalizeID(f.DeviceID)
	if err != nil {
		return nil, err
	}

	rec, ok := r.records[id]
	justCreated := false
	if !ok {
		rec = &Record{ID: id, Type: TypeUnknown, LastSignificantActivity: now}
		r.records[id] = rec
		justCreated = true
	}
	rec.JustCreated = justCreated
	if f.Profile != "" {
		rec.Profile = f.Profile
	}

	sawActivity := false

	if hr, ok := numeric(f.Data, "ComputedHeartRate", "heartRate", "heart_rate"); ok {
		rec.HeartRate = int(hr)
		rec.Type = TypeHeartRate
		if significant(hr) {
			sawActivity = true
		}
	}
	if cad, ok := numeric(f.Data, "CalculatedCadence"); ok {
		rec.Cadence = cad
		if significant(cad) {
			sawActivity = true
		}
	}
	if pw, ok := numeric(f.Data, "InstantaneousPower"); ok {
		rec.Power = pw
		rec.Type = TypePower
		if significant(pw) {
			sawActivity = true
		}
	}
	if _, ok := numeric(f.Data, "CumulativeCadenceRevolutionCount"); ok {
		// Revolution counter presence alone is not a metric value; cadence
		// itself already carries the significant-activity signal above.
	}
	if batt, ok := numeric(f.Data, "BatteryLevel"); ok {
		rec.Battery = batt
	}
	if speed, ok := numeric(f.Data, "speed", "Speed"); ok {
		rec.Speed = speed
		if significant(speed) {
			sawActivity = true
		}
	}
	if dist, ok := numeric(f.Data, "distance", "Distance"); ok {
		rec.Distance = dist
	}

	rec.LastSeen = now
	if sawActivity {
		rec.LastSignificantActivity = now
	}

	// Coasting: a cadence-like device with stale significant activity
	// displays zeroed dynamic metrics even though lastSeen is fresh.
	if isCadenceLike(rec.Type) && now.Sub(rec.LastSignificantActivity) > 0 {
		// handled by caller-facing getters; raw fields stay as last
		// reported so Display() can apply the coasting rule uniformly.
	}

	return rec, nil
}

func numeric(data map[string]float64, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := data[k]; ok {
			return v, true
		}
	}
	return 0, false
}

// Get returns the record for a device id, if present.
func (r *Registry) Get(id string) (*Record, bool) {
	rec, ok := r.records[id]
	return rec, ok
}

// All returns every tracked record.
func (r *Registry) All() []*Record {
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}

// Display computes the coasting-adjusted view of a cadence-like device's
// dynamic metrics: forced to zero when the device has gone quiet for
// longer than rpmZero even though lastSeen is still fresh (spec.md §4.1).
func Display(rec *Record, now time.Time, rpmZero time.Duration) (cadence, power, speed float64) {
	if isCadenceLike(rec.Type) && now.Sub(rec.LastSignificantActivity) > rpmZero {
		return 0, 0, 0
	}
	return rec.Cadence, rec.Power, rec.Speed
}

// Prune advances the inactivity ramp for every record and deletes any
// record past its removal deadline, returning the removed ids.
func (r *Registry) Prune(now time.Time, th Thresholds) []string {
	var removed []string
	for id, rec := range r.records {
		timeSinceActivity := now.Sub(rec.LastSeen)
		if isCadenceLike(rec.Type) {
			timeSinceActivity = now.Sub(rec.LastSignificantActivity)
		}

		switch {
		case timeSinceActivity > th.Remove:
			removed = append(removed, id)
			delete(r.records, id)
			continue
		case timeSinceActivity > th.Inactive:
			if rec.InactiveSince == nil {
				ts := now
				rec.InactiveSince = &ts
				removeAt := now.Add(th.Remove - th.Inactive)
				rec.RemovalAt = &removeAt
			}
		default:
			rec.InactiveSince = nil
			rec.RemovalAt = nil
		}
	}
	return removed
}

// IsInactive reports whether the record currently carries the inactive
// flag set by Prune.
func (rec *Record) IsInactive() bool {
	return rec != nil && rec.InactiveSince != nil
}

// Assign records which occupant currently sits on a device, for
// diagnostics only — the ledger (package user) remains authoritative.
func (r *Registry) Assign(deviceID, occupantID string) {
	if rec, ok := r.records[deviceID]; ok {
		rec.LastOccupantID = occupantID
	}
}

// Unassign clears the diagnostic occupant cache for a device.
func (r *Registry) Unassign(deviceID string) {
	if rec, ok := r.records[deviceID]; ok {
		rec.LastOccupantID = ""
	}
}
