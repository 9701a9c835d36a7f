// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package codec builds the stable v2 persistence payload (spec.md §6) out
// of a model.PersistInput, applying the compact series-key mapping, the
// cumulative/integer rounding rules, and the run-length series encoding.
// Neither internal/persistence/redis nor internal/persistence/badger know
// this shape; they only turn Encode's output into bytes for a key.
package codec

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fitcore/fitcore/internal/domain/session/model"
	"github.com/fitcore/fitcore/internal/domain/timeline"
	"github.com/fitcore/fitcore/internal/fcerr"
)

// Version is the persisted payload's stable shape version (spec.md §6).
const Version = 2

const sampleCountCap = 200000

// zoneAlphabet maps a zone's rank (ascending by configured Min, per
// zone.Store.Configure) to spec.md §6's single-letter code. Only the first
// four configured zones get a letter; a session with more bands persists
// the bare rank for the rest.
var zoneAlphabet = []string{"c", "a", "w", "h"}

// Payload is the top-level v2 persisted shape.
type Payload struct {
	Version      int                         `json:"version"`
	SessionID    string                      `json:"sessionId"`
	Timezone     string                      `json:"timezone"`
	Session      SessionBlock                `json:"session"`
	Participants map[string]ParticipantBlock `json:"participants"`
	Entities     []EntityBlock               `json:"entities"`
	Timeline     TimelineBlock               `json:"timeline"`
}

type SessionBlock struct {
	ID              string    `json:"id"`
	Date            string    `json:"date"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationSeconds float64   `json:"duration_seconds"`
}

type ParticipantBlock struct {
	DisplayName string `json:"display_name,omitempty"`
	HRDevice    string `json:"hr_device,omitempty"`
	IsPrimary   bool   `json:"is_primary,omitempty"`
	IsGuest     bool   `json:"is_guest,omitempty"`
	BaseUser    string `json:"base_user,omitempty"`
}

type EntityBlock struct {
	EntityID      string    `json:"entityId"`
	ProfileID     string    `json:"profileId"`
	Name          string    `json:"name"`
	DeviceID      string    `json:"deviceId"`
	StartTime     time.Time `json:"startTime"`
	Status        string    `json:"status"`
	Coins         int       `json:"coins"`
	TransferredTo string    `json:"transferredTo,omitempty"`
}

type TimebaseBlock struct {
	StartTime         time.Time `json:"startTime"`
	IntervalMs        int64     `json:"intervalMs"`
	TickCount         int       `json:"tickCount"`
	LastTickTimestamp time.Time `json:"lastTickTimestamp"`
}

type EventBlock struct {
	At   time.Time      `json:"at"`
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

type TimelineBlock struct {
	IntervalSeconds float64           `json:"interval_seconds"`
	TickCount       int               `json:"tick_count"`
	Encoding        string            `json:"encoding"`
	Timebase        TimebaseBlock     `json:"timebase"`
	Series          map[string]string `json:"series"`
	Events          []EventBlock      `json:"events"`
}

// Encode validates in and builds the v2 payload. Validation failures are
// *fcerr.DomainError with fcerr.KindPersistValidation (spec.md §6).
func Encode(in model.PersistInput) (*Payload, error) {
	effectiveEnd := in.EndTime
	if effectiveEnd.IsZero() {
		effectiveEnd = in.Timeline.Timebase.LastTickTimestamp
	}
	if in.StartTime.IsZero() {
		return nil, fcerr.New(fcerr.KindPersistValidation, "persist-start-time-invalid",
			"startTime must be set")
	}
	if !effectiveEnd.After(in.StartTime) {
		effectiveEnd = in.StartTime.Add(time.Millisecond)
	}

	hasUserSeries := false
	for key := range in.Timeline.Series {
		if strings.HasPrefix(key, "user:") {
			hasUserSeries = true
			break
		}
	}
	if hasUserSeries && (len(in.Roster) == 0 || len(in.Entities) == 0) {
		return nil, fcerr.New(fcerr.KindPersistValidation, "persist-roster-required",
			"user series present without a roster and device assignments")
	}

	durationMs := effectiveEnd.Sub(in.StartTime).Milliseconds()
	hasEvents := len(in.Timeline.Events) > 0
	if durationMs < 10000 && !hasUserSeries && !hasEvents && (len(in.Roster) == 0 || durationMs < 1000) {
		return nil, fcerr.New(fcerr.KindPersistValidation, "persist-spam-guard",
			"session too short and too empty to persist")
	}

	if in.TickCount < 3 {
		return nil, fcerr.New(fcerr.KindPersistValidation, "persist-tick-count-min",
			"tickCount must be at least 3")
	}

	if err := timeline.ValidateSeriesLengths(in.Timeline.Timebase, in.Timeline.Series); err != nil {
		return nil, err
	}

	// All-null series are dropped silently before building the payload.
	liveSeries := make(map[string][]timeline.Value, len(in.Timeline.Series))
	for key, col := range in.Timeline.Series {
		if !anyPresent(col) {
			continue
		}
		liveSeries[key] = col
	}

	totalSamples := 0
	for _, col := range liveSeries {
		totalSamples += len(col)
	}
	if totalSamples > sampleCountCap {
		return nil, fcerr.New(fcerr.KindPersistValidation, "persist-series-size-cap",
			"total sample count exceeds the persistence cap")
	}

	encodedSeries := make(map[string]string, len(liveSeries))
	for key, col := range liveSeries {
		scope, id, metric, ok := splitKey(key)
		if !ok {
			continue
		}
		mapped := mapKey(scope, id, metric)
		encodedSeries[mapped] = encodeSeries(metric, col)
	}

	participants := make(map[string]ParticipantBlock, len(in.Roster))
	for i, r := range in.Roster {
		participants[r.UserID] = ParticipantBlock{
			DisplayName: r.DisplayName,
			HRDevice:    r.HRDeviceID,
			IsPrimary:   i == 0 && r.Source != "guest",
			IsGuest:     r.Source == "guest",
		}
	}

	entities := make([]EntityBlock, 0, len(in.Entities))
	for _, e := range in.Entities {
		entities = append(entities, EntityBlock{
			EntityID:      e.EntityID,
			ProfileID:     e.ProfileID,
			Name:          e.Name,
			DeviceID:      e.DeviceID,
			StartTime:     e.StartTime,
			Status:        string(e.Status),
			Coins:         e.Coins,
			TransferredTo: e.TransferredTo,
		})
	}

	payload := &Payload{
		Version:      Version,
		SessionID:    in.SessionID,
		Timezone:     in.Timezone,
		Participants: participants,
		Entities:     entities,
		Session: SessionBlock{
			ID:              in.SessionID,
			Date:            in.StartTime.Format("2006-01-02"),
			Start:           in.StartTime,
			End:             effectiveEnd,
			DurationSeconds: effectiveEnd.Sub(in.StartTime).Seconds(),
		},
		Timeline: TimelineBlock{
			IntervalSeconds: float64(in.Timeline.Timebase.IntervalMs) / 1000,
			TickCount:       in.Timeline.Timebase.TickCount,
			Encoding:        "rle",
			Timebase: TimebaseBlock{
				StartTime:         in.Timeline.Timebase.StartTime,
				IntervalMs:        in.Timeline.Timebase.IntervalMs,
				TickCount:         in.Timeline.Timebase.TickCount,
				LastTickTimestamp: in.Timeline.Timebase.LastTickTimestamp,
			},
			Series: encodedSeries,
			Events: dedupeEvents(in.Timeline.Events),
		},
	}
	return payload, nil
}

func anyPresent(col []timeline.Value) bool {
	for _, v := range col {
		if v.Present {
			return true
		}
	}
	return false
}

// splitKey parses the strict three-segment scope:id:metric shape already
// enforced by timeline.Tick; malformed keys never reach Encode.
func splitKey(key string) (scope, id, metric string, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// mapKey applies spec.md §6's compact series-key mapping.
func mapKey(scope, id, metric string) string {
	switch scope {
	case "user":
		switch metric {
		case "heart_rate":
			return id + ":hr"
		case "zone_id":
			return id + ":zone"
		case "heart_beats":
			return id + ":beats"
		case "coins_total":
			return id + ":coins"
		default:
			return scope + ":" + id + ":" + metric
		}
	case "device":
		strippedID := strings.TrimPrefix(id, "device_")
		switch metric {
		case "rpm", "rotations", "power", "distance":
			return "bike:" + strippedID + ":" + metric
		default:
			return "device:" + strippedID + ":" + metric
		}
	default:
		return scope + ":" + id + ":" + metric
	}
}

// encodeSeries rounds each sample per spec.md §6's numeric rounding rules,
// re-codes a zone_id column through the zone alphabet, then run-length
// encodes the result and returns its JSON-string form.
func encodeSeries(metric string, col []timeline.Value) string {
	values := make([]any, len(col))
	for i, v := range col {
		if !v.Present {
			values[i] = nil
			continue
		}
		if metric == "zone_id" {
			values[i] = zoneLetter(v.Number)
			continue
		}
		values[i] = round(metric, v.Number)
	}
	encoded := rleEncode(values)
	buf, err := json.Marshal(encoded)
	if err != nil {
		return "[]"
	}
	return string(buf)
}

func zoneLetter(rank float64) any {
	idx := int(rank)
	if idx < 0 || idx >= len(zoneAlphabet) {
		return strconv.Itoa(idx)
	}
	return zoneAlphabet[idx]
}

func round(metric string, v float64) any {
	switch metric {
	case "heart_beats", "rotations":
		return math.Round(v*10) / 10
	case "heart_rate", "rpm", "power":
		return int(math.Round(v))
	default:
		return v
	}
}

// rleEncode produces spec.md §6's compact run-length form: a lone scalar
// for a run of one, [value, count] for a repeated run.
func rleEncode(values []any) []any {
	out := make([]any, 0, len(values))
	i := 0
	for i < len(values) {
		j := i + 1
		for j < len(values) && sameValue(values[j], values[i]) {
			j++
		}
		run := j - i
		if run == 1 {
			out = append(out, values[i])
		} else {
			out = append(out, []any{values[i], run})
		}
		i = j
	}
	return out
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}

// dedupeEvents keeps the first occurrence of each (type, tickIndex,
// challengeId) triple (spec.md §6's challenge-event de-duplication rule).
// Events without both fields in Data are kept as-is.
func dedupeEvents(events []timeline.Event) []EventBlock {
	seen := map[string]struct{}{}
	out := make([]EventBlock, 0, len(events))
	for _, e := range events {
		tickIdx, hasTick := e.Data["tickIndex"]
		challengeID, hasChallenge := e.Data["challengeId"]
		if hasTick && hasChallenge {
			dedupeKey := e.Type + "|" + toKeyPart(tickIdx) + "|" + toKeyPart(challengeID)
			if _, dup := seen[dedupeKey]; dup {
				continue
			}
			seen[dedupeKey] = struct{}{}
		}
		out = append(out, EventBlock{At: e.At, Type: e.Type, Data: e.Data})
	}
	return out
}

func toKeyPart(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	default:
		buf, _ := json.Marshal(t)
		return string(buf)
	}
}
