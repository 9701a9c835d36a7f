// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package timeline implements the dense, tick-indexed series store
// (spec.md §4.6): every emitted key's column has length exactly equal to
// the timebase's tickCount (invariant I2), with explicit "absent"/null
// holes for missing scalars.
package timeline

import (
	"regexp"
	"time"

	"github.com/fitcore/fitcore/internal/fcerr"
	"github.com/fitcore/fitcore/internal/log"
)

// cumulativeMetrics never regress across a merge; they sum instead of
// preferring one side.
var cumulativeMetrics = map[string]bool{
	"heart_beats": true,
	"coins_total": true,
	"rotations":   true,
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_]+:[A-Za-z0-9_]+:[A-Za-z0-9_]+$`)

// Value is one tick's cell: either a finite scalar or an explicit hole.
type Value struct {
	Present bool
	Number  float64
}

// Null is the explicit "absent" tick value.
var Null = Value{Present: false}

// Num wraps a finite scalar.
func Num(v float64) Value { return Value{Present: true, Number: v} }

// Event is a logged occurrence alongside the series data.
type Event struct {
	Type string
	Data map[string]any
	At   time.Time
}

// Timebase describes the tick grid backing every series.
type Timebase struct {
	StartTime         time.Time
	IntervalMs        int64
	TickCount         int
	LastTickTimestamp time.Time
}

// Timeline is the dense columnar store (spec.md §4.6).
type Timeline struct {
	timebase Timebase
	series   map[string][]Value
	events   []Event
}

// New builds an empty Timeline with the given tick interval.
func New(intervalMs int64) *Timeline {
	return &Timeline{
		timebase: Timebase{IntervalMs: intervalMs},
		series:   map[string][]Value{},
	}
}

// SetIntervalMs updates the configured tick interval (used when a session
// restarts with a different cadence).
func (tl *Timeline) SetIntervalMs(intervalMs int64) {
	tl.timebase.IntervalMs = intervalMs
}

// Reset discards all series/events and starts a fresh tick grid.
func (tl *Timeline) Reset(startTime time.Time) {
	tl.timebase = Timebase{StartTime: startTime, IntervalMs: tl.timebase.IntervalMs}
	tl.series = map[string][]Value{}
	tl.events = nil
}

func validKey(key string) bool { return keyPattern.MatchString(key) }

func isHeartRateKey(key string) bool {
	return len(key) > len(":heart_rate") && key[len(key)-len(":heart_rate"):] == ":heart_rate"
}

// Tick advances tickCount by one and writes payload into the new column
// (spec.md §4.6 tick semantics). Keys absent from payload are padded with
// Null for previously-seen series so every column keeps tickCount length.
// Malformed keys are dropped and logged (TimelineTickInvalidKey, spec §7).
func (tl *Timeline) Tick(payload map[string]Value, timestamp time.Time) {
	if tl.timebase.StartTime.IsZero() {
		tl.timebase.StartTime = timestamp
	}
	tl.timebase.TickCount++
	tl.timebase.LastTickTimestamp = timestamp
	idx := tl.timebase.TickCount - 1

	for key, v := range payload {
		if !validKey(key) {
			log.WithComponent("timeline").Warn().
				Str("code", "TimelineTickInvalidKey").
				Str("key", key).
				Msg("dropping malformed timeline key")
			continue
		}
		col, ok := tl.series[key]
		if !ok {
			col = make([]Value, idx) // backfill with holes before this key existed
			for i := range col {
				col[i] = Null
			}
			tl.series[key] = col
		}
		if !isHeartRateKey(key) && !v.Present {
			// Non-HR metrics drop explicit nulls silently rather than writing a hole.
			continue
		}
		tl.writeAt(key, idx, v)
	}

	// Pad every previously-seen series not touched this tick.
	for key, col := range tl.series {
		if len(col) < tl.timebase.TickCount {
			tl.series[key] = append(col, Null)
		}
	}
}

func (tl *Timeline) writeAt(key string, idx int, v Value) {
	col := tl.series[key]
	for len(col) <= idx {
		col = append(col, Null)
	}
	col[idx] = v
	tl.series[key] = col
}

// GetSeries returns a copy of one series by key.
func (tl *Timeline) GetSeries(key string) ([]Value, bool) {
	col, ok := tl.series[key]
	if !ok {
		return nil, false
	}
	cp := make([]Value, len(col))
	copy(cp, col)
	return cp, true
}

// GetEntitySeries returns the series for entity:<entityId>:<metric>.
func (tl *Timeline) GetEntitySeries(entityID, metric string) ([]Value, bool) {
	return tl.GetSeries("entity:" + entityID + ":" + metric)
}

// GetAllParticipantIds returns every distinct id that appears as the
// middle segment of a user:* or entity:* series key.
func (tl *Timeline) GetAllParticipantIds() []string {
	seen := map[string]struct{}{}
	for key := range tl.series {
		scope, id, _, ok := splitKey(key)
		if !ok || (scope != "user" && scope != "entity") {
			continue
		}
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

func splitKey(key string) (scope, id, metric string, ok bool) {
	var a, b int
	a = indexByte(key, ':')
	if a < 0 {
		return "", "", "", false
	}
	b = indexByte(key[a+1:], ':')
	if b < 0 {
		return "", "", "", false
	}
	b += a + 1
	return key[:a], key[a+1 : b], key[b+1:], true
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func mergeValue(metric string, a, b Value) Value {
	if !a.Present {
		return b
	}
	if !b.Present {
		return a
	}
	if cumulativeMetrics[metric] {
		return Num(a.Number + b.Number)
	}
	return a
}

// transferSeries moves every series under prefix "scope:from:" to
// "scope:to:", merging with any pre-existing destination data by
// preferring the non-null side, summing cumulative metrics (spec.md §4.6).
func (tl *Timeline) transferSeries(scope, from, to string) {
	fromPrefix := scope + ":" + from + ":"
	toPrefix := scope + ":" + to + ":"

	toMove := map[string][]Value{}
	for key, col := range tl.series {
		if len(key) > len(fromPrefix) && key[:len(fromPrefix)] == fromPrefix {
			toMove[key] = col
		}
	}

	for key, col := range toMove {
		metric := key[len(fromPrefix):]
		destKey := toPrefix + metric
		dest, exists := tl.series[destKey]
		if !exists {
			tl.series[destKey] = col
		} else {
			n := len(col)
			if len(dest) > n {
				n = len(dest)
			}
			merged := make([]Value, n)
			for i := 0; i < n; i++ {
				var a, b Value
				if i < len(dest) {
					a = dest[i]
				} else {
					a = Null
				}
				if i < len(col) {
					b = col[i]
				} else {
					b = Null
				}
				merged[i] = mergeValue(metric, a, b)
			}
			tl.series[destKey] = merged
		}
		delete(tl.series, key)
	}
}

// TransferUserSeries moves every user:from:* series to user:to:*.
func (tl *Timeline) TransferUserSeries(from, to string) { tl.transferSeries("user", from, to) }

// TransferEntitySeries moves every entity:from:* series to entity:to:*.
func (tl *Timeline) TransferEntitySeries(from, to string) { tl.transferSeries("entity", from, to) }

// LogEvent appends an event, stamping its time with now when ts is zero.
func (tl *Timeline) LogEvent(eventType string, data map[string]any, ts time.Time, now time.Time) {
	at := ts
	if at.IsZero() {
		at = now
	}
	tl.events = append(tl.events, Event{Type: eventType, Data: data, At: at})
}

// Summary is the read accessor returned by spec.md §4.6's summary().
type Summary struct {
	Series   map[string][]Value
	Events   []Event
	Timebase Timebase
}

// Summary returns the current series, events, and timebase.
func (tl *Timeline) Summary() Summary {
	series := make(map[string][]Value, len(tl.series))
	for k, v := range tl.series {
		cp := make([]Value, len(v))
		copy(cp, v)
		series[k] = cp
	}
	events := make([]Event, len(tl.events))
	copy(events, tl.events)
	return Summary{Series: series, Events: events, Timebase: tl.timebase}
}

// ValidateSeriesLengths enforces invariant I2: every series' length must
// equal timebase.TickCount.
func ValidateSeriesLengths(tb Timebase, series map[string][]Value) error {
	for key, col := range series {
		if len(col) != tb.TickCount {
			return fcerr.New(fcerr.KindPersistValidation, "series-tick-mismatch",
				"series "+key+" length does not match tick count").
				WithData(map[string]any{"key": key, "length": len(col), "tickCount": tb.TickCount})
		}
	}
	return nil
}
