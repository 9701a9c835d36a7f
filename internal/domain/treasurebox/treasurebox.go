// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package treasurebox implements the TreasureBox zone-coin accumulator
// (spec.md §4.5): per-user interval state, coin buckets by zone color, and
// a global cumulative timeline, gated by ActivityMonitor (invariant I4).
package treasurebox

import (
	"math"
	"time"

	"github.com/fitcore/fitcore/internal/domain/zone"
	"github.com/fitcore/fitcore/internal/metrics"
)

const noZoneColor = "none"

// Accumulator is one user's live interval state.
type Accumulator struct {
	CurrentIntervalStart time.Time
	HighestZone          *zone.Definition
	CurrentColor         string
	LastColor            string
	LastZoneID           string
	LastHR               int
	TotalCoins           int
}

// Timeline is the global cumulative + per-color coin series, index-aligned
// to coinTimeUnitMs intervals since session start.
type Timeline struct {
	Cumulative []int
	PerColor   map[string][]int
}

// Box is the TreasureBox (spec.md §4.5).
type Box struct {
	zones          *zone.Store
	coinTimeUnitMs int64
	sessionStart   time.Time

	accumulators map[string]*Accumulator
	timeline     Timeline
}

// NewBox builds a TreasureBox bound to a ZoneProfileStore.
func NewBox(zones *zone.Store, coinTimeUnitMs int64) *Box {
	return &Box{
		zones:          zones,
		coinTimeUnitMs: coinTimeUnitMs,
		accumulators:   map[string]*Accumulator{},
		timeline:       Timeline{PerColor: map[string][]int{}},
	}
}

// Reset starts a fresh session at the given start time, discarding all
// accumulators and the timeline.
func (b *Box) Reset(sessionStart time.Time) {
	b.sessionStart = sessionStart
	b.accumulators = map[string]*Accumulator{}
	b.timeline = Timeline{PerColor: map[string][]int{}}
}

func (b *Box) ensure(userID string, now time.Time) *Accumulator {
	acc, ok := b.accumulators[userID]
	if !ok {
		acc = &Accumulator{CurrentIntervalStart: now, LastColor: noZoneColor}
		b.accumulators[userID] = acc
	}
	return acc
}

// RecordHeartRate updates a user's live accumulator from a fresh HR sample
// (spec.md §4.5). hr<=0 or NaN resets the interval window and clears the
// ceiling; otherwise the accumulator's highest zone only ever ratchets up
// within the current interval (zone-ceiling semantics).
func (b *Box) RecordHeartRate(userID string, hr int, now time.Time) {
	acc := b.ensure(userID, now)

	if hr <= 0 || math.IsNaN(float64(hr)) {
		acc.CurrentIntervalStart = now
		acc.HighestZone = nil
		acc.CurrentColor = noZoneColor
		acc.LastColor = noZoneColor
		acc.LastHR = hr
		return
	}

	z, ok := b.zones.ResolveZone(userID, hr)
	acc.LastHR = hr
	if !ok {
		return
	}
	acc.LastZoneID = z.ID
	acc.CurrentColor = z.Color
	acc.LastColor = z.Color
	if acc.HighestZone == nil || z.Min > acc.HighestZone.Min {
		zCopy := z
		acc.HighestZone = &zCopy
	}
}

func intervalIndex(now, sessionStart time.Time, coinTimeUnitMs int64) int {
	if coinTimeUnitMs <= 0 {
		return 0
	}
	elapsedMs := now.Sub(sessionStart).Milliseconds()
	if elapsedMs < 0 {
		return 0
	}
	return int(elapsedMs / coinTimeUnitMs)
}

// extendForward grows series to at least length n, repeating the last
// value (or 0 for an empty series) into the newly added slots.
func extendForward(series []int, n int) []int {
	if len(series) >= n {
		return series
	}
	last := 0
	if len(series) > 0 {
		last = series[len(series)-1]
	}
	for len(series) < n {
		series = append(series, last)
	}
	return series
}

// ProcessTick is called exactly once per session tick (spec.md §4.5): users
// absent from activeSet have their ceiling cleared (I4) without award;
// users present award their highest zone's coins once their interval has
// elapsed, then roll the window.
func (b *Box) ProcessTick(tickIndex int, activeSet map[string]struct{}, now time.Time) {
	idx := intervalIndex(now, b.sessionStart, b.coinTimeUnitMs)

	for userID, acc := range b.accumulators {
		if _, active := activeSet[userID]; !active {
			acc.HighestZone = nil
			acc.CurrentColor = noZoneColor
			continue
		}
		elapsed := now.Sub(acc.CurrentIntervalStart).Milliseconds()
		if acc.HighestZone == nil || elapsed < b.coinTimeUnitMs {
			continue
		}

		coins := acc.HighestZone.Coins
		color := acc.HighestZone.Color
		acc.TotalCoins += coins

		b.timeline.Cumulative = extendForward(b.timeline.Cumulative, idx+1)
		for i := idx; i < len(b.timeline.Cumulative); i++ {
			b.timeline.Cumulative[i] += coins
		}
		bucket := b.timeline.PerColor[color]
		bucket = extendForward(bucket, idx+1)
		for i := idx; i < len(bucket); i++ {
			bucket[i] += coins
		}
		b.timeline.PerColor[color] = bucket

		metrics.AddCoinsAwarded(color, coins)

		acc.CurrentIntervalStart = now
		acc.HighestZone = nil
	}
}

// TransferAccumulator destructively moves fromId's accumulator and its
// totalCoins into toId, summing totals (spec.md §4.5).
func (b *Box) TransferAccumulator(fromID, toID string) {
	from, ok := b.accumulators[fromID]
	if !ok {
		return
	}
	delete(b.accumulators, fromID)

	to, ok := b.accumulators[toID]
	if !ok {
		b.accumulators[toID] = from
		return
	}
	to.TotalCoins += from.TotalCoins
	if from.HighestZone != nil && (to.HighestZone == nil || from.HighestZone.Min > to.HighestZone.Min) {
		to.HighestZone = from.HighestZone
	}
	to.LastHR = from.LastHR
	to.LastColor = from.LastColor
	to.LastZoneID = from.LastZoneID
	to.CurrentColor = from.CurrentColor
}

// GetPerUserTotals returns each user's accumulated coin total.
func (b *Box) GetPerUserTotals() map[string]int {
	out := make(map[string]int, len(b.accumulators))
	for id, acc := range b.accumulators {
		out[id] = acc.TotalCoins
	}
	return out
}

// GetGlobalTotal sums every accumulator's running total, for the session-
// wide `global:coins_total` timeline column.
func (b *Box) GetGlobalTotal() int {
	total := 0
	for _, acc := range b.accumulators {
		total += acc.TotalCoins
	}
	return total
}

// GetCumulativeTimeline returns a copy of the global coin timeline.
func (b *Box) GetCumulativeTimeline() Timeline {
	cum := make([]int, len(b.timeline.Cumulative))
	copy(cum, b.timeline.Cumulative)
	perColor := make(map[string][]int, len(b.timeline.PerColor))
	for c, s := range b.timeline.PerColor {
		cp := make([]int, len(s))
		copy(cp, s)
		perColor[c] = cp
	}
	return Timeline{Cumulative: cum, PerColor: perColor}
}

// Summary is a read accessor bundling totals and timeline for rendering.
type Summary struct {
	PerUserTotals map[string]int
	Timeline      Timeline
}

// Summary returns the current per-user totals plus the cumulative timeline.
func (b *Box) Summary() Summary {
	return Summary{PerUserTotals: b.GetPerUserTotals(), Timeline: b.GetCumulativeTimeline()}
}
