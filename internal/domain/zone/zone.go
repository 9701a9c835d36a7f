// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package zone implements the ZoneProfileStore (spec.md §4.3): per-user
// effective heart-rate zone thresholds derived from a base zone config plus
// optional per-user overrides.
package zone

import (
	"sort"
	"strings"
)

// Definition is one HR-bpm band (spec.md's ZoneDefinition entity).
type Definition struct {
	ID    string
	Name  string
	Min   int
	Color string
	Coins int
	// Rank is the zone's index ascending by Min, assigned by Store.Configure.
	Rank int
}

// Override adjusts the effective threshold for one zone, keyed by either
// the zone id or its lowercased name (spec.md §4.3).
type Override struct {
	ZoneIDOrName string
	Threshold    int
}

// Store resolves a user's current zone for a given heart rate, applying
// any per-user threshold overrides. It never mutates zone identity or
// color — only the effective Min threshold used for resolution.
type Store struct {
	zones     []Definition // sorted ascending by Min
	byID      map[string]int
	overrides map[string][]Override // userId -> overrides
}

// NewStore builds an empty, unconfigured store.
func NewStore() *Store {
	return &Store{byID: map[string]int{}, overrides: map[string][]Override{}}
}

// Configure normalizes the base zone list (sorted ascending by Min, Rank
// assigned in that order) and installs per-user overrides.
func (s *Store) Configure(baseZones []Definition, perUserOverrides map[string][]Override) {
	zones := make([]Definition, len(baseZones))
	copy(zones, baseZones)
	sort.Slice(zones, func(i, j int) bool { return zones[i].Min < zones[j].Min })
	for i := range zones {
		zones[i].Rank = i
	}

	byID := make(map[string]int, len(zones))
	for i, z := range zones {
		byID[z.ID] = i
	}

	overrides := make(map[string][]Override, len(perUserOverrides))
	for uid, ov := range perUserOverrides {
		cp := make([]Override, len(ov))
		copy(cp, ov)
		overrides[uid] = cp
	}

	s.zones = zones
	s.byID = byID
	s.overrides = overrides
}

// Zones returns the configured zones in ascending-Min (rank) order.
func (s *Store) Zones() []Definition {
	out := make([]Definition, len(s.zones))
	copy(out, s.zones)
	return out
}

// ZoneByID looks up a configured zone by id.
func (s *Store) ZoneByID(id string) (Definition, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return Definition{}, false
	}
	return s.zones[idx], true
}

// SetUserOverrides replaces the override list for a single user.
func (s *Store) SetUserOverrides(userID string, overrides []Override) {
	if s.overrides == nil {
		s.overrides = map[string][]Override{}
	}
	cp := make([]Override, len(overrides))
	copy(cp, overrides)
	s.overrides[userID] = cp
}

// effectiveThreshold returns the override threshold for a zone if the user
// has one (matched by zone id or lowercased name), else the zone's base Min.
func (s *Store) effectiveThreshold(userID string, z Definition) int {
	for _, ov := range s.overrides[userID] {
		key := strings.ToLower(ov.ZoneIDOrName)
		if ov.ZoneIDOrName == z.ID || key == strings.ToLower(z.Name) {
			return ov.Threshold
		}
	}
	return z.Min
}

// ResolveZone returns the highest-ranked zone whose effective threshold is
// <= hr, iterating zones in descending Min order (spec.md §4.3). Returns
// (Definition{}, false) when hr <= 0 or no zones are configured.
func (s *Store) ResolveZone(userID string, hr int) (Definition, bool) {
	if hr <= 0 || len(s.zones) == 0 {
		return Definition{}, false
	}
	for i := len(s.zones) - 1; i >= 0; i-- {
		z := s.zones[i]
		if s.effectiveThreshold(userID, z) <= hr {
			return z, true
		}
	}
	return Definition{}, false
}

// RankOf returns the rank of a zone in the configured ordering, or -1 if
// the zone is not recognized. Used by governance's base-requirement
// evaluation to compare "current zone rank >= required rank".
func (s *Store) RankOf(zoneID string) int {
	if idx, ok := s.byID[zoneID]; ok {
		return s.zones[idx].Rank
	}
	return -1
}
