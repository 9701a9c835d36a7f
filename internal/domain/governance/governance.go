// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package governance implements the GovernanceEngine (spec.md §4.8): a
// media-gating state machine that evaluates zone-based participation
// requirements against the current roster and drives a nested challenge
// sub-machine.
package governance

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/fitcore/fitcore/internal/log"
	"github.com/fitcore/fitcore/internal/metrics"
)

// Phase is the top-level governance state (spec.md §4.8).
type Phase string

const (
	PhaseIdle     Phase = ""
	PhasePending  Phase = "pending"
	PhaseUnlocked Phase = "unlocked"
	PhaseWarning  Phase = "warning"
	PhaseLocked   Phase = "locked"
)

const hysteresis = 500 * time.Millisecond
const debounceWindow = 100 * time.Millisecond

// Requirement is one base_requirement entry: participants must reach at
// least ZoneID's rank.
type Requirement struct {
	ZoneID             string
	Rule               string
	GracePeriodSeconds *int
}

// Selection is one challenge option: a zone + rule participants must
// satisfy within TimeAllowedSec.
type Selection struct {
	Zone           string
	Rule           string
	TimeAllowedSec int
	Weight         int
	Label          string
}

// ChallengeConfig is one policy's challenge schedule.
type ChallengeConfig struct {
	MinIntervalSec int
	MaxIntervalSec int
	SelectionType  string // "random" | "cyclic"
	Selections     []Selection
}

// Policy is one governance policy (spec.md §4.8).
type Policy struct {
	ID              string
	MinParticipants int
	BaseRequirement []Requirement
	Exemptions      []string
	Challenges      []ChallengeConfig
}

// Config is the top-level governance configuration.
type Config struct {
	GovernedLabels     []string
	GovernedTypes      []string
	GracePeriodSeconds int
}

// Media is the currently-playing item under evaluation.
type Media struct {
	ID     string
	Type   string
	Labels []string
}

// IsGoverned reports whether media qualifies for governance under cfg.
func IsGoverned(media *Media, cfg Config) bool {
	if media == nil {
		return false
	}
	for _, l := range media.Labels {
		for _, gl := range cfg.GovernedLabels {
			if l == gl {
				return true
			}
		}
	}
	for _, gt := range cfg.GovernedTypes {
		if media.Type == gt {
			return true
		}
	}
	return false
}

// Participant is the zone-snapshot input to one evaluation cycle.
type Participant struct {
	ID       string
	ZoneRank int
	HasZone  bool
	Active   bool
}

// RequirementSummary is the per-zone evaluation outcome.
type RequirementSummary struct {
	ZoneID        string
	RequiredCount int // -1 means "not yet computable" (no active participants)
	MetUsers      []string
	MissingUsers  []string
	Satisfied     bool
}

// ChallengeStatus is the challenge sub-machine's state.
type ChallengeStatus string

const (
	ChallengeIdle    ChallengeStatus = "idle"
	ChallengePending ChallengeStatus = "pending"
	ChallengeSuccess ChallengeStatus = "success"
	ChallengeFailed  ChallengeStatus = "failed"
)

// ChallengeRecord is a completed challenge retained in the 20-entry history.
type ChallengeRecord struct {
	ChallengeID string
	Status      ChallengeStatus
	StartedAt   time.Time
	ResolvedAt  time.Time
}

type activeChallenge struct {
	challengeID       string
	selection         Selection
	startedAt         time.Time
	expiresAt         time.Time
	status            ChallengeStatus
	pausedAt          *time.Time
	pausedRemainingMs time.Duration
}

// Engine is the GovernanceEngine (spec.md §4.8).
type Engine struct {
	cfg      Config
	policies map[string]Policy
	media    *Media

	phase           Phase
	requirements    []RequirementSummary
	satisfiedOnce   bool
	satisfiedSince  *time.Time
	deadline        *time.Time
	pausedRemaining *time.Duration

	activePolicyID string

	challenge        *activeChallenge
	challengeHistory []ChallengeRecord
	nextChallengeAt  *time.Time
	cyclicCursor     map[string]int
	randomBag        map[string][]Selection

	// rng drives "random" selection and interval scheduling. Local and
	// seedable rather than the math/rand global, so a test can inject a
	// fixed seed via SetRand while production gets real jitter.
	rng *rand.Rand

	debounceDeadline *time.Time
}

// NewEngine builds an unconfigured governance engine.
func NewEngine() *Engine {
	return &Engine{
		policies:     map[string]Policy{},
		cyclicCursor: map[string]int{},
		randomBag:    map[string][]Selection{},
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRand installs a seeded PRNG, for deterministic tests of "random"
// challenge selection and interval scheduling.
func (e *Engine) SetRand(rng *rand.Rand) {
	e.rng = rng
}

// Configure installs the governance configuration and policy set.
func (e *Engine) Configure(cfg Config, policies map[string]Policy) {
	e.cfg = cfg
	e.policies = policies
}

// SetMedia installs the currently-playing item. Passing nil or an
// ungoverned item idles the engine without clearing satisfiedOnce.
func (e *Engine) SetMedia(media *Media) {
	e.media = media
	if !IsGoverned(media, e.cfg) {
		e.goIdle()
	}
}

func (e *Engine) goIdle() {
	e.phase = PhaseIdle
	e.requirements = nil
	e.activePolicyID = ""
	e.deadline = nil
	e.satisfiedSince = nil
	e.pausedRemaining = nil
	e.challenge = nil
}

// NotifyZoneChange records a debounce window after a zone transition; the
// caller should trigger Evaluate once DebounceElapsed reports true.
func (e *Engine) NotifyZoneChange(userID, fromZone, toZone string, now time.Time) {
	deadline := now.Add(debounceWindow)
	e.debounceDeadline = &deadline
}

// DebounceElapsed reports whether a pending zone-change debounce window
// has elapsed as of now (or there is none pending).
func (e *Engine) DebounceElapsed(now time.Time) bool {
	if e.debounceDeadline == nil {
		return true
	}
	if !now.Before(*e.debounceDeadline) {
		e.debounceDeadline = nil
		return true
	}
	return false
}

// Pause freezes the warning countdown without losing remaining time.
func (e *Engine) Pause(now time.Time) {
	if e.phase != PhaseWarning || e.deadline == nil {
		return
	}
	remaining := e.deadline.Sub(now)
	e.pausedRemaining = &remaining
	e.deadline = nil
}

// Resume restores a paused warning countdown.
func (e *Engine) Resume(now time.Time) {
	if e.pausedRemaining == nil {
		return
	}
	deadline := now.Add(*e.pausedRemaining)
	e.deadline = &deadline
	e.pausedRemaining = nil
}

func ceilRatio(n int, ratio float64) int {
	v := int(math.Ceil(float64(n) * ratio))
	if v < 1 {
		v = 1
	}
	return v
}

// normalizeRequiredCount implements spec.md §4.8's rule normalization.
func normalizeRequiredCount(rule string, effectiveCount int) int {
	switch strings.ToLower(strings.TrimSpace(rule)) {
	case "all":
		return effectiveCount
	case "majority", "most":
		return ceilRatio(effectiveCount, 0.5)
	case "some":
		return ceilRatio(effectiveCount, 0.3)
	case "any":
		return 1
	default:
		if n, err := strconv.Atoi(rule); err == nil {
			if n < 0 {
				return 0
			}
			if n > effectiveCount {
				return effectiveCount
			}
			return n
		}
		return 1
	}
}

func isExempt(id string, exemptions []string) bool {
	for _, ex := range exemptions {
		if ex == id {
			return true
		}
	}
	return false
}

// evaluateRequirement checks one requirement against the active,
// non-exempt participants: a participant meets it when its zone rank is at
// least rankOf(req.ZoneID), the rank lookup supplied to Evaluate.
func evaluateRequirement(req Requirement, participants []Participant, exemptions []string, rankOf func(zoneID string) int) RequirementSummary {
	requiredRank := rankOf(req.ZoneID)

	var active []Participant
	for _, p := range participants {
		if p.Active && !isExempt(p.ID, exemptions) {
			active = append(active, p)
		}
	}
	effectiveCount := len(active)
	requiredCount := normalizeRequiredCount(req.Rule, effectiveCount)

	var met, missing []string
	for _, p := range active {
		if p.HasZone && p.ZoneRank >= requiredRank {
			met = append(met, p.ID)
		} else {
			missing = append(missing, p.ID)
		}
	}

	return RequirementSummary{
		ZoneID:        req.ZoneID,
		RequiredCount: requiredCount,
		MetUsers:      met,
		MissingUsers:  missing,
		Satisfied:     len(met) >= requiredCount,
	}
}

// requirementShell builds the zero-participant placeholder: one summary
// per configured zone, named but not yet computable.
func requirementShell(policy Policy) []RequirementSummary {
	shell := make([]RequirementSummary, 0, len(policy.BaseRequirement))
	for _, req := range policy.BaseRequirement {
		shell = append(shell, RequirementSummary{
			ZoneID:        req.ZoneID,
			RequiredCount: -1,
			MetUsers:      []string{},
			MissingUsers:  []string{},
			Satisfied:     false,
		})
	}
	return shell
}

func selectPolicy(policies map[string]Policy, totalCount int) (Policy, bool) {
	if len(policies) == 0 {
		return Policy{}, false
	}
	var best *Policy
	var smallest *Policy
	for id := range policies {
		p := policies[id]
		if smallest == nil || p.MinParticipants < smallest.MinParticipants {
			cp := p
			smallest = &cp
		}
		if p.MinParticipants <= totalCount {
			if best == nil || p.MinParticipants > best.MinParticipants {
				cp := p
				best = &cp
			}
		}
	}
	if best != nil {
		return *best, true
	}
	return *smallest, true
}

// Snapshot is the read-only view of the engine's current evaluation,
// returned by Evaluate for the orchestrator/API layer to render.
type Snapshot struct {
	Phase          Phase
	Requirements   []RequirementSummary
	SatisfiedOnce  bool
	Deadline       *time.Time
	ActivePolicyID string
	Challenge      *ChallengeRecord
	VideoLocked    bool
}

// Evaluate runs one governance evaluation cycle (spec.md §4.8). rankOf
// resolves a zone id to its configured rank (from the session's
// zone.Store); it is passed in to avoid an import cycle.
func (e *Engine) Evaluate(now time.Time, participants []Participant, rankOf func(zoneID string) int) Snapshot {
	if !IsGoverned(e.media, e.cfg) || len(e.policies) == 0 {
		e.goIdle()
		return e.snapshot()
	}

	policy, ok := selectPolicy(e.policies, len(participants))
	if !ok {
		e.goIdle()
		return e.snapshot()
	}
	if policy.ID != e.activePolicyID {
		e.challenge = nil
		e.nextChallengeAt = nil
	}
	e.activePolicyID = policy.ID

	var activeCount int
	for _, p := range participants {
		if p.Active {
			activeCount++
		}
	}
	if activeCount == 0 {
		// No one active yet: pre-populate a requirements shell so the
		// room's zone names render immediately instead of waiting for
		// the first active participant. RequiredCount stays at its
		// "not yet computable" sentinel (see RequirementSummary).
		e.phase = PhasePending
		e.requirements = requirementShell(policy)
		return e.snapshot()
	}

	var summaries []RequirementSummary
	allSatisfied := len(policy.BaseRequirement) > 0
	for _, req := range policy.BaseRequirement {
		s := evaluateRequirement(req, participants, policy.Exemptions, rankOf)
		summaries = append(summaries, s)
		if !s.Satisfied {
			allSatisfied = false
		}
	}
	e.requirements = summaries

	e.transitionPhase(now, allSatisfied, policy)
	e.runChallengeSubmachine(now, policy, participants, rankOf)

	return e.snapshot()
}

func (e *Engine) transitionPhase(now time.Time, allSatisfied bool, policy Policy) {
	if e.challenge != nil && e.challenge.status == ChallengeFailed {
		e.deadline = nil
		e.phase = PhaseLocked
		return
	}

	if allSatisfied {
		if e.satisfiedSince == nil {
			t := now
			e.satisfiedSince = &t
		}
		if now.Sub(*e.satisfiedSince) >= hysteresis {
			prev := e.phase
			e.satisfiedOnce = true
			e.phase = PhaseUnlocked
			e.deadline = nil
			if prev != PhaseUnlocked {
				e.scheduleNextChallenge(now, policy)
			}
		}
		return
	}

	e.satisfiedSince = nil
	if !e.satisfiedOnce {
		e.phase = PhasePending
		e.deadline = nil
		return
	}

	grace := e.cfg.GracePeriodSeconds
	for _, req := range policy.BaseRequirement {
		if req.GracePeriodSeconds != nil {
			grace = *req.GracePeriodSeconds
		}
	}
	if grace <= 0 {
		e.phase = PhaseLocked
		e.deadline = nil
		return
	}
	if e.deadline == nil {
		d := now.Add(time.Duration(grace) * time.Second)
		e.deadline = &d
	}
	e.phase = PhaseWarning
	if !now.Before(*e.deadline) {
		e.phase = PhaseLocked
	}
}

func (e *Engine) pickSelection(policyID string, cfg ChallengeConfig) Selection {
	if len(cfg.Selections) == 0 {
		return Selection{}
	}
	if cfg.SelectionType == "cyclic" {
		idx := e.cyclicCursor[policyID] % len(cfg.Selections)
		e.cyclicCursor[policyID] = idx + 1
		return cfg.Selections[idx]
	}
	bag := e.randomBag[policyID]
	if len(bag) == 0 {
		for _, s := range cfg.Selections {
			w := s.Weight
			if w <= 0 {
				w = 1
			}
			for i := 0; i < w; i++ {
				bag = append(bag, s)
			}
		}
	}
	idx := e.rng.Intn(len(bag))
	picked := bag[idx]
	bag[idx] = bag[len(bag)-1]
	e.randomBag[policyID] = bag[:len(bag)-1]
	return picked
}

func (e *Engine) scheduleNextChallenge(now time.Time, policy Policy) {
	if len(policy.Challenges) == 0 {
		return
	}
	cc := policy.Challenges[0]
	lo, hi := cc.MinIntervalSec, cc.MaxIntervalSec
	if hi < lo {
		hi = lo
	}
	r := lo + e.rng.Intn(hi-lo+1)
	next := now.Add(time.Duration(r) * time.Second)
	e.nextChallengeAt = &next
}

func (e *Engine) runChallengeSubmachine(now time.Time, policy Policy, participants []Participant, rankOf func(zoneID string) int) {
	if e.challenge != nil && e.challenge.status == ChallengePending {
		if e.phase != PhaseUnlocked {
			if e.challenge.pausedAt == nil {
				t := now
				e.challenge.pausedAt = &t
				e.challenge.pausedRemainingMs = e.challenge.expiresAt.Sub(now)
			}
			return
		}
		if e.challenge.pausedAt != nil {
			e.challenge.expiresAt = now.Add(e.challenge.pausedRemainingMs)
			e.challenge.pausedAt = nil
		}

		req := Requirement{ZoneID: e.challenge.selection.Zone, Rule: e.challenge.selection.Rule}
		summary := evaluateRequirement(req, participants, policy.Exemptions, rankOf)
		switch {
		case summary.Satisfied:
			e.challenge.status = ChallengeSuccess
			e.recordChallengeHistory(now)
			e.scheduleNextChallenge(now, policy)
			metrics.IncChallengeOutcome("success")
		case !now.Before(e.challenge.expiresAt):
			e.challenge.status = ChallengeFailed
			e.deadline = nil
			e.phase = PhaseLocked
			e.recordChallengeHistory(now)
			metrics.IncChallengeOutcome("failed")
		}
		return
	}

	if e.challenge != nil && e.challenge.status == ChallengeFailed {
		// A failed challenge may recover to success on the same rules.
		req := Requirement{ZoneID: e.challenge.selection.Zone, Rule: e.challenge.selection.Rule}
		summary := evaluateRequirement(req, participants, policy.Exemptions, rankOf)
		if summary.Satisfied {
			e.challenge.status = ChallengeSuccess
			e.recordChallengeHistory(now)
			e.scheduleNextChallenge(now, policy)
		}
		return
	}

	if e.phase != PhaseUnlocked || e.nextChallengeAt == nil || now.Before(*e.nextChallengeAt) {
		return
	}
	if len(policy.Challenges) == 0 {
		return
	}
	cc := policy.Challenges[0]
	sel := e.pickSelection(policy.ID, cc)
	e.startChallenge(now, sel)
}

func (e *Engine) startChallenge(now time.Time, sel Selection) {
	e.challenge = &activeChallenge{
		challengeID: policyChallengeID(e.activePolicyID, now),
		selection:   sel,
		startedAt:   now,
		expiresAt:   now.Add(time.Duration(sel.TimeAllowedSec) * time.Second),
		status:      ChallengePending,
	}
	e.nextChallengeAt = nil
	log.WithComponent("governance").Info().
		Str(log.FieldChallenge, e.challenge.challengeID).
		Str(log.FieldZoneID, sel.Zone).
		Msg("challenge started")
}

func policyChallengeID(policyID string, now time.Time) string {
	return policyID + "-" + now.UTC().Format("20060102150405.000")
}

func (e *Engine) recordChallengeHistory(now time.Time) {
	if e.challenge == nil {
		return
	}
	rec := ChallengeRecord{
		ChallengeID: e.challenge.challengeID,
		Status:      e.challenge.status,
		StartedAt:   e.challenge.startedAt,
		ResolvedAt:  now,
	}
	e.challengeHistory = append(e.challengeHistory, rec)
	if len(e.challengeHistory) > 20 {
		e.challengeHistory = e.challengeHistory[len(e.challengeHistory)-20:]
	}
}

// TriggerChallenge forces an immediate challenge, optionally overriding
// the selection preview.
func (e *Engine) TriggerChallenge(override *Selection, now time.Time) {
	policy, ok := e.policies[e.activePolicyID]
	if !ok || len(policy.Challenges) == 0 {
		return
	}
	sel := override
	if sel == nil {
		picked := e.pickSelection(policy.ID, policy.Challenges[0])
		sel = &picked
	}
	e.startChallenge(now, *sel)
}

func (e *Engine) snapshot() Snapshot {
	var chal *ChallengeRecord
	if e.challenge != nil {
		chal = &ChallengeRecord{ChallengeID: e.challenge.challengeID, Status: e.challenge.status, StartedAt: e.challenge.startedAt}
	}
	reqs := make([]RequirementSummary, len(e.requirements))
	copy(reqs, e.requirements)
	metrics.SetGovernancePhase(phaseOrdinal(e.phase))
	return Snapshot{
		Phase:          e.phase,
		Requirements:   reqs,
		SatisfiedOnce:  e.satisfiedOnce,
		Deadline:       e.deadline,
		ActivePolicyID: e.activePolicyID,
		Challenge:      chal,
		VideoLocked:    e.phase == PhaseLocked,
	}
}

func phaseOrdinal(p Phase) int {
	switch p {
	case PhasePending:
		return 1
	case PhaseUnlocked:
		return 2
	case PhaseWarning:
		return 3
	case PhaseLocked:
		return 4
	default:
		return 0
	}
}

// ChallengeHistory returns the 20-entry-capped history of resolved
// challenges.
func (e *Engine) ChallengeHistory() []ChallengeRecord {
	out := make([]ChallengeRecord, len(e.challengeHistory))
	copy(out, e.challengeHistory)
	return out
}

// Reset clears all governance state for a new session, including
// satisfiedOnce (explicit session reset is the one case I6 allows).
func (e *Engine) Reset() {
	e.goIdle()
	e.satisfiedOnce = false
	e.challengeHistory = nil
	e.nextChallengeAt = nil
	e.cyclicCursor = map[string]int{}
	e.randomBag = map[string][]Selection{}
	e.debounceDeadline = nil
}
