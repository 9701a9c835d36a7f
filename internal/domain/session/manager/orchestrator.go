// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package manager implements the FitnessSession orchestrator (spec.md
// §4.7): the single-actor coordinator that owns every other domain
// collaborator for the lifetime of one session, drives the periodic tick
// pipeline, and hands a persistence payload to its collaborator on end.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fitcore/fitcore/internal/clock"
	"github.com/fitcore/fitcore/internal/domain/activity"
	"github.com/fitcore/fitcore/internal/domain/device"
	"github.com/fitcore/fitcore/internal/domain/governance"
	"github.com/fitcore/fitcore/internal/domain/session/model"
	"github.com/fitcore/fitcore/internal/domain/timeline"
	"github.com/fitcore/fitcore/internal/domain/transfer"
	"github.com/fitcore/fitcore/internal/domain/treasurebox"
	"github.com/fitcore/fitcore/internal/domain/user"
	"github.com/fitcore/fitcore/internal/domain/zone"
	"github.com/fitcore/fitcore/internal/eventbus"
	"github.com/fitcore/fitcore/internal/fcerr"
	"github.com/fitcore/fitcore/internal/fsm"
	"github.com/fitcore/fitcore/internal/log"
	"github.com/fitcore/fitcore/internal/metrics"
)

// TopicSessionEnded is the eventbus topic the orchestrator publishes to
// once a session's persistence payload has been built.
const TopicSessionEnded = "session.ended"

// PersistFunc hands a built payload to whichever backend the daemon wired
// in (internal/persistence/redis or /badger). The orchestrator never
// imports a storage package directly.
type PersistFunc func(ctx context.Context, in model.PersistInput) error

var transitions = []fsm.Transition[model.State, model.Event]{
	{From: model.StateIdle, Event: model.EventBufferThresholdReached, To: model.StateStarting},
	{From: model.StateStarting, Event: model.EventActivated, To: model.StateActive},
	{From: model.StateActive, Event: model.EventTimeout, To: model.StateEnded},
	{From: model.StateActive, Event: model.EventExplicitEnd, To: model.StateEnded},
	{From: model.StateEnded, Event: model.EventReset, To: model.StateIdle},
}

// FitnessSession is the orchestrator (spec.md §4.7). It owns every
// per-session collaborator and is the sole writer of all of them; callers
// never reach into a collaborator directly.
type FitnessSession struct {
	mu sync.Mutex

	cfg model.Config
	clk clock.Clock
	bus eventbus.Bus

	machine *fsm.Machine[model.State, model.Event]

	sessionID  string
	startTime  time.Time
	tickCount  int
	lastTickAt time.Time

	preSessionBuffer []device.Frame

	devices      *device.Registry
	users        *user.Registry
	zones        *zone.Store
	activityMon  *activity.Monitor
	treasureBox  *treasurebox.Box
	tl           *timeline.Timeline
	gov          *governance.Engine
	xfer         *transfer.Service

	persist PersistFunc
	saving  singleflight.Group

	govSnapshot         governance.Snapshot
	lastChallengeID     string
	lastChallengeStatus governance.ChallengeStatus
}

// New builds an idle orchestrator. Configure must be called at least once
// (with zones and governance policies installed) before any session can
// become active.
func New(clk clock.Clock, bus eventbus.Bus, persist PersistFunc) (*FitnessSession, error) {
	machine, err := fsm.New(model.StateIdle, transitions)
	if err != nil {
		return nil, fmt.Errorf("build lifecycle machine: %w", err)
	}

	zones := zone.NewStore()
	treasureBox := treasurebox.NewBox(zones, model.DefaultConfig().CoinTimeUnitMs)
	tl := timeline.New(model.DefaultConfig().TickIntervalMs)
	activityMon := activity.NewMonitor()
	xfer := transfer.NewService(activityMon, treasureBox, tl, model.DefaultConfig().GracePeriodTransfer)

	return &FitnessSession{
		cfg:         model.DefaultConfig(),
		clk:         clk,
		bus:         bus,
		machine:     machine,
		devices:     device.NewRegistry(),
		users:       user.NewRegistry(),
		zones:       zones,
		activityMon: activityMon,
		treasureBox: treasureBox,
		tl:          tl,
		gov:         governance.NewEngine(),
		xfer:        xfer,
		persist:     persist,
	}, nil
}

// Configure installs (or replaces) the session's tunable surface
// (spec.md §6 "configure"). Safe to call at any lifecycle state; zone and
// governance config only take effect for the next activation.
func (f *FitnessSession) Configure(cfg model.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cfg = cfg
	f.zones.Configure(cfg.Zones, cfg.ZoneOverrides)
	f.gov.Configure(cfg.Governance, cfg.GovernancePolicies)
	f.treasureBox = treasurebox.NewBox(f.zones, cfg.CoinTimeUnitMs)
	f.tl.SetIntervalMs(cfg.TickIntervalMs)
	f.xfer = transfer.NewService(f.activityMon, f.treasureBox, f.tl, cfg.GracePeriodTransfer)
}

// State returns the orchestrator's current lifecycle state.
func (f *FitnessSession) State() model.State {
	return f.machine.State()
}

// Ingest registers one raw device frame (spec.md §6). In the idle state,
// frames accumulate in a pre-session buffer; once PreSessionThreshold
// frames have arrived, the session activates (mints a session id,
// resets every collaborator, transitions starting -> active).
func (f *FitnessSession) Ingest(ctx context.Context, frame device.Frame, now time.Time) (fcerr.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.devices.RegisterOrUpdate(frame, now)
	if err != nil {
		return fcerr.Envelope{}, err
	}

	switch f.machine.State() {
	case model.StateIdle:
		f.preSessionBuffer = append(f.preSessionBuffer, frame)
		if len(f.preSessionBuffer) < f.cfg.PreSessionThreshold {
			return fcerr.Ok(map[string]any{"buffered": len(f.preSessionBuffer)}), nil
		}
		if err := f.activate(ctx, now); err != nil {
			return fcerr.Envelope{}, err
		}
	case model.StateStarting, model.StateActive:
		// device registry already updated above; tick() folds it in.
	case model.StateEnded:
		return fcerr.Envelope{}, fcerr.New(fcerr.KindSessionMissing, "E_SESSION_ENDED", "session has ended")
	}

	if rec.LastOccupantID != "" {
		f.users.CheckConsistency(rec.ID, rec.LastOccupantID)
	}

	return fcerr.Ok(map[string]any{"deviceId": rec.ID}), nil
}

// activate mints a session id, resets every collaborator to a clean slate
// bound to now, and drives the lifecycle machine from idle through
// starting to active (spec.md §4.7).
func (f *FitnessSession) activate(ctx context.Context, now time.Time) error {
	if _, err := f.machine.Fire(ctx, model.EventBufferThresholdReached); err != nil {
		return err
	}

	f.sessionID = "fs_" + now.UTC().Format("20060102150405")
	f.startTime = now
	f.tickCount = 0
	f.lastTickAt = now
	f.treasureBox.Reset(now)
	f.tl.Reset(now)
	f.activityMon.Reset(now)
	f.gov.Reset()
	f.xfer.Reset()
	f.preSessionBuffer = nil
	f.lastChallengeID = ""
	f.lastChallengeStatus = ""

	log.WithComponent("session").Info().
		Str(log.FieldSessionID, f.sessionID).
		Msg("session activated")

	_, err := f.machine.Fire(ctx, model.EventActivated)
	return err
}

// SetParticipantRoster installs the known-participant roster for the
// running session (spec.md §6 "setParticipantRoster").
func (f *FitnessSession) SetParticipantRoster(in model.RosterInput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users.SetRoster(in.Roster)
}

// AssignGuest binds a device to a profile, minting a new SessionEntity. If
// the device previously belonged to a different occupant whose entity is
// still within its grace window, that occupant's accumulated state
// migrates onto the new occupant as a single observable unit (spec.md
// §4.9, invariant I5).
func (f *FitnessSession) AssignGuest(in user.AssignGuestInput, now time.Time) (*user.SessionEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prevEntry, hadPrev := f.users.Get(in.DeviceID)

	ent, err := f.users.Assign(in, now)
	if err != nil {
		return nil, err
	}
	f.devices.Assign(in.DeviceID, in.ProfileID)
	f.xfer.NoteEntityStart(ent.EntityID, now)

	if hadPrev && prevEntry.OccupantID != in.ProfileID && f.xfer.WithinGrace(prevEntry.EntityID, now) {
		f.xfer.Transfer(prevEntry.OccupantID, in.ProfileID, now)
	}

	return ent, nil
}

// SetMedia installs the currently-playing item for governance evaluation
// (spec.md §6 "setMedia").
func (f *FitnessSession) SetMedia(in model.MediaInput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gov.SetMedia(&governance.Media{ID: in.ID, Type: in.Type, Labels: in.Labels})
}

// EndSession runs a final tick, builds the session's persistence payload,
// hands it to the persist collaborator, announces completion over the
// event bus, and resets the lifecycle back to idle (spec.md §4.7).
func (f *FitnessSession) EndSession(ctx context.Context, reason model.EndReason, now time.Time) (model.Summary, error) {
	f.mu.Lock()

	if f.machine.State() != model.StateActive {
		f.mu.Unlock()
		return model.Summary{}, fcerr.New(fcerr.KindSessionMissing, "E_SESSION_NOT_ACTIVE", "no active session to end")
	}

	f.tick(now)

	event := model.EventExplicitEnd
	if reason == model.EndReasonNoActivity || reason == model.EndReasonEmptyRoster {
		event = model.EventTimeout
	}
	if _, err := f.machine.Fire(ctx, event); err != nil {
		f.mu.Unlock()
		return model.Summary{}, err
	}

	input := f.buildPersistInput(reason, now)
	summary := f.summaryLocked()
	sessionID := f.sessionID

	f.mu.Unlock()

	if err := f.persistNow(ctx, input); err != nil {
		log.WithComponent("session").Error().
			Str(log.FieldSessionID, sessionID).
			Err(err).
			Msg("session persist failed")
	}

	if f.bus != nil {
		_ = f.bus.Publish(ctx, TopicSessionEnded, eventbus.Message{
			Topic:   TopicSessionEnded,
			Payload: summary,
		})
	}

	f.mu.Lock()
	_, _ = f.machine.Fire(ctx, model.EventReset)
	f.mu.Unlock()

	return summary, nil
}

// persistNow collapses concurrent calls for the same session id into a
// single in-flight persist, so an explicit EndSession racing an autosave
// tick never double-writes (spec.md §5's suspension-point requirement).
func (f *FitnessSession) persistNow(ctx context.Context, in model.PersistInput) error {
	if f.persist == nil {
		return nil
	}
	_, err, _ := f.saving.Do(in.SessionID, func() (any, error) {
		return nil, f.persist(ctx, in)
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.IncPersistenceOutcome(outcome)
	return err
}

// GetHistoricalParticipants returns every participant id ever observed in
// the running session, excluding identities that were migrated away by a
// grace-period transfer (spec.md §4.7).
func (f *FitnessSession) GetHistoricalParticipants() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	transferred := f.xfer.TransferredUsers()
	seen := map[string]struct{}{}
	for _, id := range f.tl.GetAllParticipantIds() {
		if _, gone := transferred[id]; gone {
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

// Summary returns the orchestrator's external read-model (spec.md §6
// "summary").
func (f *FitnessSession) Summary() model.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summaryLocked()
}

func (f *FitnessSession) summaryLocked() model.Summary {
	totals := f.treasureBox.GetPerUserTotals()

	var participants []model.ParticipantSummary
	for _, roster := range f.users.Roster() {
		rec, ok := f.devices.Get(roster.HRDeviceID)
		hr := 0
		zoneID := ""
		if ok {
			hr = rec.HeartRate
			if z, found := f.zones.ResolveZone(roster.UserID, hr); found {
				zoneID = z.ID
			}
		}
		participants = append(participants, model.ParticipantSummary{
			UserID:      roster.UserID,
			DisplayName: roster.DisplayName,
			HeartRate:   hr,
			ZoneID:      zoneID,
			CoinsTotal:  totals[roster.UserID],
			Active:      f.activityMon.IsActive(roster.UserID),
		})
	}

	return model.Summary{
		SessionID:    f.sessionID,
		State:        f.machine.State(),
		StartTime:    f.startTime,
		TickCount:    f.tickCount,
		Participants: participants,
		GlobalCoins:  f.treasureBox.GetGlobalTotal(),
		Governance:   f.govSnapshot,
	}
}

func (f *FitnessSession) buildPersistInput(reason model.EndReason, now time.Time) model.PersistInput {
	return model.PersistInput{
		SessionID:   f.sessionID,
		Timezone:    f.cfg.Timezone,
		StartTime:   f.startTime,
		EndTime:     now,
		EndReason:   reason,
		TickCount:   f.tickCount,
		Roster:      f.users.Roster(),
		Entities:    f.users.Entities(),
		TreasureBox: f.treasureBox.Summary(),
		Timeline:    f.tl.Summary(),
	}
}
