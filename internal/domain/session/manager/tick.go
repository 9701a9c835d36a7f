// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"context"
	"time"

	"github.com/fitcore/fitcore/internal/domain/device"
	"github.com/fitcore/fitcore/internal/domain/governance"
	"github.com/fitcore/fitcore/internal/domain/session/model"
	"github.com/fitcore/fitcore/internal/domain/timeline"
	"github.com/fitcore/fitcore/internal/log"
	"github.com/fitcore/fitcore/internal/metrics"
)

func (f *FitnessSession) deviceThresholds() device.Thresholds {
	dt := f.cfg.DeviceThresholds
	return device.Thresholds{
		Inactive: time.Duration(dt.InactiveMs) * time.Millisecond,
		Remove:   time.Duration(dt.RemoveMs) * time.Millisecond,
		RPMZero:  time.Duration(dt.RPMZeroMs) * time.Millisecond,
	}
}

// tick runs the session's per-interval pipeline (spec.md §4.7). Callers
// must hold f.mu. Ordering is load-bearing: ActivityMonitor.RecordTick
// must run before TreasureBox.ProcessTick (invariant I4 — a user absent
// from the active set this tick never accrues coins), and Timeline.Tick
// must run after the coin fan-out so coins_total lands in the same
// column as the activity that earned it.
func (f *FitnessSession) tick(now time.Time) {
	// 1. Device registry: advance the inactivity ramp and drop devices
	// past their removal deadline.
	removed := f.devices.Prune(now, f.deviceThresholds())
	for _, id := range removed {
		f.users.Clear(id)
		metrics.IncDevicesPruned("removed")
	}

	// 2. Write this tick's sanitized device-scoped columns regardless of
	// occupancy, then resolve each live device to its occupant and stage
	// the user/entity-scoped columns. A device only counts toward the
	// active set if it both delivered a fresh frame since the previous
	// tick and isn't flagged inactive — a record that's merely still
	// holding last tick's HR sample (device.go has no per-tick reset)
	// must not keep its user looking active forever.
	active := map[string]struct{}{}
	entityOf := map[string]string{}
	payload := map[string]timeline.Value{}
	intervalSec := float64(f.cfg.TickIntervalMs) / 1000
	sinceLastTick := f.lastTickAt

	for _, rec := range f.devices.All() {
		fresh := rec.LastSeen.After(sinceLastTick)

		rpm, power, speed := device.Display(rec, now, f.deviceThresholds().RPMZero)
		devKey := "device:device_" + rec.ID + ":"
		payload[devKey+"heart_rate"] = timeline.Num(float64(rec.HeartRate))
		payload[devKey+"rpm"] = timeline.Num(rpm)
		payload[devKey+"power"] = timeline.Num(power)
		payload[devKey+"distance"] = timeline.Num(rec.Distance)
		// A device created this tick has no prior interval to measure
		// rotations over; wait one tick before accumulating again.
		if rpm > 0 && !rec.JustCreated {
			payload[devKey+"rotations"] = timeline.Num(rpm * intervalSec / 60)
		}

		userID, entityID, ok := f.users.ResolveUserForDevice(rec.ID)
		if !ok {
			rec.JustCreated = false
			continue
		}
		f.users.CheckConsistency(rec.ID, userID)
		if entityID != "" {
			entityOf[userID] = entityID
		}

		hr := rec.HeartRate
		isActive := fresh && !rec.IsInactive() && hr > 0
		if isActive {
			active[userID] = struct{}{}
		}

		if isActive {
			payload["user:"+userID+":heart_rate"] = timeline.Num(float64(hr))
			payload["user:"+userID+":cadence"] = timeline.Num(rpm)
			payload["user:"+userID+":power"] = timeline.Num(power)
			payload["user:"+userID+":speed"] = timeline.Num(speed)
			if entityID != "" {
				payload["entity:"+entityID+":heart_rate"] = timeline.Num(float64(hr))
				payload["entity:"+entityID+":power"] = timeline.Num(power)
			}
			if z, found := f.zones.ResolveZone(userID, hr); found {
				payload["user:"+userID+":zone_id"] = timeline.Num(float64(z.Rank))
				if entityID != "" {
					payload["entity:"+entityID+":zone_id"] = timeline.Num(float64(z.Rank))
				}
			}
		} else {
			// Dropout hole: the staged user didn't produce a confirmed
			// active HR sample this tick, so the HR series gets an
			// explicit null rather than repeating a stale value.
			payload["user:"+userID+":heart_rate"] = timeline.Null
			if entityID != "" {
				payload["entity:"+entityID+":heart_rate"] = timeline.Null
			}
		}

		// 3. Cumulative math: heart-beats estimated from the current
		// sample held for one tick interval. Only accrues when the
		// sample backing it was actually observed this tick (I1); a
		// stalled-but-still-registered device must not keep inflating
		// the total. heart_beats is one of the metrics the timeline store
		// sums across a grace-period transfer rather than overwriting
		// (cumulativeMetrics in package timeline).
		if isActive && !rec.JustCreated {
			beats := float64(hr) * intervalSec / 60
			payload["user:"+userID+":heart_beats"] = timeline.Num(beats)
		}

		f.treasureBox.RecordHeartRate(userID, hr, now)
		rec.JustCreated = false
	}
	f.lastTickAt = now

	// 4. ActivityMonitor must see this tick's active set before
	// TreasureBox decides who accrues coins.
	f.activityMon.RecordTick(f.tickCount, active)

	// 5. TreasureBox awards coins to whoever activity confirmed active.
	f.treasureBox.ProcessTick(f.tickCount, active, now)

	// 6. Coin fan-out: publish each user's running total into this
	// tick's column, dual-written to the resolved entity when present,
	// plus the session-wide total across every accumulator.
	for userID, total := range f.treasureBox.GetPerUserTotals() {
		payload["user:"+userID+":coins_total"] = timeline.Num(float64(total))
		if entityID, ok := entityOf[userID]; ok && entityID != "" {
			payload["entity:"+entityID+":coins_total"] = timeline.Num(float64(total))
		}
	}
	payload["global:coins_total"] = timeline.Num(float64(f.treasureBox.GetGlobalTotal()))

	// 7. Commit the column. Timeline.Tick pads every previously-seen
	// series so every column keeps length == tickCount (invariant I2).
	f.tl.Tick(payload, now)

	// 8. Governance evaluates the new zone/activity snapshot.
	participants := make([]governance.Participant, 0, len(f.users.Roster()))
	for _, roster := range f.users.Roster() {
		rec, ok := f.devices.Get(roster.HRDeviceID)
		p := governance.Participant{ID: roster.UserID}
		if ok {
			_, isActive := active[roster.UserID]
			p.Active = isActive
			if z, found := f.zones.ResolveZone(roster.UserID, rec.HeartRate); found {
				p.HasZone = true
				p.ZoneRank = z.Rank
			}
		}
		participants = append(participants, p)
	}
	f.govSnapshot = f.gov.Evaluate(now, participants, f.zones.RankOf)

	// Resolved challenges are logged once, at the tick that observed the
	// transition, so the persisted timeline carries a durable record a
	// session replay can de-duplicate by (type, tickIndex, challengeId).
	if c := f.govSnapshot.Challenge; c != nil && (c.ChallengeID != f.lastChallengeID || c.Status != f.lastChallengeStatus) {
		if c.Status == governance.ChallengeSuccess || c.Status == governance.ChallengeFailed {
			f.tl.LogEvent("challenge_"+string(c.Status), map[string]any{
				"tickIndex":   f.tickCount,
				"challengeId": c.ChallengeID,
			}, now, now)
		}
		f.lastChallengeID = c.ChallengeID
		f.lastChallengeStatus = c.Status
	}

	f.tickCount++
	metrics.IncTicksProcessed(f.sessionID)
	metrics.SetActiveParticipants(len(active))
}

// checkTimeouts evaluates the two automatic end-of-session conditions
// (spec.md §4.7): no device activity at all for RemoveMs, or an empty
// roster for EmptySessionMs. It must run with f.mu held and returns the
// reason to end with, if any.
func (f *FitnessSession) checkTimeouts(now time.Time) (model.EndReason, bool) {
	if f.users.RosterSize() == 0 {
		if now.Sub(f.startTime) >= time.Duration(f.cfg.EmptySessionMs)*time.Millisecond {
			return model.EndReasonEmptyRoster, true
		}
		return "", false
	}

	lastActivity := f.startTime
	for _, rec := range f.devices.All() {
		if rec.LastSignificantActivity.After(lastActivity) {
			lastActivity = rec.LastSignificantActivity
		}
	}
	if now.Sub(lastActivity) >= time.Duration(f.cfg.RemoveMs)*time.Millisecond {
		return model.EndReasonNoActivity, true
	}
	return "", false
}

// RunTicks drives the tick pipeline on the configured cadence until ctx
// is done, mirroring the teacher's sweeper ticker-loop idiom: a thin timer
// loop around a deterministic, separately-testable step.
func (f *FitnessSession) RunTicks(ctx context.Context) {
	interval := time.Duration(f.cfg.TickIntervalMs) * time.Millisecond
	if interval <= 0 {
		return
	}
	timer := f.clk.NewTimer(interval)
	defer timer.Stop()

	log.L().Info().Dur("interval", interval).Msg("session tick loop started")

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-timer.C():
			f.tickOnce(ctx, now)
			timer.Reset(interval)
		}
	}
}

// tickOnce runs one tick and, if a timeout condition fires, ends the
// session. Exported indirectly via RunTicks; kept separate so tests can
// drive individual ticks deterministically without a timer loop.
func (f *FitnessSession) tickOnce(ctx context.Context, now time.Time) {
	f.mu.Lock()
	if f.machine.State() != model.StateActive {
		f.mu.Unlock()
		return
	}
	f.tick(now)
	reason, shouldEnd := f.checkTimeouts(now)
	f.mu.Unlock()

	if shouldEnd {
		if _, err := f.EndSession(ctx, reason, now); err != nil {
			log.WithComponent("session").Warn().Err(err).Msg("automatic session end failed")
		}
	}
}

// RunAutosave periodically persists the running session's state without
// ending it, collapsing overlapping saves via the same singleflight group
// EndSession uses (spec.md §5's suspension-point requirement).
func (f *FitnessSession) RunAutosave(ctx context.Context) {
	interval := time.Duration(f.cfg.AutosaveIntervalMs) * time.Millisecond
	if interval <= 0 || f.persist == nil {
		return
	}
	timer := f.clk.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-timer.C():
			f.autosaveOnce(ctx, now)
			timer.Reset(interval)
		}
	}
}

// autosaveOnce performs exactly one autosave pass. Deterministic and
// separately unit-testable, mirroring the teacher's SweepOnce split.
func (f *FitnessSession) autosaveOnce(ctx context.Context, now time.Time) {
	f.mu.Lock()
	if f.machine.State() != model.StateActive {
		f.mu.Unlock()
		return
	}
	input := f.buildPersistInput(model.EndReasonExplicit, now)
	sessionID := f.sessionID
	f.mu.Unlock()

	input.EndTime = time.Time{} // autosave is a checkpoint, not a real end
	if err := f.persistNow(ctx, input); err != nil {
		log.WithComponent("session").Warn().
			Str(log.FieldSessionID, sessionID).
			Err(err).
			Msg("autosave failed")
	}
}
