package firing

import (
	"time"

	"go.uber.org/zap"

	"github.com/edgeflow/kilnd/internal/kiln/errcode"
	"github.com/edgeflow/kilnd/internal/kiln/history"
	"github.com/edgeflow/kilnd/internal/kiln/pidctl"
)

// drainInboxLocked applies every command currently queued, in FIFO order,
// within a single tick. Draining the whole inbox rather than one command
// per tick is what gives "coalescing" semantics for a command sequence
// like Pause followed by Resume: applying both in order nets out to the
// same state a true coalescing queue would produce, without needing
// per-kind replacement logic at enqueue time (spec.md §4.4).
func (e *Engine) drainInboxLocked() {
	for {
		select {
		case cmd := <-e.inbox:
			e.applyCommandLocked(cmd)
		default:
			return
		}
	}
}

func (e *Engine) applyCommandLocked(cmd Command) {
	now := e.clock.Now()
	switch cmd.Kind {
	case CmdStart:
		e.handleStartLocked(cmd, now)
	case CmdStop:
		e.handleStopLocked(now)
	case CmdPause:
		e.handlePauseLocked(now)
	case CmdResume:
		e.handleResumeLocked(now)
	case CmdSkipSegment:
		e.handleSkipSegmentLocked(now)
	case CmdAutotuneStart:
		e.handleAutotuneStartLocked(cmd, now)
	case CmdAutotuneStop:
		e.handleAutotuneStopLocked()
	}
}

// handleStartLocked begins a new firing. Ignored if a firing is already
// active (spec.md §4.4 command semantics).
func (e *Engine) handleStartLocked(cmd Command, now time.Time) {
	if e.isActiveLocked() {
		e.log.Warn("ignoring Start command: a firing is already active")
		return
	}

	e.activeProfile = cmd.Profile
	e.firingID = e.newFiringID()
	e.lastErrorCode = errcode.None
	e.peakTempC = e.lastMeasuredC
	e.segmentIndex = 0
	e.holding = false
	e.paused = false

	if cmd.DelayMinutes > 0 {
		e.status = DelayPending
		e.delayDeadline = now.Add(time.Duration(cmd.DelayMinutes) * time.Minute)
		return
	}
	e.delayDeadline = time.Time{}
	e.beginHeatingLocked(now)
}

// handleStopLocked aborts an active firing (spec.md §4.4).
func (e *Engine) handleStopLocked(now time.Time) {
	if !e.isActiveLocked() {
		return
	}
	e.actuator.SetDuty(0)
	e.status = Idle
	e.writeHistoryLocked(history.OutcomeAborted, now)
	e.flushElementHoursForceLocked(now)
}

// handlePauseLocked freezes segment and guard-window elapsed time by
// capturing it as a duration; handleResumeLocked later re-bases the start
// timestamps from that captured duration so downstream elapsed-time math
// (segmentElapsedLocked, guardElapsedLocked) needs no special-casing for
// the paused interval (spec.md §9 pause semantics).
func (e *Engine) handlePauseLocked(now time.Time) {
	if !e.isActiveLocked() || e.paused {
		return
	}
	e.pausedSegmentElapsed = e.segmentElapsedLocked(now)
	e.pausedGuardElapsed = e.guardElapsedLocked(now)
	e.wasHolding = e.holding
	e.paused = true
	e.actuator.SetDuty(0)
	e.status = Paused
}

func (e *Engine) handleResumeLocked(now time.Time) {
	if e.status != Paused {
		return
	}
	e.paused = false
	e.segmentStartAt = now.Add(-e.pausedSegmentElapsed)
	e.guardWindowStartAt = now.Add(-e.pausedGuardElapsed)
	if e.wasHolding {
		e.holding = true
		e.status = Holding
		return
	}
	seg := e.activeProfile.Segments[e.segmentIndex]
	if seg.RampCPerHour >= 0 {
		e.status = Heating
	} else {
		e.status = Cooling
	}
}

// handleSkipSegmentLocked advances past the current segment immediately,
// regardless of hold timer or ramp progress (spec.md §4.4, §8 scenario 6).
func (e *Engine) handleSkipSegmentLocked(now time.Time) {
	if !e.isActiveLocked() || e.status == DelayPending {
		return
	}
	e.advanceSegmentLocked(now)
}

// handleAutotuneStartLocked rejects requests above the configured safety
// ceiling and otherwise begins a relay-method auto-tune run (spec.md §4.3,
// §4.4).
func (e *Engine) handleAutotuneStartLocked(cmd Command, now time.Time) {
	if e.isActiveLocked() {
		e.log.Warn("ignoring AutotuneStart command: a firing is already active")
		return
	}
	if cmd.SetpointC > e.maxSafeTemp() {
		e.log.Warn("rejecting AutotuneStart: setpoint exceeds safety ceiling",
			zap.Float64("setpoint_c", cmd.SetpointC))
		return
	}
	e.autotune = pidctl.NewAutotune(cmd.SetpointC, cmd.HysteresisC, now)
	e.status = Autotune
	e.lastErrorCode = errcode.None
}

func (e *Engine) handleAutotuneStopLocked() {
	if e.status != Autotune {
		return
	}
	e.actuator.SetDuty(0)
	e.autotune = nil
	e.status = Idle
}

// stepAutotuneLocked drives one relay-method step. On success the new
// gains are persisted and loaded into the live PID controller; on failure
// or timeout the engine returns to Idle without persisting anything
// (spec.md §4.3, §7).
func (e *Engine) stepAutotuneLocked(measured float64, now time.Time) {
	e.autotune.Step(measured, now)
	if e.autotune.RelayOutput() {
		e.actuator.SetDuty(1)
	} else {
		e.actuator.SetDuty(0)
	}

	switch e.autotune.Phase() {
	case pidctl.PhaseComplete:
		gains := e.autotune.Result()
		if err := e.gainStore.Save(gains); err != nil {
			e.log.Error("failed to persist autotune gains", zap.Error(err))
		}
		e.pid.SetGains(gains)
		e.actuator.SetDuty(0)
		e.autotune = nil
		e.status = Idle
	case pidctl.PhaseFailed:
		e.log.Warn("autotune failed", zap.Error(e.autotune.Err()))
		e.lastErrorCode = errcode.AutotuneFailed
		e.actuator.SetDuty(0)
		e.autotune = nil
		e.status = Idle
	}
}
