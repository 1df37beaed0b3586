package firing

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/edgeflow/kilnd/internal/kiln/errcode"
	"github.com/edgeflow/kilnd/internal/kiln/history"
	"github.com/edgeflow/kilnd/internal/kiln/profile"
)

// runSegmentLocked implements the heating/cooling/holding segment logic
// (spec.md §4.4). Called only when status ∈ {Heating, Cooling, Holding}.
func (e *Engine) runSegmentLocked(measured, dt float64, now time.Time) {
	seg := e.activeProfile.Segments[e.segmentIndex]
	target := seg.TargetC

	if !e.holding {
		if reason := e.checkGuardsLocked(seg, measured, now); reason != "" {
			e.tripEmergencyLocked(reason, now)
			return
		}
	}

	setpoint := e.dynamicSetpointLocked(seg, now, target)
	e.lastSetpointC = setpoint

	duty := e.pid.Compute(setpoint, measured, dt)
	e.actuator.SetDuty(duty)

	if duty > 0 {
		e.elementHoursAccum += dt
	}
	e.flushElementHoursLocked(now)
	e.sampleTraceLocked(measured, now)

	if !e.holding {
		withinMeasured := math.Abs(measured-target) < HoldEnterMeasuredToleranceC
		withinSetpoint := math.Abs(setpoint-target) < HoldEnterSetpointToleranceC
		if withinMeasured && withinSetpoint {
			e.holding = true
			e.holdEnteredAt = now
			e.status = Holding
		}
		return
	}

	e.evaluateHoldLocked(seg, now)
}

// checkGuardsLocked runs the kiln-not-rising and runaway guards. Returns a
// non-empty FiringErrorCode if a guard trips.
func (e *Engine) checkGuardsLocked(seg profile.Segment, measured float64, now time.Time) errcode.FiringErrorCode {
	if e.status == Heating && seg.RampCPerHour > 0 {
		if e.guardElapsedLocked(now) >= NotRisingGuardWindow {
			rise := measured - e.guardWindowStartTemp
			e.guardWindowStartAt = now
			e.guardWindowStartTemp = measured
			if rise < NotRisingMinDeltaC {
				return errcode.NotRising
			}
		}
	}

	segElapsed := e.segmentElapsedLocked(now)
	if segElapsed > RunawayMinSegmentElapsed && math.Abs(seg.RampCPerHour) > RunawayMinProgrammedRate {
		risen := measured - e.segmentStartTemp
		observedRate := risen / segElapsed.Hours()
		if observedRate > RunawayFactor*seg.RampCPerHour && observedRate > RunawayMinObservedRate {
			return errcode.Runaway
		}
	}

	return ""
}

// dynamicSetpointLocked computes the ramping setpoint, clamped so it never
// overshoots the segment target (spec.md §4.4).
func (e *Engine) dynamicSetpointLocked(seg profile.Segment, now time.Time, target float64) float64 {
	elapsedS := e.segmentElapsedLocked(now).Seconds()
	setpoint := e.segmentStartTemp + (seg.RampCPerHour/3600)*elapsedS

	if seg.RampCPerHour >= 0 {
		if setpoint > target {
			setpoint = target
		}
	} else {
		if setpoint < target {
			setpoint = target
		}
	}
	return setpoint
}

func (e *Engine) evaluateHoldLocked(seg profile.Segment, now time.Time) {
	if seg.HoldMinutes == 0 {
		return // indefinite hold; only SkipSegment/Stop advance
	}
	elapsed := now.Sub(e.holdEnteredAt)
	if elapsed >= time.Duration(seg.HoldMinutes)*time.Minute {
		e.advanceSegmentLocked(now)
	}
}

// advanceSegmentLocked moves to the next segment, or finalizes the firing
// as Complete if none remain (spec.md §4.4).
func (e *Engine) advanceSegmentLocked(now time.Time) {
	next := e.segmentIndex + 1
	if next >= len(e.activeProfile.Segments) {
		e.finalizeLocked(history.OutcomeComplete, now)
		return
	}
	e.segmentIndex = next
	nextSeg := e.activeProfile.Segments[next]
	e.startSegmentLocked(now, e.lastMeasuredC)
	if nextSeg.RampCPerHour >= 0 {
		e.status = Heating
	} else {
		e.status = Cooling
	}
}

func (e *Engine) finalizeLocked(outcome history.Outcome, now time.Time) {
	e.actuator.SetDuty(0)
	e.status = Complete
	e.writeHistoryLocked(outcome, now)
	e.flushElementHoursForceLocked(now)
}

func (e *Engine) flushElementHoursForceLocked(now time.Time) {
	if err := e.elementHrs.Save(e.elementHoursAccum); err != nil {
		e.log.Error("failed to flush element-hours counter", zap.Error(err))
	}
	e.lastElementFlushAt = now
}

// estimatedRemainingLocked projects the remaining ramp/hold time across the
// current and any following segments from the current measured
// temperature, for display only (spec.md §3 FiringProgress). It returns 0
// outside Heating/Holding/Cooling, and treats an indefinite hold
// (HoldMinutes == 0) as contributing no further time since it has no
// natural end.
func (e *Engine) estimatedRemainingLocked(now time.Time) float64 {
	switch e.status {
	case Heating, Holding, Cooling:
	default:
		return 0
	}

	segs := e.activeProfile.Segments
	if e.segmentIndex >= len(segs) {
		return 0
	}

	var remaining float64

	cur := segs[e.segmentIndex]
	if e.holding {
		if cur.HoldMinutes > 0 {
			left := time.Duration(cur.HoldMinutes)*time.Minute - now.Sub(e.holdEnteredAt)
			if left > 0 {
				remaining += left.Seconds()
			}
		}
	} else {
		if cur.RampCPerHour != 0 {
			remaining += math.Abs(cur.TargetC-e.lastMeasuredC) / math.Abs(cur.RampCPerHour) * 3600
		}
		remaining += float64(cur.HoldMinutes) * 60
	}

	prevTarget := cur.TargetC
	for i := e.segmentIndex + 1; i < len(segs); i++ {
		seg := segs[i]
		if seg.RampCPerHour != 0 {
			remaining += math.Abs(seg.TargetC-prevTarget) / math.Abs(seg.RampCPerHour) * 3600
		}
		remaining += float64(seg.HoldMinutes) * 60
		prevTarget = seg.TargetC
	}

	return remaining
}

func (e *Engine) tripEmergencyLocked(reason errcode.FiringErrorCode, now time.Time) {
	e.lastErrorCode = reason
	e.status = Error
	e.actuator.SetDuty(0)
	e.writeHistoryLocked(history.OutcomeError, now)
	e.log.Warn("firing engine tripped a guard", zap.String("reason", string(reason)))
}
