package firing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgeflow/kilnd/internal/kiln/clock"
	"github.com/edgeflow/kilnd/internal/kiln/errcode"
	"github.com/edgeflow/kilnd/internal/kiln/eventbus"
	"github.com/edgeflow/kilnd/internal/kiln/history"
	"github.com/edgeflow/kilnd/internal/kiln/pidctl"
	"github.com/edgeflow/kilnd/internal/kiln/profile"
	"github.com/edgeflow/kilnd/internal/kiln/thermocouple"
	"github.com/edgeflow/kilnd/internal/logger"
)

// Sensor is the subset of thermocouple.Sensor the engine depends on.
type Sensor interface {
	GetLatest() thermocouple.Reading
}

// Actuator is the subset of safety.Supervisor the engine depends on: it
// publishes desired duty and observes the emergency latch, never calling
// into the supervisor beyond this (spec.md §9).
type Actuator interface {
	SetDuty(duty float64)
	Emergency() bool
	LastErrorCode() errcode.FiringErrorCode
}

// HistorySink is the subset of history.Store the engine depends on.
type HistorySink interface {
	NewTrace(firingID string) error
	AppendTraceSample(firingID string, elapsedSeconds, tempC float64) error
	Append(r history.Record) error
}

// ElementHoursPersistence persists the accumulated SSR-on seconds counter
// (spec.md §4.4, §6).
type ElementHoursPersistence interface {
	Load() (float64, error)
	Save(seconds float64) error
}

// GainPersistence persists PID gains (spec.md §4.3, §6).
type GainPersistence interface {
	Load() (pidctl.Gains, error)
	Save(pidctl.Gains) error
}

// MaxSafeTempFunc returns the currently configured safety ceiling, used to
// validate AutotuneStart requests (spec.md §4.4).
type MaxSafeTempFunc func() float64

// IDGenerator produces a new firing id. Injected so tests are deterministic.
type IDGenerator func() string

// Config wires an Engine's capabilities together.
type Config struct {
	Sensor      Sensor
	Actuator    Actuator
	Clock       clock.Clock
	History     HistorySink
	ElementHrs  ElementHoursPersistence
	Gains       GainPersistence
	Bus         *eventbus.Bus
	MaxSafeTemp MaxSafeTempFunc
	NewFiringID IDGenerator
	TCOffsetC   func() float64
}

// Engine is the Firing Engine: a cooperative 1 Hz state machine.
type Engine struct {
	sensor      Sensor
	actuator    Actuator
	clock       clock.Clock
	history     HistorySink
	elementHrs  ElementHoursPersistence
	gainStore   GainPersistence
	bus         *eventbus.Bus
	maxSafeTemp MaxSafeTempFunc
	newFiringID IDGenerator
	tcOffset    func() float64
	log         *zap.Logger

	inbox chan Command

	pid *pidctl.Controller

	mu sync.RWMutex

	status      Status
	activeProfile profile.Profile
	segmentIndex  int
	firingID      string
	firingStart   time.Time
	peakTempC     float64
	lastErrorCode errcode.FiringErrorCode

	segmentStartAt   time.Time
	segmentStartTemp float64

	guardWindowStartAt   time.Time
	guardWindowStartTemp float64

	delayDeadline time.Time

	holding        bool
	holdEnteredAt  time.Time

	paused               bool
	pausedSegmentElapsed time.Duration
	pausedGuardElapsed   time.Duration
	wasHolding           bool

	autotune *pidctl.Autotune

	elementHoursAccum  float64
	lastElementFlushAt time.Time
	lastTraceSampleAt  time.Time

	lastMeasuredC float64
	lastSetpointC float64
	lastTickAt    time.Time
}

// New creates an Engine in the Idle state, loading persisted PID gains and
// the element-hours counter.
func New(cfg Config) (*Engine, error) {
	gains, err := cfg.Gains.Load()
	if err != nil {
		return nil, fmt.Errorf("load pid gains: %w", err)
	}
	elementHrs, err := cfg.ElementHrs.Load()
	if err != nil {
		return nil, fmt.Errorf("load element-hours counter: %w", err)
	}
	if cfg.NewFiringID == nil {
		cfg.NewFiringID = defaultFiringID
	}
	if cfg.TCOffsetC == nil {
		cfg.TCOffsetC = func() float64 { return 0 }
	}

	now := cfg.Clock.Now()
	return &Engine{
		sensor:             cfg.Sensor,
		actuator:           cfg.Actuator,
		clock:              cfg.Clock,
		history:            cfg.History,
		elementHrs:         cfg.ElementHrs,
		gainStore:          cfg.Gains,
		bus:                cfg.Bus,
		maxSafeTemp:        cfg.MaxSafeTemp,
		newFiringID:        cfg.NewFiringID,
		tcOffset:           cfg.TCOffsetC,
		log:                logger.WithTask("firing"),
		inbox:              make(chan Command, InboxCapacity),
		pid:                pidctl.New(gains),
		status:             Idle,
		elementHoursAccum:  elementHrs,
		lastElementFlushAt: now,
		lastTraceSampleAt:  now,
	}, nil
}

func defaultFiringID() string {
	return fmt.Sprintf("f%d", time.Now().UnixNano())
}

// Enqueue submits a command, waiting up to EnqueueTimeout for inbox room.
// Timing out surfaces QueueFull to the caller without touching engine
// state (spec.md §4.4, §5, §7).
func (e *Engine) Enqueue(cmd Command) error {
	select {
	case e.inbox <- cmd:
		return nil
	case <-time.After(EnqueueTimeout):
		return ErrQueueFull
	}
}

// GetProgress returns a consistent snapshot (spec.md §6).
func (e *Engine) GetProgress() Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := e.status
	if status == DelayPending {
		status = Idle
	}

	p := Progress{
		Status:        status,
		Active:        e.isActiveLocked(),
		FiringID:      e.firingID,
		SegmentIndex:  e.segmentIndex,
		SetpointC:     e.lastSetpointC,
		MeasuredC:     e.lastMeasuredC,
		PeakTempC:     e.peakTempC,
		LastErrorCode: e.lastErrorCode,
		StartTime:     e.firingStart,
	}
	if e.activeProfile.ID != "" {
		p.ProfileID = e.activeProfile.ID
		p.SegmentCount = len(e.activeProfile.Segments)
		if e.segmentIndex < len(e.activeProfile.Segments) {
			p.TargetC = e.activeProfile.Segments[e.segmentIndex].TargetC
		}
	}
	if !e.firingStart.IsZero() {
		p.FiringElapsedS = e.clock.Now().Sub(e.firingStart).Seconds()
	}
	now := e.clock.Now()
	p.SegmentElapsedS = e.segmentElapsedLocked(now).Seconds()
	p.EstimatedRemainingS = e.estimatedRemainingLocked(now)
	if e.autotune != nil {
		p.AutotunePhase = autotunePhaseName(e.autotune.Phase())
	}
	return p
}

// isActiveLocked reports whether a firing is in progress, including the
// pre-heat delay countdown and a paused hold (spec.md §3 FiringProgress).
func (e *Engine) isActiveLocked() bool {
	switch e.status {
	case Idle, Complete, Error:
		return false
	default:
		return true
	}
}

func autotunePhaseName(p pidctl.AutotunePhase) string {
	switch p {
	case pidctl.PhaseHeatingToSetpoint:
		return "HeatingToSetpoint"
	case pidctl.PhaseRelayCycling:
		return "RelayCycling"
	case pidctl.PhaseComplete:
		return "Complete"
	case pidctl.PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// GetErrorCode returns the last-set FiringErrorCode (spec.md §6).
func (e *Engine) GetErrorCode() errcode.FiringErrorCode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErrorCode
}

// GetElementHoursSeconds returns accumulated seconds of SSR-on time
// (spec.md §6).
func (e *Engine) GetElementHoursSeconds() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.elementHoursAccum
}

// FlushElementHours force-persists the element-hours counter regardless of
// ElementHoursFlushInterval, for a maintenance scheduler to call as a
// safety net alongside runSegmentLocked's own flush, which saves at most
// once per ElementHoursFlushInterval.
func (e *Engine) FlushElementHours() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.elementHrs.Save(e.elementHoursAccum)
}

// Run ticks the engine at TickInterval until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick implements the per-second state machine step (spec.md §4.4).
func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()

	reading := e.sensor.GetLatest()
	measured := reading.TemperatureC + e.tcOffset()
	e.lastMeasuredC = measured
	if measured > e.peakTempC {
		e.peakTempC = measured
	}

	var dt float64
	if e.lastTickAt.IsZero() {
		dt = TickInterval.Seconds()
	} else {
		dt = now.Sub(e.lastTickAt).Seconds()
	}
	e.lastTickAt = now

	// Drain commands after taking this tick's reading so a same-tick Start
	// bases its first segment on a fresh measurement, not a stale one.
	e.drainInboxLocked()

	if e.status == DelayPending && !e.delayDeadline.IsZero() && !now.Before(e.delayDeadline) {
		e.beginHeatingLocked(now)
	}

	if e.actuator.Emergency() {
		e.handleEmergencyLocked(now)
		return
	}

	switch e.status {
	case Paused, Idle, Complete, Error:
		if e.status != Paused {
			e.actuator.SetDuty(0)
		}
		return
	case Autotune:
		e.stepAutotuneLocked(measured, now)
		return
	case DelayPending:
		e.actuator.SetDuty(0)
		return
	}

	e.runSegmentLocked(measured, dt, now)
}

func (e *Engine) handleEmergencyLocked(now time.Time) {
	if e.status == Idle || e.status == Complete || e.status == Error {
		e.actuator.SetDuty(0)
		return
	}
	code := e.actuator.LastErrorCode()
	if code == "" {
		code = errcode.EmergencyStop
	}
	e.lastErrorCode = code
	e.status = Error
	e.actuator.SetDuty(0)
	e.writeHistoryLocked(history.OutcomeError, now)
}

func (e *Engine) beginHeatingLocked(now time.Time) {
	e.status = Heating
	e.segmentIndex = 0
	e.startSegmentLocked(now, e.lastMeasuredC)
	e.firingStart = now
	if err := e.history.NewTrace(e.firingID); err != nil {
		e.log.Warn("failed to create trace file", zap.Error(err))
	}
}

func (e *Engine) startSegmentLocked(now time.Time, startTemp float64) {
	e.segmentStartAt = now
	e.segmentStartTemp = startTemp
	e.guardWindowStartAt = now
	e.guardWindowStartTemp = startTemp
	e.holding = false
	e.pid.Reset()
	if g, err := e.gainStore.Load(); err != nil {
		e.log.Warn("failed to reload pid gains, keeping current ones", zap.Error(err))
	} else {
		e.pid.SetGains(g)
	}
}

// segmentElapsedLocked returns the current segment's elapsed duration,
// accounting for a frozen Paused window (spec.md §9 pause semantics).
func (e *Engine) segmentElapsedLocked(now time.Time) time.Duration {
	if e.paused {
		return e.pausedSegmentElapsed
	}
	if e.segmentStartAt.IsZero() {
		return 0
	}
	return now.Sub(e.segmentStartAt)
}

func (e *Engine) guardElapsedLocked(now time.Time) time.Duration {
	if e.paused {
		return e.pausedGuardElapsed
	}
	if e.guardWindowStartAt.IsZero() {
		return 0
	}
	return now.Sub(e.guardWindowStartAt)
}

func (e *Engine) writeHistoryLocked(outcome history.Outcome, now time.Time) {
	if e.firingID == "" {
		return
	}
	rec := history.Record{
		ID:          e.firingID,
		ProfileID:   e.activeProfile.ID,
		ProfileName: e.activeProfile.Name,
		StartTime:   e.firingStart,
		EndTime:     now,
		Outcome:     outcome,
		ErrorCode:   e.lastErrorCode,
		PeakTempC:   e.peakTempC,
	}
	if err := e.history.Append(rec); err != nil {
		e.log.Error("failed to persist firing history record", zap.Error(err))
	}
	e.bus.Publish(eventbus.KindFiringComplete, eventbus.FiringComplete{
		FiringID: e.firingID,
		Outcome:  string(outcome),
		PeakTemp: e.peakTempC,
	})
}

func (e *Engine) flushElementHoursLocked(now time.Time) {
	if now.Sub(e.lastElementFlushAt) < ElementHoursFlushInterval {
		return
	}
	if err := e.elementHrs.Save(e.elementHoursAccum); err != nil {
		e.log.Error("failed to flush element-hours counter", zap.Error(err))
	}
	e.lastElementFlushAt = now
}

func (e *Engine) sampleTraceLocked(measured float64, now time.Time) {
	if now.Sub(e.lastTraceSampleAt) < TraceSampleInterval {
		return
	}
	e.lastTraceSampleAt = now
	elapsed := now.Sub(e.firingStart).Seconds()
	if err := e.history.AppendTraceSample(e.firingID, elapsed, measured); err != nil {
		e.log.Warn("failed to append trace sample", zap.Error(err))
	}
}
