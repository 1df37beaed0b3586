// Package safety implements the Safety Supervisor (spec.md §4.2): the sole
// writer of the SSR GPIO output. It translates a duty setpoint into a
// time-proportional drive signal, watches the thermocouple for fault/stale/
// over-temperature conditions, and latches an emergency stop that only an
// explicit ClearEmergency releases.
package safety

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgeflow/kilnd/internal/hal"
	"github.com/edgeflow/kilnd/internal/kiln/clock"
	"github.com/edgeflow/kilnd/internal/kiln/errcode"
	"github.com/edgeflow/kilnd/internal/kiln/eventbus"
	"github.com/edgeflow/kilnd/internal/kiln/thermocouple"
	"github.com/edgeflow/kilnd/internal/logger"
)

// LoopInterval is the supervisor's fixed cadence (spec.md §4.2, §5).
const LoopInterval = 500 * time.Millisecond

// Window is the time-proportional SSR duty window (spec.md §4.2).
const Window = 2000 * time.Millisecond

// FaultGraceDuration is how long a fault-free sample may be absent before
// a sensor fault or staleness becomes an emergency (spec.md §4.2, §5).
const FaultGraceDuration = 5 * time.Second

// MaxAllowedTempC is the absolute ceiling regardless of configured
// max_safe_temp (spec.md §4.2).
const MaxAllowedTempC = 1400.0

// Sampler is the subset of thermocouple.Sensor the supervisor depends on.
type Sampler interface {
	GetLatest() thermocouple.Reading
}

// Supervisor is the single writer of the SSR GPIO pin.
type Supervisor struct {
	gpio      hal.GPIOProvider
	sensor    Sampler
	clock     clock.Clock
	bus       *eventbus.Bus
	ssrPin    int
	log       *zap.Logger
	maxSafeFn func() float64 // reads current KilnSettings.MaxSafeTempC

	mu               sync.Mutex
	duty             float64
	windowStart      time.Time
	lastFaultFree    time.Time
	lastSampleStamp  int64
	lastSampleChange time.Time
	emergency        bool
	lastErrorCode    errcode.FiringErrorCode
	ventOpen         bool
}

// Config configures a Supervisor.
type Config struct {
	SSRPin int
	// MaxSafeTempFunc returns the current configured safe ceiling; the
	// supervisor clamps it to MaxAllowedTempC regardless.
	MaxSafeTempFunc func() float64
}

// New creates a Supervisor. It does not take ownership of gpio pin
// configuration until Run is first called.
func New(g hal.GPIOProvider, sensor Sampler, clk clock.Clock, bus *eventbus.Bus, cfg Config) *Supervisor {
	maxFn := cfg.MaxSafeTempFunc
	if maxFn == nil {
		maxFn = func() float64 { return MaxAllowedTempC }
	}
	now := clk.Now()
	return &Supervisor{
		gpio:             g,
		sensor:           sensor,
		clock:            clk,
		bus:              bus,
		ssrPin:           cfg.SSRPin,
		log:              logger.WithTask("safety"),
		maxSafeFn:        maxFn,
		windowStart:      now,
		lastFaultFree:    now,
		lastSampleChange: now,
	}
}

// SetDuty sets the desired SSR duty cycle in [0,1]. It is a no-op (forces 0)
// while the emergency latch holds (spec.md §4.2).
func (s *Supervisor) SetDuty(duty float64) {
	if duty < 0 {
		duty = 0
	}
	if duty > 1 {
		duty = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emergency {
		s.duty = 0
		return
	}
	s.duty = duty
}

// Duty returns the current duty setpoint.
func (s *Supervisor) Duty() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duty
}

// Emergency reports whether the emergency latch is set.
func (s *Supervisor) Emergency() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emergency
}

// LastErrorCode returns the last-latched error code.
func (s *Supervisor) LastErrorCode() errcode.FiringErrorCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErrorCode
}

// ClearEmergency releases the latch. Only explicit caller action does this
// (spec.md §4.2); the supervisor loop never clears it on its own.
func (s *Supervisor) ClearEmergency() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emergency = false
	s.lastErrorCode = errcode.None
	s.ventOpen = false
	s.lastFaultFree = s.clock.Now()
}

// Run drives the SSR output and evaluates safety conditions until ctx is
// canceled. It configures the SSR pin as output on entry.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.gpio.SetMode(s.ssrPin, hal.Output); err != nil {
		return err
	}

	ticker := time.NewTicker(LoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.gpio.DigitalWrite(s.ssrPin, false)
			return ctx.Err()
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Supervisor) tick() {
	reading := s.sensor.GetLatest()
	now := s.clock.Now()

	s.mu.Lock()
	if reading.TimestampMicros != s.lastSampleStamp {
		s.lastSampleStamp = reading.TimestampMicros
		s.lastSampleChange = now
		if !reading.Faulted() {
			s.lastFaultFree = now
		}
	}

	faultStale := reading.Faulted() && now.Sub(s.lastFaultFree) > FaultGraceDuration
	sensorStale := now.Sub(s.lastSampleChange) > FaultGraceDuration
	ceiling := s.maxSafeFn()
	if ceiling <= 0 || ceiling > MaxAllowedTempC {
		ceiling = MaxAllowedTempC
	}
	overTemp := !reading.Faulted() && reading.TemperatureC > ceiling

	var reason errcode.FiringErrorCode
	switch {
	case faultStale:
		reason = errcode.TempFault
	case overTemp:
		reason = errcode.OverTemp
	case sensorStale:
		reason = errcode.TempFault
	}

	tripped := reason != "" && !s.emergency
	if tripped {
		s.latchLocked(reason)
	}

	duty := s.duty
	emergency := s.emergency
	windowStart := s.windowStart
	s.mu.Unlock()

	s.driveSSR(now, emergency, duty, windowStart)
}

// latchLocked must be called with s.mu held.
func (s *Supervisor) latchLocked(reason errcode.FiringErrorCode) {
	s.emergency = true
	s.lastErrorCode = reason
	s.duty = 0
	s.ventOpen = true
	s.log.Warn("emergency stop latched", zap.String("reason", string(reason)))
	s.bus.Publish(eventbus.KindEmergencyStop, eventbus.EmergencyStop{Reason: string(reason)})
	if reason == errcode.TempFault {
		s.bus.Publish(eventbus.KindTempFault, eventbus.TempFault{StaleFor: s.clock.Now().Sub(s.lastFaultFree).Seconds()})
	}
}

// driveSSR applies the time-proportional window translation and writes the
// GPIO level outside the critical section (spec.md §4.2, §5).
func (s *Supervisor) driveSSR(now time.Time, emergency bool, duty float64, windowStart time.Time) {
	if emergency {
		_ = s.gpio.DigitalWrite(s.ssrPin, false)
		return
	}

	elapsed := now.Sub(windowStart)
	if elapsed >= Window {
		s.mu.Lock()
		s.windowStart = now
		s.mu.Unlock()
		elapsed = 0
	}

	onFor := time.Duration(duty * float64(Window))
	level := elapsed < onFor
	_ = s.gpio.DigitalWrite(s.ssrPin, level)
}

// VentOpen reports whether the vent relay has been opened by an emergency
// stop. Cleared only by ClearEmergency.
func (s *Supervisor) VentOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ventOpen
}
