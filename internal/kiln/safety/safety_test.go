package safety

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflow/kilnd/internal/hal"
	"github.com/edgeflow/kilnd/internal/kiln/clock"
	"github.com/edgeflow/kilnd/internal/kiln/errcode"
	"github.com/edgeflow/kilnd/internal/kiln/eventbus"
	"github.com/edgeflow/kilnd/internal/kiln/thermocouple"
)

type fakeSampler struct {
	mu      sync.Mutex
	reading thermocouple.Reading
}

func (f *fakeSampler) set(r thermocouple.Reading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reading = r
}

func (f *fakeSampler) GetLatest() thermocouple.Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reading
}

const ssrPin = 18

func newTestSupervisor(t *testing.T) (*Supervisor, *hal.MockGPIO, *fakeSampler, *clock.Fake) {
	t.Helper()
	gpio := &hal.MockGPIO{}
	require.NoError(t, gpio.SetMode(ssrPin, hal.Output))
	sampler := &fakeSampler{}
	clk := clock.NewFake(time.Unix(0, 0))
	bus := eventbus.New()
	sup := New(gpio, sampler, clk, bus, Config{SSRPin: ssrPin})
	return sup, gpio, sampler, clk
}

func TestSetDutyClampedToUnitRange(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t)
	sup.SetDuty(-1)
	assert.Equal(t, 0.0, sup.Duty())
	sup.SetDuty(2)
	assert.Equal(t, 1.0, sup.Duty())
}

func TestOverTempLatchesEmergency(t *testing.T) {
	sup, gpio, sampler, clk := newTestSupervisor(t)
	sup.SetDuty(1.0)

	sampler.set(thermocouple.Reading{TemperatureC: 1401, TimestampMicros: 1})
	sup.tick()

	assert.True(t, sup.Emergency())
	assert.Equal(t, errcode.OverTemp, sup.LastErrorCode())
	assert.Equal(t, 0.0, sup.Duty())
	assert.False(t, gpio.Level(ssrPin))
	_ = clk
}

func TestEmergencyRequiresExplicitClear(t *testing.T) {
	sup, _, sampler, _ := newTestSupervisor(t)
	sampler.set(thermocouple.Reading{TemperatureC: 1500, TimestampMicros: 1})
	sup.tick()
	require.True(t, sup.Emergency())

	sup.SetDuty(0.5)
	assert.Equal(t, 0.0, sup.Duty(), "SetDuty must be a no-op while latched")

	sup.ClearEmergency()
	assert.False(t, sup.Emergency())
	assert.Equal(t, errcode.None, sup.LastErrorCode())

	sup.SetDuty(0.5)
	assert.Equal(t, 0.5, sup.Duty())
}

func TestFaultStaleAfterGraceLatchesTempFault(t *testing.T) {
	sup, _, sampler, clk := newTestSupervisor(t)
	sampler.set(thermocouple.Reading{Fault: thermocouple.FaultOpenCircuit, TimestampMicros: 1})
	sup.tick()
	assert.False(t, sup.Emergency(), "a single fault sample within grace should not trip")

	clk.Advance(6 * time.Second)
	sampler.set(thermocouple.Reading{Fault: thermocouple.FaultOpenCircuit, TimestampMicros: 2})
	sup.tick()

	assert.True(t, sup.Emergency())
	assert.Equal(t, errcode.TempFault, sup.LastErrorCode())
}

func TestStaleSensorLatchesTempFault(t *testing.T) {
	sup, _, sampler, clk := newTestSupervisor(t)
	sampler.set(thermocouple.Reading{TemperatureC: 20, TimestampMicros: 1})
	sup.tick()
	assert.False(t, sup.Emergency())

	clk.Advance(6 * time.Second)
	sup.tick() // same TimestampMicros: sample never updated

	assert.True(t, sup.Emergency())
	assert.Equal(t, errcode.TempFault, sup.LastErrorCode())
}

func TestTimeProportionalDutyWindow(t *testing.T) {
	sup, gpio, sampler, clk := newTestSupervisor(t)
	sampler.set(thermocouple.Reading{TemperatureC: 20, TimestampMicros: 1})
	sup.SetDuty(0.5)

	sup.tick() // window opens at t=0
	assert.True(t, gpio.Level(ssrPin), "should be on during the first half of the window")

	clk.Advance(1200 * time.Millisecond)
	sup.tick()
	assert.False(t, gpio.Level(ssrPin), "should be off past duty*window")

	clk.Advance(900 * time.Millisecond) // rolls past the 2000ms window
	sup.tick()
	assert.True(t, gpio.Level(ssrPin), "window reset should start a fresh on-phase")
}

func TestRunExitsOnContextCancel(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancel")
	}
}
