package pidctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeZeroDtReturnsMinWithoutMutatingIntegrator(t *testing.T) {
	c := New(Gains{Kp: 1, Ki: 1, Kd: 1})
	out := c.Compute(100, 0, 0)
	assert.Equal(t, c.OutputMin, out)
	assert.Equal(t, 0.0, c.integral)

	out = c.Compute(100, 0, -1)
	assert.Equal(t, c.OutputMin, out)
	assert.Equal(t, 0.0, c.integral)
}

func TestComputeProportionalOnly(t *testing.T) {
	c := New(Gains{Kp: 0.1})
	out := c.Compute(100, 50, 1) // e=50, P=5, clamps to 1
	assert.Equal(t, 1.0, out)
}

func TestComputeClampsToOutputBounds(t *testing.T) {
	c := New(Gains{Kp: 10})
	assert.Equal(t, 1.0, c.Compute(100, 0, 1))
	assert.Equal(t, 0.0, c.Compute(0, 100, 1))
}

func TestAntiWindupUnwindsIntegralWhenSaturating(t *testing.T) {
	c := New(Gains{Kp: 0, Ki: 1, Kd: 0})
	// Large positive error every step should saturate immediately; the
	// integral should never run away past what's needed to stay at the cap.
	for i := 0; i < 50; i++ {
		c.Compute(1000, 0, 1)
	}
	assert.LessOrEqual(t, c.integral, 1.0+1e-9)
}

func TestDerivativeSkippedOnFirstCall(t *testing.T) {
	c := New(Gains{Kp: 0, Ki: 0, Kd: 1})
	out := c.Compute(10, 0, 1) // no previous error: D term skipped
	assert.Equal(t, 0.0, out)
	out = c.Compute(10, 5, 1) // e=5, prevErr=10, D = 1*(5-10)/1 = -5, clamped to 0
	assert.Equal(t, 0.0, out)
}

func TestGainScalePersistenceRoundTrip(t *testing.T) {
	g := Gains{Kp: 2.0, Ki: 0.01, Kd: 50.0}
	scaled := g.ToScaled()
	assert.Equal(t, int32(20000), scaled.Kp)
	assert.Equal(t, int32(100), scaled.Ki)
	assert.Equal(t, int32(500000), scaled.Kd)

	back := scaled.ToGains()
	assert.InDelta(t, g.Kp, back.Kp, 1e-9)
	assert.InDelta(t, g.Ki, back.Ki, 1e-9)
	assert.InDelta(t, g.Kd, back.Kd, 1e-9)
}

func TestDefaultGainsMatchSpec(t *testing.T) {
	g := DefaultGains()
	assert.Equal(t, Gains{Kp: 2.0, Ki: 0.01, Kd: 50.0}, g)
}
