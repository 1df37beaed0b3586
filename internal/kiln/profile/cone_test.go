package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateConeFireIsPure(t *testing.T) {
	a, err := GenerateConeFire("6", Medium, Options{Preheat: true, SlowCool: true}, "a")
	require.NoError(t, err)
	b, err := GenerateConeFire("6", Medium, Options{Preheat: true, SlowCool: true}, "b")
	require.NoError(t, err)

	assert.Equal(t, a.Segments, b.Segments)
	assert.Equal(t, EstimatedDuration(a), EstimatedDuration(b))
}

func TestGenerateConeFireUnknownCone(t *testing.T) {
	_, err := GenerateConeFire("not-a-cone", Medium, Options{}, "x")
	assert.Error(t, err)
}

func TestGenerateConeFireSlowCoolOnlyAboveThreshold(t *testing.T) {
	low, err := GenerateConeFire("022", Medium, Options{SlowCool: true}, "x")
	require.NoError(t, err)
	for _, seg := range low.Segments {
		assert.GreaterOrEqual(t, seg.RampCPerHour, 0.0, "cone 022 target is below the slow-cool threshold, no descending segments expected")
	}

	high, err := GenerateConeFire("10", Medium, Options{SlowCool: true}, "x")
	require.NoError(t, err)
	var sawDescend bool
	for _, seg := range high.Segments {
		if seg.RampCPerHour < 0 {
			sawDescend = true
		}
	}
	assert.True(t, sawDescend, "cone 10 target is above the slow-cool threshold, expected descending segments")
}

func TestGenerateConeFireFinalSegmentHitsTarget(t *testing.T) {
	p, err := GenerateConeFire("6", Fast, Options{}, "x")
	require.NoError(t, err)
	require.NotEmpty(t, p.Segments)

	wantTarget, err := targetForSpeed("6", Fast)
	require.NoError(t, err)

	var found bool
	for _, seg := range p.Segments {
		if seg.TargetC == wantTarget {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGenerateConeFireSegmentCountBounds(t *testing.T) {
	p, err := GenerateConeFire("6", Medium, Options{Preheat: true, SlowCool: true}, "x")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(p.Segments), 2)
	assert.LessOrEqual(t, len(p.Segments), 6)
}
