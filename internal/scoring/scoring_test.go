package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMinMaxBM25_SingleElement(t *testing.T) {
	assert.Equal(t, []float64{1}, NormalizeMinMaxBM25([]float64{-4.2}))
}

func TestNormalizeMinMaxBM25_BestIsMostNegative(t *testing.T) {
	// FTS5 convention: more negative is a better match.
	out := NormalizeMinMaxBM25([]float64{-5.0, -2.0, 0.0})
	assert.InDelta(t, 1.0, out[0], 1e-9)
	assert.InDelta(t, 0.0, out[2], 1e-9)
	assert.True(t, out[0] > out[1] && out[1] > out[2])
}

func TestNormalizeMinMaxBM25_ZeroRange(t *testing.T) {
	out := NormalizeMinMaxBM25([]float64{-3.0, -3.0, -3.0})
	for _, v := range out {
		assert.Equal(t, 1.0, v)
	}
}

func TestNormalizeMinMax_BoundsAreZeroAndOne(t *testing.T) {
	out := NormalizeMinMax([]float64{0.1, 0.9, 0.5})
	min, max := out[0], out[0]
	for _, v := range out {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	assert.InDelta(t, 0.0, min, 1e-9)
	assert.InDelta(t, 1.0, max, 1e-9)
}

func TestNormalizeMinMax_SingleElement(t *testing.T) {
	assert.Equal(t, []float64{1}, NormalizeMinMax([]float64{0.42}))
}

func TestNormalizeVectorDistance(t *testing.T) {
	assert.InDelta(t, 1.0, NormalizeVectorDistance(0), 1e-9)
	assert.InDelta(t, 0.5, NormalizeVectorDistance(1), 1e-9)
	assert.InDelta(t, 0.0, NormalizeVectorDistance(2), 1e-9)
	// Out-of-range distances still clamp into [0,1].
	assert.InDelta(t, 0.0, NormalizeVectorDistance(3), 1e-9)
	assert.InDelta(t, 1.0, NormalizeVectorDistance(-1), 1e-9)
}

func TestRRFContribution(t *testing.T) {
	assert.InDelta(t, 2.0/61.0, RRFContribution(1, 60, 2.0), 1e-12)
	assert.InDelta(t, 0.5/65.0, RRFContribution(5, 60, 0.5), 1e-12)
}

func TestLessTieBreak(t *testing.T) {
	assert.True(t, LessTieBreak(0.9, 0.5, "z:1", "a:1"))
	assert.True(t, LessTieBreak(0.5, 0.5, "a:1", "b:1"))
	assert.False(t, LessTieBreak(0.5, 0.5, "b:1", "a:1"))
}
