package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeanStdDev(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 5.0, Mean(values), 1e-9)
	assert.InDelta(t, 2.138, StdDev(values), 1e-3)
	assert.Zero(t, Mean(nil))
	assert.Zero(t, StdDev([]float64{42}))
}

func TestMinMax(t *testing.T) {
	lo, hi := MinMax([]float64{3, -1, 8, 2})
	assert.InDelta(t, -1.0, lo, 1e-9)
	assert.InDelta(t, 8.0, hi, 1e-9)
}

func TestLinearRegression(t *testing.T) {
	slope, intercept, r2, ok := LinearRegression([]float64{0, 1, 2, 3}, []float64{10, 8, 6, 4})
	assert.True(t, ok)
	assert.InDelta(t, -2.0, slope, 1e-9)
	assert.InDelta(t, 10.0, intercept, 1e-9)
	assert.InDelta(t, 1.0, r2, 1e-9)

	_, _, _, ok = LinearRegression([]float64{1, 1}, []float64{2, 3})
	assert.False(t, ok)
	_, _, _, ok = LinearRegression([]float64{1}, []float64{2})
	assert.False(t, ok)
}

func TestRoundClamp(t *testing.T) {
	assert.InDelta(t, 59.5, Round(59.4999, 1), 1e-9)
	assert.InDelta(t, 0.0, Clamp(-3, 0, 100), 1e-9)
	assert.InDelta(t, 100.0, Clamp(130, 0, 100), 1e-9)
}
