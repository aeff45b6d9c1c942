package mathkernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErfKnownValues(t *testing.T) {
	assert.InDelta(t, 0.0, Erf(0), 1e-7)
	assert.InDelta(t, 0.8427007929, Erf(1), 1e-6)
	assert.InDelta(t, -0.8427007929, Erf(-1), 1e-6)
}

func TestNormalCDFKnownValues(t *testing.T) {
	assert.InDelta(t, 0.5, NormalCDF(0), 1e-6)
	assert.InDelta(t, 0.8413447, NormalCDF(1), 1e-4)
	assert.InDelta(t, 0.1586553, NormalCDF(-1), 1e-4)
}

func TestPercentileInterpolates(t *testing.T) {
	vals := []float64{1, 2, 3, 4}
	assert.Equal(t, 1.0, Percentile(vals, 0))
	assert.Equal(t, 4.0, Percentile(vals, 100))
	assert.InDelta(t, 2.5, Percentile(vals, 50), 1e-9)
}

func TestPercentileEmptyIsNaN(t *testing.T) {
	assert.True(t, math.IsNaN(Percentile(nil, 50)))
}

func TestPercentileSingleton(t *testing.T) {
	assert.Equal(t, 7.0, Percentile([]float64{7}, 33))
}

func TestMedianIsPercentile50(t *testing.T) {
	vals := []float64{5, 1, 3}
	assert.Equal(t, Percentile(vals, 50), Median(vals))
}

func TestRankAveragesTies(t *testing.T) {
	ranks := Rank([]float64{10, 20, 20, 30})
	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, ranks)
}

func TestRankNoTies(t *testing.T) {
	ranks := Rank([]float64{30, 10, 20})
	assert.Equal(t, []float64{3, 1, 2}, ranks)
}
