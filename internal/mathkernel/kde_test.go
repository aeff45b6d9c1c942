package mathkernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKDEEmptyIsFloorEverywhere(t *testing.T) {
	k := NewKDE(nil)
	for _, x := range []float64{-100, 0, 3.5, 1e6} {
		got := k.LogDensity(x)
		assert.Equal(t, LogEps(), got)
		assert.False(t, math.IsNaN(got))
		assert.False(t, math.IsInf(got, 0))
	}
}

func TestKDESingletonIsDelta(t *testing.T) {
	k := NewKDE([]float64{2.0})
	assert.Equal(t, 0.0, k.LogDensity(2.0))
	assert.Equal(t, LogEps(), k.LogDensity(50.0))
}

func TestKDEAllEqualIsDelta(t *testing.T) {
	k := NewKDE([]float64{1, 1, 1, 1})
	assert.Equal(t, 0.0, k.LogDensity(1.0))
	assert.Equal(t, LogEps(), k.LogDensity(1.5))
}

func TestKDENeverNaNOrInf(t *testing.T) {
	pts := []float64{-5, -1, 0, 0.5, 3, 10, 10, 10.0001}
	k := NewKDE(pts)
	for x := -1000.0; x <= 1000.0; x += 37.3 {
		got := k.LogDensity(x)
		assert.False(t, math.IsNaN(got), "x=%v", x)
		assert.False(t, math.IsInf(got, 0), "x=%v", x)
		assert.GreaterOrEqual(t, got, LogEps())
	}
}

func TestKDEPeaksNearData(t *testing.T) {
	k := NewKDE([]float64{0, 0, 0, 10, 10, 10})
	assert.Greater(t, k.LogDensity(0), k.LogDensity(5))
	assert.Greater(t, k.LogDensity(10), k.LogDensity(5))
}

func TestKDEBandwidthFloored(t *testing.T) {
	// Many points crammed into a span tiny enough that Silverman's rule
	// could in principle underflow; the floor must keep it usable.
	pts := make([]float64, 200)
	for i := range pts {
		pts[i] = 1.0
	}
	pts[0] = 1.0 + 1e-15
	k := NewKDE(pts)
	assert.False(t, math.IsNaN(k.LogDensity(1.0)))
}
