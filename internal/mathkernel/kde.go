// Package mathkernel provides the numerically stable statistics primitives
// the sampling layer is built on: Gaussian KDE with Silverman bandwidth,
// log-sum-exp, the normal CDF, percentile, and tie-averaged ranks.
package mathkernel

import "math"

// logEps is the floor applied to every returned log-density. It stands in
// for log(machine epsilon) and guarantees callers never see -Inf.
var logEps = math.Log(math.Nextafter(1, 2) - 1)

// deltaRadius bounds how close a query point must be to a degenerate
// (zero-variance or singleton) dataset to be treated as "at" it.
const deltaRadius = 1e-9

// KDE is an immutable, call-from-any-goroutine Gaussian kernel density
// estimate fit over a fixed set of points.
type KDE struct {
	points     []float64
	bandwidth  float64
	degenerate bool
	center     float64
	empty      bool
}

// NewKDE fits a Gaussian KDE over points using Silverman's rule of thumb:
// h = 1.06 * sigma * n^(-1/5), with sigma from the Bessel-corrected (n-1)
// sample variance. Degenerate inputs (empty, singleton, or all-equal) are
// represented specially rather than dividing by a zero bandwidth.
func NewKDE(points []float64) *KDE {
	k := &KDE{points: append([]float64(nil), points...)}
	n := len(points)
	if n == 0 {
		k.empty = true
		return k
	}
	mean := 0.0
	for _, p := range points {
		mean += p
	}
	mean /= float64(n)

	if n == 1 {
		k.degenerate = true
		k.center = mean
		return k
	}

	variance := 0.0
	for _, p := range points {
		d := p - mean
		variance += d * d
	}
	variance /= float64(n - 1)

	if variance <= 0 {
		k.degenerate = true
		k.center = mean
		return k
	}

	sigma := math.Sqrt(variance)
	h := 1.06 * sigma * math.Pow(float64(n), -0.2)
	if h < math.Nextafter(1, 2)-1 {
		h = math.Nextafter(1, 2) - 1
	}
	k.bandwidth = h
	return k
}

// LogDensity returns the log-density at x. It is always finite and always
// >= log(epsilon), for every finite x and every dataset this KDE was built
// from (including the empty and degenerate cases).
func (k *KDE) LogDensity(x float64) float64 {
	switch {
	case k.empty:
		return logEps
	case k.degenerate:
		if math.Abs(x-k.center) <= deltaRadius {
			return 0.0
		}
		return logEps
	}

	n := len(k.points)
	logTerms := make([]float64, n)
	maxLog := math.Inf(-1)
	for i, p := range k.points {
		z := (x - p) / k.bandwidth
		logTerms[i] = -0.5*z*z - math.Log(k.bandwidth) - 0.5*math.Log(2*math.Pi)
		if logTerms[i] > maxLog {
			maxLog = logTerms[i]
		}
	}
	if math.IsInf(maxLog, -1) {
		return logEps
	}

	sum := 0.0
	for _, lt := range logTerms {
		sum += math.Exp(lt - maxLog)
	}
	logDensity := maxLog + math.Log(sum) - math.Log(float64(n))
	if math.IsNaN(logDensity) || logDensity < logEps {
		return logEps
	}
	if math.IsInf(logDensity, 1) {
		return logEps
	}
	return logDensity
}

// LogEps exposes the floor value applied to every LogDensity result, so
// callers can recognize a degenerate/empty response without recomputing it.
func LogEps() float64 { return logEps }
