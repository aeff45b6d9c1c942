package sampler

import (
	"math"
	"math/rand"

	"github.com/pcraw4d/scout/internal/mathkernel"
	"github.com/pcraw4d/scout/internal/searchspace"
	"github.com/pcraw4d/scout/internal/store"
)

// gpMaxHistory caps how many completed trials the GP is fit on; the
// Cholesky solve is O(n^3) and older trials add little posterior
// information once the surrogate has localized the optimum.
const gpMaxHistory = 100

// GP is a Gaussian-process sampler: it fits an RBF-kernel GP regression
// over the encoded [0,1)^d parameter vectors of completed trials and picks
// the candidate maximizing Expected Improvement under the posterior. All
// parameter kinds participate through their encoded representation;
// categorical dimensions are coarse under an RBF kernel but still usable.
type GP struct {
	goal        store.Goal
	nStartup    int
	nCandidates int
	lengthScale float64
	noise       float64
}

// NewGP builds a GP sampler. Recognized options: n_startup_trials (default
// 10), n_candidates (default 64), length_scale (default 0.2, RBF kernel
// width in encoded space), noise (default 1e-6, observation jitter added to
// the kernel diagonal).
func NewGP(o Options, goal store.Goal) (*GP, error) {
	g := &GP{
		goal:        goal,
		nStartup:    o.int("n_startup_trials", 10),
		nCandidates: o.int("n_candidates", 64),
		lengthScale: o.float("length_scale", 0.2),
		noise:       o.float("noise", 1e-6),
	}
	if g.nStartup < 0 {
		g.nStartup = 0
	}
	if g.nCandidates < 1 {
		g.nCandidates = 64
	}
	if g.lengthScale <= 0 {
		g.lengthScale = 0.2
	}
	if g.noise <= 0 {
		g.noise = 1e-6
	}
	return g, nil
}

func (g *GP) Next(space searchspace.Space, trialIndex int, history []store.Trial, rng *rand.Rand) (map[string]any, error) {
	names := space.Names()
	xs, ys := g.trainingSet(space, names, history)

	if trialIndex < g.nStartup || len(xs) < 2 {
		return drawUniform(space, rng), nil
	}

	chol, alpha, ok := g.fit(xs, ys)
	if !ok {
		return drawUniform(space, rng), nil
	}

	best := ys[0]
	for _, y := range ys[1:] {
		if y < best {
			best = y
		}
	}

	var bestCandidate []float64
	bestEI := math.Inf(-1)
	for c := 0; c < g.nCandidates; c++ {
		x := make([]float64, len(names))
		for i := range x {
			x[i] = rng.Float64()
		}
		ei := g.expectedImprovement(x, xs, chol, alpha, best)
		if ei > bestEI {
			bestEI = ei
			bestCandidate = x
		}
	}

	params := make(map[string]any, len(names))
	for i, name := range names {
		params[name] = space[name].Decode(bestCandidate[i])
	}
	return params, nil
}

// trainingSet encodes completed trials into [0,1)^d vectors plus an
// internal minimize-sense target (scores are negated when maximizing, so
// "lower is better" holds inside the GP regardless of the study goal).
// Trials missing a parameter or failing to encode are skipped.
func (g *GP) trainingSet(space searchspace.Space, names []string, history []store.Trial) ([][]float64, []float64) {
	var xs [][]float64
	var ys []float64
	for _, t := range history {
		if t.Status != store.TrialCompleted || t.Score == nil {
			continue
		}
		x := make([]float64, len(names))
		ok := true
		for i, name := range names {
			v, present := t.Params[name]
			if !present {
				ok = false
				break
			}
			u, err := space[name].Encode(v)
			if err != nil {
				ok = false
				break
			}
			x[i] = clamp01(u)
		}
		if !ok {
			continue
		}
		y := *t.Score
		if g.goal == store.GoalMaximize {
			y = -y
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	if len(xs) > gpMaxHistory {
		xs = xs[len(xs)-gpMaxHistory:]
		ys = ys[len(ys)-gpMaxHistory:]
	}
	return xs, ys
}

func (g *GP) kernel(a, b []float64) float64 {
	d2 := 0.0
	for i := range a {
		d := a[i] - b[i]
		d2 += d * d
	}
	return math.Exp(-d2 / (2 * g.lengthScale * g.lengthScale))
}

// fit builds the kernel matrix K + noise*I, Cholesky-factors it, and solves
// for alpha = K^-1 y. Returns ok=false when the factorization breaks down
// (near-singular kernel), in which case the caller falls back to a random
// draw rather than proposing from a broken posterior.
func (g *GP) fit(xs [][]float64, ys []float64) (chol [][]float64, alpha []float64, ok bool) {
	n := len(xs)
	k := make([][]float64, n)
	for i := range k {
		k[i] = make([]float64, n)
		for j := 0; j <= i; j++ {
			v := g.kernel(xs[i], xs[j])
			if i == j {
				v += g.noise
			}
			k[i][j] = v
			k[j][i] = v
		}
	}

	chol, ok = cholesky(k)
	if !ok {
		return nil, nil, false
	}
	alpha = choleskySolve(chol, ys)
	return chol, alpha, true
}

// expectedImprovement computes EI at x for a minimization target: the
// posterior mean and variance come from the fitted GP, and the improvement
// is measured against the incumbent best observed value.
func (g *GP) expectedImprovement(x []float64, xs [][]float64, chol [][]float64, alpha []float64, best float64) float64 {
	n := len(xs)
	kStar := make([]float64, n)
	mu := 0.0
	for i := 0; i < n; i++ {
		kStar[i] = g.kernel(x, xs[i])
		mu += kStar[i] * alpha[i]
	}

	v := forwardSolve(chol, kStar)
	variance := g.kernel(x, x)
	for _, vi := range v {
		variance -= vi * vi
	}
	if variance < 1e-12 {
		variance = 1e-12
	}
	sigma := math.Sqrt(variance)

	z := (best - mu) / sigma
	return (best-mu)*mathkernel.NormalCDF(z) + sigma*normalPDF(z)
}

func normalPDF(z float64) float64 {
	return math.Exp(-0.5*z*z) / math.Sqrt(2*math.Pi)
}

// cholesky returns the lower-triangular factor L with A = L L^T, or
// ok=false when A is not (numerically) positive definite.
func cholesky(a [][]float64) ([][]float64, bool) {
	n := len(a)
	l := make([][]float64, n)
	for i := range l {
		l[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := a[i][j]
			for k := 0; k < j; k++ {
				sum -= l[i][k] * l[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil, false
				}
				l[i][j] = math.Sqrt(sum)
			} else {
				l[i][j] = sum / l[j][j]
			}
		}
	}
	return l, true
}

// forwardSolve solves L v = b for lower-triangular L.
func forwardSolve(l [][]float64, b []float64) []float64 {
	n := len(b)
	v := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := b[i]
		for k := 0; k < i; k++ {
			sum -= l[i][k] * v[k]
		}
		v[i] = sum / l[i][i]
	}
	return v
}

// choleskySolve solves (L L^T) x = b via one forward and one backward
// substitution.
func choleskySolve(l [][]float64, b []float64) []float64 {
	n := len(b)
	y := forwardSolve(l, b)
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := y[i]
		for k := i + 1; k < n; k++ {
			sum -= l[k][i] * x[k]
		}
		x[i] = sum / l[i][i]
	}
	return x
}

var _ Sampler = (*GP)(nil)
