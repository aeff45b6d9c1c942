package sampler

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/pcraw4d/scout/internal/searchspace"
	"github.com/pcraw4d/scout/internal/store"
)

// CMAES is a separable (diagonal-covariance) CMA-ES, per Ros & Hansen 2008:
// it adapts a per-dimension variance vector instead of a full covariance
// matrix, trading cross-parameter correlation modeling for an
// eigendecomposition-free update, in line with mathkernel staying a
// stdlib-only numerics layer (no linear-algebra dependency in this repo).
// It operates entirely in each continuous parameter's encoded [0,1) space.
// Non-continuous (categorical) parameters fall back to an independent
// uniform draw every trial.
type CMAES struct {
	goal store.Goal

	names []string // continuous dimension names, fixed after first Next call
	dim   int

	mean  []float64
	c     []float64 // diagonal covariance
	pc    []float64
	ps    []float64
	sigma float64

	lambda  int
	mu      int
	weights []float64
	muEff   float64

	cc, cs, c1, cmu, damps float64
	chiN                   float64

	generation int
	pending    []cmaesCandidate
}

type cmaesCandidate struct {
	x []float64 // proposed point in encoded space, pre-clamp
}

// NewCMAES builds a CMA-ES sampler. Recognized options: sigma0 (default
// 0.3, the initial step size in encoded [0,1) space) and lambda (default
// 4 + floor(3*ln(dim)), population size before an update is applied).
func NewCMAES(o Options, goal store.Goal) (*CMAES, error) {
	sigma0 := o.float("sigma0", 0.3)
	if sigma0 <= 0 {
		return nil, fmt.Errorf("%w: cmaes sigma0 must be > 0, got %v", store.ErrConfig, sigma0)
	}
	return &CMAES{
		goal:   goal,
		sigma:  sigma0,
		lambda: o.int("lambda", 0), // 0 means "derive from dim on first call"
	}, nil
}

func (c *CMAES) Next(space searchspace.Space, trialIndex int, history []store.Trial, rng *rand.Rand) (map[string]any, error) {
	if c.names == nil {
		c.initDimensions(space)
	}

	if c.dim == 0 {
		return drawUniform(space, rng), nil
	}

	c.maybeUpdate(history)

	z := make([]float64, c.dim)
	x := make([]float64, c.dim)
	for i := range z {
		z[i] = rng.NormFloat64()
		x[i] = c.mean[i] + c.sigma*math.Sqrt(math.Max(c.c[i], 1e-12))*z[i]
	}
	c.pending = append(c.pending, cmaesCandidate{x: x})

	params := make(map[string]any, len(space))
	for i, name := range c.names {
		params[name] = space[name].Decode(clamp01(x[i]))
	}
	for _, name := range space.Names() {
		if _, ok := params[name]; !ok {
			params[name] = space[name].Decode(rng.Float64())
		}
	}
	return params, nil
}

func (c *CMAES) initDimensions(space searchspace.Space) {
	for _, name := range space.Names() {
		if space[name].Kind != searchspace.KindCategorical {
			c.names = append(c.names, name)
		}
	}
	c.dim = len(c.names)
	if c.dim == 0 {
		return
	}

	n := float64(c.dim)
	c.mean = make([]float64, c.dim)
	c.c = make([]float64, c.dim)
	c.pc = make([]float64, c.dim)
	c.ps = make([]float64, c.dim)
	for i := range c.mean {
		c.mean[i] = 0.5
		c.c[i] = 1.0
	}

	if c.lambda <= 0 {
		c.lambda = 4 + int(3*math.Log(n))
	}
	c.mu = c.lambda / 2
	if c.mu < 1 {
		c.mu = 1
	}

	c.weights = make([]float64, c.mu)
	sumW, sumW2 := 0.0, 0.0
	for i := 0; i < c.mu; i++ {
		w := math.Log(float64(c.mu)+0.5) - math.Log(float64(i+1))
		c.weights[i] = w
		sumW += w
	}
	for i := range c.weights {
		c.weights[i] /= sumW
		sumW2 += c.weights[i] * c.weights[i]
	}
	c.muEff = 1.0 / sumW2

	c.cc = (4 + c.muEff/n) / (n + 4 + 2*c.muEff/n)
	c.cs = (c.muEff + 2) / (n + c.muEff + 5)
	c.c1 = 2 / (math.Pow(n+1.3, 2) + c.muEff)
	c.cmu = math.Min(1-c.c1, 2*(c.muEff-2+1/c.muEff)/(math.Pow(n+2, 2)+c.muEff))
	c.damps = 1 + 2*math.Max(0, math.Sqrt((c.muEff-1)/(n+1))-1) + c.cs
	c.chiN = math.Sqrt(n) * (1 - 1/(4*n) + 1/(21*n*n))
}

// maybeUpdate applies the sep-CMA-ES update once len(c.pending) reaches
// lambda and at least that many scored trials are available in history.
// It assumes history's newest lambda completed entries correspond, in
// order, to the pending candidates, which holds for a single-worker
// scheduler; under parallel execution an update is simply deferred until
// enough trials land, which only widens the next sampling step, never
// corrupts it.
func (c *CMAES) maybeUpdate(history []store.Trial) {
	if len(c.pending) < c.lambda {
		return
	}
	var completed []store.Trial
	for _, t := range history {
		if t.Status == store.TrialCompleted && t.Score != nil {
			completed = append(completed, t)
		}
	}
	if len(completed) < c.lambda {
		return
	}
	recent := completed[len(completed)-c.lambda:]

	type scored struct {
		x     []float64
		score float64
	}
	points := make([]scored, c.lambda)
	for i := 0; i < c.lambda; i++ {
		points[i] = scored{x: c.pending[i].x, score: *recent[i].Score}
	}
	sort.Slice(points, func(i, j int) bool {
		if c.goal == store.GoalMinimize {
			return points[i].score < points[j].score
		}
		return points[i].score > points[j].score
	})

	oldMean := append([]float64(nil), c.mean...)
	newMean := make([]float64, c.dim)
	for d := 0; d < c.dim; d++ {
		sum := 0.0
		for k := 0; k < c.mu; k++ {
			sum += c.weights[k] * points[k].x[d]
		}
		newMean[d] = sum
	}

	normPS := 0.0
	for d := 0; d < c.dim; d++ {
		step := (newMean[d] - oldMean[d]) / c.sigma
		c.ps[d] = (1-c.cs)*c.ps[d] + math.Sqrt(c.cs*(2-c.cs)*c.muEff)*step/math.Sqrt(math.Max(c.c[d], 1e-12))
		normPS += c.ps[d] * c.ps[d]
	}
	normPS = math.Sqrt(normPS)

	hsig := 0.0
	expectedNorm := c.chiN * math.Sqrt(1-math.Pow(1-c.cs, float64(2*(c.generation+1))))
	if normPS/math.Max(expectedNorm, 1e-12) < 1.4+2.0/(float64(c.dim)+1) {
		hsig = 1.0
	}

	for d := 0; d < c.dim; d++ {
		step := (newMean[d] - oldMean[d]) / c.sigma
		c.pc[d] = (1-c.cc)*c.pc[d] + hsig*math.Sqrt(c.cc*(2-c.cc)*c.muEff)*step

		rankMu := 0.0
		for k := 0; k < c.mu; k++ {
			y := (points[k].x[d] - oldMean[d]) / c.sigma
			rankMu += c.weights[k] * y * y
		}
		rankOne := c.pc[d] * c.pc[d]
		c.c[d] = (1-c.c1-c.cmu)*c.c[d] + c.c1*(rankOne+(1-hsig)*c.cc*(2-c.cc)*c.c[d]) + c.cmu*rankMu
		if c.c[d] < 1e-12 {
			c.c[d] = 1e-12
		}
	}

	c.sigma *= math.Exp((c.cs / c.damps) * (normPS/c.chiN - 1))
	if c.sigma < 1e-6 {
		c.sigma = 1e-6
	}
	if c.sigma > 5 {
		c.sigma = 5
	}

	c.mean = newMean
	c.generation++
	c.pending = nil
}

var _ Sampler = (*CMAES)(nil)
