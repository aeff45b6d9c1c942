package sampler

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pcraw4d/scout/internal/mathkernel"
	"github.com/pcraw4d/scout/internal/searchspace"
	"github.com/pcraw4d/scout/internal/store"
)

// TPE is the canonical tree-structured Parzen estimator sampler: one
// implementation whose variants (multivariate, constant-liar, conditional,
// prior-weighted, warm-start, multi-objective) are options rather than
// separate sampler types.
type TPE struct {
	goal         store.Goal
	nStartup     int
	gamma        float64
	nCandidates  int
	nObjectives  int
	priorWeight  float64
	multivariate bool
	constantLiar bool
	conditional  bool
	warmStart    []store.Trial
}

// NewTPE builds a TPE sampler. Recognized options:
//   n_startup_trials (default 10): trials before startup hand off to Random.
//   gamma (default 0.25): quantile splitting good/bad trial groups.
//   n_candidates (default 24): candidates drawn per proposal, scored by EI.
//   prior_weight (default 1.0): pseudo-weight of the uniform prior mixed
//     into both KDEs, preventing a degenerate density from a tiny group.
//   multivariate (default false): sample candidates as perturbations of a
//     shared anchor trial (preserving cross-parameter correlation) instead
//     of treating every parameter independently.
//   constant_liar (default false): trials in history with no score yet
//     (still running, under parallel execution) are assigned a liar score
//     at the worst observed value, discouraging duplicate concurrent
//     proposals.
//   conditional (default false): a parameter's good/bad KDEs are built only
//     from history trials whose Params actually contain that parameter,
//     supporting search spaces where not every trial sets every parameter.
//   warm_start_trials ([]store.Trial): seeded into history before any real
//     trial exists, letting a new study start from a prior study's results.
//   n_objectives (default 1): above 1 the good/bad split is by
//     non-dominated front instead of a single-score quantile. Objective 0
//     is Trial.Score and objectives 1..n-1 are read from
//     Trial.IntermediateValues keyed by objective index, the same
//     convention NSGA2 uses; trials missing an objective slot are
//     excluded.
func NewTPE(o Options, goal store.Goal) (*TPE, error) {
	t := &TPE{
		goal:         goal,
		nStartup:     o.int("n_startup_trials", 10),
		gamma:        o.float("gamma", 0.25),
		nCandidates:  o.int("n_candidates", 24),
		nObjectives:  maxInt(o.int("n_objectives", 1), 1),
		priorWeight:  o.float("prior_weight", 1.0),
		multivariate: o.bool("multivariate", false),
		constantLiar: o.bool("constant_liar", false),
		conditional:  o.bool("conditional", false),
	}
	if ws, ok := o["warm_start_trials"]; ok {
		if trials, ok := ws.([]store.Trial); ok {
			t.warmStart = trials
		}
	}
	if t.nStartup < 0 {
		t.nStartup = 0
	}
	if t.gamma <= 0 || t.gamma >= 1 {
		t.gamma = 0.25
	}
	if t.nCandidates < 1 {
		t.nCandidates = 24
	}
	return t, nil
}

func (t *TPE) Next(space searchspace.Space, trialIndex int, history []store.Trial, rng *rand.Rand) (map[string]any, error) {
	all := append(append([]store.Trial(nil), t.warmStart...), history...)
	scored := t.scoredTrials(all)

	if trialIndex < t.nStartup || len(scored) < 2 {
		return drawUniform(space, rng), nil
	}

	good, bad := t.splitGoodBad(scored)
	names := space.Names()

	if t.multivariate {
		return t.nextMultivariate(space, names, good, bad, rng), nil
	}
	return t.nextIndependent(space, names, scored, good, bad, rng), nil
}

// scoredPoint is one history trial reduced to the (params, score) pair TPE
// reasons over; under constant-liar the score of an in-flight trial is an
// imputed worst-observed value rather than a real observation.
type scoredPoint struct {
	params     map[string]any
	score      float64
	objectives []float64 // only populated when nObjectives > 1
}

func (t *TPE) scoredTrials(trials []store.Trial) []scoredPoint {
	var completed []float64
	for _, tr := range trials {
		if tr.Status == store.TrialCompleted && tr.Score != nil {
			completed = append(completed, *tr.Score)
		}
	}

	var liarScore float64
	if t.constantLiar && len(completed) > 0 {
		liarScore = worstOf(completed, t.goal)
	}

	points := make([]scoredPoint, 0, len(trials))
	for _, tr := range trials {
		switch {
		case tr.Status == store.TrialCompleted && tr.Score != nil:
			p := scoredPoint{params: tr.Params, score: *tr.Score}
			if t.nObjectives > 1 {
				objectives, ok := t.objectiveVector(tr)
				if !ok {
					continue
				}
				p.objectives = objectives
			}
			points = append(points, p)
		case t.constantLiar && (tr.Status == store.TrialRunning || tr.Status == store.TrialPending) && len(completed) > 0:
			points = append(points, scoredPoint{params: tr.Params, score: liarScore})
		}
	}
	return points
}

// objectiveVector assembles a completed trial's multi-objective values:
// objective 0 is Score, 1..n-1 come from IntermediateValues keyed by
// objective index. ok is false when any slot is missing.
func (t *TPE) objectiveVector(tr store.Trial) ([]float64, bool) {
	objectives := make([]float64, t.nObjectives)
	objectives[0] = *tr.Score
	for i := 1; i < t.nObjectives; i++ {
		v, present := tr.IntermediateValues[i]
		if !present {
			return nil, false
		}
		objectives[i] = v
	}
	return objectives, true
}

func worstOf(scores []float64, goal store.Goal) float64 {
	worst := scores[0]
	for _, s := range scores[1:] {
		if goal == store.GoalMinimize {
			if s > worst {
				worst = s
			}
		} else if s < worst {
			worst = s
		}
	}
	return worst
}

// splitGoodBad orders scored by the study's goal and splits the best gamma
// fraction into good, the rest into bad. Both groups always have at least
// one point when len(scored) >= 2. Above one objective the ordering is by
// non-dominated front instead of raw score.
func (t *TPE) splitGoodBad(scored []scoredPoint) (good, bad []scoredPoint) {
	sorted := append([]scoredPoint(nil), scored...)
	if t.nObjectives > 1 {
		fronts := t.frontIndex(scored)
		order := make([]int, len(scored))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			i, j := order[a], order[b]
			if fronts[i] != fronts[j] {
				return fronts[i] < fronts[j]
			}
			if t.goal == store.GoalMinimize {
				return scored[i].score < scored[j].score
			}
			return scored[i].score > scored[j].score
		})
		for k, i := range order {
			sorted[k] = scored[i]
		}
	} else {
		sort.Slice(sorted, func(i, j int) bool {
			if t.goal == store.GoalMinimize {
				return sorted[i].score < sorted[j].score
			}
			return sorted[i].score > sorted[j].score
		})
	}
	nGood := int(math.Ceil(t.gamma * float64(len(sorted))))
	if nGood < 1 {
		nGood = 1
	}
	if nGood >= len(sorted) {
		nGood = len(sorted) - 1
	}
	return sorted[:nGood], sorted[nGood:]
}

// frontIndex assigns each point its non-dominated front (0 is the Pareto
// front) by iterative peeling, so the multi-objective split can rank
// "good" trials the way NSGA2's selection does.
func (t *TPE) frontIndex(points []scoredPoint) []int {
	n := len(points)
	fronts := make([]int, n)
	assigned := make([]bool, n)
	for remaining, front := n, 0; remaining > 0; front++ {
		var current []int
		for i := 0; i < n; i++ {
			if assigned[i] {
				continue
			}
			dominated := false
			for j := 0; j < n; j++ {
				if i == j || assigned[j] {
					continue
				}
				if t.dominatesPoint(points[j], points[i]) {
					dominated = true
					break
				}
			}
			if !dominated {
				current = append(current, i)
			}
		}
		if len(current) == 0 {
			// Mutual domination cycles can't happen with a strict partial
			// order; treat any leftovers as one final front.
			for i := 0; i < n; i++ {
				if !assigned[i] {
					current = append(current, i)
				}
			}
		}
		for _, i := range current {
			fronts[i] = front
			assigned[i] = true
			remaining--
		}
	}
	return fronts
}

func (t *TPE) dominatesPoint(a, b scoredPoint) bool {
	if len(a.objectives) == 0 || len(b.objectives) == 0 {
		return false
	}
	strictlyBetter := false
	for i := range a.objectives {
		av, bv := a.objectives[i], b.objectives[i]
		if t.goal == store.GoalMaximize {
			av, bv = -av, -bv
		}
		if av > bv {
			return false
		}
		if av < bv {
			strictlyBetter = true
		}
	}
	return strictlyBetter
}

// paramValues extracts the encoded [0,1) draws for name across points,
// skipping trials missing the parameter or carrying an unencodable value.
func (t *TPE) paramValues(points []scoredPoint, name string, d searchspace.Distribution) []float64 {
	values := make([]float64, 0, len(points))
	for _, p := range points {
		v, ok := p.params[name]
		if !ok {
			continue
		}
		u, err := d.Encode(v)
		if err != nil {
			continue
		}
		values = append(values, u)
	}
	return values
}

// logDensityRatio scores u by log l(u) - log g(u), mixing each KDE with a
// uniform(0,1) prior weighted by priorWeight (Optuna's prior_weight
// smoothing: a tiny good-group KDE never collapses to a spike).
func (t *TPE) logDensityRatio(u float64, good, bad *mathkernel.KDE, nGood, nBad int) float64 {
	logGood := mixWithPrior(good.LogDensity(u), nGood, t.priorWeight)
	logBad := mixWithPrior(bad.LogDensity(u), nBad, t.priorWeight)
	return logGood - logBad
}

func mixWithPrior(logDensity float64, n int, priorWeight float64) float64 {
	if priorWeight <= 0 {
		return logDensity
	}
	w := float64(n) / (float64(n) + priorWeight)
	density := math.Exp(logDensity)
	mixed := w*density + (1-w)*1.0 // uniform(0,1) density is 1
	if mixed <= 0 {
		return mathkernel.LogEps()
	}
	return math.Log(mixed)
}

func (t *TPE) nextIndependent(space searchspace.Space, names []string, scored, good, bad []scoredPoint, rng *rand.Rand) map[string]any {
	params := make(map[string]any, len(names))
	for _, name := range names {
		d := space[name]
		g, b := good, bad
		if t.conditional {
			// Per-branch fit: the good/bad split is recomputed over only
			// the trials that actually set this parameter, so a gated
			// parameter's densities aren't skewed by the global quantile.
			subset := withParam(scored, name)
			if len(subset) < 2 {
				params[name] = d.Decode(rng.Float64())
				continue
			}
			g, b = t.splitGoodBad(subset)
		}
		goodValues := t.paramValues(g, name, d)
		badValues := t.paramValues(b, name, d)
		if len(goodValues) == 0 {
			params[name] = d.Decode(rng.Float64())
			continue
		}
		goodKDE := mathkernel.NewKDE(goodValues)
		badKDE := mathkernel.NewKDE(badValues)

		bestU, bestScore := 0.0, math.Inf(-1)
		for c := 0; c < t.nCandidates; c++ {
			u := sampleFromKDE(goodKDE, goodValues, rng)
			score := t.logDensityRatio(u, goodKDE, badKDE, len(goodValues), len(badValues))
			if score > bestScore {
				bestScore = score
				bestU = u
			}
		}
		params[name] = d.Decode(bestU)
	}
	return params
}

// withParam filters points down to those whose Params contain name.
func withParam(points []scoredPoint, name string) []scoredPoint {
	out := make([]scoredPoint, 0, len(points))
	for _, p := range points {
		if _, ok := p.params[name]; ok {
			out = append(out, p)
		}
	}
	return out
}

// nextMultivariate preserves cross-parameter correlation by anchoring every
// candidate's whole parameter vector to one good-group trial, perturbing
// each dimension by that dimension's own bandwidth, then scoring candidates
// by the summed per-dimension log-density ratio.
func (t *TPE) nextMultivariate(space searchspace.Space, names []string, good, bad []scoredPoint, rng *rand.Rand) map[string]any {
	type dimStats struct {
		goodValues, badValues []float64
		goodKDE, badKDE       *mathkernel.KDE
	}
	dims := make(map[string]dimStats, len(names))
	for _, name := range names {
		d := space[name]
		gv := t.paramValues(good, name, d)
		bv := t.paramValues(bad, name, d)
		dims[name] = dimStats{
			goodValues: gv,
			badValues:  bv,
			goodKDE:    mathkernel.NewKDE(gv),
			badKDE:     mathkernel.NewKDE(bv),
		}
	}

	bestCandidate := make(map[string]float64, len(names))
	bestScore := math.Inf(-1)
	haveCandidate := false

	for c := 0; c < t.nCandidates; c++ {
		if len(good) == 0 {
			break
		}
		anchor := good[rng.Intn(len(good))]
		candidate := make(map[string]float64, len(names))
		total := 0.0
		for _, name := range names {
			d := space[name]
			st := dims[name]
			if len(st.goodValues) == 0 {
				candidate[name] = rng.Float64()
				continue
			}
			anchorU, err := d.Encode(anchor.params[name])
			if err != nil {
				anchorU = st.goodValues[rng.Intn(len(st.goodValues))]
			}
			u := clamp01(anchorU + rng.NormFloat64()*bandwidthOf(st.goodKDE))
			candidate[name] = u
			total += t.logDensityRatio(u, st.goodKDE, st.badKDE, len(st.goodValues), len(st.badValues))
		}
		if total > bestScore {
			bestScore = total
			bestCandidate = candidate
			haveCandidate = true
		}
	}

	params := make(map[string]any, len(names))
	for _, name := range names {
		d := space[name]
		if haveCandidate {
			params[name] = d.Decode(clamp01(bestCandidate[name]))
		} else {
			params[name] = d.Decode(rng.Float64())
		}
	}
	return params
}

// sampleFromKDE draws one value from the KDE's mixture by picking a random
// component point and jittering it by the fitted bandwidth, falling back to
// a uniform draw when values is empty (handled by the caller beforehand).
func sampleFromKDE(k *mathkernel.KDE, values []float64, rng *rand.Rand) float64 {
	center := values[rng.Intn(len(values))]
	u := center + rng.NormFloat64()*bandwidthOf(k)
	return clamp01(u)
}

// bandwidthOf recovers a usable jitter scale from a KDE even in its
// degenerate/empty states, where the fitted bandwidth is zero.
func bandwidthOf(k *mathkernel.KDE) float64 {
	// A KDE exposes only log-densities, not its fitted bandwidth; TPE
	// needs a jitter scale, so it infers one from the density's curvature
	// near the center of the unit interval.
	const probe = 0.05
	ld0 := k.LogDensity(0.5)
	ld1 := k.LogDensity(0.5 + probe)
	curvature := ld0 - ld1
	if curvature <= 0 || math.IsInf(curvature, 0) || math.IsNaN(curvature) {
		return 0.1
	}
	h := probe / math.Sqrt(2*curvature)
	if h < 0.01 {
		h = 0.01
	}
	if h > 0.5 {
		h = 0.5
	}
	return h
}

func clamp01(u float64) float64 {
	if u < 0 {
		return 0
	}
	if u >= 1 {
		return math.Nextafter(1, 0)
	}
	return u
}

var _ Sampler = (*TPE)(nil)
