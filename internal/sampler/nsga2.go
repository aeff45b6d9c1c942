package sampler

import (
	"math"
	"math/rand"

	"github.com/pcraw4d/scout/internal/searchspace"
	"github.com/pcraw4d/scout/internal/store"
)

// NSGA2 is a steady-state NSGA-II: rather than the generational "evolve a
// population, wait for the whole generation to finish" loop, it rebuilds
// non-domination fronts and crowding distances from the current completed
// history on every call and emits a single offspring via binary-tournament
// selection, SBX crossover, and polynomial mutation. This fits the
// Sampler.Next contract (one proposal per call) without the scheduler
// needing to know about generations.
//
// Multi-objective scoring uses a slot convention: when
// options.n_objectives > 1, objective 0 is Trial.Score (so pruners and
// best-trial selection, which only understand Score, keep working
// unmodified) and objectives 1..n-1 are read from
// Trial.IntermediateValues, keyed by objective index. A trial missing any
// objective slot is excluded from the ranking pool for that call.
type NSGA2 struct {
	goal          store.Goal
	nObjectives   int
	nStartup      int
	etaCrossover  float64
	etaMutation   float64
	crossoverProb float64
	mutationProb  float64
}

// NewNSGA2 builds an NSGA2 sampler. Recognized options: n_objectives
// (default 1), n_startup_trials (default 10), eta_crossover (default 15),
// eta_mutation (default 20), crossover_prob (default 0.9), mutation_prob
// (default 1/dim when <=0, resolved lazily per call).
func NewNSGA2(o Options, goal store.Goal) (*NSGA2, error) {
	return &NSGA2{
		goal:          goal,
		nObjectives:   maxInt(o.int("n_objectives", 1), 1),
		nStartup:      o.int("n_startup_trials", 10),
		etaCrossover:  o.float("eta_crossover", 15),
		etaMutation:   o.float("eta_mutation", 20),
		crossoverProb: o.float("crossover_prob", 0.9),
		mutationProb:  o.float("mutation_prob", 0),
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

type nsgaPoint struct {
	u           map[string]float64 // encoded [0,1) draw per continuous dimension
	categorical map[string]any
	objectives  []float64
	rank        int
	crowding    float64
}

func (s *NSGA2) Next(space searchspace.Space, trialIndex int, history []store.Trial, rng *rand.Rand) (map[string]any, error) {
	names := space.Names()
	var continuous, categorical []string
	for _, n := range names {
		if space[n].Kind == searchspace.KindCategorical {
			categorical = append(categorical, n)
		} else {
			continuous = append(continuous, n)
		}
	}

	population := s.buildPopulation(space, continuous, categorical, history)
	if trialIndex < s.nStartup || len(population) < 2 {
		return drawUniform(space, rng), nil
	}

	s.rankAndCrowd(population)

	p1 := tournamentSelect(population, rng)
	p2 := tournamentSelect(population, rng)

	childU := make(map[string]float64, len(continuous))
	mutationProb := s.mutationProb
	if mutationProb <= 0 && len(continuous) > 0 {
		mutationProb = 1.0 / float64(len(continuous))
	}
	for _, name := range continuous {
		a, b := p1.u[name], p2.u[name]
		if rng.Float64() < s.crossoverProb {
			a, b = sbxCrossover(a, b, s.etaCrossover, rng)
		}
		child := a
		if rng.Float64() < 0.5 {
			child = b
		}
		if rng.Float64() < mutationProb {
			child = polynomialMutate(child, s.etaMutation, rng)
		}
		childU[name] = clamp01(child)
	}

	params := make(map[string]any, len(names))
	for _, name := range continuous {
		params[name] = space[name].Decode(childU[name])
	}
	for _, name := range categorical {
		src := p1
		if rng.Float64() < 0.5 {
			src = p2
		}
		params[name] = src.categorical[name]
	}
	return params, nil
}

func (s *NSGA2) buildPopulation(space searchspace.Space, continuous, categorical []string, history []store.Trial) []*nsgaPoint {
	var population []*nsgaPoint
	for _, t := range history {
		if t.Status != store.TrialCompleted || t.Score == nil {
			continue
		}
		objectives := make([]float64, s.nObjectives)
		objectives[0] = *t.Score
		complete := true
		for i := 1; i < s.nObjectives; i++ {
			v, ok := t.IntermediateValues[i]
			if !ok {
				complete = false
				break
			}
			objectives[i] = v
		}
		if !complete {
			continue
		}

		p := &nsgaPoint{objectives: objectives, u: map[string]float64{}, categorical: map[string]any{}}
		ok := true
		for _, name := range continuous {
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
			p.u[name] = u
		}
		if !ok {
			continue
		}
		for _, name := range categorical {
			p.categorical[name] = t.Params[name]
		}
		population = append(population, p)
	}
	return population
}

// dominates reports whether a dominates b for this sampler's goal: at least
// as good in every objective and strictly better in one.
func (s *NSGA2) dominates(a, b *nsgaPoint) bool {
	betterOrEqual, strictlyBetter := true, false
	for i := range a.objectives {
		better := a.objectives[i] < b.objectives[i]
		if s.goal == store.GoalMaximize {
			better = a.objectives[i] > b.objectives[i]
		}
		worse := a.objectives[i] > b.objectives[i]
		if s.goal == store.GoalMaximize {
			worse = a.objectives[i] < b.objectives[i]
		}
		if worse {
			betterOrEqual = false
		}
		if better {
			strictlyBetter = true
		}
	}
	return betterOrEqual && strictlyBetter
}

// rankAndCrowd assigns non-domination rank and crowding distance in place,
// the classic NSGA-II fast-non-dominated-sort + crowding-distance pass.
func (s *NSGA2) rankAndCrowd(population []*nsgaPoint) {
	n := len(population)
	dominatedBy := make([][]int, n)
	dominationCount := make([]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if s.dominates(population[i], population[j]) {
				dominatedBy[i] = append(dominatedBy[i], j)
			} else if s.dominates(population[j], population[i]) {
				dominationCount[i]++
			}
		}
	}

	var fronts [][]int
	var current []int
	for i := 0; i < n; i++ {
		if dominationCount[i] == 0 {
			population[i].rank = 0
			current = append(current, i)
		}
	}
	rank := 0
	for len(current) > 0 {
		var next []int
		for _, i := range current {
			for _, j := range dominatedBy[i] {
				dominationCount[j]--
				if dominationCount[j] == 0 {
					population[j].rank = rank + 1
					next = append(next, j)
				}
			}
		}
		fronts = append(fronts, current)
		current = next
		rank++
	}

	nObj := 1
	if n > 0 {
		nObj = len(population[0].objectives)
	}
	for _, front := range fronts {
		for _, i := range front {
			population[i].crowding = 0
		}
		for m := 0; m < nObj; m++ {
			sortByObjective(population, front, m)
			if len(front) > 0 {
				population[front[0]].crowding = math.Inf(1)
				population[front[len(front)-1]].crowding = math.Inf(1)
			}
			lo, hi := objectiveRange(population, front, m)
			span := hi - lo
			if span <= 0 {
				continue
			}
			for k := 1; k < len(front)-1; k++ {
				prev := population[front[k-1]].objectives[m]
				next := population[front[k+1]].objectives[m]
				population[front[k]].crowding += (next - prev) / span
			}
		}
	}
}

func sortByObjective(population []*nsgaPoint, front []int, m int) {
	for i := 1; i < len(front); i++ {
		for j := i; j > 0 && population[front[j-1]].objectives[m] > population[front[j]].objectives[m]; j-- {
			front[j-1], front[j] = front[j], front[j-1]
		}
	}
}

func objectiveRange(population []*nsgaPoint, front []int, m int) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, i := range front {
		v := population[i].objectives[m]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func tournamentSelect(population []*nsgaPoint, rng *rand.Rand) *nsgaPoint {
	a := population[rng.Intn(len(population))]
	b := population[rng.Intn(len(population))]
	if a.rank != b.rank {
		if a.rank < b.rank {
			return a
		}
		return b
	}
	if a.crowding > b.crowding {
		return a
	}
	return b
}

// sbxCrossover is simulated binary crossover producing two children from
// two parents; callers typically keep one.
func sbxCrossover(a, b, eta float64, rng *rand.Rand) (float64, float64) {
	u := rng.Float64()
	var beta float64
	if u <= 0.5 {
		beta = math.Pow(2*u, 1/(eta+1))
	} else {
		beta = math.Pow(1/(2*(1-u)), 1/(eta+1))
	}
	c1 := 0.5 * ((1+beta)*a + (1-beta)*b)
	c2 := 0.5 * ((1-beta)*a + (1+beta)*b)
	return c1, c2
}

// polynomialMutate applies polynomial mutation to u in [0,1).
func polynomialMutate(u, eta float64, rng *rand.Rand) float64 {
	r := rng.Float64()
	var delta float64
	if r < 0.5 {
		delta = math.Pow(2*r, 1/(eta+1)) - 1
	} else {
		delta = 1 - math.Pow(2*(1-r), 1/(eta+1))
	}
	return u + delta
}

var _ Sampler = (*NSGA2)(nil)
