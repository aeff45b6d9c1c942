package sampler

import (
	"math"
	"math/rand"

	"github.com/pcraw4d/scout/internal/searchspace"
	"github.com/pcraw4d/scout/internal/store"
)

// Bandit treats each parameter as an independent multi-armed bandit and
// picks arms by UCB1. Categorical parameters use their choices as arms;
// continuous and integer parameters are discretized into resolution equal
// bins of the encoded [0,1) space, with the concrete value drawn uniformly
// inside the chosen bin. Arm statistics are recomputed from the history
// snapshot on every call, so the sampler holds no mutable state of its own
// and stays deterministic for a fixed (history, rng) pair.
type Bandit struct {
	goal        store.Goal
	nStartup    int
	resolution  int
	exploration float64
}

// NewBandit builds a Bandit sampler. Recognized options: n_startup_trials
// (default 10), resolution (default 10, bins per non-categorical
// dimension), exploration (default sqrt(2), the UCB1 confidence
// coefficient).
func NewBandit(o Options, goal store.Goal) (*Bandit, error) {
	b := &Bandit{
		goal:        goal,
		nStartup:    o.int("n_startup_trials", 10),
		resolution:  o.int("resolution", 10),
		exploration: o.float("exploration", math.Sqrt2),
	}
	if b.nStartup < 0 {
		b.nStartup = 0
	}
	if b.resolution < 2 {
		b.resolution = 10
	}
	if b.exploration < 0 {
		b.exploration = math.Sqrt2
	}
	return b, nil
}

func (b *Bandit) Next(space searchspace.Space, trialIndex int, history []store.Trial, rng *rand.Rand) (map[string]any, error) {
	rewards := b.rewards(history)
	if trialIndex < b.nStartup || len(rewards) < 2 {
		return drawUniform(space, rng), nil
	}

	params := make(map[string]any, len(space))
	for _, name := range space.Names() {
		d := space[name]
		arms := b.armCount(d)

		counts := make([]int, arms)
		sums := make([]float64, arms)
		total := 0
		for _, h := range history {
			r, scored := rewards[h.ID]
			if !scored {
				continue
			}
			v, present := h.Params[name]
			if !present {
				continue
			}
			u, err := d.Encode(v)
			if err != nil {
				continue
			}
			arm := b.armOf(clamp01(u), arms)
			counts[arm]++
			sums[arm] += r
			total++
		}

		bestArm := 0
		bestUCB := math.Inf(-1)
		for arm := 0; arm < arms; arm++ {
			var ucb float64
			if counts[arm] == 0 {
				// An unplayed arm is always preferred; break ties by index.
				ucb = math.Inf(1)
			} else {
				mean := sums[arm] / float64(counts[arm])
				ucb = mean + b.exploration*math.Sqrt(math.Log(float64(total))/float64(counts[arm]))
			}
			if ucb > bestUCB {
				bestUCB = ucb
				bestArm = arm
			}
		}

		// Draw uniformly within the chosen arm's slice of encoded space.
		lo := float64(bestArm) / float64(arms)
		hi := float64(bestArm+1) / float64(arms)
		params[name] = d.Decode(clamp01(lo + rng.Float64()*(hi-lo)))
	}
	return params, nil
}

// rewards maps completed trial IDs to a min-max-normalized reward in [0,1]
// where 1 is the best score seen so far under the study goal.
func (b *Bandit) rewards(history []store.Trial) map[string]float64 {
	var lo, hi float64
	first := true
	for _, t := range history {
		if t.Status != store.TrialCompleted || t.Score == nil {
			continue
		}
		s := *t.Score
		if first {
			lo, hi = s, s
			first = false
			continue
		}
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}

	out := make(map[string]float64)
	for _, t := range history {
		if t.Status != store.TrialCompleted || t.Score == nil {
			continue
		}
		var r float64
		if hi == lo {
			r = 0.5
		} else if b.goal == store.GoalMinimize {
			r = (hi - *t.Score) / (hi - lo)
		} else {
			r = (*t.Score - lo) / (hi - lo)
		}
		out[t.ID] = r
	}
	return out
}

func (b *Bandit) armCount(d searchspace.Distribution) int {
	if d.Kind == searchspace.KindCategorical {
		return len(d.Choices)
	}
	return b.resolution
}

func (b *Bandit) armOf(u float64, arms int) int {
	arm := int(u * float64(arms))
	if arm >= arms {
		arm = arms - 1
	}
	return arm
}

var _ Sampler = (*Bandit)(nil)
