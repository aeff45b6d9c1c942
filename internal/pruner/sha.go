package pruner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/pcraw4d/scout/internal/store"
)

// SHA is Successive Halving: at rung r it retains only the top fraction
// eta^(-r) of peers reporting at the same (study, bracket, rung). A warmup
// of warmupTrials trials and minPeers peers at a rung is required before
// any prune decision is made.
type SHA struct {
	minResource     float64
	reductionFactor float64 // eta
	warmupTrials    int
	minPeers        int

	mu        sync.Mutex
	evaluated map[string]int // trialID -> highest rung already evaluated
}

// NewSHA builds a SHA pruner. Recognized options: min_resource (default
// 1), reduction_factor (eta, default 3), warmup_trials (default 0),
// min_peers (default 1).
func NewSHA(o Options) (*SHA, error) {
	eta := o.float("reduction_factor", 3)
	if eta <= 1 {
		return nil, fmt.Errorf("%w: sha reduction_factor must be > 1, got %v", store.ErrConfig, eta)
	}
	minResource := o.float("min_resource", 1)
	if minResource <= 0 {
		return nil, fmt.Errorf("%w: sha min_resource must be > 0, got %v", store.ErrConfig, minResource)
	}
	return &SHA{
		minResource:     minResource,
		reductionFactor: eta,
		warmupTrials:    o.int("warmup_trials", 0),
		minPeers:        o.int("min_peers", 1),
		evaluated:       make(map[string]int),
	}, nil
}

// RungForStep exposes the rung bucketing ShouldPrune uses internally, so
// the scheduler can record observations under the same (bracket, rung) key
// SHA queries peers by.
func (p *SHA) RungForStep(step int) int {
	rung := p.rungForStep(step)
	if rung < 0 {
		return 0
	}
	return rung
}

// rungForStep returns the highest rung r whose resource threshold
// minResource * eta^r has been reached by step, or -1 if none has.
func (p *SHA) rungForStep(step int) int {
	if float64(step) < p.minResource {
		return -1
	}
	rung := int(math.Floor(math.Log(float64(step)/p.minResource) / math.Log(p.reductionFactor)))
	if rung < 0 {
		rung = 0
	}
	return rung
}

func (p *SHA) ShouldPrune(ctx context.Context, st store.Store, studyID, trialID string, step int, value float64, goal store.Goal) (bool, error) {
	rung := p.rungForStep(step)
	if rung < 0 {
		return false, nil
	}

	p.mu.Lock()
	if last, ok := p.evaluated[trialID]; ok && last >= rung {
		p.mu.Unlock()
		return false, nil
	}
	p.evaluated[trialID] = rung
	p.mu.Unlock()

	trials, err := st.ListTrials(ctx, studyID)
	if err != nil {
		return false, err
	}
	if countStatus(trials, store.TrialCompleted)+countStatus(trials, store.TrialRunning) < p.warmupTrials {
		return false, nil
	}

	trial, err := st.FetchTrial(ctx, trialID)
	if err != nil {
		return false, err
	}

	peers, err := st.ObservationsAtRung(ctx, studyID, trial.Bracket, rung)
	if err != nil {
		return false, err
	}

	scores := make([]float64, 0, len(peers)+1)
	selfIncluded := false
	for _, peer := range peers {
		scores = append(scores, peer.Score)
		if peer.TrialID == trialID {
			selfIncluded = true
		}
	}
	if !selfIncluded {
		scores = append(scores, value)
	}
	if len(scores) < p.minPeers {
		return false, nil
	}

	return !keepsTop(scores, value, p.reductionFactor, rung, goal), nil
}

// keepsTop reports whether value ranks within the top eta^(-rung) fraction
// of scores under goal (lower rank index is better when minimizing).
func keepsTop(scores []float64, value float64, eta float64, rung int, goal store.Goal) bool {
	sorted := append([]float64(nil), scores...)
	sort.Slice(sorted, func(i, j int) bool {
		if goal == store.GoalMinimize {
			return sorted[i] < sorted[j]
		}
		return sorted[i] > sorted[j]
	})
	keepFraction := math.Pow(eta, -float64(rung))
	keepCount := int(math.Ceil(float64(len(sorted)) * keepFraction))
	if keepCount < 1 {
		keepCount = 1
	}
	if keepCount > len(sorted) {
		keepCount = len(sorted)
	}

	rank := sort.Search(len(sorted), func(i int) bool {
		if goal == store.GoalMinimize {
			return sorted[i] >= value
		}
		return sorted[i] <= value
	})
	return rank < keepCount
}

func countStatus(trials []store.Trial, status store.TrialStatus) int {
	n := 0
	for _, t := range trials {
		if t.Status == status {
			n++
		}
	}
	return n
}

var _ Pruner = (*SHA)(nil)
var _ RungMapper = (*SHA)(nil)
