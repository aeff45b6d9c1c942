package pruner

import (
	"context"
	"fmt"

	"github.com/pcraw4d/scout/internal/mathkernel"
	"github.com/pcraw4d/scout/internal/store"
)

// Median prunes a trial when its reported value is worse than the median
// of completed trials' values at the same step. It only evaluates at
// step ≡ 0 (mod interval_steps), and only once n_startup_trials have
// completed and step has passed n_warmup_steps.
type Median struct {
	nStartup      int
	nWarmupSteps  int
	intervalSteps int
}

// NewMedian builds a Median pruner. Recognized options: n_startup_trials
// (default 5), n_warmup_steps (default 0), interval_steps (default 1).
func NewMedian(o Options) (*Median, error) {
	interval := o.int("interval_steps", 1)
	if interval < 1 {
		return nil, fmt.Errorf("%w: median pruner interval_steps must be >= 1, got %d", store.ErrConfig, interval)
	}
	return &Median{
		nStartup:      o.int("n_startup_trials", 5),
		nWarmupSteps:  o.int("n_warmup_steps", 0),
		intervalSteps: interval,
	}, nil
}

func (p *Median) ShouldPrune(ctx context.Context, st store.Store, studyID, trialID string, step int, value float64, goal store.Goal) (bool, error) {
	if step%p.intervalSteps != 0 {
		return false, nil
	}
	if step < p.nWarmupSteps {
		return false, nil
	}
	peers, err := completedPeerValuesAtStep(ctx, st, studyID, trialID, step, p.nStartup)
	if err != nil || peers == nil {
		return false, err
	}
	threshold := mathkernel.Median(peers)
	return worseThan(value, threshold, goal), nil
}

// completedPeerValuesAtStep collects the intermediate value reported at
// step by every completed trial in the study other than trialID. It
// returns (nil, nil) when there are fewer than nStartup completed trials
// or no peer has reported at step: insufficient data, not an error.
func completedPeerValuesAtStep(ctx context.Context, st store.Store, studyID, trialID string, step, nStartup int) ([]float64, error) {
	trials, err := st.ListTrials(ctx, studyID)
	if err != nil {
		return nil, err
	}
	var completed int
	var values []float64
	for _, t := range trials {
		if t.Status != store.TrialCompleted {
			continue
		}
		completed++
		if t.ID == trialID {
			continue
		}
		if v, ok := t.IntermediateValues[step]; ok {
			values = append(values, v)
		}
	}
	if completed < nStartup || len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

// worseThan reports whether value is worse than threshold under goal:
// strictly greater when minimizing, strictly less when maximizing.
func worseThan(value, threshold float64, goal store.Goal) bool {
	if goal == store.GoalMinimize {
		return value > threshold
	}
	return value < threshold
}

var _ Pruner = (*Median)(nil)
