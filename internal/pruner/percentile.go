package pruner

import (
	"context"
	"fmt"

	"github.com/pcraw4d/scout/internal/mathkernel"
	"github.com/pcraw4d/scout/internal/store"
)

// Percentile is identical to Median except the threshold is a configured
// percentile of peer values rather than the 50th.
type Percentile struct {
	nStartup      int
	nWarmupSteps  int
	intervalSteps int
	percentile    float64
}

// NewPercentile builds a Percentile pruner. Recognized options:
// n_startup_trials (default 5), n_warmup_steps (default 0),
// interval_steps (default 1), percentile (default 25, must lie in [0,100]).
func NewPercentile(o Options) (*Percentile, error) {
	interval := o.int("interval_steps", 1)
	if interval < 1 {
		return nil, fmt.Errorf("%w: percentile pruner interval_steps must be >= 1, got %d", store.ErrConfig, interval)
	}
	pct := o.float("percentile", 25.0)
	if pct < 0 || pct > 100 {
		return nil, fmt.Errorf("%w: percentile pruner percentile must lie in [0,100], got %v", store.ErrConfig, pct)
	}
	return &Percentile{
		nStartup:      o.int("n_startup_trials", 5),
		nWarmupSteps:  o.int("n_warmup_steps", 0),
		intervalSteps: interval,
		percentile:    pct,
	}, nil
}

func (p *Percentile) ShouldPrune(ctx context.Context, st store.Store, studyID, trialID string, step int, value float64, goal store.Goal) (bool, error) {
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
	threshold := mathkernel.Percentile(peers, p.percentile)
	return worseThan(value, threshold, goal), nil
}

var _ Pruner = (*Percentile)(nil)
