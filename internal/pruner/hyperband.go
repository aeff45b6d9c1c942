package pruner

import (
	"context"
	"fmt"
	"math"

	"github.com/pcraw4d/scout/internal/store"
)

// Hyperband computes s_max = floor(log_eta(max_resource)) and generates
// brackets 0..s_max, assigning bracket = trial_index mod (s_max + 1).
// Within each bracket it delegates rung retention to an embedded SHA,
// which already carries the (study, bracket, rung) peer query; Hyperband
// only adds the bracket assignment and the s_max derivation on top.
type Hyperband struct {
	sMax int
	sha  *SHA
}

// NewHyperband builds a Hyperband pruner. Recognized options:
// reduction_factor (eta, default 3), max_resource (required, > 0),
// min_resource (default 1), warmup_peers (default 1, forwarded to the
// embedded SHA as min_peers).
func NewHyperband(o Options) (*Hyperband, error) {
	eta := o.float("reduction_factor", 3)
	if eta <= 1 {
		return nil, fmt.Errorf("%w: hyperband reduction_factor must be > 1, got %v", store.ErrConfig, eta)
	}
	maxResource := o.float("max_resource", 0)
	if maxResource <= 0 {
		return nil, fmt.Errorf("%w: hyperband max_resource must be > 0, got %v", store.ErrConfig, maxResource)
	}
	minResource := o.float("min_resource", 1)
	if minResource <= 0 {
		return nil, fmt.Errorf("%w: hyperband min_resource must be > 0, got %v", store.ErrConfig, minResource)
	}

	sMax := int(math.Floor(math.Log(maxResource) / math.Log(eta)))
	if sMax < 0 {
		sMax = 0
	}

	sha, err := NewSHA(Options{
		"min_resource":     minResource,
		"reduction_factor": eta,
		"warmup_trials":    0,
		"min_peers":        o.int("warmup_peers", 1),
	})
	if err != nil {
		return nil, err
	}

	return &Hyperband{sMax: sMax, sha: sha}, nil
}

// AssignBracket assigns trialIndex mod (s_max+1), guaranteeing bracket
// counts across n trials differ by at most one.
func (h *Hyperband) AssignBracket(trialIndex int) int {
	return trialIndex % (h.sMax + 1)
}

func (h *Hyperband) ShouldPrune(ctx context.Context, st store.Store, studyID, trialID string, step int, value float64, goal store.Goal) (bool, error) {
	return h.sha.ShouldPrune(ctx, st, studyID, trialID, step, value, goal)
}

// RungForStep delegates to the embedded SHA's rung bucketing.
func (h *Hyperband) RungForStep(step int) int {
	return h.sha.RungForStep(step)
}

var _ Pruner = (*Hyperband)(nil)
var _ BracketAssigner = (*Hyperband)(nil)
var _ RungMapper = (*Hyperband)(nil)
