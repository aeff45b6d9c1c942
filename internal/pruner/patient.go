package pruner

import (
	"context"
	"sync"

	"github.com/pcraw4d/scout/internal/store"
)

// Patient prunes a trial once its reported value fails to improve by more
// than min_delta for patience consecutive reports. Per-trial best value
// and stale-report count are kept in pruner state and released via Cleanup
// on a trial's terminal transition.
type Patient struct {
	minDelta float64
	patience int

	mu    sync.Mutex
	state map[string]*patientState
}

type patientState struct {
	best    float64
	hasBest bool
	stale   int
}

// NewPatient builds a Patient pruner. Recognized options: min_delta
// (default 0.0), patience (default 5).
func NewPatient(o Options) (*Patient, error) {
	return &Patient{
		minDelta: o.float("min_delta", 0.0),
		patience: o.int("patience", 5),
		state:    make(map[string]*patientState),
	}, nil
}

func (p *Patient) ShouldPrune(ctx context.Context, st store.Store, studyID, trialID string, step int, value float64, goal store.Goal) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.state[trialID]
	if !ok {
		s = &patientState{}
		p.state[trialID] = s
	}

	improved := false
	switch {
	case !s.hasBest:
		s.best = value
		s.hasBest = true
		improved = true
	case goal == store.GoalMinimize:
		improved = value < s.best-p.minDelta
	default:
		improved = value > s.best+p.minDelta
	}

	if improved {
		s.best = value
		s.stale = 0
	} else {
		s.stale++
	}

	return s.stale >= p.patience, nil
}

// Cleanup releases trialID's best/stale-count state once it reaches a
// terminal status.
func (p *Patient) Cleanup(trialID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.state, trialID)
}

var _ Pruner = (*Patient)(nil)
var _ Cleaner = (*Patient)(nil)
