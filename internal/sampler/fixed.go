package sampler

import (
	"fmt"
	"math/rand"

	"github.com/pcraw4d/scout/internal/searchspace"
	"github.com/pcraw4d/scout/internal/store"
)

// FixedTrial always proposes the same user-supplied parameter set. Its
// Factory has no search-space argument (Resolve is called before the space
// is necessarily known), so validation against the space happens on the
// first Next call, before the objective function ever executes; an
// out-of-bounds or missing value fails the trial with a config error. The
// validation result is cached so it is only computed once.
type FixedTrial struct {
	params    map[string]any
	validated bool
	validErr  error
}

// NewFixedTrial builds a FixedTrial sampler from options.params (a
// map[string]any).
func NewFixedTrial(o Options) (*FixedTrial, error) {
	raw, ok := o["params"]
	if !ok {
		return nil, fmt.Errorf("%w: fixed sampler requires options.params", store.ErrConfig)
	}
	params, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: fixed sampler options.params must be a map[string]any", store.ErrConfig)
	}
	return &FixedTrial{params: params}, nil
}

func (f *FixedTrial) Next(space searchspace.Space, _ int, _ []store.Trial, _ *rand.Rand) (map[string]any, error) {
	if !f.validated {
		f.validated = true
		for _, name := range space.Names() {
			v, present := f.params[name]
			if !present {
				f.validErr = fmt.Errorf("%w: fixed sampler is missing a value for parameter %q", store.ErrConfig, name)
				break
			}
			if !space[name].InBounds(v) {
				f.validErr = fmt.Errorf("%w: fixed sampler value %v for parameter %q is out of bounds", store.ErrConfig, v, name)
				break
			}
		}
	}
	if f.validErr != nil {
		return nil, f.validErr
	}

	out := make(map[string]any, len(f.params))
	for _, name := range space.Names() {
		out[name] = f.params[name]
	}
	return out, nil
}

var _ Sampler = (*FixedTrial)(nil)
