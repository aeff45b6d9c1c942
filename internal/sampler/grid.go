package sampler

import (
	"fmt"
	"math/rand"

	"github.com/pcraw4d/scout/internal/searchspace"
	"github.com/pcraw4d/scout/internal/store"
)

// OnExhaust controls Grid's behavior once the trial index exceeds the
// product-grid size.
type OnExhaust string

const (
	OnExhaustWrap  OnExhaust = "wrap"
	OnExhaustStop  OnExhaust = "stop"
	OnExhaustError OnExhaust = "error"
)

// ErrGridExhausted is returned by Next once the grid has been fully
// enumerated under on_exhaust=error or on_exhaust=stop; the two modes behave
// the same. The scheduler records each further trial as failed with this
// error and does not end the study early.
var ErrGridExhausted = fmt.Errorf("%w: grid sampler exhausted", store.ErrConfig)

// Grid enumerates a product grid over the search space; resolution (per
// dimension, default 10) is taken from options.resolution. Categorical
// dimensions use their own choice count instead of the configured
// resolution.
type Grid struct {
	resolution int
	onExhaust  OnExhaust
	// wrapped is set once Next has wrapped at least one index, so callers
	// (the scheduler) can log a warning exactly once per study rather than
	// once per trial.
	wrapped bool
}

// NewGrid builds a Grid sampler from options.resolution (default 10) and
// options.on_exhaust (default "wrap").
func NewGrid(o Options) (*Grid, error) {
	onExhaust := OnExhaust(o.string("on_exhaust", string(OnExhaustWrap)))
	switch onExhaust {
	case OnExhaustWrap, OnExhaustStop, OnExhaustError:
	default:
		return nil, fmt.Errorf("%w: unknown grid on_exhaust option %q", store.ErrConfig, onExhaust)
	}
	resolution := o.int("resolution", 10)
	if resolution < 1 {
		return nil, fmt.Errorf("%w: grid resolution must be >= 1, got %d", store.ErrConfig, resolution)
	}
	return &Grid{resolution: resolution, onExhaust: onExhaust}, nil
}

// Size returns the product-grid size for space; Next wraps, stops or
// errors once the trial index reaches it.
func (g *Grid) Size(space searchspace.Space) int {
	size := 1
	for _, name := range space.Names() {
		size *= g.dimSize(space[name])
	}
	return size
}

func (g *Grid) dimSize(d searchspace.Distribution) int {
	if d.Kind == searchspace.KindCategorical {
		return len(d.Choices)
	}
	return g.resolution
}

// HasWrapped reports whether a previous Next call wrapped the trial index
// modulo the grid size.
func (g *Grid) HasWrapped() bool { return g.wrapped }

func (g *Grid) Next(space searchspace.Space, trialIndex int, _ []store.Trial, _ *rand.Rand) (map[string]any, error) {
	size := g.Size(space)
	if size == 0 {
		return nil, fmt.Errorf("%w: grid sampler has an empty search space", store.ErrConfig)
	}

	idx := trialIndex
	if idx >= size {
		switch g.onExhaust {
		case OnExhaustError:
			return nil, ErrGridExhausted
		case OnExhaustStop:
			return nil, ErrGridExhausted
		default: // wrap
			g.wrapped = true
			idx = idx % size
		}
	}

	params := make(map[string]any, len(space))
	remaining := idx
	names := space.Names()
	// Mixed-radix decompose remaining into one coordinate per dimension,
	// iterating dimensions in reverse so the first-listed parameter varies
	// slowest (stable, human-predictable enumeration order).
	sizes := make([]int, len(names))
	for i, name := range names {
		sizes[i] = g.dimSize(space[name])
	}
	coords := make([]int, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		coords[i] = remaining % sizes[i]
		remaining /= sizes[i]
	}
	for i, name := range names {
		d := space[name]
		n := sizes[i]
		u := (float64(coords[i]) + 0.5) / float64(n)
		params[name] = d.Decode(u)
	}
	return params, nil
}

var _ Sampler = (*Grid)(nil)
