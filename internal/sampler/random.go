package sampler

import (
	"math/rand"

	"github.com/pcraw4d/scout/internal/searchspace"
	"github.com/pcraw4d/scout/internal/store"
)

// Random draws each parameter independently from its distribution. It is
// both the baseline sampler and TPE's startup sampler.
type Random struct{}

// NewRandom builds a Random sampler; it has no options.
func NewRandom(Options) (*Random, error) { return &Random{}, nil }

func (r *Random) Next(space searchspace.Space, _ int, _ []store.Trial, rng *rand.Rand) (map[string]any, error) {
	return drawUniform(space, rng), nil
}

// drawUniform draws one independent uniform(0,1) value per parameter and
// decodes it through the space, shared by Random and TPE's startup phase.
func drawUniform(space searchspace.Space, rng *rand.Rand) map[string]any {
	params := make(map[string]any, len(space))
	for _, name := range space.Names() {
		params[name] = space[name].Decode(rng.Float64())
	}
	return params
}

var _ Sampler = (*Random)(nil)
