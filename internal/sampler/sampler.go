// Package sampler implements the proposal algorithms: Random, Grid, QMC,
// TPE (one canonical implementation with its variants unified into
// options), CMA-ES, NSGA-II, UCB1 Bandit, Gaussian-process EI, and
// FixedTrial.
package sampler

import (
	"fmt"
	"math/rand"

	"github.com/pcraw4d/scout/internal/searchspace"
	"github.com/pcraw4d/scout/internal/store"
)

// Sampler proposes the next trial's parameters given the search space, the
// trial's dequeue index, and the trial history snapshot at call time. rng
// is seeded per-trial by the scheduler from internal/seed's derivation, so
// the same (state, history, index, rng seed) always yields the same
// params.
type Sampler interface {
	Next(space searchspace.Space, trialIndex int, history []store.Trial, rng *rand.Rand) (map[string]any, error)
}

// Options is the options map forwarded from a study's sampler_opts to a
// sampler's Factory.
type Options map[string]any

func (o Options) float(key string, def float64) float64 {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

func (o Options) int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func (o Options) bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func (o Options) string(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Factory builds a Sampler from its options and the study's optimization
// goal (some samplers, like TPE's good/bad split, need to know direction).
type Factory func(options Options, goal store.Goal) (Sampler, error)

// registry is the whitelist dispatch table: unknown sampler names are
// rejected with a config error rather than being resolved through any
// dynamic string-to-identifier conversion.
var registry = map[string]Factory{
	"random": func(o Options, g store.Goal) (Sampler, error) { return NewRandom(o) },
	"grid":   func(o Options, g store.Goal) (Sampler, error) { return NewGrid(o) },
	"qmc":    func(o Options, g store.Goal) (Sampler, error) { return NewQMC(o) },
	"tpe":    func(o Options, g store.Goal) (Sampler, error) { return NewTPE(o, g) },
	"cmaes":  func(o Options, g store.Goal) (Sampler, error) { return NewCMAES(o, g) },
	"nsga2":  func(o Options, g store.Goal) (Sampler, error) { return NewNSGA2(o, g) },
	"bandit": func(o Options, g store.Goal) (Sampler, error) { return NewBandit(o, g) },
	"gp":     func(o Options, g store.Goal) (Sampler, error) { return NewGP(o, g) },
	"fixed":  func(o Options, g store.Goal) (Sampler, error) { return NewFixedTrial(o) },
}

// Resolve looks up kind in the whitelist registry, returning ConfigError on
// an unknown name.
func Resolve(kind string, options Options, goal store.Goal) (Sampler, error) {
	factory, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown sampler %q", store.ErrConfig, kind)
	}
	return factory(options, goal)
}

// RegisterCustom lets a host plug in a user-defined sampler under a new
// name: users extend the whitelist explicitly rather than bypassing it.
func RegisterCustom(name string, factory Factory) {
	registry[name] = factory
}
