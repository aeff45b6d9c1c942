// Package pruner implements the early-stopping decision policies: Median,
// Percentile, Successive Halving, Hyperband, Patient, Threshold, and
// Wilcoxon.
package pruner

import (
	"context"
	"fmt"

	"github.com/pcraw4d/scout/internal/store"
)

// Pruner decides, on each intermediate report, whether a trial should be
// stopped early. Implementations must treat "insufficient data" as "do not
// prune" rather than an error.
type Pruner interface {
	ShouldPrune(ctx context.Context, st store.Store, studyID, trialID string, step int, value float64, goal store.Goal) (bool, error)
}

// BracketAssigner is implemented by bracket-based pruners (Hyperband) that
// assign a trial's bracket at dequeue time, before any report arrives.
type BracketAssigner interface {
	AssignBracket(trialIndex int) int
}

// Cleaner is implemented by pruners that keep per-trial state (Patient)
// and need to release it once a trial reaches a terminal status.
type Cleaner interface {
	Cleanup(trialID string)
}

// RungMapper is implemented by pruners whose peer queries are keyed by a
// rung index distinct from the raw report step (SHA, Hyperband). The
// scheduler uses this to decide what rung value to record on the
// Observation it writes to the store before asking ShouldPrune; pruners
// that query by raw step (Median, Percentile) don't need this, and the
// scheduler defaults to rung == step for them.
type RungMapper interface {
	RungForStep(step int) int
}

// Options is the options map forwarded from a study's pruner_opts to a
// pruner's Factory.
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

func (o Options) string(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Factory builds a Pruner from its options and the study's optimization
// goal. Only Threshold takes the goal at construction; every pruner also
// receives it on each ShouldPrune call.
type Factory func(options Options, goal store.Goal) (Pruner, error)

// registry is the whitelist dispatch table, the same pattern
// internal/sampler uses: unknown pruner names are rejected with a config
// error rather than resolved through dynamic string-to-identifier
// conversion.
var registry = map[string]Factory{
	"median":     func(o Options, g store.Goal) (Pruner, error) { return NewMedian(o) },
	"percentile": func(o Options, g store.Goal) (Pruner, error) { return NewPercentile(o) },
	"sha":        func(o Options, g store.Goal) (Pruner, error) { return NewSHA(o) },
	"hyperband":  func(o Options, g store.Goal) (Pruner, error) { return NewHyperband(o) },
	"patient":    func(o Options, g store.Goal) (Pruner, error) { return NewPatient(o) },
	"threshold":  func(o Options, g store.Goal) (Pruner, error) { return NewThreshold(o, g) },
	"wilcoxon":   func(o Options, g store.Goal) (Pruner, error) { return NewWilcoxon(o) },
}

// Resolve looks up kind in the whitelist registry, returning ConfigError on
// an unknown name. An empty kind means "no pruner" and is handled by the
// caller (the runner), not here.
func Resolve(kind string, options Options, goal store.Goal) (Pruner, error) {
	factory, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown pruner %q", store.ErrConfig, kind)
	}
	return factory(options, goal)
}

// RegisterCustom lets a host plug in a user-defined pruner under a new
// name, mirroring sampler.RegisterCustom.
func RegisterCustom(name string, factory Factory) {
	registry[name] = factory
}
