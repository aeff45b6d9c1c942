// Package benchmark bundles the canonical test objectives the CLI's
// `study start <file>` command and the root scenario tests drive samplers
// and pruners against. Objective code is arbitrary Go and can't be
// expressed in a YAML study file, so the file instead names one of these
// whitelisted functions by id, the same whitelist pattern
// internal/sampler uses for sampler/pruner resolution.
package benchmark

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/pcraw4d/scout/internal/scheduler"
	"github.com/pcraw4d/scout/internal/store"
)

// Sphere is sum(x_i^2): convex, single global minimum at the origin.
func Sphere(params map[string]any) float64 {
	sum := 0.0
	for _, v := range params {
		x := toFloat(v)
		sum += x * x
	}
	return sum
}

// Rosenbrock is the classic banana-valley function over params "x" and
// "y": minimum 0 at (1, 1), hard for samplers that ignore parameter
// correlation.
func Rosenbrock(params map[string]any) float64 {
	x := toFloat(params["x"])
	y := toFloat(params["y"])
	return math.Pow(1-x, 2) + 100*math.Pow(y-x*x, 2)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

// registry is the whitelist dispatch table for objective ids accepted in
// a StudyFile's "objective" field.
var registry = map[string]func(map[string]any) float64{
	"sphere":     Sphere,
	"rosenbrock": Rosenbrock,
}

// Resolve looks up id in the whitelist, returning ConfigError on an
// unknown name.
func Resolve(id string) (func(map[string]any) float64, error) {
	fn, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown benchmark objective %q", store.ErrConfig, id)
	}
	return fn, nil
}

// AsSchedulerObjective adapts a plain params->score function into a
// scheduler.Objective, ignoring the reporting handle. Benchmarks with
// intermediate reporting (for pruner scenarios) are wired ad hoc by their
// own tests rather than through this adapter.
func AsSchedulerObjective(fn func(map[string]any) float64) scheduler.Objective {
	return func(ctx context.Context, trialIndex int, params map[string]any, rng *rand.Rand, report scheduler.Report) (float64, error) {
		return fn(params), nil
	}
}
