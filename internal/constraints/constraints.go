// Package constraints attaches feasibility functions to a trial's
// parameters and composes them into the score via a penalty term or an
// augmented Lagrangian. No sampler in this module reads constraints:
// multi-objective samplers do not treat violating trials as dominated.
package constraints

import "math"

// Func is one constraint g_i(params) <= 0; a positive return value is the
// magnitude of the violation.
type Func func(params map[string]any) float64

// Set is an ordered collection of constraint functions evaluated together
// against one parameter assignment.
type Set []Func

// Evaluate returns g_i(params) for every constraint in the set, in order.
func (s Set) Evaluate(params map[string]any) []float64 {
	out := make([]float64, len(s))
	for i, g := range s {
		out[i] = g(params)
	}
	return out
}

// Violations returns only the positive (violated) constraint values.
func (s Set) Violations(params map[string]any) []float64 {
	var out []float64
	for _, g := range s {
		if v := g(params); v > 0 {
			out = append(out, v)
		}
	}
	return out
}

// Feasible reports whether every constraint in the set is satisfied
// (g_i(params) <= 0 for all i).
func (s Set) Feasible(params map[string]any) bool {
	for _, g := range s {
		if g(params) > 0 {
			return false
		}
	}
	return true
}

// Penalty composes a feasible-or-penalized score: score + rho * sum(max(0,
// g_i(params))), the static penalty method.
func (s Set) Penalty(score float64, params map[string]any, rho float64) float64 {
	total := 0.0
	for _, g := range s {
		if v := g(params); v > 0 {
			total += v
		}
	}
	return score + rho*total
}

// AugmentedLagrangian maintains one multiplier per constraint and a shared
// penalty coefficient rho, updated across trials as an alternative to a
// fixed-rho static penalty.
type AugmentedLagrangian struct {
	Lambda []float64
	Rho    float64
}

// NewAugmentedLagrangian builds a zero-initialized multiplier vector sized
// for nConstraints, with the given initial penalty coefficient.
func NewAugmentedLagrangian(nConstraints int, rho0 float64) *AugmentedLagrangian {
	return &AugmentedLagrangian{Lambda: make([]float64, nConstraints), Rho: rho0}
}

// Penalize composes score + sum(lambda_i * max(0,g_i) + (rho/2) *
// max(0,g_i)^2), the standard augmented Lagrangian term for inequality
// constraints g_i(params) <= 0.
func (al *AugmentedLagrangian) Penalize(score float64, violations []float64) float64 {
	total := score
	for i, g := range violations {
		if g <= 0 {
			continue
		}
		lambda := 0.0
		if i < len(al.Lambda) {
			lambda = al.Lambda[i]
		}
		total += lambda*g + (al.Rho/2)*g*g
	}
	return total
}

// UpdateMultipliers applies the standard dual-ascent update lambda_i <-
// max(0, lambda_i + rho*g_i) after one round of trials using the current
// multipliers.
func (al *AugmentedLagrangian) UpdateMultipliers(violations []float64) {
	for i, g := range violations {
		if i >= len(al.Lambda) {
			continue
		}
		al.Lambda[i] = math.Max(0, al.Lambda[i]+al.Rho*g)
	}
}
