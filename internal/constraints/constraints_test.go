package constraints

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boundConstraint(limit float64) Func {
	return func(params map[string]any) float64 {
		return params["x"].(float64) - limit
	}
}

func TestSet_FeasibleAndViolations(t *testing.T) {
	s := Set{boundConstraint(5.0), boundConstraint(10.0)}

	feasible := map[string]any{"x": 3.0}
	assert.True(t, s.Feasible(feasible))
	assert.Empty(t, s.Violations(feasible))

	infeasible := map[string]any{"x": 7.0}
	assert.False(t, s.Feasible(infeasible))
	violations := s.Violations(infeasible)
	assert.Len(t, violations, 1)
	assert.InDelta(t, 2.0, violations[0], 1e-9)
}

func TestSet_Evaluate(t *testing.T) {
	s := Set{boundConstraint(5.0), boundConstraint(10.0)}
	got := s.Evaluate(map[string]any{"x": 7.0})
	assert.Equal(t, []float64{2.0, -3.0}, got)
}

func TestSet_Penalty(t *testing.T) {
	s := Set{boundConstraint(5.0)}
	score := s.Penalty(1.0, map[string]any{"x": 7.0}, 10.0)
	assert.InDelta(t, 1.0+10.0*2.0, score, 1e-9)

	feasibleScore := s.Penalty(1.0, map[string]any{"x": 3.0}, 10.0)
	assert.InDelta(t, 1.0, feasibleScore, 1e-9)
}

func TestAugmentedLagrangian_PenalizeAndUpdate(t *testing.T) {
	al := NewAugmentedLagrangian(2, 1.0)
	assert.Equal(t, []float64{0, 0}, al.Lambda)

	violations := []float64{2.0, -1.0} // second constraint satisfied
	penalized := al.Penalize(0.0, violations)
	// Only the violated constraint (2.0) contributes: 0*2 + (1/2)*2^2 = 2.0
	assert.InDelta(t, 2.0, penalized, 1e-9)

	al.UpdateMultipliers(violations)
	assert.InDelta(t, 2.0, al.Lambda[0], 1e-9) // max(0, 0 + 1*2)
	assert.InDelta(t, 0.0, al.Lambda[1], 1e-9) // max(0, 0 + 1*-1) = 0
}

func TestAugmentedLagrangian_MultipliersMonotonicallyGrowUnderRepeatedViolation(t *testing.T) {
	al := NewAugmentedLagrangian(1, 0.5)
	violations := []float64{1.0}
	for i := 0; i < 3; i++ {
		al.UpdateMultipliers(violations)
	}
	assert.InDelta(t, 1.5, al.Lambda[0], 1e-9) // 0 -> 0.5 -> 1.0 -> 1.5
}
