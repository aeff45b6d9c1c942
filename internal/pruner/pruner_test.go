package pruner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcraw4d/scout/internal/store"
)

func newTestStudy(t *testing.T, st store.Store, studyID string) {
	t.Helper()
	require.NoError(t, st.PutStudy(context.Background(), store.Study{
		ID: studyID, Goal: store.GoalMinimize, MaxTrials: 50, Parallelism: 1,
	}))
}

func addCompletedTrial(t *testing.T, st store.Store, studyID, trialID string, number int, score float64, intermediate map[int]float64) {
	t.Helper()
	s := score
	require.NoError(t, st.AddTrial(context.Background(), store.Trial{
		ID: trialID, StudyID: studyID, Number: number, Status: store.TrialCompleted,
		Score: &s, IntermediateValues: intermediate,
	}))
}

func TestResolve_UnknownPrunerIsConfigError(t *testing.T) {
	_, err := Resolve("not-a-real-pruner", nil, store.GoalMinimize)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConfig)
}

func TestResolve_KnownPrunerKindsBuild(t *testing.T) {
	// threshold requires at least one anchor.
	opts := map[string]Options{
		"median":     {},
		"percentile": {"percentile": 50.0},
		"sha":        {},
		"hyperband":  {"max_resource": 81.0},
		"patient":    {},
		"threshold":  {"anchors": []any{map[string]any{"step": 0, "value": 1.0}}},
		"wilcoxon":   {},
	}
	for kind, o := range opts {
		_, err := Resolve(kind, o, store.GoalMinimize)
		assert.NoError(t, err, "kind %q should resolve", kind)
	}
}

func TestPercentile_ValidatesRange(t *testing.T) {
	_, err := NewPercentile(Options{"percentile": 150.0})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConfig)

	_, err = NewPercentile(Options{"percentile": -1.0})
	require.Error(t, err)
}

func TestPercentile_MatchesConfiguredQuantile(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	newTestStudy(t, st, "study-pct")

	// Ten peers at step 3 with values 1..10; the 25th percentile (linear
	// interpolation) of 1..10 is 3.25.
	for i := 1; i <= 10; i++ {
		addCompletedTrial(t, st, "study-pct", "peer"+string(rune('a'+i)), i, 0.0, map[int]float64{3: float64(i)})
	}
	require.NoError(t, st.AddTrial(ctx, store.Trial{
		ID: "pending", StudyID: "study-pct", Number: 20, Status: store.TrialRunning,
	}))

	p, err := NewPercentile(Options{"percentile": 25.0, "n_startup_trials": 5})
	require.NoError(t, err)

	prune, err := p.ShouldPrune(ctx, st, "study-pct", "pending", 3, 3.3, store.GoalMinimize)
	require.NoError(t, err)
	assert.True(t, prune, "3.3 is worse than the 25th percentile (~3.25) when minimizing")

	prune, err = p.ShouldPrune(ctx, st, "study-pct", "pending", 3, 1.0, store.GoalMinimize)
	require.NoError(t, err)
	assert.False(t, prune, "1.0 is well below the 25th percentile")
}

func TestPatient_PrunesAfterStaleStreak(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	p, err := NewPatient(Options{"min_delta": 0.01, "patience": 3})
	require.NoError(t, err)

	reports := []float64{1.0, 0.99, 0.995, 0.999, 0.9995}
	var lastPrune bool
	for step, v := range reports {
		lastPrune, err = p.ShouldPrune(ctx, st, "s", "t1", step, v, store.GoalMinimize)
		require.NoError(t, err)
	}
	assert.True(t, lastPrune, "five reports with no real improvement beyond the first should exhaust patience 3")
}

func TestPatient_ResetsOnImprovement(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	p, err := NewPatient(Options{"min_delta": 0.0, "patience": 2})
	require.NoError(t, err)

	vals := []float64{10.0, 9.0, 8.0, 8.0, 8.0}
	var prune bool
	var err2 error
	for step, v := range vals {
		prune, err2 = p.ShouldPrune(ctx, st, "s", "t1", step, v, store.GoalMinimize)
		require.NoError(t, err2)
		if step < 2 {
			assert.False(t, prune, "step %d should still be improving", step)
		}
	}
	assert.True(t, prune, "two stale reports after the last improvement should hit patience 2")
}

func TestPatient_CleanupRemovesState(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	p, err := NewPatient(Options{"patience": 1})
	require.NoError(t, err)

	_, err = p.ShouldPrune(ctx, st, "s", "t1", 0, 5.0, store.GoalMinimize)
	require.NoError(t, err)
	p.Cleanup("t1")

	// After cleanup, "t1" is a fresh trial again: the first report always
	// counts as an improvement, so it cannot prune immediately.
	prune, err := p.ShouldPrune(ctx, st, "s", "t1", 0, 5.0, store.GoalMinimize)
	require.NoError(t, err)
	assert.False(t, prune)
}

func TestThreshold_RequiresAtLeastOneAnchor(t *testing.T) {
	_, err := NewThreshold(Options{"anchors": []any{}}, store.GoalMinimize)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConfig)
}

func TestThreshold_LinearInterpolation(t *testing.T) {
	th, err := NewThreshold(Options{
		"kind": "linear",
		"anchors": []any{
			map[string]any{"step": 0, "value": 0.0},
			map[string]any{"step": 10, "value": 10.0},
		},
	}, store.GoalMinimize)
	require.NoError(t, err)

	ctx := context.Background()
	st := store.NewMemory()
	prune, err := th.ShouldPrune(ctx, st, "s", "t", 5, 6.0, store.GoalMinimize)
	require.NoError(t, err)
	assert.True(t, prune, "6.0 at step 5 is worse than the interpolated threshold of 5.0 when minimizing")

	prune, err = th.ShouldPrune(ctx, st, "s", "t", 5, 4.0, store.GoalMinimize)
	require.NoError(t, err)
	assert.False(t, prune)
}

func TestThreshold_ExponentialDecay(t *testing.T) {
	th, err := NewThreshold(Options{
		"kind":       "exponential",
		"decay_rate": 0.5,
		"anchors":    []any{map[string]any{"step": 0, "value": 100.0}},
	}, store.GoalMinimize)
	require.NoError(t, err)

	ctx := context.Background()
	st := store.NewMemory()
	prune, err := th.ShouldPrune(ctx, st, "s", "t", 2, 30.0, store.GoalMinimize)
	require.NoError(t, err)
	// threshold at step 2 is 100 * 0.5^2 = 25; 30 is worse than 25.
	assert.True(t, prune)
}

func TestThreshold_StepFunction(t *testing.T) {
	th, err := NewThreshold(Options{
		"kind": "step",
		"anchors": []any{
			map[string]any{"step": 0, "value": 1.0},
			map[string]any{"step": 5, "value": 5.0},
		},
	}, store.GoalMinimize)
	require.NoError(t, err)

	ctx := context.Background()
	st := store.NewMemory()
	prune, err := th.ShouldPrune(ctx, st, "s", "t", 3, 2.0, store.GoalMinimize)
	require.NoError(t, err)
	// Still on the step=0 plateau (value=1.0) until step 5; 2.0 > 1.0.
	assert.True(t, prune)
}

func TestWilcoxon_NotEnoughStartupDoesNotPrune(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	newTestStudy(t, st, "study-w")
	addCompletedTrial(t, st, "study-w", "peer1", 0, 1.0, map[int]float64{0: 1.0, 1: 1.1})
	require.NoError(t, st.AddTrial(ctx, store.Trial{ID: "pending", StudyID: "study-w", Number: 1, Status: store.TrialRunning}))

	w, err := NewWilcoxon(Options{"n_startup_trials": 5})
	require.NoError(t, err)
	prune, err := w.ShouldPrune(ctx, st, "study-w", "pending", 1, 100.0, store.GoalMinimize)
	require.NoError(t, err)
	assert.False(t, prune)
}

func TestWilcoxon_PrunesClearlyWorseTrial(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	newTestStudy(t, st, "study-w2")

	for i := 0; i < 5; i++ {
		addCompletedTrial(t, st, "study-w2", "best"+string(rune('a'+i)), i, float64(i),
			map[int]float64{0: 0.1, 1: 0.1, 2: 0.1, 3: 0.1, 4: 0.1})
	}
	require.NoError(t, st.AddTrial(ctx, store.Trial{
		ID: "pending", StudyID: "study-w2", Number: 10, Status: store.TrialRunning,
		IntermediateValues: map[int]float64{0: 9.0, 1: 9.1, 2: 9.2, 3: 9.3, 4: 9.4},
	}))

	w, err := NewWilcoxon(Options{"n_startup_trials": 5, "p_threshold": 0.5})
	require.NoError(t, err)
	prune, err := w.ShouldPrune(ctx, st, "study-w2", "pending", 4, 9.4, store.GoalMinimize)
	require.NoError(t, err)
	assert.True(t, prune, "a trial reporting uniformly ~9x worse than the best completed trial should be pruned")
}

func TestSHA_RequiresWarmupBeforePruning(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	newTestStudy(t, st, "study-sha")

	sha, err := NewSHA(Options{"min_resource": 1.0, "reduction_factor": 2.0, "warmup_trials": 10, "min_peers": 1})
	require.NoError(t, err)

	require.NoError(t, st.AddTrial(ctx, store.Trial{ID: "t1", StudyID: "study-sha", Number: 0, Status: store.TrialRunning, Bracket: 0}))
	prune, err := sha.ShouldPrune(ctx, st, "study-sha", "t1", 1, 5.0, store.GoalMinimize)
	require.NoError(t, err)
	assert.False(t, prune, "not enough running/completed trials to satisfy warmup_trials")
}

func TestSHA_PrunesBottomFraction(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	newTestStudy(t, st, "study-sha2")

	sha, err := NewSHA(Options{"min_resource": 1.0, "reduction_factor": 2.0, "warmup_trials": 0, "min_peers": 1})
	require.NoError(t, err)

	// Four peers already reported at rung 1 (step 2; rung 0 is the
	// baseline every trial starts at and never prunes) with distinct
	// scores.
	for i, score := range []float64{1.0, 2.0, 3.0, 4.0} {
		id := "peer" + string(rune('a'+i))
		require.NoError(t, st.AddTrial(ctx, store.Trial{ID: id, StudyID: "study-sha2", Number: i, Status: store.TrialRunning, Bracket: 0}))
		require.NoError(t, st.AddObservation(ctx, store.Observation{TrialID: id, Bracket: 0, Rung: 1, Score: score}))
	}
	require.NoError(t, st.AddTrial(ctx, store.Trial{ID: "pending", StudyID: "study-sha2", Number: 4, Status: store.TrialRunning, Bracket: 0}))

	// reduction_factor=2 keeps the top 1/2^1 fraction of 5 peers (ceil(2.5)=3);
	// this trial's score of 10.0 ranks worst, so it should be pruned.
	prune, err := sha.ShouldPrune(ctx, st, "study-sha2", "pending", 2, 10.0, store.GoalMinimize)
	require.NoError(t, err)
	assert.True(t, prune)
}

func TestHyperband_AssignBracketWithinRange(t *testing.T) {
	hb, err := NewHyperband(Options{"reduction_factor": 3.0, "max_resource": 81.0, "min_resource": 1.0})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		b := hb.AssignBracket(i)
		assert.GreaterOrEqual(t, b, 0)
	}
}

func TestPatient_Cleaner_InterfaceSatisfied(t *testing.T) {
	p, err := NewPatient(Options{})
	require.NoError(t, err)
	var _ Cleaner = p
}

func TestSHA_RungMapper_InterfaceSatisfied(t *testing.T) {
	sha, err := NewSHA(Options{})
	require.NoError(t, err)
	var _ RungMapper = sha
}

func TestHyperband_BracketAssignerAndRungMapper(t *testing.T) {
	hb, err := NewHyperband(Options{"max_resource": 81.0})
	require.NoError(t, err)
	var _ BracketAssigner = hb
	var _ RungMapper = hb
}

func TestRegisterCustom_AddsResolvablePruner(t *testing.T) {
	RegisterCustom("test-custom-pruner", func(o Options, g store.Goal) (Pruner, error) {
		return NewMedian(o)
	})
	p, err := Resolve("test-custom-pruner", nil, store.GoalMinimize)
	require.NoError(t, err)
	assert.NotNil(t, p)
}
