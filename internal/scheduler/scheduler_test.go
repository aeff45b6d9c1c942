package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcraw4d/scout/internal/pruner"
	"github.com/pcraw4d/scout/internal/sampler"
	"github.com/pcraw4d/scout/internal/searchspace"
	"github.com/pcraw4d/scout/internal/store"
)

func basicSpace(_ int) searchspace.Space {
	return searchspace.Space{"x": searchspace.Uniform(0, 1)}
}

func newRunningStudy(t *testing.T, st store.Store, id string, maxTrials, parallelism int) store.Study {
	t.Helper()
	s := store.Study{ID: id, Goal: store.GoalMinimize, MaxTrials: maxTrials, Parallelism: parallelism, Status: store.StudyRunning}
	require.NoError(t, st.PutStudy(context.Background(), s))
	return s
}

func TestScheduler_RunsAllTrialsAndCompletes(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	study := newRunningStudy(t, st, "sched-1", 10, 2)

	smp, err := sampler.NewRandom(nil)
	require.NoError(t, err)

	objective := func(_ context.Context, _ int, params map[string]any, _ *rand.Rand, _ Report) (float64, error) {
		return params["x"].(float64), nil
	}

	sched := New(Config{Parallelism: study.Parallelism}, st, smp, nil, nil, objective)
	require.NoError(t, sched.Run(ctx, study, basicSpace))

	trials, err := st.ListTrials(ctx, study.ID)
	require.NoError(t, err)
	assert.Len(t, trials, 10)
	numbers := map[int]bool{}
	for _, tr := range trials {
		assert.Equal(t, store.TrialCompleted, tr.Status)
		require.NotNil(t, tr.Score)
		numbers[tr.Number] = true
	}
	assert.Len(t, numbers, 10, "trial numbers must be unique across the run")
}

func TestScheduler_ObjectiveErrorMarksTrialFailedWithoutStoppingOthers(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	study := newRunningStudy(t, st, "sched-2", 5, 1)

	smp, err := sampler.NewRandom(nil)
	require.NoError(t, err)

	objective := func(_ context.Context, idx int, _ map[string]any, _ *rand.Rand, _ Report) (float64, error) {
		if idx == 2 {
			return 0, errors.New("boom")
		}
		return float64(idx), nil
	}

	sched := New(Config{Parallelism: 1}, st, smp, nil, nil, objective)
	require.NoError(t, sched.Run(ctx, study, basicSpace))

	trials, err := st.ListTrials(ctx, study.ID)
	require.NoError(t, err)
	require.Len(t, trials, 5)
	var failedCount, completedCount int
	for _, tr := range trials {
		if tr.Number == 2 {
			assert.Equal(t, store.TrialFailed, tr.Status)
			assert.NotEmpty(t, tr.Error)
			failedCount++
		} else {
			assert.Equal(t, store.TrialCompleted, tr.Status)
			completedCount++
		}
	}
	assert.Equal(t, 1, failedCount)
	assert.Equal(t, 4, completedCount)
}

func TestScheduler_ObjectivePanicIsRecoveredAsFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	study := newRunningStudy(t, st, "sched-3", 1, 1)

	smp, err := sampler.NewRandom(nil)
	require.NoError(t, err)

	objective := func(_ context.Context, _ int, _ map[string]any, _ *rand.Rand, _ Report) (float64, error) {
		panic("objective exploded")
	}

	sched := New(Config{Parallelism: 1}, st, smp, nil, nil, objective)
	require.NoError(t, sched.Run(ctx, study, basicSpace))

	trials, err := st.ListTrials(ctx, study.ID)
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Equal(t, store.TrialFailed, trials[0].Status)
	assert.Contains(t, trials[0].Error, "panicked")
}

func TestScheduler_NonFiniteScoreFailsTrial(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	study := newRunningStudy(t, st, "sched-4", 1, 1)

	smp, err := sampler.NewRandom(nil)
	require.NoError(t, err)

	objective := func(_ context.Context, _ int, _ map[string]any, _ *rand.Rand, _ Report) (float64, error) {
		return 1.0 / zero(), nil // +Inf
	}

	sched := New(Config{Parallelism: 1}, st, smp, nil, nil, objective)
	require.NoError(t, sched.Run(ctx, study, basicSpace))

	trials, err := st.ListTrials(ctx, study.ID)
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Equal(t, store.TrialFailed, trials[0].Status)
}

func zero() float64 { return 0 }

func TestScheduler_PruneSignalMarksTrialPruned(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	study := newRunningStudy(t, st, "sched-5", 1, 1)

	smp, err := sampler.NewRandom(nil)
	require.NoError(t, err)
	// The threshold drops from 10 at step 0 to -1 at step 1, so reporting
	// 5.0 passes at step 0 but crosses the threshold (and prunes) at step 1.
	prn, err := pruner.NewThreshold(pruner.Options{
		"anchors": []any{
			map[string]any{"step": 0, "value": 10.0},
			map[string]any{"step": 1, "value": -1.0},
		},
	}, store.GoalMinimize)
	require.NoError(t, err)

	var reportCalledAfterPrune bool
	objective := func(_ context.Context, _ int, _ map[string]any, _ *rand.Rand, report Report) (float64, error) {
		if err := report(0, 5.0); err != nil {
			return 0, err
		}
		if err := report(1, 5.0); err != nil {
			reportCalledAfterPrune = true
			return 0, err
		}
		return 5.0, nil
	}

	sched := New(Config{Parallelism: 1}, st, smp, prn, nil, objective)
	require.NoError(t, sched.Run(ctx, study, basicSpace))

	trials, err := st.ListTrials(ctx, study.ID)
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Equal(t, store.TrialPruned, trials[0].Status)
	assert.True(t, reportCalledAfterPrune, "second report should have surfaced ErrPruned")
}

func TestScheduler_RepeatedReportsOnSameRungDoNotFailTrial(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	study := newRunningStudy(t, st, "sched-7", 1, 1)

	smp, err := sampler.NewRandom(nil)
	require.NoError(t, err)
	// With min_resource=1 and eta=2, steps 2 and 3 both bucket into rung 1;
	// the second observation write collides on (trial, bracket, rung) and
	// must be tolerated rather than failing the trial.
	prn, err := pruner.NewSHA(pruner.Options{"min_resource": 1.0, "reduction_factor": 2.0, "min_peers": 100})
	require.NoError(t, err)

	objective := func(_ context.Context, _ int, _ map[string]any, _ *rand.Rand, report Report) (float64, error) {
		if err := report(2, 1.0); err != nil {
			return 0, err
		}
		if err := report(3, 0.9); err != nil {
			return 0, err
		}
		return 0.9, nil
	}

	sched := New(Config{Parallelism: 1}, st, smp, prn, nil, objective)
	require.NoError(t, sched.Run(ctx, study, basicSpace))

	trials, err := st.ListTrials(ctx, study.ID)
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Equal(t, store.TrialCompleted, trials[0].Status)
}

func TestScheduler_StudyAlreadyCancelledDequeuesNothing(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	study := store.Study{ID: "sched-6", Goal: store.GoalMinimize, MaxTrials: 5, Parallelism: 1, Status: store.StudyCancelled}
	require.NoError(t, st.PutStudy(ctx, study))

	smp, err := sampler.NewRandom(nil)
	require.NoError(t, err)
	objective := func(_ context.Context, _ int, params map[string]any, _ *rand.Rand, _ Report) (float64, error) {
		return params["x"].(float64), nil
	}

	sched := New(Config{Parallelism: 1}, st, smp, nil, nil, objective)
	require.NoError(t, sched.Run(ctx, study, basicSpace))

	trials, err := st.ListTrials(ctx, study.ID)
	require.NoError(t, err)
	assert.Empty(t, trials)
}
