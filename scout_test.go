package scout

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcraw4d/scout/internal/pruner"
	"github.com/pcraw4d/scout/internal/sampler"
	"github.com/pcraw4d/scout/internal/searchspace"
	"github.com/pcraw4d/scout/internal/store"
)

func noReport(int, float64) error { return nil }

func sphereSpace() searchspace.Space {
	return searchspace.Space{
		"x": searchspace.Uniform(-5, 5),
		"y": searchspace.Uniform(-5, 5),
	}
}

func rosenbrockSpace() searchspace.Space {
	return searchspace.Space{
		"x": searchspace.Uniform(-2, 2),
		"y": searchspace.Uniform(-2, 2),
	}
}

func sphereObjective(_ context.Context, params map[string]any, _ *rand.Rand, _ func(int, float64) error) (float64, error) {
	x := params["x"].(float64)
	y := params["y"].(float64)
	return x*x + y*y, nil
}

func rosenbrockObjective(_ context.Context, params map[string]any, _ *rand.Rand, _ func(int, float64) error) (float64, error) {
	x := params["x"].(float64)
	y := params["y"].(float64)
	return math.Pow(1-x, 2) + 100*math.Pow(y-x*x, 2), nil
}

// S1: Sphere, Random, n_trials=50, seed=42, minimize -> best_score < 5.0.
func TestOptimize_Sphere_Random(t *testing.T) {
	result, err := Optimize(context.Background(), sphereObjective, sphereSpace(), Options{
		NTrials:   50,
		Direction: store.GoalMinimize,
		Sampler:   "random",
		Seed:      42,
	})
	require.NoError(t, err)
	assert.Equal(t, store.StudyCompleted, result.Status)
	assert.Equal(t, 50, result.NTrials)
	assert.Less(t, result.BestScore, 5.0)
}

// S2: Rosenbrock, TPE defaults, n_trials=100, seed=42 -> best_score < 100.0.
func TestOptimize_Rosenbrock_TPE(t *testing.T) {
	result, err := Optimize(context.Background(), rosenbrockObjective, rosenbrockSpace(), Options{
		NTrials:   100,
		Direction: store.GoalMinimize,
		Sampler:   "tpe",
		Seed:      42,
	})
	require.NoError(t, err)
	assert.Equal(t, store.StudyCompleted, result.Status)
	assert.Less(t, result.BestScore, 100.0)
}

// S3: CMA-ES on the same Rosenbrock, n_trials=200, seed=123 -> best_score < 10.0.
func TestOptimize_Rosenbrock_CMAES(t *testing.T) {
	result, err := Optimize(context.Background(), rosenbrockObjective, rosenbrockSpace(), Options{
		NTrials:   200,
		Direction: store.GoalMinimize,
		Sampler:   "cmaes",
		Seed:      123,
	})
	require.NoError(t, err)
	assert.Equal(t, store.StudyCompleted, result.Status)
	assert.Less(t, result.BestScore, 10.0)
}

// S4: a Median pruner with n_startup_trials=5 prunes a trial whose
// intermediate value at step 5 is far worse than its completed peers'.
func TestMedianPruner_PrunesWorseTrial(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	studyID := "s4"
	require.NoError(t, st.PutStudy(ctx, store.Study{
		ID: studyID, Goal: store.GoalMinimize, MaxTrials: 20, Parallelism: 1,
	}))

	med, err := pruner.NewMedian(pruner.Options{"n_startup_trials": 5, "n_warmup_steps": 0, "interval_steps": 1})
	require.NoError(t, err)

	// Ten peers complete with an intermediate value of 0.6 recorded at step 5.
	for i := 0; i < 10; i++ {
		trialID := "peer" + string(rune('a'+i))
		score := 0.5
		require.NoError(t, st.AddTrial(ctx, store.Trial{
			ID: trialID, StudyID: studyID, Number: i, Status: store.TrialCompleted,
			Score:              &score,
			IntermediateValues: map[int]float64{5: 0.6},
		}))
	}

	pendingID := "trial11"
	require.NoError(t, st.AddTrial(ctx, store.Trial{
		ID: pendingID, StudyID: studyID, Number: 10, Status: store.TrialRunning,
	}))

	prune, err := med.ShouldPrune(ctx, st, studyID, pendingID, 5, 10.0, store.GoalMinimize)
	require.NoError(t, err)
	assert.True(t, prune, "trial reporting 10.0 against peers at 0.6 must be pruned")
}

// S5: Hyperband with eta=3, max_resource=81 assigns 12 trials across
// brackets 0..4 (s_max = 4) with counts differing by at most one.
func TestHyperband_BracketDistribution(t *testing.T) {
	hb, err := pruner.NewHyperband(pruner.Options{
		"reduction_factor": 3.0,
		"max_resource":     81.0,
		"min_resource":     1.0,
	})
	require.NoError(t, err)

	counts := map[int]int{}
	for i := 0; i < 12; i++ {
		counts[hb.AssignBracket(i)]++
	}

	min, max := -1, -1
	for _, c := range counts {
		if min == -1 || c < min {
			min = c
		}
		if max == -1 || c > max {
			max = c
		}
	}
	assert.LessOrEqual(t, max-min, 1, "bracket counts must differ by at most one")
	for b := range counts {
		assert.GreaterOrEqual(t, b, 0)
	}
}

// S6: FixedTrial with x=3.0 against a space where x in [-2,2] raises
// ConfigError on first use, before the objective ever runs.
func TestFixedTrial_OutOfBounds_ConfigError(t *testing.T) {
	space := searchspace.Space{
		"x": searchspace.Uniform(-2, 2),
		"y": searchspace.Uniform(-5, 5),
	}
	fx, err := sampler.NewFixedTrial(sampler.Options{
		"params": map[string]any{"x": 3.0, "y": -1.0},
	})
	require.NoError(t, err)

	_, err = fx.Next(space, 0, nil, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConfig)
}

// A single-parallelism rerun with the same study name and base seed
// reproduces an identical best score.
func TestOptimize_DeterministicRerun(t *testing.T) {
	run := func() float64 {
		result, err := Optimize(context.Background(), sphereObjective, sphereSpace(), Options{
			StudyName:   "deterministic-rerun",
			NTrials:     30,
			Direction:   store.GoalMinimize,
			Sampler:     "random",
			Seed:        7,
			Parallelism: 1,
		})
		require.NoError(t, err)
		return result.BestScore
	}
	assert.Equal(t, run(), run())
}
