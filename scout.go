// Package scout is a hyperparameter optimization engine: a sampling layer
// (random, grid, quasi-Monte Carlo, TPE, CMA-ES, NSGA-II, UCB1 bandit,
// Gaussian-process expected improvement), a pruning layer
// (median, percentile, successive halving, hyperband, patient, threshold,
// Wilcoxon), a worker-pool scheduler, and a pluggable trial store.
//
// Optimize is the public entry point; internal/runner, internal/scheduler,
// internal/sampler, internal/pruner, and internal/store hold the pieces it
// composes.
package scout

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/pcraw4d/scout/internal/observability"
	"github.com/pcraw4d/scout/internal/runner"
	"github.com/pcraw4d/scout/internal/scheduler"
	"github.com/pcraw4d/scout/internal/searchspace"
	"github.com/pcraw4d/scout/internal/store"
	"github.com/pcraw4d/scout/internal/telemetry"
)

// Objective is the user's function under optimization. report delivers
// intermediate values to a configured pruner; pass a no-op func if the
// objective never reports.
type Objective func(ctx context.Context, params map[string]any, rng *rand.Rand, report func(step int, value float64) error) (float64, error)

// Options configures one Optimize call.
type Options struct {
	NTrials     int
	Direction   store.Goal
	Sampler     string
	SamplerOpts map[string]any
	Pruner      string // "" disables pruning
	PrunerOpts  map[string]any
	Parallelism int
	Seed        uint64
	StudyName   string
	TimeoutMS   int // 0 disables the per-trial timeout

	// Store lets a caller supply a persistent or otherwise shared Store.
	// Left nil, Optimize uses a private in-memory Store scoped to this
	// call.
	Store store.Store
	// Sink lets a caller observe lifecycle events. Left nil, events are
	// discarded.
	Sink telemetry.Sink
	// Logger and Metrics default to no-ops.
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Result is the outcome of one Optimize call. Callers inspect Status
// rather than relying on the error value alone.
type Result struct {
	BestScore   float64
	BestParams  map[string]any
	BestTrialID string
	NTrials     int
	Status      store.StudyStatus
}

// Optimize runs a new study of opts.NTrials trials over space, proposing
// parameters with opts.Sampler and (optionally) stopping trials early with
// opts.Pruner, and returns the best trial found.
func Optimize(ctx context.Context, objective Objective, space searchspace.Space, opts Options) (Result, error) {
	if err := space.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", store.ErrConfig, err)
	}
	if opts.NTrials < 1 {
		return Result{}, fmt.Errorf("%w: n_trials must be >= 1, got %d", store.ErrConfig, opts.NTrials)
	}
	if opts.Direction == "" {
		opts.Direction = store.GoalMinimize
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.Sampler == "" {
		opts.Sampler = "random"
	}

	st := opts.Store
	if st == nil {
		st = store.NewMemory()
	}

	studyID := opts.StudyName
	if studyID == "" {
		studyID = uuid.NewString()
	}
	s := store.Study{
		ID:             studyID,
		Name:           opts.StudyName,
		Goal:           opts.Direction,
		MaxTrials:      opts.NTrials,
		Parallelism:    opts.Parallelism,
		Seed:           opts.Seed,
		SamplerKind:    opts.Sampler,
		SamplerOptions: opts.SamplerOpts,
		PrunerKind:     opts.Pruner,
		PrunerOptions:  opts.PrunerOpts,
	}

	var timeout time.Duration
	if opts.TimeoutMS > 0 {
		timeout = time.Duration(opts.TimeoutMS) * time.Millisecond
	}

	r := runner.New(runner.Config{
		Store:           st,
		Logger:          opts.Logger,
		Metrics:         opts.Metrics,
		Sink:            opts.Sink,
		TimeoutPerTrial: timeout,
	})
	if err := r.CreateStudy(ctx, s); err != nil {
		return Result{}, err
	}

	schedObjective := func(ctx context.Context, trialIndex int, params map[string]any, rng *rand.Rand, report scheduler.Report) (float64, error) {
		return objective(ctx, params, rng, func(step int, value float64) error { return report(step, value) })
	}

	result, err := r.Run(ctx, studyID, space.Resolve, schedObjective)
	if err != nil {
		return Result{Status: result.Status}, err
	}

	return Result{
		BestScore:   result.BestScore,
		BestParams:  result.BestParams,
		BestTrialID: result.BestTrialID,
		NTrials:     result.NTrials,
		Status:      result.Status,
	}, nil
}
