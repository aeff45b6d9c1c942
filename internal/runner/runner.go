// Package runner is the study lifecycle orchestrator: it resolves a
// study's sampler and pruner through their whitelists, drives the
// scheduler through a full run, and reduces the trial history to a single
// best result.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/pcraw4d/scout/internal/observability"
	"github.com/pcraw4d/scout/internal/pruner"
	"github.com/pcraw4d/scout/internal/sampler"
	"github.com/pcraw4d/scout/internal/scheduler"
	"github.com/pcraw4d/scout/internal/searchspace"
	"github.com/pcraw4d/scout/internal/store"
	"github.com/pcraw4d/scout/internal/telemetry"
)

// Result is the reduction of a completed study down to its best trial.
type Result struct {
	BestScore   float64
	BestParams  map[string]any
	BestTrialID string
	NTrials     int
	Status      store.StudyStatus
}

// Config bundles a Runner's ambient collaborators. Logger, Metrics, and
// Sink default to no-ops when left zero.
type Config struct {
	Store               store.Store
	Logger              *observability.Logger
	Metrics             *observability.Metrics
	Sink                telemetry.Sink
	ResourceSampleEvery time.Duration // 0 disables host resource sampling
	TimeoutPerTrial     time.Duration // 0 disables the per-trial timeout
}

// Runner drives one study from pending through a terminal status.
type Runner struct {
	store    store.Store
	logger   *observability.Logger
	metrics  *observability.Metrics
	sink     telemetry.Sink
	resInt   time.Duration
	trialTTL time.Duration
}

// New builds a Runner against cfg.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.Noop()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	return &Runner{store: cfg.Store, logger: logger, metrics: metrics, sink: sink, resInt: cfg.ResourceSampleEvery, trialTTL: cfg.TimeoutPerTrial}
}

// CreateStudy validates and persists a new study, emitting StudyCreated.
func (r *Runner) CreateStudy(ctx context.Context, study store.Study) error {
	if study.Status == "" {
		study.Status = store.StudyPending
	}
	if study.CreatedAt.IsZero() {
		study.CreatedAt = time.Now()
	}
	if err := study.Validate(); err != nil {
		return err
	}
	if err := r.store.PutStudy(ctx, study); err != nil {
		return err
	}
	r.emit(telemetry.Event{Kind: telemetry.StudyCreated, StudyID: study.ID})
	return nil
}

// Run resolves the study's sampler and pruner, dispatches every trial
// through a scheduler, and reduces the resulting history to a Result. space
// supplies the (possibly trial-index-dependent) search space, and objective
// is the user's function under optimization.
func (r *Runner) Run(ctx context.Context, studyID string, space searchspace.SpaceFunc, objective scheduler.Objective) (Result, error) {
	study, err := r.store.GetStudy(ctx, studyID)
	if err != nil {
		return Result{}, err
	}

	smp, err := sampler.Resolve(study.SamplerKind, sampler.Options(study.SamplerOptions), study.Goal)
	if err != nil {
		return Result{}, fmt.Errorf("runner: resolving sampler: %w", err)
	}

	var prn pruner.Pruner
	if study.PrunerKind != "" {
		prn, err = pruner.Resolve(study.PrunerKind, pruner.Options(study.PrunerOptions), study.Goal)
		if err != nil {
			return Result{}, fmt.Errorf("runner: resolving pruner: %w", err)
		}
	}

	if err := r.store.SetStudyStatus(ctx, study.ID, store.StudyRunning); err != nil {
		return Result{}, err
	}
	study.Status = store.StudyRunning

	var resSampler *scheduler.ResourceSampler
	if r.resInt > 0 {
		resSampler = scheduler.NewResourceSampler(r.metrics, r.resInt)
		resSampler.Start(ctx)
		defer resSampler.Stop()
	}

	cfg := scheduler.Config{
		Parallelism:     study.Parallelism,
		TimeoutPerTrial: r.trialTTL,
		Logger:          r.logger.WithStudy(study.ID),
		Metrics:         r.metrics,
	}
	sched := scheduler.New(cfg, r.store, smp, prn, r.sink, objective)

	runErr := sched.Run(ctx, study, space)

	finalStatus := store.StudyCompleted
	if runErr != nil {
		finalStatus = store.StudyFailed
	} else if ctx.Err() != nil {
		finalStatus = store.StudyCancelled
	} else if current, getErr := r.store.GetStudy(ctx, study.ID); getErr == nil && current.Status == store.StudyCancelled {
		// Cancellation is terminal: a Cancel issued mid-run must not be
		// overwritten with completed once the workers drain.
		finalStatus = store.StudyCancelled
	}
	if setErr := r.store.SetStudyStatus(ctx, study.ID, finalStatus); setErr != nil && runErr == nil {
		runErr = setErr
	}

	kind := telemetry.StudyCompleted
	if finalStatus == store.StudyFailed {
		kind = telemetry.StudyFailed
	} else if finalStatus == store.StudyCancelled {
		kind = telemetry.StudyCancelled
	}
	r.emit(telemetry.Event{Kind: kind, StudyID: study.ID})

	if runErr != nil {
		return Result{Status: finalStatus}, runErr
	}

	result, err := r.reduce(ctx, study)
	result.Status = finalStatus
	return result, err
}

// Pause cooperatively pauses a running study; the scheduler's worker loop
// polls study status between trials and idles until resumed or cancelled.
func (r *Runner) Pause(ctx context.Context, studyID string) error {
	return r.transition(ctx, studyID, store.StudyPaused, telemetry.StudyPaused)
}

// Resume un-pauses a study.
func (r *Runner) Resume(ctx context.Context, studyID string) error {
	return r.transition(ctx, studyID, store.StudyRunning, telemetry.StudyResumed)
}

// Cancel stops a study; in-flight trials finish their current objective
// call but no further trials are dequeued.
func (r *Runner) Cancel(ctx context.Context, studyID string) error {
	return r.transition(ctx, studyID, store.StudyCancelled, telemetry.StudyCancelled)
}

func (r *Runner) transition(ctx context.Context, studyID string, status store.StudyStatus, kind telemetry.EventKind) error {
	if err := r.store.SetStudyStatus(ctx, studyID, status); err != nil {
		return err
	}
	r.emit(telemetry.Event{Kind: kind, StudyID: studyID})
	return nil
}

// reduce picks the best completed trial by score (minimize: smallest,
// maximize: largest), tie-breaking toward the lowest trial number so the
// result is deterministic across reruns of an identical study.
func (r *Runner) reduce(ctx context.Context, study store.Study) (Result, error) {
	trials, err := r.store.ListTrials(ctx, study.ID)
	if err != nil {
		return Result{}, err
	}

	var best *store.Trial
	for i := range trials {
		t := &trials[i]
		if t.Status != store.TrialCompleted || t.Score == nil {
			continue
		}
		switch {
		case best == nil:
			best = t
		case betterScore(*t.Score, *best.Score, study.Goal):
			best = t
		case *t.Score == *best.Score && t.Number < best.Number:
			best = t
		}
	}

	result := Result{NTrials: len(trials)}
	if best != nil {
		result.BestScore = *best.Score
		result.BestParams = best.Params
		result.BestTrialID = best.ID
	}
	return result, nil
}

func betterScore(candidate, incumbent float64, goal store.Goal) bool {
	if goal == store.GoalMinimize {
		return candidate < incumbent
	}
	return candidate > incumbent
}

func (r *Runner) emit(e telemetry.Event) {
	e.Timestamp = time.Now()
	r.sink.Emit(e)
}
