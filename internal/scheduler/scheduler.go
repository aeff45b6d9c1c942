// Package scheduler dispatches trials across a bounded worker pool. A
// study without a pruner runs each trial to completion in one shot; with a
// pruner configured, every reported intermediate value is checked and the
// trial is stopped early on a prune decision. The two modes differ only in
// whether a pruner is present.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pcraw4d/scout/internal/observability"
	"github.com/pcraw4d/scout/internal/pruner"
	"github.com/pcraw4d/scout/internal/sampler"
	"github.com/pcraw4d/scout/internal/searchspace"
	"github.com/pcraw4d/scout/internal/seed"
	"github.com/pcraw4d/scout/internal/store"
	"github.com/pcraw4d/scout/internal/telemetry"
)

// ErrPruned is returned by Report to the objective when the configured
// pruner decided to stop the trial early. The objective should return
// promptly on seeing it; the scheduler marks the trial pruned regardless
// of what the objective does afterward.
var ErrPruned = errors.New("scheduler: trial pruned")

// Report is the intermediate-value reporting handle handed to the
// objective: it delivers reports synchronously with respect to prune
// decisions and lets the worker abort the objective once the pruner says
// prune.
type Report func(step int, value float64) error

// Objective is the user-supplied function under optimization. rng is
// seeded deterministically from (study, trial index, base seed) by
// internal/seed, so the objective can draw its own randomness
// reproducibly.
type Objective func(ctx context.Context, trialIndex int, params map[string]any, rng *rand.Rand, report Report) (float64, error)

// Config configures a Scheduler's dispatch behavior.
type Config struct {
	Parallelism     int
	TimeoutPerTrial time.Duration // 0 disables the per-trial timeout
	Logger          *observability.Logger
	Metrics         *observability.Metrics
}

// Scheduler dispatches a study's trials across cfg.Parallelism concurrent
// workers, computing each trial's seed, consulting the sampler and
// (optionally) the pruner, and writing results back to the store.
type Scheduler struct {
	cfg   Config
	store store.Store
	smp   sampler.Sampler
	prn   pruner.Pruner // nil: one-shot mode, no intermediate reporting
	sink  telemetry.Sink

	// sampleMu serializes calls into smp.Next: stateful samplers
	// (CMA-ES, Grid) are mutated only under this lock, never concurrently
	// by two workers.
	sampleMu sync.Mutex

	objective Objective

	nextIndex  int
	indexMu    sync.Mutex
	fatalOnce  sync.Once
	fatalErr   error
	cancelFunc context.CancelFunc
}

// New builds a Scheduler. prn may be nil for studies without a pruner.
func New(cfg Config, st store.Store, smp sampler.Sampler, prn pruner.Pruner, sink telemetry.Sink, objective Objective) *Scheduler {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Nop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.Noop()
	}
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	return &Scheduler{cfg: cfg, store: st, smp: smp, prn: prn, sink: sink, objective: objective}
}

// Run dispatches trials 0..study.MaxTrials-1 across the worker pool and
// blocks until every worker has exited: either all trials were dequeued
// and finished, the study was paused/cancelled, or a fatal store error
// occurred. Fatal errors are returned; per-trial failures never are.
func (s *Scheduler) Run(ctx context.Context, study store.Study, space searchspace.SpaceFunc) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.workerLoop(runCtx, study, space)
		}()
	}
	wg.Wait()

	return s.fatalErr
}

func (s *Scheduler) workerLoop(ctx context.Context, study store.Study, space searchspace.SpaceFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		current, err := s.store.GetStudy(ctx, study.ID)
		if err != nil {
			s.fail(fmt.Errorf("scheduler: fetching study status: %w", err))
			return
		}
		switch current.Status {
		case store.StudyPaused:
			time.Sleep(20 * time.Millisecond)
			continue
		case store.StudyCancelled, store.StudyCompleted, store.StudyFailed:
			return
		}

		idx, ok := s.dequeue(study.MaxTrials)
		if !ok {
			return
		}
		if !s.runTrial(ctx, study, space, idx) {
			return
		}
	}
}

// dequeue atomically claims the next trial index, in monotonic insertion
// order.
func (s *Scheduler) dequeue(maxTrials int) (int, bool) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if s.nextIndex >= maxTrials {
		return 0, false
	}
	idx := s.nextIndex
	s.nextIndex++
	return idx, true
}

// runTrial executes one trial end to end. It returns false when a fatal
// store error occurred and the worker pool should stop.
func (s *Scheduler) runTrial(ctx context.Context, study store.Study, space searchspace.SpaceFunc, idx int) bool {
	triplet := seed.Derive(study.ID, idx, study.Seed)
	rng := rand.New(rand.NewSource(triplet.SamplerSeed()))
	sp := space(idx)

	history, err := s.historySnapshot(ctx, study.ID)
	if err != nil {
		s.fail(fmt.Errorf("scheduler: listing trial history: %w", err))
		return false
	}

	s.sampleMu.Lock()
	grid, isGrid := s.smp.(*sampler.Grid)
	wasWrapped := isGrid && grid.HasWrapped()
	params, sampleErr := s.smp.Next(sp, idx, history, rng)
	if isGrid && !wasWrapped && grid.HasWrapped() {
		s.cfg.Logger.Warn("grid sampler exhausted; wrapping trial index",
			zap.String("study_id", study.ID), zap.Int("trial_number", idx))
	}
	s.sampleMu.Unlock()

	bracket := 0
	if assigner, ok := s.prn.(pruner.BracketAssigner); ok {
		bracket = assigner.AssignBracket(idx)
	}

	trialID := uuid.NewString()
	trial := store.Trial{
		ID:        trialID,
		StudyID:   study.ID,
		Number:    idx,
		Params:    params,
		Bracket:   bracket,
		Status:    store.TrialPending,
		StartedAt: time.Now(),
		Seed:      triplet.ObjectiveSeed(),
	}

	if sampleErr != nil {
		trial.Status = store.TrialFailed
		trial.Error = fmt.Sprintf("sampler error: %v", sampleErr)
		finished := time.Now()
		trial.FinishedAt = &finished
		return s.persistAndEmit(ctx, trial, telemetry.TrialFailed)
	}

	if !s.withRetry(ctx, func() error { return s.store.AddTrial(ctx, trial) }) {
		return false
	}
	s.cfg.Metrics.TrialsStarted.WithLabelValues(study.ID).Inc()
	s.emit(telemetry.Event{Kind: telemetry.TrialStarted, StudyID: study.ID, TrialID: trialID, Number: idx, Bracket: bracket})

	running := store.TrialRunning
	if !s.withRetry(ctx, func() error {
		return s.store.UpdateTrial(ctx, trialID, store.TrialPatch{Status: &running})
	}) {
		return false
	}

	trialCtx, span := observability.StartTrialSpan(ctx, study.ID, trialID, idx, bracket)
	if s.cfg.TimeoutPerTrial > 0 {
		var cancel context.CancelFunc
		trialCtx, cancel = context.WithTimeout(trialCtx, s.cfg.TimeoutPerTrial)
		defer cancel()
	}

	start := time.Now()
	score, objErr := s.invokeObjective(trialCtx, study, trialID, bracket, idx, params, rng)
	span.End()
	duration := time.Since(start)

	finished := time.Now()
	final := trial
	final.FinishedAt = &finished

	switch {
	case errors.Is(objErr, ErrPruned):
		final.Status = store.TrialPruned
		s.cfg.Metrics.TrialsPruned.WithLabelValues(study.ID).Inc()
		s.cfg.Metrics.TrialDuration.WithLabelValues(study.ID, "pruned").Observe(duration.Seconds())
		if cleaner, ok := s.prn.(pruner.Cleaner); ok {
			cleaner.Cleanup(trialID)
		}
		return s.patchTerminal(ctx, trialID, store.TrialPatch{Status: &final.Status, FinishedAt: &finished}, telemetry.TrialPruned, study.ID, idx, bracket)
	case objErr != nil:
		final.Status = store.TrialFailed
		final.Error = objErr.Error()
		s.cfg.Metrics.TrialsFailed.WithLabelValues(study.ID).Inc()
		s.cfg.Metrics.TrialDuration.WithLabelValues(study.ID, "failed").Observe(duration.Seconds())
		if cleaner, ok := s.prn.(pruner.Cleaner); ok {
			cleaner.Cleanup(trialID)
		}
		return s.patchTerminal(ctx, trialID, store.TrialPatch{Status: &final.Status, Error: &final.Error, FinishedAt: &finished}, telemetry.TrialFailed, study.ID, idx, bracket)
	default:
		final.Status = store.TrialCompleted
		final.Score = &score
		s.cfg.Metrics.TrialsCompleted.WithLabelValues(study.ID).Inc()
		s.cfg.Metrics.TrialDuration.WithLabelValues(study.ID, "completed").Observe(duration.Seconds())
		if cleaner, ok := s.prn.(pruner.Cleaner); ok {
			cleaner.Cleanup(trialID)
		}
		return s.patchTerminal(ctx, trialID, store.TrialPatch{Status: &final.Status, Score: &score, FinishedAt: &finished}, telemetry.TrialCompleted, study.ID, idx, bracket)
	}
}

// invokeObjective runs the objective in a fault-isolated scope: a panic is
// recovered and recorded as the trial's error, never escaping to crash the
// worker pool.
func (s *Scheduler) invokeObjective(ctx context.Context, study store.Study, trialID string, bracket, idx int, params map[string]any, rng *rand.Rand) (score float64, err error) {
	pruned := false
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("objective panicked: %v", r)
		}
		if pruned {
			score, err = 0, ErrPruned
		}
	}()

	report := func(step int, value float64) error {
		if s.prn == nil {
			return nil
		}
		if pruned {
			return ErrPruned
		}
		rung := step
		if rm, ok := s.prn.(pruner.RungMapper); ok {
			rung = rm.RungForStep(step)
		}
		// Observations are immutable and unique per (trial, bracket, rung);
		// rung-bucketing pruners map several steps onto one rung, so a
		// duplicate here just means the rung was already recorded.
		err := s.store.AddObservation(ctx, store.Observation{TrialID: trialID, Bracket: bracket, Rung: rung, Score: value})
		if err != nil && !errors.Is(err, store.ErrDuplicate) {
			return err
		}
		prune, err := s.prn.ShouldPrune(ctx, s.store, study.ID, trialID, step, value, study.Goal)
		if err != nil {
			return err
		}
		if prune {
			pruned = true
			return ErrPruned
		}
		return nil
	}

	if ctx.Err() != nil {
		return 0, fmt.Errorf("%w: trial context already cancelled", context.Canceled)
	}

	score, err = s.objective(ctx, idx, params, rng, report)
	if err != nil {
		return 0, err
	}
	if isNonFinite(score) {
		return 0, fmt.Errorf("objective returned a non-finite score: %v", score)
	}
	return score, nil
}

func (s *Scheduler) patchTerminal(ctx context.Context, trialID string, patch store.TrialPatch, kind telemetry.EventKind, studyID string, number, bracket int) bool {
	if !s.withRetry(ctx, func() error { return s.store.UpdateTrial(ctx, trialID, patch) }) {
		return false
	}
	ev := telemetry.Event{Kind: kind, StudyID: studyID, TrialID: trialID, Number: number, Bracket: bracket}
	if patch.Score != nil {
		ev.Score = patch.Score
	}
	if patch.Error != nil {
		ev.Error = *patch.Error
	}
	s.emit(ev)
	return true
}

func (s *Scheduler) persistAndEmit(ctx context.Context, trial store.Trial, kind telemetry.EventKind) bool {
	if !s.withRetry(ctx, func() error { return s.store.AddTrial(ctx, trial) }) {
		return false
	}
	s.cfg.Metrics.TrialsFailed.WithLabelValues(trial.StudyID).Inc()
	s.emit(telemetry.Event{Kind: kind, StudyID: trial.StudyID, TrialID: trial.ID, Number: trial.Number, Bracket: trial.Bracket, Error: trial.Error})
	return true
}

// withRetry applies the store-error policy: one retry, then a fatal error
// that stops every worker.
func (s *Scheduler) withRetry(ctx context.Context, op func() error) bool {
	if err := op(); err == nil {
		return true
	} else if err2 := op(); err2 == nil {
		return true
	} else {
		s.fail(fmt.Errorf("scheduler: store operation failed after retry: %w", err2))
		return false
	}
}

func (s *Scheduler) fail(err error) {
	s.fatalOnce.Do(func() {
		s.fatalErr = err
		s.cfg.Logger.Error("scheduler: fatal error, stopping all workers", zap.Error(err))
		if s.cancelFunc != nil {
			s.cancelFunc()
		}
	})
}

func (s *Scheduler) emit(e telemetry.Event) {
	e.Timestamp = time.Now()
	s.sink.Emit(e)
}

// historySnapshot returns the study's trials at call time. Samplers reason
// over the completed subset; in-flight (pending/running) trials are included
// so TPE's constant-liar option can impute scores for them under parallel
// execution.
func (s *Scheduler) historySnapshot(ctx context.Context, studyID string) ([]store.Trial, error) {
	return s.store.ListTrials(ctx, studyID)
}

func isNonFinite(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}
