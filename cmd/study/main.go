// Command study is scout's CLI: start a study from a YAML definition, or
// inspect/pause/resume/cancel one by id. Subcommands dispatch off
// os.Args[1], each with its own flag.FlagSet.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/pcraw4d/scout/internal/benchmark"
	"github.com/pcraw4d/scout/internal/config"
	"github.com/pcraw4d/scout/internal/observability"
	"github.com/pcraw4d/scout/internal/runner"
	"github.com/pcraw4d/scout/internal/searchspace"
	"github.com/pcraw4d/scout/internal/store"
	"github.com/pcraw4d/scout/internal/telemetry"
)

// Exit codes returned to the shell.
const (
	exitOK             = 0
	exitArgumentError  = 1
	exitNotFound       = 2
	exitRuntimeFailure = 3
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(exitArgumentError)
	}

	cfg := config.FromEnv()
	if err := cfg.ValidateSecurity(); err != nil {
		log.Printf("study: %v", err)
		os.Exit(exitRuntimeFailure)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("study: received shutdown signal, cancelling")
		cancel()
	}()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.Printf("study: opening store: %v", err)
		os.Exit(exitRuntimeFailure)
	}

	logger := observability.NewDevelopment()
	metrics := observability.NewMetrics(nil)
	sink := telemetry.NewLoggingSink(logger)
	r := runner.New(runner.Config{Store: st, Logger: logger, Metrics: metrics, Sink: sink})

	var code int
	switch os.Args[1] {
	case "start":
		code = cmdStart(ctx, r, os.Args[2:])
	case "status":
		code = cmdStatus(ctx, st, os.Args[2:])
	case "pause":
		code = cmdTransition(ctx, r.Pause, os.Args[2:])
	case "resume":
		code = cmdTransition(ctx, r.Resume, os.Args[2:])
	case "cancel":
		code = cmdTransition(ctx, r.Cancel, os.Args[2:])
	default:
		usage()
		code = exitArgumentError
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: study <start|status|pause|resume|cancel> ...")
}

func cmdStart(ctx context.Context, r *runner.Runner, args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	executor := fs.String("executor", "local", "executor mode: local|iterative|oban")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		usage()
		return exitArgumentError
	}
	if *executor == "oban" {
		fmt.Fprintln(os.Stderr, "study: oban executor is not implemented by this local CLI; use local or iterative")
		return exitArgumentError
	}

	sf, err := config.LoadStudyFile(fs.Arg(0))
	if err != nil {
		log.Printf("study: %v", err)
		return exitArgumentError
	}

	space, err := spaceFromFile(sf)
	if err != nil {
		log.Printf("study: %v", err)
		return exitArgumentError
	}

	objFn, err := benchmark.Resolve(sf.Objective)
	if err != nil {
		log.Printf("study: %v", err)
		return exitArgumentError
	}

	goal := store.Goal(sf.Direction)
	if goal == "" {
		goal = store.GoalMinimize
	}
	studyID := uuid.NewString()
	s := store.Study{
		ID:             studyID,
		Name:           sf.StudyName,
		Goal:           goal,
		MaxTrials:      sf.NTrials,
		Parallelism:    sf.Parallelism,
		Seed:           sf.Seed,
		SamplerKind:    sf.Sampler,
		SamplerOptions: sf.SamplerOpts,
		PrunerKind:     sf.Pruner,
		PrunerOptions:  sf.PrunerOpts,
	}
	if s.Parallelism < 1 {
		s.Parallelism = 1
	}
	if err := r.CreateStudy(ctx, s); err != nil {
		log.Printf("study: creating study: %v", err)
		return exitArgumentError
	}

	objective := benchmark.AsSchedulerObjective(objFn)
	result, err := r.Run(ctx, studyID, space.Resolve, objective)
	if err != nil {
		log.Printf("study: run failed: %v", err)
		return exitRuntimeFailure
	}

	fmt.Printf("study %s: status=%s n_trials=%d best_score=%v best_trial=%s best_params=%v\n",
		studyID, result.Status, result.NTrials, result.BestScore, result.BestTrialID, result.BestParams)
	return exitOK
}

func cmdStatus(ctx context.Context, st store.Store, args []string) int {
	if len(args) != 1 {
		usage()
		return exitArgumentError
	}
	s, err := st.GetStudy(ctx, args[0])
	if err != nil {
		log.Printf("study: %v", err)
		if errors.Is(err, store.ErrNotFound) {
			return exitNotFound
		}
		return exitRuntimeFailure
	}
	trials, err := st.ListTrials(ctx, s.ID)
	if err != nil {
		log.Printf("study: %v", err)
		return exitRuntimeFailure
	}

	var best *store.Trial
	for i := range trials {
		t := &trials[i]
		if t.Status != store.TrialCompleted || t.Score == nil {
			continue
		}
		if best == nil || betterScore(*t.Score, *best.Score, s.Goal) {
			best = t
		}
	}

	fmt.Printf("study %s: status=%s trials=%d\n", s.ID, s.Status, len(trials))
	if best != nil {
		fmt.Printf("best: trial=%s score=%v params=%v\n", best.ID, *best.Score, best.Params)
	} else {
		fmt.Println("best: none yet")
	}
	return exitOK
}

func cmdTransition(ctx context.Context, op func(context.Context, string) error, args []string) int {
	if len(args) != 1 {
		usage()
		return exitArgumentError
	}
	if err := op(ctx, args[0]); err != nil {
		log.Printf("study: %v", err)
		if errors.Is(err, store.ErrNotFound) {
			return exitNotFound
		}
		return exitRuntimeFailure
	}
	return exitOK
}

func betterScore(candidate, incumbent float64, goal store.Goal) bool {
	if goal == store.GoalMinimize {
		return candidate < incumbent
	}
	return candidate > incumbent
}

func spaceFromFile(sf *config.StudyFile) (searchspace.Space, error) {
	space := make(searchspace.Space, len(sf.SearchSpace))
	for name, d := range sf.SearchSpace {
		var dist searchspace.Distribution
		switch d.Kind {
		case "uniform":
			dist = searchspace.Uniform(d.Min, d.Max)
		case "log_uniform":
			dist = searchspace.LogUniform(d.Min, d.Max)
		case "int":
			dist = searchspace.Int(int(d.Min), int(d.Max))
		case "categorical":
			dist = searchspace.Categorical(d.Choices...)
		default:
			return nil, fmt.Errorf("%w: unknown search space kind %q for parameter %q", store.ErrConfig, d.Kind, name)
		}
		if err := dist.Validate(); err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		space[name] = dist
	}
	if err := space.Validate(); err != nil {
		return nil, err
	}
	return space, nil
}
