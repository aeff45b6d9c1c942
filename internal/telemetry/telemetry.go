// Package telemetry defines the fire-and-forget event contract the study
// runner emits on every lifecycle transition. The dashboard and any other
// external observer are built against this contract, never against runner
// or store internals.
package telemetry

import (
	"time"

	"github.com/pcraw4d/scout/internal/observability"
)

// EventKind enumerates the lifecycle notifications a study emits.
type EventKind string

const (
	StudyCreated   EventKind = "study_created"
	TrialStarted   EventKind = "trial_started"
	TrialCompleted EventKind = "trial_completed"
	TrialPruned    EventKind = "trial_pruned"
	TrialFailed    EventKind = "trial_failed"
	StudyCompleted EventKind = "study_completed"
	StudyFailed    EventKind = "study_failed"
	StudyPaused    EventKind = "study_paused"
	StudyResumed   EventKind = "study_resumed"
	StudyCancelled EventKind = "study_cancelled"
)

// Event is one lifecycle notification. Fields beyond StudyID/TrialID are
// optional and kind-dependent; the Sink never blocks on them.
type Event struct {
	Kind      EventKind
	StudyID   string
	TrialID   string
	Number    int
	Bracket   int
	Rung      int
	Score     *float64
	Error     string
	Timestamp time.Time
}

// Sink is the stable, external-collaborator contract: fire and forget. An
// implementation must never share state with the store and must never
// block the caller for long.
type Sink interface {
	Emit(Event)
}

// LoggingSink is the bundled default Sink: it only logs. A host wanting a
// real dashboard backend implements Sink itself against this same
// contract.
type LoggingSink struct {
	logger *observability.Logger
}

// NewLoggingSink wraps logger (nil is equivalent to a no-op logger).
func NewLoggingSink(logger *observability.Logger) *LoggingSink {
	if logger == nil {
		logger = observability.Nop()
	}
	return &LoggingSink{logger: logger}
}

func (s *LoggingSink) Emit(e Event) {
	l := s.logger.WithStudy(e.StudyID)
	switch e.Kind {
	case TrialStarted, TrialCompleted, TrialPruned, TrialFailed:
		l = l.WithTrial(e.StudyID, e.TrialID, e.Number)
	}
	l.Info(string(e.Kind))
}

// NopSink discards every event; useful where a Sink is required but
// unwanted (most unit tests).
type NopSink struct{}

func (NopSink) Emit(Event) {}

var _ Sink = (*LoggingSink)(nil)
var _ Sink = NopSink{}
