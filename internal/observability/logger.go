// Package observability wraps the ambient zap logger, prometheus metrics,
// and otel tracer shared across the store, scheduler, and runner.
package observability

import (
	"go.uber.org/zap"
)

// Logger wraps *zap.Logger with helpers for the field set every subsystem
// in this module logs with (study/trial/bracket/rung).
type Logger struct {
	z *zap.Logger
}

// NewLogger wraps an existing *zap.Logger. Passing nil is equivalent to
// zap.NewNop(), matching test call sites that pass no logger.
func NewLogger(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

// NewDevelopment builds a human-readable development logger, for the CLI.
func NewDevelopment() *Logger {
	z, err := zap.NewDevelopment()
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

// NewProduction builds a JSON production logger.
func NewProduction() *Logger {
	z, err := zap.NewProduction()
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

// Nop returns a logger that discards everything, for tests.
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

// Zap exposes the underlying *zap.Logger for callers that want to add
// ad-hoc fields.
func (l *Logger) Zap() *zap.Logger { return l.z }

// WithStudy returns a logger scoped to a study ID.
func (l *Logger) WithStudy(studyID string) *Logger {
	return &Logger{z: l.z.With(zap.String("study_id", studyID))}
}

// WithTrial returns a logger scoped to a trial.
func (l *Logger) WithTrial(studyID, trialID string, number int) *Logger {
	return &Logger{z: l.z.With(
		zap.String("study_id", studyID),
		zap.String("trial_id", trialID),
		zap.Int("trial_number", number),
	)}
}

// WithRung returns a logger additionally scoped to a bracket/rung pair.
func (l *Logger) WithRung(bracket, rung int) *Logger {
	return &Logger{z: l.z.With(zap.Int("bracket", bracket), zap.Int("rung", rung))}
}

func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }
func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.z.Sync() }
