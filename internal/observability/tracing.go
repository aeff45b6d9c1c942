package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the otel instrumentation scope name for every span this
// module emits.
const tracerName = "github.com/pcraw4d/scout"

// Tracer returns the global otel tracer for this module.
func Tracer() trace.Tracer { return otel.Tracer(tracerName) }

// StartTrialSpan starts a span around one trial's objective invocation,
// carrying the attributes a reader would need to correlate it with logs
// and metrics.
func StartTrialSpan(ctx context.Context, studyID, trialID string, number, bracket int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "scout.trial",
		trace.WithAttributes(
			attribute.String("trial.study_id", studyID),
			attribute.String("trial.id", trialID),
			attribute.Int("trial.number", number),
			attribute.Int("trial.bracket", bracket),
		),
	)
}
