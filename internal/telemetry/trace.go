package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/loom/internal/errors"
)

const instrumentation = "github.com/felixgeelhaar/loom"

// Attribute keys shared by loom spans.
const (
	AttrRunID       = "loom.run_id"
	AttrGoal        = "loom.goal"
	AttrNodeID      = "loom.node_id"
	AttrWave        = "loom.wave"
	AttrCandidateID = "loom.candidate_id"
	AttrStatus      = "loom.status"
	AttrErrorCode   = "loom.error_code"
)

// Tracer returns a tracer from the current provider.
func Tracer() trace.Tracer {
	return TracerProvider().Tracer(instrumentation)
}

// StartCommandSpan creates a span for a CLI command execution.
//
//	ctx, span := telemetry.StartCommandSpan(ctx, "run")
//	defer span.End()
func StartCommandSpan(ctx context.Context, cmdName string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "command."+cmdName, trace.WithAttributes(
		attribute.String("command", cmdName),
		attribute.String("component", "cli"),
	))
}

// StartPlanSpan wraps candidate generation, scoring and selection.
func StartPlanSpan(ctx context.Context, goal string, candidates int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "plan", trace.WithAttributes(
		attribute.String(AttrGoal, goal),
		attribute.Int("loom.candidates", candidates),
	))
}

// StartRunSpan wraps one scheduler run.
func StartRunSpan(ctx context.Context, runID string, waves int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "run", trace.WithAttributes(
		attribute.String(AttrRunID, runID),
		attribute.Int("loom.waves", waves),
	))
}

// StartWaveSpan wraps the execution of one wave.
func StartWaveSpan(ctx context.Context, wave, size int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "wave", trace.WithAttributes(
		attribute.Int(AttrWave, wave),
		attribute.Int("loom.wave_size", size),
	))
}

// StartNodeSpan wraps the execution of one node.
func StartNodeSpan(ctx context.Context, nodeID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "node", trace.WithAttributes(
		attribute.String(AttrNodeID, nodeID),
	))
}

// StartRefineSpan wraps one refinement round.
func StartRefineSpan(ctx context.Context, round int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "refine", trace.WithAttributes(
		attribute.Int("loom.round", round),
	))
}

// RecordSuccess marks a span as successful with optional result attributes.
func RecordSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Ok, "")
}

// RecordError records err on the span, including its error code when it
// carries one. A nil error is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if code, ok := errors.CodeOf(err); ok {
		span.SetAttributes(attribute.String(AttrErrorCode, string(code)))
	}
}

// RecordDuration records the duration of an operation in milliseconds.
func RecordDuration(span trace.Span, name string, d time.Duration) {
	span.SetAttributes(attribute.Int64(name+"_ms", d.Milliseconds()))
}
