package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/yashsham/open-agent-orchestrator/event"
)

const tracerName = "github.com/yashsham/open-agent-orchestrator"

// Tracer emits one span per execution, one per step, and one per tool call.
// The active span's identifiers are attached to every recorded event as its
// trace context.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer from an OpenTelemetry tracer provider.
func NewTracer(provider trace.TracerProvider) *Tracer {
	return &Tracer{tracer: provider.Tracer(tracerName)}
}

// NoopTracer returns a Tracer that records nothing.
func NoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer(tracerName)}
}

// StartExecution opens the root span for an execution.
func (t *Tracer) StartExecution(ctx context.Context, executionID, agentName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "oao.execution",
		trace.WithAttributes(
			attribute.String("oao.execution_id", executionID),
			attribute.String("oao.agent_name", agentName),
		))
}

// StartStep opens a span for one engine step.
func (t *Tracer) StartStep(ctx context.Context, executionID string, step int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "oao.step",
		trace.WithAttributes(
			attribute.String("oao.execution_id", executionID),
			attribute.Int("oao.step", step),
		))
}

// StartToolCall opens a span for one tool invocation.
func (t *Tracer) StartToolCall(ctx context.Context, toolName, argHash string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "oao.tool_call",
		trace.WithAttributes(
			attribute.String("oao.tool_name", toolName),
			attribute.String("oao.arg_hash", argHash),
		))
}

// TraceContextFrom extracts the active span identifiers from a context, or
// nil when no span is recording.
func TraceContextFrom(ctx context.Context) *event.TraceContext {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return &event.TraceContext{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
	}
}
