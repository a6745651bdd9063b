// Package telemetry provides the Logger/Metrics/Tracer seams every other
// package takes as a dependency, plus the two wide-event shapes (§4.x
// component K: `tool.call` and `workflow`) emitted once per dispatcher
// invocation and once per workflow execution.
//
// Grounded on goadesign-goa-ai's runtime/agents/telemetry.Logger/Metrics/Tracer
// (same three-interface split, same Clue-backed + noop implementations) — the
// interfaces are kept intentionally small so call sites never need a real
// OTEL/Clue setup in tests.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured, context-carried logging. Request-scoped fields
// (requestId/runId/sessionId) are always passed as keyvals, never
// string-interpolated into msg.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter/timer/gauge helpers mirroring wide events as OTEL
// instruments.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}
