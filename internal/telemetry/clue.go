package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

const meterName = "github.com/mattzcarey/sandbox-mcp"

type (
	// ClueLogger delegates to goa.design/clue/log. Formatting (JSON in
	// production, terminal in development) and debug level are configured on
	// the context via log.Context/log.WithFormat/log.WithDebug at startup.
	ClueLogger struct{}

	// ClueMetrics records counters/timers/gauges via OTEL metrics.
	ClueMetrics struct {
		meter metric.Meter
	}

	// ClueTracer creates spans via OTEL tracing.
	ClueTracer struct {
		tracer trace.Tracer
	}

	clueSpan struct {
		span trace.Span
	}
)

func NewClueLogger() Logger { return ClueLogger{} }

func NewClueMetrics() Metrics {
	return &ClueMetrics{meter: otel.Meter(meterName)}
}

func NewClueTracer() Tracer {
	return &ClueTracer{tracer: otel.Tracer(meterName)}
}

func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	fielders := []log.Fielder{log.KV{K: "msg", V: msg}, log.KV{K: "severity", V: "warning"}}
	log.Warn(ctx, append(fielders, kvToClue(keyvals)...)...)
}

func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

func kvToClue(keyvals []any) []log.Fielder {
	fielders := make([]log.Fielder, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		fielders = append(fielders, log.KV{K: key, V: keyvals[i+1]})
	}
	return fielders
}

func (m *ClueMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *ClueMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	hist, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	hist.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *ClueMetrics) RecordGauge(name string, value float64, tags ...string) {
	gauge, err := m.meter.Float64Gauge(name)
	if err != nil {
		return
	}
	gauge.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func tagsToAttrs(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		attrs = append(attrs, attribute.String(tags[i], tags[i+1]))
	}
	return attrs
}

func (t *ClueTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	spanCtx, span := t.tracer.Start(ctx, name, opts...)
	return spanCtx, clueSpan{span: span}
}

func (t *ClueTracer) Span(ctx context.Context) Span {
	return clueSpan{span: trace.SpanFromContext(ctx)}
}

func (s clueSpan) End(opts ...trace.SpanEndOption)                { s.span.End(opts...) }
func (s clueSpan) AddEvent(name string, attrs ...any)             { s.span.AddEvent(name) }
func (s clueSpan) SetStatus(code codes.Code, description string)  { s.span.SetStatus(code, description) }
func (s clueSpan) RecordError(err error, opts ...trace.EventOption) { s.span.RecordError(err, opts...) }
