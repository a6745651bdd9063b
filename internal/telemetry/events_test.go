package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	msg      string
	keyvals  []any
}

func (l *recordingLogger) Debug(context.Context, string, ...any) {}
func (l *recordingLogger) Info(_ context.Context, msg string, keyvals ...any) {
	l.msg = msg
	l.keyvals = keyvals
}
func (l *recordingLogger) Warn(context.Context, string, ...any)  {}
func (l *recordingLogger) Error(context.Context, string, ...any) {}

type recordingMetrics struct {
	counters []string
	timers   []string
}

func (m *recordingMetrics) IncCounter(name string, _ float64, _ ...string)        { m.counters = append(m.counters, name) }
func (m *recordingMetrics) RecordTimer(name string, _ time.Duration, _ ...string) { m.timers = append(m.timers, name) }
func (m *recordingMetrics) RecordGauge(string, float64, ...string)               {}

func TestEmitToolCallLogsAndRecordsMetrics(t *testing.T) {
	logger := &recordingLogger{}
	metrics := &recordingMetrics{}

	EmitToolCall(context.Background(), logger, metrics, ToolCallEvent{
		RequestID:  "req-1",
		Tool:       "run_task",
		Service:    Service,
		Version:    Version,
		DurationMs: 42,
		Outcome:    "success",
	})

	assert.Equal(t, "tool.call", logger.msg)
	assert.Contains(t, logger.keyvals, "req-1")
	require.Len(t, metrics.counters, 1)
	assert.Equal(t, "tool_call_total", metrics.counters[0])
	require.Len(t, metrics.timers, 1)
}

func TestEmitWorkflowIncludesErrorPhaseWhenPresent(t *testing.T) {
	logger := &recordingLogger{}
	metrics := &recordingMetrics{}

	EmitWorkflow(context.Background(), logger, metrics, WorkflowEvent{
		WorkflowID: "run-1",
		RunID:      "run-1",
		SessionID:  "sess-1",
		Service:    Service,
		Version:    Version,
		DurationMs: 10,
		Outcome:    "failed",
		Error:      &EventError{Phase: "execute-task", Message: "boom"},
	})

	assert.Contains(t, logger.keyvals, "errorPhase")
	assert.Contains(t, logger.keyvals, "execute-task")
	require.Len(t, metrics.counters, 1)
}

func TestNoopImplementationsDoNotPanic(t *testing.T) {
	logger := NewNoopLogger()
	metrics := NewNoopMetrics()
	tracer := NewNoopTracer()

	logger.Info(context.Background(), "msg", "k", "v")
	metrics.IncCounter("c", 1)
	ctx, span := tracer.Start(context.Background(), "span")
	span.AddEvent("event")
	span.End()
	_ = ctx
}
