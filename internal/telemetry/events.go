package telemetry

import (
	"context"
	"time"
)

// service/version are stamped onto every wide event (§4.x-K).
const (
	Service = "sandbox-mcp"
)

// Version is the build version stamped onto every wide event. Overridable
// at link time (-ldflags "-X .../telemetry.Version=...") or at startup by
// cmd/sandbox-mcp; defaults to "dev".
var Version = "dev"

// PhaseTimers records the named sub-durations a tool.call event reports
// (§4.x-K: "validate", "storage", "token", "workflow").
type PhaseTimers map[string]time.Duration

// EventError is the {phase, ...} error shape embedded in a workflow event.
type EventError struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

// ToolCallEvent is the `tool.call` wide event (§4.x-K), one per dispatcher
// invocation.
type ToolCallEvent struct {
	Timestamp time.Time          `json:"timestamp"`
	RequestID string             `json:"requestId"`
	Tool      string             `json:"tool"`
	Service   string             `json:"service"`
	Version   string             `json:"version"`
	DurationMs int64             `json:"durationMs"`
	Phases    map[string]int64   `json:"phases,omitempty"`
	Outcome   string             `json:"outcome"`
	Error     string             `json:"error,omitempty"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
}

// WorkflowEvent is the `workflow` wide event (§4.x-K), one per workflow
// execution.
type WorkflowEvent struct {
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflowId"`
	RunID      string         `json:"runId"`
	SessionID  string         `json:"sessionId"`
	Service    string         `json:"service"`
	Version    string         `json:"version"`
	DurationMs int64          `json:"durationMs"`
	Outcome    string         `json:"outcome"`
	Error      *EventError    `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EmitToolCall logs ev as one structured line via logger and mirrors it as a
// counter + timer via metrics, so the mandated newline-delimited JSON and an
// OTEL-scrapeable signal come from the same call site.
func EmitToolCall(ctx context.Context, logger Logger, metrics Metrics, ev ToolCallEvent) {
	keyvals := []any{
		"timestamp", ev.Timestamp,
		"requestId", ev.RequestID,
		"tool", ev.Tool,
		"service", ev.Service,
		"version", ev.Version,
		"durationMs", ev.DurationMs,
		"outcome", ev.Outcome,
	}
	if len(ev.Phases) > 0 {
		keyvals = append(keyvals, "phases", ev.Phases)
	}
	if ev.Error != "" {
		keyvals = append(keyvals, "error", ev.Error)
	}
	if len(ev.Metadata) > 0 {
		keyvals = append(keyvals, "metadata", ev.Metadata)
	}
	logger.Info(ctx, "tool.call", keyvals...)

	tags := []string{"tool", ev.Tool, "outcome", ev.Outcome}
	metrics.IncCounter("tool_call_total", 1, tags...)
	metrics.RecordTimer("tool_call_duration_ms", time.Duration(ev.DurationMs)*time.Millisecond, tags...)
}

// EmitWorkflow logs ev as one structured line via logger and mirrors it as a
// counter + timer via metrics.
func EmitWorkflow(ctx context.Context, logger Logger, metrics Metrics, ev WorkflowEvent) {
	keyvals := []any{
		"timestamp", ev.Timestamp,
		"workflowId", ev.WorkflowID,
		"runId", ev.RunID,
		"sessionId", ev.SessionID,
		"service", ev.Service,
		"version", ev.Version,
		"durationMs", ev.DurationMs,
		"outcome", ev.Outcome,
	}
	if ev.Error != nil {
		keyvals = append(keyvals, "errorPhase", ev.Error.Phase, "errorMessage", ev.Error.Message)
	}
	if len(ev.Metadata) > 0 {
		keyvals = append(keyvals, "metadata", ev.Metadata)
	}
	logger.Info(ctx, "workflow", keyvals...)

	tags := []string{"outcome", ev.Outcome}
	metrics.IncCounter("workflow_total", 1, tags...)
	metrics.RecordTimer("workflow_duration_ms", time.Duration(ev.DurationMs)*time.Millisecond, tags...)
}
