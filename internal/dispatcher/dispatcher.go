// Package dispatcher implements the Tool Dispatcher (§4.4, component J):
// the three externally visible tools run_task, get_result, and list_runs.
// Every input is validated against a compiled JSON Schema before a handler
// ever sees it (grounded on goadesign-goa-ai's
// registry.validatePayloadAgainstSchema), and every invocation emits exactly
// one `tool.call` wide event via internal/telemetry regardless of outcome.
package dispatcher

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/mattzcarey/sandbox-mcp/internal/ctlerrors"
	"github.com/mattzcarey/sandbox-mcp/internal/run"
	"github.com/mattzcarey/sandbox-mcp/internal/session"
	"github.com/mattzcarey/sandbox-mcp/internal/telemetry"
	"github.com/mattzcarey/sandbox-mcp/internal/workflow"
)

// ContentBlock is one element of a tool result's content array (MCP
// protocol conformance).
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolOutput is a tool invocation's full result: a single JSON-serialized
// text content block, per §4.4 ("Tool outputs are JSON serialized in a
// single text content block").
type ToolOutput struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Config are the Dispatcher's fixed, startup-time settings.
type Config struct {
	// BaseURL is this service's externally reachable origin, used to build
	// webUiUrl (§4.4 run_task step 2).
	BaseURL string
	// ContainerProxyURL is the proxy origin reachable from inside a
	// sandbox, embedded into TaskParams.ProxyBaseURL.
	ContainerProxyURL string
	// TokenSecret signs the per-run proxy token (§4.1/B).
	TokenSecret string
	// DefaultModel is DEFAULT_MODEL, used when neither the request nor the
	// session names one.
	DefaultModel string
}

// Dependencies are the Dispatcher's collaborators.
type Dependencies struct {
	Sessions *session.Store
	Runs     *run.Store
	Engine   workflow.Engine
	Logger   telemetry.Logger
	Metrics  telemetry.Metrics
}

// Dispatcher serves the three tool calls.
type Dispatcher struct {
	cfg  Config
	deps Dependencies
}

// New returns a Dispatcher. deps.Logger/Metrics default to no-ops so tests
// and minimal setups never need a real telemetry backend.
func New(cfg Config, deps Dependencies) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = telemetry.NewNoopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewNoopMetrics()
	}
	return &Dispatcher{cfg: cfg, deps: deps}
}

// nowFunc is overridable in tests.
var nowFunc = func() time.Time { return time.Now() }

// Dispatch validates input against tool's schema, runs the handler, and
// emits exactly one tool.call wide event, win or lose. requestID identifies
// the call for the event (§4.4 "Every invocation emits one wide telemetry
// event").
func (d *Dispatcher) Dispatch(ctx context.Context, requestID, tool string, input json.RawMessage) (ToolOutput, error) {
	start := nowFunc()
	var (
		result any
		err    error
	)

	switch tool {
	case "run_task":
		var payload any
		payload, err = validate(runTaskSchema, input)
		if err == nil {
			var params RunTaskParams
			if decErr := remarshal(payload, &params); decErr != nil {
				err = newValidationError(decErr.Error())
			} else {
				result, err = d.runTask(ctx, params)
			}
		}
	case "get_result":
		var payload any
		payload, err = validate(getResultSchema, input)
		if err == nil {
			var params GetResultParams
			if decErr := remarshal(payload, &params); decErr != nil {
				err = newValidationError(decErr.Error())
			} else {
				result, err = d.getResult(ctx, params)
			}
		}
	case "list_runs":
		var payload any
		payload, err = validate(listRunsSchema, input)
		if err == nil {
			var params ListRunsParams
			if decErr := remarshal(payload, &params); decErr != nil {
				err = newValidationError(decErr.Error())
			} else {
				result, err = d.listRuns(ctx, params)
			}
		}
	default:
		err = ctlerrors.Newf(ctlerrors.KindValidation, "UNKNOWN_TOOL", "unknown tool %q", tool)
	}

	out := toToolOutput(result, err)
	d.emit(ctx, requestID, tool, start, err)
	return out, nil
}

func (d *Dispatcher) emit(ctx context.Context, requestID, tool string, start time.Time, err error) {
	outcome := "success"
	errMsg := ""
	if err != nil {
		outcome = "error"
		errMsg = err.Error()
	}
	telemetry.EmitToolCall(ctx, d.deps.Logger, d.deps.Metrics, telemetry.ToolCallEvent{
		Timestamp:  nowFunc(),
		RequestID:  requestID,
		Tool:       tool,
		Service:    telemetry.Service,
		Version:    telemetry.Version,
		DurationMs: nowFunc().Sub(start).Milliseconds(),
		Outcome:    outcome,
		Error:      errMsg,
	})
}

// toToolOutput serializes result (on success) or a structured {code,
// message} body (on failure) into the single text content block §4.4
// mandates, matching §8 S2's exact wire shape
// ({code:"SessionNotFoundError", message:"Session \"does-not-exist\" not
// found"}).
func toToolOutput(result any, err error) ToolOutput {
	if err != nil {
		code := "INTERNAL"
		msg := err.Error()
		if ce, ok := ctlerrors.As(err); ok {
			code = ce.Code()
			msg = strings.TrimPrefix(msg, ce.Code()+": ")
		}
		body, _ := json.Marshal(map[string]string{"message": msg, "code": code})
		return ToolOutput{Content: []ContentBlock{{Type: "text", Text: string(body)}}, IsError: true}
	}
	body, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		body, _ = json.Marshal(map[string]string{"message": marshalErr.Error(), "code": "INTERNAL"})
		return ToolOutput{Content: []ContentBlock{{Type: "text", Text: string(body)}}, IsError: true}
	}
	return ToolOutput{Content: []ContentBlock{{Type: "text", Text: string(body)}}}
}

// remarshal round-trips through JSON to decode a validated any payload into
// a typed params struct, avoiding a second hand-written field-by-field
// extraction after schema validation already walked the same document.
func remarshal(payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
