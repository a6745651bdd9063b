package dispatcher

import (
	"context"

	"github.com/mattzcarey/sandbox-mcp/internal/run"
)

// GetResultParams is the validated input to get_result (§4.4).
type GetResultParams struct {
	RunID string `json:"runId"`
}

// GetResultResult is a projection of a run record plus its session's
// webUiUrl, when the session is still around.
type GetResultResult struct {
	RunID       string      `json:"runId"`
	SessionID   string      `json:"sessionId"`
	Status      run.Status  `json:"status"`
	Title       string      `json:"title,omitempty"`
	Model       string      `json:"model"`
	StartedAt   int64       `json:"startedAt"`
	CompletedAt *int64      `json:"completedAt,omitempty"`
	Result      *run.Result `json:"result,omitempty"`
	WebUIURL    string      `json:"webUiUrl,omitempty"`
}

// getResult implements §4.4's get_result: load the run (missing →
// RunNotFoundError), then best-effort load its session for webUiUrl — an
// absent session leaves webUiUrl unset, it is not an error.
func (d *Dispatcher) getResult(ctx context.Context, params GetResultParams) (GetResultResult, error) {
	r, err := d.deps.Runs.GetRun(ctx, params.RunID)
	if err != nil {
		return GetResultResult{}, err
	}
	if r == nil {
		return GetResultResult{}, runNotFoundError(params.RunID)
	}

	result := GetResultResult{
		RunID:       r.RunID,
		SessionID:   r.SessionID,
		Status:      r.Status,
		Title:       r.Title,
		Model:       r.Model,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Result:      r.Result,
	}

	sess, err := d.deps.Sessions.GetSession(ctx, r.SessionID)
	if err != nil {
		return GetResultResult{}, err
	}
	if sess != nil {
		result.WebUIURL = sess.WebUIURL
	}
	return result, nil
}
