package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mattzcarey/sandbox-mcp/internal/run"
)

// defaultListRunsLimit is list_runs' default `limit` (§4.4).
const defaultListRunsLimit = 10

// Cursor is list_runs' `before` field: a UNIX-ms integer on the wire, per
// spec, or an RFC3339 string — a supplemental ergonomic affordance for
// browser callers that don't want to compute milliseconds themselves. Both
// encodings resolve to the same millisecond comparison.
type Cursor int64

// UnmarshalJSON accepts either a JSON number (already ms) or a quoted
// RFC3339 timestamp.
func (c *Cursor) UnmarshalJSON(data []byte) error {
	var asInt int64
	if err := json.Unmarshal(data, &asInt); err == nil {
		*c = Cursor(asInt)
		return nil
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return fmt.Errorf("before: must be a UNIX-ms integer or RFC3339 string: %w", err)
	}
	t, err := time.Parse(time.RFC3339, asString)
	if err != nil {
		return fmt.Errorf("before: invalid RFC3339 timestamp %q: %w", asString, err)
	}
	*c = Cursor(t.UnixMilli())
	return nil
}

// ListRunsParams is the validated input to list_runs (§4.4).
type ListRunsParams struct {
	SessionID string `json:"sessionId,omitempty"`
	Status    string `json:"status,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Before    Cursor `json:"before,omitempty"`
}

// ListRunsResult is list_runs' paginated response.
type ListRunsResult struct {
	Entries []run.IndexEntry `json:"entries"`
	HasMore bool             `json:"hasMore"`
}

// listRuns implements §4.4's list_runs: fetch limit+1 entries and report
// hasMore based on whether the extra entry came back.
func (d *Dispatcher) listRuns(ctx context.Context, params ListRunsParams) (ListRunsResult, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultListRunsLimit
	}

	res, err := d.deps.Runs.ListRuns(ctx, run.ListFilter{
		SessionID: params.SessionID,
		Status:    run.Status(params.Status),
		Before:    int64(params.Before),
		Limit:     limit + 1,
	})
	if err != nil {
		return ListRunsResult{}, err
	}

	entries := res.Entries
	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}
	return ListRunsResult{Entries: entries, HasMore: hasMore}, nil
}
