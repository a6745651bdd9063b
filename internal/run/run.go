// Package run implements the Run Store (§4.2 component D): run records and
// the global run index, following the same read-patch-conditional-put index
// update protocol as internal/session.
package run

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mattzcarey/sandbox-mcp/internal/codec"
	"github.com/mattzcarey/sandbox-mcp/internal/ctlerrors"
	"github.com/mattzcarey/sandbox-mcp/internal/idxupdate"
	"github.com/mattzcarey/sandbox-mcp/internal/objectstore"
	"github.com/mattzcarey/sandbox-mcp/internal/storekey"
)

// Status is a run lifecycle state (§3).
type Status string

const (
	StatusStarted   Status = "started"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var validStatuses = map[Status]bool{
	StatusStarted:   true,
	StatusRunning:   true,
	StatusCompleted: true,
	StatusFailed:    true,
}

// Result is a run's terminal outcome.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

// Run is the full persisted run record (§3).
type Run struct {
	RunID       string  `json:"runId"`
	SessionID   string  `json:"sessionId"`
	WorkflowID  string  `json:"workflowId"`
	Status      Status  `json:"status"`
	Task        string  `json:"task"`
	Title       string  `json:"title,omitempty"`
	Model       string  `json:"model"`
	StartedAt   int64   `json:"startedAt"`
	CompletedAt *int64  `json:"completedAt,omitempty"`
	Result      *Result `json:"result,omitempty"`
}

// Validate implements codec.Validatable.
func (r *Run) Validate() error {
	if r.RunID == "" {
		return fmt.Errorf("run: runId is required")
	}
	if r.SessionID == "" {
		return fmt.Errorf("run: sessionId is required")
	}
	if !validStatuses[r.Status] {
		return fmt.Errorf("run: invalid status %q", r.Status)
	}
	return nil
}

// Terminal reports whether status is a terminal state (invariant 5: only the
// workflow transitions a run to completed/failed, and once there it is
// terminal).
func (r *Run) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// IndexEntry is the lightweight projection stored in the run index (§3).
type IndexEntry struct {
	RunID       string  `json:"runId"`
	SessionID   string  `json:"sessionId"`
	Status      Status  `json:"status"`
	Title       string  `json:"title,omitempty"`
	StartedAt   int64   `json:"startedAt"`
	CompletedAt *int64  `json:"completedAt,omitempty"`
}

func entryFor(r *Run) IndexEntry {
	return IndexEntry{
		RunID:       r.RunID,
		SessionID:   r.SessionID,
		Status:      r.Status,
		Title:       r.Title,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

type index struct {
	Version   int                   `json:"version"`
	Runs      map[string]IndexEntry `json:"runs"`
	UpdatedAt int64                 `json:"updatedAt"`
}

// Validate implements codec.Validatable.
func (x *index) Validate() error {
	if x.Version != 1 {
		return fmt.Errorf("run index: unsupported version %d", x.Version)
	}
	return nil
}

var nowFunc = func() int64 { return time.Now().UnixMilli() }

// CompleteParams are the inputs to Store.CompleteRun.
type CompleteParams struct {
	Success bool
	Output  string
	Error   string
	// Title, if non-empty, replaces the run's existing title.
	Title string
}

// ListFilter narrows ListRuns.
type ListFilter struct {
	SessionID string
	Status    Status
	// Before restricts to entries with StartedAt < Before (ms). Zero means
	// unbounded.
	Before int64
	Limit  int
}

// ListResult is the paginated response from ListRuns.
type ListResult struct {
	Entries []IndexEntry
	Total   int
}

// Store is the Run Store (§4.2 component D).
type Store struct {
	objects objectstore.Store
}

// New returns a Store backed by the given object store.
func New(objects objectstore.Store) *Store {
	return &Store{objects: objects}
}

// GetRun returns the run record, or (nil, nil) if it does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	obj, err := s.objects.Get(ctx, storekey.Run(id))
	if errIsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ctlerrors.StorageReadErrorf("get run %q: %v", id, err)
	}
	var r Run
	if err := codec.Decode(obj.Body, &r); err != nil {
		return nil, ctlerrors.StorageReadErrorf("decode run %q: %v", id, err)
	}
	return &r, nil
}

// PutRun validates and writes the run record, then upserts it into the index.
func (s *Store) PutRun(ctx context.Context, r *Run) error {
	body, err := codec.Encode(r)
	if err != nil {
		return ctlerrors.New(ctlerrors.KindValidation, "RUN_INVALID", err.Error())
	}
	if _, err := s.objects.Put(ctx, storekey.Run(r.RunID), body, ""); err != nil {
		return ctlerrors.StorageWriteErrorf("put run %q: %v", r.RunID, err)
	}
	return s.upsertIndexEntry(ctx, entryFor(r))
}

// CompleteRun transitions a run to its terminal state (§4.2 "completeRun").
func (s *Store) CompleteRun(ctx context.Context, id string, p CompleteParams) (*Run, error) {
	r, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ctlerrors.StorageReadErrorf("Run not found")
	}
	now := nowFunc()
	r.Status = StatusFailed
	if p.Success {
		r.Status = StatusCompleted
	}
	r.CompletedAt = &now
	if p.Title != "" {
		r.Title = p.Title
	}
	r.Result = &Result{Success: p.Success, Output: p.Output, Error: p.Error}

	if err := s.PutRun(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteRun deletes the record, then removes its index entry.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	if err := s.objects.Delete(ctx, storekey.Run(id)); err != nil {
		return ctlerrors.StorageWriteErrorf("delete run %q: %v", id, err)
	}
	return s.removeIndexEntry(ctx, id)
}

// DeleteRunsForSession cascades a session deletion onto its runs: the index
// is updated first (so listings stop seeing them), then each record is
// best-effort deleted (§4.2 cascade-delete ordering rationale).
func (s *Store) DeleteRunsForSession(ctx context.Context, sessionID string) error {
	var toDelete []string
	err := idxupdate.Apply(ctx, s.objects, storekey.RunIndex(), "_index", func(current []byte, exists bool) ([]byte, error) {
		idx := index{Version: 1, Runs: map[string]IndexEntry{}}
		if exists {
			if err := codec.Decode(current, &idx); err != nil {
				return nil, ctlerrors.StorageReadErrorf("decode run index: %v", err)
			}
		}
		toDelete = toDelete[:0]
		for id, e := range idx.Runs {
			if e.SessionID == sessionID {
				toDelete = append(toDelete, id)
			}
		}
		for _, id := range toDelete {
			delete(idx.Runs, id)
		}
		idx.UpdatedAt = nowFunc()
		return codec.Encode(&idx)
	})
	if err != nil {
		return err
	}
	for _, id := range toDelete {
		_ = s.objects.Delete(ctx, storekey.Run(id))
	}
	return nil
}

// ListRuns reads the index, applies filters, sorts descending by startedAt,
// and slices the first Limit (default 100).
func (s *Store) ListRuns(ctx context.Context, f ListFilter) (ListResult, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	obj, err := s.objects.Get(ctx, storekey.RunIndex())
	idx := index{Version: 1, Runs: map[string]IndexEntry{}}
	if errIsNotFound(err) {
		// empty index
	} else if err != nil {
		return ListResult{}, ctlerrors.StorageReadErrorf("read run index: %v", err)
	} else if decErr := codec.Decode(obj.Body, &idx); decErr != nil {
		return ListResult{}, ctlerrors.StorageReadErrorf("decode run index: %v", decErr)
	}

	filtered := make([]IndexEntry, 0, len(idx.Runs))
	for _, e := range idx.Runs {
		if f.SessionID != "" && e.SessionID != f.SessionID {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Before != 0 && e.StartedAt >= f.Before {
			continue
		}
		filtered = append(filtered, e)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].StartedAt > filtered[j].StartedAt })

	total := len(filtered)
	end := limit
	if end > total {
		end = total
	}
	return ListResult{Entries: filtered[:end], Total: total}, nil
}

func (s *Store) upsertIndexEntry(ctx context.Context, entry IndexEntry) error {
	return idxupdate.Apply(ctx, s.objects, storekey.RunIndex(), "_index", func(current []byte, exists bool) ([]byte, error) {
		idx := index{Version: 1, Runs: map[string]IndexEntry{}}
		if exists {
			if err := codec.Decode(current, &idx); err != nil {
				return nil, ctlerrors.StorageReadErrorf("decode run index: %v", err)
			}
		}
		idx.Runs[entry.RunID] = entry
		idx.UpdatedAt = nowFunc()
		return codec.Encode(&idx)
	})
}

func (s *Store) removeIndexEntry(ctx context.Context, id string) error {
	return idxupdate.Apply(ctx, s.objects, storekey.RunIndex(), "_index", func(current []byte, exists bool) ([]byte, error) {
		idx := index{Version: 1, Runs: map[string]IndexEntry{}}
		if exists {
			if err := codec.Decode(current, &idx); err != nil {
				return nil, ctlerrors.StorageReadErrorf("decode run index: %v", err)
			}
		}
		delete(idx.Runs, id)
		idx.UpdatedAt = nowFunc()
		return codec.Encode(&idx)
	})
}

func errIsNotFound(err error) bool {
	return errors.Is(err, objectstore.ErrNotFound)
}
