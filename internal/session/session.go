// Package session implements the Session Store (§4.2 component C): the
// session record and its lightweight index projection, persisted through the
// object-store abstraction with the read-patch-conditional-put index update
// protocol (internal/idxupdate).
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/mattzcarey/sandbox-mcp/internal/codec"
	"github.com/mattzcarey/sandbox-mcp/internal/ctlerrors"
	"github.com/mattzcarey/sandbox-mcp/internal/idxupdate"
	"github.com/mattzcarey/sandbox-mcp/internal/objectstore"
	"github.com/mattzcarey/sandbox-mcp/internal/storekey"
)

// Status is a session lifecycle state (§3).
type Status string

const (
	StatusCreating Status = "creating"
	StatusActive   Status = "active"
	StatusIdle     Status = "idle"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

var validStatuses = map[Status]bool{
	StatusCreating: true,
	StatusActive:   true,
	StatusIdle:     true,
	StatusStopped:  true,
	StatusError:    true,
}

var sessionIDPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Repository is a session's optionally-cloned git repository.
type Repository struct {
	URL    string `json:"url"`
	Branch string `json:"branch,omitempty"`
}

// Config holds session-scoped defaults.
type Config struct {
	DefaultModel string `json:"defaultModel"`
}

// Session is the full persisted session record (§3).
type Session struct {
	SessionID         string      `json:"sessionId"`
	SandboxID         string      `json:"sandboxId"`
	CreatedAt         int64       `json:"createdAt"`
	LastActivity      int64       `json:"lastActivity"`
	Status            Status      `json:"status"`
	WorkspacePath     string      `json:"workspacePath"`
	WebUIURL          string      `json:"webUiUrl"`
	Repository        *Repository `json:"repository,omitempty"`
	Title             string      `json:"title,omitempty"`
	Config            Config      `json:"config"`
	OpencodeSessionID string      `json:"opencodeSessionId,omitempty"`
	ClonedRepos       []string    `json:"clonedRepos,omitempty"`
}

// Validate implements codec.Validatable.
func (s *Session) Validate() error {
	if !sessionIDPattern.MatchString(s.SessionID) || len(s.SessionID) > 64 {
		return fmt.Errorf("session: invalid sessionId %q", s.SessionID)
	}
	if s.SandboxID != s.SessionID {
		return fmt.Errorf("session: sandboxId must equal sessionId")
	}
	if !validStatuses[s.Status] {
		return fmt.Errorf("session: invalid status %q", s.Status)
	}
	if s.WorkspacePath == "" {
		return fmt.Errorf("session: workspacePath is required")
	}
	if s.Repository != nil && s.Repository.URL != "" {
		if len(s.Repository.URL) < len("https://github.com/") || s.Repository.URL[:len("https://github.com/")] != "https://github.com/" {
			return fmt.Errorf("session: repository.url must start with https://github.com/")
		}
	}
	return nil
}

// AddClonedRepo appends url to ClonedRepos if not already present,
// preserving invariant 4 ("clonedRepos is a set; repeat clones are no-ops").
func (s *Session) AddClonedRepo(url string) {
	for _, existing := range s.ClonedRepos {
		if existing == url {
			return
		}
	}
	s.ClonedRepos = append(s.ClonedRepos, url)
}

// IndexEntry is the lightweight projection stored in the session index (§3).
type IndexEntry struct {
	SessionID    string `json:"sessionId"`
	Status       Status `json:"status"`
	CreatedAt    int64  `json:"createdAt"`
	LastActivity int64  `json:"lastActivity"`
	Title        string `json:"title,omitempty"`
}

func entryFor(s *Session) IndexEntry {
	return IndexEntry{
		SessionID:    s.SessionID,
		Status:       s.Status,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		Title:        s.Title,
	}
}

// index is the persisted shape of sessions/_index.json.
type index struct {
	Version   int                   `json:"version"`
	Sessions  map[string]IndexEntry `json:"sessions"`
	UpdatedAt int64                 `json:"updatedAt"`
}

// Validate implements codec.Validatable.
func (x *index) Validate() error {
	if x.Version != 1 {
		return fmt.Errorf("session index: unsupported version %d", x.Version)
	}
	return nil
}

// nowFunc is overridable in tests.
var nowFunc = func() int64 { return time.Now().UnixMilli() }

// ListResult is the paginated response from ListSessions.
type ListResult struct {
	Entries []IndexEntry
	Total   int
}

// ListOptions controls ListSessions paging.
type ListOptions struct {
	Limit  int
	Offset int
}

// Store is the Session Store (§4.2 component C).
type Store struct {
	objects objectstore.Store
}

// New returns a Store backed by the given object store.
func New(objects objectstore.Store) *Store {
	return &Store{objects: objects}
}

// GetSession returns the session record, or (nil, nil) if it does not exist.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	obj, err := s.objects.Get(ctx, storekey.Session(id))
	if errIsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ctlerrors.StorageReadErrorf("get session %q: %v", id, err)
	}
	var sess Session
	if err := codec.Decode(obj.Body, &sess); err != nil {
		return nil, ctlerrors.StorageReadErrorf("decode session %q: %v", id, err)
	}
	return &sess, nil
}

// PutSession validates and writes the session record, then upserts it into
// the index. Record is written before the index (§4.2 upsert ordering).
func (s *Store) PutSession(ctx context.Context, sess *Session) error {
	body, err := codec.Encode(sess)
	if err != nil {
		return ctlerrors.New(ctlerrors.KindValidation, "SESSION_INVALID", err.Error())
	}
	if _, err := s.objects.Put(ctx, storekey.Session(sess.SessionID), body, ""); err != nil {
		return ctlerrors.StorageWriteErrorf("put session %q: %v", sess.SessionID, err)
	}
	return s.upsertIndexEntry(ctx, entryFor(sess))
}

// DeleteSession deletes the record, then removes its index entry. Callers
// must cascade run deletion first; the store does not couple the domains.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := s.objects.Delete(ctx, storekey.Session(id)); err != nil {
		return ctlerrors.StorageWriteErrorf("delete session %q: %v", id, err)
	}
	return s.removeIndexEntry(ctx, id)
}

// ListSessions reads the index, sorts descending by lastActivity, and slices
// [offset, offset+limit).
func (s *Store) ListSessions(ctx context.Context, opts ListOptions) (ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	idx, _, err := s.readIndex(ctx)
	if err != nil {
		return ListResult{}, err
	}
	entries := make([]IndexEntry, 0, len(idx.Sessions))
	for _, e := range idx.Sessions {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].LastActivity > entries[j].LastActivity })

	total := len(entries)
	start := opts.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return ListResult{Entries: entries[start:end], Total: total}, nil
}

func (s *Store) readIndex(ctx context.Context) (*index, string, error) {
	obj, err := s.objects.Get(ctx, storekey.SessionIndex())
	if errIsNotFound(err) {
		return &index{Version: 1, Sessions: map[string]IndexEntry{}}, "", nil
	}
	if err != nil {
		return nil, "", ctlerrors.StorageReadErrorf("read session index: %v", err)
	}
	var idx index
	if err := codec.Decode(obj.Body, &idx); err != nil {
		return nil, "", ctlerrors.StorageReadErrorf("decode session index: %v", err)
	}
	return &idx, obj.ETag, nil
}

func (s *Store) upsertIndexEntry(ctx context.Context, entry IndexEntry) error {
	return idxupdate.Apply(ctx, s.objects, storekey.SessionIndex(), "_index", func(current []byte, exists bool) ([]byte, error) {
		idx := index{Version: 1, Sessions: map[string]IndexEntry{}}
		if exists {
			if err := codec.Decode(current, &idx); err != nil {
				return nil, ctlerrors.StorageReadErrorf("decode session index: %v", err)
			}
		}
		idx.Sessions[entry.SessionID] = entry
		idx.UpdatedAt = nowFunc()
		return codec.Encode(&idx)
	})
}

func (s *Store) removeIndexEntry(ctx context.Context, id string) error {
	return idxupdate.Apply(ctx, s.objects, storekey.SessionIndex(), "_index", func(current []byte, exists bool) ([]byte, error) {
		idx := index{Version: 1, Sessions: map[string]IndexEntry{}}
		if exists {
			if err := codec.Decode(current, &idx); err != nil {
				return nil, ctlerrors.StorageReadErrorf("decode session index: %v", err)
			}
		}
		delete(idx.Sessions, id)
		idx.UpdatedAt = nowFunc()
		return codec.Encode(&idx)
	})
}

func errIsNotFound(err error) bool {
	return errors.Is(err, objectstore.ErrNotFound)
}
