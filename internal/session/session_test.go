package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattzcarey/sandbox-mcp/internal/objectstore/memory"
)

func newTestSession(id string) *Session {
	return &Session{
		SessionID:     id,
		SandboxID:     id,
		CreatedAt:     1000,
		LastActivity:  1000,
		Status:        StatusCreating,
		WorkspacePath: "/workspace",
		Config:        Config{DefaultModel: "claude-test"},
	}
}

func TestValidateRejectsMismatchedSandboxID(t *testing.T) {
	s := newTestSession("abc")
	s.SandboxID = "other"
	assert.Error(t, s.Validate())
}

func TestValidateRejectsBadRepositoryURL(t *testing.T) {
	s := newTestSession("abc")
	s.Repository = &Repository{URL: "git@github.com:foo/bar.git"}
	assert.Error(t, s.Validate())
}

func TestAddClonedRepoIsIdempotent(t *testing.T) {
	s := newTestSession("abc")
	s.AddClonedRepo("https://github.com/a/b")
	s.AddClonedRepo("https://github.com/a/b")
	s.AddClonedRepo("https://github.com/c/d")
	assert.Equal(t, []string{"https://github.com/a/b", "https://github.com/c/d"}, s.ClonedRepos)
}

func TestPutGetSessionRoundTrip(t *testing.T) {
	store := New(memory.New())
	ctx := context.Background()

	s := newTestSession("my-session")
	require.NoError(t, store.PutSession(ctx, s))

	got, err := store.GetSession(ctx, "my-session")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.SessionID, got.SessionID)
	assert.Equal(t, s.Status, got.Status)
}

func TestGetSessionMissingReturnsNilNil(t *testing.T) {
	store := New(memory.New())
	got, err := store.GetSession(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TestPutSessionUpsertsIndexConsistently is grounded on §8's index
// consistency property (invariant 1): after putSession, the index entry's
// status/createdAt/lastActivity exactly match the record.
func TestPutSessionUpsertsIndexConsistently(t *testing.T) {
	store := New(memory.New())
	ctx := context.Background()

	s := newTestSession("s1")
	s.Status = StatusActive
	s.LastActivity = 4242
	require.NoError(t, store.PutSession(ctx, s))

	res, err := store.ListSessions(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	entry := res.Entries[0]
	assert.Equal(t, s.SessionID, entry.SessionID)
	assert.Equal(t, s.Status, entry.Status)
	assert.Equal(t, s.CreatedAt, entry.CreatedAt)
	assert.Equal(t, s.LastActivity, entry.LastActivity)
}

func TestListSessionsSortedDescendingByLastActivity(t *testing.T) {
	store := New(memory.New())
	ctx := context.Background()

	older := newTestSession("older")
	older.LastActivity = 100
	newer := newTestSession("newer")
	newer.LastActivity = 200

	require.NoError(t, store.PutSession(ctx, older))
	require.NoError(t, store.PutSession(ctx, newer))

	res, err := store.ListSessions(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "newer", res.Entries[0].SessionID)
	assert.Equal(t, "older", res.Entries[1].SessionID)
}

func TestListSessionsPagination(t *testing.T) {
	store := New(memory.New())
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		s := newTestSession(id)
		s.LastActivity = int64(i)
		require.NoError(t, store.PutSession(ctx, s))
	}

	res, err := store.ListSessions(ctx, ListOptions{Limit: 2, Offset: 0})
	require.NoError(t, err)
	assert.Len(t, res.Entries, 2)
	assert.Equal(t, 3, res.Total)

	res2, err := store.ListSessions(ctx, ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, res2.Entries, 1)
}

func TestDeleteSessionRemovesRecordAndIndexEntry(t *testing.T) {
	store := New(memory.New())
	ctx := context.Background()

	s := newTestSession("doomed")
	require.NoError(t, store.PutSession(ctx, s))
	require.NoError(t, store.DeleteSession(ctx, "doomed"))

	got, err := store.GetSession(ctx, "doomed")
	require.NoError(t, err)
	assert.Nil(t, got)

	res, err := store.ListSessions(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
}

// TestConcurrentPutSessionsConverge is grounded on §8's conditional-write
// convergence property applied to the index update protocol: concurrent
// putSession calls for distinct sessions must all land in the index despite
// contending on the same _index.json object.
func TestConcurrentPutSessionsConverge(t *testing.T) {
	store := New(memory.New())
	ctx := context.Background()
	const n = 12

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%02d", i)
			require.NoError(t, store.PutSession(ctx, newTestSession(id)))
		}(i)
	}
	wg.Wait()

	res, err := store.ListSessions(ctx, ListOptions{Limit: n})
	require.NoError(t, err)
	assert.Equal(t, n, res.Total)
}

