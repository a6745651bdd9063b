package run

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattzcarey/sandbox-mcp/internal/objectstore/memory"
)

func TestSweepReclaimsStaleStartedRuns(t *testing.T) {
	objects := memory.New()
	store := New(objects)

	restore := stubNow(1_000_000)
	defer restore()

	require.NoError(t, store.PutRun(context.Background(), &Run{
		RunID:     "stale-1",
		SessionID: "sess-1",
		Status:    StatusStarted,
		StartedAt: 0,
	}))
	require.NoError(t, store.PutRun(context.Background(), &Run{
		RunID:     "fresh-1",
		SessionID: "sess-1",
		Status:    StatusStarted,
		StartedAt: 999_800,
	}))

	sweeper := NewSweeper(store, time.Minute, 500*time.Millisecond, nil)
	require.NoError(t, sweeper.Sweep(context.Background()))

	stale, err := store.GetRun(context.Background(), "stale-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stale.Status)
	assert.Equal(t, staleErrorMessage, stale.Result.Error)

	fresh, err := store.GetRun(context.Background(), "fresh-1")
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, fresh.Status)
}

func TestSweepLeavesTerminalRunsAlone(t *testing.T) {
	objects := memory.New()
	store := New(objects)

	restore := stubNow(1_000_000)
	defer restore()

	require.NoError(t, store.PutRun(context.Background(), &Run{
		RunID:     "done-1",
		SessionID: "sess-1",
		Status:    StatusCompleted,
		StartedAt: 0,
	}))

	sweeper := NewSweeper(store, time.Minute, time.Millisecond, nil)
	require.NoError(t, sweeper.Sweep(context.Background()))

	r, err := store.GetRun(context.Background(), "done-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, r.Status)
}

func stubNow(ms int64) func() {
	prev := nowFunc
	nowFunc = func() int64 { return ms }
	return func() { nowFunc = prev }
}
