package taskworkflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattzcarey/sandbox-mcp/internal/agentio"
	"github.com/mattzcarey/sandbox-mcp/internal/objectstore/memory"
	"github.com/mattzcarey/sandbox-mcp/internal/run"
	"github.com/mattzcarey/sandbox-mcp/internal/sandbox"
	"github.com/mattzcarey/sandbox-mcp/internal/session"
	"github.com/mattzcarey/sandbox-mcp/internal/workflow"
	"github.com/mattzcarey/sandbox-mcp/internal/workflow/inmem"
)

func newTestDeps(t *testing.T, client agentio.AgentClient) (Dependencies, *run.Store, *session.Store, *sandbox.FakeAdapter) {
	t.Helper()
	objects := memory.New()
	runs := run.New(objects)
	sessions := session.New(objects)
	adapter := sandbox.NewFakeAdapter()

	deps := Dependencies{
		Sessions:  sessions,
		Runs:      runs,
		Sandboxes: adapter,
		Objects:   objects,
		NewAgentClient: func(string) agentio.AgentClient { return client },
	}
	return deps, runs, sessions, adapter
}

func seedSession(t *testing.T, sessions *session.Store, id string) {
	t.Helper()
	require.NoError(t, sessions.PutSession(context.Background(), &session.Session{
		SessionID:     id,
		SandboxID:     id,
		Status:        session.StatusActive,
		WorkspacePath: "/workspace",
		Config:        session.Config{DefaultModel: "claude-x"},
	}))
}

func TestTaskWorkflowSucceedsEndToEnd(t *testing.T) {
	client := &agentio.FakeClient{
		SendResult: agentio.SendResult{Parts: []agentio.MessagePart{{Type: "text", Text: "done"}}},
	}
	deps, runs, sessions, _ := newTestDeps(t, client)
	seedSession(t, sessions, "sess-1")

	eng := inmem.New()
	require.NoError(t, Register(eng, deps))

	params := TaskParams{
		SessionID:    "sess-1",
		SandboxID:    "sess-1",
		Task:         "fix the bug",
		Model:        "claude-x",
		RunID:        "run-1",
		Title:        "fix",
		ProxyToken:   "tok",
		ProxyBaseURL: "https://proxy.local",
	}
	input, err := encodeJSON(&params)
	require.NoError(t, err)

	h, err := eng.StartWorkflow(context.Background(), workflow.StartRequest{
		ID:       "run-1",
		Workflow: WorkflowName,
		Input:    input,
	})
	require.NoError(t, err)

	out, err := h.Wait(context.Background())
	require.NoError(t, err)

	var result TaskResult
	require.NoError(t, decodeJSON(out, &result))
	assert.True(t, result.Success)
	assert.Equal(t, "done", result.Output)

	r, err := runs.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, run.StatusCompleted, r.Status)

	sess, err := sessions.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "/workspace", sess.WorkspacePath)
}

func TestTaskWorkflowFailureStillCompletesRun(t *testing.T) {
	client := &agentio.FakeClient{FailSendMessage: assertErr{"agent exploded"}}
	deps, runs, sessions, _ := newTestDeps(t, client)
	seedSession(t, sessions, "sess-2")

	eng := inmem.New()
	require.NoError(t, Register(eng, deps))

	params := TaskParams{
		SessionID:    "sess-2",
		SandboxID:    "sess-2",
		Task:         "do a thing",
		Model:        "claude-x",
		RunID:        "run-2",
		ProxyToken:   "tok",
		ProxyBaseURL: "https://proxy.local",
	}
	input, err := encodeJSON(&params)
	require.NoError(t, err)

	h, err := eng.StartWorkflow(context.Background(), workflow.StartRequest{
		ID:       "run-2",
		Workflow: WorkflowName,
		Input:    input,
	})
	require.NoError(t, err)

	out, err := h.Wait(context.Background())
	require.NoError(t, err)

	var result TaskResult
	require.NoError(t, decodeJSON(out, &result))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "agent exploded")

	r, err := runs.GetRun(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, r.Status)
}

func TestTaskWorkflowSurvivesMissingSessionAtCompleteRun(t *testing.T) {
	client := &agentio.FakeClient{
		SendResult: agentio.SendResult{Parts: []agentio.MessagePart{{Type: "text", Text: "ok"}}},
	}
	deps, runs, _, _ := newTestDeps(t, client)
	// No session seeded: complete-run must log and continue, not fail.

	eng := inmem.New()
	require.NoError(t, Register(eng, deps))

	params := TaskParams{
		SessionID:    "ghost",
		SandboxID:    "ghost",
		Task:         "x",
		Model:        "claude-x",
		RunID:        "run-3",
		ProxyToken:   "tok",
		ProxyBaseURL: "https://proxy.local",
	}
	input, err := encodeJSON(&params)
	require.NoError(t, err)

	h, err := eng.StartWorkflow(context.Background(), workflow.StartRequest{
		ID:       "run-3",
		Workflow: WorkflowName,
		Input:    input,
	})
	require.NoError(t, err)

	_, err = h.Wait(context.Background())
	require.NoError(t, err)

	r, err := runs.GetRun(context.Background(), "run-3")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, r.Status)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
