package taskworkflow

import (
	"context"
	"fmt"

	"github.com/mattzcarey/sandbox-mcp/internal/agentio"
	"github.com/mattzcarey/sandbox-mcp/internal/backup"
	"github.com/mattzcarey/sandbox-mcp/internal/run"
	"github.com/mattzcarey/sandbox-mcp/internal/sandbox"
)

// --- create-run -------------------------------------------------------

type createRunInput struct {
	RunID     string
	SessionID string
	Title     string
	Task      string
	Model     string
}

type createRunOutput struct{}

// createRun writes the run record with status=started (§4.3 step 1).
// Idempotent: PutRun overwrites the same key on replay with the same
// content.
func (d Dependencies) createRun(ctx context.Context, in createRunInput) (createRunOutput, error) {
	r := &run.Run{
		RunID:     in.RunID,
		SessionID: in.SessionID,
		Status:    run.StatusStarted,
		Task:      in.Task,
		Title:     in.Title,
		Model:     in.Model,
		StartedAt: nowMillis(),
	}
	if err := d.Runs.PutRun(ctx, r); err != nil {
		return createRunOutput{}, wrapStorage(err)
	}
	return createRunOutput{}, nil
}

// --- prepare-sandbox ---------------------------------------------------

type prepareSandboxInput struct {
	SandboxID         string
	SessionID         string
	ContainerProxyURL string
	ProxyToken        string
	RepositoryURL     string
	Branch            string
}

// prepareSandbox obtains a fresh sandbox.Handle and runs the idempotent
// preparation sequence (§4.3 step 2). A fresh Handle is required every
// call: the workflow engine cannot serialize a live RPC stub across step
// boundaries.
func (d Dependencies) prepareSandbox(ctx context.Context, in prepareSandboxInput) (sandbox.PrepareResult, error) {
	h, err := d.Sandboxes.Handle(ctx, in.SandboxID)
	if err != nil {
		return sandbox.PrepareResult{}, wrapStorage(fmt.Errorf("acquire sandbox handle: %w", err))
	}
	result, err := sandbox.EnsureSandboxReady(ctx, h, d.Objects, sandbox.PrepareParams{
		SessionID:         in.SessionID,
		ContainerProxyURL: in.ContainerProxyURL,
		ProxyToken:        in.ProxyToken,
		RepositoryURL:     in.RepositoryURL,
		Branch:            in.Branch,
		GitUserEmail:      gitUserEmail,
		GitUserName:       gitUserName,
	})
	if err != nil {
		return sandbox.PrepareResult{}, wrapStorage(err)
	}
	return result, nil
}

// --- execute-task --------------------------------------------------------

type executeTaskInput struct {
	SandboxID                 string
	WorkspacePath             string
	Task                      string
	Model                     string
	ContainerProxyURL         string
	ProxyToken                string
	ExistingOpencodeSessionID string
}

// executeTask obtains a fresh sandbox.Handle and drives the coding-agent
// subprocess (§4.3 step 3). Per spec, this step never fails the workflow:
// agentio.ExecuteTask always returns a TaskOutput, capturing any failure
// into {success:false, error}. A handle-acquisition failure is the one
// case this step itself cannot recover from, since there is no sandbox to
// run anything in.
func (d Dependencies) executeTask(ctx context.Context, in executeTaskInput) (agentio.TaskOutput, error) {
	h, err := d.Sandboxes.Handle(ctx, in.SandboxID)
	if err != nil {
		return agentio.TaskOutput{}, wrapStorage(fmt.Errorf("acquire sandbox handle: %w", err))
	}
	out := agentio.ExecuteTask(ctx, h, d.NewAgentClient, agentio.TaskInput{
		WorkspacePath:             in.WorkspacePath,
		Task:                      in.Task,
		Model:                     in.Model,
		ContainerProxyURL:         in.ContainerProxyURL,
		ProxyToken:                in.ProxyToken,
		ExistingOpencodeSessionID: in.ExistingOpencodeSessionID,
	})
	return out, nil
}

// --- complete-run --------------------------------------------------------

type completeRunInput struct {
	RunID             string
	SessionID         string
	Success           bool
	Output            string
	Error             string
	Title             string
	OpencodeSessionID string
	WorkspacePath     string
}

// completeRun transitions the run to its terminal state and best-effort
// updates the session (§4.3 step 4). A missing session is logged and
// otherwise ignored — it must never fail the workflow.
func (d Dependencies) completeRun(ctx context.Context, in completeRunInput) (struct{}, error) {
	if _, err := d.Runs.CompleteRun(ctx, in.RunID, run.CompleteParams{
		Success: in.Success,
		Output:  in.Output,
		Error:   in.Error,
		Title:   in.Title,
	}); err != nil {
		return struct{}{}, wrapStorage(err)
	}

	sess, err := d.Sessions.GetSession(ctx, in.SessionID)
	if err != nil {
		return struct{}{}, wrapStorage(err)
	}
	if sess == nil {
		d.Logger.Warn(ctx, "complete-run: session vanished, skipping session update", "sessionId", in.SessionID, "runId", in.RunID)
		return struct{}{}, nil
	}
	sess.OpencodeSessionID = in.OpencodeSessionID
	sess.WorkspacePath = in.WorkspacePath
	sess.LastActivity = nowMillis()
	if err := d.Sessions.PutSession(ctx, sess); err != nil {
		return struct{}{}, wrapStorage(err)
	}
	return struct{}{}, nil
}

// --- backup-session --------------------------------------------------------

type backupSessionInput struct {
	SandboxID string
	SessionID string
}

type backupSessionOutput struct {
	Archived bool
}

// backupSession archives the agent's state directory (§4.3 step 5). All
// errors are swallowed here — backup is advisory, never causal to run
// success — and logged instead of propagated, since this is the last step
// and the workflow must complete regardless of its outcome.
func (d Dependencies) backupSession(ctx context.Context, in backupSessionInput) (backupSessionOutput, error) {
	h, err := d.Sandboxes.Handle(ctx, in.SandboxID)
	if err != nil {
		d.Logger.Warn(ctx, "backup-session: failed to acquire sandbox handle", "sessionId", in.SessionID, "error", err.Error())
		return backupSessionOutput{}, nil
	}
	result, err := backup.Backup(ctx, h, d.Objects, in.SessionID)
	if err != nil {
		d.Logger.Warn(ctx, "backup-session: backup failed", "sessionId", in.SessionID, "error", err.Error())
		return backupSessionOutput{}, nil
	}
	return backupSessionOutput{Archived: result.Archived}, nil
}
