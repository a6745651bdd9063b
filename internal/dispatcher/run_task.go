package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mattzcarey/sandbox-mcp/internal/idgen"
	"github.com/mattzcarey/sandbox-mcp/internal/session"
	"github.com/mattzcarey/sandbox-mcp/internal/taskworkflow"
	"github.com/mattzcarey/sandbox-mcp/internal/token"
	"github.com/mattzcarey/sandbox-mcp/internal/workflow"
)

// RunTaskParams is the validated input to run_task (§4.4).
type RunTaskParams struct {
	Task       string `json:"task"`
	SessionID  string `json:"sessionId,omitempty"`
	Repository string `json:"repository,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Model      string `json:"model,omitempty"`
	Title      string `json:"title,omitempty"`
}

// RunTaskResult is run_task's response (§4.4 step 7).
type RunTaskResult struct {
	RunID     string `json:"runId"`
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	WebUIURL  string `json:"webUiUrl"`
}

// runTask implements §4.4's run_task steps 1-7.
func (d *Dispatcher) runTask(ctx context.Context, params RunTaskParams) (RunTaskResult, error) {
	now := nowFunc().UnixMilli()

	var sess *session.Session
	if params.SessionID != "" {
		existing, err := d.deps.Sessions.GetSession(ctx, params.SessionID)
		if err != nil {
			return RunTaskResult{}, err
		}
		if existing == nil {
			return RunTaskResult{}, sessionNotFoundError(params.SessionID)
		}
		sess = existing
	} else {
		id := idgen.NewSessionID()
		sess = &session.Session{
			SessionID:     id,
			SandboxID:     id,
			CreatedAt:     now,
			LastActivity:  now,
			Status:        session.StatusActive,
			WorkspacePath: "/workspace",
			WebUIURL:      fmt.Sprintf("%s/session/%s/", d.cfg.BaseURL, id),
			Config:        session.Config{DefaultModel: d.cfg.DefaultModel},
		}
		if params.Repository != "" {
			sess.ClonedRepos = []string{params.Repository}
		}
		if err := d.deps.Sessions.PutSession(ctx, sess); err != nil {
			return RunTaskResult{}, err
		}
	}

	if params.Repository != "" {
		sess.AddClonedRepo(params.Repository)
	}

	runID := idgen.NewRunID()
	model := params.Model
	if model == "" {
		model = sess.Config.DefaultModel
	}

	proxyToken, err := token.Create(token.CreateParams{
		Secret:    d.cfg.TokenSecret,
		SandboxID: sess.SandboxID,
		SessionID: sess.SessionID,
		ExpiresIn: "2h",
	})
	if err != nil {
		return RunTaskResult{}, fmt.Errorf("dispatcher: mint proxy token: %w", err)
	}

	taskParams := taskworkflow.TaskParams{
		SessionID:     sess.SessionID,
		SandboxID:     sess.SandboxID,
		Task:          params.Task,
		Model:         model,
		RunID:         runID,
		Title:         params.Title,
		RepositoryURL: params.Repository,
		Branch:        params.Branch,
		ProxyToken:    proxyToken,
		ProxyBaseURL:  d.cfg.ContainerProxyURL,
	}
	input, err := json.Marshal(&taskParams)
	if err != nil {
		return RunTaskResult{}, fmt.Errorf("dispatcher: encode task params: %w", err)
	}

	if _, err := d.deps.Engine.StartWorkflow(ctx, workflow.StartRequest{
		ID:       runID,
		Workflow: taskworkflow.WorkflowName,
		Input:    input,
	}); err != nil {
		return RunTaskResult{}, fmt.Errorf("dispatcher: start workflow: %w", err)
	}

	sess.LastActivity = nowFunc().UnixMilli()
	if err := d.deps.Sessions.PutSession(ctx, sess); err != nil {
		return RunTaskResult{}, err
	}

	return RunTaskResult{
		RunID:     runID,
		SessionID: sess.SessionID,
		Status:    "started",
		WebUIURL:  sess.WebUIURL,
	}, nil
}
