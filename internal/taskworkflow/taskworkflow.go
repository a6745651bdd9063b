// Package taskworkflow wires the task-execution workflow (§4.3, component
// I/F/G/H) onto internal/workflow: five named, pre-registered steps
// (create-run, prepare-sandbox, execute-task, complete-run,
// backup-session) run in strict order against a fresh sandbox.Handle per
// step, since the workflow engine cannot carry a live RPC stub across step
// boundaries (§4.3 step 2).
package taskworkflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mattzcarey/sandbox-mcp/internal/agentio"
	"github.com/mattzcarey/sandbox-mcp/internal/ctlerrors"
	"github.com/mattzcarey/sandbox-mcp/internal/objectstore"
	"github.com/mattzcarey/sandbox-mcp/internal/run"
	"github.com/mattzcarey/sandbox-mcp/internal/sandbox"
	"github.com/mattzcarey/sandbox-mcp/internal/session"
	"github.com/mattzcarey/sandbox-mcp/internal/telemetry"
	"github.com/mattzcarey/sandbox-mcp/internal/workflow"
)

// WorkflowName is the name task-execution workflow is registered under.
const WorkflowName = "task-execution"

// Step names, each registered independently so a durable engine (Temporal)
// can schedule them as real activities (internal/workflow's package doc).
const (
	stepCreateRun      = "create-run"
	stepPrepareSandbox = "prepare-sandbox"
	stepExecuteTask    = "execute-task"
	stepCompleteRun    = "complete-run"
	stepBackupSession  = "backup-session"
)

// gitUserEmail/gitUserName identify commits the agent makes inside a
// sandbox. The spec names the git-config step but not a concrete identity;
// this control plane always commits as the sandbox agent itself (Open
// Question decision, recorded in DESIGN.md).
const (
	gitUserEmail = "sandbox-agent@users.noreply.github.com"
	gitUserName  = "sandbox-agent"
)

// TaskParams is the workflow's input (§4.3).
type TaskParams struct {
	SessionID                 string `json:"sessionId"`
	SandboxID                 string `json:"sandboxId"`
	Task                      string `json:"task"`
	Model                     string `json:"model"`
	RunID                     string `json:"runId"`
	Title                     string `json:"title"`
	RepositoryURL             string `json:"repositoryUrl,omitempty"`
	Branch                    string `json:"branch,omitempty"`
	ProxyToken                string `json:"proxyToken"`
	ProxyBaseURL              string `json:"proxyBaseUrl"`
	ExistingOpencodeSessionID string `json:"existingOpencodeSessionId,omitempty"`
}

// TaskResult is the workflow's output (§4.3).
type TaskResult struct {
	Success           bool               `json:"success"`
	Output            string             `json:"output,omitempty"`
	Error             string             `json:"error,omitempty"`
	Title             string             `json:"title,omitempty"`
	OpencodeSessionID string             `json:"opencodeSessionId,omitempty"`
	WorkspacePath     string             `json:"workspacePath,omitempty"`
	Tokens            agentio.TokenUsage `json:"tokens,omitempty"`
}

// Dependencies are the collaborators the workflow's steps drive. None of
// these may be retained across step boundaries except by re-derivation
// (Sandboxes.Handle is called fresh in both prepare-sandbox and
// execute-task and backup-session).
type Dependencies struct {
	Sessions       *session.Store
	Runs           *run.Store
	Sandboxes      sandbox.Adapter
	Objects        objectstore.Store
	NewAgentClient func(baseURL string) agentio.AgentClient
	Logger         telemetry.Logger
}

// Register registers the task-execution workflow and all five of its steps
// on eng.
func Register(eng workflow.Engine, deps Dependencies) error {
	if deps.Logger == nil {
		deps.Logger = telemetry.NewNoopLogger()
	}

	if err := workflow.RegisterTypedStep(eng, stepCreateRun, deps.createRun); err != nil {
		return err
	}
	if err := workflow.RegisterTypedStep(eng, stepPrepareSandbox, deps.prepareSandbox); err != nil {
		return err
	}
	if err := workflow.RegisterTypedStep(eng, stepExecuteTask, deps.executeTask); err != nil {
		return err
	}
	if err := workflow.RegisterTypedStep(eng, stepCompleteRun, deps.completeRun); err != nil {
		return err
	}
	if err := workflow.RegisterTypedStep(eng, stepBackupSession, deps.backupSession); err != nil {
		return err
	}

	return eng.RegisterWorkflow(WorkflowName, runTaskWorkflow)
}

// runTaskWorkflow is the workflow function: it only ever refers to steps by
// name plus a typed input/output, exactly the boundary internal/workflow
// requires for durability.
func runTaskWorkflow(ctx workflow.StepContext, input []byte) ([]byte, error) {
	var params TaskParams
	if err := decodeJSON(input, &params); err != nil {
		return nil, fmt.Errorf("taskworkflow: decode input: %w", err)
	}

	if _, err := workflow.Step[createRunInput, createRunOutput](ctx, stepCreateRun, createRunInput{
		RunID:     params.RunID,
		SessionID: params.SessionID,
		Title:     params.Title,
		Task:      params.Task,
		Model:     params.Model,
	}); err != nil {
		return nil, err
	}

	prep, err := workflow.Step[prepareSandboxInput, sandbox.PrepareResult](ctx, stepPrepareSandbox, prepareSandboxInput{
		SandboxID:         params.SandboxID,
		SessionID:         params.SessionID,
		ContainerProxyURL: params.ProxyBaseURL,
		ProxyToken:        params.ProxyToken,
		RepositoryURL:     params.RepositoryURL,
		Branch:            params.Branch,
	})
	if err != nil {
		return nil, err
	}

	exec, err := workflow.Step[executeTaskInput, agentio.TaskOutput](ctx, stepExecuteTask, executeTaskInput{
		SandboxID:                 params.SandboxID,
		WorkspacePath:             prep.WorkspacePath,
		Task:                      params.Task,
		Model:                     params.Model,
		ContainerProxyURL:         params.ProxyBaseURL,
		ProxyToken:                params.ProxyToken,
		ExistingOpencodeSessionID: params.ExistingOpencodeSessionID,
	})
	if err != nil {
		// execute-task never returns an error from its handler (it captures
		// failures into its own output per §4.3 step 3's "on any exception"
		// clause); an error here means the step call itself failed to run
		// (e.g. marshal failure), which complete-run cannot recover from.
		return nil, err
	}

	if _, err := workflow.Step[completeRunInput, struct{}](ctx, stepCompleteRun, completeRunInput{
		RunID:             params.RunID,
		SessionID:         params.SessionID,
		Success:           exec.Success,
		Output:            exec.Output,
		Error:             exec.Error,
		Title:             params.Title,
		OpencodeSessionID: exec.OpencodeSessionID,
		WorkspacePath:     prep.WorkspacePath,
	}); err != nil {
		return nil, err
	}

	// backup-session never fails the workflow: its handler swallows its own
	// errors (§4.3 step 5, "advisory, never causal to run success").
	_, _ = workflow.Step[backupSessionInput, backupSessionOutput](ctx, stepBackupSession, backupSessionInput{
		SandboxID: params.SandboxID,
		SessionID: params.SessionID,
	})

	result := TaskResult{
		Success:           exec.Success,
		Output:            exec.Output,
		Error:             exec.Error,
		Title:             params.Title,
		OpencodeSessionID: exec.OpencodeSessionID,
		WorkspacePath:     prep.WorkspacePath,
		Tokens:            exec.Tokens,
	}
	return encodeJSON(&result)
}

func wrapStorage(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := ctlerrors.As(err); ok {
		return err
	}
	return ctlerrors.Wrap(ctlerrors.KindWorkflow, "WORKFLOW_STEP_ERROR", err.Error(), err)
}

func decodeJSON(data []byte, v any) error { return json.Unmarshal(data, v) }

func encodeJSON(v any) ([]byte, error) { return json.Marshal(v) }

// nowFunc is overridable in tests.
var nowFunc = func() int64 { return time.Now().UnixMilli() }

func nowMillis() int64 { return nowFunc() }
