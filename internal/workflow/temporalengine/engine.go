// Package temporalengine adapts internal/workflow.Engine onto
// go.temporal.io/sdk, grounded on goadesign-goa-ai's
// runtime/agent/engine/temporal.Engine: a single task queue's worker,
// workflows registered by name via RegisterWorkflowWithOptions, and each
// named step registered as a Temporal Activity via
// RegisterActivityWithOptions — the reason internal/workflow.Engine
// requires steps to be pre-registered handlers rather than inline
// closures is exactly so this mapping is possible: Temporal schedules
// activities by name against a worker that was told about them before the
// workflow ever ran.
//
// Unlike the teacher's per-task-queue worker bundle map (built for
// multi-queue chat-agent deployments), this adapter runs a single worker
// on one task queue, since the task-execution workflow has no need to
// fan work out across queues.
package temporalengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	temporalworkflow "go.temporal.io/sdk/workflow"

	"github.com/mattzcarey/sandbox-mcp/internal/workflow"
)

// defaultActivityStartToCloseTimeout bounds a single step's execution when
// Options.ActivityStartToCloseTimeout is left zero, matching the teacher's
// own activityOptionsFor fallback (runtime/agent/engine/temporal's
// one-minute default).
const defaultActivityStartToCloseTimeout = time.Minute

// Options configures the Temporal engine adapter.
type Options struct {
	// Client is a pre-configured Temporal client. Required.
	Client client.Client

	// TaskQueue is the queue the engine's single worker polls. Required.
	TaskQueue string

	// WorkerOptions is forwarded to worker.New.
	WorkerOptions worker.Options

	// DisableWorkerAutoStart disables automatically starting the worker on
	// first StartWorkflow call; callers must call Start() themselves.
	DisableWorkerAutoStart bool

	// ActivityStartToCloseTimeout bounds each step activity's execution.
	// Defaults to defaultActivityStartToCloseTimeout when zero.
	ActivityStartToCloseTimeout time.Duration

	// ActivityRetryPolicy is applied to every step activity. Defaults to
	// the Temporal SDK's own ActivityOptions zero value (server defaults)
	// when nil.
	ActivityRetryPolicy *temporal.RetryPolicy
}

// Engine implements workflow.Engine using Temporal as the durable execution
// backend.
type Engine struct {
	client    client.Client
	taskQueue string
	worker    worker.Worker

	activityOptions temporalworkflow.ActivityOptions

	mu                sync.Mutex
	started           bool
	autoStartDisabled bool
	workflowNames     map[string]struct{}
	stepNames         map[string]struct{}
}

// New constructs a Temporal-backed Engine. The returned Engine's worker is
// not started until the first StartWorkflow call (or Start, if
// DisableWorkerAutoStart is set).
func New(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("temporalengine: client is required")
	}
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporalengine: task queue is required")
	}
	timeout := opts.ActivityStartToCloseTimeout
	if timeout <= 0 {
		timeout = defaultActivityStartToCloseTimeout
	}
	return &Engine{
		client:    opts.Client,
		taskQueue: opts.TaskQueue,
		worker:    worker.New(opts.Client, opts.TaskQueue, opts.WorkerOptions),
		activityOptions: temporalworkflow.ActivityOptions{
			StartToCloseTimeout: timeout,
			RetryPolicy:         opts.ActivityRetryPolicy,
		},
		autoStartDisabled: opts.DisableWorkerAutoStart,
		workflowNames:     make(map[string]struct{}),
		stepNames:         make(map[string]struct{}),
	}, nil
}

// RegisterWorkflow registers fn as a Temporal workflow under name.
func (e *Engine) RegisterWorkflow(name string, fn workflow.WorkflowFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("temporalengine: invalid workflow registration")
	}
	e.mu.Lock()
	if _, dup := e.workflowNames[name]; dup {
		e.mu.Unlock()
		return fmt.Errorf("temporalengine: workflow %q already registered", name)
	}
	e.workflowNames[name] = struct{}{}
	e.mu.Unlock()

	e.worker.RegisterWorkflowWithOptions(
		func(tctx temporalworkflow.Context, input []byte) ([]byte, error) {
			sctx := &stepContext{tctx: tctx, activityOptions: e.activityOptions}
			return fn(sctx, input)
		},
		temporalworkflow.RegisterOptions{Name: name},
	)
	return nil
}

// RegisterStep registers fn as a Temporal activity under name, so workflow
// code can reach it via StepContext.Step(name, input).
func (e *Engine) RegisterStep(name string, fn workflow.StepHandler) error {
	if name == "" || fn == nil {
		return fmt.Errorf("temporalengine: invalid step registration")
	}
	e.mu.Lock()
	if _, dup := e.stepNames[name]; dup {
		e.mu.Unlock()
		return fmt.Errorf("temporalengine: step %q already registered", name)
	}
	e.stepNames[name] = struct{}{}
	e.mu.Unlock()

	e.worker.RegisterActivityWithOptions(
		func(ctx context.Context, input []byte) ([]byte, error) { return fn(ctx, input) },
		activity.RegisterOptions{Name: name},
	)
	return nil
}

// StartWorkflow launches a workflow execution via the Temporal client.
func (e *Engine) StartWorkflow(ctx context.Context, req workflow.StartRequest) (workflow.Handle, error) {
	if req.Workflow == "" {
		return nil, fmt.Errorf("temporalengine: workflow name is required")
	}
	if !e.autoStartDisabled {
		if err := e.Start(); err != nil {
			return nil, err
		}
	}

	run, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        req.ID,
		TaskQueue: e.taskQueue,
	}, req.Workflow, req.Input)
	if err != nil {
		return nil, fmt.Errorf("temporalengine: start workflow %q: %w", req.Workflow, err)
	}
	return &handle{run: run}, nil
}

// QueryRunStatus maps a Temporal workflow execution's status onto
// workflow.RunStatus.
func (e *Engine) QueryRunStatus(ctx context.Context, runID string) (workflow.RunStatus, error) {
	desc, err := e.client.DescribeWorkflowExecution(ctx, runID, "")
	if err != nil {
		return "", fmt.Errorf("%w: %s", workflow.ErrWorkflowNotFound, err)
	}
	status := desc.GetWorkflowExecutionInfo().GetStatus()
	switch status.String() {
	case "WORKFLOW_EXECUTION_STATUS_COMPLETED":
		return workflow.StatusCompleted, nil
	case "WORKFLOW_EXECUTION_STATUS_FAILED", "WORKFLOW_EXECUTION_STATUS_TERMINATED", "WORKFLOW_EXECUTION_STATUS_TIMED_OUT":
		return workflow.StatusFailed, nil
	default:
		return workflow.StatusRunning, nil
	}
}

// Start launches the engine's worker, if not already running. Safe to call
// more than once.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	if err := e.worker.Start(); err != nil {
		return fmt.Errorf("temporalengine: start worker: %w", err)
	}
	e.started = true
	return nil
}

// Stop shuts down the engine's worker.
func (e *Engine) Stop() {
	e.worker.Stop()
}

// handle adapts a Temporal client.WorkflowRun onto workflow.Handle.
type handle struct {
	run client.WorkflowRun
}

func (h *handle) Wait(ctx context.Context) ([]byte, error) {
	var out []byte
	if err := h.run.Get(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// stepContext adapts a Temporal workflow.Context onto workflow.StepContext,
// running each named step as an activity call.
type stepContext struct {
	tctx            temporalworkflow.Context
	activityOptions temporalworkflow.ActivityOptions
}

func (s *stepContext) Context() context.Context {
	// Workflow code must never perform real I/O directly; this exists only
	// so non-Temporal callers of StepContext compile against one interface.
	// Activities (registered via RegisterStep) receive the real
	// context.Context Temporal threads to them independently of this method.
	return context.Background()
}

func (s *stepContext) WorkflowID() string {
	return temporalworkflow.GetInfo(s.tctx).WorkflowExecution.ID
}

func (s *stepContext) Step(name string, input []byte) ([]byte, error) {
	actx := temporalworkflow.WithActivityOptions(s.tctx, s.activityOptions)
	var out []byte
	err := temporalworkflow.ExecuteActivity(actx, name, input).Get(actx, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}
