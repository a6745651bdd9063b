// Package workflow defines the durable, step-addressable workflow engine
// abstraction (§4.3, component I). The task-execution workflow built on top
// of it lives in internal/taskworkflow.
//
// Engine is grounded on goadesign-goa-ai's runtime/agent/engine.Engine,
// trimmed to the methods this spec actually needs
// (RegisterWorkflow/RegisterStep/StartWorkflow/QueryRunStatus) — the
// teacher's signal/pause/clarification/child-workflow machinery exists to
// support interactive, resumable chat agents, which has no counterpart in
// a five-step, non-interactive task run.
//
// Steps are registered ahead of time by name, the same way the teacher
// separates RegisterWorkflow (the deterministic handler) from
// RegisterExecuteToolActivity (the actual I/O-performing function): a
// workflow function only ever refers to a step by name plus a JSON input,
// never an inline closure, because a durable engine (Temporal) must be able
// to schedule that step as a real activity, not a closure conjured at
// workflow-execution time. StepContext.Step is the concrete shape of
// "durable, step-addressable state machine, memoized per step, skipped on
// replay": inputs/outputs are JSON bytes at the engine boundary, mirroring
// how the teacher's temporal/data_converter.go treats workflow payloads as
// bytes rather than typed Go values.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// RunStatus mirrors engine.RunStatus, trimmed to the states this spec's
// single workflow can reach (no pause/cancel).
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// ErrWorkflowNotFound mirrors engine.ErrWorkflowNotFound.
var ErrWorkflowNotFound = errors.New("workflow: not found")

// ErrNotRegistered is returned by StartWorkflow for an unregistered workflow
// name, or by Step for an unregistered step name.
var ErrNotRegistered = errors.New("workflow: not registered")

// StepHandler is the real, I/O-performing implementation of one named step.
// Registered once per process via Engine.RegisterStep, the same way the
// teacher registers ExecuteToolActivity handlers independently of the
// workflow function that calls them.
type StepHandler func(ctx context.Context, input []byte) ([]byte, error)

// WorkflowFunc is a registered workflow's entry point. Input/output are
// JSON-encoded so Engine implementations never need to know the task
// workflow's concrete Go types.
type WorkflowFunc func(ctx StepContext, input []byte) ([]byte, error)

// StepContext is what a WorkflowFunc uses to run its named, pre-registered
// steps.
type StepContext interface {
	// Context returns the underlying Go context for I/O within a step.
	Context() context.Context

	// WorkflowID returns the unique identifier for this execution (= runId
	// for the task workflow).
	WorkflowID() string

	// Step invokes the step registered under name with input, exactly once
	// per workflow execution. A re-entrant call to Step with the same name
	// on a replay (Temporal) or a second call in the same process (inmem,
	// which never replays) returns the first call's recorded output without
	// invoking the handler again.
	Step(name string, input []byte) ([]byte, error)
}

// Handle represents a started workflow execution.
type Handle interface {
	// Wait blocks until the workflow completes and returns its JSON-encoded
	// output, or the error it failed with.
	Wait(ctx context.Context) ([]byte, error)
}

// StartRequest describes a workflow execution to start.
type StartRequest struct {
	// ID is the workflow's unique identifier (= runId for the task workflow).
	ID string
	// Workflow names a registered WorkflowFunc.
	Workflow string
	// Input is the JSON-encoded input passed to the workflow function.
	Input []byte
}

// Engine registers and runs workflows (§4.3's "durable, step-addressable
// state machine", provided by an engine external to the core per §1).
type Engine interface {
	RegisterWorkflow(name string, fn WorkflowFunc) error
	RegisterStep(name string, fn StepHandler) error
	StartWorkflow(ctx context.Context, req StartRequest) (Handle, error)
	QueryRunStatus(ctx context.Context, runID string) (RunStatus, error)
}

// Step is a typed wrapper over StepContext.Step: it marshals in, unmarshals
// out, so workflow handlers and step registrations never touch raw bytes
// directly.
func Step[In, Out any](ctx StepContext, name string, input In) (Out, error) {
	var zero Out
	raw, err := json.Marshal(input)
	if err != nil {
		return zero, fmt.Errorf("workflow: encode step %q input: %w", name, err)
	}
	out, err := ctx.Step(name, raw)
	if err != nil {
		return zero, err
	}
	var result Out
	if err := json.Unmarshal(out, &result); err != nil {
		return zero, fmt.Errorf("workflow: decode step %q output: %w", name, err)
	}
	return result, nil
}

// RegisterTypedStep wraps a typed StepHandler into the []byte-based form
// Engine.RegisterStep expects.
func RegisterTypedStep[In, Out any](e Engine, name string, fn func(ctx context.Context, input In) (Out, error)) error {
	return e.RegisterStep(name, func(ctx context.Context, raw []byte) ([]byte, error) {
		var in In
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("workflow: decode step %q input: %w", name, err)
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	})
}
