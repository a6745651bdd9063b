// Package inmem provides an in-memory Engine implementation for tests and
// local development, grounded on goadesign-goa-ai's
// runtime/agent/engine/inmem (same goroutine-per-execution, done-channel,
// status-map shape), extended with the step memoization §4.3 requires:
// each named step's output is cached per workflow ID so a step function
// that runs twice for the same workflow (the in-memory engine never
// actually replays, but tests exercise the memoization contract directly)
// observes the recorded result instead of re-running.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mattzcarey/sandbox-mcp/internal/workflow"
)

type engine struct {
	mu        sync.RWMutex
	workflows map[string]workflow.WorkflowFunc
	steps     map[string]workflow.StepHandler
	statuses  map[string]workflow.RunStatus
}

// New returns a new in-memory Engine. Not durable: a process restart loses
// all step memoization and in-flight executions.
func New() workflow.Engine {
	return &engine{
		workflows: make(map[string]workflow.WorkflowFunc),
		steps:     make(map[string]workflow.StepHandler),
		statuses:  make(map[string]workflow.RunStatus),
	}
}

func (e *engine) RegisterWorkflow(name string, fn workflow.WorkflowFunc) error {
	if name == "" || fn == nil {
		return errors.New("inmem: invalid workflow registration")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.workflows[name]; dup {
		return fmt.Errorf("inmem: workflow %q already registered", name)
	}
	e.workflows[name] = fn
	return nil
}

func (e *engine) RegisterStep(name string, fn workflow.StepHandler) error {
	if name == "" || fn == nil {
		return errors.New("inmem: invalid step registration")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.steps[name]; dup {
		return fmt.Errorf("inmem: step %q already registered", name)
	}
	e.steps[name] = fn
	return nil
}

type handle struct {
	done   chan struct{}
	output []byte
	err    error
}

func (h *handle) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.output, h.err
	}
}

func (e *engine) StartWorkflow(ctx context.Context, req workflow.StartRequest) (workflow.Handle, error) {
	e.mu.RLock()
	fn, ok := e.workflows[req.Workflow]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", workflow.ErrNotRegistered, req.Workflow)
	}
	if req.ID == "" {
		return nil, errors.New("inmem: workflow id is required")
	}

	sctx := &stepContext{ctx: ctx, workflowID: req.ID, engine: e, results: make(map[string][]byte)}
	h := &handle{done: make(chan struct{})}

	e.mu.Lock()
	e.statuses[req.ID] = workflow.StatusRunning
	e.mu.Unlock()

	go func() {
		defer close(h.done)
		out, err := fn(sctx, req.Input)
		h.output, h.err = out, err

		e.mu.Lock()
		if err != nil {
			e.statuses[req.ID] = workflow.StatusFailed
		} else {
			e.statuses[req.ID] = workflow.StatusCompleted
		}
		e.mu.Unlock()
	}()

	return h, nil
}

func (e *engine) QueryRunStatus(_ context.Context, runID string) (workflow.RunStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	status, ok := e.statuses[runID]
	if !ok {
		return "", workflow.ErrWorkflowNotFound
	}
	return status, nil
}

// stepContext implements workflow.StepContext with a per-execution step
// memoization map, looking up each step's real implementation on the
// engine's step registry by name rather than accepting it inline — the
// same constraint a durable (Temporal) engine imposes, so workflow
// functions written against this interface port unchanged.
type stepContext struct {
	ctx        context.Context
	workflowID string
	engine     *engine

	mu      sync.Mutex
	results map[string][]byte
}

func (s *stepContext) Context() context.Context { return s.ctx }
func (s *stepContext) WorkflowID() string       { return s.workflowID }

func (s *stepContext) Step(name string, input []byte) ([]byte, error) {
	s.mu.Lock()
	if out, ok := s.results[name]; ok {
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	s.engine.mu.RLock()
	fn, ok := s.engine.steps[name]
	s.engine.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: step %q", workflow.ErrNotRegistered, name)
	}

	out, err := fn(s.ctx, input)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.results[name] = out
	s.mu.Unlock()
	return out, nil
}
