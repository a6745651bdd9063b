// Package agentio drives the coding-agent subprocess inside a sandbox
// (§4.3 step 3, component G): starting it, picking or creating an agent
// session scoped to the workspace, submitting the task prompt, and
// extracting the text of its response.
//
// The subprocess itself speaks an opaque HTTP API on a known port (spec
// §1's "external collaborator" list) — AgentClient abstracts that API the
// way goadesign-goa-ai's runtime/agents/model.Client abstracts a model
// provider, so ExecuteTask can be exercised against FakeClient without
// a real subprocess.
package agentio

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mattzcarey/sandbox-mcp/internal/sandbox"
)

// AgentPort is the fixed port the coding-agent subprocess listens on inside
// the sandbox (§4.3 step 3: "on a known port").
const AgentPort = 4096

// taskSummarySuffix is appended to every submitted task (§4.3 step 3:
// "a fixed suffix... asking for a structured summary").
const taskSummarySuffix = "\n\nWhen you are done, provide a structured summary covering: " +
	"accomplishments, files changed, commits made, and any warnings or caveats."

// AnthropicProviderID is the providerID sent with every message (§4.3 step 3).
const AnthropicProviderID = "anthropic"

// MessagePart is one part of an agent message. Only "text" parts are
// concatenated into TaskOutput.Output; other part kinds (e.g. tool calls)
// are opaque to this package.
type MessagePart struct {
	Type string
	Text string
}

// TokenUsage reports token consumption for one SendMessage call, when the
// agent reports it.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// AgentSession identifies one of the agent subprocess's own session
// records, scoped to a workspace directory.
type AgentSession struct {
	ID        string
	Directory string
}

// SendResult is the agent subprocess's response to a submitted message.
type SendResult struct {
	Parts []MessagePart
	Error *string
	Usage TokenUsage
}

// AgentClient is the control plane's view of the coding-agent subprocess's
// HTTP API. HTTPClient implements it against a real subprocess; FakeClient
// implements it for tests.
type AgentClient interface {
	// ListSessions returns the agent's own sessions scoped to directory, most
	// recent first.
	ListSessions(ctx context.Context, directory string) ([]AgentSession, error)

	// CreateSession creates a new agent session scoped to directory.
	CreateSession(ctx context.Context, directory string) (AgentSession, error)

	// SendMessage submits prompt as a single text part to sessionID and
	// waits for the agent's response.
	SendMessage(ctx context.Context, sessionID, prompt, providerID, modelID string) (SendResult, error)
}

// TaskInput are the inputs ExecuteTask needs from the workflow's TaskParams
// (§4.3) plus the already-resolved workspace path from prepare-sandbox.
type TaskInput struct {
	WorkspacePath             string
	Task                      string
	Model                     string
	ContainerProxyURL         string
	ProxyToken                string
	ExistingOpencodeSessionID string
}

// TaskOutput is the execute-task step's result (the subset of §4.3's
// TaskResult this step is responsible for).
type TaskOutput struct {
	Success           bool
	Output            string
	Error             string
	OpencodeSessionID string
	Tokens            TokenUsage
}

// ExecuteTask runs §4.3 step 3 end to end: start the subprocess, resolve an
// agent session, submit the task, collect the response, and always close
// the subprocess. It never returns an error — any failure (including a
// panic from a misbehaving client) is captured into a {success:false,...}
// TaskOutput, per spec step 3's "on any exception" clause.
func ExecuteTask(ctx context.Context, h sandbox.Handle, newClient func(baseURL string) AgentClient, in TaskInput) (out TaskOutput) {
	defer func() {
		if r := recover(); r != nil {
			out = failureOutput(in, fmt.Errorf("panic: %v", r))
		}
	}()

	result, err := executeTask(ctx, h, newClient, in)
	if err != nil {
		return failureOutput(in, err)
	}
	return result
}

func failureOutput(in TaskInput, err error) TaskOutput {
	sessionID := in.ExistingOpencodeSessionID
	if sessionID == "" {
		sessionID = "unknown"
	}
	return TaskOutput{Success: false, Output: "", Error: err.Error(), OpencodeSessionID: sessionID}
}

func executeTask(ctx context.Context, h sandbox.Handle, newClient func(baseURL string) AgentClient, in TaskInput) (TaskOutput, error) {
	env := []string{
		"ANTHROPIC_BASE_URL=" + in.ContainerProxyURL + "/proxy/anthropic",
		"ANTHROPIC_API_KEY=" + in.ProxyToken,
	}
	proc, err := h.StartProcess(ctx, []string{"opencode", "serve", "--port", strconv.Itoa(AgentPort)},
		sandbox.ExecOptions{Dir: in.WorkspacePath, Env: env})
	if err != nil {
		return TaskOutput{}, fmt.Errorf("start agent subprocess: %w", err)
	}
	defer proc.Close(ctx)

	baseURL, err := h.ExposePort(ctx, AgentPort)
	if err != nil {
		return TaskOutput{}, fmt.Errorf("expose agent port: %w", err)
	}
	client := newClient(baseURL)

	sessionID, err := resolveAgentSession(ctx, client, in)
	if err != nil {
		return TaskOutput{}, err
	}

	prompt := in.Task + taskSummarySuffix
	sent, err := client.SendMessage(ctx, sessionID, prompt, AnthropicProviderID, in.Model)
	if err != nil {
		return TaskOutput{}, fmt.Errorf("send message: %w", err)
	}

	output := joinTextParts(sent.Parts)
	if sent.Error != nil {
		return TaskOutput{Success: false, Output: output, Error: *sent.Error, OpencodeSessionID: sessionID, Tokens: sent.Usage}, nil
	}
	return TaskOutput{Success: true, Output: output, OpencodeSessionID: sessionID, Tokens: sent.Usage}, nil
}

func resolveAgentSession(ctx context.Context, client AgentClient, in TaskInput) (string, error) {
	if in.ExistingOpencodeSessionID != "" {
		return in.ExistingOpencodeSessionID, nil
	}
	sessions, err := client.ListSessions(ctx, in.WorkspacePath)
	if err != nil {
		return "", fmt.Errorf("list agent sessions: %w", err)
	}
	if len(sessions) > 0 {
		return sessions[0].ID, nil
	}
	created, err := client.CreateSession(ctx, in.WorkspacePath)
	if err != nil {
		return "", fmt.Errorf("create agent session: %w", err)
	}
	return created.ID, nil
}

func joinTextParts(parts []MessagePart) string {
	var texts []string
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}
