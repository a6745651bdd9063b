package agentio

import "context"

// FakeClient is an in-memory AgentClient for tests, following the same
// exported-knob fake idiom as sandbox.FakeHandle.
type FakeClient struct {
	Sessions []AgentSession

	// NextCreatedID is returned by CreateSession.
	NextCreatedID string

	// SendResult is returned by every SendMessage call.
	SendResult SendResult

	// FailListSessions / FailCreateSession / FailSendMessage, when set, are
	// returned instead of running the call.
	FailListSessions error
	FailCreateSession error
	FailSendMessage   error

	// SentPrompts records every prompt passed to SendMessage, in order.
	SentPrompts []string
}

var _ AgentClient = (*FakeClient)(nil)

func (f *FakeClient) ListSessions(context.Context, string) ([]AgentSession, error) {
	if f.FailListSessions != nil {
		return nil, f.FailListSessions
	}
	return f.Sessions, nil
}

func (f *FakeClient) CreateSession(_ context.Context, directory string) (AgentSession, error) {
	if f.FailCreateSession != nil {
		return AgentSession{}, f.FailCreateSession
	}
	return AgentSession{ID: f.NextCreatedID, Directory: directory}, nil
}

func (f *FakeClient) SendMessage(_ context.Context, _, prompt, _, _ string) (SendResult, error) {
	f.SentPrompts = append(f.SentPrompts, prompt)
	if f.FailSendMessage != nil {
		return SendResult{}, f.FailSendMessage
	}
	return f.SendResult, nil
}
