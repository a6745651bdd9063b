package agentio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// HTTPClient implements AgentClient against a real coding-agent subprocess
// listening at baseURL. The wire shape is opaque per spec (the subprocess
// is an external collaborator); this implementation assumes the minimal
// REST surface the workflow needs: list/create session, post a message.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient returns an AgentClient bound to the subprocess reachable at
// baseURL (as returned by sandbox.Handle.ExposePort).
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, http: http.DefaultClient}
}

var _ AgentClient = (*HTTPClient)(nil)

type sessionDTO struct {
	ID        string `json:"id"`
	Directory string `json:"directory"`
}

func (c *HTTPClient) ListSessions(ctx context.Context, directory string) ([]AgentSession, error) {
	u := c.baseURL + "/session?directory=" + url.QueryEscape(directory)
	var dtos []sessionDTO
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &dtos); err != nil {
		return nil, err
	}
	sessions := make([]AgentSession, len(dtos))
	for i, d := range dtos {
		sessions[i] = AgentSession{ID: d.ID, Directory: d.Directory}
	}
	return sessions, nil
}

func (c *HTTPClient) CreateSession(ctx context.Context, directory string) (AgentSession, error) {
	body := map[string]string{"directory": directory}
	var dto sessionDTO
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/session", body, &dto); err != nil {
		return AgentSession{}, err
	}
	return AgentSession{ID: dto.ID, Directory: dto.Directory}, nil
}

type messageRequest struct {
	Parts      []MessagePart `json:"parts"`
	ProviderID string        `json:"providerID"`
	ModelID    string        `json:"modelID"`
}

type messageResponseDTO struct {
	Parts []MessagePart `json:"parts"`
	Error *string       `json:"error"`
	Usage *struct {
		InputTokens  int `json:"inputTokens"`
		OutputTokens int `json:"outputTokens"`
	} `json:"usage"`
}

func (c *HTTPClient) SendMessage(ctx context.Context, sessionID, prompt, providerID, modelID string) (SendResult, error) {
	body := messageRequest{
		Parts:      []MessagePart{{Type: "text", Text: prompt}},
		ProviderID: providerID,
		ModelID:    modelID,
	}
	var dto messageResponseDTO
	path := fmt.Sprintf("%s/session/%s/message", c.baseURL, url.PathEscape(sessionID))
	if err := c.doJSON(ctx, http.MethodPost, path, body, &dto); err != nil {
		return SendResult{}, err
	}
	result := SendResult{Parts: dto.Parts, Error: dto.Error}
	if dto.Usage != nil {
		result.Usage = TokenUsage{InputTokens: dto.Usage.InputTokens, OutputTokens: dto.Usage.OutputTokens}
	}
	return result, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, reqBody, respBody any) error {
	var bodyReader *bytes.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode agent request: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	} else {
		bodyReader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("build agent request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent subprocess request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("agent subprocess returned status %d", resp.StatusCode)
	}
	if respBody == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}
