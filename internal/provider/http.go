package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPProvider talks to an execution context service over its JSON API.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type createContextRequest struct {
	ParentContextID string `json:"parent_context_id,omitempty"`
	Title           string `json:"title,omitempty"`
}

type createContextResponse struct {
	ContextID string `json:"context_id"`
}

type startPromptRequest struct {
	SystemText string   `json:"system_text,omitempty"`
	Tools      []string `json:"tools,omitempty"`
	PromptText string   `json:"prompt_text"`
}

type statusesResponse struct {
	Statuses map[string]string `json:"statuses"`
}

type messageCountResponse struct {
	Count int `json:"count"`
}

type messagesResponse struct {
	Messages []Message `json:"messages"`
}

func (p *HTTPProvider) CreateContext(ctx context.Context, parentContextID, title string) (string, error) {
	var res createContextResponse
	err := p.do(ctx, http.MethodPost, "/v1/contexts", createContextRequest{
		ParentContextID: parentContextID,
		Title:           title,
	}, &res)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}
	if strings.TrimSpace(res.ContextID) == "" {
		return "", fmt.Errorf("%w: provider returned empty context id", ErrCreationFailed)
	}
	return res.ContextID, nil
}

func (p *HTTPProvider) StartPrompt(ctx context.Context, contextID, systemText string, tools []string, promptText string) error {
	err := p.do(ctx, http.MethodPost, "/v1/contexts/"+url.PathEscape(contextID)+"/prompt", startPromptRequest{
		SystemText: systemText,
		Tools:      tools,
		PromptText: promptText,
	}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	return nil
}

func (p *HTTPProvider) QueryStatuses(ctx context.Context) (map[string]ContextStatus, error) {
	var res statusesResponse
	if err := p.do(ctx, http.MethodGet, "/v1/contexts/statuses", nil, &res); err != nil {
		return nil, err
	}
	out := make(map[string]ContextStatus, len(res.Statuses))
	for id, s := range res.Statuses {
		switch ContextStatus(strings.ToLower(strings.TrimSpace(s))) {
		case StatusIdle:
			out[id] = StatusIdle
		case StatusBusy:
			out[id] = StatusBusy
		default:
			out[id] = StatusUnknown
		}
	}
	return out, nil
}

func (p *HTTPProvider) MessageCount(ctx context.Context, contextID string) (int, error) {
	var res messageCountResponse
	if err := p.do(ctx, http.MethodGet, "/v1/contexts/"+url.PathEscape(contextID)+"/messages/count", nil, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (p *HTTPProvider) FetchMessages(ctx context.Context, contextID string, limit int) ([]Message, error) {
	path := "/v1/contexts/" + url.PathEscape(contextID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var res messagesResponse
	if err := p.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

func (p *HTTPProvider) Abort(ctx context.Context, contextID string) error {
	return p.do(ctx, http.MethodPost, "/v1/contexts/"+url.PathEscape(contextID)+"/abort", nil, nil)
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("provider http status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
