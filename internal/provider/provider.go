// Package provider defines the boundary to the external execution context
// service that runs each sub-agent's conversational session.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCreationFailed wraps failures to allocate an execution context.
	ErrCreationFailed = errors.New("context creation failed")
	// ErrStartFailed wraps failures to start a prompt on a context.
	ErrStartFailed = errors.New("prompt start failed")
)

// ContextStatus is the provider-reported state of one execution context.
type ContextStatus string

const (
	StatusIdle    ContextStatus = "idle"
	StatusBusy    ContextStatus = "busy"
	StatusUnknown ContextStatus = "unknown"
)

// ContentPart is one piece of a message body.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Message is one conversational message in an execution context.
type Message struct {
	Role  string        `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// Event is a push notification from the provider's event stream.
type Event struct {
	Type      string `json:"type"`
	ContextID string `json:"context_id"`
}

// EventContextIdle signals that a context finished producing output.
const EventContextIdle = "context_idle"

// Provider is the execution context service consumed by the orchestrator.
// QueryStatuses is batched so a poll tick costs O(1) provider calls for the
// status sweep; MessageCount is the lightweight activity probe backing the
// stability fallback.
type Provider interface {
	CreateContext(ctx context.Context, parentContextID, title string) (string, error)
	StartPrompt(ctx context.Context, contextID, systemText string, tools []string, promptText string) error
	QueryStatuses(ctx context.Context) (map[string]ContextStatus, error)
	MessageCount(ctx context.Context, contextID string) (int, error)
	FetchMessages(ctx context.Context, contextID string, limit int) ([]Message, error)
	Abort(ctx context.Context, contextID string) error
}

// Config controls provider construction.
type Config struct {
	Mode    string
	HTTPURL string
}

// New builds a Provider for the configured mode. Auto mode prefers the HTTP
// backend when a URL is configured and falls back to the mock.
func New(cfg Config) (Provider, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPProvider(cfg.HTTPURL), nil
		}
		return NewMockProvider(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("provider HTTP url is required for http mode")
		}
		return NewHTTPProvider(cfg.HTTPURL), nil
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported provider mode %q", cfg.Mode)
	}
}
