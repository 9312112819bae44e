package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MockProvider simulates the execution context service in memory. It is used
// for local development without a backing service and by tests, which can
// script statuses, message counts, and failures per context.
type MockProvider struct {
	mu       sync.Mutex
	contexts map[string]*mockContext

	busyAfterPrompt bool

	createErr   error
	startErr    error
	statusesErr error
	countErr    error
	fetchErr    error
}

type mockContext struct {
	parentID string
	title    string
	status   ContextStatus
	messages []Message
	aborted  bool
}

func NewMockProvider() *MockProvider {
	return &MockProvider{contexts: make(map[string]*mockContext)}
}

func (p *MockProvider) CreateContext(ctx context.Context, parentContextID, title string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return "", p.createErr
	}
	id := uuid.NewString()
	p.contexts[id] = &mockContext{
		parentID: parentContextID,
		title:    title,
		status:   StatusUnknown,
	}
	return id, nil
}

func (p *MockProvider) StartPrompt(ctx context.Context, contextID, systemText string, tools []string, promptText string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	c, ok := p.contexts[contextID]
	if !ok {
		return fmt.Errorf("unknown context %q", contextID)
	}
	c.messages = append(c.messages,
		Message{Role: "user", Parts: []ContentPart{{Type: "text", Text: promptText}}},
		Message{Role: "assistant", Parts: []ContentPart{{Type: "text", Text: mockReply(promptText)}}},
	)
	if p.busyAfterPrompt {
		c.status = StatusBusy
	} else {
		c.status = StatusIdle
	}
	return nil
}

func (p *MockProvider) QueryStatuses(ctx context.Context) (map[string]ContextStatus, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.statusesErr != nil {
		return nil, p.statusesErr
	}
	out := make(map[string]ContextStatus, len(p.contexts))
	for id, c := range p.contexts {
		out[id] = c.status
	}
	return out, nil
}

func (p *MockProvider) MessageCount(ctx context.Context, contextID string) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.countErr != nil {
		return 0, p.countErr
	}
	c, ok := p.contexts[contextID]
	if !ok {
		return 0, fmt.Errorf("unknown context %q", contextID)
	}
	return len(c.messages), nil
}

func (p *MockProvider) FetchMessages(ctx context.Context, contextID string, limit int) ([]Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	c, ok := p.contexts[contextID]
	if !ok {
		return nil, fmt.Errorf("unknown context %q", contextID)
	}
	msgs := c.messages
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (p *MockProvider) Abort(_ context.Context, contextID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.contexts[contextID]; ok {
		c.aborted = true
		c.status = StatusIdle
	}
	return nil
}

// Test knobs.

// SetBusyAfterPrompt makes newly prompted contexts report busy instead of
// idle, simulating long-running sessions.
func (p *MockProvider) SetBusyAfterPrompt(busy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busyAfterPrompt = busy
}

func (p *MockProvider) SetStatus(contextID string, status ContextStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.contexts[contextID]; ok {
		c.status = status
	}
}

func (p *MockProvider) SetMessages(contextID string, msgs []Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.contexts[contextID]; ok {
		c.messages = append([]Message(nil), msgs...)
	}
}

func (p *MockProvider) AppendMessage(contextID string, msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.contexts[contextID]; ok {
		c.messages = append(c.messages, msg)
	}
}

func (p *MockProvider) Aborted(contextID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.contexts[contextID]
	return ok && c.aborted
}

func (p *MockProvider) ContextIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.contexts))
	for id := range p.contexts {
		out = append(out, id)
	}
	return out
}

func (p *MockProvider) FailCreate(err error)   { p.mu.Lock(); p.createErr = err; p.mu.Unlock() }
func (p *MockProvider) FailStart(err error)    { p.mu.Lock(); p.startErr = err; p.mu.Unlock() }
func (p *MockProvider) FailStatuses(err error) { p.mu.Lock(); p.statusesErr = err; p.mu.Unlock() }
func (p *MockProvider) FailCount(err error)    { p.mu.Lock(); p.countErr = err; p.mu.Unlock() }
func (p *MockProvider) FailFetch(err error)    { p.mu.Lock(); p.fetchErr = err; p.mu.Unlock() }

func mockReply(prompt string) string {
	base := strings.TrimSpace(prompt)
	if base == "" {
		return "Nothing to do."
	}
	if len(base) > 80 {
		base = base[:80] + "..."
	}
	return fmt.Sprintf("Mock result for: %s", base)
}
