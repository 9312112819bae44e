package tasks

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrInvalidState = errors.New("invalid task state")
)

const defaultEventHistoryLimit = 256

// Registry is the in-memory source of truth for task state. Every transition
// out of `running` goes through a method that re-checks non-terminality under
// the registry mutex and reports whether the caller won the transition, so
// two competing completion signals can never both commit.
type Registry struct {
	mu sync.RWMutex

	store Store

	tasks           map[string]*Task
	taskByContext   map[string]string
	eventsByTask    map[string][]Event
	eventHistoryMax int
}

func NewRegistry() *Registry {
	return &Registry{
		tasks:           make(map[string]*Task),
		taskByContext:   make(map[string]string),
		eventsByTask:    make(map[string][]Event),
		eventHistoryMax: defaultEventHistoryLimit,
	}
}

func (r *Registry) SetStore(store Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store = store
}

// Create registers a new pending task.
func (r *Registry) Create(req LaunchRequest) (Task, error) {
	req.ParentContextID = strings.TrimSpace(req.ParentContextID)
	req.Description = strings.TrimSpace(req.Description)
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return Task{}, errors.New("prompt is required")
	}
	if req.Description == "" {
		req.Description = summarizePrompt(req.Prompt)
	}

	now := time.Now().UTC()
	task := &Task{
		ID:              uuid.NewString(),
		ParentContextID: req.ParentContextID,
		Description:     req.Description,
		Prompt:          req.Prompt,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = task
	r.recordLocked(Event{
		Type:   EventTaskCreated,
		TaskID: task.ID,
		Status: task.Status,
		Detail: task.Description,
		At:     now,
	})
	return *task, nil
}

// Get returns a snapshot of the task, falling back to the archive store for
// tasks from earlier process lifetimes.
func (r *Registry) Get(taskID string) (Task, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return Task{}, errors.New("task id is required")
	}
	r.mu.RLock()
	task, ok := r.tasks[taskID]
	var snapshot Task
	if ok {
		snapshot = *task
	}
	store := r.store
	r.mu.RUnlock()
	if ok {
		return snapshot, nil
	}
	if store == nil {
		return Task{}, ErrTaskNotFound
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	persisted, err := store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, err
	}
	return persisted, nil
}

// FindByContext maps an execution context back to its owning task.
func (r *Registry) FindByContext(contextID string) (Task, error) {
	contextID = strings.TrimSpace(contextID)
	if contextID == "" {
		return Task{}, errors.New("context id is required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id := r.taskByContext[contextID]
	if id == "" {
		return Task{}, ErrTaskNotFound
	}
	task, ok := r.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return *task, nil
}

// List returns snapshots of all tasks, newest first.
func (r *Registry) List() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Running returns snapshots of all currently running tasks.
func (r *Registry) Running() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if t.Status == StatusRunning {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// MarkRunning records the execution context and moves a pending task to
// running, stamping StartedAt. It fails if the task is no longer pending,
// which lets the launch path detect a cancellation that raced it.
func (r *Registry) MarkRunning(taskID, contextID string) (Task, error) {
	contextID = strings.TrimSpace(contextID)
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if task.Status != StatusPending {
		return *task, ErrInvalidState
	}
	task.Status = StatusRunning
	task.ContextID = contextID
	task.StartedAt = &now
	task.UpdatedAt = now
	if contextID != "" {
		r.taskByContext[contextID] = task.ID
	}
	r.recordLocked(Event{
		Type:   EventTaskStarted,
		TaskID: task.ID,
		Status: task.Status,
		Detail: contextID,
		At:     now,
	})
	r.persistTask(*task)
	return *task, nil
}

// Complete moves a running task to completed. The returned bool reports
// whether this call won the transition; a false return means another signal
// already resolved the task and the caller must not release its slot again.
func (r *Registry) Complete(taskID, result string) (Task, bool, error) {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return Task{}, false, ErrTaskNotFound
	}
	if task.Status != StatusRunning {
		return *task, false, nil
	}
	task.Status = StatusCompleted
	task.Result = result
	task.ErrorCode = ""
	task.Error = ""
	task.UpdatedAt = now
	task.CompletedAt = &now
	r.recordLocked(Event{
		Type:   EventTaskCompleted,
		TaskID: task.ID,
		Status: task.Status,
		At:     now,
	})
	r.persistTask(*task)
	return *task, true, nil
}

// Fail moves a non-terminal task to error with a taxonomy code and detail.
func (r *Registry) Fail(taskID, code, detail string) (Task, bool, error) {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return Task{}, false, ErrTaskNotFound
	}
	if task.Terminal() {
		return *task, false, nil
	}
	task.Status = StatusError
	task.ErrorCode = strings.TrimSpace(code)
	task.Error = strings.TrimSpace(detail)
	task.UpdatedAt = now
	task.CompletedAt = &now
	r.recordLocked(Event{
		Type:   EventTaskFailed,
		TaskID: task.ID,
		Status: task.Status,
		Code:   task.ErrorCode,
		Detail: task.Error,
		At:     now,
	})
	r.persistTask(*task)
	return *task, true, nil
}

// Cancel moves a pending or running task to cancelled. Cancelling an already
// terminal task is a no-op reported through the bool, not an error.
func (r *Registry) Cancel(taskID, code, reason string) (Task, bool, error) {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return Task{}, false, ErrTaskNotFound
	}
	if task.Terminal() {
		return *task, false, nil
	}
	task.Status = StatusCancelled
	task.ErrorCode = strings.TrimSpace(code)
	if task.ErrorCode == "" {
		task.ErrorCode = CodeCancelled
	}
	task.Error = strings.TrimSpace(reason)
	task.UpdatedAt = now
	task.CompletedAt = &now
	r.recordLocked(Event{
		Type:   EventTaskCancelled,
		TaskID: task.ID,
		Status: task.Status,
		Code:   task.ErrorCode,
		Detail: task.Error,
		At:     now,
	})
	r.persistTask(*task)
	return *task, true, nil
}

// ObserveActivity feeds one poll observation of the context's message count
// and returns the resulting consecutive-stable-poll counter. Any change in
// the count resets the counter.
func (r *Registry) ObserveActivity(taskID string, messageCount int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return 0, ErrTaskNotFound
	}
	if task.Status != StatusRunning {
		return 0, ErrInvalidState
	}
	if messageCount == task.LastMessageCount {
		task.StablePolls++
	} else {
		task.LastMessageCount = messageCount
		task.StablePolls = 0
	}
	return task.StablePolls, nil
}

// ListEvents returns up to limit most recent lifecycle events for a task.
func (r *Registry) ListEvents(taskID string, limit int) ([]Event, error) {
	if _, err := r.Get(taskID); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := r.eventsByTask[taskID]
	if len(events) == 0 {
		return []Event{}, nil
	}
	start := 0
	if limit > 0 && limit < len(events) {
		start = len(events) - limit
	}
	out := make([]Event, len(events)-start)
	copy(out, events[start:])
	return out, nil
}

func (r *Registry) recordLocked(evt Event) {
	r.eventsByTask[evt.TaskID] = append(r.eventsByTask[evt.TaskID], evt)
	if max := r.eventHistoryMax; max > 0 && len(r.eventsByTask[evt.TaskID]) > max {
		trimFrom := len(r.eventsByTask[evt.TaskID]) - max
		r.eventsByTask[evt.TaskID] = append([]Event(nil), r.eventsByTask[evt.TaskID][trimFrom:]...)
	}
}

func (r *Registry) persistTask(task Task) {
	store := r.store
	if store == nil {
		return
	}
	go func(snapshot Task) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = store.SaveTask(ctx, snapshot)
	}(task)
}

func summarizePrompt(prompt string) string {
	s := strings.TrimSpace(prompt)
	if len(s) <= 80 {
		return s
	}
	s = s[:80]
	lastSpace := strings.LastIndexByte(s, ' ')
	if lastSpace > 40 {
		s = s[:lastSpace]
	}
	return strings.TrimSpace(s) + "..."
}
