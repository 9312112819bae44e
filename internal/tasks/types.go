package tasks

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Error codes carried on terminal tasks so callers can tell terminal kinds
// apart without inspecting free-form text.
const (
	CodeAdmissionFailed     = "admission_failed"
	CodeContextCreateFailed = "context_create_failed"
	CodePromptStartFailed   = "prompt_start_failed"
	CodeExtractionFailed    = "extraction_failed"
	CodeTimeout             = "timeout"
	CodeCancelled           = "cancelled"
)

// Task is one unit of delegated sub-agent work.
type Task struct {
	ID              string `json:"id"`
	ContextID       string `json:"context_id,omitempty"`
	ParentContextID string `json:"parent_context_id,omitempty"`
	Description     string `json:"description"`
	Prompt          string `json:"prompt"`
	Status          Status `json:"status"`
	Result          string `json:"result,omitempty"`
	ErrorCode       string `json:"error_code,omitempty"`
	Error           string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Polling bookkeeping, mutated only through ObserveActivity.
	LastMessageCount int `json:"last_message_count,omitempty"`
	StablePolls      int `json:"stable_polls,omitempty"`
}

// LaunchRequest describes a new sub-agent task.
type LaunchRequest struct {
	ParentContextID string `json:"parent_context_id"`
	Description     string `json:"description"`
	Prompt          string `json:"prompt"`
}

type EventType string

const (
	EventTaskCreated   EventType = "task_created"
	EventTaskStarted   EventType = "task_started"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
	EventTaskCancelled EventType = "task_cancelled"
)

// Event is one recorded lifecycle transition of a task.
type Event struct {
	Type   EventType `json:"type"`
	TaskID string    `json:"task_id"`
	Status Status    `json:"status"`
	Code   string    `json:"code,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

func (t Task) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}
