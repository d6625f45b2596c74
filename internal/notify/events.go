package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/dispatch-api/internal/domain"
)

// EventType identifies a task lifecycle event on the push channel.
type EventType string

// Task lifecycle event types.
const (
	EventTaskStarted   EventType = "task.started"
	EventTaskProgress  EventType = "task.progress"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskCancelled EventType = "task.cancelled"
	EventTaskTimedOut  EventType = "task.timed_out"
)

// Event is the wire shape pushed to the notification channel.
type Event struct {
	Type      EventType       `json:"type"`
	TaskID    uuid.UUID       `json:"task_id"`
	TenantID  int64           `json:"tenant_id"`
	TaskType  string          `json:"task_type"`
	State     domain.TaskState `json:"state"`
	Progress  int             `json:"progress"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
