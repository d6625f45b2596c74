package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskState represents the lifecycle state of an async task.
type TaskState string

// Possible task state values
const (
	TaskStatePending    TaskState = "pending"
	TaskStateProcessing TaskState = "processing"
	TaskStateCompleted  TaskState = "completed"
	TaskStateFailed     TaskState = "failed"
	TaskStateCancelled  TaskState = "cancelled"
	TaskStateTimedOut   TaskState = "timed_out"
)

// Task type tags for the generation jobs the gateway fans out.
const (
	TaskTypeImageGeneration = "image_generation"
	TaskTypeVideoGeneration = "video_generation"
	TaskTypeAudioGeneration = "audio_generation"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID      = errors.New("task ID cannot be empty")
	ErrEmptyTaskType    = errors.New("task type cannot be empty")
	ErrInvalidTaskState = errors.New("invalid task state")
	ErrInvalidProgress  = errors.New("task progress must be between 0 and 100")
)

// transitions maps each non-terminal state to the states it may move to.
// Terminal states have no outgoing transitions; re-applying the same
// terminal state is treated as an accepted no-op by CanTransition.
var transitions = map[TaskState][]TaskState{
	TaskStatePending: {
		TaskStateProcessing,
		TaskStateCancelled,
		TaskStateTimedOut,
	},
	TaskStateProcessing: {
		TaskStateCompleted,
		TaskStateFailed,
		TaskStateCancelled,
		TaskStateTimedOut,
	},
}

// Task represents a long-running generative job owned by a tenant.
// It tracks lifecycle state, progress reporting, and the terminal
// result or error, independent of queueing mechanics.
type Task struct {
	ID              uuid.UUID       `json:"id"`
	Type            string          `json:"type"`
	TenantID        int64           `json:"tenant_id"`
	State           TaskState       `json:"state"`
	Progress        int             `json:"progress"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// NewTask creates a new Task in the pending state with a generated ID.
// Metadata is an opaque JSON document captured at creation; it may be nil.
// Returns an error if validation fails.
func NewTask(taskType string, tenantID int64, metadata json.RawMessage) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:        uuid.New(),
		Type:      taskType,
		TenantID:  tenantID,
		State:     TaskStatePending,
		Progress:  0,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.Type == "" {
		return ErrEmptyTaskType
	}

	if !IsValidTaskState(t.State) {
		return ErrInvalidTaskState
	}

	if t.Progress < 0 || t.Progress > 100 {
		return ErrInvalidProgress
	}

	return nil
}

// IsTerminal reports whether the task is in a terminal state.
func (t *Task) IsTerminal() bool {
	return t.State.IsTerminal()
}

// IsTerminal reports whether the state permits no further transitions.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCancelled, TaskStateTimedOut:
		return true
	default:
		return false
	}
}

// IsValidTaskState checks if the given state is a known TaskState.
func IsValidTaskState(s TaskState) bool {
	switch s {
	case TaskStatePending, TaskStateProcessing, TaskStateCompleted,
		TaskStateFailed, TaskStateCancelled, TaskStateTimedOut:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from one state to another is a legal
// lifecycle transition. Re-applying the current state is always allowed:
// for non-terminal states that is how progress updates are written, for
// terminal states it keeps repeated terminal writes idempotent. Moving from
// one terminal state to a different one is never allowed.
func CanTransition(from, to TaskState) bool {
	if from == to {
		return true
	}

	if from.IsTerminal() {
		return false
	}

	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Predecessors returns the set of states from which the given state may be
// legally reached. Used by stores to enforce transitions with a single
// conditional write.
func Predecessors(to TaskState) []TaskState {
	var from []TaskState
	for state, allowed := range transitions {
		for _, a := range allowed {
			if a == to {
				from = append(from, state)
			}
		}
	}
	return from
}
