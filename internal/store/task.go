package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/dispatch-api/internal/domain"
)

// StatusUpdate carries the optional fields that may accompany a task state
// transition. Nil pointers mean "leave unchanged"; Result and ErrorMessage
// are only meaningful on terminal transitions.
type StatusUpdate struct {
	// Progress, if set, replaces the task's progress percentage (0-100).
	Progress *int

	// ProgressMessage, if set, replaces the human-readable progress note.
	ProgressMessage *string

	// Result is the opaque terminal payload, present only on completion.
	Result json.RawMessage

	// ErrorMessage is the terminal failure description, present only on
	// failed/timed-out transitions.
	ErrorMessage *string
}

// TaskStore defines the interface for persisting task lifecycle records.
type TaskStore interface {
	// CreateTask persists a new task record. Returns ErrDuplicate if the
	// generated ID collides with an existing record.
	CreateTask(ctx context.Context, task *domain.Task) error

	// GetTask retrieves a task by ID. Returns ErrTaskNotFound if absent.
	GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)

	// UpdateTaskStatus applies a lifecycle transition with its optional
	// accompanying fields. The transition table is enforced with a single
	// conditional write: ErrTaskNotFound if the task does not exist,
	// ErrInvalidTransition if the current state does not permit the move.
	// Re-applying the task's current terminal state is an accepted no-op.
	UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, newState domain.TaskState, update StatusUpdate) error

	// DeleteTask removes a task record in any state. Deleting an absent
	// task returns ErrTaskNotFound.
	DeleteTask(ctx context.Context, taskID uuid.UUID) error

	// CleanupOldTasks deletes terminal records whose completion is older
	// than the threshold and returns how many were removed. Non-terminal
	// records are never touched regardless of age.
	CleanupOldTasks(ctx context.Context, olderThan time.Duration) (int64, error)

	// WithTx returns a TaskStore bound to the provided transaction.
	WithTx(tx *sql.Tx) TaskStore
}

// TenantStore defines the interface for reading tenant records.
type TenantStore interface {
	// GetTenant retrieves a tenant by its integer key. Returns
	// ErrTenantNotFound if absent.
	GetTenant(ctx context.Context, tenantID int64) (*domain.Tenant, error)
}
