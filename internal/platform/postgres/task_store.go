package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/dispatch-api/internal/domain"
	"github.com/phrazzld/dispatch-api/internal/platform/logger"
	"github.com/phrazzld/dispatch-api/internal/store"
)

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
type PostgresTaskStore struct {
	db store.DBTX
}

// NewPostgresTaskStore creates a new PostgresTaskStore.
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{
		db: db,
	}
}

// WithTx returns a TaskStore bound to the provided transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db: tx,
	}
}

// CreateTask persists a new task record in the pending state.
func (s *PostgresTaskStore) CreateTask(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO tasks (id, type, tenant_id, status, progress, progress_message,
			result, error_message, metadata, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Type,
		task.TenantID,
		task.State,
		task.Progress,
		nullableString(task.ProgressMessage),
		nullableBytes(task.Result),
		nullableString(task.ErrorMessage),
		nullableBytes(task.Metadata),
		task.CreatedAt,
		task.UpdatedAt,
		task.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// A generated UUID colliding with an existing row means something
			// is badly misconfigured; surface it as a duplicate, not a retry.
			return fmt.Errorf("%w: task %s", store.ErrDuplicate, task.ID)
		}
		log.Error("failed to save task",
			"task_id", task.ID,
			"task_type", task.Type,
			"error", err)
		return fmt.Errorf("failed to save task: %w", err)
	}

	return nil
}

// GetTask retrieves a task by ID. Returns store.ErrTaskNotFound if absent.
func (s *PostgresTaskStore) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	query := `
		SELECT id, type, tenant_id, status, progress, progress_message,
			result, error_message, metadata, created_at, updated_at, completed_at
		FROM tasks
		WHERE id = $1
	`

	row := s.db.QueryRowContext(ctx, query, taskID)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

// UpdateTaskStatus applies a lifecycle transition as a single conditional
// write: the row is only mutated when its current status is a legal
// predecessor of the new state. When the conditional write misses, the
// current row is re-read to distinguish "not found", "idempotent terminal
// re-apply" and "invalid transition".
func (s *PostgresTaskStore) UpdateTaskStatus(
	ctx context.Context,
	taskID uuid.UUID,
	newState domain.TaskState,
	update store.StatusUpdate,
) error {
	log := logger.FromContext(ctx)

	if !domain.IsValidTaskState(newState) {
		return domain.ErrInvalidTaskState
	}

	predecessors := domain.Predecessors(newState)
	if !newState.IsTerminal() {
		// A same-state write is how progress updates land; terminal
		// re-application stays out of the predicate so it remains a no-op
		// rather than rewriting completed_at.
		predecessors = append(predecessors, newState)
	}

	now := time.Now().UTC()

	// Build the status predicate with positional placeholders.
	args := []any{
		newState,
		optionalInt(update.Progress),
		optionalString(update.ProgressMessage),
		nullableBytes(update.Result),
		optionalString(update.ErrorMessage),
		now,
		newState.IsTerminal(),
		taskID,
	}
	placeholders := make([]string, 0, len(predecessors))
	for _, from := range predecessors {
		args = append(args, from)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	query := fmt.Sprintf(`
		UPDATE tasks
		SET status = $1,
			progress = GREATEST(progress, COALESCE($2, progress)),
			progress_message = COALESCE($3, progress_message),
			result = COALESCE($4, result),
			error_message = COALESCE($5, error_message),
			updated_at = $6,
			completed_at = CASE WHEN $7 THEN $6 ELSE completed_at END
		WHERE id = $8 AND status IN (%s)
	`, strings.Join(placeholders, ", "))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to update task status",
			"task_id", taskID,
			"status", newState,
			"error", err)
		return fmt.Errorf("failed to update task status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return s.classifyMissedUpdate(ctx, taskID, newState)
	}

	return nil
}

// classifyMissedUpdate resolves a conditional update that matched no rows
// into the precise outcome the caller needs to branch on.
func (s *PostgresTaskStore) classifyMissedUpdate(
	ctx context.Context,
	taskID uuid.UUID,
	newState domain.TaskState,
) error {
	current, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	// Re-applying the same terminal state is an accepted no-op.
	if current.State == newState && newState.IsTerminal() {
		return nil
	}

	return fmt.Errorf("%w: %s -> %s for task %s",
		store.ErrInvalidTransition, current.State, newState, taskID)
}

// DeleteTask removes a task record regardless of its state.
func (s *PostgresTaskStore) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return store.ErrTaskNotFound
	}

	return nil
}

// CleanupOldTasks deletes terminal records whose completion is older than
// the threshold. Non-terminal records are never touched regardless of age.
func (s *PostgresTaskStore) CleanupOldTasks(ctx context.Context, olderThan time.Duration) (int64, error) {
	log := logger.FromContext(ctx)

	query := `
		DELETE FROM tasks
		WHERE status IN ($1, $2, $3, $4) AND completed_at < $5
	`

	cutoff := time.Now().UTC().Add(-olderThan)

	result, err := s.db.ExecContext(ctx, query,
		domain.TaskStateCompleted,
		domain.TaskStateFailed,
		domain.TaskStateCancelled,
		domain.TaskStateTimedOut,
		cutoff,
	)
	if err != nil {
		log.Error("failed to clean up old tasks", "cutoff", cutoff, "error", err)
		return 0, fmt.Errorf("failed to clean up old tasks: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return removed, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task row into a domain.Task.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task            domain.Task
		progressMessage sql.NullString
		result          []byte
		errorMessage    sql.NullString
		metadata        []byte
		completedAt     sql.NullTime
	)

	err := row.Scan(
		&task.ID,
		&task.Type,
		&task.TenantID,
		&task.State,
		&task.Progress,
		&progressMessage,
		&result,
		&errorMessage,
		&metadata,
		&task.CreatedAt,
		&task.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.ProgressMessage = progressMessage.String
	task.Result = result
	task.ErrorMessage = errorMessage.String
	task.Metadata = metadata
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}

	return &task, nil
}

// nullableString converts an empty string to a SQL NULL.
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullableBytes converts an empty byte slice to a SQL NULL.
func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// optionalInt converts a *int into a SQL value, mapping nil to NULL.
func optionalInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// optionalString converts a *string into a SQL value, mapping nil to NULL.
func optionalString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
