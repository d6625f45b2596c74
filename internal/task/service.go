package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/dispatch-api/internal/domain"
	"github.com/phrazzld/dispatch-api/internal/notify"
	"github.com/phrazzld/dispatch-api/internal/queue"
	"github.com/phrazzld/dispatch-api/internal/store"
)

// Service exposes the task lifecycle operations. It owns the relationship
// between the durable task store, the distributed queue, the process-local
// cancellation registry and the notification gateway.
type Service struct {
	tasks    store.TaskStore
	queue    queue.Queue
	registry *Registry
	notifier *notify.Gateway
	logger   *slog.Logger
}

// NewService creates a task lifecycle Service.
func NewService(
	tasks store.TaskStore,
	q queue.Queue,
	registry *Registry,
	notifier *notify.Gateway,
	logger *slog.Logger,
) *Service {
	return &Service{
		tasks:    tasks,
		queue:    q,
		registry: registry,
		notifier: notifier,
		logger:   logger.With("component", "task_service"),
	}
}

// Registry returns the service's cancellation registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// EnqueueTask creates a pending task record and a corresponding unclaimed
// queue item, returning the new task. The payload travels through the queue
// to the executor; the metadata is captured on the record.
func (s *Service) EnqueueTask(
	ctx context.Context,
	taskType string,
	tenantID int64,
	payload json.RawMessage,
	metadata json.RawMessage,
) (*domain.Task, error) {
	task, err := domain.NewTask(taskType, tenantID, metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	if err := s.tasks.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, task.ID, payload); err != nil {
		// Don't strand a record that can never be picked up.
		if delErr := s.tasks.DeleteTask(ctx, task.ID); delErr != nil {
			s.logger.Error("failed to delete task after enqueue failure",
				"task_id", task.ID,
				"error", delErr)
		}
		return nil, fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
	}

	s.logger.Info("task enqueued",
		"task_id", task.ID,
		"task_type", taskType,
		"tenant_id", tenantID)

	return task, nil
}

// GetTaskStatus retrieves the current task record. Returns
// store.ErrTaskNotFound if absent.
func (s *Service) GetTaskStatus(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	return s.tasks.GetTask(ctx, taskID)
}

// UpdateTaskStatus applies a lifecycle transition and forwards the
// corresponding event to the notification gateway. Notification delivery
// never affects the outcome of the update.
func (s *Service) UpdateTaskStatus(
	ctx context.Context,
	taskID uuid.UUID,
	newState domain.TaskState,
	update store.StatusUpdate,
) error {
	if err := s.tasks.UpdateTaskStatus(ctx, taskID, newState, update); err != nil {
		return err
	}

	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		// The update landed; the notification just loses its snapshot.
		s.logger.Warn("failed to re-read task after status update",
			"task_id", taskID,
			"error", err)
		return nil
	}

	s.notifyStateChange(ctx, task, newState)
	return nil
}

// notifyStateChange routes a state change to the matching gateway push.
func (s *Service) notifyStateChange(ctx context.Context, task *domain.Task, newState domain.TaskState) {
	switch newState {
	case domain.TaskStateProcessing:
		if task.Progress > 0 {
			s.notifier.NotifyTaskProgress(ctx, task)
		} else {
			s.notifier.NotifyTaskStarted(ctx, task)
		}
	case domain.TaskStateCompleted:
		s.notifier.NotifyTaskCompleted(ctx, task)
	case domain.TaskStateFailed:
		s.notifier.NotifyTaskFailed(ctx, task)
	case domain.TaskStateCancelled:
		s.notifier.NotifyTaskCancelled(ctx, task)
	case domain.TaskStateTimedOut:
		s.notifier.NotifyTaskTimedOut(ctx, task)
	}
}

// PollTaskUntilCompleted re-reads the task every pollInterval until a
// terminal state is observed or timeout elapses. On timeout the last
// observed record is returned unchanged, so callers can distinguish "still
// pending after I gave up" from a store-marked timed-out state.
func (s *Service) PollTaskUntilCompleted(
	ctx context.Context,
	taskID uuid.UUID,
	pollInterval time.Duration,
	timeout time.Duration,
) (*domain.Task, error) {
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var last *domain.Task
	for {
		task, err := s.tasks.GetTask(ctx, taskID)
		if err != nil {
			return last, err
		}
		last = task

		if task.IsTerminal() {
			return task, nil
		}

		if !time.Now().Before(deadline) {
			return last, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-timer.C:
			return last, nil
		case <-ticker.C:
		}
	}
}

// CancelTask transitions the task to cancelled unless it is already
// terminal, in which case the call is a no-op. If the task is executing on
// this process the local cancellation signal fires as well; tasks owned by
// other instances observe the cancelled state cooperatively at their next
// progress checkpoint.
func (s *Service) CancelTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if task.IsTerminal() {
		return task, nil
	}

	err = s.tasks.UpdateTaskStatus(ctx, taskID, domain.TaskStateCancelled, store.StatusUpdate{})
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Lost a race with a terminal write; report what is stored now.
			return s.tasks.GetTask(ctx, taskID)
		}
		return nil, err
	}

	if s.registry.TryCancel(taskID) {
		s.logger.Info("cancelled locally running task", "task_id", taskID)
	}

	task, err = s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyTaskCancelled(ctx, task)
	return task, nil
}

// DeleteTask removes the task record in any state.
func (s *Service) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	return s.tasks.DeleteTask(ctx, taskID)
}

// CleanupOldTasks deletes terminal records older than the threshold and
// returns how many were removed.
func (s *Service) CleanupOldTasks(ctx context.Context, olderThan time.Duration) (int64, error) {
	removed, err := s.tasks.CleanupOldTasks(ctx, olderThan)
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		s.logger.Info("cleaned up old tasks", "removed", removed, "older_than", olderThan)
	}
	return removed, nil
}

// QueueDepth reports how many items are unclaimed and eligible now.
func (s *Service) QueueDepth(ctx context.Context) (int64, error) {
	return s.queue.QueueDepth(ctx)
}

// ActiveTaskCount reports how many items hold a live claim.
func (s *Service) ActiveTaskCount(ctx context.Context) (int64, error) {
	return s.queue.ActiveTaskCount(ctx)
}

// NotificationHealth exposes the gateway's health view.
func (s *Service) NotificationHealth() notify.HealthStatus {
	return s.notifier.GetHealthStatus()
}

// ResetNotificationCircuit manually closes the notification breaker.
func (s *Service) ResetNotificationCircuit() {
	s.notifier.ResetCircuitBreaker()
}
