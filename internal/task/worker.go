package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/dispatch-api/internal/domain"
	"github.com/phrazzld/dispatch-api/internal/queue"
	"github.com/phrazzld/dispatch-api/internal/store"
)

// ProgressFunc is handed to executors so they can report progress. Each call
// doubles as a cooperative cancellation checkpoint: it returns a non-nil
// error once the task has been cancelled or the local context is done, and
// the executor is expected to abort promptly.
type ProgressFunc func(ctx context.Context, progress int, message string) error

// Executor performs the actual work for a claimed item. The returned raw
// message becomes the task's result on success.
type Executor interface {
	Execute(ctx context.Context, item *queue.Item, report ProgressFunc) (json.RawMessage, error)
}

// WorkerConfig tunes the claim worker.
type WorkerConfig struct {
	// InstanceID names this process in claims; must be unique per instance.
	InstanceID string

	// Concurrency is how many items may execute at once.
	Concurrency int

	// PollInterval is the sleep between dequeue attempts that found nothing.
	PollInterval time.Duration

	// HeartbeatInterval is how often a live execution renews its claim. It
	// must be comfortably shorter than LeaseExtension.
	HeartbeatInterval time.Duration

	// LeaseExtension is the lease granted by each heartbeat renewal.
	LeaseExtension time.Duration

	// MaxRetries bounds how many times a failing item is re-queued before
	// its task is marked failed.
	MaxRetries int
}

// DefaultWorkerConfig returns conservative worker settings.
func DefaultWorkerConfig(instanceID string) WorkerConfig {
	return WorkerConfig{
		InstanceID:        instanceID,
		Concurrency:       4,
		PollInterval:      time.Second,
		HeartbeatInterval: 10 * time.Second,
		LeaseExtension:    30 * time.Second,
		MaxRetries:        3,
	}
}

// Worker pulls claimed items off the queue and drives them through the task
// lifecycle: mark processing, execute with heartbeats, then complete, fail,
// cancel or return to the queue.
type Worker struct {
	config   WorkerConfig
	service  *Service
	queue    queue.Queue
	executor Executor
	logger   *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorker creates a Worker. Start must be called to begin processing.
func NewWorker(
	config WorkerConfig,
	service *Service,
	q queue.Queue,
	executor Executor,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		config:   config,
		service:  service,
		queue:    q,
		executor: executor,
		logger:   logger.With("component", "claim_worker", "instance_id", config.InstanceID),
	}
}

// Start launches the configured number of dequeue loops.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx)
		}()
	}

	w.logger.Info("claim worker started", "concurrency", w.config.Concurrency)
}

// Stop cancels the dequeue loops and waits for in-flight executions to
// finish. In-flight tasks observe the cancellation through their registered
// contexts and unwind at their next checkpoint.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("claim worker stopped")
}

// runLoop repeatedly claims one item and processes it until ctx is done.
func (w *Worker) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, err := w.queue.Dequeue(ctx, w.config.InstanceID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", "error", err)
			w.sleep(ctx, w.config.PollInterval)
			continue
		}

		if item == nil {
			w.sleep(ctx, w.config.PollInterval)
			continue
		}

		w.processItem(ctx, item)
	}
}

// sleep waits for d or until ctx is cancelled.
func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// processItem drives one claimed item to an outcome. The claim is either
// acknowledged (terminal outcome) or returned to the queue (retryable
// failure); abandoning it silently would leave recovery to the janitor.
func (w *Worker) processItem(ctx context.Context, item *queue.Item) {
	log := w.logger.With("task_id", item.TaskID, "retry_count", item.RetryCount)

	task, err := w.service.GetTaskStatus(ctx, item.TaskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			// The record was deleted while the item sat in the queue.
			log.Warn("claimed item has no task record, discarding")
			w.acknowledge(ctx, item, log)
			return
		}
		log.Error("failed to load task for claimed item", "error", err)
		w.returnToQueue(ctx, item, err, log)
		return
	}

	if task.IsTerminal() {
		// Cancelled or timed out before pickup; nothing to execute.
		log.Info("claimed item already terminal, discarding", "state", task.State)
		w.acknowledge(ctx, item, log)
		return
	}

	err = w.service.UpdateTaskStatus(ctx, item.TaskID, domain.TaskStateProcessing, store.StatusUpdate{})
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Lost a race with a terminal write between the read and here.
			log.Info("task reached terminal state before processing, discarding")
			w.acknowledge(ctx, item, log)
			return
		}
		log.Error("failed to mark task processing", "error", err)
		w.returnToQueue(ctx, item, err, log)
		return
	}

	taskCtx := w.service.Registry().RegisterTask(ctx, item.TaskID)
	defer w.service.Registry().UnregisterTask(item.TaskID)

	stopHeartbeat := w.startHeartbeat(ctx, item, taskCtx, log)

	result, execErr := w.executor.Execute(taskCtx, item, w.progressFunc(item, taskCtx))

	stopHeartbeat()

	w.finish(ctx, item, taskCtx, result, execErr, log)
}

// startHeartbeat renews the item's claim on an interval until the returned
// stop function is called. A failed renewal means ownership is gone; the
// execution context is cancelled so the executor stops touching shared state.
func (w *Worker) startHeartbeat(
	ctx context.Context,
	item *queue.Item,
	taskCtx context.Context,
	log *slog.Logger,
) func() {
	done := make(chan struct{})
	var once sync.Once

	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()

		ticker := time.NewTicker(w.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-taskCtx.Done():
				return
			case <-ticker.C:
				ok, err := w.queue.ExtendClaim(ctx, item.TaskID, w.config.InstanceID, w.config.LeaseExtension)
				if err != nil {
					log.Warn("claim heartbeat failed", "error", err)
					continue
				}
				if !ok {
					log.Warn("claim lost, cancelling execution")
					w.service.Registry().TryCancel(item.TaskID)
					return
				}
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
		hbWG.Wait()
	}
}

// progressFunc builds the executor's progress callback for one item.
func (w *Worker) progressFunc(item *queue.Item, taskCtx context.Context) ProgressFunc {
	return func(ctx context.Context, progress int, message string) error {
		if err := taskCtx.Err(); err != nil {
			return err
		}

		update := store.StatusUpdate{
			Progress:        &progress,
			ProgressMessage: &message,
		}
		err := w.service.UpdateTaskStatus(ctx, item.TaskID, domain.TaskStateProcessing, update)
		if err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				// The task reached a terminal state underneath us, most
				// commonly a cancellation issued on another instance.
				return fmt.Errorf("task %s no longer processing: %w", item.TaskID, context.Canceled)
			}
			return err
		}
		return nil
	}
}

// finish records the execution outcome against the task record and settles
// the queue item.
func (w *Worker) finish(
	ctx context.Context,
	item *queue.Item,
	taskCtx context.Context,
	result json.RawMessage,
	execErr error,
	log *slog.Logger,
) {
	if taskCtx.Err() != nil || errors.Is(execErr, context.Canceled) {
		// Cancellation usually originates from CancelTask, which already
		// wrote the terminal state; the idempotent re-apply covers the case
		// where it did not (for example a lost claim).
		err := w.service.UpdateTaskStatus(ctx, item.TaskID, domain.TaskStateCancelled, store.StatusUpdate{})
		if err != nil && !errors.Is(err, store.ErrInvalidTransition) {
			log.Error("failed to mark task cancelled", "error", err)
		}
		log.Info("task cancelled during execution")
		w.acknowledge(ctx, item, log)
		return
	}

	if execErr != nil {
		if item.RetryCount >= w.config.MaxRetries {
			msg := execErr.Error()
			err := w.service.UpdateTaskStatus(ctx, item.TaskID, domain.TaskStateFailed, store.StatusUpdate{
				ErrorMessage: &msg,
			})
			if err != nil {
				log.Error("failed to mark task failed", "error", err)
			}
			log.Warn("task failed permanently", "error", execErr, "max_retries", w.config.MaxRetries)
			w.acknowledge(ctx, item, log)
			return
		}

		log.Warn("task attempt failed, returning to queue", "error", execErr)
		w.returnToQueue(ctx, item, execErr, log)
		return
	}

	err := w.service.UpdateTaskStatus(ctx, item.TaskID, domain.TaskStateCompleted, store.StatusUpdate{
		Result: result,
	})
	if err != nil {
		log.Error("failed to mark task completed", "error", err)
	} else {
		log.Info("task completed")
	}
	w.acknowledge(ctx, item, log)
}

// acknowledge removes the settled item from the queue.
func (w *Worker) acknowledge(ctx context.Context, item *queue.Item, log *slog.Logger) {
	if err := w.queue.Acknowledge(ctx, item.TaskID, w.config.InstanceID); err != nil {
		log.Error("failed to acknowledge queue item", "error", err)
	}
}

// returnToQueue hands a retryable item back with the default backoff. The
// task record stays in processing; the next attempt re-applies the state.
func (w *Worker) returnToQueue(ctx context.Context, item *queue.Item, cause error, log *slog.Logger) {
	if err := w.queue.ReturnToQueue(ctx, item.TaskID, cause.Error(), 0); err != nil {
		log.Error("failed to return item to queue", "error", err)
	}
}
