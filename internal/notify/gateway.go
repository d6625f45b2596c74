package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/phrazzld/dispatch-api/internal/domain"
)

// Sink is the push transport behind the gateway. Implementations deliver a
// single event to the real-time channel; internal/notify decides whether a
// delivery may be attempted at all.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// HealthStatus is the operational view of the notification channel.
type HealthStatus struct {
	Healthy       bool       `json:"healthy"`
	CircuitState  string     `json:"circuit_state"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

// Gateway pushes task lifecycle events through a circuit breaker. Delivery
// failure is recorded and counted but never surfaced to the caller that
// triggered the notification.
type Gateway struct {
	sink    Sink
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// NewGateway creates a Gateway with its own breaker.
func NewGateway(sink Sink, config BreakerConfig, logger *slog.Logger) *Gateway {
	return &Gateway{
		sink:    sink,
		breaker: NewCircuitBreaker(config),
		logger:  logger.With("component", "notification_gateway"),
	}
}

// NotifyTaskStarted pushes a task.started event.
func (g *Gateway) NotifyTaskStarted(ctx context.Context, task *domain.Task) {
	g.deliver(ctx, eventFromTask(EventTaskStarted, task))
}

// NotifyTaskProgress pushes a task.progress event.
func (g *Gateway) NotifyTaskProgress(ctx context.Context, task *domain.Task) {
	g.deliver(ctx, eventFromTask(EventTaskProgress, task))
}

// NotifyTaskCompleted pushes a task.completed event carrying the result.
func (g *Gateway) NotifyTaskCompleted(ctx context.Context, task *domain.Task) {
	event := eventFromTask(EventTaskCompleted, task)
	event.Result = task.Result
	g.deliver(ctx, event)
}

// NotifyTaskFailed pushes a task.failed event carrying the error message.
func (g *Gateway) NotifyTaskFailed(ctx context.Context, task *domain.Task) {
	g.deliver(ctx, eventFromTask(EventTaskFailed, task))
}

// NotifyTaskCancelled pushes a task.cancelled event.
func (g *Gateway) NotifyTaskCancelled(ctx context.Context, task *domain.Task) {
	g.deliver(ctx, eventFromTask(EventTaskCancelled, task))
}

// NotifyTaskTimedOut pushes a task.timed_out event.
func (g *Gateway) NotifyTaskTimedOut(ctx context.Context, task *domain.Task) {
	g.deliver(ctx, eventFromTask(EventTaskTimedOut, task))
}

// deliver attempts one circuit-gated push. Failures are logged and counted,
// never returned.
func (g *Gateway) deliver(ctx context.Context, event Event) {
	if !g.breaker.Allow() {
		g.logger.Debug("notification dropped, circuit open",
			"event_type", event.Type,
			"task_id", event.TaskID)
		return
	}

	if err := g.sink.Publish(ctx, event); err != nil {
		g.breaker.RecordFailure()
		g.logger.Warn("notification delivery failed",
			"event_type", event.Type,
			"task_id", event.TaskID,
			"circuit_state", g.breaker.State(),
			"error", err)
		return
	}

	g.breaker.RecordSuccess()
}

// GetCircuitState returns the breaker's current state.
func (g *Gateway) GetCircuitState() CircuitState {
	return g.breaker.State()
}

// ResetCircuitBreaker manually returns the breaker to closed.
func (g *Gateway) ResetCircuitBreaker() {
	g.breaker.Reset()
	g.logger.Info("circuit breaker manually reset")
}

// GetHealthStatus reports the channel's health for observability endpoints.
func (g *Gateway) GetHealthStatus() HealthStatus {
	state := g.breaker.State()

	status := HealthStatus{
		Healthy:      state == CircuitClosed,
		CircuitState: string(state),
	}

	if last := g.breaker.LastFailure(); !last.IsZero() {
		status.LastFailureAt = &last
	}

	return status
}

// eventFromTask builds the common event envelope for a task.
func eventFromTask(eventType EventType, task *domain.Task) Event {
	return Event{
		Type:      eventType,
		TaskID:    task.ID,
		TenantID:  task.TenantID,
		TaskType:  task.Type,
		State:     task.State,
		Progress:  task.Progress,
		Message:   task.ProgressMessage,
		Error:     task.ErrorMessage,
		Timestamp: time.Now().UTC(),
	}
}
