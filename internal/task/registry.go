package task

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// registryEntry pairs a task's execution context with its cancel function.
type registryEntry struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Registry is the process-local table correlating task IDs with cancellation
// signals. It is never persisted or shared across instances: a cancellation
// request for a task owned by another instance cannot be resolved here and
// must travel through the task store's cancelled state instead, which the
// owning worker observes at its next checkpoint.
type Registry struct {
	mu      sync.Mutex
	entries map[uuid.UUID]registryEntry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[uuid.UUID]registryEntry),
	}
}

// RegisterTask derives a cancellable context for a task's local execution
// and records it. Registering an already-registered task replaces the old
// entry after cancelling it.
func (r *Registry) RegisterTask(parent context.Context, taskID uuid.UUID) context.Context {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	if old, ok := r.entries[taskID]; ok {
		old.cancel()
	}
	r.entries[taskID] = registryEntry{ctx: ctx, cancel: cancel}
	r.mu.Unlock()

	return ctx
}

// UnregisterTask removes a task's entry and releases its context resources.
func (r *Registry) UnregisterTask(taskID uuid.UUID) {
	r.mu.Lock()
	entry, ok := r.entries[taskID]
	if ok {
		delete(r.entries, taskID)
	}
	r.mu.Unlock()

	if ok {
		entry.cancel()
	}
}

// TryCancel signals cancellation if the task is currently registered on
// this process. Returns false when the task is not executing here.
func (r *Registry) TryCancel(taskID uuid.UUID) bool {
	r.mu.Lock()
	entry, ok := r.entries[taskID]
	r.mu.Unlock()

	if !ok {
		return false
	}

	entry.cancel()
	return true
}

// TryGetCancellationToken exposes a registered task's context so nested
// work can propagate the cancellation signal.
func (r *Registry) TryGetCancellationToken(taskID uuid.UUID) (context.Context, bool) {
	r.mu.Lock()
	entry, ok := r.entries[taskID]
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	return entry.ctx, true
}

// CancelAll signals every locally running task. Invoked on graceful
// shutdown to unblock cooperative cancellation checks.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	entries := make([]registryEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.Unlock()

	for _, entry := range entries {
		entry.cancel()
	}
}

// Len reports how many tasks are currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
