package mocks

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/dispatch-api/internal/domain"
	"github.com/phrazzld/dispatch-api/internal/store"
)

// MemoryTaskStore implements store.TaskStore in memory with the same
// transition enforcement as the Postgres store.
type MemoryTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task

	// Error injection for failure-path tests. When set, the matching
	// operation returns the error without touching state.
	CreateTaskErr error
	UpdateErr     error
}

// NewMemoryTaskStore creates an empty MemoryTaskStore.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

// CreateTask stores a copy of the task, rejecting duplicate IDs.
func (m *MemoryTaskStore) CreateTask(_ context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateTaskErr != nil {
		return m.CreateTaskErr
	}
	if _, ok := m.tasks[task.ID]; ok {
		return store.ErrDuplicate
	}

	copied := *task
	m.tasks[task.ID] = &copied
	return nil
}

// GetTask returns a copy of the stored task.
func (m *MemoryTaskStore) GetTask(_ context.Context, taskID uuid.UUID) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	copied := *task
	return &copied, nil
}

// UpdateTaskStatus applies a transition under the domain transition table.
func (m *MemoryTaskStore) UpdateTaskStatus(
	_ context.Context,
	taskID uuid.UUID,
	newState domain.TaskState,
	update store.StatusUpdate,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdateErr != nil {
		return m.UpdateErr
	}

	task, ok := m.tasks[taskID]
	if !ok {
		return store.ErrTaskNotFound
	}

	if !domain.CanTransition(task.State, newState) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, task.State, newState)
	}
	if task.State == newState && newState.IsTerminal() {
		return nil
	}

	task.State = newState
	if update.Progress != nil && *update.Progress > task.Progress {
		task.Progress = *update.Progress
	}
	if update.ProgressMessage != nil {
		task.ProgressMessage = *update.ProgressMessage
	}
	if update.Result != nil {
		task.Result = update.Result
	}
	if update.ErrorMessage != nil {
		task.ErrorMessage = *update.ErrorMessage
	}
	task.UpdatedAt = time.Now().UTC()
	if newState.IsTerminal() {
		now := task.UpdatedAt
		task.CompletedAt = &now
	}
	return nil
}

// DeleteTask removes a stored task.
func (m *MemoryTaskStore) DeleteTask(_ context.Context, taskID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[taskID]; !ok {
		return store.ErrTaskNotFound
	}
	delete(m.tasks, taskID)
	return nil
}

// CleanupOldTasks removes terminal tasks completed before the cutoff.
func (m *MemoryTaskStore) CleanupOldTasks(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var removed int64
	for id, task := range m.tasks {
		if task.IsTerminal() && task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed, nil
}

// WithTx returns the store itself; memory stores are not transactional.
func (m *MemoryTaskStore) WithTx(_ *sql.Tx) store.TaskStore {
	return m
}

// Len reports how many tasks are stored.
func (m *MemoryTaskStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// SetCompletedAt backdates a task's completion timestamp for retention tests.
func (m *MemoryTaskStore) SetCompletedAt(taskID uuid.UUID, completedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.tasks[taskID]; ok {
		t := completedAt
		task.CompletedAt = &t
	}
}
