package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/phrazzld/dispatch-api/internal/generation"
	"github.com/phrazzld/dispatch-api/internal/task"
)

// Bounds for the blocking wait endpoint.
const (
	defaultWaitTimeout = 30 * time.Second
	maxWaitTimeout     = 120 * time.Second
	waitPollInterval   = 500 * time.Millisecond
)

// TaskHandler handles generation task API requests.
type TaskHandler struct {
	service   *task.Service
	validator *validator.Validate
}

// NewTaskHandler creates a new TaskHandler with the given dependencies.
func NewTaskHandler(service *task.Service) *TaskHandler {
	return &TaskHandler{
		service:   service,
		validator: validator.New(),
	}
}

// CreateGeneration handles POST /api/generations. The task is accepted for
// asynchronous execution; the response is the pending record.
func (h *TaskHandler) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := getTenantIDFromContext(r)
	if !ok {
		RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req CreateGenerationRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	payload, err := json.Marshal(generation.Params{
		TaskType: req.Type,
		Prompt:   req.Prompt,
		Model:    req.Model,
		Steps:    req.Steps,
	})
	if err != nil {
		slog.Error("failed to marshal generation payload", "error", err)
		RespondWithError(w, r, http.StatusInternalServerError, "Failed to create task")
		return
	}

	created, err := h.service.EnqueueTask(r.Context(), req.Type, tenantID, payload, req.Metadata)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}

	RespondWithJSON(w, r, http.StatusAccepted, newTaskResponse(created))
}

// GetGeneration handles GET /api/generations/{id}.
func (h *TaskHandler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	tenantID, taskID, ok := h.authorizedTaskID(w, r)
	if !ok {
		return
	}

	found, err := h.service.GetTaskStatus(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	// Tasks of other tenants are indistinguishable from absent ones.
	if found.TenantID != tenantID {
		RespondWithError(w, r, http.StatusNotFound, "Task not found")
		return
	}

	RespondWithJSON(w, r, http.StatusOK, newTaskResponse(found))
}

// WaitGeneration handles GET /api/generations/{id}/wait. It blocks until the
// task reaches a terminal state or the timeout elapses, then returns the
// last observed record either way.
func (h *TaskHandler) WaitGeneration(w http.ResponseWriter, r *http.Request) {
	tenantID, taskID, ok := h.authorizedTaskID(w, r)
	if !ok {
		return
	}

	timeout := defaultWaitTimeout
	if raw := r.URL.Query().Get("timeout_seconds"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			RespondWithError(w, r, http.StatusBadRequest, "Invalid timeout_seconds")
			return
		}
		timeout = time.Duration(seconds) * time.Second
		if timeout > maxWaitTimeout {
			timeout = maxWaitTimeout
		}
	}

	found, err := h.service.GetTaskStatus(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if found.TenantID != tenantID {
		RespondWithError(w, r, http.StatusNotFound, "Task not found")
		return
	}

	observed, err := h.service.PollTaskUntilCompleted(r.Context(), taskID, waitPollInterval, timeout)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	RespondWithJSON(w, r, http.StatusOK, newTaskResponse(observed))
}

// CancelGeneration handles DELETE /api/generations/{id}. Cancelling an
// already-terminal task succeeds and returns the stored record unchanged.
func (h *TaskHandler) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	tenantID, taskID, ok := h.authorizedTaskID(w, r)
	if !ok {
		return
	}

	found, err := h.service.GetTaskStatus(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if found.TenantID != tenantID {
		RespondWithError(w, r, http.StatusNotFound, "Task not found")
		return
	}

	cancelled, err := h.service.CancelTask(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to cancel task")
		return
	}

	RespondWithJSON(w, r, http.StatusOK, newTaskResponse(cancelled))
}

// QueueStats handles GET /api/queue/stats.
func (h *TaskHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	pending, err := h.service.QueueDepth(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read queue stats")
		return
	}

	active, err := h.service.ActiveTaskCount(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read queue stats")
		return
	}

	RespondWithJSON(w, r, http.StatusOK, QueueStatsResponse{
		PendingTasks: pending,
		ActiveTasks:  active,
	})
}

// NotificationHealth handles GET /api/notifications/health.
func (h *TaskHandler) NotificationHealth(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, r, http.StatusOK, NotificationHealthResponse{
		HealthStatus: h.service.NotificationHealth(),
	})
}

// ResetNotificationCircuit handles POST /api/notifications/reset.
func (h *TaskHandler) ResetNotificationCircuit(w http.ResponseWriter, r *http.Request) {
	h.service.ResetNotificationCircuit()
	RespondWithJSON(w, r, http.StatusOK, NotificationHealthResponse{
		HealthStatus: h.service.NotificationHealth(),
	})
}

// authorizedTaskID extracts the tenant from context and the task ID from the
// path, writing the error response itself when either is missing.
func (h *TaskHandler) authorizedTaskID(w http.ResponseWriter, r *http.Request) (int64, uuid.UUID, bool) {
	tenantID, ok := getTenantIDFromContext(r)
	if !ok {
		RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return 0, uuid.Nil, false
	}

	taskID, err := getPathTaskID(r, "id")
	if err != nil {
		RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return 0, uuid.Nil, false
	}

	return tenantID, taskID, true
}
