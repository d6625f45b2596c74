package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/phrazzld/dispatch-api/internal/api/shared"
)

// errInvalidTaskID marks a malformed or missing task ID path parameter.
var errInvalidTaskID = errors.New("invalid task ID")

// DecodeJSON decodes the request body into the given struct.
func DecodeJSON(r *http.Request, v interface{}) error {
	return shared.DecodeJSON(r, v)
}

// RespondWithJSON writes a JSON response with the given status code and data.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	shared.RespondWithJSON(w, r, status, data)
}

// RespondWithError writes a JSON error response with the given status code and message.
func RespondWithError(w http.ResponseWriter, r *http.Request, status int, message string) {
	shared.RespondWithError(w, r, status, message)
}

// HandleAPIError maps an internal error to a sanitized response and logs the
// detail. An empty userMessage selects the safe message for the error type.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, userMessage string) {
	status := MapErrorToStatusCode(err)
	if userMessage == "" {
		userMessage = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, status, userMessage, err)
}

// getTenantIDFromContext extracts the authenticated tenant from the request
// context, where the authentication middleware placed it.
func getTenantIDFromContext(r *http.Request) (int64, bool) {
	tenantID, ok := r.Context().Value(shared.TenantIDContextKey).(int64)
	if !ok || tenantID <= 0 {
		return 0, false
	}
	return tenantID, true
}

// getPathTaskID extracts and parses the task UUID from the URL path.
func getPathTaskID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, errInvalidTaskID
	}

	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, errInvalidTaskID
	}

	return id, nil
}
