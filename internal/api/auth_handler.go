package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/dispatch-api/internal/service/auth"
)

// AuthHandler handles authentication-related API requests.
type AuthHandler struct {
	tokens    *auth.TokenService
	validator *validator.Validate
}

// NewAuthHandler creates a new AuthHandler with the given dependencies.
func NewAuthHandler(tokens *auth.TokenService) *AuthHandler {
	return &AuthHandler{
		tokens:    tokens,
		validator: validator.New(),
	}
}

// IssueToken handles the /api/auth/token endpoint. Tenants exchange their
// integer ID and API key for a bearer token.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest

	if err := DecodeJSON(r, &req); err != nil {
		RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	token, err := h.tokens.IssueToken(r.Context(), req.TenantID, req.APIKey)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			RespondWithError(w, r, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		slog.Error("failed to issue token", "error", err, "tenant_id", req.TenantID)
		RespondWithError(w, r, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	RespondWithJSON(w, r, http.StatusOK, TokenResponse{
		AccessToken: token,
	})
}
