package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/dispatch-api/internal/platform/logger"
	"github.com/phrazzld/dispatch-api/internal/store"
)

// TokenService exchanges tenant API credentials for access tokens.
type TokenService struct {
	tenants  store.TenantStore
	verifier KeyVerifier
	jwt      JWTService
}

// NewTokenService creates a TokenService.
func NewTokenService(tenants store.TenantStore, verifier KeyVerifier, jwtService JWTService) *TokenService {
	return &TokenService{
		tenants:  tenants,
		verifier: verifier,
		jwt:      jwtService,
	}
}

// IssueToken verifies the tenant's API key and returns a signed access
// token. Every credential failure maps to ErrInvalidCredentials.
func (s *TokenService) IssueToken(ctx context.Context, tenantID int64, apiKey string) (string, error) {
	log := logger.FromContext(ctx)

	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrTenantNotFound) {
			log.Debug("token request for unknown tenant", "tenant_id", tenantID)
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("failed to load tenant: %w", err)
	}

	if !tenant.Active {
		log.Warn("token request for inactive tenant", "tenant_id", tenantID)
		return "", ErrInvalidCredentials
	}

	if err := s.verifier.Compare(tenant.APIKeyHash, apiKey); err != nil {
		log.Warn("token request with wrong API key", "tenant_id", tenantID)
		return "", ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateToken(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	log.Info("issued access token", "tenant_id", tenantID)
	return token, nil
}
