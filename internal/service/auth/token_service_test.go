package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/dispatch-api/internal/config"
	"github.com/phrazzld/dispatch-api/internal/domain"
	"github.com/phrazzld/dispatch-api/internal/store"
)

// fakeTenantStore serves a fixed set of tenants.
type fakeTenantStore struct {
	tenants map[int64]*domain.Tenant
}

func (f *fakeTenantStore) GetTenant(_ context.Context, tenantID int64) (*domain.Tenant, error) {
	tenant, ok := f.tenants[tenantID]
	if !ok {
		return nil, store.ErrTenantNotFound
	}
	return tenant, nil
}

func newTestTokenService(t *testing.T) (*TokenService, JWTService) {
	t.Helper()

	jwtService, err := NewJWTService(config.AuthConfig{
		JWTSecret:            testSecret,
		TokenLifetimeMinutes: 60,
	})
	require.NoError(t, err)

	hash, err := HashKey("correct-api-key")
	require.NoError(t, err)

	tenants := &fakeTenantStore{tenants: map[int64]*domain.Tenant{
		1: {ID: 1, Name: "acme", APIKeyHash: hash, Active: true},
		2: {ID: 2, Name: "dormant", APIKeyHash: hash, Active: false},
	}}

	return NewTokenService(tenants, NewBcryptVerifier(), jwtService), jwtService
}

func TestIssueToken(t *testing.T) {
	t.Parallel()

	svc, jwtService := newTestTokenService(t)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, 1, "correct-api-key")
	require.NoError(t, err)

	claims, err := jwtService.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), claims.TenantID)
}

func TestIssueTokenRejectsWrongKey(t *testing.T) {
	t.Parallel()

	svc, _ := newTestTokenService(t)

	_, err := svc.IssueToken(context.Background(), 1, "wrong-api-key")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestIssueTokenRejectsUnknownTenant(t *testing.T) {
	t.Parallel()

	svc, _ := newTestTokenService(t)

	_, err := svc.IssueToken(context.Background(), 99, "correct-api-key")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestIssueTokenRejectsInactiveTenant(t *testing.T) {
	t.Parallel()

	svc, _ := newTestTokenService(t)

	_, err := svc.IssueToken(context.Background(), 2, "correct-api-key")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
