package mocks

import (
	"context"
	"strconv"
	"time"

	"github.com/phrazzld/dispatch-api/internal/service/auth"
)

// MockJWTService implements auth.JWTService for testing.
type MockJWTService struct {
	// Custom behavior functions; when nil, the default behavior applies.
	GenerateTokenFn func(ctx context.Context, tenantID int64) (string, error)
	ValidateTokenFn func(ctx context.Context, tokenString string) (*auth.Claims, error)

	// Default values used when no Fn override is set. Token maps to Claims
	// via ValidTokens; any other token returns Err or ErrInvalidToken.
	ValidTokens map[string]*auth.Claims
	Err         error
}

var _ auth.JWTService = (*MockJWTService)(nil)

// NewMockJWTService creates a MockJWTService that accepts the given token
// for the given tenant.
func NewMockJWTService(token string, tenantID int64) *MockJWTService {
	return &MockJWTService{
		ValidTokens: map[string]*auth.Claims{
			token: {
				TenantID:  tenantID,
				Subject:   strconv.FormatInt(tenantID, 10),
				IssuedAt:  time.Now(),
				ExpiresAt: time.Now().Add(time.Hour),
			},
		},
	}
}

// GenerateToken returns a static token naming the tenant.
func (m *MockJWTService) GenerateToken(ctx context.Context, tenantID int64) (string, error) {
	if m.GenerateTokenFn != nil {
		return m.GenerateTokenFn(ctx, tenantID)
	}
	if m.Err != nil {
		return "", m.Err
	}
	return "mock-token-" + strconv.FormatInt(tenantID, 10), nil
}

// ValidateToken resolves the token against ValidTokens.
func (m *MockJWTService) ValidateToken(ctx context.Context, tokenString string) (*auth.Claims, error) {
	if m.ValidateTokenFn != nil {
		return m.ValidateTokenFn(ctx, tokenString)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if claims, ok := m.ValidTokens[tokenString]; ok {
		return claims, nil
	}
	return nil, auth.ErrInvalidToken
}
