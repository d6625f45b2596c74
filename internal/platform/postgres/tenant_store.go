package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/phrazzld/dispatch-api/internal/domain"
	"github.com/phrazzld/dispatch-api/internal/store"
)

// PostgresTenantStore implements the store.TenantStore interface using PostgreSQL.
type PostgresTenantStore struct {
	db store.DBTX
}

// NewPostgresTenantStore creates a new PostgresTenantStore.
func NewPostgresTenantStore(db store.DBTX) *PostgresTenantStore {
	return &PostgresTenantStore{
		db: db,
	}
}

// GetTenant retrieves a tenant by its integer key.
func (s *PostgresTenantStore) GetTenant(ctx context.Context, tenantID int64) (*domain.Tenant, error) {
	query := `
		SELECT id, name, api_key_hash, active, created_at
		FROM tenants
		WHERE id = $1
	`

	var tenant domain.Tenant
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.APIKeyHash,
		&tenant.Active,
		&tenant.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return &tenant, nil
}
