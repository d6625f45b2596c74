package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/dispatch-api/internal/domain"
	"github.com/phrazzld/dispatch-api/internal/store"
)

// MemoryTenantStore implements store.TenantStore over a fixed tenant map.
type MemoryTenantStore struct {
	mu      sync.Mutex
	tenants map[int64]*domain.Tenant
}

// NewMemoryTenantStore creates a MemoryTenantStore holding the given tenants.
func NewMemoryTenantStore(tenants ...*domain.Tenant) *MemoryTenantStore {
	byID := make(map[int64]*domain.Tenant, len(tenants))
	for _, tenant := range tenants {
		byID[tenant.ID] = tenant
	}
	return &MemoryTenantStore{tenants: byID}
}

// GetTenant returns a copy of the stored tenant.
func (m *MemoryTenantStore) GetTenant(_ context.Context, tenantID int64) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, ok := m.tenants[tenantID]
	if !ok {
		return nil, store.ErrTenantNotFound
	}
	copied := *tenant
	return &copied, nil
}
