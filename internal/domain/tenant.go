package domain

import (
	"errors"
	"time"
)

// Common validation errors for Tenant
var (
	ErrEmptyTenantName    = errors.New("tenant name cannot be empty")
	ErrEmptyTenantKeyHash = errors.New("tenant API key hash cannot be empty")
)

// Tenant represents a principal that owns tasks in the gateway. Tenants
// authenticate with an API key; only the bcrypt hash of the key is stored.
type Tenant struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	APIKeyHash string    `json:"-"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks if the Tenant has valid data.
func (t *Tenant) Validate() error {
	if t.Name == "" {
		return ErrEmptyTenantName
	}

	if t.APIKeyHash == "" {
		return ErrEmptyTenantKeyHash
	}

	return nil
}
