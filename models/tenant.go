package models

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Tenant represents the unit of data ownership in the multi-tenant system
type Tenant struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"` // URL-friendly identifier
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// NewTenant creates a new Tenant instance
func NewTenant(name, slug string) *Tenant {
	now := time.Now()
	return &Tenant{
		ID:        uuid.New(),
		Name:      name,
		Slug:      slug,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TenantContext is the read-only view of the resolved principal handed to business handlers.
// Fields are unexported so handlers cannot rewrite tenant membership mid-request.
type TenantContext struct {
	principalID  uuid.UUID
	tenantID     uuid.UUID
	role         Role
	permissions  PermissionSet
	isSuperAdmin bool
	email        string
}

// NewTenantContext builds a TenantContext. tenantID is uuid.Nil for super-admins without a tenant.
func NewTenantContext(principalID, tenantID uuid.UUID, role Role, perms PermissionSet, superAdmin bool, email string) *TenantContext {
	return &TenantContext{
		principalID:  principalID,
		tenantID:     tenantID,
		role:         role,
		permissions:  perms.Clone(),
		isSuperAdmin: superAdmin,
		email:        email,
	}
}

func (c *TenantContext) PrincipalID() uuid.UUID { return c.principalID }
func (c *TenantContext) TenantID() uuid.UUID    { return c.tenantID }
func (c *TenantContext) Role() Role             { return c.role }
func (c *TenantContext) IsSuperAdmin() bool     { return c.isSuperAdmin }
func (c *TenantContext) Email() string          { return c.email }

// HasTenant reports whether the principal belongs to a tenant
func (c *TenantContext) HasTenant() bool {
	return c.tenantID != uuid.Nil
}

// HasPermission reports whether the principal holds p
func (c *TenantContext) HasPermission(p Permission) bool {
	return c.permissions.Has(p)
}

// Permissions returns a copy of the principal's permissions
func (c *TenantContext) Permissions() PermissionSet {
	return c.permissions.Clone()
}

type tenantContextKey struct{}

// ContextWithTenant binds tc to ctx for code below the HTTP layer
func ContextWithTenant(ctx context.Context, tc *TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tc)
}

// TenantFromContext returns the TenantContext bound to ctx, or nil
func TenantFromContext(ctx context.Context) *TenantContext {
	tc, _ := ctx.Value(tenantContextKey{}).(*TenantContext)
	return tc
}
