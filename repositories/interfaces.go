package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tenantguard/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error

	// InPrincipalTransaction is InTransaction with the principal's tenant facts bound to the
	// session so row-level security policies evaluate against them
	InPrincipalTransaction(ctx context.Context, tc *models.TenantContext, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// AuditFilter narrows an audit query. Zero fields do not filter.
type AuditFilter struct {
	TenantID *uuid.UUID
	ActorID  *uuid.UUID
	Action   models.AuditAction
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// AuditRepository is append-only: there is deliberately no update or delete
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByID retrieves an audit log by its ULID
	GetByID(ctx context.Context, id string) (*models.AuditLog, error)

	// Query retrieves audit logs matching the filter, newest first
	Query(ctx context.Context, filter AuditFilter) ([]*models.AuditLog, error)

	// ChainRecords retrieves one writer chain in sequence order
	ChainRecords(ctx context.Context, chainID string) ([]*models.AuditLog, error)
}

// PrincipalRepository handles principal lookups for tenant context resolution
type PrincipalRepository interface {
	// Create creates a new principal
	Create(ctx context.Context, principal *models.Principal) error

	// GetByID retrieves a principal by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Principal, error)

	// GetByExternalID retrieves a principal by identity provider subject
	GetByExternalID(ctx context.Context, externalID string) (*models.Principal, error)

	// ListByTenant retrieves the members of a tenant
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Principal, error)
}

// TenantRepository handles tenant (root entity) data operations
type TenantRepository interface {
	// Create creates a new tenant
	Create(ctx context.Context, tenant *models.Tenant) error

	// GetByID retrieves a tenant by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)

	// GetBySlug retrieves a tenant by slug
	GetBySlug(ctx context.Context, slug string) (*models.Tenant, error)

	// List retrieves all tenants with pagination
	List(ctx context.Context, limit, offset int) ([]*models.Tenant, error)

	// Update updates a tenant's mutable fields
	Update(ctx context.Context, tenant *models.Tenant) error

	// Delete deletes a tenant
	Delete(ctx context.Context, id uuid.UUID) error
}

// ContactRepository handles contact data operations
type ContactRepository interface {
	// Create creates a new contact
	Create(ctx context.Context, contact *models.Contact) error

	// GetByID retrieves a contact by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Contact, error)

	// ListByTenant retrieves a tenant's contacts with pagination
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.Contact, error)

	// Update updates a contact's mutable fields; tenant_id is never written
	Update(ctx context.Context, contact *models.Contact) error

	// Delete deletes a contact
	Delete(ctx context.Context, id uuid.UUID) error
}

// OwnerLookup reports which tenant owns a record. It runs before the caller is
// authorized, so it must not depend on the caller's session.
type OwnerLookup interface {
	TenantOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
}

// ContactNoteRepository handles notes attached to contacts
type ContactNoteRepository interface {
	// Create creates a new note
	Create(ctx context.Context, note *models.ContactNote) error

	// ListByContact retrieves the notes of a contact, oldest first
	ListByContact(ctx context.Context, contactID uuid.UUID) ([]*models.ContactNote, error)

	// ParentTenantID returns the tenant owning the note's parent contact
	ParentTenantID(ctx context.Context, contactID uuid.UUID) (uuid.UUID, error)
}

// BillingRepository handles per-tenant billing settings
type BillingRepository interface {
	// Get retrieves the billing settings of a tenant
	Get(ctx context.Context, tenantID uuid.UUID) (*models.BillingSettings, error)

	// Upsert creates or replaces the billing settings of a tenant
	Upsert(ctx context.Context, settings *models.BillingSettings) error
}

// PreferenceRepository handles personal-scope preferences
type PreferenceRepository interface {
	// ListByPrincipal retrieves all preferences of a principal
	ListByPrincipal(ctx context.Context, principalID uuid.UUID) ([]*models.UserPreference, error)

	// Get retrieves one preference
	Get(ctx context.Context, principalID uuid.UUID, key string) (*models.UserPreference, error)

	// Upsert creates or replaces a preference
	Upsert(ctx context.Context, pref *models.UserPreference) error
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Principals   PrincipalRepository
	Tenants      TenantRepository
	Contacts     ContactRepository
	ContactOwner OwnerLookup
	ContactNotes ContactNoteRepository
	Billing      BillingRepository
	Preferences  PreferenceRepository
	AuditLogs    AuditRepository
}
