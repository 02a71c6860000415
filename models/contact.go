package models

import (
	"time"

	"github.com/google/uuid"
)

// Contact is a standard tenant-scoped record
type Contact struct {
	ID        uuid.UUID `json:"id" db:"id"`
	TenantID  uuid.UUID `json:"tenant_id" db:"tenant_id"` // set at creation, never reassigned
	Name      string    `json:"name" db:"name"`
	Phone     string    `json:"phone" db:"phone"`
	Email     string    `json:"email,omitempty" db:"email"`
	CreatedBy uuid.UUID `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Contact model
func (Contact) TableName() string {
	return "contacts"
}

// OwnerTenantID implements OwnedRecord
func (c *Contact) OwnerTenantID() uuid.UUID {
	return c.TenantID
}

// NewContact creates a new Contact owned by tenantID
func NewContact(tenantID, createdBy uuid.UUID, name, phone, email string) *Contact {
	now := time.Now()
	return &Contact{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		Phone:     phone,
		Email:     email,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ContactNote is owned through its parent contact; its tenant is derived, not stored
type ContactNote struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ContactID uuid.UUID `json:"contact_id" db:"contact_id"`
	AuthorID  uuid.UUID `json:"author_id" db:"author_id"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the ContactNote model
func (ContactNote) TableName() string {
	return "contact_notes"
}

// NewContactNote creates a note attached to a contact
func NewContactNote(contactID, authorID uuid.UUID, body string) *ContactNote {
	return &ContactNote{
		ID:        uuid.New(),
		ContactID: contactID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: time.Now(),
	}
}

// BillingSettings holds a tenant's billing configuration (admin-only mutation)
type BillingSettings struct {
	TenantID     uuid.UUID `json:"tenant_id" db:"tenant_id"`
	BillingEmail string    `json:"billing_email" db:"billing_email"`
	Plan         string    `json:"plan" db:"plan"`
	TaxID        string    `json:"tax_id,omitempty" db:"tax_id"`
	UpdatedBy    uuid.UUID `json:"updated_by" db:"updated_by"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the BillingSettings model
func (BillingSettings) TableName() string {
	return "billing_settings"
}

// OwnerTenantID implements OwnedRecord
func (b *BillingSettings) OwnerTenantID() uuid.UUID {
	return b.TenantID
}

// UserPreference is a personal-scope record visible only to its owning principal
type UserPreference struct {
	ID          uuid.UUID `json:"id" db:"id"`
	TenantID    uuid.UUID `json:"tenant_id" db:"tenant_id"`
	PrincipalID uuid.UUID `json:"principal_id" db:"principal_id"`
	Key         string    `json:"key" db:"key"`
	Value       string    `json:"value" db:"value"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the UserPreference model
func (UserPreference) TableName() string {
	return "user_preferences"
}

// OwnerTenantID implements OwnedRecord
func (u *UserPreference) OwnerTenantID() uuid.UUID {
	return u.TenantID
}
