package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/services/policy"
	"go.uber.org/zap"
)

const contactOwnerQuery = `SELECT tenant_id FROM contacts WHERE id = $1`

// contactOwners resolves and caches the tenant owning a contact. Contacts and their
// notes share it, so a lookup made for one serves the other.
type contactOwners struct {
	db    *DB
	cache *policy.ParentCache
}

func (o contactOwners) key(id uuid.UUID) policy.ParentKey {
	return policy.ParentKey{Type: string(models.ResourceContact), ID: id}
}

func (o contactOwners) tenantOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	if o.cache != nil {
		if tenantID, ok := o.cache.Get(o.key(id)); ok {
			return tenantID, nil
		}
	}

	tenantID, err := lookupOwner(ctx, o.db, contactOwnerQuery, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, services.ErrContactNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to resolve contact owner: %w", err)
	}

	if o.cache != nil {
		o.cache.Set(o.key(id), tenantID)
	}
	return tenantID, nil
}

func (o contactOwners) forget(id uuid.UUID) {
	if o.cache != nil {
		o.cache.Invalidate(o.key(id))
	}
}

// ContactRepository implements the repositories.ContactRepository interface
type ContactRepository struct {
	db     *DB
	owners contactOwners
	logger *zap.Logger
}

// NewContactRepository creates a new contact repository. cache may be nil.
func NewContactRepository(db *DB, cache *policy.ParentCache, logger *zap.Logger) *ContactRepository {
	return &ContactRepository{
		db:     db,
		owners: contactOwners{db: db, cache: cache},
		logger: logger,
	}
}

var _ repositories.ContactRepository = (*ContactRepository)(nil)

// Create creates a new contact
func (r *ContactRepository) Create(ctx context.Context, c *models.Contact) error {
	query := `
		INSERT INTO contacts (id, tenant_id, name, phone, email, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		c.ID,
		c.TenantID,
		c.Name,
		c.Phone,
		c.Email,
		c.CreatedBy,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}

	r.logger.Debug("contact created", zap.String("id", c.ID.String()), zap.String("tenant_id", c.TenantID.String()))
	return nil
}

// GetByID retrieves a contact by ID
func (r *ContactRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Contact, error) {
	query := `
		SELECT id, tenant_id, name, phone, email, created_by, created_at, updated_at
		FROM contacts
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	c, err := scanContact(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrContactNotFound
		}
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return c, nil
}

// ListByTenant retrieves a tenant's contacts with pagination
func (r *ContactRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.Contact, error) {
	query := `
		SELECT id, tenant_id, name, phone, email, created_by, created_at, updated_at
		FROM contacts
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contact rows: %w", err)
	}
	return contacts, nil
}

// Update updates a contact's mutable fields. tenant_id is absent from the statement.
func (r *ContactRepository) Update(ctx context.Context, c *models.Contact) error {
	query := `
		UPDATE contacts
		SET name = $2, phone = $3, email = $4, updated_at = $5
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, c.ID, c.Name, c.Phone, c.Email, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}
	if err := requireRow(result, services.ErrContactNotFound); err != nil {
		return err
	}

	r.logger.Debug("contact updated", zap.String("id", c.ID.String()))
	return nil
}

// Delete deletes a contact and its notes
func (r *ContactRepository) Delete(ctx context.Context, id uuid.UUID) error {
	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	if err := requireRow(result, services.ErrContactNotFound); err != nil {
		return err
	}
	r.owners.forget(id)

	r.logger.Debug("contact deleted", zap.String("id", id.String()))
	return nil
}

// TenantOf returns the tenant owning a contact, for the authorization chain's loaders.
// It reads outside the caller's session because it runs before the caller is authorized.
func (r *ContactRepository) TenantOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	return r.owners.tenantOf(ctx, id)
}

func scanContact(row rowScanner) (*models.Contact, error) {
	c := &models.Contact{}
	if err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.Name,
		&c.Phone,
		&c.Email,
		&c.CreatedBy,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return c, nil
}

// ContactNoteRepository implements the repositories.ContactNoteRepository interface
type ContactNoteRepository struct {
	db     *DB
	owners contactOwners
	logger *zap.Logger
}

// NewContactNoteRepository creates a new contact note repository. cache may be nil.
func NewContactNoteRepository(db *DB, cache *policy.ParentCache, logger *zap.Logger) repositories.ContactNoteRepository {
	return &ContactNoteRepository{
		db:     db,
		owners: contactOwners{db: db, cache: cache},
		logger: logger,
	}
}

// Create creates a new note
func (r *ContactNoteRepository) Create(ctx context.Context, n *models.ContactNote) error {
	query := `
		INSERT INTO contact_notes (id, contact_id, author_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, n.ID, n.ContactID, n.AuthorID, n.Body, n.CreatedAt); err != nil {
		return fmt.Errorf("failed to create contact note: %w", err)
	}

	r.logger.Debug("contact note created", zap.String("id", n.ID.String()), zap.String("contact_id", n.ContactID.String()))
	return nil
}

// ListByContact retrieves the notes of a contact, oldest first
func (r *ContactNoteRepository) ListByContact(ctx context.Context, contactID uuid.UUID) ([]*models.ContactNote, error) {
	query := `
		SELECT id, contact_id, author_id, body, created_at
		FROM contact_notes
		WHERE contact_id = $1
		ORDER BY created_at
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contact notes: %w", err)
	}
	defer rows.Close()

	var notes []*models.ContactNote
	for rows.Next() {
		n := &models.ContactNote{}
		if err := rows.Scan(&n.ID, &n.ContactID, &n.AuthorID, &n.Body, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contact note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contact note rows: %w", err)
	}
	return notes, nil
}

// ParentTenantID returns the tenant owning the note's parent contact
func (r *ContactNoteRepository) ParentTenantID(ctx context.Context, contactID uuid.UUID) (uuid.UUID, error) {
	return r.owners.tenantOf(ctx, contactID)
}
