package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
	"go.uber.org/zap"
)

// PrincipalRepository implements the repositories.PrincipalRepository interface
type PrincipalRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPrincipalRepository creates a new principal repository
func NewPrincipalRepository(db *DB, logger *zap.Logger) repositories.PrincipalRepository {
	return &PrincipalRepository{
		db:     db,
		logger: logger,
	}
}

const principalColumns = `id, external_id, email, tenant_id, role, permissions, is_super_admin, created_at, updated_at`

// Create creates a new principal
func (r *PrincipalRepository) Create(ctx context.Context, p *models.Principal) error {
	query := `
		INSERT INTO principals (` + principalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		p.ID,
		p.ExternalID,
		p.Email,
		p.TenantID,
		p.Role,
		pq.Array(p.Permissions),
		p.IsSuperAdmin,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create principal: %w", err)
	}

	r.logger.Debug("principal created", zap.String("id", p.ID.String()))
	return nil
}

// GetByID retrieves a principal by ID
func (r *PrincipalRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByExternalID retrieves the principal behind an identity provider subject. This is
// the lookup every request's tenant resolution goes through.
func (r *PrincipalRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE external_id = $1`
	return r.getOne(ctx, query, externalID)
}

// ListByTenant retrieves the members of a tenant
func (r *PrincipalRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE tenant_id = $1 ORDER BY created_at`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}
	defer rows.Close()

	var out []*models.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating principal rows: %w", err)
	}
	return out, nil
}

func (r *PrincipalRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Principal, error) {
	executor := GetExecutor(ctx, r.db)
	p, err := scanPrincipal(executor.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrincipal(row rowScanner) (*models.Principal, error) {
	p := &models.Principal{}
	var tenantID uuid.NullUUID
	var perms pq.StringArray
	if err := row.Scan(
		&p.ID,
		&p.ExternalID,
		&p.Email,
		&tenantID,
		&p.Role,
		&perms,
		&p.IsSuperAdmin,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if tenantID.Valid {
		id := tenantID.UUID
		p.TenantID = &id
	}
	p.Permissions = []string(perms)
	return p, nil
}
