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
	"go.uber.org/zap"
)

// BillingRepository implements the repositories.BillingRepository interface
type BillingRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewBillingRepository creates a new billing repository
func NewBillingRepository(db *DB, logger *zap.Logger) repositories.BillingRepository {
	return &BillingRepository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves the billing settings of a tenant
func (r *BillingRepository) Get(ctx context.Context, tenantID uuid.UUID) (*models.BillingSettings, error) {
	query := `
		SELECT tenant_id, billing_email, plan, tax_id, updated_by, updated_at
		FROM billing_settings
		WHERE tenant_id = $1
	`

	executor := GetExecutor(ctx, r.db)
	b := &models.BillingSettings{}
	err := executor.QueryRowContext(ctx, query, tenantID).Scan(
		&b.TenantID,
		&b.BillingEmail,
		&b.Plan,
		&b.TaxID,
		&b.UpdatedBy,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrBillingNotFound
		}
		return nil, fmt.Errorf("failed to get billing settings: %w", err)
	}
	return b, nil
}

// Upsert creates or replaces the billing settings of a tenant. The conflict target is the
// tenant, so the owning tenant is never rewritten.
func (r *BillingRepository) Upsert(ctx context.Context, b *models.BillingSettings) error {
	query := `
		INSERT INTO billing_settings (tenant_id, billing_email, plan, tax_id, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id) DO UPDATE
		SET billing_email = EXCLUDED.billing_email,
		    plan = EXCLUDED.plan,
		    tax_id = EXCLUDED.tax_id,
		    updated_by = EXCLUDED.updated_by,
		    updated_at = EXCLUDED.updated_at
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		b.TenantID,
		b.BillingEmail,
		b.Plan,
		b.TaxID,
		b.UpdatedBy,
		b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert billing settings: %w", err)
	}

	r.logger.Debug("billing settings saved", zap.String("tenant_id", b.TenantID.String()))
	return nil
}
