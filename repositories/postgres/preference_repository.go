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

// PreferenceRepository implements the repositories.PreferenceRepository interface
type PreferenceRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPreferenceRepository creates a new preference repository
func NewPreferenceRepository(db *DB, logger *zap.Logger) repositories.PreferenceRepository {
	return &PreferenceRepository{
		db:     db,
		logger: logger,
	}
}

// ListByPrincipal retrieves all preferences of a principal
func (r *PreferenceRepository) ListByPrincipal(ctx context.Context, principalID uuid.UUID) ([]*models.UserPreference, error) {
	query := `
		SELECT id, tenant_id, principal_id, key, value, updated_at
		FROM user_preferences
		WHERE principal_id = $1
		ORDER BY key
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	defer rows.Close()

	var prefs []*models.UserPreference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		prefs = append(prefs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating preference rows: %w", err)
	}
	return prefs, nil
}

// Get retrieves one preference
func (r *PreferenceRepository) Get(ctx context.Context, principalID uuid.UUID, key string) (*models.UserPreference, error) {
	query := `
		SELECT id, tenant_id, principal_id, key, value, updated_at
		FROM user_preferences
		WHERE principal_id = $1 AND key = $2
	`

	executor := GetExecutor(ctx, r.db)
	p, err := scanPreference(executor.QueryRowContext(ctx, query, principalID, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrPreferenceNotFound
		}
		return nil, fmt.Errorf("failed to get preference: %w", err)
	}
	return p, nil
}

// Upsert creates or replaces a preference
func (r *PreferenceRepository) Upsert(ctx context.Context, p *models.UserPreference) error {
	query := `
		INSERT INTO user_preferences (id, tenant_id, principal_id, key, value, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (principal_id, key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	var tenantID interface{}
	if p.TenantID != uuid.Nil {
		tenantID = p.TenantID
	}

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, p.ID, tenantID, p.PrincipalID, p.Key, p.Value, p.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert preference: %w", err)
	}

	r.logger.Debug("preference saved", zap.String("principal_id", p.PrincipalID.String()), zap.String("key", p.Key))
	return nil
}

func scanPreference(row rowScanner) (*models.UserPreference, error) {
	p := &models.UserPreference{}
	var tenantID uuid.NullUUID
	if err := row.Scan(&p.ID, &tenantID, &p.PrincipalID, &p.Key, &p.Value, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.TenantID = tenantID.UUID
	return p, nil
}
