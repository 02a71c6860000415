package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/tenantguard/config"
	"github.com/upb/tenantguard/services/policy"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return Wrap(db, logger), nil
}

// Wrap adopts an existing pool, such as a sqlmock connection in tests
func Wrap(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// coreSchema holds the tenant-owned tables. Every tenant-owned row carries the tenant it
// belongs to, except notes, which inherit it from their contact.
const coreSchema = `
	CREATE TABLE IF NOT EXISTS tenants (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(63) NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS principals (
		id UUID PRIMARY KEY,
		external_id VARCHAR(255) NOT NULL UNIQUE,
		email VARCHAR(255) NOT NULL,
		tenant_id UUID REFERENCES tenants(id) ON DELETE CASCADE,
		role VARCHAR(32) NOT NULL DEFAULT '',
		permissions TEXT[] NOT NULL DEFAULT '{}',
		is_super_admin BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (tenant_id IS NOT NULL OR is_super_admin)
	);

	CREATE TABLE IF NOT EXISTS contacts (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		name VARCHAR(255) NOT NULL,
		phone VARCHAR(32) NOT NULL,
		email VARCHAR(255) NOT NULL DEFAULT '',
		created_by UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS contact_notes (
		id UUID PRIMARY KEY,
		contact_id UUID NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
		author_id UUID NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS billing_settings (
		tenant_id UUID PRIMARY KEY REFERENCES tenants(id) ON DELETE CASCADE,
		billing_email VARCHAR(255) NOT NULL,
		plan VARCHAR(64) NOT NULL,
		tax_id VARCHAR(64) NOT NULL DEFAULT '',
		updated_by UUID NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS user_preferences (
		id UUID PRIMARY KEY,
		tenant_id UUID REFERENCES tenants(id) ON DELETE CASCADE,
		principal_id UUID NOT NULL REFERENCES principals(id) ON DELETE CASCADE,
		key VARCHAR(128) NOT NULL,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (principal_id, key)
	);

	CREATE TABLE IF NOT EXISTS rate_limit_events (
		id BIGSERIAL PRIMARY KEY,
		scope_key VARCHAR(255) NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_principals_tenant_id ON principals(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_contacts_tenant_id ON contacts(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_contact_notes_contact_id ON contact_notes(contact_id);
	CREATE INDEX IF NOT EXISTS idx_user_preferences_principal_id ON user_preferences(principal_id);
	CREATE INDEX IF NOT EXISTS idx_rate_limit_events_scope ON rate_limit_events(scope_key, timestamp);
`

// auditSchema is append-only: the trigger rejects UPDATE and DELETE for every role,
// including the table owner.
const auditSchema = `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id CHAR(26) PRIMARY KEY,
		actor_id UUID,
		tenant_id UUID,
		action VARCHAR(64) NOT NULL,
		target_type VARCHAR(64) NOT NULL DEFAULT '',
		target_id VARCHAR(255) NOT NULL DEFAULT '',
		outcome VARCHAR(16) NOT NULL,
		reason VARCHAR(128) NOT NULL DEFAULT '',
		stage VARCHAR(32) NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}',
		source_ip VARCHAR(45) NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		request_id VARCHAR(255) NOT NULL DEFAULT '',
		timestamp TIMESTAMPTZ NOT NULL,
		chain_id CHAR(26) NOT NULL,
		sequence BIGINT NOT NULL,
		prev_hash CHAR(64) NOT NULL,
		hash CHAR(64) NOT NULL,
		UNIQUE (chain_id, sequence)
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_tenant_id ON audit_logs(tenant_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_request_id ON audit_logs(request_id);

	CREATE OR REPLACE FUNCTION audit_logs_reject_mutation() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'audit_logs is append-only' USING ERRCODE = 'insufficient_privilege';
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS audit_logs_immutable ON audit_logs;
	CREATE TRIGGER audit_logs_immutable
		BEFORE UPDATE OR DELETE ON audit_logs
		FOR EACH ROW EXECUTE FUNCTION audit_logs_reject_mutation();

	DROP TRIGGER IF EXISTS audit_logs_no_truncate ON audit_logs;
	CREATE TRIGGER audit_logs_no_truncate
		BEFORE TRUNCATE ON audit_logs
		FOR EACH STATEMENT EXECUTE FUNCTION audit_logs_reject_mutation();
`

// InitSchema creates the tables, the audit immutability triggers and the row-level security
// policies of every registered resource type
func (db *DB) InitSchema(ctx context.Context, registry *policy.Registry) error {
	if _, err := db.ExecContext(ctx, coreSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	statements, err := RowLevelSecurity(registry)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply row level security: %w", err)
		}
	}

	db.logger.Info("database schema initialized successfully",
		zap.Int("rls_statements", len(statements)))
	return nil
}

// InitAuditSchema initializes the audit database schema (audit_logs only, no FK).
// Use for the separate audit database when DATABASE_URL_AUDIT is set.
func (db *DB) InitAuditSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	db.logger.Info("audit schema initialized successfully")
	return nil
}
