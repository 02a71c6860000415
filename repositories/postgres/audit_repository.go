package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
	"go.uber.org/zap"
)

// AuditRepository implements the repositories.AuditRepository interface.
// It only ever inserts and reads; the table's triggers refuse anything else.
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

const auditColumns = `id, actor_id, tenant_id, action, target_type, target_id, outcome, reason, stage,
		       metadata, source_ip, user_agent, request_id, timestamp,
		       chain_id, sequence, prev_hash, hash`

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	// An empty payload is stored as JSON null so the record hashes the same after a round trip
	metadata := string(log.Metadata)
	if metadata == "" {
		metadata = "null"
	}

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		log.ID,
		nullableUUID(log.ActorID),
		nullableUUID(log.TenantID),
		log.Action,
		log.TargetType,
		log.TargetID,
		log.Outcome,
		log.Reason,
		log.Stage,
		metadata,
		log.SourceIP,
		log.UserAgent,
		log.RequestID,
		log.Timestamp,
		log.ChainID,
		log.Sequence,
		log.PrevHash,
		log.Hash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID), zap.String("action", string(log.Action)))
	return nil
}

// GetByID retrieves an audit log by its ULID
func (r *AuditRepository) GetByID(ctx context.Context, id string) (*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	log, err := scanAuditLog(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrAuditLogNotFound
		}
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	return log, nil
}

// Query retrieves audit logs matching the filter, newest first
func (r *AuditRepository) Query(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, error) {
	query, args := buildAuditQuery(filter)
	return r.queryAuditLogs(ctx, query, args...)
}

// ChainRecords retrieves one writer chain in sequence order
func (r *AuditRepository) ChainRecords(ctx context.Context, chainID string) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE chain_id = $1 ORDER BY sequence`
	return r.queryAuditLogs(ctx, query, chainID)
}

func buildAuditQuery(f repositories.AuditFilter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.TenantID != nil {
		add("tenant_id = $%d", *f.TenantID)
	}
	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if !f.Since.IsZero() {
		add("timestamp >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("timestamp <= $%d", f.Until)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + auditColumns + ` FROM audit_logs`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, f.Limit, f.Offset)
	fmt.Fprintf(&b, " ORDER BY timestamp DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return b.String(), args
}

// queryAuditLogs is a helper method to query multiple audit logs
func (r *AuditRepository) queryAuditLogs(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}

func scanAuditLog(row rowScanner) (*models.AuditLog, error) {
	log := &models.AuditLog{}
	var actorID, tenantID uuid.NullUUID
	var metadata []byte
	err := row.Scan(
		&log.ID,
		&actorID,
		&tenantID,
		&log.Action,
		&log.TargetType,
		&log.TargetID,
		&log.Outcome,
		&log.Reason,
		&log.Stage,
		&metadata,
		&log.SourceIP,
		&log.UserAgent,
		&log.RequestID,
		&log.Timestamp,
		&log.ChainID,
		&log.Sequence,
		&log.PrevHash,
		&log.Hash,
	)
	if err != nil {
		return nil, err
	}
	if actorID.Valid {
		id := actorID.UUID
		log.ActorID = &id
	}
	if tenantID.Valid {
		id := tenantID.UUID
		log.TenantID = &id
	}
	log.Metadata = metadata
	return log, nil
}

func nullableUUID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
