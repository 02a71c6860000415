package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"go.uber.org/zap"
)

// transactionContextKey is the context key for storing transactions
type transactionContextKey struct{}

// bindSessionQuery binds the principal's facts for the lifetime of the transaction only,
// so nothing leaks to the next borrower of the pooled connection
const bindSessionQuery = `
	SELECT set_config('app.tenant_id', $1, true),
	       set_config('app.principal_id', $2, true),
	       set_config('app.role', $3, true),
	       set_config('app.super_admin', $4, true)
`

// TransactionManager implements the TransactionManager interface
type TransactionManager struct {
	db     *DB
	logger *zap.Logger
}

// NewTransactionManager creates a new transaction manager
func NewTransactionManager(db *DB, logger *zap.Logger) repositories.TransactionManager {
	return &TransactionManager{
		db:     db,
		logger: logger,
	}
}

// Begin starts a new transaction
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	sqlTx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	tm.logger.Debug("transaction started")

	t := &Transaction{tx: sqlTx, db: tm.db, logger: tm.logger}
	t.ctx = context.WithValue(ctx, transactionContextKey{}, t)
	return t, nil
}

// InTransaction executes a function within a transaction
// Automatically commits if function succeeds, rolls back on error
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := tm.Begin(ctx)
	if err != nil {
		return err
	}
	return tm.run(tx, fn)
}

// InPrincipalTransaction binds tc's tenant, principal, role and super-admin flag to the
// session before running fn, so row-level security evaluates every statement against them.
// fn's context also carries tc for the scoped repositories.
func (tm *TransactionManager) InPrincipalTransaction(ctx context.Context, tc *models.TenantContext, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	if tc == nil {
		return errors.New("principal transaction requires a tenant context")
	}

	tx, err := tm.Begin(models.ContextWithTenant(ctx, tc))
	if err != nil {
		return err
	}

	t := tx.(*Transaction)
	if _, err := t.tx.ExecContext(t.ctx, bindSessionQuery, sessionArgs(tc)...); err != nil {
		_ = t.Rollback()
		return fmt.Errorf("failed to bind session: %w", err)
	}
	return tm.run(tx, fn)
}

func (tm *TransactionManager) run(tx repositories.Transaction, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	if err := fn(tx.Context(), tx); err != nil {
		// Rollback on error
		if rbErr := tx.Rollback(); rbErr != nil {
			tm.logger.Error("failed to rollback transaction",
				zap.Error(rbErr),
				zap.NamedError("original_error", err),
			)
		}
		return err
	}

	// Commit on success
	return tx.Commit()
}

func sessionArgs(tc *models.TenantContext) []interface{} {
	tenant := ""
	if tc.HasTenant() {
		tenant = tc.TenantID().String()
	}
	return []interface{}{tenant, tc.PrincipalID().String(), string(tc.Role()), strconv.FormatBool(tc.IsSuperAdmin())}
}

// Transaction implements the Transaction interface
type Transaction struct {
	tx     *sql.Tx
	db     *DB
	ctx    context.Context
	logger *zap.Logger
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.logger.Debug("transaction committed")
	return nil
}

// Rollback rolls back the transaction
func (t *Transaction) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		// Ignore error if transaction is already closed
		if errors.Is(err, sql.ErrTxDone) {
			return nil
		}
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	t.logger.Debug("transaction rolled back")
	return nil
}

// Context returns the transaction context
func (t *Transaction) Context() context.Context {
	return t.ctx
}

// GetTransactionFromContext retrieves a transaction from the context if available
func GetTransactionFromContext(ctx context.Context) (*Transaction, bool) {
	tx, ok := ctx.Value(transactionContextKey{}).(*Transaction)
	return tx, ok
}

// Executor is an interface that can execute queries (both *sql.DB and *sql.Tx)
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// GetExecutor returns the appropriate executor based on the context
// If a transaction on db is present in the context, it returns the transaction
// Otherwise, it returns the database connection
func GetExecutor(ctx context.Context, db *DB) Executor {
	if tx, ok := GetTransactionFromContext(ctx); ok && tx.db == db {
		return tx.tx
	}
	return db.DB
}

// lookupOwner reads the tenant column of one row outside any principal's session. It
// answers "who owns this" for the authorization chain and nothing else.
func lookupOwner(ctx context.Context, db *DB, query string, id uuid.UUID) (uuid.UUID, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin ownership lookup: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT set_config('app.super_admin', 'true', true)`); err != nil {
		return uuid.Nil, fmt.Errorf("failed to bind lookup session: %w", err)
	}

	var owner uuid.UUID
	if err := tx.QueryRowContext(ctx, query, id).Scan(&owner); err != nil {
		return uuid.Nil, err
	}
	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to finish ownership lookup: %w", err)
	}
	return owner, nil
}
