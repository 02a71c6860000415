package services

import (
	"context"
	"fmt"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
)

// WithTransaction executes a function within a database transaction.
// Automatically commits on success, rolls back on error or panic.
func WithTransaction(ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := txMgr.Begin(ctx)
	if err != nil {
		return WrapError(ErrorTypeInternal, ErrTransactionFailed.Message, fmt.Errorf("begin: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx.Context(), tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return WrapError(ErrorTypeInternal, ErrTransactionFailed.Message, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// WithPrincipalTransaction runs fn in a transaction whose session carries the principal's
// tenant facts, so row-level security filters every statement fn issues. A missing
// principal, or a tenantless principal that is not a super-admin, never opens a transaction.
func WithPrincipalTransaction(ctx context.Context, txMgr repositories.TransactionManager, tc *models.TenantContext, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	if err := requireScope(tc); err != nil {
		return err
	}
	return txMgr.InPrincipalTransaction(ctx, tc, fn)
}

// WithPrincipalTransactionResult is WithPrincipalTransaction for functions that return a value
func WithPrincipalTransactionResult[T any](ctx context.Context, txMgr repositories.TransactionManager, tc *models.TenantContext, fn func(ctx context.Context, tx repositories.Transaction) (T, error)) (T, error) {
	var result T
	if err := requireScope(tc); err != nil {
		return result, err
	}

	err := txMgr.InPrincipalTransaction(ctx, tc, func(ctx context.Context, tx repositories.Transaction) error {
		var fnErr error
		result, fnErr = fn(ctx, tx)
		return fnErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func requireScope(tc *models.TenantContext) error {
	if tc == nil {
		return ErrTenantScopeMissing
	}
	if !tc.HasTenant() && !tc.IsSuperAdmin() {
		return ErrTenantScopeMissing
	}
	return nil
}
