package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
)

// MockTransactionManager is a mock implementation of TransactionManager
type MockTransactionManager struct {
	mock.Mock
}

func (m *MockTransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	args := m.Called(ctx)
	if tx := args.Get(0); tx != nil {
		return tx.(repositories.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}

// InPrincipalTransaction runs fn against the configured transaction unless an error is configured
func (m *MockTransactionManager) InPrincipalTransaction(ctx context.Context, tc *models.TenantContext, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	args := m.Called(ctx, tc)
	if err := args.Error(1); err != nil {
		return err
	}
	return fn(ctx, args.Get(0).(repositories.Transaction))
}

// MockTransaction is a mock implementation of Transaction
type MockTransaction struct {
	mock.Mock
	committed  bool
	rolledback bool
}

func (m *MockTransaction) Commit() error {
	args := m.Called()
	m.committed = true
	return args.Error(0)
}

func (m *MockTransaction) Rollback() error {
	args := m.Called()
	m.rolledback = true
	return args.Error(0)
}

func (m *MockTransaction) Context() context.Context {
	args := m.Called()
	return args.Get(0).(context.Context)
}

func TestWithTransaction_Success(t *testing.T) {
	ctx := context.Background()
	mockTxMgr := new(MockTransactionManager)
	mockTx := new(MockTransaction)

	mockTxMgr.On("Begin", ctx).Return(mockTx, nil)
	mockTx.On("Context").Return(ctx)
	mockTx.On("Commit").Return(nil)

	err := WithTransaction(ctx, mockTxMgr, func(ctx context.Context, tx repositories.Transaction) error {
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, mockTx.committed)
	assert.False(t, mockTx.rolledback)
	mockTxMgr.AssertExpectations(t)
	mockTx.AssertExpectations(t)
}

func TestWithTransaction_ErrorInFunction(t *testing.T) {
	ctx := context.Background()
	mockTxMgr := new(MockTransactionManager)
	mockTx := new(MockTransaction)
	expectedErr := errors.New("operation failed")

	mockTxMgr.On("Begin", ctx).Return(mockTx, nil)
	mockTx.On("Context").Return(ctx)
	mockTx.On("Rollback").Return(nil)

	err := WithTransaction(ctx, mockTxMgr, func(ctx context.Context, tx repositories.Transaction) error {
		return expectedErr
	})

	assert.Equal(t, expectedErr, err)
	assert.False(t, mockTx.committed)
	assert.True(t, mockTx.rolledback)
	mockTx.AssertExpectations(t)
}

func TestWithTransaction_BeginError(t *testing.T) {
	ctx := context.Background()
	mockTxMgr := new(MockTransactionManager)

	mockTxMgr.On("Begin", ctx).Return(nil, errors.New("pool exhausted"))

	err := WithTransaction(ctx, mockTxMgr, func(ctx context.Context, tx repositories.Transaction) error {
		return nil
	})

	assert.True(t, IsInternalError(err))
	assert.Contains(t, err.Error(), "pool exhausted")
	mockTxMgr.AssertExpectations(t)
}

func TestWithTransaction_CommitError(t *testing.T) {
	ctx := context.Background()
	mockTxMgr := new(MockTransactionManager)
	mockTx := new(MockTransaction)

	mockTxMgr.On("Begin", ctx).Return(mockTx, nil)
	mockTx.On("Context").Return(ctx)
	mockTx.On("Commit").Return(errors.New("serialization failure"))

	err := WithTransaction(ctx, mockTxMgr, func(ctx context.Context, tx repositories.Transaction) error {
		return nil
	})

	assert.True(t, IsInternalError(err))
	assert.Contains(t, err.Error(), "commit")
	assert.True(t, mockTx.committed)
}

func TestWithTransaction_RollbackError(t *testing.T) {
	ctx := context.Background()
	mockTxMgr := new(MockTransactionManager)
	mockTx := new(MockTransaction)

	mockTxMgr.On("Begin", ctx).Return(mockTx, nil)
	mockTx.On("Context").Return(ctx)
	mockTx.On("Rollback").Return(errors.New("rollback failed"))

	err := WithTransaction(ctx, mockTxMgr, func(ctx context.Context, tx repositories.Transaction) error {
		return errors.New("operation failed")
	})

	assert.Contains(t, err.Error(), "transaction error")
	assert.Contains(t, err.Error(), "rollback error")
	assert.True(t, mockTx.rolledback)
}

func TestWithTransaction_PanicRollsBack(t *testing.T) {
	ctx := context.Background()
	mockTxMgr := new(MockTransactionManager)
	mockTx := new(MockTransaction)

	mockTxMgr.On("Begin", ctx).Return(mockTx, nil)
	mockTx.On("Context").Return(ctx)
	mockTx.On("Rollback").Return(nil)

	assert.Panics(t, func() {
		_ = WithTransaction(ctx, mockTxMgr, func(ctx context.Context, tx repositories.Transaction) error {
			panic("boom")
		})
	})
	assert.True(t, mockTx.rolledback)
	assert.False(t, mockTx.committed)
}

func TestWithPrincipalTransaction_RequiresScope(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		tc   *models.TenantContext
	}{
		{"no principal", nil},
		{"tenantless non super-admin", models.NewTenantContext(uuid.New(), uuid.Nil, models.RoleAdmin, nil, false, "a@example.com")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockTxMgr := new(MockTransactionManager)
			called := false

			err := WithPrincipalTransaction(ctx, mockTxMgr, tt.tc, func(ctx context.Context, tx repositories.Transaction) error {
				called = true
				return nil
			})

			assert.ErrorIs(t, err, ErrTenantScopeMissing)
			assert.False(t, called)
			mockTxMgr.AssertNotCalled(t, "InPrincipalTransaction", mock.Anything, mock.Anything)
		})
	}
}

func TestWithPrincipalTransaction_DelegatesWithContext(t *testing.T) {
	ctx := context.Background()
	tc := models.NewTenantContext(uuid.New(), uuid.New(), models.RoleAgent, models.BundleFor(models.RoleAgent), false, "agent@example.com")
	mockTxMgr := new(MockTransactionManager)
	mockTx := new(MockTransaction)
	mockTxMgr.On("InPrincipalTransaction", ctx, tc).Return(mockTx, nil)

	var got repositories.Transaction
	err := WithPrincipalTransaction(ctx, mockTxMgr, tc, func(ctx context.Context, tx repositories.Transaction) error {
		got = tx
		return nil
	})

	assert.NoError(t, err)
	assert.Same(t, mockTx, got)
	mockTxMgr.AssertExpectations(t)
}

func TestWithPrincipalTransaction_SuperAdminWithoutTenant(t *testing.T) {
	ctx := context.Background()
	tc := models.NewTenantContext(uuid.New(), uuid.Nil, models.RoleOwner, nil, true, "root@example.com")
	mockTxMgr := new(MockTransactionManager)
	mockTxMgr.On("InPrincipalTransaction", ctx, tc).Return(new(MockTransaction), nil)

	err := WithPrincipalTransaction(ctx, mockTxMgr, tc, func(ctx context.Context, tx repositories.Transaction) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestWithPrincipalTransactionResult(t *testing.T) {
	ctx := context.Background()
	tc := models.NewTenantContext(uuid.New(), uuid.New(), models.RoleViewer, nil, false, "v@example.com")

	t.Run("success", func(t *testing.T) {
		mockTxMgr := new(MockTransactionManager)
		mockTxMgr.On("InPrincipalTransaction", ctx, tc).Return(new(MockTransaction), nil)

		result, err := WithPrincipalTransactionResult(ctx, mockTxMgr, tc, func(ctx context.Context, tx repositories.Transaction) (int, error) {
			return 42, nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 42, result)
	})

	t.Run("function error zeroes result", func(t *testing.T) {
		mockTxMgr := new(MockTransactionManager)
		mockTxMgr.On("InPrincipalTransaction", ctx, tc).Return(new(MockTransaction), nil)

		result, err := WithPrincipalTransactionResult(ctx, mockTxMgr, tc, func(ctx context.Context, tx repositories.Transaction) (string, error) {
			return "partial", ErrContactNotFound
		})
		assert.ErrorIs(t, err, ErrContactNotFound)
		assert.Equal(t, "", result)
	})

	t.Run("begin error", func(t *testing.T) {
		mockTxMgr := new(MockTransactionManager)
		mockTxMgr.On("InPrincipalTransaction", ctx, tc).Return(nil, ErrDatabaseError)

		_, err := WithPrincipalTransactionResult(ctx, mockTxMgr, tc, func(ctx context.Context, tx repositories.Transaction) (int, error) {
			return 1, nil
		})
		assert.True(t, IsInternalError(err))
	})
}
