package postgres

import (
	"context"

	"github.com/upb/tenantguard/config"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services/policy"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db      *DB
	auditDB *DB // Optional: separate DB for audit logs
	logger  *zap.Logger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	f := &RepositoryFactory{db: db, logger: logger}

	if cfg.AuditDatabase != nil {
		auditDB, err := NewDB(*cfg.AuditDatabase, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		f.auditDB = auditDB
	}

	return f, nil
}

// NewRepositoryFactoryFromDB builds a factory over an existing pool
func NewRepositoryFactoryFromDB(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

// InitSchema initializes the main schema and, when configured, the separate audit schema
func (f *RepositoryFactory) InitSchema(ctx context.Context, registry *policy.Registry) error {
	if err := f.db.InitSchema(ctx, registry); err != nil {
		return err
	}
	if f.auditDB != nil {
		return f.auditDB.InitAuditSchema(ctx)
	}
	return nil
}

// NewRepositories creates all repository instances. Contacts are wrapped so the engine
// is re-applied at the data layer; cache may be nil.
func (f *RepositoryFactory) NewRepositories(engine *policy.Engine, cache *policy.ParentCache) *repositories.Repositories {
	auditDB := f.db
	if f.auditDB != nil {
		auditDB = f.auditDB
	}
	contacts := NewContactRepository(f.db, cache, f.logger)
	return &repositories.Repositories{
		Principals:   NewPrincipalRepository(f.db, f.logger),
		Tenants:      NewTenantRepository(f.db, f.logger),
		Contacts:     NewScopedContactRepository(contacts, engine),
		ContactOwner: contacts,
		ContactNotes: NewContactNoteRepository(f.db, cache, f.logger),
		Billing:      NewBillingRepository(f.db, f.logger),
		Preferences:  NewPreferenceRepository(f.db, f.logger),
		AuditLogs:    NewAuditRepository(auditDB, f.logger),
	}
}

// GetTransactionManager returns a transaction manager
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// GetAuditDB returns the audit database, falling back to the main pool when none is configured
func (f *RepositoryFactory) GetAuditDB() *DB {
	if f.auditDB != nil {
		return f.auditDB
	}
	return f.db
}

// Close closes the database connection(s)
func (f *RepositoryFactory) Close() error {
	if f.auditDB != nil {
		_ = f.auditDB.Close()
	}
	return f.db.Close()
}
