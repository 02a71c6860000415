package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/tenantguard/cognito"
	"github.com/upb/tenantguard/config"
	"github.com/upb/tenantguard/internal/observability"
	"github.com/upb/tenantguard/middleware"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/repositories/postgres"
	"github.com/upb/tenantguard/services/audit"
	"github.com/upb/tenantguard/services/policy"
	"github.com/upb/tenantguard/services/ratelimit"
	"github.com/upb/tenantguard/services/tenancy"
	"go.uber.org/zap"
)

// Default token issuer and audience for the shared-secret validator
const (
	defaultHMACIssuer   = "tenantguard"
	defaultHMACAudience = "tenantguard"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB
	AuditDB *postgres.DB
	Redis   redis.UniversalClient // nil unless REDIS_ADDR is set
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager

	// Authorization core
	Registry    *policy.Registry
	Engine      *policy.Engine
	ParentCache *policy.ParentCache
	Limiter     *ratelimit.Limiter
	AuditWriter *audit.Writer
	Resolver    *tenancy.Resolver
	Chain       *middleware.Chain

	stopWorkers    context.CancelFunc
	stopCacheSweep chan struct{}
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository factory: %w", err)
	}

	if err := factory.GetDB().PingContext(ctx); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	registry := policy.MustDefaultRegistry()
	if err := factory.InitSchema(ctx, registry); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			_ = factory.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
	}

	return Assemble(cfg, logger, factory, rdb)
}

// Assemble wires the authorization core over already-open connections. rdb may be nil
// unless the redis rate limit backend is selected. The schema is assumed to exist.
func Assemble(cfg *config.Config, logger *zap.Logger, factory *postgres.RepositoryFactory, rdb redis.UniversalClient) (*Dependencies, error) {
	workerCtx, cancel := context.WithCancel(context.Background())
	deps := &Dependencies{
		Config:         cfg,
		Logger:         logger,
		Metrics:        observability.NewMetrics(cfg.Observability.MetricsNamespace),
		RepoFactory:    factory,
		DB:             factory.GetDB(),
		AuditDB:        factory.GetAuditDB(),
		Redis:          rdb,
		stopWorkers:    cancel,
		stopCacheSweep: make(chan struct{}),
	}

	deps.initPolicy(cfg)
	deps.initRepositories()

	if err := deps.initLimiter(workerCtx, cfg); err != nil {
		deps.stopBackground()
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	if err := deps.initResolver(cfg); err != nil {
		deps.stopBackground()
		return nil, fmt.Errorf("failed to initialize tenant resolver: %w", err)
	}

	if err := deps.initAudit(cfg); err != nil {
		deps.stopBackground()
		return nil, fmt.Errorf("failed to initialize audit writer: %w", err)
	}

	if err := deps.initChain(cfg); err != nil {
		deps.stopBackground()
		_ = deps.AuditWriter.Stop(cfg.Audit.DrainTimeout)
		return nil, fmt.Errorf("failed to initialize authorization chain: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initPolicy builds the frozen registry, the engine and the ownership cache
func (d *Dependencies) initPolicy(cfg *config.Config) {
	d.Registry = policy.MustDefaultRegistry()
	d.Engine = policy.NewEngine(d.Registry)
	d.ParentCache = policy.NewParentCache(cfg.Tenancy.ParentCacheMax, cfg.Tenancy.ParentCacheTTL)
	if cfg.Tenancy.ParentCacheTTL > 0 {
		go d.ParentCache.StartCleanupWorker(cfg.Tenancy.ParentCacheTTL, d.stopCacheSweep)
	}
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	d.Repos = d.RepoFactory.NewRepositories(d.Engine, d.ParentCache)
	d.TxManager = d.RepoFactory.GetTransactionManager()
	d.Logger.Info("repositories initialized")
}

// initLimiter picks the counter store for the configured backend
func (d *Dependencies) initLimiter(ctx context.Context, cfg *config.Config) error {
	store, err := d.counterStore(ctx, cfg.RateLimit)
	if err != nil {
		return err
	}

	limits := make(map[string]ratelimit.ClassLimit, len(cfg.RateLimit.Classes))
	for _, c := range cfg.RateLimit.Classes {
		limits[c.Name] = ratelimit.ClassLimit{Limit: c.Limit, Window: c.Window}
	}

	limiter, err := ratelimit.NewLimiter(store, limits, d.Logger,
		ratelimit.WithStoreTimeout(cfg.RateLimit.StoreTimeout))
	if err != nil {
		return err
	}
	d.Limiter = limiter
	d.Logger.Info("rate limiter initialized",
		zap.String("backend", cfg.RateLimit.Backend),
		zap.Int("route_classes", len(limits)))
	return nil
}

func (d *Dependencies) counterStore(ctx context.Context, cfg config.RateLimitConfig) (ratelimit.CounterStore, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		if d.Redis == nil {
			return nil, errors.New("redis backend selected but no redis client configured")
		}
		opts := []ratelimit.RedisOption{ratelimit.WithPrefix(cfg.KeyPrefix)}
		if cfg.UseServerTime {
			opts = append(opts, ratelimit.WithServerTime())
		}
		return ratelimit.NewRedisStore(d.Redis, opts...), nil

	case config.BackendPostgres:
		store := ratelimit.NewPostgresStore(d.DB.DB, d.Logger)
		if cfg.CleanupInterval > 0 {
			go store.StartCleanupWorker(ctx, cfg.CleanupInterval, cfg.Retention)
		}
		return store, nil

	case config.BackendMemory, "":
		d.Logger.Warn("in-memory rate limit counters are per-process; use redis when running more than one instance")
		return ratelimit.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
}

// initResolver builds the credential validator and the tenant context resolver
func (d *Dependencies) initResolver(cfg *config.Config) error {
	validator, err := newCredentialValidator(cfg.Auth)
	if err != nil {
		return err
	}
	d.Resolver = tenancy.NewResolver(validator, d.Repos.Principals, cfg.Tenancy.ResolveTimeout, d.Metrics, d.Logger)
	d.Logger.Info("tenant resolver initialized", zap.String("auth_mode", cfg.Auth.Mode))
	return nil
}

func newCredentialValidator(cfg config.AuthConfig) (tenancy.CredentialValidator, error) {
	switch cfg.Mode {
	case config.AuthModeHMAC:
		issuer := cfg.Issuer
		if issuer == "" {
			issuer = defaultHMACIssuer
		}
		audience := cfg.Audience
		if audience == "" {
			audience = defaultHMACAudience
		}
		return cognito.NewHMACValidator(cfg.HMACSecret, issuer, audience)

	case config.AuthModeJWKS:
		return cognito.NewJWKSValidator(cognito.Config{
			Region:      cfg.Region,
			UserPoolID:  cfg.UserPoolID,
			ClientID:    cfg.ClientID,
			Issuer:      cfg.Issuer,
			JWKSURL:     cfg.JWKSURL,
			CacheTTL:    cfg.CacheTTL,
			HTTPTimeout: 10 * time.Second,
		}), nil

	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// initAudit starts the asynchronous audit writer
func (d *Dependencies) initAudit(cfg *config.Config) error {
	d.AuditWriter = audit.NewWriter(d.Repos.AuditLogs, d.Logger, d.Metrics, audit.Config{
		BufferSize:    cfg.Audit.BufferSize,
		WorkerCount:   cfg.Audit.WorkerCount,
		InsertTimeout: cfg.Audit.InsertTimeout,
	})
	if scoped, ok := d.Repos.Contacts.(*postgres.ScopedContactRepository); ok {
		scoped.SetRecorder(d.AuditWriter)
	}
	return d.AuditWriter.Start()
}

// initChain assembles the four canonical stages and the route class table
func (d *Dependencies) initChain(cfg *config.Config) error {
	classes, err := RouteClasses(cfg.RateLimit.Classes)
	if err != nil {
		return err
	}
	stages := middleware.DefaultStages(d.Resolver, d.Resolver, d.Limiter, d.Engine)
	chain, err := middleware.NewChain(stages, classes, d.AuditWriter, d.Metrics, d.Logger)
	if err != nil {
		return err
	}
	d.Chain = chain
	return nil
}

// RouteClasses converts configured route classes, rejecting unknown permission names
func RouteClasses(cfgs []config.RouteClassConfig) ([]middleware.RouteClass, error) {
	out := make([]middleware.RouteClass, 0, len(cfgs))
	for _, c := range cfgs {
		perms, err := permissions(c.Permissions)
		if err != nil {
			return nil, fmt.Errorf("route class %q: %w", c.Name, err)
		}
		writes, err := permissions(c.WritePermissions)
		if err != nil {
			return nil, fmt.Errorf("route class %q: %w", c.Name, err)
		}
		out = append(out, middleware.RouteClass{
			Name:             c.Name,
			Limit:            c.Limit,
			Window:           c.Window,
			Permissions:      perms,
			WritePermissions: writes,
		})
	}
	return out, nil
}

func permissions(raw []string) ([]models.Permission, error) {
	if _, err := models.ParsePermissions(raw); err != nil {
		return nil, err
	}
	out := make([]models.Permission, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			out = append(out, models.Permission(p))
		}
	}
	return out, nil
}

// stopBackground ends the counter cleanup and cache sweep goroutines
func (d *Dependencies) stopBackground() {
	if d.stopWorkers != nil {
		d.stopWorkers()
	}
	if d.stopCacheSweep != nil {
		close(d.stopCacheSweep)
		d.stopCacheSweep = nil
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain audit records before the pools go away
	if d.AuditWriter != nil {
		if err := d.AuditWriter.Stop(d.Config.Audit.DrainTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain audit writer: %w", err))
		}
	}

	d.stopBackground()

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
