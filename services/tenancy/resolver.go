// Package tenancy turns a bearer credential into the TenantContext of the calling principal.
//
// Tenant membership, role and permissions come only from the principal store. Nothing the
// client sends, token claims included, can select or widen the tenant.
package tenancy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tenantguard/cognito"
	"github.com/upb/tenantguard/internal/observability"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a full Resolve
const DefaultTimeout = 2 * time.Second

// CredentialValidator verifies a bearer credential and names its subject
type CredentialValidator interface {
	Validate(ctx context.Context, token string) (*cognito.Identity, error)
}

// PrincipalLookup loads stored principal records by identity provider subject
type PrincipalLookup interface {
	GetByExternalID(ctx context.Context, externalID string) (*models.Principal, error)
}

// Resolver authenticates callers and loads their tenant context
type Resolver struct {
	validator CredentialValidator
	lookup    PrincipalLookup
	timeout   time.Duration
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewResolver creates a Resolver. A non-positive timeout selects DefaultTimeout.
func NewResolver(validator CredentialValidator, lookup PrincipalLookup, timeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{
		validator: validator,
		lookup:    lookup,
		timeout:   timeout,
		metrics:   metrics,
		logger:    logger.Named("tenancy"),
	}
}

// Authenticate validates the bearer credential and returns the principal's subject
func (r *Resolver) Authenticate(ctx context.Context, bearer string) (string, error) {
	start := time.Now()
	if bearer == "" {
		r.metrics.ObserveResolve("unauthenticated", time.Since(start))
		return "", services.ErrMissingToken
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	identity, err := r.validator.Validate(ctx, bearer)
	if err != nil {
		r.metrics.ObserveResolve("unauthenticated", time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", services.NewDomainError(services.ErrorTypeUnauthenticated, "credential validation timed out", ctxErr)
		}
		if errors.Is(err, cognito.ErrTokenExpired) {
			return "", services.NewDomainError(services.ErrorTypeUnauthenticated, services.ErrTokenExpired.Message, err)
		}
		return "", services.NewDomainError(services.ErrorTypeUnauthenticated, services.ErrInvalidToken.Message, err)
	}
	return identity.Subject, nil
}

// Load reads the stored principal for subject and builds its TenantContext
func (r *Resolver) Load(ctx context.Context, subject string) (*models.TenantContext, error) {
	start := time.Now()
	tc, err := r.load(ctx, subject)
	if err != nil {
		r.metrics.ObserveResolve(string(services.GetErrorType(err)), time.Since(start))
		return nil, err
	}
	r.metrics.ObserveResolve("ok", time.Since(start))
	return tc, nil
}

func (r *Resolver) load(ctx context.Context, subject string) (*models.TenantContext, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	principal, err := r.lookup.GetByExternalID(ctx, subject)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, services.NewDomainError(services.ErrorTypePolicyEvaluation, "principal lookup timed out", ctxErr)
		}
		if services.IsNotFoundError(err) {
			return nil, services.NewDomainError(services.ErrorTypeProfileNotFound, services.ErrProfileNotFound.Message, err)
		}
		return nil, services.NewDomainError(services.ErrorTypePolicyEvaluation, "principal lookup failed", err)
	}

	return BuildTenantContext(principal)
}

// Resolve authenticates bearer and loads the caller's TenantContext under one deadline
func (r *Resolver) Resolve(ctx context.Context, bearer string) (*models.TenantContext, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	log := observability.FromContext(ctx, r.logger)

	subject, err := r.Authenticate(ctx, bearer)
	if err != nil {
		log.Debug("credential rejected", zap.Error(err))
		return nil, err
	}

	tc, err := r.Load(ctx, subject)
	if err != nil {
		log.Warn("tenant context unresolved", zap.String("subject", subject), zap.Error(err))
		return nil, err
	}

	log.Debug("tenant context resolved",
		zap.String("principal_id", tc.PrincipalID().String()),
		zap.String("tenant_id", tc.TenantID().String()),
		zap.String("role", string(tc.Role())),
		zap.Bool("super_admin", tc.IsSuperAdmin()))
	return tc, nil
}

// BuildTenantContext validates a stored principal and derives its effective permissions:
// the role's bundle plus any explicit grants. Ambiguous records are rejected, never guessed.
func BuildTenantContext(p *models.Principal) (*models.TenantContext, error) {
	if p == nil {
		return nil, services.ErrProfileNotFound
	}

	tenantID := uuid.Nil
	if p.TenantID != nil {
		tenantID = *p.TenantID
	}
	if tenantID == uuid.Nil && !p.IsSuperAdmin {
		return nil, services.NewDomainError(services.ErrorTypeProfileNotFound, "principal has no tenant", nil)
	}

	var role models.Role
	if p.Role != "" || !p.IsSuperAdmin {
		parsed, err := models.ParseRole(p.Role)
		if err != nil {
			return nil, services.NewDomainError(services.ErrorTypeProfileNotFound, "principal role is invalid", err)
		}
		role = parsed
	}

	explicit, err := models.ParsePermissions(p.Permissions)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeProfileNotFound, "principal permissions are invalid", err)
	}

	perms := models.BundleFor(role).Union(explicit)
	return models.NewTenantContext(p.ID, tenantID, role, perms, p.IsSuperAdmin, p.Email), nil
}
