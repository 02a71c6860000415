package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/tenantguard/cognito"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/services/policy"
	"github.com/upb/tenantguard/services/ratelimit"
)

// Reasons recorded by the built-in stages, alongside the policy engine's own
const (
	reasonMissingCredential = "missing_credential"
	reasonExpiredCredential = "expired_credential"
	reasonInvalidCredential = "invalid_credential"
	reasonProfileNotFound   = "profile_not_found"
	reasonLookupFailed      = "tenant_lookup_failed"
	reasonRateLimited       = "rate_limited"
	reasonStoreUnavailable  = "store_unavailable"
	reasonRateCheckFailed   = "rate_check_failed"
	reasonResourceMissing   = "resource_unavailable"
	reasonLoaderFailed      = "resource_lookup_failed"
)

// authTokenCookieName is the cookie browsers carry the token in (Authorization header takes precedence)
const authTokenCookieName = "auth_token"

// Authenticator verifies a bearer credential and names its subject
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (string, error)
}

// TenantLoader loads the stored tenant membership of a subject
type TenantLoader interface {
	Load(ctx context.Context, subject string) (*models.TenantContext, error)
}

// RateChecker counts a request against its bucket
type RateChecker interface {
	CheckAndIncrement(ctx context.Context, scope uuid.UUID, routeClass string) (ratelimit.Result, error)
}

// DefaultStages wires the four canonical stages. A *tenancy.Resolver serves as both
// Authenticator and TenantLoader.
func DefaultStages(auth Authenticator, loader TenantLoader, limiter RateChecker, engine *policy.Engine) []Stage {
	return []Stage{
		NewAuthenticateStage(auth),
		NewResolveTenantStage(loader),
		NewRateCheckStage(limiter),
		NewAuthorizeStage(engine),
	}
}

type authenticateStage struct {
	auth Authenticator
}

// NewAuthenticateStage verifies the request's bearer credential
func NewAuthenticateStage(auth Authenticator) Stage {
	return &authenticateStage{auth: auth}
}

func (s *authenticateStage) Name() StageName { return StageAuthenticate }

func (s *authenticateStage) Evaluate(ctx context.Context, st *RequestState) Outcome {
	token := extractToken(st.Request)
	if token == "" {
		return Reject(reasonMissingCredential, services.ErrMissingToken)
	}

	subject, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		if errors.Is(err, cognito.ErrTokenExpired) {
			return Reject(reasonExpiredCredential, err)
		}
		return Reject(reasonInvalidCredential, err)
	}
	st.Subject = subject
	return Proceed()
}

type resolveTenantStage struct {
	loader TenantLoader
}

// NewResolveTenantStage loads the caller's tenant membership from storage
func NewResolveTenantStage(loader TenantLoader) Stage {
	return &resolveTenantStage{loader: loader}
}

func (s *resolveTenantStage) Name() StageName { return StageResolveTenant }

func (s *resolveTenantStage) Evaluate(ctx context.Context, st *RequestState) Outcome {
	tc, err := s.loader.Load(ctx, st.Subject)
	if err != nil {
		if services.GetErrorType(err) == services.ErrorTypeProfileNotFound {
			return Reject(reasonProfileNotFound, err)
		}
		return Reject(reasonLookupFailed, err)
	}
	if tc == nil {
		return Reject(reasonProfileNotFound, services.ErrProfileNotFound)
	}
	st.Tenant = tc
	return Proceed()
}

type rateCheckStage struct {
	limiter RateChecker
}

// NewRateCheckStage counts the request against its (tenant, route class) bucket.
// Callers outside any tenant are counted by principal.
func NewRateCheckStage(limiter RateChecker) Stage {
	return &rateCheckStage{limiter: limiter}
}

func (s *rateCheckStage) Name() StageName { return StageRateCheck }

func (s *rateCheckStage) Evaluate(ctx context.Context, st *RequestState) Outcome {
	scope := st.Tenant.TenantID()
	if !st.Tenant.HasTenant() {
		scope = st.Tenant.PrincipalID()
	}

	res, err := s.limiter.CheckAndIncrement(ctx, scope, st.Class.Name)
	st.RateLimit = res
	if err != nil {
		if services.IsRateLimitError(err) {
			return Reject(reasonStoreUnavailable, err)
		}
		return Reject(reasonRateCheckFailed, err)
	}
	if !res.Allowed {
		return Reject(reasonRateLimited, services.ErrRateLimitExceeded)
	}
	return Proceed()
}

type authorizeStage struct {
	engine *policy.Engine
}

// NewAuthorizeStage describes the target resource and asks the policy engine for a decision,
// then checks the route class's required permissions
func NewAuthorizeStage(engine *policy.Engine) Stage {
	return &authorizeStage{engine: engine}
}

func (s *authorizeStage) Name() StageName { return StageAuthorize }

func (s *authorizeStage) Evaluate(ctx context.Context, st *RequestState) Outcome {
	ep := st.Endpoint
	tc := st.Tenant

	pattern, ok := s.engine.Registry().Pattern(ep.ResourceType)
	if !ok {
		return Reject(string(policy.ReasonUnknownPattern), services.ErrPolicyEvaluation)
	}

	res, err := ep.Loader(ctx, st.Request, tc)
	if err != nil {
		if services.IsNotFoundError(err) {
			return Reject(reasonResourceMissing,
				services.NewDomainError(services.ErrorTypeForbidden, services.ErrForbidden.Message, err))
		}
		return Reject(reasonLoaderFailed,
			services.NewDomainError(services.ErrorTypePolicyEvaluation, "resource lookup failed", err))
	}
	res.Type = ep.ResourceType
	res.Pattern = pattern
	st.Resource = res

	d := s.engine.Decide(tc, res, ep.Operation)
	st.Decision = d
	if !d.Allowed {
		return Reject(string(d.Reason), d.Err())
	}

	if !d.Bypass {
		for _, perm := range st.Class.required(ep.Operation) {
			if !tc.HasPermission(perm) {
				return Reject(string(policy.ReasonMissingPermission), services.ErrInsufficientRole)
			}
		}
	}
	return Proceed()
}

// extractToken gets the JWT from the Authorization header or, failing that, the auth cookie
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	if cookie, err := r.Cookie(authTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the token from the Authorization header
func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
