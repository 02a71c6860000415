package middleware

import (
	"context"

	"github.com/upb/tenantguard/models"
)

// Context key type to avoid collisions
type contextKey string

// AdmissionKey is the context key for the decision that admitted the request
const AdmissionKey contextKey = "admission"

// WithTenantContext adds the caller's TenantContext to the context. Repositories read
// it back through models.TenantFromContext.
func WithTenantContext(ctx context.Context, tc *models.TenantContext) context.Context {
	return models.ContextWithTenant(ctx, tc)
}

// TenantContextFrom retrieves the TenantContext placed by the authorization chain.
// Returns nil for requests that never passed through it.
func TenantContextFrom(ctx context.Context) *models.TenantContext {
	return models.TenantFromContext(ctx)
}

func withAdmission(ctx context.Context, a *Admission) context.Context {
	return context.WithValue(ctx, AdmissionKey, a)
}

// AdmissionFrom returns what the authorization chain decided for this request, or nil
func AdmissionFrom(ctx context.Context) *Admission {
	if val := ctx.Value(AdmissionKey); val != nil {
		if a, ok := val.(*Admission); ok {
			return a
		}
	}
	return nil
}
