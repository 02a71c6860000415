package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/services/policy"
)

// RouteClass is the per-class configuration every stage reads. Adding a class never
// changes chain code.
type RouteClass struct {
	Name   string        `validate:"required"`
	Limit  int           `validate:"gte=1"`
	Window time.Duration `validate:"gt=0"`

	// Permissions are required on every request of the class
	Permissions []models.Permission
	// WritePermissions are additionally required on create, update and delete
	WritePermissions []models.Permission
}

// required returns the permissions op needs under this class
func (c RouteClass) required(op models.Operation) []models.Permission {
	if !op.IsWrite() || len(c.WritePermissions) == 0 {
		return c.Permissions
	}
	perms := make([]models.Permission, 0, len(c.Permissions)+len(c.WritePermissions))
	perms = append(perms, c.Permissions...)
	return append(perms, c.WritePermissions...)
}

// Loader describes the target of a request from its URL and the caller's context.
// A not-found error is reported to the caller as a plain forbidden.
type Loader func(ctx context.Context, r *http.Request, tc *models.TenantContext) (policy.Resource, error)

// Endpoint is the authorization declaration of one route
type Endpoint struct {
	Class        string
	ResourceType models.ResourceType
	Operation    models.Operation
	Loader       Loader
}

func (e Endpoint) validate() error {
	if e.Class == "" {
		return fmt.Errorf("endpoint %s:%s: route class is required", e.ResourceType, e.Operation)
	}
	if e.ResourceType == "" {
		return fmt.Errorf("endpoint %s:%s: resource type is required", e.ResourceType, e.Operation)
	}
	if _, err := models.ParseOperation(string(e.Operation)); err != nil {
		return fmt.Errorf("endpoint %s:%s: %w", e.ResourceType, e.Operation, err)
	}
	if e.Loader == nil {
		return fmt.Errorf("endpoint %s:%s: loader is required", e.ResourceType, e.Operation)
	}
	return nil
}

// TenantLookup returns the tenant owning the record with the given ID
type TenantLookup func(ctx context.Context, id uuid.UUID) (uuid.UUID, error)

// OwnTenant describes a record in the caller's own tenant: creates, and per-tenant
// singletons such as billing settings or the tenant itself.
func OwnTenant() Loader {
	return func(_ context.Context, _ *http.Request, tc *models.TenantContext) (policy.Resource, error) {
		res := policy.Resource{TenantID: tc.TenantID()}
		if tc.HasTenant() {
			res.ID = tc.TenantID().String()
		}
		return res, nil
	}
}

// PathTenant describes the tenant named by a URL parameter
func PathTenant(param string) Loader {
	return func(_ context.Context, r *http.Request, _ *models.TenantContext) (policy.Resource, error) {
		id, err := pathID(r, param)
		if err != nil {
			return policy.Resource{}, err
		}
		return policy.Resource{ID: id.String(), TenantID: id}, nil
	}
}

// ByID describes the record named by a URL parameter, owned by whichever tenant lookup reports
func ByID(param string, lookup TenantLookup) Loader {
	return func(ctx context.Context, r *http.Request, _ *models.TenantContext) (policy.Resource, error) {
		id, err := pathID(r, param)
		if err != nil {
			return policy.Resource{}, err
		}
		tenantID, err := lookup(ctx, id)
		if err != nil {
			return policy.Resource{}, err
		}
		return policy.Resource{ID: id.String(), TenantID: tenantID}, nil
	}
}

// ByParent describes a record owned through the parent named by a URL parameter.
// A parent that cannot be found leaves the resource unresolved, which is denied.
func ByParent(param string, lookup TenantLookup) Loader {
	return func(ctx context.Context, r *http.Request, _ *models.TenantContext) (policy.Resource, error) {
		id, err := pathID(r, param)
		if err != nil {
			return policy.Resource{}, err
		}
		res := policy.Resource{ParentID: id.String()}
		tenantID, err := lookup(ctx, id)
		switch {
		case err == nil:
			res.ParentTenantID = tenantID
			res.ParentResolved = true
		case !services.IsNotFoundError(err):
			return policy.Resource{}, err
		}
		return res, nil
	}
}

// Self describes the caller's own personal-scope records
func Self() Loader {
	return func(_ context.Context, _ *http.Request, tc *models.TenantContext) (policy.Resource, error) {
		return policy.Resource{
			ID:               tc.PrincipalID().String(),
			TenantID:         tc.TenantID(),
			OwnerPrincipalID: tc.PrincipalID(),
		}, nil
	}
}

// Keyed describes a record addressed by a non-UUID key, such as an audit log ULID, in the
// caller's tenant. Handlers behind it must re-check the stored owner.
func Keyed(param string) Loader {
	return func(_ context.Context, r *http.Request, tc *models.TenantContext) (policy.Resource, error) {
		key := chi.URLParam(r, param)
		if key == "" {
			return policy.Resource{}, services.NewDomainError(services.ErrorTypeNotFound, "missing record key", nil)
		}
		return policy.Resource{ID: key, TenantID: tc.TenantID()}, nil
	}
}

// pathID parses a UUID URL parameter. Malformed IDs cannot name a record, so they are not found.
func pathID(r *http.Request, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		return uuid.Nil, services.NewDomainError(services.ErrorTypeNotFound, "malformed record id", err)
	}
	return id, nil
}
