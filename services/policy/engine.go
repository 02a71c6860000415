package policy

import (
	"github.com/google/uuid"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services"
)

// Reason explains a policy decision. Reasons are recorded in audit metadata, never returned to callers.
type Reason string

const (
	ReasonTenantMatch        Reason = "tenant_match"
	ReasonOwnerMatch         Reason = "owner_match"
	ReasonSuperAdminBypass   Reason = "super_admin_bypass"
	ReasonTenantMismatch     Reason = "tenant_mismatch"
	ReasonInsufficientRole   Reason = "insufficient_role"
	ReasonMissingPermission  Reason = "missing_permission"
	ReasonNotOwner           Reason = "not_owner"
	ReasonImmutableRecord    Reason = "immutable_record"
	ReasonSuperAdminRequired Reason = "super_admin_required"
	ReasonUnresolvedParent   Reason = "unresolved_parent"
	ReasonUnscopedResource   Reason = "unscoped_resource"
	ReasonUnknownPattern     Reason = "unknown_pattern"
	ReasonUnknownOperation   Reason = "unknown_operation"
	ReasonNoPrincipal        Reason = "no_principal"
	ReasonNoTenant           Reason = "no_tenant"
)

// Resource describes the target of an operation. TenantID is the owning tenant for
// tenant-scoped patterns and the tenant's own ID for the root entity.
type Resource struct {
	Type             models.ResourceType
	Pattern          models.PolicyPattern
	ID               string
	TenantID         uuid.UUID
	OwnerPrincipalID uuid.UUID

	// Relationship-derived resources carry their parent's tenant instead of their own.
	ParentID       string
	ParentTenantID uuid.UUID
	ParentResolved bool
}

// Decision is the outcome of a single evaluation
type Decision struct {
	Allowed bool
	Reason  Reason
	// Bypass is set when the decision was granted only through super-admin exemption
	Bypass bool
}

func allow(r Reason) Decision { return Decision{Allowed: true, Reason: r} }
func deny(r Reason) Decision  { return Decision{Reason: r} }

// Err maps a denial to the internal error taxonomy. Returns nil for allowed decisions.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonTenantMismatch, ReasonNotOwner:
		return services.ErrTenantMismatch
	case ReasonInsufficientRole, ReasonMissingPermission, ReasonSuperAdminRequired:
		return services.ErrInsufficientRole
	case ReasonImmutableRecord:
		return services.ErrAuditImmutable
	default:
		return services.ErrPolicyEvaluation
	}
}

// Decide evaluates op by principal p against resource r. It performs no I/O and
// always returns the same decision for the same inputs.
func Decide(p *models.TenantContext, r Resource, op models.Operation) Decision {
	if p == nil {
		return deny(ReasonNoPrincipal)
	}
	if !r.Pattern.Valid() {
		return deny(ReasonUnknownPattern)
	}
	if _, err := models.ParseOperation(string(op)); err != nil {
		return deny(ReasonUnknownOperation)
	}

	// No policy grants update on an append-only record, not even the bypass.
	if r.Pattern == models.PatternAppendOnly && op == models.OpUpdate {
		return deny(ReasonImmutableRecord)
	}

	if p.IsSuperAdmin() {
		d := allow(ReasonSuperAdminBypass)
		d.Bypass = true
		return d
	}

	switch r.Pattern {
	case models.PatternStandard:
		return standard(p, r.TenantID)

	case models.PatternAdminOnlyMutation:
		d := standard(p, r.TenantID)
		if d.Allowed && op.IsWrite() && !p.Role().IsAdministrative() {
			return deny(ReasonInsufficientRole)
		}
		return d

	case models.PatternRelationshipDerived:
		if !r.ParentResolved {
			return deny(ReasonUnresolvedParent)
		}
		return standard(p, r.ParentTenantID)

	case models.PatternPersonalScope:
		if r.OwnerPrincipalID == uuid.Nil {
			return deny(ReasonUnscopedResource)
		}
		if r.OwnerPrincipalID != p.PrincipalID() {
			return deny(ReasonNotOwner)
		}
		return allow(ReasonOwnerMatch)

	case models.PatternAppendOnly:
		if op == models.OpDelete {
			return deny(ReasonSuperAdminRequired)
		}
		return standard(p, r.TenantID)

	case models.PatternRootEntity:
		switch op {
		case models.OpCreate, models.OpDelete:
			return deny(ReasonSuperAdminRequired)
		case models.OpUpdate:
			d := standard(p, r.TenantID)
			if d.Allowed && !p.Role().IsAdministrative() {
				return deny(ReasonInsufficientRole)
			}
			return d
		default:
			return standard(p, r.TenantID)
		}
	}

	return deny(ReasonUnknownPattern)
}

// standard is the tenant-match rule shared by most patterns
func standard(p *models.TenantContext, owner uuid.UUID) Decision {
	if !p.HasTenant() {
		return deny(ReasonNoTenant)
	}
	if owner == uuid.Nil {
		return deny(ReasonUnscopedResource)
	}
	if owner != p.TenantID() {
		return deny(ReasonTenantMismatch)
	}
	return allow(ReasonTenantMatch)
}

// Engine binds Decide to a registry so callers describe resources by type only
type Engine struct {
	registry *Registry
}

// NewEngine creates an Engine over a frozen registry
func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// Decide stamps the registered pattern on r and evaluates it. A resource type with
// no registered pattern is denied.
func (e *Engine) Decide(p *models.TenantContext, r Resource, op models.Operation) Decision {
	pattern, ok := e.registry.Pattern(r.Type)
	if !ok {
		return deny(ReasonUnknownPattern)
	}
	r.Pattern = pattern
	return Decide(p, r, op)
}

// Registry exposes the underlying registry
func (e *Engine) Registry() *Registry {
	return e.registry
}
