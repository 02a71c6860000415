package postgres

import (
	"context"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/services/audit"
	"github.com/upb/tenantguard/services/policy"
)

// StageStorage marks audit records for denials decided at the data layer
const StageStorage = "storage"

// ScopedContactRepository re-applies the policy engine to every call using the
// TenantContext bound to the context. It is the second line behind the HTTP chain
// and in front of row-level security.
type ScopedContactRepository struct {
	inner    repositories.ContactRepository
	engine   *policy.Engine
	recorder audit.Recorder
	now      func() time.Time
}

// NewScopedContactRepository wraps inner
func NewScopedContactRepository(inner repositories.ContactRepository, engine *policy.Engine) *ScopedContactRepository {
	return &ScopedContactRepository{inner: inner, engine: engine, now: time.Now}
}

var _ repositories.ContactRepository = (*ScopedContactRepository)(nil)

// SetRecorder sends denials to the audit trail. Call it before the repository is shared.
func (r *ScopedContactRepository) SetRecorder(recorder audit.Recorder) {
	r.recorder = recorder
}

func (r *ScopedContactRepository) authorize(ctx context.Context, tenantID uuid.UUID, id string, op models.Operation) (*models.TenantContext, error) {
	tc := models.TenantFromContext(ctx)
	if tc == nil {
		return nil, services.ErrTenantScopeMissing
	}
	d := r.engine.Decide(tc, policy.Resource{Type: models.ResourceContact, ID: id, TenantID: tenantID}, op)
	if !d.Allowed {
		r.recordDenial(ctx, tc, tenantID, id, op, d.Reason)
		return nil, d.Err()
	}
	return tc, nil
}

func (r *ScopedContactRepository) recordDenial(ctx context.Context, tc *models.TenantContext, tenantID uuid.UUID, id string, op models.Operation, reason policy.Reason) {
	if r.recorder == nil {
		return
	}
	ev := audit.Event{
		Action:     models.AuditActionAccessDenied,
		Outcome:    models.OutcomeDenied,
		Reason:     string(reason),
		Stage:      StageStorage,
		ActorID:    tc.PrincipalID(),
		TenantID:   tc.TenantID(),
		TargetType: string(models.ResourceContact),
		TargetID:   id,
		Metadata:   map[string]interface{}{"operation": string(op)},
		RequestID:  chimw.GetReqID(ctx),
	}
	if tenantID != uuid.Nil && tenantID != tc.TenantID() {
		ev.Metadata["resource_tenant_id"] = tenantID.String()
	}
	r.recorder.Record(ev)
}

// Create stamps the caller's tenant on c, whatever it carried before
func (r *ScopedContactRepository) Create(ctx context.Context, c *models.Contact) error {
	tc := models.TenantFromContext(ctx)
	if tc == nil {
		return services.ErrTenantScopeMissing
	}
	if !tc.HasTenant() {
		// A tenantless super-admin has no tenant to create into
		return services.ErrTenantScopeMissing
	}
	c.TenantID = tc.TenantID()
	c.CreatedBy = tc.PrincipalID()
	if _, err := r.authorize(ctx, c.TenantID, c.ID.String(), models.OpCreate); err != nil {
		return err
	}
	return r.inner.Create(ctx, c)
}

// GetByID returns the contact only if the caller may read it
func (r *ScopedContactRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Contact, error) {
	c, err := r.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := r.authorize(ctx, c.TenantID, c.ID.String(), models.OpRead); err != nil {
		return nil, err
	}
	return c, nil
}

// ListByTenant authorizes the listing against tenantID and drops any row that does not
// belong to it
func (r *ScopedContactRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.Contact, error) {
	if _, err := r.authorize(ctx, tenantID, "", models.OpRead); err != nil {
		return nil, err
	}
	contacts, err := r.inner.ListByTenant(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := contacts[:0]
	for _, c := range contacts {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

// Update re-reads the stored contact and authorizes against its tenant, not c's
func (r *ScopedContactRepository) Update(ctx context.Context, c *models.Contact) error {
	stored, err := r.inner.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	if _, err := r.authorize(ctx, stored.TenantID, stored.ID.String(), models.OpUpdate); err != nil {
		return err
	}
	c.TenantID = stored.TenantID
	c.UpdatedAt = r.now()
	return r.inner.Update(ctx, c)
}

// Delete authorizes against the stored contact's tenant
func (r *ScopedContactRepository) Delete(ctx context.Context, id uuid.UUID) error {
	stored, err := r.inner.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := r.authorize(ctx, stored.TenantID, stored.ID.String(), models.OpDelete); err != nil {
		return err
	}
	return r.inner.Delete(ctx, id)
}
