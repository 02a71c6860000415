package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/upb/tenantguard/middleware"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/services/audit"
	"github.com/upb/tenantguard/utils"
	"go.uber.org/zap"
)

// StageHandler marks audit records for denials decided inside a handler
const StageHandler = "handler"

// AuditService reads the audit trail. Update and Delete exist only to be refused.
type AuditService interface {
	Query(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, error)
	Get(ctx context.Context, id string) (*models.AuditLog, error)
	Verify(ctx context.Context, chainID string) error
	Update(ctx context.Context, log *models.AuditLog) error
	Delete(ctx context.Context, id string) error
}

// ChainVerification is the response of GET /api/v1/audit/chains/{chainID}/verify
type ChainVerification struct {
	ChainID string `json:"chain_id"`
	Valid   bool   `json:"valid"`
	Error   string `json:"error,omitempty"`
}

// AuditHandler handles audit log requests
type AuditHandler struct {
	txMgr    repositories.TransactionManager
	service  AuditService
	recorder audit.Recorder
	logger   *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(txMgr repositories.TransactionManager, service AuditService, recorder audit.Recorder, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		txMgr:    txMgr,
		service:  service,
		recorder: recorder,
		logger:   logger,
	}
}

// HandleList handles GET /api/v1/audit/logs
// Query: tenant_id (super-admin only), actor_id, action, since, until, limit, offset
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}

	filter, err := auditFilterFrom(r, tc)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	logs, err := services.WithPrincipalTransactionResult(r.Context(), h.txMgr, tc, func(ctx context.Context, _ repositories.Transaction) ([]*models.AuditLog, error) {
		return h.service.Query(ctx, filter)
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	_ = utils.WriteOK(w, logs)
}

// HandleGet handles GET /api/v1/audit/logs/{id}. Another tenant's record, a missing
// record and a malformed id all get the same forbidden rejection.
func (h *AuditHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}

	log, err := services.WithPrincipalTransactionResult(r.Context(), h.txMgr, tc, func(ctx context.Context, _ repositories.Transaction) (*models.AuditLog, error) {
		return h.service.Get(ctx, chi.URLParam(r, "id"))
	})
	if err != nil {
		if services.IsNotFoundError(err) || services.IsValidationError(err) {
			err = services.ErrForbidden
		}
		HandleServiceError(w, err, h.logger)
		return
	}
	if !tc.IsSuperAdmin() && (log.TenantID == nil || *log.TenantID != tc.TenantID()) {
		HandleServiceError(w, services.ErrForbidden, h.logger)
		return
	}
	_ = utils.WriteOK(w, log)
}

// HandleVerify handles GET /api/v1/audit/chains/{chainID}/verify. Chains interleave
// every tenant's records, so only a super-admin may walk one.
func (h *AuditHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}
	chainID := chi.URLParam(r, "chainID")
	if !tc.IsSuperAdmin() {
		h.recordDenial(r, tc, models.AuditActionAccessDenied, "super_admin_required", chainID, nil)
		HandleServiceError(w, services.ErrInsufficientRole, h.logger)
		return
	}

	err := services.WithPrincipalTransaction(r.Context(), h.txMgr, tc, func(ctx context.Context, _ repositories.Transaction) error {
		return h.service.Verify(ctx, chainID)
	})

	resp := ChainVerification{ChainID: chainID, Valid: err == nil}
	if err != nil {
		var chainErr *audit.ChainError
		if !errors.As(err, &chainErr) {
			HandleServiceError(w, err, h.logger)
			return
		}
		h.logger.Error("audit chain verification failed",
			zap.String("chain_id", chainID),
			zap.Error(err))
		resp.Error = err.Error()
	}
	_ = utils.WriteOK(w, resp)
}

// HandleMutation handles PUT, PATCH and DELETE on /api/v1/audit/logs/{id}. Every attempt
// that reaches it is recorded and refused.
func (h *AuditHandler) HandleMutation(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var err error
	if r.Method == http.MethodDelete {
		err = h.service.Delete(r.Context(), id)
	} else {
		err = h.service.Update(r.Context(), &models.AuditLog{ID: id})
	}

	// A super-admin delete reaches here as a bypass; this refusal replaces the bypass record
	middleware.AdmissionFrom(r.Context()).Refuse()
	h.recordDenial(r, tc, models.AuditActionAuditTamper, "immutable_record", id, nil)
	h.logger.Warn("audit mutation refused",
		zap.String("audit_id", id),
		zap.String("method", r.Method),
		zap.String("principal_id", tc.PrincipalID().String()))

	if err == nil {
		err = services.ErrAuditImmutable
	}
	HandleServiceError(w, err, h.logger)
}

// recordDenial writes a denial decided by this handler rather than by the chain
func (h *AuditHandler) recordDenial(r *http.Request, tc *models.TenantContext, action models.AuditAction, reason, targetID string, metadata map[string]interface{}) {
	md := map[string]interface{}{"method": r.Method, "path": r.URL.Path}
	for k, v := range metadata {
		md[k] = v
	}
	h.recorder.Record(audit.Event{
		Action:     action,
		Outcome:    models.OutcomeDenied,
		Reason:     reason,
		Stage:      StageHandler,
		ActorID:    tc.PrincipalID(),
		TenantID:   tc.TenantID(),
		TargetType: string(models.ResourceAuditLog),
		TargetID:   targetID,
		Metadata:   md,
		SourceIP:   middleware.ClientIP(r),
		UserAgent:  r.UserAgent(),
		RequestID:  chimw.GetReqID(r.Context()),
	})
}

func auditFilterFrom(r *http.Request, tc *models.TenantContext) (repositories.AuditFilter, error) {
	q := r.URL.Query()
	var f repositories.AuditFilter

	if tc.IsSuperAdmin() {
		if v := q.Get("tenant_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return f, services.NewDomainError(services.ErrorTypeValidation, "invalid tenant_id", err)
			}
			f.TenantID = &id
		}
	} else {
		// Members only ever see their own tenant's trail, whatever they ask for
		id := tc.TenantID()
		f.TenantID = &id
	}

	if v := q.Get("actor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, services.NewDomainError(services.ErrorTypeValidation, "invalid actor_id", err)
		}
		f.ActorID = &id
	}
	f.Action = models.AuditAction(q.Get("action"))

	for param, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		if v := q.Get(param); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, services.NewDomainError(services.ErrorTypeValidation, "invalid "+param, err)
			}
			*dst = t
		}
	}

	limit, offset, err := pagination(r)
	if err != nil {
		return f, err
	}
	f.Limit, f.Offset = limit, offset
	return f, nil
}
