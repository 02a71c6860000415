package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/utils"
	"go.uber.org/zap"
)

// CreateTenantRequest is the body of POST /api/v1/tenants
type CreateTenantRequest struct {
	Name string `json:"name" validate:"required,max=255"`
	Slug string `json:"slug" validate:"required,min=3,max=63,slug"`
}

// UpdateTenantRequest is the body of PATCH /api/v1/tenant
type UpdateTenantRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

// TenantHandler handles the root tenant entity
type TenantHandler struct {
	txMgr   repositories.TransactionManager
	tenants repositories.TenantRepository
	logger  *zap.Logger
}

// NewTenantHandler creates a new TenantHandler
func NewTenantHandler(txMgr repositories.TransactionManager, tenants repositories.TenantRepository, logger *zap.Logger) *TenantHandler {
	return &TenantHandler{
		txMgr:   txMgr,
		tenants: tenants,
		logger:  logger,
	}
}

// HandleGetCurrent handles GET /api/v1/tenant
func (h *TenantHandler) HandleGetCurrent(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}
	if !tc.HasTenant() {
		HandleServiceError(w, services.ErrTenantNotFound, h.logger)
		return
	}

	tenant, err := services.WithPrincipalTransactionResult(r.Context(), h.txMgr, tc, func(ctx context.Context, _ repositories.Transaction) (*models.Tenant, error) {
		return h.tenants.GetByID(ctx, tc.TenantID())
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, tenant)
}

// HandleUpdateCurrent handles PATCH /api/v1/tenant
func (h *TenantHandler) HandleUpdateCurrent(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}
	if !tc.HasTenant() {
		HandleServiceError(w, services.ErrTenantNotFound, h.logger)
		return
	}

	var req UpdateTenantRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	tenant, err := services.WithPrincipalTransactionResult(r.Context(), h.txMgr, tc, func(ctx context.Context, _ repositories.Transaction) (*models.Tenant, error) {
		t, err := h.tenants.GetByID(ctx, tc.TenantID())
		if err != nil {
			return nil, err
		}
		t.Name = req.Name
		t.UpdatedAt = time.Now()
		if err := h.tenants.Update(ctx, t); err != nil {
			return nil, err
		}
		return t, nil
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("tenant updated", zap.String("tenant_id", tenant.ID.String()))
	_ = utils.WriteOK(w, tenant)
}

// HandleCreate handles POST /api/v1/tenants. The chain only admits super-admins.
func (h *TenantHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateTenantRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	tenant := models.NewTenant(req.Name, req.Slug)
	err := services.WithPrincipalTransaction(r.Context(), h.txMgr, tc, func(ctx context.Context, _ repositories.Transaction) error {
		return h.tenants.Create(ctx, tenant)
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("tenant created",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("slug", tenant.Slug))
	_ = utils.WriteCreated(w, tenant)
}

// HandleDelete handles DELETE /api/v1/tenants/{id}. The chain only admits super-admins.
func (h *TenantHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	err = services.WithPrincipalTransaction(r.Context(), h.txMgr, tc, func(ctx context.Context, _ repositories.Transaction) error {
		return h.tenants.Delete(ctx, id)
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Warn("tenant deleted", zap.String("tenant_id", id.String()))
	utils.WriteNoContent(w)
}
