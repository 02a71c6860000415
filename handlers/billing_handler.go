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

// BillingRequest is the body of PUT /api/v1/billing
type BillingRequest struct {
	BillingEmail string `json:"billing_email" validate:"required,email"`
	Plan         string `json:"plan" validate:"required,oneof=free starter business enterprise"`
	TaxID        string `json:"tax_id,omitempty" validate:"max=64"`
}

// BillingHandler handles a tenant's billing settings
type BillingHandler struct {
	txMgr   repositories.TransactionManager
	billing repositories.BillingRepository
	logger  *zap.Logger
}

// NewBillingHandler creates a new BillingHandler
func NewBillingHandler(txMgr repositories.TransactionManager, billing repositories.BillingRepository, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{
		txMgr:   txMgr,
		billing: billing,
		logger:  logger,
	}
}

// HandleGet handles GET /api/v1/billing
func (h *BillingHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}

	settings, err := services.WithPrincipalTransactionResult(r.Context(), h.txMgr, tc, func(ctx context.Context, _ repositories.Transaction) (*models.BillingSettings, error) {
		return h.billing.Get(ctx, tc.TenantID())
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, settings)
}

// HandleUpdate handles PUT /api/v1/billing
func (h *BillingHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}
	if !tc.HasTenant() {
		HandleServiceError(w, services.ErrTenantScopeMissing, h.logger)
		return
	}

	var req BillingRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	settings := &models.BillingSettings{
		TenantID:     tc.TenantID(),
		BillingEmail: req.BillingEmail,
		Plan:         req.Plan,
		TaxID:        req.TaxID,
		UpdatedBy:    tc.PrincipalID(),
		UpdatedAt:    time.Now(),
	}
	err := services.WithPrincipalTransaction(r.Context(), h.txMgr, tc, func(ctx context.Context, _ repositories.Transaction) error {
		return h.billing.Upsert(ctx, settings)
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, settings)
}
