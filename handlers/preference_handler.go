package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/utils"
	"go.uber.org/zap"
)

// PreferenceRequest is the body of PUT /api/v1/me/preferences/{key}
type PreferenceRequest struct {
	Value string `json:"value" validate:"max=4000"`
}

// PreferenceHandler handles the caller's personal preferences
type PreferenceHandler struct {
	txMgr  repositories.TransactionManager
	prefs  repositories.PreferenceRepository
	logger *zap.Logger
}

// NewPreferenceHandler creates a new PreferenceHandler
func NewPreferenceHandler(txMgr repositories.TransactionManager, prefs repositories.PreferenceRepository, logger *zap.Logger) *PreferenceHandler {
	return &PreferenceHandler{
		txMgr:  txMgr,
		prefs:  prefs,
		logger: logger,
	}
}

// HandleList handles GET /api/v1/me/preferences
func (h *PreferenceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}

	prefs, err := services.WithPrincipalTransactionResult(r.Context(), h.txMgr, tc, func(ctx context.Context, _ repositories.Transaction) ([]*models.UserPreference, error) {
		return h.prefs.ListByPrincipal(ctx, tc.PrincipalID())
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if prefs == nil {
		prefs = []*models.UserPreference{}
	}
	_ = utils.WriteOK(w, prefs)
}

// HandlePut handles PUT /api/v1/me/preferences/{key}
func (h *PreferenceHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	if err := utils.Validator().Var(key, "required,max=128,slug"); err != nil {
		HandleServiceError(w, services.NewDomainError(services.ErrorTypeValidation, "invalid preference key", err), h.logger)
		return
	}

	var req PreferenceRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	pref := &models.UserPreference{
		ID:          uuid.New(),
		TenantID:    tc.TenantID(),
		PrincipalID: tc.PrincipalID(),
		Key:         key,
		Value:       req.Value,
		UpdatedAt:   time.Now(),
	}
	err := services.WithPrincipalTransaction(r.Context(), h.txMgr, tc, func(ctx context.Context, _ repositories.Transaction) error {
		return h.prefs.Upsert(ctx, pref)
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, pref)
}
