package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/tenantguard/middleware"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/utils"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// callerFrom returns the TenantContext the authorization chain placed on the request.
// A handler mounted without the chain gets a forbidden rejection instead of an unscoped query.
func callerFrom(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (*models.TenantContext, bool) {
	tc := middleware.TenantContextFrom(r.Context())
	if tc == nil {
		logger.Error("handler reached without tenant context",
			zap.String("path", r.URL.Path))
		_ = utils.WriteForbidden(w, "")
		return nil, false
	}
	return tc, true
}

// pathUUID parses a UUID URL parameter
func pathUUID(r *http.Request, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		return uuid.Nil, services.NewDomainError(services.ErrorTypeValidation, "invalid "+param, err)
	}
	return id, nil
}

// pagination reads limit and offset query parameters
func pagination(r *http.Request) (limit, offset int, err error) {
	limit, offset = defaultPageSize, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 || limit > maxPageSize {
			return 0, 0, services.NewDomainError(services.ErrorTypeValidation, "limit must be between 1 and "+strconv.Itoa(maxPageSize), err)
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, services.NewDomainError(services.ErrorTypeValidation, "offset must not be negative", err)
		}
	}
	return limit, offset, nil
}

// MeResponse describes the caller as resolved by the authorization chain
type MeResponse struct {
	PrincipalID  uuid.UUID  `json:"principal_id"`
	TenantID     *uuid.UUID `json:"tenant_id,omitempty"`
	Email        string     `json:"email,omitempty"`
	Role         string     `json:"role,omitempty"`
	Permissions  []string   `json:"permissions"`
	IsSuperAdmin bool       `json:"is_super_admin"`
}

// GetCurrentPrincipalHandler handles GET /api/v1/me
func GetCurrentPrincipalHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tc, ok := callerFrom(w, r, logger)
		if !ok {
			return
		}
		resp := MeResponse{
			PrincipalID:  tc.PrincipalID(),
			Email:        tc.Email(),
			Role:         string(tc.Role()),
			Permissions:  tc.Permissions().Strings(),
			IsSuperAdmin: tc.IsSuperAdmin(),
		}
		if tc.HasTenant() {
			id := tc.TenantID()
			resp.TenantID = &id
		}
		_ = utils.WriteOK(w, resp)
	}
}
