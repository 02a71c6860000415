package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name          string
		authHeader    string
		cookieValue   string
		expectedToken string
	}{
		{
			name:          "valid Bearer token in header",
			authHeader:    "Bearer valid-token-123",
			expectedToken: "valid-token-123",
		},
		{
			name:          "Bearer with lowercase",
			authHeader:    "bearer valid-token-123",
			expectedToken: "valid-token-123",
		},
		{
			name:          "token from auth_token cookie when no header",
			cookieValue:   "cookie-token-value",
			expectedToken: "cookie-token-value",
		},
		{
			name:          "Authorization header takes precedence over cookie",
			authHeader:    "Bearer header-token",
			cookieValue:   "cookie-token",
			expectedToken: "header-token",
		},
		{
			name:          "missing both returns empty",
			expectedToken: "",
		},
		{
			name:          "wrong prefix falls back to cookie",
			authHeader:    "Basic token",
			cookieValue:   "cookie-token",
			expectedToken: "cookie-token",
		},
		{
			name:          "empty Bearer token falls back to cookie",
			authHeader:    "Bearer ",
			cookieValue:   "cookie-token",
			expectedToken: "cookie-token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			if tt.cookieValue != "" {
				req.AddCookie(&http.Cookie{Name: "auth_token", Value: tt.cookieValue})
			}

			assert.Equal(t, tt.expectedToken, extractToken(req))
		})
	}
}

type stubLoader struct {
	tc  *models.TenantContext
	err error
}

func (s stubLoader) Load(context.Context, string) (*models.TenantContext, error) {
	return s.tc, s.err
}

func TestResolveTenantStage(t *testing.T) {
	tests := []struct {
		name       string
		loader     stubLoader
		wantReason string
	}{
		{"no profile", stubLoader{err: services.ErrProfileNotFound}, "profile_not_found"},
		{"nil context", stubLoader{}, "profile_not_found"},
		{"store failure", stubLoader{err: services.NewDomainError(services.ErrorTypePolicyEvaluation, "principal lookup failed", errors.New("reset"))}, "tenant_lookup_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewResolveTenantStage(tt.loader).Evaluate(context.Background(), &RequestState{Subject: "sub"})
			assert.False(t, out.Continue)
			assert.Equal(t, tt.wantReason, out.Reason)
			assert.Equal(t, services.CodeForbidden, services.ExternalCode(out.Err))
		})
	}

	tc := models.NewTenantContext(uuid.New(), uuid.New(), models.RoleViewer, nil, false, "")
	st := &RequestState{Subject: "sub"}
	out := NewResolveTenantStage(stubLoader{tc: tc}).Evaluate(context.Background(), st)
	assert.True(t, out.Continue)
	assert.Same(t, tc, st.Tenant)
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestLoaders(t *testing.T) {
	tenantID := uuid.New()
	principalID := uuid.New()
	tc := models.NewTenantContext(principalID, tenantID, models.RoleAgent, nil, false, "")
	ctx := context.Background()

	t.Run("own tenant", func(t *testing.T) {
		res, err := OwnTenant()(ctx, httptest.NewRequest(http.MethodPost, "/", nil), tc)
		require.NoError(t, err)
		assert.Equal(t, tenantID, res.TenantID)
		assert.Equal(t, tenantID.String(), res.ID)

		orphan := models.NewTenantContext(principalID, uuid.Nil, "", nil, true, "")
		res, err = OwnTenant()(ctx, httptest.NewRequest(http.MethodPost, "/", nil), orphan)
		require.NoError(t, err)
		assert.Equal(t, uuid.Nil, res.TenantID)
		assert.Empty(t, res.ID)
	})

	t.Run("path tenant", func(t *testing.T) {
		other := uuid.New()
		r := withURLParam(httptest.NewRequest(http.MethodDelete, "/", nil), "id", other.String())
		res, err := PathTenant("id")(ctx, r, tc)
		require.NoError(t, err)
		assert.Equal(t, other, res.TenantID)
	})

	t.Run("by id propagates lookup errors", func(t *testing.T) {
		id := uuid.New()
		r := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", id.String())
		boom := errors.New("db down")
		_, err := ByID("id", func(context.Context, uuid.UUID) (uuid.UUID, error) { return uuid.Nil, boom })(ctx, r, tc)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("by parent", func(t *testing.T) {
		parent := uuid.New()
		r := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", parent.String())

		res, err := ByParent("id", func(context.Context, uuid.UUID) (uuid.UUID, error) { return tenantID, nil })(ctx, r, tc)
		require.NoError(t, err)
		assert.True(t, res.ParentResolved)
		assert.Equal(t, tenantID, res.ParentTenantID)
		assert.Equal(t, parent.String(), res.ParentID)

		res, err = ByParent("id", func(context.Context, uuid.UUID) (uuid.UUID, error) { return uuid.Nil, services.ErrContactNotFound })(ctx, r, tc)
		require.NoError(t, err)
		assert.False(t, res.ParentResolved)

		_, err = ByParent("id", func(context.Context, uuid.UUID) (uuid.UUID, error) { return uuid.Nil, errors.New("timeout") })(ctx, r, tc)
		assert.Error(t, err)
	})

	t.Run("self", func(t *testing.T) {
		res, err := Self()(ctx, httptest.NewRequest(http.MethodGet, "/", nil), tc)
		require.NoError(t, err)
		assert.Equal(t, principalID, res.OwnerPrincipalID)
		assert.Equal(t, tenantID, res.TenantID)
	})
}

func TestRouteClass_Required(t *testing.T) {
	rc := RouteClass{
		Name:             "admin",
		Permissions:      []models.Permission{models.PermViewContacts},
		WritePermissions: []models.Permission{models.PermManageBilling},
	}
	assert.Equal(t, []models.Permission{models.PermViewContacts}, rc.required(models.OpRead))
	assert.Equal(t, []models.Permission{models.PermViewContacts, models.PermManageBilling}, rc.required(models.OpUpdate))
	assert.Len(t, rc.Permissions, 1, "required must not grow the class's own slice")
}

func TestTenantContextFrom(t *testing.T) {
	assert.Nil(t, TenantContextFrom(context.Background()))
	assert.Nil(t, AdmissionFrom(context.Background()))

	tc := models.NewTenantContext(uuid.New(), uuid.New(), models.RoleOwner, nil, false, "")
	assert.Same(t, tc, TenantContextFrom(WithTenantContext(context.Background(), tc)))
}
