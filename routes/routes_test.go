package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/tenantguard/app"
	"github.com/upb/tenantguard/cognito"
	"github.com/upb/tenantguard/config"
	"github.com/upb/tenantguard/repositories/postgres"
	"github.com/upb/tenantguard/utils"
	"go.uber.org/zap"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var principalCols = []string{"id", "external_id", "email", "tenant_id", "role", "permissions", "is_super_admin", "created_at", "updated_at"}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			RequestTimeout: 5 * time.Second,
			AllowedOrigins: []string{"http://localhost:*"},
		},
		Auth: config.AuthConfig{Mode: config.AuthModeHMAC, HMACSecret: testSecret},
		RateLimit: config.RateLimitConfig{
			Backend:      config.BackendMemory,
			StoreTimeout: 250 * time.Millisecond,
			Classes:      config.DefaultRouteClasses(),
		},
		Audit: config.AuditConfig{BufferSize: 16, WorkerCount: 1, InsertTimeout: time.Second, DrainTimeout: time.Second},
		Tenancy: config.TenancyConfig{
			ResolveTimeout: time.Second,
			ParentCacheTTL: time.Minute,
			ParentCacheMax: 100,
		},
		Observability: config.ObservabilityConfig{MetricsEnabled: true, MetricsNamespace: "tenantguard_test"},
	}
}

// newServer wires the real chain over a mocked database. Audit inserts land on the mock
// unexpected and are dropped by the writer, which is fine for routing tests.
func newServer(t *testing.T) (*httptest.Server, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	factory := postgres.NewRepositoryFactoryFromDB(postgres.Wrap(sqlDB, logger), logger)
	deps, err := app.Assemble(testConfig(), logger, factory, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(SetupRoutes(deps))
	t.Cleanup(func() {
		ts.Close()
		_ = deps.Close(context.Background())
	})
	return ts, mock
}

func signedToken(t *testing.T, subject string) string {
	t.Helper()
	v, err := cognito.NewHMACValidator(testSecret, "tenantguard", "tenantguard")
	require.NoError(t, err)
	token, err := v.Sign(subject, subject+"@example.com", time.Minute)
	require.NoError(t, err)
	return token
}

func expectPrincipal(mock sqlmock.Sqlmock, subject string, id, tenantID uuid.UUID, role string) {
	now := time.Now()
	mock.ExpectQuery(`FROM principals WHERE external_id = \$1`).WithArgs(subject).
		WillReturnRows(sqlmock.NewRows(principalCols).
			AddRow(id.String(), subject, subject+"@example.com", tenantID.String(), role, "{}", false, now, now))
}

func do(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func rejection(t *testing.T, resp *http.Response) utils.Rejection {
	t.Helper()
	var body utils.Rejection
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthz(t *testing.T) {
	ts, _ := newServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newServer(t)

	_ = do(t, http.MethodGet, ts.URL+"/healthz", "")
	resp := do(t, http.MethodGet, ts.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProtectedRoutesRequireCredentials(t *testing.T) {
	ts, _ := newServer(t)

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/contacts"},
		{http.MethodPost, "/api/v1/contacts"},
		{http.MethodGet, "/api/v1/contacts/" + uuid.NewString()},
		{http.MethodGet, "/api/v1/contacts/" + uuid.NewString() + "/notes"},
		{http.MethodGet, "/api/v1/tenant"},
		{http.MethodPost, "/api/v1/tenants"},
		{http.MethodPut, "/api/v1/billing"},
		{http.MethodGet, "/api/v1/me"},
		{http.MethodGet, "/api/v1/me/preferences"},
		{http.MethodGet, "/api/v1/audit/logs"},
		{http.MethodDelete, "/api/v1/audit/logs/01J0000000000000000000000"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			resp := do(t, tc.method, ts.URL+tc.path, "")
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, utils.CodeUnauthenticated, rejection(t, resp).Code)
		})
	}
}

func TestInvalidTokenIsUnauthenticated(t *testing.T) {
	ts, _ := newServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/me", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMeResolvesStoredMembership(t *testing.T) {
	ts, mock := newServer(t)
	principalID, tenantID := uuid.New(), uuid.New()
	expectPrincipal(mock, "sub-1", principalID, tenantID, "viewer")

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/me", signedToken(t, "sub-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data struct {
			PrincipalID uuid.UUID  `json:"principal_id"`
			TenantID    *uuid.UUID `json:"tenant_id"`
			Role        string     `json:"role"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, principalID, body.Data.PrincipalID)
	require.NotNil(t, body.Data.TenantID)
	assert.Equal(t, tenantID, *body.Data.TenantID)
	assert.Equal(t, "viewer", body.Data.Role)
}

func TestUnknownPrincipalIsForbidden(t *testing.T) {
	ts, mock := newServer(t)
	mock.ExpectQuery(`FROM principals`).WillReturnRows(sqlmock.NewRows(principalCols))

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/me", signedToken(t, "ghost"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, utils.CodeForbidden, rejection(t, resp).Code)
}

func TestAuditLogsCannotBeDeleted(t *testing.T) {
	ts, mock := newServer(t)
	expectPrincipal(mock, "owner-1", uuid.New(), uuid.New(), "owner")

	resp := do(t, http.MethodDelete, ts.URL+"/api/v1/audit/logs/01J0000000000000000000000", signedToken(t, "owner-1"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, utils.CodeForbidden, rejection(t, resp).Code)
}

func TestViewerCannotUpdateBilling(t *testing.T) {
	ts, mock := newServer(t)
	expectPrincipal(mock, "viewer-1", uuid.New(), uuid.New(), "viewer")

	resp := do(t, http.MethodPut, ts.URL+"/api/v1/billing", signedToken(t, "viewer-1"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestNotFound(t *testing.T) {
	ts, _ := newServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body utils.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Error)
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/contacts", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}
