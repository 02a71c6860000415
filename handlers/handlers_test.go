package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/tenantguard/middleware"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/utils"
	"go.uber.org/zap"
)

// fakeTxManager runs every function inline and remembers the principal it was given
type fakeTxManager struct {
	bound []*models.TenantContext
}

type fakeTx struct{ ctx context.Context }

func (t *fakeTx) Commit() error            { return nil }
func (t *fakeTx) Rollback() error          { return nil }
func (t *fakeTx) Context() context.Context { return t.ctx }

func (m *fakeTxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return &fakeTx{ctx: ctx}, nil
}

func (m *fakeTxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return fn(ctx, &fakeTx{ctx: ctx})
}

func (m *fakeTxManager) InPrincipalTransaction(ctx context.Context, tc *models.TenantContext, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	m.bound = append(m.bound, tc)
	return fn(ctx, &fakeTx{ctx: ctx})
}

// MockContactRepository is a mock implementation of ContactRepository
type MockContactRepository struct {
	mock.Mock
}

func (m *MockContactRepository) Create(ctx context.Context, contact *models.Contact) error {
	return m.Called(ctx, contact).Error(0)
}

func (m *MockContactRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Contact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Contact), args.Error(1)
}

func (m *MockContactRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.Contact, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Contact), args.Error(1)
}

func (m *MockContactRepository) Update(ctx context.Context, contact *models.Contact) error {
	return m.Called(ctx, contact).Error(0)
}

func (m *MockContactRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

// MockContactNoteRepository is a mock implementation of ContactNoteRepository
type MockContactNoteRepository struct {
	mock.Mock
}

func (m *MockContactNoteRepository) Create(ctx context.Context, note *models.ContactNote) error {
	return m.Called(ctx, note).Error(0)
}

func (m *MockContactNoteRepository) ListByContact(ctx context.Context, contactID uuid.UUID) ([]*models.ContactNote, error) {
	args := m.Called(ctx, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ContactNote), args.Error(1)
}

func (m *MockContactNoteRepository) ParentTenantID(ctx context.Context, contactID uuid.UUID) (uuid.UUID, error) {
	args := m.Called(ctx, contactID)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func member(tenantID uuid.UUID, role models.Role) *models.TenantContext {
	return models.NewTenantContext(uuid.New(), tenantID, role, models.BundleFor(role), false, "member@example.com")
}

func superAdmin() *models.TenantContext {
	return models.NewTenantContext(uuid.New(), uuid.Nil, "", nil, true, "root@example.com")
}

// newRequest builds a request as the authorization chain would hand it over
func newRequest(method, target string, body io.Reader, tc *models.TenantContext, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if tc != nil {
		ctx = middleware.WithTenantContext(ctx, tc)
	}
	return req.WithContext(ctx)
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, into))
}

func decodeRejection(t *testing.T, w *httptest.ResponseRecorder) utils.Rejection {
	t.Helper()
	var r utils.Rejection
	require.NoError(t, json.NewDecoder(w.Body).Decode(&r))
	return r
}

func TestCallerFrom_MissingContextIsForbidden(t *testing.T) {
	h := NewContactHandler(&fakeTxManager{}, &MockContactRepository{}, &MockContactNoteRepository{}, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleList(w, newRequest(http.MethodGet, "/api/v1/contacts", nil, nil, nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, utils.CodeForbidden, decodeRejection(t, w).Code)
}

func TestPagination(t *testing.T) {
	tests := []struct {
		query   string
		limit   int
		offset  int
		wantErr bool
	}{
		{"", defaultPageSize, 0, false},
		{"limit=10&offset=20", 10, 20, false},
		{"limit=0", 0, 0, true},
		{"limit=1000", 0, 0, true},
		{"limit=abc", 0, 0, true},
		{"offset=-1", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			limit, offset, err := pagination(httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil))
			if tt.wantErr {
				assert.True(t, services.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.limit, limit)
			assert.Equal(t, tt.offset, offset)
		})
	}
}

func TestContactHandler_Create(t *testing.T) {
	tenantID := uuid.New()

	t.Run("owner comes from the caller", func(t *testing.T) {
		repo := &MockContactRepository{}
		txMgr := &fakeTxManager{}
		h := NewContactHandler(txMgr, repo, &MockContactNoteRepository{}, zap.NewNop())
		tc := member(tenantID, models.RoleAgent)

		repo.On("Create", mock.Anything, mock.MatchedBy(func(c *models.Contact) bool {
			return c.TenantID == tenantID && c.CreatedBy == tc.PrincipalID() && c.Name == "Ana"
		})).Return(nil)

		body := strings.NewReader(`{"name":"Ana","phone":"+573001112233"}`)
		w := httptest.NewRecorder()
		h.HandleCreate(w, newRequest(http.MethodPost, "/api/v1/contacts", body, tc, nil))

		assert.Equal(t, http.StatusCreated, w.Code)
		var got models.Contact
		decodeData(t, w, &got)
		assert.Equal(t, tenantID, got.TenantID)
		require.Len(t, txMgr.bound, 1)
		assert.Same(t, tc, txMgr.bound[0])
		repo.AssertExpectations(t)
	})

	t.Run("tenant field in body is rejected", func(t *testing.T) {
		repo := &MockContactRepository{}
		h := NewContactHandler(&fakeTxManager{}, repo, &MockContactNoteRepository{}, zap.NewNop())

		body := strings.NewReader(`{"name":"Ana","phone":"1","tenant_id":"` + uuid.NewString() + `"}`)
		w := httptest.NewRecorder()
		h.HandleCreate(w, newRequest(http.MethodPost, "/api/v1/contacts", body, member(tenantID, models.RoleAgent), nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("missing required field", func(t *testing.T) {
		h := NewContactHandler(&fakeTxManager{}, &MockContactRepository{}, &MockContactNoteRepository{}, zap.NewNop())

		w := httptest.NewRecorder()
		h.HandleCreate(w, newRequest(http.MethodPost, "/api/v1/contacts", strings.NewReader(`{"name":"Ana"}`), member(tenantID, models.RoleAgent), nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestContactHandler_List(t *testing.T) {
	own := uuid.New()
	other := uuid.New()

	t.Run("member query parameter is ignored", func(t *testing.T) {
		repo := &MockContactRepository{}
		h := NewContactHandler(&fakeTxManager{}, repo, &MockContactNoteRepository{}, zap.NewNop())
		repo.On("ListByTenant", mock.Anything, own, defaultPageSize, 0).Return(nil, nil)

		w := httptest.NewRecorder()
		h.HandleList(w, newRequest(http.MethodGet, "/api/v1/contacts?tenant_id="+other.String(), nil, member(own, models.RoleViewer), nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var got []models.Contact
		decodeData(t, w, &got)
		assert.Empty(t, got)
		repo.AssertExpectations(t)
	})

	t.Run("super-admin may name a tenant", func(t *testing.T) {
		repo := &MockContactRepository{}
		h := NewContactHandler(&fakeTxManager{}, repo, &MockContactNoteRepository{}, zap.NewNop())
		repo.On("ListByTenant", mock.Anything, other, 10, 0).Return([]*models.Contact{
			models.NewContact(other, uuid.New(), "Bo", "2", ""),
		}, nil)

		w := httptest.NewRecorder()
		h.HandleList(w, newRequest(http.MethodGet, "/api/v1/contacts?limit=10&tenant_id="+other.String(), nil, superAdmin(), nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var got []models.Contact
		decodeData(t, w, &got)
		assert.Len(t, got, 1)
		repo.AssertExpectations(t)
	})
}

func TestContactHandler_GetUpdateDelete(t *testing.T) {
	tenantID := uuid.New()
	tc := member(tenantID, models.RoleAgent)

	t.Run("get of a foreign contact is forbidden", func(t *testing.T) {
		repo := &MockContactRepository{}
		h := NewContactHandler(&fakeTxManager{}, repo, &MockContactNoteRepository{}, zap.NewNop())
		id := uuid.New()
		repo.On("GetByID", mock.Anything, id).Return(nil, services.ErrTenantMismatch)

		w := httptest.NewRecorder()
		h.HandleGet(w, newRequest(http.MethodGet, "/api/v1/contacts/"+id.String(), nil, tc, map[string]string{"id": id.String()}))

		assert.Equal(t, http.StatusForbidden, w.Code)
		rej := decodeRejection(t, w)
		assert.Equal(t, utils.CodeForbidden, rej.Code)
		assert.NotContains(t, w.Body.String(), "mismatch")
	})

	t.Run("update applies only the given fields", func(t *testing.T) {
		repo := &MockContactRepository{}
		h := NewContactHandler(&fakeTxManager{}, repo, &MockContactNoteRepository{}, zap.NewNop())
		existing := models.NewContact(tenantID, tc.PrincipalID(), "Ana", "1", "ana@example.com")
		repo.On("GetByID", mock.Anything, existing.ID).Return(existing, nil)
		repo.On("Update", mock.Anything, mock.MatchedBy(func(c *models.Contact) bool {
			return c.Name == "Ana" && c.Phone == "2" && c.Email == "ana@example.com" && c.TenantID == tenantID
		})).Return(nil)

		w := httptest.NewRecorder()
		h.HandleUpdate(w, newRequest(http.MethodPatch, "/api/v1/contacts/"+existing.ID.String(),
			strings.NewReader(`{"phone":"2"}`), tc, map[string]string{"id": existing.ID.String()}))

		assert.Equal(t, http.StatusOK, w.Code)
		repo.AssertExpectations(t)
	})

	t.Run("delete returns no content", func(t *testing.T) {
		repo := &MockContactRepository{}
		h := NewContactHandler(&fakeTxManager{}, repo, &MockContactNoteRepository{}, zap.NewNop())
		id := uuid.New()
		repo.On("Delete", mock.Anything, id).Return(nil)

		w := httptest.NewRecorder()
		h.HandleDelete(w, newRequest(http.MethodDelete, "/api/v1/contacts/"+id.String(), nil, tc, map[string]string{"id": id.String()}))

		assert.Equal(t, http.StatusNoContent, w.Code)
		repo.AssertExpectations(t)
	})

	t.Run("malformed id is a bad request", func(t *testing.T) {
		h := NewContactHandler(&fakeTxManager{}, &MockContactRepository{}, &MockContactNoteRepository{}, zap.NewNop())

		w := httptest.NewRecorder()
		h.HandleDelete(w, newRequest(http.MethodDelete, "/api/v1/contacts/nope", nil, tc, map[string]string{"id": "nope"}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestContactHandler_Notes(t *testing.T) {
	tenantID := uuid.New()
	tc := member(tenantID, models.RoleAgent)
	contactID := uuid.New()

	notes := &MockContactNoteRepository{}
	h := NewContactHandler(&fakeTxManager{}, &MockContactRepository{}, notes, zap.NewNop())

	notes.On("Create", mock.Anything, mock.MatchedBy(func(n *models.ContactNote) bool {
		return n.ContactID == contactID && n.AuthorID == tc.PrincipalID()
	})).Return(nil)
	notes.On("ListByContact", mock.Anything, contactID).Return([]*models.ContactNote{
		models.NewContactNote(contactID, tc.PrincipalID(), "called back"),
	}, nil)

	params := map[string]string{"id": contactID.String()}

	w := httptest.NewRecorder()
	h.HandleCreateNote(w, newRequest(http.MethodPost, "/", strings.NewReader(`{"body":"called back"}`), tc, params))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	h.HandleListNotes(w, newRequest(http.MethodGet, "/", nil, tc, params))
	assert.Equal(t, http.StatusOK, w.Code)
	var got []models.ContactNote
	decodeData(t, w, &got)
	require.Len(t, got, 1)
	assert.Equal(t, "called back", got[0].Body)

	notes.AssertExpectations(t)
}

func TestGetCurrentPrincipalHandler(t *testing.T) {
	tenantID := uuid.New()
	tc := member(tenantID, models.RoleAdmin)

	w := httptest.NewRecorder()
	GetCurrentPrincipalHandler(zap.NewNop())(w, newRequest(http.MethodGet, "/api/v1/me", nil, tc, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var got MeResponse
	decodeData(t, w, &got)
	assert.Equal(t, tc.PrincipalID(), got.PrincipalID)
	require.NotNil(t, got.TenantID)
	assert.Equal(t, tenantID, *got.TenantID)
	assert.Equal(t, "admin", got.Role)
	assert.False(t, got.IsSuperAdmin)

	w = httptest.NewRecorder()
	GetCurrentPrincipalHandler(zap.NewNop())(w, newRequest(http.MethodGet, "/api/v1/me", nil, superAdmin(), nil))
	got = MeResponse{}
	decodeData(t, w, &got)
	assert.Nil(t, got.TenantID)
	assert.True(t, got.IsSuperAdmin)
}
