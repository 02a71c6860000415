package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/utils"
	"go.uber.org/zap"
)

// CreateContactRequest is the body of POST /api/v1/contacts. There is no tenant field;
// the owning tenant always comes from the caller.
type CreateContactRequest struct {
	Name  string `json:"name" validate:"required,max=255"`
	Phone string `json:"phone" validate:"required,max=32"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// UpdateContactRequest is the body of PATCH /api/v1/contacts/{id}
type UpdateContactRequest struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Phone *string `json:"phone,omitempty" validate:"omitempty,min=1,max=32"`
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
}

// CreateNoteRequest is the body of POST /api/v1/contacts/{id}/notes
type CreateNoteRequest struct {
	Body string `json:"body" validate:"required,max=4000"`
}

// ContactHandler handles contact and contact note requests
type ContactHandler struct {
	txMgr    repositories.TransactionManager
	contacts repositories.ContactRepository
	notes    repositories.ContactNoteRepository
	logger   *zap.Logger
}

// NewContactHandler creates a new ContactHandler
func NewContactHandler(txMgr repositories.TransactionManager, contacts repositories.ContactRepository, notes repositories.ContactNoteRepository, logger *zap.Logger) *ContactHandler {
	return &ContactHandler{
		txMgr:    txMgr,
		contacts: contacts,
		notes:    notes,
		logger:   logger,
	}
}

// HandleCreate handles POST /api/v1/contacts
func (h *ContactHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateContactRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	contact := models.NewContact(tc.TenantID(), tc.PrincipalID(), req.Name, req.Phone, req.Email)
	err := services.WithPrincipalTransaction(r.Context(), h.txMgr, tc, func(ctx context.Context, _ repositories.Transaction) error {
		return h.contacts.Create(ctx, contact)
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("contact created",
		zap.String("contact_id", contact.ID.String()),
		zap.String("tenant_id", contact.TenantID.String()))
	_ = utils.WriteCreated(w, contact)
}

// HandleList handles GET /api/v1/contacts
func (h *ContactHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	// Only a super-admin may name another tenant; everyone else lists their own
	tenantID := tc.TenantID()
	if tc.IsSuperAdmin() && r.URL.Query().Get("tenant_id") != "" {
		if tenantID, err = uuid.Parse(r.URL.Query().Get("tenant_id")); err != nil {
			HandleServiceError(w, services.NewDomainError(services.ErrorTypeValidation, "invalid tenant_id", err), h.logger)
			return
		}
	}

	contacts, err := services.WithPrincipalTransactionResult(r.Context(), h.txMgr, tc, func(ctx context.Context, _ repositories.Transaction) ([]*models.Contact, error) {
		return h.contacts.ListByTenant(ctx, tenantID, limit, offset)
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if contacts == nil {
		contacts = []*models.Contact{}
	}
	_ = utils.WriteOK(w, contacts)
}

// HandleGet handles GET /api/v1/contacts/{id}
func (h *ContactHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	contact, err := services.WithPrincipalTransactionResult(r.Context(), h.txMgr, tc, func(ctx context.Context, _ repositories.Transaction) (*models.Contact, error) {
		return h.contacts.GetByID(ctx, id)
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, contact)
}

// HandleUpdate handles PATCH /api/v1/contacts/{id}
func (h *ContactHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	var req UpdateContactRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	contact, err := services.WithPrincipalTransactionResult(r.Context(), h.txMgr, tc, func(ctx context.Context, _ repositories.Transaction) (*models.Contact, error) {
		c, err := h.contacts.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if req.Name != nil {
			c.Name = *req.Name
		}
		if req.Phone != nil {
			c.Phone = *req.Phone
		}
		if req.Email != nil {
			c.Email = *req.Email
		}
		c.UpdatedAt = time.Now()
		if err := h.contacts.Update(ctx, c); err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, contact)
}

// HandleDelete handles DELETE /api/v1/contacts/{id}
func (h *ContactHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
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
		return h.contacts.Delete(ctx, id)
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("contact deleted", zap.String("contact_id", id.String()))
	utils.WriteNoContent(w)
}

// HandleCreateNote handles POST /api/v1/contacts/{id}/notes
func (h *ContactHandler) HandleCreateNote(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}
	contactID, err := pathUUID(r, "id")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	var req CreateNoteRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	note := models.NewContactNote(contactID, tc.PrincipalID(), req.Body)
	err = services.WithPrincipalTransaction(r.Context(), h.txMgr, tc, func(ctx context.Context, _ repositories.Transaction) error {
		return h.notes.Create(ctx, note)
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, note)
}

// HandleListNotes handles GET /api/v1/contacts/{id}/notes
func (h *ContactHandler) HandleListNotes(w http.ResponseWriter, r *http.Request) {
	tc, ok := callerFrom(w, r, h.logger)
	if !ok {
		return
	}
	contactID, err := pathUUID(r, "id")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	notes, err := services.WithPrincipalTransactionResult(r.Context(), h.txMgr, tc, func(ctx context.Context, _ repositories.Transaction) ([]*models.ContactNote, error) {
		return h.notes.ListByContact(ctx, contactID)
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if notes == nil {
		notes = []*models.ContactNote{}
	}
	_ = utils.WriteOK(w, notes)
}
