package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tconn93/TRFBWebhook/internal/engine/targets"
	"github.com/tconn93/TRFBWebhook/internal/engine/webhooks"
	"github.com/tconn93/TRFBWebhook/internal/pkg/errors"
	"github.com/tconn93/TRFBWebhook/internal/pkg/validator"
	"github.com/tconn93/TRFBWebhook/internal/platform/audit"
	"github.com/tconn93/TRFBWebhook/internal/platform/models"
)

// Sender delivers one payload to one target.
type Sender interface {
	ForwardOne(ctx context.Context, target *models.Target, payload []byte) webhooks.ForwardResult
}

type TargetHandler struct {
	store      targets.Store
	sender     Sender
	validator  *validator.Validator
	audit      *audit.Logger
	maxTimeout time.Duration
	now        func() time.Time
}

func NewTargetHandler(store targets.Store, sender Sender, v *validator.Validator, auditLogger *audit.Logger, maxTimeout time.Duration) *TargetHandler {
	return &TargetHandler{
		store:      store,
		sender:     sender,
		validator:  v,
		audit:      auditLogger,
		maxTimeout: maxTimeout,
		now:        time.Now,
	}
}

type targetResponse struct {
	Success bool           `json:"success"`
	Target  *models.Target `json:"target,omitempty"`
	Message string         `json:"message,omitempty"`
}

func (h *TargetHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context(), currentUserID(r))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to fetch targets", nil)
		return
	}
	if list == nil {
		list = []*models.Target{}
	}

	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   len(list),
		"targets": list,
	})
}

func (h *TargetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var fields models.TargetFields
	if !decodeJSON(w, r, &fields) {
		return
	}
	if fields.Name == nil || strings.TrimSpace(*fields.Name) == "" || fields.URL == nil || *fields.URL == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Name and URL are required", nil)
		return
	}
	if !h.validate(w, fields) {
		return
	}

	userID := currentUserID(r)
	target, err := h.store.Create(r.Context(), fields, userID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create target", nil)
		return
	}

	h.audit.Log(r, userID, audit.ActionTargetCreate, audit.ResourceTarget, target.ID, map[string]interface{}{
		"name": target.Name,
		"url":  target.URL,
	})

	errors.WriteJSON(w, http.StatusCreated, targetResponse{Success: true, Target: target})
}

func (h *TargetHandler) Get(w http.ResponseWriter, r *http.Request) {
	target, ok := h.load(w, r)
	if !ok {
		return
	}
	errors.WriteJSON(w, http.StatusOK, targetResponse{Success: true, Target: target})
}

func (h *TargetHandler) Update(w http.ResponseWriter, r *http.Request) {
	var fields models.TargetFields
	if !decodeJSON(w, r, &fields) {
		return
	}
	if !h.validate(w, fields) {
		return
	}

	userID := currentUserID(r)
	target, err := h.store.Update(r.Context(), param(r, "id"), fields, userID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to update target", nil)
		return
	}
	if target == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Target not found", nil)
		return
	}

	h.audit.Log(r, userID, audit.ActionTargetUpdate, audit.ResourceTarget, target.ID, nil)

	errors.WriteJSON(w, http.StatusOK, targetResponse{Success: true, Target: target})
}

func (h *TargetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r)
	id := param(r, "id")

	deleted, err := h.store.Delete(r.Context(), id, userID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to delete target", nil)
		return
	}
	if !deleted {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Target not found", nil)
		return
	}

	h.audit.Log(r, userID, audit.ActionTargetDelete, audit.ResourceTarget, id, nil)

	errors.WriteJSON(w, http.StatusOK, targetResponse{Success: true, Message: "Target deleted successfully"})
}

// TestPayload is the synthetic event sent by the test trigger.
type TestPayload struct {
	Test      bool              `json:"test"`
	Message   string            `json:"message"`
	Timestamp string            `json:"timestamp"`
	Object    string            `json:"object"`
	Entry     []json.RawMessage `json:"entry"`
}

// Test sends a synthetic payload to one of the caller's targets and reports
// the outcome. Inactive targets can be tested too.
func (h *TargetHandler) Test(w http.ResponseWriter, r *http.Request) {
	target, ok := h.load(w, r)
	if !ok {
		return
	}

	payload, err := json.Marshal(TestPayload{
		Test:      true,
		Message:   "This is a test webhook from TRFBWebhook",
		Timestamp: h.now().UTC().Format(webhooks.TimestampLayout),
		Object:    "test",
		Entry:     []json.RawMessage{},
	})
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to build test payload", nil)
		return
	}

	result := h.sender.ForwardOne(r.Context(), target, payload)

	message := "Test webhook sent successfully"
	if !result.Success {
		message = "Test webhook failed"
	}

	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": result.Success,
		"status":  result.StatusCode,
		"message": message,
		"result":  result,
	})
}

func (h *TargetHandler) load(w http.ResponseWriter, r *http.Request) (*models.Target, bool) {
	target, err := h.store.Get(r.Context(), param(r, "id"), currentUserID(r))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to fetch target", nil)
		return nil, false
	}
	if target == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Target not found", nil)
		return nil, false
	}
	return target, true
}

func (h *TargetHandler) validate(w http.ResponseWriter, fields models.TargetFields) bool {
	if err := h.validator.Struct(fields); err != nil {
		writeValidation(w, err)
		return false
	}

	details := validator.FieldErrors{}
	for name := range fields.Headers {
		if webhooks.IsReservedHeader(name) {
			details["headers["+name+"]"] = "is reserved"
		}
	}
	if fields.TimeoutMS != nil && h.maxTimeout > 0 && int64(*fields.TimeoutMS) > h.maxTimeout.Milliseconds() {
		details["timeout_ms"] = "must be at most " + h.maxTimeout.String()
	}
	if len(details) > 0 {
		writeValidation(w, details)
		return false
	}
	return true
}
