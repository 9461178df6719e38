package handlers

import (
	"bytes"
	"embed"
	stderrors "errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tconn93/TRFBWebhook/internal/engine/facebook"
	"github.com/tconn93/TRFBWebhook/internal/pkg/errors"
	"github.com/tconn93/TRFBWebhook/internal/platform/audit"
	"github.com/tconn93/TRFBWebhook/internal/platform/config"
	"github.com/tconn93/TRFBWebhook/internal/platform/repositories"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Invalidator drops cached target data after targets change outside the
// target store.
type Invalidator interface {
	Invalidate()
}

// DataDeletionHandler implements the Facebook data deletion callback and
// self-service account deletion.
type DataDeletionHandler struct {
	userRepo     *repositories.UserRepository
	audit        *audit.Logger
	targets      Invalidator
	appSecret    string
	publicURL    string
	frontendURL  string
	contactEmail string
	logger       zerolog.Logger
}

func NewDataDeletionHandler(userRepo *repositories.UserRepository, auditLogger *audit.Logger, targets Invalidator, appSecret string, domains config.DomainsConfig, logger zerolog.Logger) *DataDeletionHandler {
	return &DataDeletionHandler{
		userRepo:     userRepo,
		audit:        auditLogger,
		targets:      targets,
		appSecret:    appSecret,
		publicURL:    strings.TrimRight(domains.PublicURL, "/"),
		frontendURL:  domains.FrontendURL,
		contactEmail: domains.ContactEmail,
		logger:       logger,
	}
}

type DeletionResponse struct {
	URL              string `json:"url"`
	ConfirmationCode string `json:"confirmation_code"`
}

func (h *DataDeletionHandler) Instructions(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "instructions.html", map[string]interface{}{
		"Title":        "Data Deletion Instructions",
		"FrontendURL":  h.frontendURL,
		"ContactEmail": h.contactEmail,
	})
}

// Callback handles the signed_request Facebook posts when a user removes the
// app and asks for their data to be deleted.
func (h *DataDeletionHandler) Callback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := r.ParseForm(); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid form body", nil)
		return
	}

	signed := r.PostForm.Get("signed_request")
	if signed == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Missing signed_request parameter", nil)
		return
	}

	req, err := facebook.ParseSignedRequest(signed, h.appSecret)
	if err != nil {
		if stderrors.Is(err, facebook.ErrNotConfigured) {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeNotConfigured, "Facebook app secret not configured", nil)
			return
		}
		h.logger.Warn().Err(err).Msg("invalid signed request")
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid signed request", nil)
		return
	}
	if req.UserID == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Missing user_id in signed request", nil)
		return
	}

	deleted := false
	user, err := h.userRepo.GetByFacebookID(r.Context(), req.UserID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to process deletion request", nil)
		return
	}
	if user != nil {
		if deleted, err = h.userRepo.Delete(r.Context(), user.ID); err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to process deletion request", nil)
			return
		}
		h.invalidate()
		h.logger.Info().Str("user_id", user.ID).Msg("deleted user on facebook request")
	} else {
		h.logger.Info().Msg("data deletion request for unknown facebook user")
	}

	code, err := facebook.NewConfirmationCode()
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to process deletion request", nil)
		return
	}

	entry := audit.FromRequest(r, "", audit.ActionDataDeletion, audit.ResourceDataDeletion, code, map[string]interface{}{
		"user_deleted": deleted,
	})
	if err := h.audit.Record(r.Context(), entry); err != nil {
		h.logger.Error().Err(err).Msg("failed to record data deletion")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to process deletion request", nil)
		return
	}

	errors.WriteJSON(w, http.StatusOK, DeletionResponse{
		URL:              h.baseURL(r) + "/data-deletion/status/" + code,
		ConfirmationCode: code,
	})
}

func (h *DataDeletionHandler) Status(w http.ResponseWriter, r *http.Request) {
	code := param(r, "code")

	entry, err := h.audit.FindByResource(r.Context(), audit.ResourceDataDeletion, code)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to look up deletion status")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{
		"Title": "Deletion Status",
		"Code":  code,
		"Found": entry != nil,
	}
	status := http.StatusNotFound
	if entry != nil {
		status = http.StatusOK
		data["RequestedAt"] = time.Unix(entry.CreatedAt, 0).UTC().Format(time.RFC1123)
	}
	h.render(w, status, "status.html", data)
}

// DeleteAccount removes the caller's account and all of its targets.
func (h *DataDeletionHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r)

	deleted, err := h.userRepo.Delete(r.Context(), userID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to delete account", nil)
		return
	}
	if !deleted {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "User not found", nil)
		return
	}

	h.invalidate()
	h.audit.Log(r, userID, audit.ActionUserDelete, audit.ResourceUser, userID, nil)

	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Account deleted successfully",
	})
}

func (h *DataDeletionHandler) invalidate() {
	if h.targets != nil {
		h.targets.Invalidate()
	}
}

func (h *DataDeletionHandler) baseURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func (h *DataDeletionHandler) render(w http.ResponseWriter, status int, name string, data interface{}) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger.Error().Err(err).Str("template", name).Msg("failed to render page")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
