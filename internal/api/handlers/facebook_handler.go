package handlers

import (
	stderrors "errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tconn93/TRFBWebhook/internal/engine/facebook"
	"github.com/tconn93/TRFBWebhook/internal/pkg/errors"
	"github.com/tconn93/TRFBWebhook/internal/platform/audit"
	"github.com/tconn93/TRFBWebhook/internal/platform/auth"
	"github.com/tconn93/TRFBWebhook/internal/platform/repositories"
)

// FacebookHandler links a user account to a Facebook account through the
// OAuth code flow.
type FacebookHandler struct {
	client      *facebook.Client
	userRepo    *repositories.UserRepository
	tokenSvc    *auth.TokenService
	audit       *audit.Logger
	frontendURL string
	logger      zerolog.Logger
}

func NewFacebookHandler(client *facebook.Client, userRepo *repositories.UserRepository, tokenSvc *auth.TokenService, auditLogger *audit.Logger, frontendURL string, logger zerolog.Logger) *FacebookHandler {
	return &FacebookHandler{
		client:      client,
		userRepo:    userRepo,
		tokenSvc:    tokenSvc,
		audit:       auditLogger,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

func (h *FacebookHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.userRepo.FacebookStatus(r.Context(), currentUserID(r))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to fetch Facebook status", nil)
		return
	}
	if status == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "User not found", nil)
		return
	}

	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"connected":    status.Connected,
		"connected_at": status.ConnectedAt,
	})
}

func (h *FacebookHandler) AuthURL(w http.ResponseWriter, r *http.Request) {
	state, err := h.tokenSvc.GenerateStateToken(currentUserID(r))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate state", nil)
		return
	}

	authURL, err := h.client.AuthCodeURL(state)
	if err != nil {
		if stderrors.Is(err, facebook.ErrNotConfigured) {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeNotConfigured, "Facebook App ID not configured", nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to build auth URL", nil)
		return
	}

	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"auth_url": authURL,
	})
}

// Callback completes the OAuth flow. Every outcome redirects back to the
// dashboard; failures carry a facebook_error query parameter.
func (h *FacebookHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if denied := q.Get("error"); denied != "" {
		reason := q.Get("error_description")
		if reason == "" {
			reason = denied
		}
		h.logger.Info().Str("error", denied).Msg("facebook authorization denied")
		h.redirect(w, r, url.Values{"facebook_error": {reason}})
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		h.redirect(w, r, url.Values{"facebook_error": {"missing_parameters"}})
		return
	}

	userID, err := h.tokenSvc.ValidateStateToken(state)
	if err != nil {
		h.logger.Warn().Err(err).Msg("invalid oauth state")
		h.redirect(w, r, url.Values{"facebook_error": {"invalid_state"}})
		return
	}

	conn, err := h.client.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("facebook token exchange failed")
		h.redirect(w, r, url.Values{"facebook_error": {"token_exchange_failed"}})
		return
	}

	if err := h.userRepo.ConnectFacebook(r.Context(), userID, *conn); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to store facebook connection")
		h.redirect(w, r, url.Values{"facebook_error": {"storage_failed"}})
		return
	}

	h.audit.Log(r, userID, audit.ActionFacebookConnect, audit.ResourceUser, userID, map[string]interface{}{
		"facebook_user_id": conn.FacebookUserID,
	})
	h.logger.Info().Str("user_id", userID).Msg("facebook account connected")

	h.redirect(w, r, url.Values{"facebook_connected": {"true"}})
}

func (h *FacebookHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r)
	if err := h.userRepo.DisconnectFacebook(r.Context(), userID); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to disconnect Facebook", nil)
		return
	}

	h.audit.Log(r, userID, audit.ActionFacebookDisconnect, audit.ResourceUser, userID, nil)

	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Facebook account disconnected",
	})
}

func (h *FacebookHandler) redirect(w http.ResponseWriter, r *http.Request, q url.Values) {
	http.Redirect(w, r, h.frontendURL+"/dashboard?"+q.Encode(), http.StatusFound)
}
