package handlers

import (
	stderrors "errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tconn93/TRFBWebhook/internal/engine/webhooks"
	"github.com/tconn93/TRFBWebhook/internal/pkg/errors"
	"github.com/tconn93/TRFBWebhook/internal/pkg/metrics"
	"github.com/tconn93/TRFBWebhook/internal/platform/config"
)

// Dispatcher hands an accepted delivery to background processing.
type Dispatcher interface {
	Dispatch(body []byte)
}

// WebhookHandler serves the Facebook subscription handshake and event
// deliveries on /webhook.
type WebhookHandler struct {
	verifyToken   string
	appSecret     string
	allowUnsigned bool
	maxBodyBytes  int64
	dispatcher    Dispatcher
	metrics       *metrics.Metrics
	logger        zerolog.Logger
}

func NewWebhookHandler(fb config.FacebookConfig, maxBodyBytes int64, dispatcher Dispatcher, m *metrics.Metrics, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifyToken:   fb.VerifyToken,
		appSecret:     fb.AppSecret,
		allowUnsigned: fb.AllowUnsigned,
		maxBodyBytes:  maxBodyBytes,
		dispatcher:    dispatcher,
		metrics:       m,
		logger:        logger,
	}
}

func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := webhooks.Handshake(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), h.verifyToken)
	if !ok {
		h.logger.Warn().Str("mode", q.Get("hub.mode")).Msg("webhook verification failed")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	h.logger.Info().Msg("webhook verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var reader io.Reader = r.Body
	if h.maxBodyBytes > 0 {
		reader = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			h.logger.Warn().Int64("limit", tooLarge.Limit).Msg("webhook body too large")
			errors.WriteError(w, http.StatusRequestEntityTooLarge, errors.ErrCodePayloadTooLarge, "Request body too large", nil)
			return
		}
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unable to read request body", nil)
		return
	}

	if h.appSecret != "" || !h.allowUnsigned {
		if !webhooks.Verify(body, r.Header.Get(webhooks.SignatureHeader), h.appSecret) {
			h.metrics.RecordWebhook(metrics.ResultRejected)
			h.logger.Warn().
				Bool("signature_present", r.Header.Get(webhooks.SignatureHeader) != "").
				Int("bytes", len(body)).
				Msg("invalid webhook signature")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "EVENT_RECEIVED")

	h.dispatcher.Dispatch(body)
}
