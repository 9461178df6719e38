package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "github.com/tconn93/TRFBWebhook/internal/api/context"
	"github.com/tconn93/TRFBWebhook/internal/pkg/errors"
	"github.com/tconn93/TRFBWebhook/internal/pkg/validator"
	"github.com/tconn93/TRFBWebhook/internal/platform/auth"
)

// maxJSONBody bounds API request bodies. Webhook deliveries use the
// server-wide limit instead.
const maxJSONBody = 1 << 20

// decodeJSON reads r's body into dst and writes a 400/413 response on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			errors.WriteError(w, http.StatusRequestEntityTooLarge, errors.ErrCodePayloadTooLarge, "Request body too large", nil)
			return false
		}
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return false
	}
	return true
}

// writeValidation maps a validator error to a 400 with per-field details.
func writeValidation(w http.ResponseWriter, err error) {
	var fields validator.FieldErrors
	if stderrors.As(err, &fields) {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Validation failed", fields)
		return
	}
	errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
}

func param(r *http.Request, name string) string {
	params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	return params.ByName(name)
}

// currentUserID returns the authenticated user's id. Routes that call it are
// always behind AuthMiddleware.
func currentUserID(r *http.Request) string {
	claims, _ := r.Context().Value(apiContext.Claims).(*auth.Claims)
	if claims == nil {
		return ""
	}
	return claims.UserID
}
