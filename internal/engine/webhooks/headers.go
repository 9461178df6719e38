package webhooks

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tconn93/TRFBWebhook/internal/pkg/validator"
)

const (
	forwardedByHeader    = "X-Forwarded-By"
	originalSourceHeader = "X-Original-Source"
	forwardedByValue     = "TRFBWebhook"
	originalSourceValue  = "Facebook"
)

// reservedHeaders are set by the relay or the transport and cannot be
// overridden by a target's configured headers.
var reservedHeaders = map[string]struct{}{
	"Host":               {},
	"Content-Length":     {},
	"Transfer-Encoding":  {},
	"Connection":         {},
	forwardedByHeader:    {},
	originalSourceHeader: {},
}

// IsReservedHeader reports whether name cannot be configured on a target.
func IsReservedHeader(name string) bool {
	_, ok := reservedHeaders[http.CanonicalHeaderKey(name)]
	return ok
}

// mergeHeaders returns the outbound headers for a forward: the relay
// defaults overlaid with the target's headers. Reserved or malformed target
// headers are dropped.
func mergeHeaders(userAgent string, custom map[string]string, logger zerolog.Logger) http.Header {
	h := make(http.Header, len(custom)+4)
	h.Set("Content-Type", "application/json")
	if userAgent != "" {
		h.Set("User-Agent", userAgent)
	}
	h.Set(forwardedByHeader, forwardedByValue)
	h.Set(originalSourceHeader, originalSourceValue)

	for name, value := range custom {
		if IsReservedHeader(name) {
			logger.Debug().Str("header", name).Msg("dropping reserved header from target configuration")
			continue
		}
		if !validator.IsHeaderName(name) || !validator.IsHeaderValue(value) {
			logger.Debug().Str("header", name).Msg("dropping malformed header from target configuration")
			continue
		}
		h.Set(name, value)
	}

	return h
}
