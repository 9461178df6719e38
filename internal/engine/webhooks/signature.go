package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the provider's HMAC of the request body.
const SignatureHeader = "X-Hub-Signature-256"

// Sign returns the hex HMAC-SHA256 of payload keyed with secret.
func Sign(secret string, payload []byte) string {
	return hex.EncodeToString(mac(secret, payload))
}

// Verify reports whether provided is a valid HMAC-SHA256 of rawBody under
// secret. provided may be bare hex or carry a "sha256=" prefix. An empty
// secret never verifies.
func Verify(rawBody []byte, provided, secret string) bool {
	if secret == "" || provided == "" {
		return false
	}

	digest := strings.TrimSpace(provided)
	if alg, rest, found := strings.Cut(digest, "="); found {
		if !strings.EqualFold(alg, "sha256") {
			return false
		}
		digest = rest
	}

	got, err := hex.DecodeString(digest)
	if err != nil || len(got) != sha256.Size {
		return false
	}

	return hmac.Equal(mac(secret, rawBody), got)
}

func mac(secret string, payload []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return h.Sum(nil)
}
