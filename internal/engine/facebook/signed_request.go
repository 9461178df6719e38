package facebook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidSignedRequest = errors.New("invalid signed request")

// SignedRequest is the verified payload of a signed_request parameter.
type SignedRequest struct {
	Algorithm string `json:"algorithm"`
	UserID    string `json:"user_id"`
	IssuedAt  int64  `json:"issued_at"`
	Expires   int64  `json:"expires,omitempty"`
}

// ParseSignedRequest verifies and decodes a "<signature>.<payload>"
// signed_request, both parts base64url encoded. The signature is the
// HMAC-SHA256 of the encoded payload keyed with the app secret.
func ParseSignedRequest(signed, appSecret string) (*SignedRequest, error) {
	if appSecret == "" {
		return nil, ErrNotConfigured
	}

	encodedSig, encodedPayload, ok := strings.Cut(signed, ".")
	if !ok || encodedSig == "" || encodedPayload == "" {
		return nil, fmt.Errorf("%w: expected two parts", ErrInvalidSignedRequest)
	}

	sig, err := decodeSegment(encodedSig)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrInvalidSignedRequest, err)
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write([]byte(encodedPayload))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidSignedRequest)
	}

	payload, err := decodeSegment(encodedPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrInvalidSignedRequest, err)
	}

	var req SignedRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrInvalidSignedRequest, err)
	}
	if req.Algorithm != "" && !strings.EqualFold(req.Algorithm, "HMAC-SHA256") {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidSignedRequest, req.Algorithm)
	}
	return &req, nil
}

// decodeSegment accepts base64url with or without padding, and tolerates
// the standard alphabet.
func decodeSegment(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	return base64.RawURLEncoding.DecodeString(s)
}

// NewConfirmationCode returns a random 16 character hex code identifying a
// data deletion request.
func NewConfirmationCode() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
