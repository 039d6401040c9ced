package platform

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader is the webhook signature header sent by the platform.
const SignatureHeader = "X-Hub-Signature-256"

// VerifySignature recomputes the HMAC-SHA256 of the raw webhook body and
// compares it against the "sha256=<hex>" header value in constant time.
// This runs before any JSON parsing of the untrusted payload.
func VerifySignature(payload []byte, header, secret string) bool {
	if header == "" || secret == "" {
		return false
	}

	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	providedMAC, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(providedMAC, mac.Sum(nil))
}

// SignPayload computes the signature header value for a payload. Used by
// tests and by local webhook replay tooling.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
