package scm

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature checks a webhook payload against the provider's
// X-Hub-Signature-256 header (HMAC-SHA256, "sha256=" prefixed hex).
// An empty secret means verification is disabled (dev mode).
func VerifySignature(secret string, payload []byte, signature string) bool {
	if secret == "" {
		return true
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
