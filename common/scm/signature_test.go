package scm

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature_Valid(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)

	assert.True(t, VerifySignature("secret", payload, sign("secret", payload)))
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)

	assert.False(t, VerifySignature("secret", payload, sign("other", payload)))
}

func TestVerifySignature_TamperedPayload(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)
	sig := sign("secret", payload)

	assert.False(t, VerifySignature("secret", []byte(`{"ref":"refs/heads/evil"}`), sig))
}

func TestVerifySignature_MissingOrMalformedHeader(t *testing.T) {
	payload := []byte("data")

	assert.False(t, VerifySignature("secret", payload, ""))
	assert.False(t, VerifySignature("secret", payload, "sha256=nothex"))
	assert.False(t, VerifySignature("secret", payload, "sha1=abcdef"))
}

func TestVerifySignature_EmptySecretDisablesVerification(t *testing.T) {
	assert.True(t, VerifySignature("", []byte("anything"), "garbage"))
}

func TestResolveCredential(t *testing.T) {
	t.Setenv("TOME_TEST_CRED", "token-from-env")

	assert.Equal(t, "token-from-env", ResolveCredential("TOME_TEST_CRED", "fallback"))
	assert.Equal(t, "fallback", ResolveCredential("TOME_UNSET_CRED", "fallback"))
	assert.Equal(t, "fallback", ResolveCredential("", "fallback"))
}
