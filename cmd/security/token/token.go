package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "MONACA_TOKEN_HMAC_KEY"
)

// SecretHasher hashes the secret half of a token for storage comparison.
type SecretHasher interface {
	Hash(secret string) []byte
	Verify(secret string, digest []byte) bool
}

// SHA256Hasher hashes secrets with plain SHA-256.
type SHA256Hasher struct{}

// Hash returns SHA-256(secret).
func (SHA256Hasher) Hash(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Verify reports whether digest is SHA-256(secret). Malformed digests verify false.
func (h SHA256Hasher) Verify(secret string, digest []byte) bool {
	return equalDigest(h.Hash(secret), digest)
}

// HMACHasher hashes secrets with HMAC-SHA256 under a server key.
type HMACHasher struct {
	key []byte
}

// NewHMACHasher returns an HMACHasher bound to key.
func NewHMACHasher(key []byte) HMACHasher {
	k := make([]byte, len(key))
	copy(k, key)
	return HMACHasher{key: k}
}

// Hash returns HMAC-SHA256(secret, key).
func (h HMACHasher) Hash(secret string) []byte {
	m := hmac.New(sha256.New, h.key)
	_, _ = m.Write([]byte(secret))
	return m.Sum(nil)
}

// Verify reports whether digest is HMAC-SHA256(secret, key). Malformed digests verify false.
func (h HMACHasher) Verify(secret string, digest []byte) bool {
	return equalDigest(h.Hash(secret), digest)
}

func equalDigest(want, got []byte) bool {
	if len(got) != sha256.Size {
		return false
	}
	return subtle.ConstantTimeCompare(want, got) == 1
}

// HasherFromEnv returns an HMACHasher when MONACA_TOKEN_HMAC_KEY is set,
// otherwise a SHA256Hasher.
func HasherFromEnv() SecretHasher {
	key := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if key == "" {
		return SHA256Hasher{}
	}
	return NewHMACHasher([]byte(key))
}

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrHMACKeyMissing.
// If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// EqualString compares two strings in constant time with respect to their content.
func EqualString(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
