package token

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
)

const (
	// Separator joins the id and secret halves. It is outside the base64url alphabet.
	Separator = "."

	// IDBytes is the entropy of a generated id (128 bits).
	IDBytes = 16
	// SecretBytes is the entropy of a generated secret (256 bits).
	SecretBytes = 32

	// maxTokenLen bounds parsing work for attacker-controlled input.
	maxTokenLen = 512
)

var b64 = base64.RawURLEncoding.Strict()

// Format joins an id and a secret into the client-held token.
// Both halves are expected to already be base64url strings (see NewID, NewSecret).
func Format(id, secret string) string {
	return id + Separator + secret
}

// Parse splits a token into its id and secret halves.
//
// It never touches storage and never panics: any input that is not exactly
// two non-empty base64url halves joined by a single separator yields
// ErrInvalidFormat.
func Parse(tok string) (id, secret string, err error) {
	if tok == "" || len(tok) > maxTokenLen {
		return "", "", ErrInvalidFormat
	}
	id, secret, ok := strings.Cut(tok, Separator)
	if !ok || id == "" || secret == "" {
		return "", "", ErrInvalidFormat
	}
	// A second separator means the secret half is not a single base64url value.
	if strings.Contains(secret, Separator) {
		return "", "", ErrInvalidFormat
	}
	if !validHalf(id) || !validHalf(secret) {
		return "", "", ErrInvalidFormat
	}
	return id, secret, nil
}

func validHalf(s string) bool {
	_, err := b64.DecodeString(s)
	return err == nil
}

// NewID returns a random 128-bit id encoded as base64url.
func NewID() (string, error) {
	return randomB64(IDBytes)
}

// NewSecret returns a random 256-bit secret encoded as base64url.
func NewSecret() (string, error) {
	return randomB64(SecretBytes)
}

func randomB64(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return b64.EncodeToString(b), nil
}
