package token

import (
	"crypto/hmac"
	"crypto/sha256"
)

// Sign returns `<base64url(payload)>.<base64url(HMAC-SHA256(payload))>`.
func Sign(key, payload []byte) string {
	return Format(b64.EncodeToString(payload), b64.EncodeToString(mac(key, payload)))
}

// Open verifies a value produced by Sign and returns its payload.
func Open(key []byte, signed string) ([]byte, error) {
	p, m, err := Parse(signed)
	if err != nil {
		return nil, err
	}
	payload, err := b64.DecodeString(p)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	got, err := b64.DecodeString(m)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	if !hmac.Equal(mac(key, payload), got) {
		return nil, ErrInvalidSignature
	}
	return payload, nil
}

func mac(key, payload []byte) []byte {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write(payload)
	return m.Sum(nil)
}
