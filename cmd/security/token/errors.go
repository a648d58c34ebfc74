package token

import "errors"

// Public, stable errors for callers.
var (
	ErrInvalidFormat    = errors.New("token: invalid format")
	ErrInvalidSignature = errors.New("token: invalid signature")
	ErrHMACKeyMissing   = errors.New("token HMAC key missing")
	ErrHMACKeyTooShort  = errors.New("token HMAC key too short")
)
