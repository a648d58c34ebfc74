package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Version = 19 // argon2.Version is 0x13 (19)
)

// Hasher hashes passwords with Argon2id plus a server pepper.
type Hasher struct {
	cfg    Config
	pepper []byte
}

// NewHasher returns a Hasher. An empty pepper is rejected.
func NewHasher(cfg Config, pepper []byte) (*Hasher, error) {
	if len(pepper) == 0 {
		return nil, ErrPepperMissing
	}
	p := make([]byte, len(pepper))
	copy(p, pepper)
	return &Hasher{cfg: cfg, pepper: p}, nil
}

// Config returns the hasher's configuration.
func (h *Hasher) Config() Config { return h.cfg }

// Validate checks password against the configured policy.
func (h *Hasher) Validate(password string) error { return h.cfg.Validate(password) }

// Hash validates the password and returns its PHC-encoded Argon2id hash.
func (h *Hasher) Hash(password string) (string, error) {
	if err := h.cfg.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, h.cfg.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	p := h.cfg.Params
	key := argon2.IDKey(h.peppered(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		p.MemoryKiB,
		p.Iterations,
		p.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encodedHash.
// Any malformed or out-of-bounds hash verifies false.
func (h *Hasher) Verify(password, encodedHash string) bool {
	params, salt, expected, err := decode(encodedHash)
	if err != nil {
		return false
	}
	if !withinReasonableBounds(params, h.cfg.Params) {
		return false
	}

	key := argon2.IDKey(
		h.peppered(password),
		salt,
		params.Iterations,
		params.MemoryKiB,
		params.Parallelism,
		uint32(len(expected)), // #nosec G115 -- expected length is bounded by decode(); safe conversion.
	)

	return subtle.ConstantTimeCompare(key, expected) == 1
}

func (h *Hasher) peppered(password string) []byte {
	b := make([]byte, 0, len(password)+len(h.pepper))
	b = append(b, password...)
	return append(b, h.pepper...)
}

func withinReasonableBounds(got Argon2idParams, limits Argon2idParams) bool {
	// Hashes from older, smaller settings verify; wildly larger settings do not.
	if got.MemoryKiB > limits.MemoryKiB*2 {
		return false
	}
	if got.Iterations > limits.Iterations*2 {
		return false
	}
	if got.Parallelism > limits.Parallelism*2 {
		return false
	}
	if got.SaltLength < 8 || got.SaltLength > 64 {
		return false
	}
	if got.KeyLength < 16 || got.KeyLength > 128 {
		return false
	}
	return true
}

// decode parses the encoded hash and returns params, salt and expected key.
func decode(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != "v=19" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	hash, err := b64.DecodeString(parts[5])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	return Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par),        // #nosec G115 -- checked <= 255 above.
		SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded by input length.
		KeyLength:   uint32(len(hash)), // #nosec G115 -- bounded by input length.
	}, salt, hash, nil
}
