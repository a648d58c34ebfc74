package app

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"

	"github.com/koutyuke/mona-ca-sub001/cmd/security/password"
	"github.com/koutyuke/mona-ca-sub001/cmd/security/token"
)

const (
	minHMACKeyBytes  = 32
	minStateKeyBytes = 32
)

// secrets are the startup-time crypto collaborators.
type secrets struct {
	tokens    token.SecretHasher
	passwords *password.Hasher
	stateKey  []byte
}

// ValidateSecurityConfig enforces the token hashing policy at startup.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	if _, err := token.HMACKeyFromEnv(minHMACKeyBytes); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return fmt.Errorf("%w: MONACA_REQUIRE_TOKEN_HMAC=true but %s is missing", ErrConfig, token.HMACEnvKey)
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return fmt.Errorf("%w: MONACA_REQUIRE_TOKEN_HMAC=true but %s is too short (min %d bytes)", ErrConfig, token.HMACEnvKey, minHMACKeyBytes)
		default:
			return err
		}
	}

	if _, ok := token.HasherFromEnv().(token.HMACHasher); !ok {
		return fmt.Errorf("%w: MONACA_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode", ErrConfig)
	}
	return nil
}

func loadSecrets(cfg Config, log *slog.Logger) (secrets, error) {
	if err := ValidateSecurityConfig(cfg); err != nil {
		return secrets{}, err
	}

	pwCfg, err := password.FromEnv()
	if err != nil {
		return secrets{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	pepper, err := password.PepperFromEnv()
	if err != nil {
		return secrets{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	pw, err := password.NewHasher(pwCfg, pepper)
	if err != nil {
		return secrets{}, err
	}

	stateKey := []byte(cfg.OAuthStateKey)
	switch {
	case len(stateKey) == 0:
		stateKey = make([]byte, minStateKeyBytes)
		if _, err := rand.Read(stateKey); err != nil {
			return secrets{}, err
		}
		log.Warn("security.oauth_state_key.ephemeral", "hint", "set MONACA_OAUTH_STATE_KEY when running more than one instance")
	case len(stateKey) < minStateKeyBytes:
		return secrets{}, fmt.Errorf("%w: MONACA_OAUTH_STATE_KEY is too short (min %d bytes)", ErrConfig, minStateKeyBytes)
	}

	hasher := token.HasherFromEnv()
	if _, ok := hasher.(token.HMACHasher); !ok {
		log.Info("security.token_hasher", "mode", "sha256")
	}

	return secrets{tokens: hasher, passwords: pw, stateKey: stateKey}, nil
}
