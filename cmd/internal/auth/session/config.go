package session

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the lifetimes of every session kind.
type Config struct {
	// SessionTTL is the absolute lifetime of a login session, renewed by sliding refresh.
	SessionTTL time.Duration `env:"MONACA_SESSION_TTL" envDefault:"720h"`
	// SessionRefreshWindow is how long before expiry a validated session gets extended.
	SessionRefreshWindow time.Duration `env:"MONACA_SESSION_REFRESH_WINDOW" envDefault:"360h"`

	SignupTTL             time.Duration `env:"MONACA_SIGNUP_SESSION_TTL" envDefault:"10m"`
	EmailVerificationTTL  time.Duration `env:"MONACA_EMAIL_VERIFICATION_SESSION_TTL" envDefault:"15m"`
	PasswordResetTTL      time.Duration `env:"MONACA_PASSWORD_RESET_SESSION_TTL" envDefault:"10m"`
	AccountAssociationTTL time.Duration `env:"MONACA_ACCOUNT_ASSOCIATION_SESSION_TTL" envDefault:"10m"`

	// VerifiedExtension is added once to an ephemeral session when its code is verified.
	VerifiedExtension time.Duration `env:"MONACA_VERIFIED_SESSION_EXTENSION" envDefault:"10m"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SessionTTL:            30 * 24 * time.Hour,
		SessionRefreshWindow:  15 * 24 * time.Hour,
		SignupTTL:             10 * time.Minute,
		EmailVerificationTTL:  15 * time.Minute,
		PasswordResetTTL:      10 * time.Minute,
		AccountAssociationTTL: 10 * time.Minute,
		VerifiedExtension:     10 * time.Minute,
	}
}

// LoadConfigFromEnv parses Config from MONACA_* variables (durations are Go duration strings).
//
// Returns an error wrapping ErrConfig if a value cannot be parsed or is inconsistent.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, configError("env", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every lifetime is positive and the refresh window fits in the session TTL.
func (c Config) Validate() error {
	for key, d := range map[string]time.Duration{
		"MONACA_SESSION_TTL":                     c.SessionTTL,
		"MONACA_SESSION_REFRESH_WINDOW":          c.SessionRefreshWindow,
		"MONACA_SIGNUP_SESSION_TTL":              c.SignupTTL,
		"MONACA_EMAIL_VERIFICATION_SESSION_TTL":  c.EmailVerificationTTL,
		"MONACA_PASSWORD_RESET_SESSION_TTL":      c.PasswordResetTTL,
		"MONACA_ACCOUNT_ASSOCIATION_SESSION_TTL": c.AccountAssociationTTL,
		"MONACA_VERIFIED_SESSION_EXTENSION":      c.VerifiedExtension,
	} {
		if d <= 0 {
			return configError(key, nil)
		}
	}
	if c.SessionRefreshWindow >= c.SessionTTL {
		return configError("MONACA_SESSION_REFRESH_WINDOW", nil)
	}
	return nil
}

// SessionPolicy returns the login session policy.
func (c Config) SessionPolicy() Policy {
	return Policy{TTL: c.SessionTTL, RefreshWindow: c.SessionRefreshWindow}
}

// EphemeralPolicy returns the policy for an ephemeral kind.
func (c Config) EphemeralPolicy(k Kind) Policy {
	var ttl time.Duration
	switch k {
	case KindSignup:
		ttl = c.SignupTTL
	case KindEmailVerification:
		ttl = c.EmailVerificationTTL
	case KindPasswordReset:
		ttl = c.PasswordResetTTL
	}
	return Policy{TTL: ttl, VerifiedExtension: c.VerifiedExtension}
}

// AssociationPolicy returns the account association policy.
func (c Config) AssociationPolicy() Policy {
	return Policy{TTL: c.AccountAssociationTTL}
}
