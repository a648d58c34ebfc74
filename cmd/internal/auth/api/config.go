package authapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrConfig is returned for invalid transport configuration.
var ErrConfig = errors.New("invalid auth api config")

// Config controls the HTTP transport of the auth flows.
type Config struct {
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy   bool  `env:"MONACA_TRUST_PROXY" envDefault:"false"`
	MaxBodyBytes int64 `env:"MONACA_AUTH_MAX_BODY_BYTES" envDefault:"65536"`

	CookieDomain   string `env:"MONACA_COOKIE_DOMAIN"`
	CookieSecure   bool   `env:"MONACA_COOKIE_SECURE" envDefault:"true"`
	CookieSameSite string `env:"MONACA_COOKIE_SAMESITE" envDefault:"lax"`

	SessionCookie           string `env:"MONACA_SESSION_COOKIE" envDefault:"monaca_session"`
	SignupCookie            string `env:"MONACA_SIGNUP_COOKIE" envDefault:"monaca_signup"`
	PasswordResetCookie     string `env:"MONACA_PASSWORD_RESET_COOKIE" envDefault:"monaca_password_reset"`
	EmailVerificationCookie string `env:"MONACA_EMAIL_VERIFICATION_COOKIE" envDefault:"monaca_email_verification"`
	AssociationCookie       string `env:"MONACA_ASSOCIATION_COOKIE" envDefault:"monaca_account_association"`
	VerifierCookie          string `env:"MONACA_OAUTH_VERIFIER_COOKIE" envDefault:"monaca_oauth_verifier"`

	// OAuth callbacks redirect to these bases joined with the path the client asked for.
	WebAppURL    string `env:"MONACA_WEB_APP_URL" envDefault:"http://localhost:3000"`
	MobileAppURL string `env:"MONACA_MOBILE_APP_URL" envDefault:"monaca://auth"`

	// VerifierTTL bounds the life of the PKCE verifier cookie.
	VerifierTTL time.Duration `env:"MONACA_OAUTH_VERIFIER_TTL" envDefault:"10m"`

	sameSite http.SameSite
}

// DefaultConfig returns the defaults LoadConfigFromEnv uses with an empty environment.
func DefaultConfig() Config {
	cfg := Config{
		MaxBodyBytes:            64 << 10,
		CookieSecure:            true,
		CookieSameSite:          "lax",
		SessionCookie:           "monaca_session",
		SignupCookie:            "monaca_signup",
		PasswordResetCookie:     "monaca_password_reset",
		EmailVerificationCookie: "monaca_email_verification",
		AssociationCookie:       "monaca_account_association",
		VerifierCookie:          "monaca_oauth_verifier",
		WebAppURL:               "http://localhost:3000",
		MobileAppURL:            "monaca://auth",
		VerifierTTL:             10 * time.Minute,
	}
	_ = cfg.normalize()
	return cfg
}

// LoadConfigFromEnv parses Config from MONACA_* variables.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize applies the cookie guardrails and validates the redirect bases.
func (c *Config) normalize() error {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 64 << 10
	}
	if c.VerifierTTL <= 0 {
		c.VerifierTTL = 10 * time.Minute
	}
	c.sameSite = parseSameSite(c.CookieSameSite)
	// Browsers drop SameSite=None cookies without Secure.
	if c.sameSite == http.SameSiteNoneMode {
		c.CookieSecure = true
	}

	names := map[string]bool{}
	for _, n := range []string{c.SessionCookie, c.SignupCookie, c.PasswordResetCookie, c.EmailVerificationCookie, c.AssociationCookie, c.VerifierCookie} {
		n = strings.TrimSpace(n)
		if n == "" || names[n] {
			return fmt.Errorf("%w: cookie names must be set and distinct", ErrConfig)
		}
		names[n] = true
	}

	for key, raw := range map[string]string{"MONACA_WEB_APP_URL": c.WebAppURL, "MONACA_MOBILE_APP_URL": c.MobileAppURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" {
			return fmt.Errorf("%w: %s must be an absolute URL", ErrConfig, key)
		}
	}
	return nil
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}
