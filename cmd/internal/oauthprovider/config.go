package oauthprovider

import (
	"context"
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/koutyuke/mona-ca-sub001/cmd/identity"
)

// ClientConfig is one provider's OAuth client registration.
type ClientConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"`
}

// Enabled reports whether the client is configured.
func (c ClientConfig) Enabled() bool { return c.ClientID != "" && c.ClientSecret != "" }

// Config holds every provider registration.
type Config struct {
	Discord ClientConfig `envPrefix:"MONACA_OAUTH_DISCORD_"`
	Google  ClientConfig `envPrefix:"MONACA_OAUTH_GOOGLE_"`
}

// LoadConfigFromEnv parses Config from MONACA_OAUTH_* variables.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("oauthprovider: config: %w", err)
	}
	for name, c := range map[string]ClientConfig{"discord": cfg.Discord, "google": cfg.Google} {
		if c.Enabled() && c.RedirectURL == "" {
			return Config{}, fmt.Errorf("oauthprovider: config: %s redirect url is required", name)
		}
	}
	return cfg, nil
}

// NewRegistry builds a gateway for every enabled provider.
func NewRegistry(ctx context.Context, cfg Config) Registry {
	r := Registry{}
	if cfg.Discord.Enabled() {
		r[identity.ProviderDiscord] = NewDiscord(cfg.Discord)
	}
	if cfg.Google.Enabled() {
		r[identity.ProviderGoogle] = NewGoogle(ctx, cfg.Google)
	}
	return r
}
