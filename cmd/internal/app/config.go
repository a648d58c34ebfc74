package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConfig marks an invalid runtime configuration.
var ErrConfig = errors.New("app: invalid config")

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds runtime configuration loaded from environment variables.
// Component settings (session lifetimes, OAuth clients, cookies, password
// policy) are loaded by their own packages.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	StorageDriver string
	SQLitePath    string

	DatabaseURL    string
	DatabaseSchema string
	DBMaxConns     int32
	DBMinConns     int32
	// DBMigrate applies the Postgres schema on startup.
	DBMigrate bool

	// RedisURL switches rate limiting to the shared Redis backend.
	RedisURL       string
	RateLimitCache int

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	ResendAPIKey string
	MailFrom     string

	SweepInterval time.Duration

	OTLPEndpoint string
	ServiceName  string

	ReadinessRequireDB bool

	// If true, MONACA_TOKEN_HMAC_KEY MUST be set (>= 32 bytes).
	RequireTokenHMAC bool
	// OAuthStateKey signs OAuth state. Empty means a random per-process key.
	OAuthStateKey string
}

// LoadConfig reads MONACA_* variables and validates the result.
func LoadConfig() (Config, error) {
	cfg := Config{
		HTTPAddr:  EnvString("MONACA_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("MONACA_LOG_LEVEL", "info"),
		LogFormat: EnvString("MONACA_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("MONACA_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("MONACA_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("MONACA_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("MONACA_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("MONACA_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    EnvInt("MONACA_HTTP_MAX_HEADER_BYTES", 1<<20),

		StorageDriver: strings.ToLower(EnvString("MONACA_STORAGE_DRIVER", "")),
		SQLitePath:    EnvString("MONACA_SQLITE_PATH", "data/monaca.db"),

		DatabaseURL:    EnvString("MONACA_DATABASE_URL", ""),
		DatabaseSchema: EnvString("MONACA_DATABASE_SCHEMA", "monaca"),
		DBMaxConns:     EnvInt32("MONACA_DB_MAX_CONNS", 10),
		DBMinConns:     EnvInt32("MONACA_DB_MIN_CONNS", 0),
		DBMigrate:      EnvBool("MONACA_DB_MIGRATE", true),

		RedisURL:       EnvString("MONACA_REDIS_URL", ""),
		RateLimitCache: EnvInt("MONACA_RATELIMIT_CACHE_SIZE", 10_000),

		CORSAllowedOrigins:   EnvList("MONACA_CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		CORSAllowCredentials: EnvBool("MONACA_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("MONACA_CORS_MAX_AGE_SECONDS", 600),

		ResendAPIKey: EnvString("MONACA_RESEND_API_KEY", ""),
		MailFrom:     EnvString("MONACA_MAIL_FROM", "mona-ca <no-reply@mona-ca.com>"),

		SweepInterval: EnvDuration("MONACA_SWEEP_INTERVAL", 10*time.Minute),

		OTLPEndpoint: EnvString("MONACA_OTLP_ENDPOINT", ""),
		ServiceName:  EnvString("MONACA_SERVICE_NAME", "monaca"),

		ReadinessRequireDB: EnvBool("MONACA_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("MONACA_REQUIRE_TOKEN_HMAC", false),
		OAuthStateKey:    EnvString("MONACA_OAUTH_STATE_KEY", ""),
	}

	// Driver follows the database URL unless set explicitly.
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = DriverMemory
		if cfg.DatabaseURL != "" {
			cfg.StorageDriver = DriverPostgres
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: MONACA_SQLITE_PATH is required for the sqlite driver", ErrConfig)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: MONACA_DATABASE_URL is required for the postgres driver", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: MONACA_STORAGE_DRIVER=%q (want memory|sqlite|postgres)", ErrConfig, c.StorageDriver)
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "pretty":
	default:
		return fmt.Errorf("%w: MONACA_LOG_FORMAT=%q (want json|pretty)", ErrConfig, c.LogFormat)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("%w: MONACA_DB_MIN_CONNS exceeds MONACA_DB_MAX_CONNS", ErrConfig)
	}
	if c.ResendAPIKey != "" && c.MailFrom == "" {
		return fmt.Errorf("%w: MONACA_MAIL_FROM is required with MONACA_RESEND_API_KEY", ErrConfig)
	}
	if c.CORSAllowCredentials {
		for _, o := range c.CORSAllowedOrigins {
			if o == "*" {
				return fmt.Errorf("%w: MONACA_CORS_ALLOWED_ORIGINS cannot be * with credentials", ErrConfig)
			}
		}
	}
	return nil
}

// DBEnabled reports whether a persistent store is configured.
func (c Config) DBEnabled() bool { return c.StorageDriver != DriverMemory }
