// Package app wires the mona-ca auth server runtime: config, logging, storage,
// rate limiting, mail, OAuth providers, HTTP routes and background sweeping.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	authapi "github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/api"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/accountlink"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/flows"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/auth/session"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/mailer"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/metrics"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/oauthprovider"
	"github.com/koutyuke/mona-ca-sub001/cmd/internal/ratelimit"
)

// App is the server runtime: it owns every long-lived dependency.
type App struct {
	cfg Config
	log Logger

	stores  *stores
	redis   *redis.Client
	memRate *ratelimit.MemoryBackend
	metrics *metrics.Metrics

	svc  *flows.Service
	auth *authapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	sec, err := loadSecrets(cfg, log)
	if err != nil {
		return nil, err
	}
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	apiCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	oauthCfg, err := oauthprovider.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, stores: st, metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	var backend ratelimit.Backend
	if cfg.RedisURL != "" {
		a.redis, err = NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		backend = ratelimit.NewRedisBackend(a.redis, "monaca:rl:")
		log.Info("ratelimit.backend", "kind", "redis")
	} else {
		a.memRate = ratelimit.NewMemoryBackend()
		backend = a.memRate
		log.Info("ratelimit.backend", "kind", "memory")
	}
	limits := ratelimit.NewSet(ratelimit.NewFactory(backend,
		ratelimit.WithBlockCache(ratelimit.NewBlockCache(cfg.RateLimitCache)),
		ratelimit.WithObserver(a.metrics),
		ratelimit.WithLogger(log),
	))

	var mail mailer.Mailer
	if cfg.ResendAPIKey != "" {
		mail = mailer.NewResendMailer(cfg.ResendAPIKey, cfg.MailFrom)
	} else {
		log.Warn("mailer.log_only", "hint", "set MONACA_RESEND_API_KEY to deliver mail")
		mail = mailer.NewLogMailer(log)
	}

	providers := oauthprovider.NewRegistry(ctx, oauthCfg)
	for p := range providers {
		log.Info("oauth.provider.enabled", "provider", string(p))
	}

	sessions := session.NewSessions(st.sessions, sec.tokens, sessCfg.SessionPolicy(), nil)
	associations := session.NewAssociations(st.associations, sec.tokens, sessCfg.AssociationPolicy(), nil, nil)
	ephemeral := func(k session.Kind) *session.Ephemerals {
		return session.NewEphemerals(k, st.ephemeral[k], sec.tokens, sessCfg.EphemeralPolicy(k), nil, nil)
	}

	a.svc, err = flows.New(flows.Deps{
		Users:              st.users,
		Passwords:          sec.passwords,
		Sessions:           sessions,
		Signups:            ephemeral(session.KindSignup),
		EmailVerifications: ephemeral(session.KindEmailVerification),
		PasswordResets:     ephemeral(session.KindPasswordReset),
		Associations:       associations,
		Links:              accountlink.New(st.users, sessions, associations, log),
		Limits:             limits,
		Mailer:             mail,
		Providers:          providers,
		StateKey:           sec.stateKey,
		StateTTL:           apiCfg.VerifierTTL,
		Observer:           a.metrics,
		Logger:             log,
	})
	if err != nil {
		return nil, err
	}

	a.auth, err = authapi.NewHandler(a.svc, apiCfg,
		authapi.WithLogger(log),
		authapi.WithRecorder(a.metrics),
	)
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)

	var h http.Handler = mux
	h = WithRequestLogging(h, a.log, a.metrics)
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRequestID(h)
	return h
}

// Run starts the HTTP server and the sweeper and blocks until context
// cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go runSweeper(sweepCtx, a.cfg.SweepInterval, a.svc, a.metrics, a.log, a.pruneRateLimits)

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "storage", a.stores.driver)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func (a *App) pruneRateLimits(now time.Time) {
	if a.memRate == nil {
		return
	}
	if n := a.memRate.Prune(now); n > 0 {
		a.log.Debug("ratelimit.pruned", "buckets", n)
	}
}

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
	if a.stores != nil {
		a.stores.close()
		a.stores = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
