// Package app wires the Deep Guard server runtime: config, logging,
// database pool, the auth services, HTTP routes, and background
// maintenance.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"deepguard/cmd/identity"
	authapi "deepguard/cmd/internal/auth/api"
	"deepguard/cmd/internal/auth/account"
	"deepguard/cmd/internal/auth/google"
	"deepguard/cmd/internal/auth/mail"
	"deepguard/cmd/internal/auth/session"
)

// App is the Deep Guard server runtime.
type App struct {
	cfg Config
	log Logger

	pool *pgxpool.Pool

	sessions *session.Service
	accounts *account.Service
	auth     *authapi.Handler
	metrics  *Metrics
}

// New constructs a fully wired App instance from config and logger.
// The database is mandatory: every auth operation is anchored in it.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("app: DEEPGUARD_DATABASE_URL is required")
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("app: db pool: %w", err)
	}

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, err
	}
	hasher, err := identity.NewHasher()
	if err != nil {
		pool.Close()
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		pool.Close()
		return nil, err
	}
	codec, err := session.NewTokenCodec(sessCfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	sessStore, err := session.NewPostgresStore(pool, cfg.DBSchema)
	if err != nil {
		pool.Close()
		return nil, err
	}
	sessions := session.NewService(codec, sessStore, users, hasher)

	sender := mail.NewSenderFromEnv(log)
	accounts := account.NewService(users, hasher, sender, log, account.Config{})

	metrics := NewMetrics()

	opts := []authapi.HandlerOption{
		authapi.WithAuditPool(pool, cfg.DBSchema),
		authapi.WithMetrics(authapi.NewMetrics(metrics.registry)),
	}
	if os.Getenv("DEEPGUARD_GOOGLE_CLIENT_ID") != "" {
		verifier, err := google.NewVerifierFromEnv()
		if err != nil {
			pool.Close()
			return nil, err
		}
		opts = append(opts, authapi.WithGoogleVerifier(verifier))
	} else {
		log.Warn("google.disabled", "reason", "DEEPGUARD_GOOGLE_CLIENT_ID not set")
	}

	auth := authapi.NewHandler(log, authapi.LoadConfigFromEnv(), users, sessions, accounts, opts...)

	return &App{
		cfg:      cfg,
		log:      log,
		pool:     pool,
		sessions: sessions,
		accounts: accounts,
		auth:     auth,
		metrics:  metrics,
	}, nil
}

// Run starts the HTTP server and background maintenance, blocking until
// context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.pool, a.metrics, a.auth)

	var handler http.Handler = a.metrics.WithMetrics(mux)
	handler = WithSecurityHeaders(handler)
	if len(a.cfg.CORSAllowedOrigins) > 0 {
		handler = WithCORS(handler, a.cfg, a.log)
	}
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	jobCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	go a.runMaintenance(jobCtx)

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr)

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.pool.Close()
	a.log.Info("server.stopped")
	return nil
}

// runMaintenance drops expired session rows and swept signup challenges on
// a fixed cadence until the context ends.
func (a *App) runMaintenance(ctx context.Context) {
	purge := time.NewTicker(nonZeroDuration(a.cfg.SessionPurgeInterval, time.Hour))
	sweep := time.NewTicker(nonZeroDuration(a.cfg.OTPSweepInterval, time.Minute))
	defer purge.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-purge.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err := a.sessions.PurgeExpired(opCtx, time.Now().UTC())
			cancel()
			if err != nil {
				a.log.Error("maintenance.session_purge.fail", "err", err)
			} else if n > 0 {
				a.log.Info("maintenance.session_purge", "deleted", n)
			}
		case <-sweep.C:
			if n := a.accounts.SweepSignupChallenges(time.Now().UTC()); n > 0 {
				a.log.Info("maintenance.otp_sweep", "deleted", n)
			}
		}
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
