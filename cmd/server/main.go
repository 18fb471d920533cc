// Command keygate-server starts the keygate license authorization server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/limiter"
	"github.com/keygate/keygate/internal/migrate"
	"github.com/keygate/keygate/internal/repository/postgres"
	httpserver "github.com/keygate/keygate/internal/server/http"
	"github.com/keygate/keygate/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations, and serves the REST API until
// the process receives a termination signal.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.Bool("whitelist", cfg.EnableEmailWhitelist),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	// DB pool
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres.New", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	keyRepo := postgres.NewKeyRepo(db)
	sessionRepo := postgres.NewSessionRepo(db)
	whitelistRepo := postgres.NewWhitelistRepo(db)
	auditRepo := postgres.NewAuditRepo(db)

	lim := limiter.NewMemory(cfg.RateLimitMaxRequests, cfg.RateLimitWindow)

	// Services
	authorizeSvc := service.NewAuthorizeService(
		keyRepo, sessionRepo, whitelistRepo, auditRepo,
		lim, cfg.EnableEmailWhitelist, cfg.StoreTimeout, logger,
	)
	adminSvc := service.NewAdminService(
		keyRepo, sessionRepo, whitelistRepo, auditRepo,
		cfg.StoreTimeout, logger,
	)

	app := httpserver.New(authorizeSvc, adminSvc, db, cfg.AdminToken, version, logger)
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      app.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Periodic sweep of expired sessions.
	go sweepLoop(ctx, sessionRepo, cfg.SweepInterval, cfg.StoreTimeout, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}

// sweepLoop removes expired sessions on a fixed interval until ctx is done.
func sweepLoop(ctx context.Context, sessions *postgres.SessionRepo, interval, timeout time.Duration, logger *zap.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sweepCtx, cancel := context.WithTimeout(ctx, timeout)
			n, err := sessions.SweepExpired(sweepCtx, time.Now())
			cancel()
			if err != nil {
				logger.Warn("session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("cleaned up expired sessions", zap.Int64("count", n))
			}
		}
	}
}
