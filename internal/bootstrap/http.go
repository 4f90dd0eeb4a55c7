package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/youthvoice/portal/config"
	httpx "github.com/youthvoice/portal/internal/http"
)

// HTTPServerConfig contains configuration for the HTTP server.
type HTTPServerConfig struct {
	HTTP    config.HTTPConfig
	Session httpx.SessionService
	Health  map[string]httpx.Pinger
	Audit   httpx.AuditLister
	Logger  *slog.Logger
}

// NewHTTPServer builds the admin console HTTP server. It does not start listening.
func NewHTTPServer(cfg HTTPServerConfig) *http.Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	addr := cfg.HTTP.Addr
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	return &http.Server{
		Addr:              addr,
		Handler:           buildHTTPHandler(cfg, logger),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Order: Recover -> Logging -> Router.
func buildHTTPHandler(cfg HTTPServerConfig, logger *slog.Logger) http.Handler {
	h := httpx.NewRouter(httpx.RouterServices{
		Session:   cfg.Session,
		Health:    cfg.Health,
		Audit:     cfg.Audit,
		LoginPath: cfg.HTTP.LoginPath,
		Logger:    logger,
	})
	h = httpx.Logging(logger)(h)
	h = httpx.Recover(logger)(h)
	return h
}

// HealthChecks returns the readiness probes for the configured backends.
func HealthChecks(db *sql.DB, rdb redis.UniversalClient) map[string]httpx.Pinger {
	checks := make(map[string]httpx.Pinger, 2)
	if db != nil {
		checks["postgres"] = db
	}
	if rdb != nil {
		checks["redis"] = httpx.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	return checks
}

func serveHTTP(logger *slog.Logger, server *http.Server) error {
	logger.Info("starting HTTP server", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(ctx context.Context, server *http.Server, timeout time.Duration, logger *slog.Logger) error {
	if server == nil {
		return nil
	}
	if logger != nil {
		logger.Info("shutting down HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if logger != nil {
		logger.Info("HTTP server stopped")
	}
	return nil
}
