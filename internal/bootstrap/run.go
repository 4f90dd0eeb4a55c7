package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/youthvoice/portal/config"
	"github.com/youthvoice/portal/internal/data"
	"github.com/youthvoice/portal/internal/observability/statsd"
	"golang.org/x/sync/errgroup"
)

// Infrastructure holds the backing connections shared by the console.
type Infrastructure struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

// Close releases every open connection.
func (i *Infrastructure) Close() error {
	var errs []error
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if i.DB != nil {
		if err := i.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// InitInfrastructure connects Postgres and Redis and applies migrations when enabled.
func InitInfrastructure(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*Infrastructure, error) {
	dbCfg := DatabaseConfig{DBConfig: cfg.Postgres, RedisConfig: cfg.Redis, Logger: logger}

	db, err := ConnectDB(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	infra := &Infrastructure{DB: db}

	if cfg.Postgres.RunMigrationsOnStart {
		if err = RunMigrations(ctx, db, logger); err != nil {
			return nil, errors.Join(err, infra.Close())
		}
	}

	// The credential store is the only Redis consumer; the dev platform keeps sessions in memory.
	if cfg.Auth.Platform == config.PlatformModeOIDC {
		rdb, redisErr := ConnectRedis(ctx, dbCfg)
		if redisErr != nil {
			return nil, errors.Join(redisErr, infra.Close())
		}
		infra.Redis = rdb
	}
	return infra, nil
}

// NewMetricsClient returns a StatsD client; it drops everything when metrics are disabled.
func NewMetricsClient(ctx context.Context, cfg config.MetricsConfig, logger *slog.Logger) (*statsd.Client, error) {
	client, err := statsd.NewClient(ctx, statsd.Config{
		Enabled:    cfg.Enabled,
		Address:    cfg.Address,
		Prefix:     cfg.Prefix,
		GlobalTags: cfg.Tags,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("statsd client: %w", err)
	}
	if client.Enabled() {
		logger.Info("statsd metrics enabled", "addr", cfg.Address, "prefix", cfg.Prefix)
	}
	return client, nil
}

// Run wires the coordinator and HTTP server over infra and blocks until ctx is canceled
// or a component fails.
func Run(ctx context.Context, cfg *config.AppConfig, infra *Infrastructure, logger *slog.Logger) error {
	creds := NewCredentialStore(infra.Redis, cfg.Redis)

	platform, err := BuildPlatform(ctx, PlatformDeps{Auth: cfg.Auth, Credentials: creds, Logger: logger})
	if err != nil {
		return err
	}

	sink, err := NewMetricsClient(ctx, cfg.Metrics, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			logger.Warn("close statsd client failed", "error", cerr)
		}
	}()

	coord := BuildCoordinator(CoordinatorDeps{
		Config:      cfg,
		DB:          infra.DB,
		Platform:    platform,
		Credentials: creds,
		Metrics:     sink,
		Logger:      logger,
	})
	if err = coord.Start(ctx); err != nil {
		return fmt.Errorf("start session coordinator: %w", err)
	}
	defer coord.Stop()

	serverCfg := HTTPServerConfig{
		HTTP:    cfg.HTTP,
		Session: coord,
		Health:  HealthChecks(infra.DB, infra.Redis),
		Logger:  logger,
	}
	if infra.DB != nil {
		serverCfg.Audit = data.NewAuditRepo(infra.DB, nil)
	}
	server := NewHTTPServer(serverCfg)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return serveHTTP(logger, server)
	})
	group.Go(func() error {
		<-gctx.Done()
		return ShutdownHTTPServer(context.WithoutCancel(gctx), server, cfg.HTTP.ShutdownTimeout, logger)
	})

	if err = group.Wait(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("admin console stopped")
	return nil
}
