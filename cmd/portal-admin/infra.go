package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/youthvoice/portal/config"
	"github.com/youthvoice/portal/internal/bootstrap"
	"github.com/youthvoice/portal/internal/data"
	domainauth "github.com/youthvoice/portal/internal/domain/auth"
	"github.com/youthvoice/portal/internal/ports"
)

var errNoDatabase = errors.New("command requires a database connection")

type profileStore interface {
	ports.ProfileRepository
	SetRoles(ctx context.Context, userID string, roles domainauth.RoleSet) error
	UpsertProfile(ctx context.Context, p domainauth.Profile) (*domainauth.Profile, error)
}

type auditStore interface {
	ports.AuditLogger
	List(ctx context.Context, f data.AuditFilter) ([]data.AuditRecord, error)
}

type stores struct {
	db       *sql.DB
	profiles profileStore
	audit    auditStore
}

func (s *stores) close(logger *slog.Logger) {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		logger.Warn("db close failed", "error", err)
	}
}

func openPostgresStores(ctx context.Context, a *app) (*stores, error) {
	db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{DBConfig: a.cfg.Postgres, Logger: a.logger})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return &stores{
		db:       db,
		profiles: data.NewProfileRepo(db),
		audit:    data.NewAuditRepo(db, nil),
	}, nil
}

// platformHandle is an identity platform plus the credential store it persists to.
type platformHandle struct {
	platform    ports.IdentityPlatform
	credentials ports.CredentialStore
	close       func() error
}

func openConfiguredPlatform(ctx context.Context, a *app) (platformHandle, error) {
	var rdb redis.UniversalClient
	if a.cfg.Auth.Platform == config.PlatformModeOIDC {
		client, err := bootstrap.ConnectRedis(ctx, bootstrap.DatabaseConfig{RedisConfig: a.cfg.Redis, Logger: a.logger})
		if err != nil {
			return platformHandle{}, fmt.Errorf("connect redis: %w", err)
		}
		rdb = client
	}
	creds := bootstrap.NewCredentialStore(rdb, a.cfg.Redis)

	p, err := bootstrap.BuildPlatform(ctx, bootstrap.PlatformDeps{Auth: a.cfg.Auth, Credentials: creds, Logger: a.logger})
	if err != nil {
		if rdb != nil {
			err = errors.Join(err, rdb.Close())
		}
		return platformHandle{}, err
	}

	h := platformHandle{platform: p, credentials: creds, close: func() error { return nil }}
	if rdb != nil {
		h.close = rdb.Close
	}
	return h, nil
}
