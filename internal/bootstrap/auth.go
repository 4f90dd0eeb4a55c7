package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/youthvoice/portal/config"
	"github.com/youthvoice/portal/internal/adapters/devauth"
	"github.com/youthvoice/portal/internal/adapters/oidc"
	redisadapter "github.com/youthvoice/portal/internal/adapters/redis"
	"github.com/youthvoice/portal/internal/data"
	"github.com/youthvoice/portal/internal/observability/statsd"
	"github.com/youthvoice/portal/internal/ports"
	"github.com/youthvoice/portal/internal/service"
)

// PlatformDeps contains what BuildPlatform needs.
type PlatformDeps struct {
	Auth        config.AuthConfig
	Credentials ports.CredentialStore
	Logger      *slog.Logger
}

// BuildPlatform creates the identity platform selected by the auth config.
//
//nolint:ireturn // the platform adapter is chosen at runtime.
func BuildPlatform(ctx context.Context, deps PlatformDeps) (ports.IdentityPlatform, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch deps.Auth.Platform {
	case config.PlatformModeDev:
		dev := deps.Auth.DevAuth
		logger.Warn("using development identity platform; do not use in production",
			"accounts_file", dev.AccountsFile)
		p, err := devauth.NewPlatform(devauth.Config{
			UserID:          dev.UserID,
			Email:           dev.Email,
			Password:        dev.Password,
			AccountsFile:    dev.AccountsFile,
			SessionDuration: dev.SessionTTL,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("dev identity platform: %w", err)
		}
		return p, nil

	case config.PlatformModeOIDC:
		o := deps.Auth.OIDC
		if o.DiscoveryURL == "" || o.ClientID == "" {
			return nil, errors.New("oidc identity platform requires OIDC_DISCOVERY_URL and OIDC_CLIENT_ID")
		}
		p, err := oidc.NewPlatform(ctx, oidc.PlatformConfig{
			ClientID:      o.ClientID,
			ClientSecret:  o.ClientSecret,
			Scope:         o.Scope,
			DiscoveryURL:  o.DiscoveryURL,
			RecoverURL:    o.RecoverURL,
			UserURL:       o.UserURL,
			RevocationURL: o.RevocationURL,
			UserIDClaim:   o.UserIDClaim,
			EmailClaim:    o.EmailClaim,
			RefreshLead:   o.RefreshLead,
			Credentials:   deps.Credentials,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("oidc identity platform: %w", err)
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unsupported identity platform %q", deps.Auth.Platform)
	}
}

// NewCredentialStore returns the Redis-backed credential store, or nil without Redis.
//
//nolint:ireturn // nil means "no persistence".
func NewCredentialStore(client redis.UniversalClient, cfg config.RedisConfig) ports.CredentialStore {
	if client == nil {
		return nil
	}
	return redisadapter.NewCredentialStore(client, redisadapter.CredentialStoreOptions{
		Name:         cfg.CredentialsKey,
		RefreshGrace: cfg.RefreshGrace,
	})
}

// CoordinatorDeps contains what BuildCoordinator needs.
type CoordinatorDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	Platform    ports.IdentityPlatform
	Credentials ports.CredentialStore
	Metrics     statsd.Sink
	Logger      *slog.Logger
}

// BuildCoordinator wires the session coordinator over Postgres repositories.
func BuildCoordinator(deps CoordinatorDeps) *service.SessionCoordinator {
	cfg := deps.Config
	opts := service.CoordinatorOptions{
		Platform:          deps.Platform,
		Credentials:       deps.Credentials,
		Metrics:           deps.Metrics,
		Logger:            deps.Logger,
		ResetRedirectURL:  cfg.Session.RedirectURL(cfg.HTTP.BaseURL),
		SafetyTimeout:     cfg.Session.SafetyTimeout,
		IdleTimeout:       cfg.Session.IdleTimeout,
		ProfileAttempts:   cfg.Session.ProfileAttempts,
		ProfileRetryDelay: cfg.Session.ProfileRetryDelay,
		CallTimeout:       cfg.Session.CallTimeout,
	}
	if deps.DB != nil {
		opts.Profiles = data.NewProfileRepo(deps.DB)
		opts.Audit = data.NewAuditRepo(deps.DB, nil)
	}
	return service.NewSessionCoordinator(opts)
}
