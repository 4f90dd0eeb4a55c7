package redis

// Package redis provides Redis-based adapters for the portal.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	domainauth "github.com/youthvoice/portal/internal/domain/auth"
	"github.com/youthvoice/portal/internal/ports"
)

const (
	defaultPrefix = "portal:credentials:"
	// defaultRefreshGrace keeps credentials past access-token expiry so the refresh token can be used.
	defaultRefreshGrace = 7 * 24 * time.Hour
)

var _ ports.CredentialStore = (*CredentialStore)(nil)

// CredentialStore persists the process's platform session in Redis under a single key.
// The key TTL follows the session expiry plus a refresh grace period.
type CredentialStore struct {
	client       redis.UniversalClient
	key          string
	refreshGrace time.Duration
	now          func() time.Time
}

// CredentialStoreOptions configures NewCredentialStore.
type CredentialStoreOptions struct {
	// Name distinguishes consoles sharing one Redis; defaults to "default".
	Name         string
	Prefix       string
	RefreshGrace time.Duration
	Now          func() time.Time
}

// storedCredentials is the persisted form; domain sessions never serialize tokens.
type storedCredentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
}

// NewCredentialStore creates a Redis-backed credential store.
func NewCredentialStore(client redis.UniversalClient, opts CredentialStoreOptions) *CredentialStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	name := opts.Name
	if name == "" {
		name = "default"
	}
	grace := opts.RefreshGrace
	if grace <= 0 {
		grace = defaultRefreshGrace
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &CredentialStore{client: client, key: prefix + name, refreshGrace: grace, now: now}
}

// Key returns the Redis key used by this store.
func (s *CredentialStore) Key() string { return s.key }

func (s *CredentialStore) Save(ctx context.Context, sess domainauth.Session) error {
	if sess.AccessToken == "" {
		return errors.New("session access token cannot be empty")
	}
	data, err := json.Marshal(storedCredentials{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		TokenType:    sess.TokenType,
		ExpiresAt:    sess.ExpiresAt,
		UserID:       sess.Identity.UserID,
		Email:        sess.Identity.Email,
	})
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	ttl := time.Duration(0)
	if !sess.ExpiresAt.IsZero() {
		ttl = sess.ExpiresAt.Sub(s.now())
		if sess.RefreshToken != "" {
			ttl += s.refreshGrace
		}
		if ttl <= 0 {
			return errors.New("session is expired")
		}
	}
	if err := s.client.Set(ctx, s.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Load returns the persisted session, or nil when none is stored.
func (s *CredentialStore) Load(ctx context.Context) (*domainauth.Session, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var sc storedCredentials
	if err := json.Unmarshal(data, &sc); err != nil {
		// Unreadable credentials are as good as none; drop them.
		if delErr := s.Purge(ctx); delErr != nil {
			return nil, errors.Join(fmt.Errorf("unmarshal credentials: %w", err), delErr)
		}
		return nil, nil
	}
	return &domainauth.Session{
		AccessToken:  sc.AccessToken,
		RefreshToken: sc.RefreshToken,
		TokenType:    sc.TokenType,
		ExpiresAt:    sc.ExpiresAt,
		Identity:     domainauth.Identity{UserID: sc.UserID, Email: sc.Email},
	}, nil
}

func (s *CredentialStore) Purge(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
