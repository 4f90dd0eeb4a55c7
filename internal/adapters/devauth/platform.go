package devauth

// Package devauth provides a simple, config-driven identity platform for local development.

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/youthvoice/portal/internal/adapters/sessionhub"
	domainauth "github.com/youthvoice/portal/internal/domain/auth"
	"github.com/youthvoice/portal/internal/ports"
)

var _ ports.IdentityPlatform = (*Platform)(nil)

// Account is a local development login.
type Account struct {
	ID       string `toml:"id"`
	Email    string `toml:"email"`
	Password string `toml:"password"`
}

// accountsFile is the TOML layout of Config.AccountsFile:
//
//	[[account]]
//	id = "8d0c..."
//	email = "admin@example.org"
//	password = "admin"
type accountsFile struct {
	Accounts []Account `toml:"account"`
}

// Config controls the dev platform behavior.
// Either AccountsFile or UserID/Email/Password must be provided.
type Config struct {
	UserID          string
	Email           string
	Password        string
	AccountsFile    string
	SessionDuration time.Duration // default 8h when zero
	RecoveryTTL     time.Duration // default 1h when zero
	Clock           clockwork.Clock
	Logger          *slog.Logger
}

type recoveryGrant struct {
	email     string
	expiresAt time.Time
}

// Platform implements ports.IdentityPlatform in memory. Password-reset links are logged instead
// of mailed.
type Platform struct {
	sessionDuration time.Duration
	recoveryTTL     time.Duration
	clock           clockwork.Clock
	logger          *slog.Logger
	hub             *sessionhub.Hub

	mu       sync.Mutex
	accounts map[string]Account // keyed by lower-cased email
	session  *domainauth.Session
	recovery map[string]recoveryGrant
}

// NewPlatform constructs a dev platform from Config.
func NewPlatform(cfg Config) (*Platform, error) {
	accounts := make(map[string]Account)
	if cfg.AccountsFile != "" {
		loaded, err := LoadAccounts(cfg.AccountsFile)
		if err != nil {
			return nil, err
		}
		for _, a := range loaded {
			accounts[strings.ToLower(a.Email)] = a
		}
	}
	if cfg.UserID != "" || cfg.Email != "" {
		if cfg.UserID == "" {
			return nil, errors.New("dev auth: UserID is required")
		}
		if cfg.Email == "" {
			return nil, errors.New("dev auth: Email is required")
		}
		accounts[strings.ToLower(cfg.Email)] = Account{ID: cfg.UserID, Email: cfg.Email, Password: cfg.Password}
	}
	if len(accounts) == 0 {
		return nil, errors.New("dev auth: at least one account is required")
	}

	p := &Platform{
		sessionDuration: cfg.SessionDuration,
		recoveryTTL:     cfg.RecoveryTTL,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		accounts:        accounts,
		recovery:        make(map[string]recoveryGrant),
	}
	if p.sessionDuration == 0 {
		p.sessionDuration = 8 * time.Hour
	}
	if p.recoveryTTL == 0 {
		p.recoveryTTL = time.Hour
	}
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "devauth")
	p.hub = sessionhub.New(p.logger)
	return p, nil
}

// LoadAccounts reads development accounts from a TOML file.
func LoadAccounts(path string) ([]Account, error) {
	var f accountsFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("dev auth: decode accounts %s: %w", path, err)
	}
	for i, a := range f.Accounts {
		if a.ID == "" || a.Email == "" {
			return nil, fmt.Errorf("dev auth: account %d in %s needs id and email", i, path)
		}
	}
	return f.Accounts, nil
}

// Subscribe delivers the current session as INITIAL_SESSION, then every later change.
func (p *Platform) Subscribe(ctx context.Context) (<-chan domainauth.Event, error) {
	return p.hub.Subscribe(ctx, domainauth.Event{Kind: domainauth.EventInitialSession, Session: p.current()}), nil
}

// SignInWithPassword checks the password against the configured accounts and publishes SIGNED_IN.
func (p *Platform) SignInWithPassword(_ context.Context, email, password string) error {
	p.mu.Lock()
	acct, ok := p.accounts[strings.ToLower(strings.TrimSpace(email))]
	p.mu.Unlock()
	if !ok || subtle.ConstantTimeCompare([]byte(acct.Password), []byte(password)) != 1 {
		return ports.ErrInvalidCredentials
	}
	sess := p.newSession(acct)
	p.setSession(sess)
	p.hub.Publish(domainauth.Event{Kind: domainauth.EventSignedIn, Session: p.current()})
	return nil
}

// SignOut drops the in-memory session and publishes SIGNED_OUT. It never fails.
func (p *Platform) SignOut(_ context.Context) error {
	p.setSession(nil)
	p.hub.Publish(domainauth.Event{Kind: domainauth.EventSignedOut})
	return nil
}

// SendPasswordReset logs a recovery link; unknown emails succeed silently.
func (p *Platform) SendPasswordReset(_ context.Context, email, redirectURL string) error {
	key := strings.ToLower(strings.TrimSpace(email))
	p.mu.Lock()
	_, ok := p.accounts[key]
	token := uuid.NewString()
	if ok {
		p.recovery[token] = recoveryGrant{email: key, expiresAt: p.clock.Now().Add(p.recoveryTTL)}
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	p.logger.Info("password recovery link", "email", key, "link", recoveryLink(redirectURL, token))
	return nil
}

func recoveryLink(redirectURL, token string) string {
	u, err := url.Parse(redirectURL)
	if err != nil || redirectURL == "" {
		return "/auth/recovery?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// GetSession returns a copy of the current session, or nil when signed out.
func (p *Platform) GetSession(_ context.Context) (*domainauth.Session, error) {
	return p.current(), nil
}

// UpdateUser changes the signed-in account's password for the life of the process.
func (p *Platform) UpdateUser(_ context.Context, in ports.UserUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return ports.ErrNoSession
	}
	key := strings.ToLower(p.session.Identity.Email)
	acct, ok := p.accounts[key]
	if !ok {
		return ports.ErrNoSession
	}
	acct.Password = in.Password
	p.accounts[key] = acct
	return nil
}

// CompleteRecovery consumes a single-use recovery token.
func (p *Platform) CompleteRecovery(_ context.Context, token string) error {
	p.mu.Lock()
	grant, ok := p.recovery[token]
	delete(p.recovery, token)
	acct, known := p.accounts[grant.email]
	p.mu.Unlock()
	if !ok || !known || !p.clock.Now().Before(grant.expiresAt) {
		return ports.ErrRecoveryLinkInvalid
	}
	p.setSession(p.newSession(acct))
	p.hub.Publish(domainauth.Event{Kind: domainauth.EventPasswordRecovery, Session: p.current()})
	return nil
}

func (p *Platform) newSession(acct Account) *domainauth.Session {
	return &domainauth.Session{
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		TokenType:    "bearer",
		ExpiresAt:    p.clock.Now().Add(p.sessionDuration),
		Identity:     domainauth.Identity{UserID: acct.ID, Email: acct.Email},
	}
}

func (p *Platform) setSession(sess *domainauth.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = sess
}

func (p *Platform) current() *domainauth.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	cp := *p.session
	return &cp
}
