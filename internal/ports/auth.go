package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters and internal/data; orchestration in internal/service.

import (
	"context"
	"errors"
	"time"

	domainauth "github.com/youthvoice/portal/internal/domain/auth"
)

var (
	// ErrInvalidCredentials is returned by SignInWithPassword when the platform rejects the credentials.
	ErrInvalidCredentials = errors.New("invalid login credentials")
	// ErrRecoveryLinkInvalid is returned when a password-recovery link is expired or malformed.
	ErrRecoveryLinkInvalid = errors.New("password recovery link is invalid or has expired")
	// ErrProfileNotFound is returned when no profile row exists for a user (yet).
	ErrProfileNotFound = errors.New("profile not found")
	// ErrNoSession is returned by operations that need an authenticated session.
	ErrNoSession = errors.New("no active session")
)

// UserUpdate carries the mutable user attributes accepted by the identity platform.
type UserUpdate struct {
	Password string
}

// IdentityPlatform is the hosted identity provider the session coordinator talks to.
type IdentityPlatform interface {
	// Subscribe delivers session-change events until ctx is done, then closes the channel.
	// The first event delivered is always INITIAL_SESSION, with or without a session.
	Subscribe(ctx context.Context) (<-chan domainauth.Event, error)

	// SignInWithPassword authenticates with email and password. State changes arrive as events.
	SignInWithPassword(ctx context.Context, email, password string) error

	// SignOut ends the current session remotely and emits SIGNED_OUT.
	SignOut(ctx context.Context) error

	// SendPasswordReset mails a recovery link that returns the user to redirectURL.
	SendPasswordReset(ctx context.Context, email, redirectURL string) error

	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*domainauth.Session, error)

	// UpdateUser changes attributes of the signed-in user.
	UpdateUser(ctx context.Context, in UserUpdate) error

	// CompleteRecovery consumes a recovery link token and emits PASSWORD_RECOVERY.
	CompleteRecovery(ctx context.Context, token string) error
}

// ProfileRepository reads application profiles and their roles.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*domainauth.Profile, error)
	ListRoles(ctx context.Context, userID string) (domainauth.RoleSet, error)
}

// CredentialStore persists the platform session between process restarts.
type CredentialStore interface {
	Load(ctx context.Context) (*domainauth.Session, error)
	Save(ctx context.Context, sess domainauth.Session) error
	Purge(ctx context.Context) error
}

// AuditEntry is a single audit_logs row.
type AuditEntry struct {
	ActorID   string
	Action    string
	Target    string
	Details   map[string]any
	CreatedAt time.Time
}

// AuditLogger records security-relevant actions.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry) error
}
