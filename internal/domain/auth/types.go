package auth

// Package auth contains domain-level types for authentication, sessions and profiles.
// It is pure and free of framework/adapter concerns.

import (
	"slices"
	"strings"
	"time"
)

// Role represents an application's authorization role as stored in the roles table.
// Keep string form for easy persistence.
type Role string

const (
	// RoleSuperAdmin is the top-level administrative role with global visibility.
	RoleSuperAdmin      Role = "super_admin"
	RoleAdmin           Role = "admin"
	RoleRegionalAdmin   Role = "regional_admin"
	RoleUniversityAdmin Role = "university_admin"
	RoleMember          Role = "member"
)

// RoleSet is the order-irrelevant set of roles held by a user.
type RoleSet []Role

// Has reports whether the set intersects want.
func (rs RoleSet) Has(want ...Role) bool {
	for _, w := range want {
		if slices.Contains(rs, w) {
			return true
		}
	}
	return false
}

// Clone returns an independent copy; nil stays nil-equivalent (empty).
func (rs RoleSet) Clone() RoleSet {
	if len(rs) == 0 {
		return RoleSet{}
	}
	return append(RoleSet(nil), rs...)
}

// Identity represents the authenticated principal returned by the identity platform.
// Adapters map provider-specific claims into this shape.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
}

// Session is the credential bundle issued by the identity platform.
// Tokens never leave the process through JSON.
type Session struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Identity     Identity  `json:"user"`
}

// Expired reports whether the session's access token is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Profile is the application-level user record from the profiles table.
type Profile struct {
	ID         string    `json:"id"`
	FullName   string    `json:"full_name"`
	Email      string    `json:"email"`
	Region     string    `json:"region,omitempty"`
	District   string    `json:"district,omitempty"`
	University string    `json:"university,omitempty"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EventKind enumerates identity platform session-change notifications.
type EventKind string

const (
	EventInitialSession   EventKind = "INITIAL_SESSION"
	EventSignedIn         EventKind = "SIGNED_IN"
	EventSignedOut        EventKind = "SIGNED_OUT"
	EventTokenRefreshed   EventKind = "TOKEN_REFRESHED"
	EventPasswordRecovery EventKind = "PASSWORD_RECOVERY"
)

// Event is a session-change notification. Session is nil when no session is present.
type Event struct {
	Kind    EventKind
	Session *Session
}

// State is the process-wide bootstrap state derived by the session coordinator.
type State struct {
	Identity         *Identity `json:"user"`
	Session          *Session  `json:"session"`
	Profile          *Profile  `json:"profile"`
	Roles            RoleSet   `json:"roles"`
	AuthInitializing bool      `json:"auth_initializing"`
	ProfileFetching  bool      `json:"profile_fetching"`
	PasswordRecovery bool      `json:"password_recovery"`
}

// Settled reports whether both the auth decision and any profile fetch have completed.
func (s State) Settled() bool { return !s.AuthInitializing && !s.ProfileFetching }

// Authenticated reports whether a session is present.
func (s State) Authenticated() bool { return s.Session != nil }

// Clone returns a deep copy so readers never share memory with the writer.
func (s State) Clone() State {
	out := s
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	if s.Session != nil {
		sess := *s.Session
		out.Session = &sess
	}
	if s.Profile != nil {
		p := *s.Profile
		out.Profile = &p
	}
	out.Roles = s.Roles.Clone()
	return out
}

// ActivityKind is a user-activity signal that resets the inactivity timer.
type ActivityKind string

const (
	ActivityPointerDown ActivityKind = "pointerdown"
	ActivityKeyDown     ActivityKind = "keydown"
	ActivityScroll      ActivityKind = "scroll"
	ActivityTouchStart  ActivityKind = "touchstart"
)

// ParseActivityKind validates an activity signal name.
func ParseActivityKind(v string) (ActivityKind, bool) {
	switch k := ActivityKind(strings.ToLower(strings.TrimSpace(v))); k {
	case ActivityPointerDown, ActivityKeyDown, ActivityScroll, ActivityTouchStart:
		return k, true
	default:
		return "", false
	}
}

// HasRole reports whether roles intersects want.
func HasRole(roles RoleSet, want ...Role) bool { return roles.Has(want...) }

// CanAccessRegion reports whether a caller may see data for district.
// Super admins see everything, an empty district is unrestricted,
// otherwise the caller's own profile district must match.
func CanAccessRegion(profile *Profile, roles RoleSet, district string) bool {
	if roles.Has(RoleSuperAdmin) {
		return true
	}
	district = strings.TrimSpace(district)
	if district == "" {
		return true
	}
	if profile == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(profile.District), district)
}
