package config

import (
	"fmt"
	"strings"
	"time"
)

// PlatformMode selects the identity platform adapter.
type PlatformMode string

const (
	// PlatformModeOIDC talks to the hosted identity platform over OIDC/OAuth2.
	PlatformModeOIDC PlatformMode = "oidc"
	// PlatformModeDev serves accounts from local configuration (development only).
	PlatformModeDev PlatformMode = "dev"
)

// UnmarshalText implements encoding.TextUnmarshaler for PlatformMode.
func (m *PlatformMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "oidc", "dev":
		*m = PlatformMode(v)
		return nil
	default:
		return fmt.Errorf("invalid PlatformMode: %q (valid options: oidc, dev)", v)
	}
}

// OIDCConfig contains the hosted identity platform configuration.
type OIDCConfig struct {
	ClientID      string `env:"CLIENT_ID"      envDefault:"portal-admin"`
	ClientSecret  string `env:"CLIENT_SECRET"`
	Scope         string `env:"SCOPE"          envDefault:"openid profile email offline_access"`
	DiscoveryURL  string `env:"DISCOVERY_URL"`
	RecoverURL    string `env:"RECOVER_URL"`
	UserURL       string `env:"USER_URL"`
	RevocationURL string `env:"REVOCATION_URL"`
	// UserIDClaim and EmailClaim are JMESPath expressions over the token claims.
	UserIDClaim string        `env:"USER_ID_CLAIM" envDefault:"sub"`
	EmailClaim  string        `env:"EMAIL_CLAIM"   envDefault:"email || mail"`
	RefreshLead time.Duration `env:"REFRESH_LEAD"  envDefault:"1m"`
}

// DevAuthConfig controls the development identity platform.
// Used when AUTH_PLATFORM=dev for development and testing.
type DevAuthConfig struct {
	UserID       string        `env:"USER_ID"       envDefault:"00000000-0000-4000-8000-000000000001"`
	Email        string        `env:"EMAIL"         envDefault:"dev@example.org"`
	Password     string        `env:"PASSWORD"      envDefault:"dev"`
	AccountsFile string        `env:"ACCOUNTS_FILE"`
	SessionTTL   time.Duration `env:"SESSION_TTL"   envDefault:"8h"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Platform determines which identity platform adapter to use.
	Platform PlatformMode `env:"AUTH_PLATFORM" envDefault:"oidc"`

	OIDC    OIDCConfig    `envPrefix:"OIDC_"`
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`
}

// Sanitize falls back to the dev platform in dev mode when no discovery URL is configured.
func (a *AuthConfig) Sanitize(isDev bool) {
	a.OIDC.DiscoveryURL = strings.TrimSpace(a.OIDC.DiscoveryURL)
	if a.Platform == "" {
		a.Platform = PlatformModeOIDC
	}
	if isDev && a.Platform == PlatformModeOIDC && a.OIDC.DiscoveryURL == "" {
		a.Platform = PlatformModeDev
	}
	if a.OIDC.RefreshLead < 0 {
		a.OIDC.RefreshLead = 0
	}
}

// Validate reports configuration that cannot start the selected platform.
func (a *AuthConfig) Validate() error {
	if a.Platform == PlatformModeOIDC && a.OIDC.DiscoveryURL == "" {
		return fmt.Errorf("OIDC_DISCOVERY_URL is required when AUTH_PLATFORM=%s", PlatformModeOIDC)
	}
	return nil
}
