package config

import (
	"strings"
	"time"
)

// SessionConfig tunes the session coordinator.
type SessionConfig struct {
	SafetyTimeout     time.Duration `env:"SAFETY_TIMEOUT"      envDefault:"15s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT"        envDefault:"30m"`
	ProfileAttempts   int           `env:"PROFILE_ATTEMPTS"    envDefault:"3"`
	ProfileRetryDelay time.Duration `env:"PROFILE_RETRY_DELAY" envDefault:"1200ms"`
	CallTimeout       time.Duration `env:"CALL_TIMEOUT"        envDefault:"10s"`
	// ResetRedirectURL is where password recovery links land. Defaults to <APP_BASE_URL>/auth/recovery.
	ResetRedirectURL string `env:"RESET_REDIRECT_URL"`
}

// Sanitize applies guardrails to session configuration values.
func (s *SessionConfig) Sanitize() {
	if s.SafetyTimeout <= 0 {
		s.SafetyTimeout = 15 * time.Second
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = 30 * time.Minute
	}
	if s.ProfileAttempts < 1 {
		s.ProfileAttempts = 1
	}
	if s.ProfileRetryDelay < 0 {
		s.ProfileRetryDelay = 0
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = 10 * time.Second
	}
	s.ResetRedirectURL = strings.TrimSpace(s.ResetRedirectURL)
}

// RedirectURL returns the configured reset redirect, or the recovery route under baseURL.
func (s SessionConfig) RedirectURL(baseURL string) string {
	if s.ResetRedirectURL != "" {
		return s.ResetRedirectURL
	}
	return strings.TrimRight(baseURL, "/") + "/auth/recovery"
}
