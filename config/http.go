package config

import "time"

// HTTPConfig contains HTTP server configuration.
//
// The server fronts a single process-wide session: every client that can reach Addr acts as
// the signed-in operator. Addr therefore defaults to loopback; bind it wider only behind a
// proxy that restricts who can connect.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:"127.0.0.1:8080"`

	// BaseURL is the public base URL of the admin console (e.g., "https://admin.example.org").
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	// LoginPath is where unauthenticated browsers are sent.
	LoginPath string `env:"HTTP_LOGIN_PATH" envDefault:"/login"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout   time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT"    envDefault:"15s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.LoginPath == "" || h.LoginPath[0] != '/' {
		h.LoginPath = "/login"
	}
	if h.ReadHeaderTimeout <= 0 {
		h.ReadHeaderTimeout = 10 * time.Second
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 15 * time.Second
	}
}
