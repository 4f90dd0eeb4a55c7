package httpx

import (
	"log/slog"
	"net/http"

	domainauth "github.com/youthvoice/portal/internal/domain/auth"
)

// RouterServices groups the dependencies the router wires into handlers.
type RouterServices struct {
	Session   SessionService
	Health    map[string]Pinger
	Audit     AuditLister
	LoginPath string
	Logger    *slog.Logger
}

// NewRouter builds the HTTP routes for the admin console backend.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	health := HealthHandler{Checks: services.Health}
	mux.Handle("GET /healthz", health)
	mux.Handle("HEAD /healthz", health)

	loginPath := services.LoginPath
	if loginPath == "" {
		loginPath = "/login"
	}

	if services.Session != nil {
		h := &AuthHandlers{Svc: services.Session, LoginPath: loginPath, Logger: services.Logger}
		registerAuthRoutes(mux, h)

		guard := RequireSessionBrowser(services.Session, loginPath)
		mux.Handle("GET /admin/", guard(http.HandlerFunc(h.AdminHome)))

		if services.Audit != nil {
			ah := &AuditHandlers{Audit: services.Audit, Logger: services.Logger}
			auditors := RequireAnyRole(domainauth.RoleSuperAdmin, domainauth.RoleAdmin)
			mux.Handle("GET /admin/audit", guard(auditors(http.HandlerFunc(ah.List))))
		}
	}

	return mux
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers) {
	mux.HandleFunc("GET /api/auth/state", h.State)
	mux.HandleFunc("POST /api/auth/sign-in", h.SignIn)
	mux.HandleFunc("POST /api/auth/sign-out", h.SignOut)
	mux.HandleFunc("POST /api/auth/reset-password", h.ResetPassword)
	mux.HandleFunc("POST /api/auth/profile/refresh", h.RefreshProfile)
	mux.HandleFunc("POST /api/auth/activity", h.Activity)
	mux.HandleFunc("GET /api/auth/access", h.Access)
	mux.HandleFunc("POST /api/auth/password", h.UpdatePassword)
	mux.HandleFunc("GET /auth/recovery", h.Recovery)
	mux.HandleFunc("GET "+h.LoginPath, h.Login)
}
