package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	domainauth "github.com/youthvoice/portal/internal/domain/auth"
	apperrors "github.com/youthvoice/portal/internal/errors"
	"github.com/youthvoice/portal/internal/ports"
	"github.com/youthvoice/portal/internal/service"
)

// SessionService defines the session coordinator operations the handlers use.
type SessionService interface {
	SessionWaiter
	Snapshot() domainauth.State
	SignIn(ctx context.Context, email, password string) error
	SignOut(ctx context.Context)
	ResetPassword(ctx context.Context, email string) error
	CompleteRecovery(ctx context.Context, token string) error
	UpdatePassword(ctx context.Context, password string) error
	RefreshProfile(ctx context.Context) error
	RecordActivity(ctx context.Context, kind domainauth.ActivityKind) error
	HasRole(roles ...domainauth.Role) bool
	CanAccessRegion(district string) bool
}

// AuthHandlers provides HTTP handlers for session operations.
type AuthHandlers struct {
	Svc       SessionService
	LoginPath string
	Logger    *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type activityRequest struct {
	Kind string `json:"kind"`
}

type accessResponse struct {
	CanAccessRegion bool  `json:"can_access_region"`
	HasRole         *bool `json:"has_role,omitempty"`
}

// State returns the committed session state.
// GET /api/auth/state.
func (h *AuthHandlers) State(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, h.Svc.Snapshot())
}

// SignIn authenticates with email and password.
// POST /api/auth/sign-in.
func (h *AuthHandlers) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := h.Svc.SignIn(r.Context(), req.Email, req.Password); err != nil {
		h.writeServiceError(w, r, "sign in", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SignOut ends the session. It always succeeds locally.
// POST /api/auth/sign-out.
func (h *AuthHandlers) SignOut(w http.ResponseWriter, r *http.Request) {
	h.Svc.SignOut(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// ResetPassword sends a recovery email.
// POST /api/auth/reset-password.
func (h *AuthHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := h.Svc.ResetPassword(r.Context(), req.Email); err != nil {
		h.writeServiceError(w, r, "reset password", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// RefreshProfile reloads the profile and roles and returns the resulting state.
// POST /api/auth/profile/refresh.
func (h *AuthHandlers) RefreshProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.RefreshProfile(r.Context()); err != nil {
		h.writeServiceError(w, r, "refresh profile", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, h.Svc.Snapshot())
}

// Activity records a user-activity signal from the admin UI.
// POST /api/auth/activity.
func (h *AuthHandlers) Activity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	kind, ok := domainauth.ParseActivityKind(req.Kind)
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_activity",
			Err:     errors.New("kind must be one of pointerdown, keydown, scroll, touchstart"),
		})
		return
	}
	if err := h.Svc.RecordActivity(r.Context(), kind); err != nil {
		h.writeServiceError(w, r, "record activity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Access evaluates the regional visibility rule and, when roles are given, role membership.
// GET /api/auth/access?district=<name>&role=<a,b>.
func (h *AuthHandlers) Access(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp := accessResponse{CanAccessRegion: h.Svc.CanAccessRegion(q.Get("district"))}
	if raw := q.Get("role"); raw != "" {
		var roles []domainauth.Role
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				roles = append(roles, domainauth.Role(p))
			}
		}
		has := h.Svc.HasRole(roles...)
		resp.HasRole = &has
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Recovery consumes the token from a password-recovery link.
// GET /auth/recovery?token=<token>.
func (h *AuthHandlers) Recovery(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	if err := h.Svc.CompleteRecovery(r.Context(), token); err != nil {
		h.writeServiceError(w, r, "complete recovery", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "password_recovery",
		"next":   "POST /api/auth/password",
	})
}

// UpdatePassword sets a new password during a recovery flow.
// POST /api/auth/password.
func (h *AuthHandlers) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := h.Svc.UpdatePassword(r.Context(), req.Password); err != nil {
		h.writeServiceError(w, r, "update password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Login is the minimal entry point unauthenticated browsers land on.
// GET /login?redirect_uri=<path>.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"sign_in":      "POST /api/auth/sign-in",
		"redirect_uri": safeRedirectPath(r.URL.Query().Get("redirect_uri")),
	})
}

// AdminHome is the landing response for the guarded administrative area.
// GET /admin/.
func (h *AuthHandlers) AdminHome(w http.ResponseWriter, r *http.Request) {
	state, ok := StateFromContext(r.Context())
	if !ok {
		state = h.Svc.Snapshot()
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"user":    state.Identity,
		"profile": state.Profile,
		"roles":   state.Roles,
	})
}

func (h *AuthHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	p := ErrorParams{Err: err}
	switch {
	case errors.Is(err, service.ErrEmailRequired), errors.Is(err, service.ErrPasswordRequired):
		p.Code, p.ErrCode = http.StatusBadRequest, "validation"
	case errors.Is(err, ports.ErrInvalidCredentials):
		p.Code, p.ErrCode = http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, ports.ErrNoSession):
		p.Code, p.ErrCode = http.StatusUnauthorized, "authentication_required"
	case errors.Is(err, ports.ErrRecoveryLinkInvalid):
		p.Code, p.ErrCode = http.StatusGone, "recovery_link_invalid"
	case errors.Is(err, service.ErrNotInRecovery):
		p.Code, p.ErrCode = http.StatusConflict, "not_in_recovery"
	case errors.Is(err, service.ErrNotRunning):
		p.Code, p.ErrCode = http.StatusServiceUnavailable, "session_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		p.Code, p.ErrCode = http.StatusGatewayTimeout, "timeout"
	case apperrors.GetCode(err) != "":
		writeAppError(w, err)
		return
	default:
		h.logger().WarnContext(r.Context(), op+" failed", "error", err)
		p.Code, p.ErrCode = http.StatusBadGateway, "platform_error"
	}
	WriteError(w, p)
}
