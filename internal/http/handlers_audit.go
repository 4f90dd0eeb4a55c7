package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/youthvoice/portal/internal/data"
	apperrors "github.com/youthvoice/portal/internal/errors"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditLister reads back recorded audit entries.
type AuditLister interface {
	List(ctx context.Context, f data.AuditFilter) ([]data.AuditRecord, error)
}

// AuditHandlers serves the admin audit trail.
type AuditHandlers struct {
	Audit  AuditLister
	Logger *slog.Logger
}

type auditListResponse struct {
	Entries []data.AuditRecord `json:"entries"`
}

// List returns the most recent audit entries, newest first.
// GET /admin/audit?actor=&action=&limit=.
func (h *AuditHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultAuditLimit
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteError(w, ErrorParams{
				Code:    http.StatusBadRequest,
				ErrCode: "validation",
				Err:     errors.New("limit must be a positive integer"),
			})
			return
		}
		limit = min(n, maxAuditLimit)
	}

	entries, err := h.Audit.List(r.Context(), data.AuditFilter{
		ActorID: strings.TrimSpace(q.Get("actor")),
		Action:  strings.TrimSpace(q.Get("action")),
		Limit:   limit,
	})
	if err != nil {
		if apperrors.HTTPStatus(err) >= http.StatusInternalServerError {
			h.logger().ErrorContext(r.Context(), "list audit failed", "error", err)
		}
		writeAppError(w, err)
		return
	}
	if entries == nil {
		entries = []data.AuditRecord{}
	}
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, auditListResponse{Entries: entries})
}

func (h *AuditHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// writeAppError maps an apperrors code onto the response. Server-side failures keep their
// cause out of the body.
func writeAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	code := string(apperrors.GetCode(err))
	if code == "" {
		code = string(apperrors.ErrCodeInternal)
	}
	if status >= http.StatusInternalServerError {
		err = errors.New("internal error")
	}
	WriteError(w, ErrorParams{Code: status, ErrCode: code, Err: err})
}
