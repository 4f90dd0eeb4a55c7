package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youthvoice/portal/internal/data"
	domainauth "github.com/youthvoice/portal/internal/domain/auth"
	apperrors "github.com/youthvoice/portal/internal/errors"
	"github.com/youthvoice/portal/internal/ports"
)

type fakeAuditLister struct {
	records []data.AuditRecord
	err     error
	got     []data.AuditFilter
}

func (f *fakeAuditLister) List(_ context.Context, filter data.AuditFilter) ([]data.AuditRecord, error) {
	f.got = append(f.got, filter)
	return f.records, f.err
}

func newAuditRouter(state domainauth.State, audit AuditLister) http.Handler {
	return NewRouter(RouterServices{
		Session: &fakeSession{state: state},
		Audit:   audit,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func adminState(roles ...domainauth.Role) domainauth.State {
	s := signedInState()
	s.Roles = domainauth.RoleSet(roles)
	return s
}

func TestAuditHandlers_List(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	audit := &fakeAuditLister{records: []data.AuditRecord{{
		ID:         "a-1",
		AuditEntry: ports.AuditEntry{ActorID: "u-1", Action: "sign_in", CreatedAt: at},
	}}}
	router := newAuditRouter(adminState(domainauth.RoleSuperAdmin), audit)

	w := serve(router, http.MethodGet, "/admin/audit?actor=u-1&action=sign_in&limit=10", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	require.Len(t, audit.got, 1)
	assert.Equal(t, data.AuditFilter{ActorID: "u-1", Action: "sign_in", Limit: 10}, audit.got[0])

	var body auditListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "a-1", body.Entries[0].ID)
	assert.Equal(t, "sign_in", body.Entries[0].Action)
}

func TestAuditHandlers_ListLimits(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantLimit int
	}{
		{name: "default", query: "", wantCode: http.StatusOK, wantLimit: defaultAuditLimit},
		{name: "capped", query: "?limit=100000", wantCode: http.StatusOK, wantLimit: maxAuditLimit},
		{name: "zero", query: "?limit=0", wantCode: http.StatusBadRequest},
		{name: "not a number", query: "?limit=ten", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit := &fakeAuditLister{}
			w := serve(newAuditRouter(adminState(domainauth.RoleAdmin), audit), http.MethodGet, "/admin/audit"+tt.query, "")

			require.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode != http.StatusOK {
				assert.Empty(t, audit.got)
				return
			}
			require.Len(t, audit.got, 1)
			assert.Equal(t, tt.wantLimit, audit.got[0].Limit)
			assert.JSONEq(t, `{"entries":[]}`, w.Body.String())
		})
	}
}

func TestAuditHandlers_RequiresAdminRole(t *testing.T) {
	audit := &fakeAuditLister{}
	w := serve(newAuditRouter(adminState(domainauth.RoleRegionalAdmin), audit), http.MethodGet, "/admin/audit", "")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient_permissions")
	assert.Empty(t, audit.got)
}

func TestAuditHandlers_RequiresSession(t *testing.T) {
	audit := &fakeAuditLister{}
	w := serve(newAuditRouter(domainauth.State{}, audit), http.MethodGet, "/admin/audit", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, audit.got)
}

func TestAuditHandlers_ListErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
		leaks    bool
	}{
		{name: "timeout", err: apperrors.MapDBError(context.DeadlineExceeded), wantCode: http.StatusGatewayTimeout, wantErr: "timeout"},
		{name: "validation", err: apperrors.Validation("bad filter"), wantCode: http.StatusBadRequest, wantErr: "validation", leaks: true},
		{name: "unclassified", err: errors.New("connection reset by peer"), wantCode: http.StatusInternalServerError, wantErr: "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit := &fakeAuditLister{err: tt.err}
			w := serve(newAuditRouter(adminState(domainauth.RoleSuperAdmin), audit), http.MethodGet, "/admin/audit", "")

			require.Equal(t, tt.wantCode, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantErr, body["error"])
			if !tt.leaks {
				assert.Equal(t, "internal error", body["message"])
			}
		})
	}
}

func TestRouter_AuditRouteAbsentWithoutLister(t *testing.T) {
	w := serve(newAuditRouter(adminState(domainauth.RoleSuperAdmin), nil), http.MethodGet, "/admin/audit", "")

	// Falls through to the admin home handler.
	assert.NotEqual(t, http.StatusForbidden, w.Code)
	assert.NotContains(t, w.Body.String(), "entries")
}
