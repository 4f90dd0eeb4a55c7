package data

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/youthvoice/portal/internal/errors"
	"github.com/youthvoice/portal/internal/ports"
	"github.com/youthvoice/portal/internal/testutil"
)

func TestAuditRepo_Record(t *testing.T) {
	db, mock := newMockDB(t)
	ts := testutil.TestTime()
	repo := NewAuditRepo(db, NewFixedTimeProvider(ts))

	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs(sqlmock.AnyArg(), testUserID, "auth.sign_in", "", []byte(`{"email":"a@example.org"}`), ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Record(context.Background(), ports.AuditEntry{
		ActorID: testUserID,
		Action:  "auth.sign_in",
		Details: map[string]any{"email": "a@example.org"},
	})
	require.NoError(t, err)
}

func TestAuditRepo_RecordDefaultsDetails(t *testing.T) {
	db, mock := newMockDB(t)
	ts := testutil.TestTime()
	repo := NewAuditRepo(db, NewFixedTimeProvider(ts))

	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs(sqlmock.AnyArg(), "", "auth.sign_out", "", []byte("{}"), ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Record(context.Background(), ports.AuditEntry{Action: "auth.sign_out"}))
}

func TestAuditRepo_RecordValidatesAndMapsErrors(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepo(db, nil)

	err := repo.Record(context.Background(), ports.AuditEntry{Action: "  "})
	assert.True(t, apperrors.IsValidation(err))

	mock.ExpectExec(`INSERT INTO audit_logs`).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "action"})

	err = repo.Record(context.Background(), ports.AuditEntry{Action: "auth.sign_in"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr))
}

func TestAuditRepo_List(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepo(db, nil)
	ts := testutil.TestTime()

	mock.ExpectQuery(`SELECT id, actor_id, action, target, details, created_at FROM audit_logs WHERE actor_id = \$1 AND action = \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs(testUserID, "auth.idle_sign_out", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "actor_id", "action", "target", "details", "created_at"}).
			AddRow("a1", testUserID, "auth.idle_sign_out", "", []byte(`{"idle_minutes":30}`), ts))

	recs, err := repo.List(context.Background(), AuditFilter{ActorID: testUserID, Action: "auth.idle_sign_out", Limit: 10})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a1", recs[0].ID)
	assert.Equal(t, float64(30), recs[0].Details["idle_minutes"])
	assert.Equal(t, ts, recs[0].CreatedAt)
}

func TestBuildAuditQuery(t *testing.T) {
	tests := []struct {
		name      string
		filter    AuditFilter
		wantWhere bool
		wantLimit int
	}{
		{name: "defaults", filter: AuditFilter{}, wantLimit: defaultAuditLimit},
		{name: "clamped", filter: AuditFilter{Limit: 10_000}, wantLimit: maxAuditLimit},
		{name: "actor", filter: AuditFilter{ActorID: "u", Limit: 5}, wantWhere: true, wantLimit: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := buildAuditQuery(tt.filter)
			assert.Equal(t, tt.wantWhere, strings.Contains(q, " WHERE "))
			assert.Equal(t, tt.wantLimit, args[len(args)-1])
		})
	}
}
