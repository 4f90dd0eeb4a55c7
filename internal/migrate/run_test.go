package migrate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersions(t *testing.T) {
	got, err := Versions()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_profiles_roles", "0002_audit_logs"}, got)
}

func TestVersionsIn_SortsAndIgnoresOtherFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0002_b.sql":  {Data: []byte("SELECT 2")},
		"migrations/0001_a.sql":  {Data: []byte("SELECT 1")},
		"migrations/README.md":   {Data: []byte("notes")},
		"migrations/0003_c.sql~": {Data: []byte("backup")},
	}
	got, err := versionsIn(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a", "0002_b"}, got)
}

func TestRun_AppliesOnlyPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	exists := regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`)
	record := regexp.QuoteMeta(`INSERT INTO schema_migrations (version) VALUES ($1)`)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(exists).WithArgs("0001_profiles_roles").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(exists).WithArgs("0002_audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(record).WithArgs("0002_audit_logs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := Run(context.Background(), db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_audit_logs"}, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_RollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("0001_profiles_roles").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS profiles").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	applied, err := Run(context.Background(), db, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exec migration 0001_profiles_roles")
	assert.Empty(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}
