package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	apperrors "github.com/youthvoice/portal/internal/errors"
	"github.com/youthvoice/portal/internal/ports"
)

var _ ports.AuditLogger = (*AuditRepo)(nil)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditRepo writes and reads audit_logs rows.
type AuditRepo struct {
	DB   *sql.DB
	Time TimeProvider
}

// NewAuditRepo creates a new AuditRepo. A nil TimeProvider uses the system clock.
func NewAuditRepo(db *sql.DB, tp TimeProvider) *AuditRepo {
	if tp == nil {
		tp = RealTimeProvider{}
	}
	return &AuditRepo{DB: db, Time: tp}
}

// AuditRecord is a stored audit entry.
type AuditRecord struct {
	ID string `json:"id"`
	ports.AuditEntry
}

// AuditFilter narrows List results. Zero values match everything.
type AuditFilter struct {
	ActorID string
	Action  string
	Limit   int
}

// Record inserts one audit row with a fresh id.
func (r *AuditRepo) Record(ctx context.Context, entry ports.AuditEntry) error {
	if strings.TrimSpace(entry.Action) == "" {
		return apperrors.ValidationField("action", "action is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.Time.Now()
	}
	details := []byte("{}")
	if len(entry.Details) > 0 {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = b
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, action, target, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), entry.ActorID, entry.Action, entry.Target, details, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("record audit %s: %w", entry.Action, apperrors.MapDBError(err))
	}
	return nil
}

// List returns the most recent audit rows matching f, newest first.
func (r *AuditRepo) List(ctx context.Context, f AuditFilter) ([]AuditRecord, error) {
	query, args := buildAuditQuery(f)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", apperrors.MapDBError(err))
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			rec     AuditRecord
			details []byte
		)
		if err := rows.Scan(&rec.ID, &rec.ActorID, &rec.Action, &rec.Target, &details, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &rec.Details); err != nil {
				return nil, fmt.Errorf("decode audit details %s: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit: %w", apperrors.MapDBError(err))
	}
	return out, nil
}

func buildAuditQuery(f AuditFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.ActorID != "" {
		args = append(args, f.ActorID)
		where = append(where, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if f.Action != "" {
		args = append(args, f.Action)
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}

	limit := f.Limit
	switch {
	case limit <= 0:
		limit = defaultAuditLimit
	case limit > maxAuditLimit:
		limit = maxAuditLimit
	}
	args = append(args, limit)

	var b strings.Builder
	b.WriteString(`SELECT id, actor_id, action, target, details, created_at FROM audit_logs`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY created_at DESC LIMIT $%d", len(args))
	return b.String(), args
}
