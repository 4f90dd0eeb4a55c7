package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	domainauth "github.com/youthvoice/portal/internal/domain/auth"
	apperrors "github.com/youthvoice/portal/internal/errors"
	"github.com/youthvoice/portal/internal/ports"
)

var _ ports.ProfileRepository = (*ProfileRepo)(nil)

// ProfileRepo reads application profiles and their role assignments.
type ProfileRepo struct {
	DB *sql.DB
}

// NewProfileRepo creates a new ProfileRepo.
func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{DB: db}
}

const profileColumns = `id, full_name, email, region, district, university, avatar_url, created_at, updated_at`

// GetProfile returns the profile row for userID, or ports.ErrProfileNotFound when there is none.
// Identity platform ids that are not UUIDs cannot have a row and are reported as not found.
func (r *ProfileRepo) GetProfile(ctx context.Context, userID string) (*domainauth.Profile, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, ports.ErrProfileNotFound
	}

	var p domainauth.Profile
	err := r.DB.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID).Scan(
		&p.ID, &p.FullName, &p.Email, &p.Region, &p.District, &p.University, &p.AvatarURL,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, apperrors.MapDBError(err))
	}
	return &p, nil
}

// ListRoles returns the names of all roles assigned to userID.
func (r *ProfileRepo) ListRoles(ctx context.Context, userID string) (domainauth.RoleSet, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return domainauth.RoleSet{}, nil
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles %s: %w", userID, apperrors.MapDBError(err))
	}
	defer rows.Close()

	roles := domainauth.RoleSet{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, domainauth.Role(name))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list roles %s: %w", userID, apperrors.MapDBError(err))
	}
	return roles, nil
}

// SetRoles replaces the role assignments of userID. Repeated names are assigned once.
// Unknown role names are rejected and leave the previous assignments untouched.
func (r *ProfileRepo) SetRoles(ctx context.Context, userID string, roles domainauth.RoleSet) error {
	if _, err := uuid.Parse(userID); err != nil {
		return apperrors.ValidationField("user_id", "user id must be a UUID")
	}

	return withTx(ctx, r.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("clear roles: %w", apperrors.MapDBError(err))
		}
		seen := make(map[string]struct{}, len(roles))
		for _, role := range roles {
			name := strings.TrimSpace(string(role))
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO user_roles (user_id, role_id)
				SELECT $1, id FROM roles WHERE name = $2
				ON CONFLICT DO NOTHING`, userID, name)
			if err != nil {
				return fmt.Errorf("assign role %s: %w", name, apperrors.MapDBError(err))
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return apperrors.ValidationField("role", fmt.Sprintf("unknown role %q", name))
			}
		}
		return nil
	})
}

// UpsertProfile inserts or updates a profile row and returns the stored version.
func (r *ProfileRepo) UpsertProfile(ctx context.Context, p domainauth.Profile) (*domainauth.Profile, error) {
	if _, err := uuid.Parse(p.ID); err != nil {
		return nil, apperrors.ValidationField("id", "profile id must be a UUID")
	}
	if strings.TrimSpace(p.Email) == "" {
		return nil, apperrors.ValidationField("email", "email is required")
	}

	var out domainauth.Profile
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO profiles (id, full_name, email, region, district, university, avatar_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email,
			region = EXCLUDED.region,
			district = EXCLUDED.district,
			university = EXCLUDED.university,
			avatar_url = EXCLUDED.avatar_url,
			updated_at = now()
		RETURNING `+profileColumns,
		p.ID, p.FullName, strings.TrimSpace(p.Email), p.Region, p.District, p.University, p.AvatarURL,
	).Scan(
		&out.ID, &out.FullName, &out.Email, &out.Region, &out.District, &out.University, &out.AvatarURL,
		&out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert profile: %w", apperrors.MapDBError(err))
	}
	return &out, nil
}
