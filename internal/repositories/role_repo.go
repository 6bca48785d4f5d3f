package repositories

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/admin-platform/backend/internal/db"
)

type RoleRepo struct {
	pool *pgxpool.Pool
}

func NewRoleRepo(pool *pgxpool.Pool) *RoleRepo {
	return &RoleRepo{pool: pool}
}

// RoleCodes returns the sorted role codes held by the user.
func (r *RoleRepo) RoleCodes(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT r.code FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id::text = $1
		ORDER BY r.code
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// SyncRoles replaces the user's roles with codes. Codes that no longer exist
// are skipped and returned.
func (r *RoleRepo) SyncRoles(ctx context.Context, userID string, codes []string) ([]string, error) {
	conn := db.Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx, `DELETE FROM user_roles WHERE user_id::text = $1`, userID); err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		return nil, nil
	}

	rows, err := conn.Query(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		SELECT $1::uuid, id FROM roles WHERE code = ANY($2)
		RETURNING (SELECT code FROM roles WHERE roles.id = role_id)
	`, userID, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	synced := map[string]bool{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		synced[code] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, c := range codes {
		if !synced[c] {
			missing = append(missing, c)
		}
	}
	sort.Strings(missing)
	return missing, nil
}
