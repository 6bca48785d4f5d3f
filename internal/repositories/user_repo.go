package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/admin-platform/backend/internal/audit"
	"github.com/admin-platform/backend/internal/db"
	"github.com/admin-platform/backend/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// GetByID returns the user including soft-deleted ones, so historic actors
// still resolve.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, email, name, organization_id, created_at, updated_at, deleted_at
		FROM users WHERE id::text = $1
	`, id).Scan(&u.ID, &u.Email, &u.Name, &u.OrganizationID, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", audit.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, email, name, organization_id, created_at, updated_at, deleted_at
		FROM users WHERE email = $1 AND deleted_at IS NULL
	`, email).Scan(&u.ID, &u.Email, &u.Name, &u.OrganizationID, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", audit.ErrNotFound, email)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
