package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/admin-platform/backend/internal/audit"
	"github.com/admin-platform/backend/internal/db"
	"github.com/admin-platform/backend/internal/models"
)

const deletedAtColumn = "deleted_at"

// EntityRepo is a table gateway over the rows of every registered entity
// type. It performs no auditing; callers wrap writes in the observer.
type EntityRepo struct {
	pool *pgxpool.Pool
}

func NewEntityRepo(pool *pgxpool.Pool) *EntityRepo {
	return &EntityRepo{pool: pool}
}

func (r *EntityRepo) Find(ctx context.Context, t *audit.EntityType, id string, withTrashed bool) (*models.Row, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", ident(t.Table), ident(t.KeyName()))
	if t.SoftDelete && !withTrashed {
		query += " AND " + ident(deletedAtColumn) + " IS NULL"
	}
	return r.one(ctx, t, query, id)
}

// List returns live rows of t, newest first when the table has timestamps.
func (r *EntityRepo) List(ctx context.Context, t *audit.EntityType, limit, offset int) ([]models.Row, error) {
	query := "SELECT * FROM " + ident(t.Table)
	if t.SoftDelete {
		query += " WHERE " + ident(deletedAtColumn) + " IS NULL"
	}
	if t.Timestamps {
		query += " ORDER BY created_at DESC"
	} else {
		query += " ORDER BY " + ident(t.KeyName())
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += " LIMIT $1 OFFSET $2"

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, rowMapper(t))
	if err != nil {
		return nil, err
	}
	items := make([]models.Row, 0, len(out))
	for _, row := range out {
		items = append(items, *row)
	}
	return items, nil
}

func (r *EntityRepo) Insert(ctx context.Context, t *audit.EntityType, attrs *models.Attributes) (*models.Row, error) {
	cols := attrs.Keys()
	if len(cols) == 0 {
		return r.one(ctx, t, fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING *", ident(t.Table)))
	}

	names := make([]string, len(cols))
	holders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		v, _ := attrs.Get(c)
		names[i] = ident(c)
		holders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = toPG(v)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		ident(t.Table), strings.Join(names, ", "), strings.Join(holders, ", "))
	return r.one(ctx, t, query, args...)
}

func (r *EntityRepo) Update(ctx context.Context, t *audit.EntityType, id string, attrs *models.Attributes) (*models.Row, error) {
	set := []string{}
	args := []any{}
	argIdx := 1
	for _, c := range attrs.Keys() {
		if c == t.KeyName() {
			continue
		}
		v, _ := attrs.Get(c)
		set = append(set, fmt.Sprintf("%s = $%d", ident(c), argIdx))
		args = append(args, toPG(v))
		argIdx++
	}
	if t.Timestamps {
		set = append(set, "updated_at = now()")
	}
	if len(set) == 0 {
		return r.Find(ctx, t, id, true)
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING *",
		ident(t.Table), strings.Join(set, ", "), ident(t.KeyName()), argIdx)
	args = append(args, id)
	return r.one(ctx, t, query, args...)
}

// Delete soft-deletes rows of soft-delete types and removes all others.
func (r *EntityRepo) Delete(ctx context.Context, t *audit.EntityType, id string) error {
	var query string
	if t.SoftDelete {
		query = fmt.Sprintf("UPDATE %s SET %s = now() WHERE %s = $1 AND %s IS NULL",
			ident(t.Table), ident(deletedAtColumn), ident(t.KeyName()), ident(deletedAtColumn))
	} else {
		query = fmt.Sprintf("DELETE FROM %s WHERE %s = $1", ident(t.Table), ident(t.KeyName()))
	}

	tag, err := db.Conn(ctx, r.pool).Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s", audit.ErrNotFound, t.Name, id)
	}
	return nil
}

func (r *EntityRepo) Restore(ctx context.Context, t *audit.EntityType, id string) (*models.Row, error) {
	if !t.SoftDelete {
		return nil, fmt.Errorf("%s does not support restore", t.Name)
	}
	query := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = $1 RETURNING *",
		ident(t.Table), ident(deletedAtColumn), ident(t.KeyName()))
	return r.one(ctx, t, query, id)
}

func (r *EntityRepo) one(ctx context.Context, t *audit.EntityType, query string, args ...any) (*models.Row, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	row, err := pgx.CollectExactlyOneRow(rows, rowMapper(t))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", audit.ErrNotFound, t.Name)
	}
	return row, err
}

// rowMapper turns a result row into ordered attributes, columns in table order.
func rowMapper(t *audit.EntityType) pgx.RowToFunc[*models.Row] {
	return func(row pgx.CollectableRow) (*models.Row, error) {
		values, err := row.Values()
		if err != nil {
			return nil, err
		}
		attrs := models.NewAttributes()
		for i, fd := range row.FieldDescriptions() {
			attrs.Set(fd.Name, fromPG(values[i]))
		}

		out := &models.Row{Type: t.Name, Attributes: attrs}
		if id, ok := attrs.Get(t.KeyName()); ok && id != nil {
			out.ID = fmt.Sprint(id)
		}
		if t.SoftDelete {
			deletedAt, _ := attrs.Get(deletedAtColumn)
			out.Trashed = deletedAt != nil
		}
		return out, nil
	}
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// fromPG maps driver values to plain Go values the normalizer understands.
func fromPG(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	default:
		return v
	}
}

// toPG maps attribute values to query parameters. Strings are sent in text
// format so postgres parses them into the column type.
func toPG(v any) any {
	switch x := v.(type) {
	case json.Number:
		return string(x)
	case map[string]any, []any, *models.Attributes:
		b, err := json.Marshal(x)
		if err != nil {
			return v
		}
		return string(b)
	default:
		return v
	}
}
