package repositories

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/admin-platform/backend/internal/audit"
	"github.com/admin-platform/backend/internal/db"
)

// SchemaRepo derives schema signatures from the live database catalog.
type SchemaRepo struct {
	pool *pgxpool.Pool
}

func NewSchemaRepo(pool *pgxpool.Pool) *SchemaRepo {
	return &SchemaRepo{pool: pool}
}

type columnInfo struct {
	Name     string
	DataType string
	Nullable bool
}

// SignatureFor hashes the canonical JSON of the table's columns in ordinal order.
func (r *SchemaRepo) SignatureFor(ctx context.Context, table string) (string, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position
	`, table)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	cols := []columnInfo{}
	for rows.Next() {
		var c columnInfo
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable); err != nil {
			return "", err
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("table %q has no columns", table)
	}
	return signature(table, cols)
}

// Signer binds SignatureFor to a table.
func (r *SchemaRepo) Signer(table string) audit.SignatureFunc {
	return func(ctx context.Context) (string, error) {
		return r.SignatureFor(ctx, table)
	}
}

func signature(table string, cols []columnInfo) (string, error) {
	list := make([]any, len(cols))
	for i, c := range cols {
		list[i] = map[string]any{"name": c.Name, "type": c.DataType, "nullable": c.Nullable}
	}
	b, err := audit.Canonical(map[string]any{"table": table, "columns": list})
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:]), nil
}
