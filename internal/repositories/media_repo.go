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

const mediaColumns = `id::text, file_name, mime_type, size, disk, created_at`

// MediaRepo stores asset metadata and which entity slot an asset is attached to.
type MediaRepo struct {
	pool *pgxpool.Pool
}

func NewMediaRepo(pool *pgxpool.Pool) *MediaRepo {
	return &MediaRepo{pool: pool}
}

// Current returns the asset attached to the slot, or nil when it is empty.
func (r *MediaRepo) Current(ctx context.Context, ref models.EntityRef, slot string) (*models.Asset, error) {
	a, err := scanAsset(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+mediaColumns+` FROM media
		WHERE model_type = $1 AND model_id = $2 AND collection = $3
		ORDER BY created_at DESC
		LIMIT 1
	`, ref.Type, ref.ID, slot))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *MediaRepo) Find(ctx context.Context, id string) (*models.Asset, error) {
	a, err := scanAsset(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+mediaColumns+` FROM media WHERE id::text = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: media %s", audit.ErrNotFound, id)
	}
	return a, err
}

// FindByFile looks an asset up by its file identity, newest first.
func (r *MediaRepo) FindByFile(ctx context.Context, fileName, mimeType string, size int64) (*models.Asset, error) {
	a, err := scanAsset(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+mediaColumns+` FROM media
		WHERE file_name = $1 AND mime_type = $2 AND size = $3
		ORDER BY created_at DESC
		LIMIT 1
	`, fileName, mimeType, size))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: media %s", audit.ErrNotFound, fileName)
	}
	return a, err
}

// Attach makes assetID the only asset in the slot.
func (r *MediaRepo) Attach(ctx context.Context, ref models.EntityRef, slot, assetID string) error {
	if err := r.Detach(ctx, ref, slot); err != nil {
		return err
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE media SET model_type = $1, model_id = $2, collection = $3 WHERE id::text = $4
	`, ref.Type, ref.ID, slot, assetID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: media %s", audit.ErrNotFound, assetID)
	}
	return nil
}

// Detach empties the slot. The stored files stay.
func (r *MediaRepo) Detach(ctx context.Context, ref models.EntityRef, slot string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE media SET model_type = NULL, model_id = NULL, collection = NULL
		WHERE model_type = $1 AND model_id = $2 AND collection = $3
	`, ref.Type, ref.ID, slot)
	return err
}

func scanAsset(row pgx.Row) (*models.Asset, error) {
	var a models.Asset
	if err := row.Scan(&a.ID, &a.FileName, &a.MimeType, &a.Size, &a.Disk, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
