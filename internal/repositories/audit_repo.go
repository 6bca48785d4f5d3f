package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/admin-platform/backend/internal/audit"
	"github.com/admin-platform/backend/internal/db"
	"github.com/admin-platform/backend/internal/models"
)

const auditColumns = `id, entity_type, entity_id, event, version, before, after, media_before, media_after,
	changed_fields, actor_type, actor_id, batch_id, rolled_back_from_id, meta, created_at`

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) MaxVersion(ctx context.Context, entityType, entityID string) (int, error) {
	var v int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM audit_records
		WHERE entity_type = $1 AND entity_id = $2
	`, entityType, entityID).Scan(&v)
	return v, err
}

func (r *AuditRepo) Insert(ctx context.Context, rec *models.AuditRecord) error {
	p, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	var id uuid.UUID
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO audit_records (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (entity_type, entity_id, version) DO NOTHING
		RETURNING id
	`, rec.ID, rec.EntityType, rec.EntityID, string(rec.Event), rec.Version,
		p.before, p.after, p.mediaBefore, p.mediaAfter,
		rec.ChangedFields, rec.ActorType, rec.ActorID, rec.BatchID, rec.RolledBackFromID, p.meta, rec.CreatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s v%d", audit.ErrVersionConflict, rec.EntityType, rec.EntityID, rec.Version)
	}
	return err
}

func (r *AuditRepo) Get(ctx context.Context, id uuid.UUID) (*models.AuditRecord, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: audit record %s", audit.ErrNotFound, id)
	}
	return rec, err
}

func (r *AuditRepo) List(ctx context.Context, f models.AuditFilter) (*models.Page[models.AuditRecord], error) {
	conn := db.Conn(ctx, r.pool)
	countSQL, listSQL, args := buildListQuery(f)

	page := &models.Page[models.AuditRecord]{Page: f.Page, PerPage: f.PerPage, Items: []models.AuditRecord{}}
	if err := conn.QueryRow(ctx, countSQL, args[:len(args)-2]...).Scan(&page.Total); err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *rec)
	}
	return page, rows.Err()
}

// buildListQuery returns the count query, the page query and the page query's
// args. The count query takes every arg but the trailing limit and offset.
func buildListQuery(f models.AuditFilter) (string, string, []any) {
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.EntityType != "" {
		where = append(where, fmt.Sprintf("entity_type = $%d", argIdx))
		args = append(args, f.EntityType)
		argIdx++
	}
	if f.EntityID != "" {
		where = append(where, fmt.Sprintf("entity_id = $%d", argIdx))
		args = append(args, f.EntityID)
		argIdx++
	}
	if f.Event != nil {
		where = append(where, fmt.Sprintf("event = $%d", argIdx))
		args = append(args, string(*f.Event))
		argIdx++
	}

	filter := ""
	if len(where) > 0 {
		filter = " WHERE " + strings.Join(where, " AND ")
	}

	order := " ORDER BY created_at DESC, id DESC"
	if f.EntityType != "" && f.EntityID != "" {
		order = " ORDER BY version DESC"
	}

	perPage := f.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}

	countSQL := "SELECT COUNT(*) FROM audit_records" + filter
	listSQL := "SELECT " + auditColumns + " FROM audit_records" + filter + order +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, perPage, (page-1)*perPage)
	return countSQL, listSQL, args
}

func (r *AuditRepo) FindBatchRecord(ctx context.Context, entityType, entityID string, event models.Event, batchID string) (*models.AuditRecord, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+auditColumns+` FROM audit_records
		WHERE entity_type = $1 AND entity_id = $2 AND event = $3 AND batch_id = $4
		ORDER BY created_at DESC, version DESC
		LIMIT 1
		FOR UPDATE
	`, entityType, entityID, string(event), batchID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, audit.ErrNotFound
	}
	return rec, err
}

// Amend rewrites the snapshot parts of an existing record. Identity, version,
// batch and actor are never touched.
func (r *AuditRepo) Amend(ctx context.Context, rec *models.AuditRecord) error {
	p, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE audit_records
		SET before = $2, after = $3, media_before = $4, media_after = $5, changed_fields = $6, meta = $7
		WHERE id = $1
	`, rec.ID, p.before, p.after, p.mediaBefore, p.mediaAfter, rec.ChangedFields, p.meta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: audit record %s", audit.ErrNotFound, rec.ID)
	}
	return nil
}

type recordPayload struct {
	before, after, mediaBefore, mediaAfter, meta []byte
}

func encodeRecord(rec *models.AuditRecord) (recordPayload, error) {
	var p recordPayload
	var err error
	if p.before, err = jsonb(rec.Before, rec.Before == nil); err != nil {
		return p, fmt.Errorf("encode before: %w", err)
	}
	if p.after, err = jsonb(rec.After, rec.After == nil); err != nil {
		return p, fmt.Errorf("encode after: %w", err)
	}
	if p.mediaBefore, err = jsonb(rec.MediaBefore, rec.MediaBefore == nil); err != nil {
		return p, fmt.Errorf("encode media_before: %w", err)
	}
	if p.mediaAfter, err = jsonb(rec.MediaAfter, rec.MediaAfter == nil); err != nil {
		return p, fmt.Errorf("encode media_after: %w", err)
	}
	meta := rec.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	if p.meta, err = json.Marshal(meta); err != nil {
		return p, fmt.Errorf("encode meta: %w", err)
	}
	return p, nil
}

// jsonb encodes v for a jsonb parameter; a nil slice is sent as SQL NULL.
func jsonb(v any, isNil bool) ([]byte, error) {
	if isNil {
		return nil, nil
	}
	return json.Marshal(v)
}

func scanRecord(row pgx.Row) (*models.AuditRecord, error) {
	var (
		rec                                          models.AuditRecord
		event                                        string
		before, after, mediaBefore, mediaAfter, meta []byte
	)
	err := row.Scan(&rec.ID, &rec.EntityType, &rec.EntityID, &event, &rec.Version,
		&before, &after, &mediaBefore, &mediaAfter,
		&rec.ChangedFields, &rec.ActorType, &rec.ActorID, &rec.BatchID, &rec.RolledBackFromID, &meta, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Event = models.Event(event)

	if before != nil {
		rec.Before = models.NewAttributes()
		if err := json.Unmarshal(before, rec.Before); err != nil {
			return nil, fmt.Errorf("decode before of %s: %w", rec.ID, err)
		}
	}
	if after != nil {
		rec.After = models.NewAttributes()
		if err := json.Unmarshal(after, rec.After); err != nil {
			return nil, fmt.Errorf("decode after of %s: %w", rec.ID, err)
		}
	}
	if mediaBefore != nil {
		if err := json.Unmarshal(mediaBefore, &rec.MediaBefore); err != nil {
			return nil, fmt.Errorf("decode media_before of %s: %w", rec.ID, err)
		}
	}
	if mediaAfter != nil {
		if err := json.Unmarshal(mediaAfter, &rec.MediaAfter); err != nil {
			return nil, fmt.Errorf("decode media_after of %s: %w", rec.ID, err)
		}
	}
	rec.Meta = map[string]any{}
	if meta != nil {
		if err := json.Unmarshal(meta, &rec.Meta); err != nil {
			return nil, fmt.Errorf("decode meta of %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}
