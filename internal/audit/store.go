package audit

import (
	"context"

	"github.com/google/uuid"

	"github.com/admin-platform/backend/internal/models"
)

// Store persists audit records. Implementations take the active transaction
// from ctx when there is one.
type Store interface {
	MaxVersion(ctx context.Context, entityType, entityID string) (int, error)
	// Insert writes rec. A duplicate (entity_type, entity_id, version) must be
	// reported as ErrVersionConflict without aborting the surrounding transaction.
	Insert(ctx context.Context, rec *models.AuditRecord) error
	Get(ctx context.Context, id uuid.UUID) (*models.AuditRecord, error)
	List(ctx context.Context, f models.AuditFilter) (*models.Page[models.AuditRecord], error)
	// FindBatchRecord returns the most recent record of the batch for the
	// entity and event, or ErrNotFound.
	FindBatchRecord(ctx context.Context, entityType, entityID string, event models.Event, batchID string) (*models.AuditRecord, error)
	// Amend rewrites the mutable parts of an existing record.
	Amend(ctx context.Context, rec *models.AuditRecord) error
}

// EntityStore reads and writes the rows of audited entities. It performs no
// auditing itself.
type EntityStore interface {
	Find(ctx context.Context, t *EntityType, id string, withTrashed bool) (*models.Row, error)
	Insert(ctx context.Context, t *EntityType, attrs *models.Attributes) (*models.Row, error)
	Update(ctx context.Context, t *EntityType, id string, attrs *models.Attributes) (*models.Row, error)
	Delete(ctx context.Context, t *EntityType, id string) error
	Restore(ctx context.Context, t *EntityType, id string) (*models.Row, error)
}

// Transactor runs fn atomically. ctx passed to fn carries the transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RelatedSnapshot is auxiliary state that lives outside the entity's row.
type RelatedSnapshot struct {
	Fields *models.Attributes
	Media  map[string]*models.Asset
}

// RelatedState snapshots and restores an entity type's auxiliary relations.
type RelatedState interface {
	Snapshot(ctx context.Context, ref models.EntityRef) (RelatedSnapshot, error)
	// Apply re-synchronizes relations to target. Dangling references degrade
	// to clearing the relation; they are not errors.
	Apply(ctx context.Context, ref models.EntityRef, target *models.Attributes, media map[string]*models.Asset) error
}
