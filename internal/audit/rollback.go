package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/admin-platform/backend/internal/models"
)

// Result describes the state an entity was rolled back to.
type Result struct {
	EntityType     string      `json:"entity_type"`
	EntityID       string      `json:"entity_id"`
	RolledBackFrom uuid.UUID   `json:"rolled_back_from"`
	TargetVersion  int         `json:"target_version"`
	Entity         *models.Row `json:"entity,omitempty"`
}

// Engine restores entities to the state captured by an audit record.
type Engine struct {
	registry *Registry
	records  Store
	entities EntityStore
	observer *Observer
	tx       Transactor
	log      *zap.Logger
}

func NewEngine(registry *Registry, records Store, entities EntityStore, observer *Observer, tx Transactor, log *zap.Logger) *Engine {
	return &Engine{
		registry: registry,
		records:  records,
		entities: entities,
		observer: observer,
		tx:       tx,
		log:      log,
	}
}

func (e *Engine) RollbackByID(ctx context.Context, id uuid.UUID) (*Result, error) {
	rec, err := e.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Rollback(ctx, rec)
}

// Rollback atomically writes the entity, its relations and attached media
// back to the state rec points at. The writes are audited like any other
// mutation and the resulting records reference rec.
func (e *Engine) Rollback(ctx context.Context, rec *models.AuditRecord) (*Result, error) {
	t, err := e.registry.Rollbackable(rec.EntityType)
	if err != nil {
		return nil, err
	}
	if err := e.checkSignature(ctx, t, rec); err != nil {
		return nil, err
	}
	target, media, version, err := ResolveTarget(rec)
	if err != nil {
		return nil, err
	}

	ctx, scope := EnsureScope(ctx)
	res := &Result{
		EntityType:     rec.EntityType,
		EntityID:       rec.EntityID,
		RolledBackFrom: rec.ID,
		TargetVersion:  version,
	}

	meta := map[string]any{
		models.MetaRollback:              true,
		models.MetaRollbackTargetVersion: version,
	}
	err = e.tx.InTx(ctx, func(ctx context.Context) error {
		return scope.WithRollbackOf(rec.ID, func() error {
			return scope.WithMeta(meta, func() error {
				row, err := e.restore(ctx, t, rec.EntityID, target, media)
				res.Entity = row
				return err
			})
		})
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("entity rolled back",
		zap.String("entity_type", rec.EntityType),
		zap.String("entity_id", rec.EntityID),
		zap.String("audit_id", rec.ID.String()),
		zap.Int("target_version", version))
	return res, nil
}

// ResolveTarget returns the snapshot, media and version marker a rollback of
// rec lands on. Creates re-assert the created state; every other event goes
// back to the state before it.
func ResolveTarget(rec *models.AuditRecord) (*models.Attributes, map[string]*models.Asset, int, error) {
	switch rec.Event {
	case models.EventCreate:
		return rec.After, rec.MediaAfter, 1, nil
	case models.EventUpdate, models.EventDelete, models.EventRestore:
		return rec.Before, rec.MediaBefore, max(1, rec.Version-1), nil
	default:
		return nil, nil, 0, fmt.Errorf("%w: %q", ErrUnsupportedEvent, rec.Event)
	}
}

func (e *Engine) checkSignature(ctx context.Context, t *EntityType, rec *models.AuditRecord) error {
	stored := rec.SchemaSignature()
	if stored == "" {
		return nil
	}
	if t.Signature == nil {
		return fmt.Errorf("%w: %s no longer exposes a signature", ErrSchemaDrift, t.Name)
	}
	current, err := t.Signature(ctx)
	if err != nil {
		return fmt.Errorf("schema signature of %s: %w", t.Name, err)
	}
	if current != stored {
		return fmt.Errorf("%w: %s recorded %s, current %s", ErrSchemaDrift, t.Name, stored, current)
	}
	return nil
}

func (e *Engine) restore(ctx context.Context, t *EntityType, id string, target *models.Attributes, media map[string]*models.Asset) (*models.Row, error) {
	current, err := e.entities.Find(ctx, t, id, t.SoftDelete)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if target == nil {
		if current == nil {
			return nil, fmt.Errorf("%w: %s %s", ErrNothingToRollback, t.Name, id)
		}
		return nil, e.remove(ctx, t, current)
	}

	ref := models.EntityRef{Type: t.Name, ID: id}
	writable := target.Only(t.Writable()...)
	writable.Set(t.KeyName(), id)

	var relBefore RelatedSnapshot
	if t.Related != nil && current != nil {
		if relBefore, err = t.Related.Snapshot(ctx, ref); err != nil {
			return nil, fmt.Errorf("related snapshot: %w", err)
		}
	}

	if current == nil {
		if err := e.insert(ctx, t, writable); err != nil {
			return nil, err
		}
		if t.Related != nil {
			if relBefore, err = t.Related.Snapshot(ctx, ref); err != nil {
				return nil, fmt.Errorf("related snapshot: %w", err)
			}
		}
	} else if err := e.update(ctx, t, current, writable); err != nil {
		return nil, err
	}

	if t.Related != nil {
		if err := t.Related.Apply(ctx, ref, target, media); err != nil {
			return nil, fmt.Errorf("apply related state: %w", err)
		}
		relAfter, err := t.Related.Snapshot(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("related snapshot: %w", err)
		}
		if err := e.recordSideEffects(ctx, t, id, relBefore, relAfter); err != nil {
			return nil, err
		}
	}

	return e.entities.Find(ctx, t, id, t.SoftDelete)
}

func (e *Engine) remove(ctx context.Context, t *EntityType, current *models.Row) error {
	m, err := e.observer.Begin(ctx, t, models.EventDelete, current.ID, current.Attributes)
	if err != nil {
		return err
	}
	defer m.Release()

	if err := e.entities.Delete(ctx, t, current.ID); err != nil {
		return err
	}
	_, err = m.Commit(ctx, current.ID, nil)
	return err
}

func (e *Engine) insert(ctx context.Context, t *EntityType, attrs *models.Attributes) error {
	m, err := e.observer.Begin(ctx, t, models.EventCreate, "", nil)
	if err != nil {
		return err
	}
	defer m.Release()

	row, err := e.entities.Insert(ctx, t, attrs)
	if err != nil {
		return err
	}
	_, err = m.Commit(ctx, row.ID, row.Attributes)
	return err
}

func (e *Engine) update(ctx context.Context, t *EntityType, current *models.Row, attrs *models.Attributes) error {
	m, err := e.observer.Begin(ctx, t, models.EventUpdate, current.ID, current.Attributes)
	if err != nil {
		return err
	}
	defer m.Release()

	row, err := e.entities.Update(ctx, t, current.ID, attrs)
	if err != nil {
		return err
	}
	if _, err := m.Commit(ctx, current.ID, row.Attributes); err != nil {
		return err
	}

	if !current.Trashed {
		return nil
	}
	rm, err := e.observer.Begin(ctx, t, models.EventRestore, current.ID, row.Attributes)
	if err != nil {
		return err
	}
	defer rm.Release()

	restored, err := e.entities.Restore(ctx, t, current.ID)
	if err != nil {
		return err
	}
	_, err = rm.Commit(ctx, current.ID, restored.Attributes)
	return err
}

// recordSideEffects audits relation changes made while restoring. They are
// merged into the batch's open update record for the entity when there is
// one, so one rollback yields one update record.
func (e *Engine) recordSideEffects(ctx context.Context, t *EntityType, id string, before, after RelatedSnapshot) error {
	scope := ScopeFrom(ctx)
	if scope == nil || !scope.Enabled() {
		return nil
	}

	excluded := e.registry.excluded(t)
	beforeFields := NormalizeAttributes(before.Fields.Without(excluded...))
	afterFields := NormalizeAttributes(after.Fields.Without(excluded...))
	changedMedia := mediaChanges(before.Media, after.Media)
	changed := unionFields(Diff(beforeFields, afterFields), changedMedia)
	if len(changed) == 0 {
		return nil
	}

	side := sideEffect{
		before:  onlyPresent(beforeFields, changed),
		after:   onlyPresent(afterFields, changed),
		changed: changed,
		meta:    scope.Meta(),
	}
	if len(changedMedia) > 0 {
		side.mediaBefore, side.mediaAfter = before.Media, after.Media
	}

	existing, err := e.records.FindBatchRecord(ctx, t.Name, id, models.EventUpdate, scope.BatchID())
	switch {
	case err == nil:
		side.mergeInto(existing)
		return e.records.Amend(ctx, existing)
	case !errors.Is(err, ErrNotFound):
		return err
	}

	rec := &models.AuditRecord{
		Event:         models.EventUpdate,
		Before:        side.before,
		After:         side.after,
		MediaBefore:   side.mediaBefore,
		MediaAfter:    side.mediaAfter,
		ChangedFields: changed,
	}
	return e.observer.write(ctx, scope, t, id, rec)
}

func onlyPresent(a *models.Attributes, keys []string) *models.Attributes {
	if a == nil {
		return models.NewAttributes()
	}
	return a.Only(keys...)
}
