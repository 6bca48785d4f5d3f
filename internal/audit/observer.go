package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/admin-platform/backend/internal/models"
)

type Options struct {
	// VersionRetries is how many times a lost version race is retried.
	VersionRetries int
	RetryDelay     time.Duration
	// RecordSystemCreates records create events that have no actor instead
	// of dropping them.
	RecordSystemCreates bool
}

func DefaultOptions() Options {
	return Options{
		VersionRetries: 3,
		RetryDelay:     5 * time.Millisecond,
	}
}

// Observer captures entity mutations and writes versioned audit records.
type Observer struct {
	store    Store
	registry *Registry
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

func NewObserver(store Store, registry *Registry, opts Options, log *zap.Logger) *Observer {
	return &Observer{
		store:    store,
		registry: registry,
		opts:     opts,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Mutation is one in-flight entity write between its pre- and post-hook.
// Callers must defer Release so the held snapshot is freed on every path.
type Mutation struct {
	obs   *Observer
	scope *Scope
	typ   *EntityType
	event models.Event
	id    string
	token Token
}

// Begin runs the pre-hook: it captures the normalized before-snapshot of the
// entity and holds it in the scope until the mutation is released. current
// must be the persisted attributes; it is ignored for creates.
func (o *Observer) Begin(ctx context.Context, t *EntityType, event models.Event, id string, current *models.Attributes) (*Mutation, error) {
	if !event.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, event)
	}
	scope := ScopeFrom(ctx)
	if scope == nil {
		scope = NewScope()
	}

	held := &heldSnapshot{}
	if event != models.EventCreate {
		attrs, media, err := o.snapshot(ctx, t, id, current)
		if err != nil {
			return nil, fmt.Errorf("capture before-snapshot of %s %s: %w", t.Name, id, err)
		}
		held.attrs, held.media = attrs, media
	}

	return &Mutation{
		obs:   o,
		scope: scope,
		typ:   t,
		event: event,
		id:    id,
		token: scope.hold(held),
	}, nil
}

// Release frees the held before-snapshot. Safe to call more than once.
func (m *Mutation) Release() {
	m.scope.release(m.token)
}

// Commit runs the post-hook with the entity's final attributes (nil for
// deletes) and persists an audit record unless a gate suppresses it. A nil
// record with a nil error means nothing was written.
func (m *Mutation) Commit(ctx context.Context, id string, final *models.Attributes) (*models.AuditRecord, error) {
	defer m.Release()

	held, ok := m.scope.held(m.token)
	if !ok {
		return nil, fmt.Errorf("audit: mutation of %s %s already released", m.typ.Name, m.id)
	}
	if id == "" {
		id = m.id
	}
	o := m.obs
	log := o.log.With(zap.String("entity_type", m.typ.Name), zap.String("entity_id", id), zap.String("event", string(m.event)))

	gateAttrs := final
	if m.event == models.EventDelete {
		gateAttrs = held.attrs
	}
	if !m.typ.audits(m.event, gateAttrs) {
		log.Debug("audit skipped by entity opt-out")
		return nil, nil
	}
	if !m.scope.Enabled() {
		log.Debug("audit skipped, logging disabled")
		return nil, nil
	}
	if m.event == models.EventCreate && m.scope.Actor() == nil && !o.opts.RecordSystemCreates {
		log.Debug("create without actor not recorded")
		return nil, nil
	}

	rec := &models.AuditRecord{Event: m.event}
	switch m.event {
	case models.EventCreate:
		after, media, err := o.snapshot(ctx, m.typ, id, final)
		if err != nil {
			return nil, err
		}
		rec.After, rec.MediaAfter = after, media

	case models.EventUpdate, models.EventRestore:
		after, media, err := o.snapshot(ctx, m.typ, id, final)
		if err != nil {
			return nil, err
		}
		changed := unionFields(Diff(held.attrs, after), mediaChanges(held.media, media))
		if len(changed) == 0 && m.event == models.EventUpdate {
			log.Debug("update without changes not recorded")
			return nil, nil
		}
		rec.Before, rec.After = held.attrs, after
		rec.MediaBefore, rec.MediaAfter = held.media, media
		rec.ChangedFields = changed

	case models.EventDelete:
		rec.Before, rec.MediaBefore = held.attrs, held.media
		rec.ChangedFields = held.attrs.Keys()
		if rec.ChangedFields == nil {
			rec.ChangedFields = []string{}
		}
	}

	if err := o.write(ctx, m.scope, m.typ, id, rec); err != nil {
		return nil, err
	}
	log.Debug("audit recorded", zap.Int("version", rec.Version))
	return rec, nil
}

// snapshot normalizes attrs, strips excluded attributes and merges the
// entity's related state.
func (o *Observer) snapshot(ctx context.Context, t *EntityType, id string, attrs *models.Attributes) (*models.Attributes, map[string]*models.Asset, error) {
	excluded := o.registry.excluded(t)
	out := NormalizeAttributes(attrs.Without(excluded...))
	if out == nil {
		out = models.NewAttributes()
	}
	if t.Related == nil || id == "" {
		return out, nil, nil
	}

	rel, err := t.Related.Snapshot(ctx, models.EntityRef{Type: t.Name, ID: id})
	if err != nil {
		return nil, nil, fmt.Errorf("related snapshot: %w", err)
	}
	out.Merge(NormalizeAttributes(rel.Fields.Without(excluded...)))
	return out, rel.Media, nil
}

// write stamps identity, batch, actor and meta on rec and inserts it with the
// next version of the entity.
func (o *Observer) write(ctx context.Context, scope *Scope, t *EntityType, id string, rec *models.AuditRecord) error {
	rec.ID = uuid.New()
	rec.EntityType = t.Name
	rec.EntityID = id
	rec.BatchID = scope.BatchID()
	rec.RolledBackFromID = scope.RollbackOf()
	rec.CreatedAt = o.now()
	if actor := scope.Actor(); actor != nil {
		actorType, actorID := actor.Type, actor.ID
		rec.ActorType, rec.ActorID = &actorType, &actorID
	}

	rec.Meta = scope.Meta()
	if t.Signature != nil {
		sig, err := t.Signature(ctx)
		if err != nil {
			return fmt.Errorf("schema signature of %s: %w", t.Name, err)
		}
		rec.Meta[models.MetaSchemaSignature] = sig
	}

	attempts := o.opts.VersionRetries + 1
	err := retryOn(ctx, ErrVersionConflict, attempts, o.opts.RetryDelay, func(ctx context.Context) error {
		current, err := o.store.MaxVersion(ctx, t.Name, id)
		if err != nil {
			return err
		}
		rec.Version = current + 1
		err = o.store.Insert(ctx, rec)
		if errors.Is(err, ErrVersionConflict) {
			o.log.Warn("audit version conflict, retrying",
				zap.String("entity_type", t.Name),
				zap.String("entity_id", id),
				zap.Int("version", rec.Version))
		}
		return err
	})
	if errors.Is(err, ErrVersionConflict) {
		return fmt.Errorf("%w: %s %s after %d attempts", ErrTransient, t.Name, id, attempts)
	}
	return err
}

// mediaChanges returns the sorted slot names whose asset differs.
func mediaChanges(before, after map[string]*models.Asset) []string {
	slots := make(map[string]bool, len(before)+len(after))
	for s := range before {
		slots[s] = true
	}
	for s := range after {
		slots[s] = true
	}

	changed := make([]string, 0)
	for s := range slots {
		b, a := before[s], after[s]
		if b == nil && a == nil {
			continue
		}
		if b == nil || a == nil || b.ID != a.ID || !b.SameFile(a) {
			changed = append(changed, s)
		}
	}
	sort.Strings(changed)
	return changed
}
