package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/admin-platform/backend/internal/models"
)

type harness struct {
	store    *memStore
	entities *memEntities
	related  *memRelated
	registry *Registry
	observer *Observer
	engine   *Engine
	sig      string

	posts, labels, users, notes *EntityType
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		store:    newMemStore(),
		entities: newMemEntities(),
		related:  newMemRelated(),
		sig:      "sig-v1",
	}
	h.posts = &EntityType{
		Name:             "posts",
		Table:            "posts",
		Excluded:         []string{"secret"},
		Fillable:         []string{"title", "body", "secret"},
		RollbackFillable: []string{"id", "title", "body"},
		Rollbackable:     true,
	}
	h.labels = &EntityType{
		Name:         "labels",
		Table:        "labels",
		SoftDelete:   true,
		Fillable:     []string{"label"},
		Rollbackable: true,
	}
	h.users = &EntityType{
		Name:          "users",
		Table:         "users",
		SoftDelete:    true,
		Fillable:      []string{"name"},
		RelatedFields: []string{"roles"},
		Rollbackable:  true,
		Signature:     func(context.Context) (string, error) { return h.sig, nil },
		Related:       h.related,
	}
	h.notes = &EntityType{
		Name:     "notes",
		Table:    "notes",
		Fillable: []string{"text", "draft"},
		ShouldAudit: func(_ models.Event, a *models.Attributes) bool {
			draft, _ := a.Get("draft")
			return draft != true
		},
	}

	h.registry = NewRegistry("updated_at")
	h.registry.MustRegister(h.posts, h.labels, h.users, h.notes)
	h.observer = NewObserver(h.store, h.registry, opts, zap.NewNop())
	tx := &memTx{store: h.store, entities: h.entities, related: h.related}
	h.engine = NewEngine(h.registry, h.store, h.entities, h.observer, tx, zap.NewNop())
	return h
}

func testOptions() Options {
	return Options{VersionRetries: 3}
}

func actorCtx() (context.Context, *Scope) {
	s := NewScope(WithActor(&models.Actor{Type: models.ActorAdmin, ID: "admin-1"}))
	return WithScope(context.Background(), s), s
}

func (h *harness) create(t *testing.T, ctx context.Context, typ *EntityType, a *models.Attributes) *models.Row {
	t.Helper()
	m, err := h.observer.Begin(ctx, typ, models.EventCreate, "", nil)
	require.NoError(t, err)
	defer m.Release()
	row, err := h.entities.Insert(ctx, typ, a)
	require.NoError(t, err)
	_, err = m.Commit(ctx, row.ID, row.Attributes)
	require.NoError(t, err)
	return row
}

func (h *harness) update(t *testing.T, ctx context.Context, typ *EntityType, id string, a *models.Attributes) *models.AuditRecord {
	t.Helper()
	cur, err := h.entities.Find(ctx, typ, id, false)
	require.NoError(t, err)
	m, err := h.observer.Begin(ctx, typ, models.EventUpdate, id, cur.Attributes)
	require.NoError(t, err)
	defer m.Release()
	row, err := h.entities.Update(ctx, typ, id, a)
	require.NoError(t, err)
	rec, err := m.Commit(ctx, id, row.Attributes)
	require.NoError(t, err)
	return rec
}

func (h *harness) delete(t *testing.T, ctx context.Context, typ *EntityType, id string) *models.AuditRecord {
	t.Helper()
	cur, err := h.entities.Find(ctx, typ, id, false)
	require.NoError(t, err)
	m, err := h.observer.Begin(ctx, typ, models.EventDelete, id, cur.Attributes)
	require.NoError(t, err)
	defer m.Release()
	require.NoError(t, h.entities.Delete(ctx, typ, id))
	rec, err := m.Commit(ctx, id, nil)
	require.NoError(t, err)
	return rec
}

func TestObserverCreateRecordsFullSnapshot(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx, scope := actorCtx()

	row := h.create(t, ctx, h.posts, attrs("title", "A", "body", `{"b":1,"a":2}`, "updated_at", "x", "secret", "s"))

	recs := h.store.forEntity("posts", row.ID)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, models.EventCreate, rec.Event)
	assert.Equal(t, 1, rec.Version)
	assert.Nil(t, rec.Before)
	assert.Nil(t, rec.ChangedFields)
	assert.Equal(t, []string{"id", "title", "body"}, rec.After.Keys())
	body, _ := rec.After.Get("body")
	assert.Equal(t, map[string]any{"a": int64(2), "b": int64(1)}, body)
	require.NotNil(t, rec.Actor())
	assert.Equal(t, "admin-1", rec.Actor().ID)
	assert.Equal(t, scope.BatchID(), rec.BatchID)
	assert.Nil(t, rec.RolledBackFromID)
	assert.Equal(t, 0, scope.Pending())
}

func TestObserverCreateWithoutActor(t *testing.T) {
	t.Run("dropped by default", func(t *testing.T) {
		h := newHarness(t, testOptions())
		ctx := WithScope(context.Background(), NewScope())
		h.create(t, ctx, h.posts, attrs("title", "A"))
		assert.Empty(t, h.store.all())
	})

	t.Run("recorded when system creates are enabled", func(t *testing.T) {
		opts := testOptions()
		opts.RecordSystemCreates = true
		h := newHarness(t, opts)
		h.create(t, context.Background(), h.posts, attrs("title", "A"))
		recs := h.store.all()
		require.Len(t, recs, 1)
		assert.Nil(t, recs[0].ActorType)
	})
}

func TestObserverNoOpUpdateIsSuppressed(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx, _ := actorCtx()
	row := h.create(t, ctx, h.posts, attrs("title", "A", "body", `{"x":1}`))

	// same values in other representations, plus excluded churn
	rec := h.update(t, ctx, h.posts, row.ID, attrs("title", "A", "body", map[string]any{"x": 1}, "updated_at", "later", "secret", "new"))
	assert.Nil(t, rec)
	assert.Len(t, h.store.forEntity("posts", row.ID), 1)
}

func TestObserverUpdateRecordsChangedFields(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx, _ := actorCtx()
	row := h.create(t, ctx, h.posts, attrs("title", "A", "body", "x"))

	rec := h.update(t, ctx, h.posts, row.ID, attrs("body", "y", "title", "B"))
	require.NotNil(t, rec)
	assert.Equal(t, models.EventUpdate, rec.Event)
	assert.Equal(t, 2, rec.Version)
	assert.Equal(t, []string{"title", "body"}, rec.ChangedFields)
	before, _ := rec.Before.Get("title")
	after, _ := rec.After.Get("title")
	assert.Equal(t, "A", before)
	assert.Equal(t, "B", after)
}

func TestObserverDeleteListsAllFields(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx, _ := actorCtx()
	row := h.create(t, ctx, h.posts, attrs("title", "A", "secret", "s"))

	rec := h.delete(t, ctx, h.posts, row.ID)
	require.NotNil(t, rec)
	assert.Nil(t, rec.After)
	assert.Equal(t, []string{"id", "title"}, rec.ChangedFields)
	assert.Equal(t, rec.Before.Keys(), rec.ChangedFields)
}

func TestObserverVersionsAreContiguous(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx, _ := actorCtx()
	row := h.create(t, ctx, h.labels, attrs("label", "v0"))
	for _, l := range []string{"v1", "v1", "v2", "v3"} {
		h.update(t, ctx, h.labels, row.ID, attrs("label", l))
	}
	h.delete(t, ctx, h.labels, row.ID)

	var versions []int
	for _, r := range h.store.forEntity("labels", row.ID) {
		versions = append(versions, r.Version)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, versions)
}

func TestObserverGates(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx, scope := actorCtx()

	err := scope.WithoutLogging(func() error {
		h.create(t, ctx, h.posts, attrs("title", "quiet"))
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, h.store.all())

	h.create(t, ctx, h.notes, attrs("text", "t", "draft", true))
	assert.Empty(t, h.store.all(), "entity opt-out suppresses the record")

	h.create(t, ctx, h.notes, attrs("text", "t", "draft", false))
	assert.Len(t, h.store.all(), 1)
}

func TestObserverMetaAndSignature(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx, scope := actorCtx()

	var row *models.Row
	err := scope.WithMeta(map[string]any{"source": "import"}, func() error {
		row = h.create(t, ctx, h.users, attrs("name", "Ann"))
		return nil
	})
	require.NoError(t, err)

	recs := h.store.forEntity("users", row.ID)
	require.Len(t, recs, 1)
	assert.Equal(t, "import", recs[0].Meta["source"])
	assert.Equal(t, "sig-v1", recs[0].SchemaSignature())
	roles, ok := recs[0].After.Get("roles")
	assert.True(t, ok, "related fields are merged into the snapshot")
	assert.Equal(t, []any{}, roles)
}

func TestObserverSharesBatchAcrossRecords(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx, _ := actorCtx()
	a := h.create(t, ctx, h.posts, attrs("title", "A"))
	b := h.create(t, ctx, h.labels, attrs("label", "L"))

	ra := h.store.forEntity("posts", a.ID)[0]
	rb := h.store.forEntity("labels", b.ID)[0]
	assert.Equal(t, ra.BatchID, rb.BatchID)

	ctx2, _ := actorCtx()
	c := h.create(t, ctx2, h.posts, attrs("title", "C"))
	assert.NotEqual(t, ra.BatchID, h.store.forEntity("posts", c.ID)[0].BatchID)
}

func TestObserverRetriesVersionConflicts(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx, _ := actorCtx()
	h.store.conflicts = 2

	row := h.create(t, ctx, h.posts, attrs("title", "A"))
	recs := h.store.forEntity("posts", row.ID)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].Version)
	assert.Equal(t, 3, h.store.inserts)
}

func TestObserverConflictExhaustionIsTransient(t *testing.T) {
	h := newHarness(t, Options{VersionRetries: 2})
	ctx, scope := actorCtx()
	h.store.conflicts = 10

	m, err := h.observer.Begin(ctx, h.posts, models.EventCreate, "", nil)
	require.NoError(t, err)
	row, err := h.entities.Insert(ctx, h.posts, attrs("title", "A"))
	require.NoError(t, err)

	_, err = m.Commit(ctx, row.ID, row.Attributes)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 3, h.store.inserts)
	assert.Equal(t, 0, scope.Pending(), "commit releases the held snapshot on failure")
}

func TestObserverReleaseWithoutCommit(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx, scope := actorCtx()
	row := h.create(t, ctx, h.posts, attrs("title", "A"))

	cur, _ := h.entities.Find(ctx, h.posts, row.ID, false)
	func() {
		m, err := h.observer.Begin(ctx, h.posts, models.EventUpdate, row.ID, cur.Attributes)
		require.NoError(t, err)
		defer m.Release()
		assert.Equal(t, 1, scope.Pending())
	}()
	assert.Equal(t, 0, scope.Pending())
}

func TestObserverRejectsUnknownEvent(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx, _ := actorCtx()
	_, err := h.observer.Begin(ctx, h.posts, models.Event("force_delete"), "1", attrs())
	assert.True(t, errors.Is(err, ErrUnsupportedEvent))
}

func TestMediaChanges(t *testing.T) {
	a := &models.Asset{ID: "1", FileName: "a.png", MimeType: "image/png", Size: 1}
	b := &models.Asset{ID: "2", FileName: "b.png", MimeType: "image/png", Size: 2}

	assert.Equal(t, []string{}, mediaChanges(nil, nil))
	assert.Equal(t, []string{}, mediaChanges(map[string]*models.Asset{"avatar": nil}, nil))
	assert.Equal(t, []string{"avatar"}, mediaChanges(nil, map[string]*models.Asset{"avatar": a}))
	assert.Equal(t, []string{"avatar", "cover"}, mediaChanges(
		map[string]*models.Asset{"avatar": a, "cover": a},
		map[string]*models.Asset{"avatar": b, "cover": nil},
	))
	assert.Equal(t, []string{}, mediaChanges(map[string]*models.Asset{"avatar": a}, map[string]*models.Asset{"avatar": a}))
}
