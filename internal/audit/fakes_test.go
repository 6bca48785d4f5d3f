package audit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/admin-platform/backend/internal/models"
)

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	records []*models.AuditRecord
	// conflicts makes the next n inserts fail as lost version races.
	conflicts int
	inserts   int
}

func newMemStore() *memStore { return &memStore{} }

func (s *memStore) MaxVersion(_ context.Context, entityType, entityID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := 0
	for _, r := range s.records {
		if r.EntityType == entityType && r.EntityID == entityID && r.Version > v {
			v = r.Version
		}
	}
	return v, nil
}

func (s *memStore) Insert(_ context.Context, rec *models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.conflicts > 0 {
		s.conflicts--
		return ErrVersionConflict
	}
	for _, r := range s.records {
		if r.EntityType == rec.EntityType && r.EntityID == rec.EntityID && r.Version == rec.Version {
			return ErrVersionConflict
		}
	}
	s.records = append(s.records, cloneRecord(rec))
	return nil
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (*models.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			return cloneRecord(r), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) List(_ context.Context, f models.AuditFilter) (*models.Page[models.AuditRecord], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditRecord
	for _, r := range s.records {
		if (f.EntityType == "" || r.EntityType == f.EntityType) &&
			(f.EntityID == "" || r.EntityID == f.EntityID) &&
			(f.Event == nil || r.Event == *f.Event) {
			out = append(out, *cloneRecord(r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return &models.Page[models.AuditRecord]{Items: out, Total: len(out), Page: f.Page, PerPage: f.PerPage}, nil
}

func (s *memStore) FindBatchRecord(_ context.Context, entityType, entityID string, event models.Event, batchID string) (*models.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if r.EntityType == entityType && r.EntityID == entityID && r.Event == event && r.BatchID == batchID {
			return cloneRecord(r), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) Amend(_ context.Context, rec *models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.records {
		if r.ID == rec.ID {
			s.records[i] = cloneRecord(rec)
			return nil
		}
	}
	return ErrNotFound
}

func (s *memStore) all() []*models.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.AuditRecord, len(s.records))
	for i, r := range s.records {
		out[i] = cloneRecord(r)
	}
	return out
}

func (s *memStore) forEntity(entityType, entityID string) []*models.AuditRecord {
	var out []*models.AuditRecord
	for _, r := range s.all() {
		if r.EntityType == entityType && r.EntityID == entityID {
			out = append(out, r)
		}
	}
	return out
}

func (s *memStore) snapshot() []*models.AuditRecord { return s.all() }

func (s *memStore) restoreSnapshot(records []*models.AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
}

func cloneRecord(r *models.AuditRecord) *models.AuditRecord {
	c := *r
	c.Before = r.Before.Clone()
	c.After = r.After.Clone()
	c.MediaBefore = cloneMedia(r.MediaBefore)
	c.MediaAfter = cloneMedia(r.MediaAfter)
	if r.ChangedFields != nil {
		c.ChangedFields = append([]string{}, r.ChangedFields...)
	}
	if r.Meta != nil {
		c.Meta = make(map[string]any, len(r.Meta))
		for k, v := range r.Meta {
			c.Meta[k] = v
		}
	}
	return &c
}

func cloneMedia(m map[string]*models.Asset) map[string]*models.Asset {
	if m == nil {
		return nil
	}
	out := make(map[string]*models.Asset, len(m))
	for k, v := range m {
		if v != nil {
			a := *v
			out[k] = &a
		} else {
			out[k] = nil
		}
	}
	return out
}

type memRow struct {
	attrs   *models.Attributes
	trashed bool
}

// memEntities is an in-memory EntityStore keyed by type name and id.
type memEntities struct {
	mu     sync.Mutex
	rows   map[string]map[string]*memRow
	nextID int
	// failUpdate, when set, is returned by every Update.
	failUpdate error
}

func newMemEntities() *memEntities {
	return &memEntities{rows: map[string]map[string]*memRow{}}
}

func (m *memEntities) table(t *EntityType) map[string]*memRow {
	if m.rows[t.Name] == nil {
		m.rows[t.Name] = map[string]*memRow{}
	}
	return m.rows[t.Name]
}

func (m *memEntities) toRow(t *EntityType, id string, r *memRow) *models.Row {
	return &models.Row{Type: t.Name, ID: id, Attributes: r.attrs.Clone(), Trashed: r.trashed}
}

func (m *memEntities) Find(_ context.Context, t *EntityType, id string, withTrashed bool) (*models.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.table(t)[id]
	if !ok || (r.trashed && !withTrashed) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, t.Name, id)
	}
	return m.toRow(t, id, r), nil
}

func (m *memEntities) Insert(_ context.Context, t *EntityType, attrs *models.Attributes) (*models.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := models.NewAttributes()
	id := ""
	if v, ok := attrs.Get(t.KeyName()); ok && v != nil {
		id = fmt.Sprint(v)
	} else {
		m.nextID++
		id = strconv.Itoa(m.nextID)
	}
	if _, dup := m.table(t)[id]; dup {
		return nil, fmt.Errorf("duplicate key %s", id)
	}
	a.Set(t.KeyName(), id)
	for _, k := range attrs.Keys() {
		v, _ := attrs.Get(k)
		if k != t.KeyName() {
			a.Set(k, v)
		}
	}
	if t.SoftDelete && !a.Has("deleted_at") {
		a.Set("deleted_at", nil)
	}
	r := &memRow{attrs: a}
	m.table(t)[id] = r
	return m.toRow(t, id, r), nil
}

func (m *memEntities) Update(_ context.Context, t *EntityType, id string, attrs *models.Attributes) (*models.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate != nil {
		return nil, m.failUpdate
	}
	r, ok := m.table(t)[id]
	if !ok {
		return nil, ErrNotFound
	}
	for _, k := range attrs.Keys() {
		if k == t.KeyName() {
			continue
		}
		v, _ := attrs.Get(k)
		r.attrs.Set(k, v)
	}
	return m.toRow(t, id, r), nil
}

func (m *memEntities) Delete(_ context.Context, t *EntityType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.table(t)[id]
	if !ok || r.trashed {
		return ErrNotFound
	}
	if t.SoftDelete {
		r.trashed = true
		r.attrs.Set("deleted_at", "2024-05-01T10:00:00.000000Z")
		return nil
	}
	delete(m.table(t), id)
	return nil
}

func (m *memEntities) Restore(_ context.Context, t *EntityType, id string) (*models.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.table(t)[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.trashed = false
	r.attrs.Set("deleted_at", nil)
	return m.toRow(t, id, r), nil
}

func (m *memEntities) snapshot() map[string]map[string]*memRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]map[string]*memRow, len(m.rows))
	for typ, rows := range m.rows {
		out[typ] = make(map[string]*memRow, len(rows))
		for id, r := range rows {
			out[typ][id] = &memRow{attrs: r.attrs.Clone(), trashed: r.trashed}
		}
	}
	return out
}

func (m *memEntities) restoreSnapshot(rows map[string]map[string]*memRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = rows
}

// memTx makes InTx atomic over the in-memory stores by restoring their
// contents when fn fails.
type memTx struct {
	store    *memStore
	entities *memEntities
	related  *memRelated
}

func (tx *memTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	records := tx.store.snapshot()
	rows := tx.entities.snapshot()
	var rel map[string]relState
	if tx.related != nil {
		rel = tx.related.snapshot()
	}

	if err := fn(ctx); err != nil {
		tx.store.restoreSnapshot(records)
		tx.entities.restoreSnapshot(rows)
		if tx.related != nil {
			tx.related.restoreSnapshot(rel)
		}
		return err
	}
	return nil
}

type relState struct {
	roles  []string
	avatar *models.Asset
}

// memRelated keeps roles and an avatar per entity id.
type memRelated struct {
	mu       sync.Mutex
	state    map[string]relState
	failWith error
}

func newMemRelated() *memRelated {
	return &memRelated{state: map[string]relState{}}
}

func (r *memRelated) set(id string, roles []string, avatar *models.Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[id] = relState{roles: roles, avatar: avatar}
}

func (r *memRelated) get(id string) relState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state[id]
}

func (r *memRelated) Snapshot(_ context.Context, ref models.EntityRef) (RelatedSnapshot, error) {
	st := r.get(ref.ID)
	roles := append([]string{}, st.roles...)
	sort.Strings(roles)
	fields := models.NewAttributes()
	fields.Set("roles", roles)
	return RelatedSnapshot{Fields: fields, Media: map[string]*models.Asset{"avatar": st.avatar}}, nil
}

func (r *memRelated) Apply(_ context.Context, ref models.EntityRef, target *models.Attributes, media map[string]*models.Asset) error {
	if r.failWith != nil {
		return r.failWith
	}
	st := r.get(ref.ID)
	if raw, ok := target.Get("roles"); ok {
		st.roles = nil
		switch v := raw.(type) {
		case []string:
			st.roles = append(st.roles, v...)
		case []any:
			for _, c := range v {
				st.roles = append(st.roles, c.(string))
			}
		}
	}
	if media != nil {
		st.avatar = media["avatar"]
	}
	r.set(ref.ID, st.roles, st.avatar)
	return nil
}

func (r *memRelated) snapshot() map[string]relState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]relState, len(r.state))
	for k, v := range r.state {
		out[k] = v
	}
	return out
}

func (r *memRelated) restoreSnapshot(s map[string]relState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}
