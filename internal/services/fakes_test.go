package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/admin-platform/backend/internal/audit"
	"github.com/admin-platform/backend/internal/events"
	"github.com/admin-platform/backend/internal/models"
)

type recordStore struct {
	mu      sync.Mutex
	records []*models.AuditRecord
}

func (s *recordStore) MaxVersion(_ context.Context, entityType, entityID string) (int, error) {
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

func (s *recordStore) Insert(_ context.Context, rec *models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *rec
	s.records = append(s.records, &c)
	return nil
}

func (s *recordStore) Get(_ context.Context, id uuid.UUID) (*models.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			c := *r
			return &c, nil
		}
	}
	return nil, audit.ErrNotFound
}

func (s *recordStore) List(_ context.Context, f models.AuditFilter) (*models.Page[models.AuditRecord], error) {
	return &models.Page[models.AuditRecord]{Items: []models.AuditRecord{}, Page: f.Page, PerPage: f.PerPage}, nil
}

func (s *recordStore) FindBatchRecord(context.Context, string, string, models.Event, string) (*models.AuditRecord, error) {
	return nil, audit.ErrNotFound
}

func (s *recordStore) Amend(context.Context, *models.AuditRecord) error {
	return nil
}

func (s *recordStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *recordStore) last() *models.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[len(s.records)-1]
}

type rowStore struct {
	mu     sync.Mutex
	rows   map[string]*models.Attributes
	trash  map[string]bool
	nextID int
}

func newRowStore() *rowStore {
	return &rowStore{rows: map[string]*models.Attributes{}, trash: map[string]bool{}}
}

func (s *rowStore) row(t *audit.EntityType, id string) *models.Row {
	return &models.Row{Type: t.Name, ID: id, Attributes: s.rows[id].Clone(), Trashed: s.trash[id]}
}

func (s *rowStore) Find(_ context.Context, t *audit.EntityType, id string, withTrashed bool) (*models.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok || (s.trash[id] && !withTrashed) {
		return nil, fmt.Errorf("%w: %s %s", audit.ErrNotFound, t.Name, id)
	}
	return s.row(t, id), nil
}

func (s *rowStore) List(_ context.Context, t *audit.EntityType, _, _ int) ([]models.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Row{}
	for id := range s.rows {
		if !s.trash[id] {
			out = append(out, *s.row(t, id))
		}
	}
	return out, nil
}

func (s *rowStore) Insert(_ context.Context, t *audit.EntityType, attrs *models.Attributes) (*models.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := strconv.Itoa(s.nextID)
	a := models.NewAttributes()
	a.Set("id", id)
	a.Merge(attrs)
	s.rows[id] = a
	return s.row(t, id), nil
}

func (s *rowStore) Update(_ context.Context, t *audit.EntityType, id string, attrs *models.Attributes) (*models.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id].Merge(attrs)
	return s.row(t, id), nil
}

func (s *rowStore) Delete(_ context.Context, t *audit.EntityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.SoftDelete {
		s.trash[id] = true
		return nil
	}
	delete(s.rows, id)
	return nil
}

func (s *rowStore) Restore(_ context.Context, t *audit.EntityType, id string) (*models.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trash[id] = false
	return s.row(t, id), nil
}

// directTx runs fn without a transaction.
type directTx struct{}

func (directTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type tagRelated struct {
	tags map[string][]string
}

func (r *tagRelated) Snapshot(_ context.Context, ref models.EntityRef) (audit.RelatedSnapshot, error) {
	f := models.NewAttributes()
	f.Set("tags", append([]string{}, r.tags[ref.ID]...))
	return audit.RelatedSnapshot{Fields: f}, nil
}

func (r *tagRelated) Apply(_ context.Context, ref models.EntityRef, target *models.Attributes, _ map[string]*models.Asset) error {
	raw, ok := target.Get("tags")
	if !ok {
		return nil
	}
	var tags []string
	for _, v := range raw.([]any) {
		tags = append(tags, v.(string))
	}
	r.tags[ref.ID] = tags
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

type userLookup map[string]*models.User

func (u userLookup) GetByID(_ context.Context, id string) (*models.User, error) {
	if user, ok := u[id]; ok {
		return user, nil
	}
	return nil, audit.ErrNotFound
}
