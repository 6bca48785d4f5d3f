package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/admin-platform/backend/internal/audit"
	"github.com/admin-platform/backend/internal/config"
	"github.com/admin-platform/backend/internal/events"
	"github.com/admin-platform/backend/internal/models"
)

// List modes
const (
	ModeLatest    = "latest"
	ModePaginated = "paginated"
)

type ListParams struct {
	EntityType string
	EntityID   string
	Event      string
	Mode       string
	Page       int
	PerPage    int
}

// RecordView is an audit record with its actor resolved for display.
type RecordView struct {
	*models.AuditRecord
	ResolvedActor *models.ActorView `json:"actor,omitempty"`
}

type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

type AuditService struct {
	records   audit.Store
	engine    *audit.Engine
	users     UserLookup
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewAuditService(
	records audit.Store,
	engine *audit.Engine,
	users UserLookup,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *AuditService {
	return &AuditService{
		records:   records,
		engine:    engine,
		users:     users,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

// List returns one page of records. Latest mode always serves the first page
// at the fixed latest size; paginated mode caps the page size.
func (s *AuditService) List(ctx context.Context, p ListParams) (*models.Page[models.AuditRecord], error) {
	f, err := s.filter(p)
	if err != nil {
		return nil, err
	}
	return s.records.List(ctx, f)
}

func (s *AuditService) filter(p ListParams) (models.AuditFilter, error) {
	f := models.AuditFilter{EntityType: p.EntityType, EntityID: p.EntityID}
	if p.Event != "" {
		ev, err := models.ParseEvent(p.Event)
		if err != nil {
			return f, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		f.Event = &ev
	}

	switch p.Mode {
	case "", ModeLatest:
		f.Page, f.PerPage = 1, s.cfg.AuditLatestPageSize
	case ModePaginated:
		f.Page, f.PerPage = max(p.Page, 1), p.PerPage
		if f.PerPage <= 0 {
			f.PerPage = s.cfg.AuditLatestPageSize
		}
		f.PerPage = min(f.PerPage, s.cfg.AuditMaxPageSize)
	default:
		return f, fmt.Errorf("%w: unknown list mode %q", ErrInvalidInput, p.Mode)
	}
	return f, nil
}

func (s *AuditService) Get(ctx context.Context, id uuid.UUID) (*RecordView, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &RecordView{AuditRecord: rec}
	if actor := rec.Actor(); actor != nil {
		view.ResolvedActor = s.resolveActor(ctx, actor)
	}
	return view, nil
}

// resolveActor looks the actor up for display. Actors that no longer exist
// are shown by type and id only.
func (s *AuditService) resolveActor(ctx context.Context, actor *models.Actor) *models.ActorView {
	view := &models.ActorView{Type: actor.Type, ID: actor.ID}
	if actor.Type == models.ActorSystem {
		return view
	}
	u, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		if !errors.Is(err, audit.ErrNotFound) {
			s.log.Warn("failed to resolve audit actor", zap.String("actor_id", actor.ID), zap.Error(err))
		}
		return view
	}
	view.Name, view.Email = &u.Name, &u.Email
	return view
}

// Rollback restores the entity recorded by audit record id and announces the
// rollback once it is committed.
func (s *AuditService) Rollback(ctx context.Context, id uuid.UUID) (*audit.Result, error) {
	res, err := s.engine.RollbackByID(ctx, id)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"audit_id":       res.RolledBackFrom.String(),
		"entity_type":    res.EntityType,
		"entity_id":      res.EntityID,
		"target_version": res.TargetVersion,
	}
	if scope := audit.ScopeFrom(ctx); scope != nil {
		payload["batch_id"] = scope.BatchID()
		if a := scope.Actor(); a != nil {
			payload["actor_type"], payload["actor_id"] = a.Type, a.ID
		}
	}
	if err := s.publisher.Publish(ctx, s.cfg.AuditEventsChannel, events.Event{
		Type:    events.EventAuditRolledBack,
		Payload: payload,
	}); err != nil {
		s.log.Warn("failed to publish rollback event", zap.String("audit_id", id.String()), zap.Error(err))
	}
	return res, nil
}
