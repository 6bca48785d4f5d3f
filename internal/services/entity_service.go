package services

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/admin-platform/backend/internal/audit"
	"github.com/admin-platform/backend/internal/models"
)

// EntityStore is the row gateway plus listing.
type EntityStore interface {
	audit.EntityStore
	List(ctx context.Context, t *audit.EntityType, limit, offset int) ([]models.Row, error)
}

// EntityService performs observed writes on registered entity types. Every
// write runs in its own transaction together with its audit record.
type EntityService struct {
	registry *audit.Registry
	store    EntityStore
	observer *audit.Observer
	tx       audit.Transactor
	log      *zap.Logger
}

func NewEntityService(registry *audit.Registry, store EntityStore, observer *audit.Observer, tx audit.Transactor, log *zap.Logger) *EntityService {
	return &EntityService{
		registry: registry,
		store:    store,
		observer: observer,
		tx:       tx,
		log:      log,
	}
}

func (s *EntityService) lookup(name string) (*audit.EntityType, error) {
	t, ok := s.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return t, nil
}

func (s *EntityService) Get(ctx context.Context, typeName, id string) (*models.Row, error) {
	t, err := s.lookup(typeName)
	if err != nil {
		return nil, err
	}
	return s.store.Find(ctx, t, id, false)
}

func (s *EntityService) List(ctx context.Context, typeName string, limit, offset int) ([]models.Row, error) {
	t, err := s.lookup(typeName)
	if err != nil {
		return nil, err
	}
	return s.store.List(ctx, t, limit, offset)
}

func (s *EntityService) Create(ctx context.Context, typeName string, input *models.Attributes) (*models.Row, error) {
	t, err := s.lookup(typeName)
	if err != nil {
		return nil, err
	}
	fields, related, err := split(t, input)
	if err != nil {
		return nil, err
	}

	var row *models.Row
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		m, err := s.observer.Begin(ctx, t, models.EventCreate, "", nil)
		if err != nil {
			return err
		}
		defer m.Release()

		if row, err = s.store.Insert(ctx, t, fields); err != nil {
			return err
		}
		if err := s.applyRelated(ctx, t, row.ID, related); err != nil {
			return err
		}
		_, err = m.Commit(ctx, row.ID, row.Attributes)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("entity created", zap.String("entity_type", t.Name), zap.String("entity_id", row.ID))
	return row, nil
}

func (s *EntityService) Update(ctx context.Context, typeName, id string, input *models.Attributes) (*models.Row, error) {
	t, err := s.lookup(typeName)
	if err != nil {
		return nil, err
	}
	fields, related, err := split(t, input)
	if err != nil {
		return nil, err
	}

	var row *models.Row
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.store.Find(ctx, t, id, false)
		if err != nil {
			return err
		}
		m, err := s.observer.Begin(ctx, t, models.EventUpdate, id, current.Attributes)
		if err != nil {
			return err
		}
		defer m.Release()

		if row, err = s.store.Update(ctx, t, id, fields); err != nil {
			return err
		}
		if err := s.applyRelated(ctx, t, id, related); err != nil {
			return err
		}
		_, err = m.Commit(ctx, id, row.Attributes)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *EntityService) Delete(ctx context.Context, typeName, id string) error {
	t, err := s.lookup(typeName)
	if err != nil {
		return err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.store.Find(ctx, t, id, false)
		if err != nil {
			return err
		}
		m, err := s.observer.Begin(ctx, t, models.EventDelete, id, current.Attributes)
		if err != nil {
			return err
		}
		defer m.Release()

		if err := s.store.Delete(ctx, t, id); err != nil {
			return err
		}
		_, err = m.Commit(ctx, id, nil)
		return err
	})
	if err != nil {
		return err
	}
	s.log.Info("entity deleted", zap.String("entity_type", t.Name), zap.String("entity_id", id))
	return nil
}

func (s *EntityService) Restore(ctx context.Context, typeName, id string) (*models.Row, error) {
	t, err := s.lookup(typeName)
	if err != nil {
		return nil, err
	}
	if !t.SoftDelete {
		return nil, fmt.Errorf("%w: %s does not support restore", ErrInvalidInput, t.Name)
	}

	var row *models.Row
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.store.Find(ctx, t, id, true)
		if err != nil {
			return err
		}
		if !current.Trashed {
			return fmt.Errorf("%w: %s %s", ErrNotTrashed, t.Name, id)
		}
		m, err := s.observer.Begin(ctx, t, models.EventRestore, id, current.Attributes)
		if err != nil {
			return err
		}
		defer m.Release()

		if row, err = s.store.Restore(ctx, t, id); err != nil {
			return err
		}
		_, err = m.Commit(ctx, id, row.Attributes)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *EntityService) applyRelated(ctx context.Context, t *audit.EntityType, id string, related *models.Attributes) error {
	if related.Len() == 0 || t.Related == nil {
		return nil
	}
	ref := models.EntityRef{Type: t.Name, ID: id}
	return t.Related.Apply(ctx, ref, related, nil)
}

// split separates row attributes from related ones and rejects everything
// the type does not accept.
func split(t *audit.EntityType, input *models.Attributes) (*models.Attributes, *models.Attributes, error) {
	fields := input.Only(t.Fillable...)
	related := input.Only(t.RelatedFields...)

	var unknown []string
	for _, k := range input.Keys() {
		if !fields.Has(k) && !related.Has(k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, nil, fmt.Errorf("%w: %s does not accept %v", ErrInvalidInput, t.Name, unknown)
	}
	return fields, related, nil
}
