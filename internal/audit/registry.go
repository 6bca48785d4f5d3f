package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/admin-platform/backend/internal/models"
)

// SignatureFunc returns the current schema signature of an entity type.
type SignatureFunc func(ctx context.Context) (string, error)

// EntityType declares how one kind of entity is audited and rolled back.
// Optional capabilities are plain fields; a zero value means "not supported".
type EntityType struct {
	Name       string
	Table      string
	KeyColumn  string
	SoftDelete bool
	// Timestamps marks tables whose updated_at is maintained on every write.
	Timestamps bool

	// Excluded attributes never appear in snapshots of this type.
	Excluded []string
	// Fillable lists attributes written by normal mutations.
	Fillable []string
	// RelatedFields are accepted on writes and routed to Related.Apply.
	RelatedFields []string
	// RollbackFillable lists attributes a rollback may write back. Empty
	// falls back to Fillable.
	RollbackFillable []string
	// Rollbackable puts the type on the rollback allow-list.
	Rollbackable bool

	// ShouldAudit can veto auditing a given event for an entity.
	ShouldAudit func(event models.Event, attrs *models.Attributes) bool
	Signature   SignatureFunc
	Related     RelatedState
}

func (t *EntityType) key() string {
	if t.KeyColumn == "" {
		return "id"
	}
	return t.KeyColumn
}

// KeyName is the identity column of the type.
func (t *EntityType) KeyName() string {
	return t.key()
}

// Writable returns the attributes a rollback may force-write.
func (t *EntityType) Writable() []string {
	if len(t.RollbackFillable) > 0 {
		return t.RollbackFillable
	}
	return t.Fillable
}

func (t *EntityType) audits(event models.Event, attrs *models.Attributes) bool {
	if t.ShouldAudit == nil {
		return true
	}
	return t.ShouldAudit(event, attrs)
}

// Registry maps entity type names to their declarations.
type Registry struct {
	mu             sync.RWMutex
	types          map[string]*EntityType
	globalExcluded []string
	allowed        map[string]bool
}

func NewRegistry(globalExcluded ...string) *Registry {
	return &Registry{
		types:          make(map[string]*EntityType),
		globalExcluded: globalExcluded,
	}
}

func (r *Registry) Register(t *EntityType) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("entity type must have a name")
	}
	if t.Table == "" {
		return fmt.Errorf("entity type %q must have a table", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.types[t.Name]; dup {
		return fmt.Errorf("entity type %q already registered", t.Name)
	}
	r.types[t.Name] = t
	return nil
}

// MustRegister panics on registration errors; for static setup code.
func (r *Registry) MustRegister(types ...*EntityType) {
	for _, t := range types {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Restrict narrows the rollback allow-list to names. An empty list keeps
// every type that declares itself Rollbackable.
func (r *Registry) Restrict(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(names) == 0 {
		r.allowed = nil
		return
	}
	r.allowed = make(map[string]bool, len(names))
	for _, n := range names {
		r.allowed[n] = true
	}
}

func (r *Registry) Lookup(name string) (*EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Rollbackable returns the type if it is on the rollback allow-list.
func (r *Registry) Rollbackable(name string) (*EntityType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	if !ok || !t.Rollbackable {
		return nil, fmt.Errorf("%w: %s", ErrUnauditedType, name)
	}
	if r.allowed != nil && !r.allowed[name] {
		return nil, fmt.Errorf("%w: %s", ErrUnauditedType, name)
	}
	return t, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// excluded returns the attributes stripped from snapshots of t.
func (r *Registry) excluded(t *EntityType) []string {
	out := make([]string, 0, len(r.globalExcluded)+len(t.Excluded))
	out = append(out, r.globalExcluded...)
	return append(out, t.Excluded...)
}
