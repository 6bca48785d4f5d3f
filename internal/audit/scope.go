package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/admin-platform/backend/internal/models"
)

// Scope is the audit state of one logical operation (a request or a job).
// It travels in the context.Context of every call on the mutation and rollback
// paths. Overrides are scoped: each With* helper restores the previous value
// on every exit path, panics included.
type Scope struct {
	mu          sync.Mutex
	enabled     bool
	batchID     string
	correlation string
	meta        map[string]any
	actor       *models.Actor
	rollbackOf  *uuid.UUID

	nextToken Token
	pending   map[Token]*heldSnapshot
}

// Token identifies one in-flight mutation's held before-snapshot.
type Token uint64

type heldSnapshot struct {
	attrs *models.Attributes
	media map[string]*models.Asset
}

type ScopeOption func(*Scope)

// WithCorrelationID seeds the batch id from an inbound correlation header.
func WithCorrelationID(id string) ScopeOption {
	return func(s *Scope) { s.correlation = id }
}

func WithActor(actor *models.Actor) ScopeOption {
	return func(s *Scope) { s.actor = actor }
}

func WithEnabled(enabled bool) ScopeOption {
	return func(s *Scope) { s.enabled = enabled }
}

func NewScope(opts ...ScopeOption) *Scope {
	s := &Scope{
		enabled: true,
		meta:    make(map[string]any),
		pending: make(map[Token]*heldSnapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type scopeKey struct{}

func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope carried by ctx, or nil.
func ScopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// EnsureScope returns ctx unchanged when it already carries a scope, otherwise
// a derived context with a fresh one.
func EnsureScope(ctx context.Context) (context.Context, *Scope) {
	if s := ScopeFrom(ctx); s != nil {
		return ctx, s
	}
	s := NewScope()
	return WithScope(ctx, s), s
}

func (s *Scope) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// BatchID resolves the batch id once and keeps it for the scope's lifetime.
func (s *Scope) BatchID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batchID == "" {
		if s.correlation != "" {
			s.batchID = s.correlation
		} else {
			s.batchID = uuid.NewString()
		}
	}
	return s.batchID
}

func (s *Scope) Actor() *models.Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actor
}

// Meta returns a copy of the accumulated meta.
func (s *Scope) Meta() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.meta))
	for k, v := range s.meta {
		out[k] = v
	}
	return out
}

func (s *Scope) RollbackOf() *uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbackOf
}

// WithoutLogging runs fn with audit logging disabled.
func (s *Scope) WithoutLogging(fn func() error) error {
	s.mu.Lock()
	prev := s.enabled
	s.enabled = false
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.enabled = prev
		s.mu.Unlock()
	}()
	return fn()
}

// WithMeta runs fn with meta layered on top of the current meta.
func (s *Scope) WithMeta(meta map[string]any, fn func() error) error {
	s.mu.Lock()
	prev := s.meta
	next := make(map[string]any, len(prev)+len(meta))
	for k, v := range prev {
		next[k] = v
	}
	for k, v := range meta {
		next[k] = v
	}
	s.meta = next
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.meta = prev
		s.mu.Unlock()
	}()
	return fn()
}

// WithRollbackOf marks every record written by fn as produced by rolling back id.
func (s *Scope) WithRollbackOf(id uuid.UUID, fn func() error) error {
	s.mu.Lock()
	prev := s.rollbackOf
	s.rollbackOf = &id
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.rollbackOf = prev
		s.mu.Unlock()
	}()
	return fn()
}

// Pending reports how many before-snapshots are currently held.
func (s *Scope) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scope) hold(snap *heldSnapshot) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextToken++
	s.pending[s.nextToken] = snap
	return s.nextToken
}

func (s *Scope) held(t Token) (*heldSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.pending[t]
	return snap, ok
}

func (s *Scope) release(t Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, t)
}
