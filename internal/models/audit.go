package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the lifecycle event an audit record describes.
type Event string

const (
	EventCreate  Event = "create"
	EventUpdate  Event = "update"
	EventDelete  Event = "delete"
	EventRestore Event = "restore"
)

var validEvents = map[Event]bool{
	EventCreate:  true,
	EventUpdate:  true,
	EventDelete:  true,
	EventRestore: true,
}

func ParseEvent(s string) (Event, error) {
	e := Event(s)
	if !validEvents[e] {
		return "", fmt.Errorf("unknown audit event %q", s)
	}
	return e, nil
}

func (e Event) Valid() bool {
	return validEvents[e]
}

// Actor types
const (
	ActorUser   = "user"
	ActorAdmin  = "admin"
	ActorSystem = "system"
)

type Actor struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// AuditRecord is one versioned change of an audited entity.
type AuditRecord struct {
	ID               uuid.UUID         `json:"id"`
	EntityType       string            `json:"entity_type"`
	EntityID         string            `json:"entity_id"`
	Event            Event             `json:"event"`
	Version          int               `json:"version"`
	Before           *Attributes       `json:"before"`
	After            *Attributes       `json:"after"`
	MediaBefore      map[string]*Asset `json:"media_before"`
	MediaAfter       map[string]*Asset `json:"media_after"`
	ChangedFields    []string          `json:"changed_fields"`
	ActorType        *string           `json:"actor_type"`
	ActorID          *string           `json:"actor_id"`
	BatchID          string            `json:"batch_id"`
	RolledBackFromID *uuid.UUID        `json:"rolled_back_from_id,omitempty"`
	Meta             map[string]any    `json:"meta"`
	CreatedAt        time.Time         `json:"created_at"`
}

func (r *AuditRecord) Actor() *Actor {
	if r.ActorType == nil || r.ActorID == nil {
		return nil
	}
	return &Actor{Type: *r.ActorType, ID: *r.ActorID}
}

// SchemaSignature returns the signature stored when the record was written.
func (r *AuditRecord) SchemaSignature() string {
	if r.Meta == nil {
		return ""
	}
	s, _ := r.Meta[MetaSchemaSignature].(string)
	return s
}

// Well-known meta keys
const (
	MetaSchemaSignature       = "schema_signature"
	MetaRollback              = "rollback"
	MetaRollbackTargetVersion = "rollback_target_version"
)

// AuditFilter selects audit records for listing.
type AuditFilter struct {
	EntityType string
	EntityID   string
	Event      *Event
	Page       int
	PerPage    int
}

type Page[T any] struct {
	Items   []T `json:"items"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}
