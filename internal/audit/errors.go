package audit

import "errors"

var (
	// ErrUnauditedType is returned when rolling back an entity type that is not
	// on the rollback allow-list.
	ErrUnauditedType = errors.New("entity type is not rollback-eligible")
	// ErrSchemaDrift is returned when the record's schema signature no longer
	// matches the entity type's current signature.
	ErrSchemaDrift       = errors.New("schema changed since the audit record was written")
	ErrUnsupportedEvent  = errors.New("unsupported audit event")
	ErrNothingToRollback = errors.New("nothing to roll back to or from")
	ErrNotFound          = errors.New("not found")
	// ErrVersionConflict signals a lost race on (entity_type, entity_id, version).
	ErrVersionConflict = errors.New("audit version conflict")
	// ErrTransient is returned once version-conflict retries are exhausted.
	ErrTransient = errors.New("transient audit failure, retry the operation")
)
