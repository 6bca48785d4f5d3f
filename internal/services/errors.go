package services

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnknownType  = errors.New("unknown entity type")
	ErrNotTrashed   = errors.New("entity is not deleted")
)
