package models

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrUnsupportedEntityType = errors.New("unsupported entity type")
	ErrMissingScope          = errors.New("owner and document scope required")
)
