package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrUnknownEvent   = errors.New("unknown event kind")
	ErrInvalidPayload = errors.New("invalid event payload")
	ErrOutcomeRange   = errors.New("outcome index out of range")
	ErrConflict       = errors.New("data integrity conflict")
)
