package models

import "errors"

var (
	ErrNotFound         = errors.New("document not found")
	ErrStoreUnavailable = errors.New("document store unavailable")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrInvalidPriority  = errors.New("invalid priority")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrMissingReporter  = errors.New("complaint has no reporter")
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNoSession          = errors.New("no active session")
	ErrNotAuthorized      = errors.New("identity is not a registered authority")
)

var (
	// ErrValidation marks malformed or incomplete input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a write that collides with existing state.
	ErrConflict = errors.New("conflict")
)
