package storage

import "errors"

// Common errors returned by storage implementations.
var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidUser is returned when a user is missing its email.
	ErrInvalidUser = errors.New("user email is required")
)
