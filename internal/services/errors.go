package services

import "errors"

var (
	// ErrNotFound covers both absent notifications and ones owned by someone else
	ErrNotFound = errors.New("notification not found")
	// ErrUnauthenticated is returned when a call carries no recipient identity
	ErrUnauthenticated = errors.New("recipient identity required")
	// ErrValidation wraps malformed events and query parameters
	ErrValidation = errors.New("validation failed")
	// ErrUnknownUser marks events that reference a user the directory does not know.
	// Such events are dropped, not retried.
	ErrUnknownUser = errors.New("event references an unknown user")
)
