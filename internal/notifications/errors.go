package notifications

import "errors"

// Resolver errors.
var (
	ErrContactNotFound     = errors.New("contact not found")
	ErrPreferencesNotFound = errors.New("preferences not found")
)

// Service errors.
var (
	ErrClosed = errors.New("notification service closed")
)
