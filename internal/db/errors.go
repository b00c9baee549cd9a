package db

import "errors"

// Sentinel errors returned by the store. Callers should use errors.Is for
// comparison.
var (
	// ErrUserNotFound is returned when no account matches the lookup and
	// creation was not requested.
	ErrUserNotFound = errors.New("db: user not found")

	// ErrAmbiguousScreenName is returned when a case-insensitive screen
	// name lookup matches more than one row. Screen names can be reused on
	// the remote service, so a collision means no row can be trusted.
	ErrAmbiguousScreenName = errors.New("db: ambiguous screen name")
)
