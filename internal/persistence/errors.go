package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("persistence: duplicate key")
	// ErrCardInUse is returned when a card UUID is already bound to another user.
	ErrCardInUse = errors.New("persistence: card already assigned")
	// ErrConstraintViolation is returned when a row fails a schema check.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrActiveSession is returned when a machine already has an open usage session.
	ErrActiveSession = errors.New("persistence: machine already has an active session")
	// ErrUnavailable marks transient store failures (busy, locked, closed connection).
	// It is the only category that callers may retry.
	ErrUnavailable = errors.New("persistence: store unavailable")
)
