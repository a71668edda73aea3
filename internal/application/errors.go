package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/fablab-backend/internal/persistence"
)

var (
	// ErrAlreadyExists is returned when an entity id is already taken.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrNotFound is returned when a referenced or requested entity does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrInvalidQuery is returned when a request is ambiguous or the current state forbids it.
	ErrInvalidQuery = errors.New("application: invalid query")
	// ErrConflict is returned when a machine already has an active usage session.
	ErrConflict = errors.New("application: conflict")
	// ErrUnavailable is returned when the store cannot be reached. Callers may retry.
	ErrUnavailable = errors.New("application: unavailable")
)

// IDError names the field and id that caused a lookup or reference failure.
type IDError struct {
	Entity string
	Field  string
	ID     any
	Err    error
}

func (e *IDError) Error() string {
	if e == nil {
		return ""
	}
	field := e.Field
	if field == "" {
		field = e.Entity + "_id"
	}
	return fmt.Sprintf("%s %s=%v: %v", e.Entity, field, e.ID, e.Err)
}

func (e *IDError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func notFound(entity, field string, id any) *IDError {
	return &IDError{Entity: entity, Field: field, ID: id, Err: ErrNotFound}
}

func alreadyExists(entity string, id any) *IDError {
	return &IDError{Entity: entity, Field: entity + "_id", ID: id, Err: ErrAlreadyExists}
}

// cardInUse reports a card that is already bound to another user.
func cardInUse(err error, card *string) error {
	if card == nil || !errors.Is(err, persistence.ErrCardInUse) {
		return err
	}
	return &IDError{Entity: "user", Field: "card_uuid", ID: *card, Err: ErrAlreadyExists}
}

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field, msg := range v.FieldErrors {
		fields = append(fields, field+": "+msg)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, "; ")
}

// Is lets validation failures match ErrInvalidQuery.
func (v *ValidationError) Is(target error) bool {
	return target == ErrInvalidQuery
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

func newValidationError(field, message string) *ValidationError {
	vErr := &ValidationError{}
	vErr.add(field, message)
	return vErr
}

// mapEntityError translates a persistence failure on one entity. When id is
// persistence.AutoID the store picked the id, so the error does not name one.
func mapEntityError(err error, entity string, id int64) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		if id == persistence.AutoID {
			return fmt.Errorf("%s: %w", entity, ErrNotFound)
		}
		return notFound(entity, entity+"_id", id)
	case errors.Is(err, persistence.ErrDuplicate):
		if id == persistence.AutoID {
			return fmt.Errorf("%s: %w", entity, ErrAlreadyExists)
		}
		return alreadyExists(entity, id)
	case errors.Is(err, persistence.ErrCardInUse):
		return fmt.Errorf("%s card_uuid: %w", entity, ErrAlreadyExists)
	case errors.Is(err, persistence.ErrConstraintViolation):
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return mapStoreError(err)
}
