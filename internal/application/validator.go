package application

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/example/fablab-backend/internal/persistence"
)

// ReferenceValidator checks foreign references before writes.
type ReferenceValidator struct {
	refs persistence.ReferenceChecker
}

// NewReferenceValidator constructs a validator over refs.
func NewReferenceValidator(refs persistence.ReferenceChecker) ReferenceValidator {
	return ReferenceValidator{refs: refs}
}

// Require fails with an *IDError wrapping ErrNotFound when id is not present
// in kind's collection. field names the referencing attribute.
func (v ReferenceValidator) Require(ctx context.Context, kind persistence.Kind, field string, id int64) error {
	if v.refs == nil {
		return fmt.Errorf("reference checker not configured")
	}
	ok, err := v.refs.Exists(ctx, kind, id)
	if err != nil {
		return mapStoreError(err)
	}
	if !ok {
		return notFound(string(kind), field, id)
	}
	return nil
}

// RequireAll checks every id in order and reports the first missing one.
func (v ReferenceValidator) RequireAll(ctx context.Context, kind persistence.Kind, field string, ids []int64) error {
	for _, id := range ids {
		if err := v.Require(ctx, kind, field, id); err != nil {
			return err
		}
	}
	return nil
}

// resolveID turns an optional caller id into a store id.
func resolveID(field string, id *int64) (int64, *ValidationError) {
	if id == nil {
		return persistence.AutoID, nil
	}
	if *id < 0 {
		return 0, newValidationError(field, "must not be negative")
	}
	return *id, nil
}

func requireName(vErr *ValidationError, field, value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		vErr.add(field, field+" is required")
	}
	return trimmed
}

func requireNonNegative(vErr *ValidationError, field string, value float64) {
	if value < 0 || math.IsNaN(value) {
		vErr.add(field, field+" must be zero or positive")
	}
}

// timestampError rejects instants that do not survive the store's
// nanosecond encoding, roughly those before 1678 or after 2262.
func timestampError(ts time.Time) *ValidationError {
	if time.Unix(0, ts.UnixNano()).Equal(ts) {
		return nil
	}
	return newValidationError("timestamp", "timestamp must fall between 1678 and 2262")
}

func normalizeOptionalString(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
