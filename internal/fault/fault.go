// Package fault defines the error kinds shared across the core services.
// Services wrap these sentinels with fmt.Errorf("%w: reason", ...) so the
// transport layer can map a failure to a response without losing the
// human-readable cause.
package fault

import "errors"

var (
	// ErrValidation marks malformed input: empty names, non-positive
	// amounts, bad identifiers.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized marks a caller missing a capability or an
	// ownership relation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrState marks an operation that is invalid for the entity's
	// current status.
	ErrState = errors.New("invalid state")

	// ErrTemporal marks a deadline, window or expiry violation.
	ErrTemporal = errors.New("deadline violated")

	// ErrResource marks insufficient escrow or funds.
	ErrResource = errors.New("insufficient funds")

	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
)

// Kind returns a short machine-readable label for the error, or "internal"
// when the error does not wrap one of the sentinels above.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrState):
		return "state"
	case errors.Is(err, ErrTemporal):
		return "temporal"
	case errors.Is(err, ErrResource):
		return "resource"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
