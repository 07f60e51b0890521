package shared

import "errors"

// Engine error kinds. Every operation classifies its failures into one of
// these so callers can tell a rejected input from a missing record or a
// would-be invariant violation.
var (
	// ErrValidation indicates a rejected input, surfaced before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the operation would violate a stored invariant.
	ErrConflict = errors.New("conflict")
	// ErrLocked indicates a lease on the target resource is held elsewhere.
	ErrLocked = errors.New("resource locked")
)
