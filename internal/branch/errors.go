package branch

import "errors"

// Sentinel errors for branch manager operations.
var (
	// ErrNotFound indicates a session, branch, or message referenced by ID
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates a structurally invalid request: a branch from
	// a different session, or an operation on an archived branch.
	ErrValidation = errors.New("validation failed")
)
