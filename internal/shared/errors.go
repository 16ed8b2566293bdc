package shared

import "errors"

// Base error classes. Domain packages wrap one of these so callers and the
// HTTP layer can classify failures without knowing every sentinel.
var (
	// ErrValidation indicates malformed input (unbalanced entry, bad quantity).
	ErrValidation = errors.New("validation failed")
	// ErrState indicates an illegal lifecycle transition (posting into a closed period).
	ErrState = errors.New("invalid state transition")
	// ErrIntegrity indicates a structural invariant would be violated (cyclic BOM, negative stock).
	ErrIntegrity = errors.New("integrity violation")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
)
