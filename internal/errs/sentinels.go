// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., key code collision).
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates input rejected before any store access.
	ErrValidation = errors.New("validation failed")

	// ErrUnavailable indicates a transient store failure (timeout, connectivity).
	ErrUnavailable = errors.New("service unavailable")
)
