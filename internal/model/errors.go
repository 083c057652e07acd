package model

import "errors"

// Error kinds surfaced by the engine and its collaborators.
// Implementations wrap these with context; callers match with errors.Is.
var (
	// ErrConflict is returned when an OPEN position already exists for a symbol.
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned when a trade id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned when market data cannot be fetched or parsed.
	ErrUnavailable = errors.New("unavailable")

	// ErrInvalid is returned for malformed requests or settings.
	ErrInvalid = errors.New("invalid")
)
