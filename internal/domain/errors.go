package domain

import (
	"errors"
	"fmt"
)

// Error kinds shared by every application service. Wrap them with fmt.Errorf("%w: ...") for
// detail and match with errors.Is.
var (
	ErrNotOwner            = errors.New("Caller does not own this portfolio")
	ErrInvalidShare        = errors.New("Invalid or expired share link")
	ErrNotFound            = errors.New("Not found")
	ErrUpstreamUnavailable = errors.New("Upstream provider unavailable")
	ErrValidationFailed    = errors.New("Validation failed")
)

// Internal share failure reasons. Both are ErrInvalidShare to callers; they exist for logging.
var (
	ErrShareRevoked = fmt.Errorf("%w: revoked", ErrInvalidShare)
	ErrShareExpired = fmt.Errorf("%w: expired", ErrInvalidShare)
)

// Validation wraps ErrValidationFailed with a user-facing message.
func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidationFailed, msg)
}

// ErrMalformedNarrative marks a narrative provider response that arrived but could not be used.
var ErrMalformedNarrative = errors.New("Narrative provider returned malformed output")
