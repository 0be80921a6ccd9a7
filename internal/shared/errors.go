package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates the input was rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden indicates the actor is not allowed to perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState occurs when an action violates a status workflow.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
