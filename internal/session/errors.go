package session

import "errors"

// Start validation errors, in the order they are checked.
var (
	ErrMissingCredential = errors.New("credential is required")
	ErrMissingGoal       = errors.New("goal is required")
	ErrInvalidIterations = errors.New("iterations must be >= 1")
	ErrTooManyIterations = errors.New("iterations exceed the configured maximum")
	ErrInvalidPrefix     = errors.New("name prefix may only contain letters, digits, '.', '_' and '-'")
	ErrSessionActive     = errors.New("a session is already active")
	ErrNotAuthenticated  = errors.New("publisher not authenticated; run: gh auth login")
)

var (
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionNotFound = errors.New("session not found")
	ErrShuttingDown    = errors.New("manager is shutting down")
)

// IsValidation reports whether err is a rejected start configuration.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrMissingGoal) ||
		errors.Is(err, ErrInvalidIterations) ||
		errors.Is(err, ErrTooManyIterations) ||
		errors.Is(err, ErrInvalidPrefix)
}
