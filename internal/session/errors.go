package session

import "errors"

var (
	// ErrInvalidCredentials indicates a recoverable login rejection.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken indicates a registration conflict with an existing account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrNotAuthenticated indicates an operation that needs a session was
	// called without one.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrValidation indicates a client-side rejection before any call was made.
	ErrValidation = errors.New("validation failed")
)
