package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTimeout indicates the request exceeded the fixed client timeout,
	// as opposed to the server rejecting it.
	ErrTimeout = errors.New("request timed out")
	// ErrUnauthorized matches any APIError with status 401 via errors.Is.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError represents a structured rejection reported by the backend.
type APIError struct {
	Status     int
	StatusText string
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.StatusText)
}

// Is lets callers test for the unauthorized kind without inspecting status
// codes themselves.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}
