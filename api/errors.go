package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"library-client/library"
)

// ErrSessionExpired is returned when a 401 survives the token refresh. The
// stored token has already been cleared when it is returned.
var ErrSessionExpired = errors.New("session expired, please log in again")

// ValidationError is the client-side rejection type; no request was sent.
type ValidationError = library.ValidationError

// NetworkError means no HTTP response was received.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx response. Message comes from the JSON body's
// "message" field when present.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

const genericMessage = "Something went wrong. Please try again."

// Message renders err as the short notification shown to the user.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var (
		se *ServerError
		ve *ValidationError
		ne *NetworkError
	)
	switch {
	case errors.Is(err, ErrSessionExpired):
		return ErrSessionExpired.Error()
	case errors.As(err, &ve):
		return ve.Error()
	case errors.As(err, &se):
		if se.Message != "" {
			return se.Message
		}
		if t := http.StatusText(se.Status); t != "" {
			return t
		}
		return genericMessage
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out. Please try again."
	case errors.Is(err, context.Canceled):
		return "Request cancelled."
	case errors.As(err, &ne):
		return "Network error: could not reach the library server."
	default:
		return genericMessage
	}
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Status
	}
	if errors.Is(err, ErrSessionExpired) {
		return http.StatusUnauthorized
	}
	return 0
}
