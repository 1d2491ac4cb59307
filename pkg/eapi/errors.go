package eapi

import (
	"errors"
	"fmt"
)

// ErrTransport marks failures that happened before a usable HTTP response was
// received: timeouts, refused connections and undecodable bodies.
var ErrTransport = errors.New("transport failure")

// AuthError indicates that login or token refresh was rejected or could not be
// performed, or that a request stayed unauthorized after a forced refresh.
type AuthError struct {
	Op         string // "login", "refresh" or "request"
	StatusCode int    // 0 when no HTTP response was received
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("eapi %s failed: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("eapi %s failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError checks if an error is an AuthError
func IsAuthError(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

// APIError represents any non-auth failure of an eAPI request. StatusCode is 0
// for transport failures, in which case Err wraps ErrTransport.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed: HTTP %d: %v", e.Method, e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Method, e.Path, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsAPIError checks if an error is an APIError
func IsAPIError(err error) bool {
	var e *APIError
	return errors.As(err, &e)
}

// StatusCode returns the HTTP status carried by an AuthError or APIError, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.StatusCode
	}
	return 0
}

func transportError(method, path string, err error) *APIError {
	return &APIError{
		Method: method,
		Path:   path,
		Err:    fmt.Errorf("%w: %v", ErrTransport, err),
	}
}
