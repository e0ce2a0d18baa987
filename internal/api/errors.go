// Package api implements the low-level wire protocol of the Supernote-style
// device-sync cloud: CSRF token acquisition, hashed-credential login, the
// email verification fallback, and the ID-based file plane (list, create
// directory, upload).
package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for response classification.
// Use errors.Is(err, api.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("api: bad request")
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrForbidden    = errors.New("api: forbidden")
	ErrNotFound     = errors.New("api: not found")
	ErrServerError  = errors.New("api: server error")

	// ErrRejected marks responses that came back HTTP 200 but with
	// success=false in the JSON envelope.
	ErrRejected = errors.New("api: request rejected")

	// ErrNoCSRFToken is returned when the CSRF endpoint yields neither the
	// x-xsrf-token header nor the XSRF-TOKEN cookie.
	ErrNoCSRFToken = errors.New("api: no CSRF token in response")

	// ErrBadPreAuthToken is returned when the verification pre-auth token
	// cannot be decomposed into key segments.
	ErrBadPreAuthToken = errors.New("api: malformed pre-auth token")
)

// APIError wraps a sentinel error with the HTTP status, the service's
// errorCode/errorMsg pair, and context for debugging.
type APIError struct {
	StatusCode int
	Code       string // service error code, e.g. "E1760"
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("api: %s (%s)", e.Message, e.Code)
	case e.StatusCode != 0:
		return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
	default:
		return "api: " + e.Message
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// AuthError is returned when the service rejects a credential or code login.
// Code carries the service's error code so callers can distinguish plain
// rejections from "verification required" responses. Timestamp is the
// pre-login timestamp of the failed attempt; requesting a verification code
// for the same attempt must reuse it.
type AuthError struct {
	Code      string
	Message   string
	Timestamp string
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: login rejected: %s (%s)", e.Message, e.Code)
	}

	return "api: login rejected: " + e.Message
}

func (e *AuthError) Unwrap() error {
	return ErrRejected
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}
