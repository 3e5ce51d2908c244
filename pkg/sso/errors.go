package sso

import (
	"errors"
	"net/http"
)

// Sentinel errors forming the failure taxonomy of the SSO flow. Deeper code
// wraps these with context via fmt.Errorf("...: %w", err); the HTTP boundary
// maps them to status codes and envelope codes with errors.Is.
var (
	// ErrValidation indicates missing or malformed input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound indicates the referenced provider does not resolve to an
	// active record.
	ErrNotFound = errors.New("provider not found")
	// ErrNotConfigured indicates no active provider matches the domain.
	ErrNotConfigured = errors.New("sso not configured for this domain")
	// ErrConflict indicates a uniqueness violation: duplicate active domain,
	// or a user already linked to a different provider.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized indicates a missing, invalid, or under-privileged
	// bearer token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUpstream indicates the identity provider exchange failed or did not
	// yield a verifiable identity. Never masked with placeholder identities.
	ErrUpstream = errors.New("upstream failure")
)

// ErrorCode returns the wire code for an error from the taxonomy
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrNotConfigured):
		return "NOT_CONFIGURED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrUpstream):
		return "UPSTREAM_FAILURE"
	default:
		return "INTERNAL_ERROR"
	}
}

// StatusCode returns the HTTP status for an error from the taxonomy
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
