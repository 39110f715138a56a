package auth

import (
	"errors"
	"fmt"
)

// Token validation and configuration errors. Every failure returned by
// TokenService is a *ValidationError whose Kind is one of these sentinels,
// so callers dispatch with errors.Is.
var (
	// ErrConfiguration is returned at construction time; the service must not start.
	ErrConfiguration = errors.New("token service misconfigured")
	// ErrExpired covers absolute expiry and, through ErrInactive, inactivity expiry.
	ErrExpired = errors.New("token expired")
	// ErrInactive is returned when last_activity is older than the inactivity timeout.
	// errors.Is(ErrInactive, ErrExpired) is true.
	ErrInactive = fmt.Errorf("%w: inactivity timeout exceeded", ErrExpired)
	// ErrSignatureInvalid means the token was tampered with or signed with another key.
	ErrSignatureInvalid = errors.New("token signature is invalid")
	// ErrNotYetValid means nbf (or iat) lies in the future.
	ErrNotYetValid = errors.New("token is not valid yet")
	// ErrMalformedToken means the token structure or required claims are wrong.
	ErrMalformedToken = errors.New("token is malformed")
	// ErrRevoked means the token id is on the denylist.
	ErrRevoked = errors.New("token has been revoked")
)

// ValidationError carries the failure kind plus the underlying cause.
type ValidationError struct {
	Kind error
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalid(kind error, cause error) error {
	return &ValidationError{Kind: kind, Err: cause}
}
