// Package apperrors defines the error kinds surfaced at the HTTP boundary
// and the HTTP status each one maps to. Internal packages return *Error
// (or wrap one with fmt.Errorf's %w) instead of ad-hoc sentinel strings,
// so the API layer never has to pattern-match on error text.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the error categories a caller-facing response can carry.
type Kind string

const (
	KindInvalidCredentials    Kind = "invalid_credentials"
	KindAccountLocked         Kind = "account_locked"
	KindAccountNotVerified    Kind = "account_not_verified"
	KindTokenMissing          Kind = "token_missing"
	KindTokenInvalid          Kind = "token_invalid"
	KindTokenExpired          Kind = "token_expired"
	KindInsufficientPerms     Kind = "insufficient_permissions"
	KindRateLimitExceeded     Kind = "rate_limit_exceeded"
	KindValidationError       Kind = "validation_error"
	KindNotFound              Kind = "not_found"
	KindConflict              Kind = "conflict"
	KindDatabaseError         Kind = "database_error"
	KindInternalError         Kind = "internal_error"
)

// Error is the typed error every internal service should produce for a
// condition that needs to reach the HTTP layer with a specific status
// and machine-readable kind.
type Error struct {
	Kind     Kind
	Messages []string
	Cause    error
}

func (e *Error) Error() string {
	if len(e.Messages) == 1 {
		return e.Messages[0]
	}
	if len(e.Messages) == 0 {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Messages)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error carrying a single message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Messages: []string{message}}
}

// Wrap builds an *Error carrying a single message and an underlying cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Messages: []string{message}, Cause: cause}
}

// Validation builds a KindValidationError carrying one message per
// violated rule, matching the record validation invariant that a single
// request surfaces every violation at once rather than the first one.
func Validation(messages ...string) *Error {
	return &Error{Kind: KindValidationError, Messages: messages}
}

// NotFound builds a KindNotFound error naming what couldn't be found.
func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Messages: []string{what + " not found"}}
}

// As extracts an *Error from err, following the wrap chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusFor maps an error Kind to the HTTP status the API layer should
// return, per the error-kind table.
func StatusFor(kind Kind) int {
	switch kind {
	case KindInvalidCredentials, KindTokenMissing, KindTokenInvalid, KindTokenExpired:
		return http.StatusUnauthorized
	case KindAccountLocked, KindAccountNotVerified, KindInsufficientPerms:
		return http.StatusForbidden
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindValidationError:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindDatabaseError, KindInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
