// Package apperr defines the error kinds surfaced by the auth core. Each error
// carries a Kind for mapping (HTTP status, metrics) and a Reason for callers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an auth-core failure.
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindUnauthorized       Kind = "unauthorized"
	KindDeliveryFailed     Kind = "delivery_failed"
	KindNotImplemented     Kind = "not_implemented"
	KindRateLimited        Kind = "rate_limited"
)

// InvalidCredentialsMessage is the only message a failed login ever carries.
const InvalidCredentialsMessage = "Invalid credentials"

// Error is a classified failure. Reason is safe to show to the caller.
type Error struct {
	Kind   Kind
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error of the same Kind, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// Sentinels for errors.Is. They match every reason of their kind.
var (
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrDeliveryFailed     = &Error{Kind: KindDeliveryFailed}
	ErrNotImplemented     = &Error{Kind: KindNotImplemented}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
)

// InvalidCredentials returns the uniform login failure. cause is kept for
// logging only and never changes the message.
func InvalidCredentials(cause error) *Error {
	return &Error{Kind: KindInvalidCredentials, Reason: InvalidCredentialsMessage, cause: cause}
}

// Unauthorized returns a session/refresh failure with a specific reason.
func Unauthorized(reason string) *Error {
	return &Error{Kind: KindUnauthorized, Reason: reason}
}

// DeliveryFailed returns an OTP delivery failure.
func DeliveryFailed(reason string) *Error {
	return &Error{Kind: KindDeliveryFailed, Reason: reason}
}

// NotImplemented returns a failure for a path that has no backing implementation.
func NotImplemented(what string) *Error {
	return &Error{Kind: KindNotImplemented, Reason: fmt.Sprintf("%s is not implemented", what)}
}

// RateLimited returns a refusal caused by a cooldown window.
func RateLimited(reason string) *Error {
	return &Error{Kind: KindRateLimited, Reason: reason}
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf returns the Reason of err, or "" when err is not an *Error.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
