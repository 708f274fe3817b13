// Package apperr defines the operational errors surfaced to API clients.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an operational error.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindInvalidCredentials
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindDuplicateEmail
	KindTokenInvalidOrExpired
	KindNotificationFailure
)

var kindNames = map[Kind]string{
	KindValidation:            "ValidationError",
	KindInvalidCredentials:    "InvalidCredentials",
	KindUnauthenticated:       "Unauthenticated",
	KindForbidden:             "Forbidden",
	KindNotFound:              "NotFound",
	KindDuplicateEmail:        "DuplicateEmail",
	KindTokenInvalidOrExpired: "TokenInvalidOrExpired",
	KindNotificationFailure:   "NotificationFailure",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindTokenInvalidOrExpired:
		return http.StatusBadRequest
	case KindInvalidCredentials, KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicateEmail:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is an expected, user-actionable failure. Message is safe to show to
// the client; Reason and Err are for server-side logs only.
type Error struct {
	Kind    Kind
	Message string
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + ": " + e.Message
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code of the error.
func (e *Error) Status() int {
	return e.Kind.Status()
}

// New constructs an operational error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithReason returns a copy carrying an internal reason.
func (e *Error) WithReason(reason string) *Error {
	cp := *e
	cp.Reason = reason
	return &cp
}

// Wrap returns a copy wrapping err.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err is an operational error of the given kind.
func IsKind(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}

func Validation(message string) *Error {
	return New(KindValidation, message)
}

func InvalidCredentials(message string) *Error {
	return New(KindInvalidCredentials, message)
}

func Unauthenticated(message, reason string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message, Reason: reason}
}

func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

func DuplicateEmail(message string) *Error {
	return New(KindDuplicateEmail, message)
}

func TokenInvalidOrExpired(message string) *Error {
	return New(KindTokenInvalidOrExpired, message)
}

func NotificationFailure(message string, err error) *Error {
	return &Error{Kind: KindNotificationFailure, Message: message, Err: err}
}
