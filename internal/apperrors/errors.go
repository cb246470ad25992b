// Package apperrors holds the error taxonomy shared by the points engine,
// the withdrawal workflow and the HTTP surface.
package apperrors

import (
	"errors"
	"net/http"
)

// Store-level sentinels. Storage implementations return these (possibly
// wrapped); services translate them into *Error values.
var (
	ErrNotFound            = errors.New("record not found")
	ErrConflict            = errors.New("record already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientPoints  = errors.New("insufficient points")
	ErrOutOfStock          = errors.New("reward out of stock")
	ErrAlreadyProcessed    = errors.New("withdrawal already processed")
	ErrDuplicatePending    = errors.New("pending withdrawal already exists")
)

type Kind int

const (
	Unexpected Kind = iota
	Unauthenticated
	Forbidden
	Validation
	NotFound
	Conflict
	ExternalProvider
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case Validation:
		return "validation_error"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case ExternalProvider:
		return "external_provider_error"
	default:
		return "unexpected"
	}
}

// Error is a user-safe failure. Message is returned to callers verbatim;
// Err carries the internal cause and is only logged.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: Unexpected, Code: "unexpected", Message: "Internal server error", Err: err}
}

func Forbid(message string) *Error {
	return New(Forbidden, "forbidden", message)
}

func Invalid(message string) *Error {
	return New(Validation, "validation_error", message)
}

// As extracts an *Error from err. Anything else is reported as Unexpected.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

func KindOf(err error) Kind {
	return As(err).Kind
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case Validation, Conflict:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case ExternalProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
