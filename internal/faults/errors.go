package faults

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrAuth       = errors.New("not authenticated")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrTransient  = errors.New("temporarily unavailable")
)

// Error carries one of the sentinel kinds above together with the message shown to the user.
// Status is the HTTP status when the error came from the backend, zero otherwise.
type Error struct {
	Kind    error
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) error { return newError(ErrValidation, format, args...) }
func Forbiddenf(format string, args ...any) error  { return newError(ErrForbidden, format, args...) }
func Conflictf(format string, args ...any) error   { return newError(ErrConflict, format, args...) }
func Authf(format string, args ...any) error       { return newError(ErrAuth, format, args...) }

// FromStatus maps a non-2xx HTTP response onto the taxonomy. An empty message becomes "HTTP <status>".
func FromStatus(status int, message string) *Error {
	if message == "" {
		message = fmt.Sprintf("HTTP %d", status)
	}
	var kind error
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		kind = ErrValidation
	case status == http.StatusUnauthorized:
		kind = ErrAuth
	case status == http.StatusForbidden:
		kind = ErrForbidden
	case status == http.StatusNotFound:
		kind = ErrNotFound
	case status == http.StatusConflict:
		kind = ErrConflict
	default:
		// 408, 429, 5xx and anything unexpected are worth another try on the next cycle.
		kind = ErrTransient
	}
	return &Error{Kind: kind, Status: status, Message: message}
}

// StatusOf is the inverse of FromStatus, used by servers answering with the taxonomy.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
