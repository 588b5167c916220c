// Package apperr defines the error kinds shared by the HTTP surface, the
// WebSocket gateway and the broker workers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping and retry decisions.
type Kind string

const (
	Internal            Kind = "Internal"
	Invalid             Kind = "Invalid"
	InvalidToken        Kind = "InvalidToken"
	PermissionDenied    Kind = "PermissionDenied"
	NotFound            Kind = "NotFound"
	Conflict            Kind = "Conflict"
	InvalidGeometry     Kind = "InvalidGeometry"
	UpstreamUnavailable Kind = "UpstreamUnavailable"
	Transient           Kind = "Transient"
	Permanent           Kind = "Permanent"
	RateLimited         Kind = "RateLimited"
)

// Error is an error tagged with a Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, apperr.E(apperr.NotFound, ""))
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds an error of the given kind.
func E(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// Internal when there is none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a worker should retry the operation that
// produced err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Transient, UpstreamUnavailable, Internal:
		return true
	}
	return false
}

// HTTPStatus maps a kind to the status code used by the REST surface.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Invalid, InvalidGeometry:
		return http.StatusBadRequest
	case InvalidToken:
		return http.StatusUnauthorized
	case PermissionDenied:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	case UpstreamUnavailable, Transient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Message returns the client-facing message for err. Internal errors are
// not leaked.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == Internal {
			return "internal error"
		}
		return e.Message
	}
	return "internal error"
}
