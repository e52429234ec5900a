// Package apperr defines the coded errors surfaced to API and realtime clients.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an application error.
type Code string

const (
	NotFound        Code = "NOT_FOUND"
	InvalidArgument Code = "INVALID_ARGUMENT"
	Duplicate       Code = "DUPLICATE"
	Locked          Code = "LOCKED"
	Unidentified    Code = "UNIDENTIFIED"
	Internal        Code = "INTERNAL_ERROR"
)

// Error is an application error with a code and a client-safe message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether err, or anything it wraps, is an Error with the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the first Error in err's chain, or Internal.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return Internal
}

// MessageOf returns the client-safe message for err.
// Uncoded errors never leak their text.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

// HTTPStatus maps a code to its HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case NotFound:
		return http.StatusNotFound
	case InvalidArgument, Duplicate:
		return http.StatusBadRequest
	case Locked:
		return http.StatusConflict
	case Unidentified:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
