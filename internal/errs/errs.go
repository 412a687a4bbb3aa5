// Package errs defines the gateway's error taxonomy. Every failure that
// reaches a client (an HTTP error body or an SSE error event) carries one of
// the codes below.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure class on the wire.
type Code string

const (
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeSpawn            Code = "SPAWN_ERROR"
	CodeExit             Code = "EXIT_ERROR"
	CodeTimeout          Code = "TIMEOUT_ERROR"
	CodeParse            Code = "PARSE_ERROR"
	CodeConcurrencyLimit Code = "CONCURRENCY_LIMIT_ERROR"
	CodeInternal         Code = "INTERNAL_ERROR"
)

// Error is a classified failure. RawText optionally carries the worker output
// that could not be used (e.g. the text that failed to parse as JSON).
type Error struct {
	Code    Code
	Message string
	RawText string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under code. The message is prefixed with msg when given.
func Wrap(code Code, err error, msg string) *Error {
	if err == nil {
		return &Error{Code: code, Message: msg}
	}
	m := err.Error()
	if msg != "" {
		m = msg + ": " + m
	}
	return &Error{Code: code, Message: m, Err: err}
}

// WithRawText returns a copy of e carrying raw.
func (e *Error) WithRawText(raw string) *Error {
	c := *e
	c.RawText = raw
	return &c
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal when err is unclassified.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// HTTPStatus maps a code to the status used for single-shot responses.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeConcurrencyLimit:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
