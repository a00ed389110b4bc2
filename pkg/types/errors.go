package types

import (
	"errors"
	"fmt"
)

// ErrorCode is the machine-readable kind carried next to the error text
type ErrorCode string

const (
	ErrAlreadyExists       ErrorCode = "ALREADY_EXISTS"
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrPreconditionFailed  ErrorCode = "PRECONDITION_FAILED"
	ErrExternalToolFailure ErrorCode = "EXTERNAL_TOOL_FAILURE"
	ErrIOFailure           ErrorCode = "IO_FAILURE"
	ErrInvalidArgument     ErrorCode = "INVALID_ARGUMENT"
)

// Error is a coded error. Message is what callers see on the wire.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a coded error with a formatted message
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error
func Wrap(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...) + ": " + err.Error(),
		Err:     err,
	}
}

// CodeOf returns the code of the first coded error in the chain,
// or ErrIOFailure for anything uncoded
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrIOFailure
}

// IsCode reports whether err carries the given code
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
