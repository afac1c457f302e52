package session

import (
	"code.kerpass.org/sessions/internal/utils"
)

// errorFlag is a private error type that allows declaring error constants.
type errorFlag string

const (
	// All package errors are wrapping Error
	Error = errorFlag("session: error")

	// ErrUsage is wrapped by errors caused by the caller, they should not be retried.
	ErrUsage           = errorFlag("session: usage error")
	ErrNotStarted      = errorFlag("session: session not started")
	ErrAlreadyStarted  = errorFlag("session: session already started")
	ErrInvalidTTL      = errorFlag("session: invalid ttl")
	ErrInvalidArgument = errorFlag("session: invalid argument")

	// ErrBackend signals a storage backend that can not be used, it is returned at construction.
	ErrBackend = errorFlag("session: backend unavailable")

	// ErrNotFound and ErrUnavailable are the only errors returned by Adapter.Read.
	ErrNotFound    = errorFlag("session: record not found")
	ErrUnavailable = errorFlag("session: storage unavailable")

	noError = errorFlag("")
)

// Error implements the error interface.
func (self errorFlag) Error() string {
	return string(self)
}

func (self errorFlag) Unwrap() error {
	switch self {
	case Error, noError:
		return nil
	case ErrNotStarted, ErrAlreadyStarted, ErrInvalidTTL, ErrInvalidArgument:
		return ErrUsage
	default:
		return Error
	}
}

// newError returns a utils.RaisedErr{} that contains file & line of where it was called.
func newError(flag errorFlag, msg string, args ...any) error {
	return utils.NewError(1, flag, msg, args...)
}

// wrapError returns a utils.RaisedErr{} that contains file & line of where it was called.
func wrapError(cause error, flag errorFlag, msg string, args ...any) error {
	return utils.WrapError(cause, 1, flag, msg, args...)
}
