package config

import (
	"code.kerpass.org/sessions/internal/utils"
)

// errorFlag is a private error type that allows declaring error constants.
type errorFlag string

const (
	// Error is wrapped by all config errors.
	Error = errorFlag("config: error")

	// ErrInvalid is raised when a configuration value can not be used.
	ErrInvalid = errorFlag("config: invalid configuration")

	noError = errorFlag("")
)

// Error implements the error interface.
func (self errorFlag) Error() string {
	return string(self)
}

func (self errorFlag) Unwrap() error {
	if Error == self || noError == self {
		return nil
	}
	return Error
}

func invalid(msg string, args ...any) error {
	return utils.NewError(1, ErrInvalid, msg, args...)
}
