package utils

// errorFlag is a private error type that allows declaring error constants.
type errorFlag string

const (
	// Error is wrapped by all utils errors.
	Error = errorFlag("utils: error")

	// ErrNameInUse is raised when a Registry name is already taken.
	ErrNameInUse = errorFlag("utils: name already in use")

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
