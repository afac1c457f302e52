package utils

import (
	"fmt"
	"path"
	"runtime"
	"strings"
)

// RaisedErr is an error type that tracks where an error was raised.
// All errors returned by the session packages are RaisedErr instances.
//
// Each package defines a private flag error type and a set of constant flags of that type.
// Flags are attached to RaisedErr so that callers can classify errors using errors.Is.
type RaisedErr struct {
	// Flag classifies the error, eg usage error or backend fault.
	Flag error

	// Cause is the error that caused the RaisedErr{}.
	Cause error

	// Msg describes what happened.
	Msg string

	// Filename is the source file that contains the code that emitted the error.
	Filename string

	// Line is the location in the source file of the code that emitted the error.
	Line int
}

// Error implements the error interface.
//
// The message is kept on a single line so that it can be used as a structured log attribute.
func (self RaisedErr) Error() string {
	var sb strings.Builder
	if nil != self.Flag {
		sb.WriteString(self.Flag.Error())
		sb.WriteString(": ")
	}
	sb.WriteString(self.Msg)
	if "" != self.Filename {
		fmt.Fprintf(&sb, " (%s:%d)", self.Filename, self.Line)
	}
	if nil != self.Cause {
		sb.WriteString(": ")
		sb.WriteString(self.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns a slice that contains the Flag and Cause of the RaisedErr.
func (self RaisedErr) Unwrap() []error {
	rv := make([]error, 0, 2)
	if nil != self.Flag {
		rv = append(rv, self.Flag)
	}
	if nil != self.Cause {
		rv = append(rv, self.Cause)
	}
	return rv
}

// Location returns "dir/file.go:line" for the code that raised the error.
func (self RaisedErr) Location() string {
	return fmt.Sprintf("%s:%d", self.Filename, self.Line)
}

// NewError returns a RaisedErr{} that contains file & line of where it was called.
//
// skip allows controlling Caller frame resolution, if you are calling NewError directly set skip to 0,
// if you are calling NewError from an intermediary newError function set skip to 1...
func NewError(skip int, flag error, msg string, args ...any) error {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	err := RaisedErr{Flag: flag, Msg: msg}
	addCallerFileLine(skip, &err)
	return err
}

// WrapError returns a RaisedErr{} that contains file & line of where it was called.
// If cause is nil, WrapError returns nil.
//
// skip follows the same convention as in NewError.
func WrapError(cause error, skip int, flag error, msg string, args ...any) error {
	if nil == cause {
		return nil
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	err := RaisedErr{Flag: flag, Cause: cause, Msg: msg}
	addCallerFileLine(skip, &err)
	return err
}

func addCallerFileLine(skip int, err *RaisedErr) {
	_, filename, line, ok := runtime.Caller(2 + skip)
	if ok {
		dirname, basename := path.Split(filename)
		err.Filename = path.Join(path.Base(dirname), basename)
		err.Line = line
	}
}
