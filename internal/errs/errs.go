// Package errs implements helper functions for dealing with errors.
package errs

import (
	"errors"
	"fmt"
)

var (
	InvalidFormat = errors.New("invalid format")
	InvalidIndex  = errors.New("invalid index")
	InvalidLength = errors.New("invalid length")
	IsNil         = errors.New("argument must not be nil")
)

// Wrap prefixes the given error with the given format string.  It's meant to
// be called in a deferred statement, e.g.:
//
//	defer errs.Wrap(&err, "failed to frobnicate")
func Wrap(err *error, str string, args ...any) {
	if *err != nil {
		*err = fmt.Errorf("%s: %w", fmt.Sprintf(str, args...), *err)
	}
}

// WrapErr wraps the given error in the given wrapper error, so that callers
// can match the wrapper with errors.Is.
func WrapErr(err *error, wrapper error) {
	if *err != nil {
		*err = fmt.Errorf("%w: %w", wrapper, *err)
	}
}
