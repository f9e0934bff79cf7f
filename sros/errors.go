package sros

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidArgument matches every InvalidArgumentError with errors.Is.
var ErrInvalidArgument = errors.New("invalid argument")

// InvalidArgumentError reports a request parameter rejected before anything
// was sent.
type InvalidArgumentError struct {
	Field    string   // parameter name, e.g. "src_type"
	Value    string   // offending value
	Expected []string // accepted values
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s %q: must be one of %s",
		e.Field, e.Value, strings.Join(e.Expected, ", "))
}

func (e *InvalidArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

func invalid(field, value string, expected ...string) error {
	return &InvalidArgumentError{Field: field, Value: value, Expected: expected}
}
