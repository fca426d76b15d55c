package utils

import (
	"github.com/pkg/errors"
)

// NewLengthMismatchError is used when a slice does not have the expected number of elements.
func NewLengthMismatchError(what string, expected, actual int) error {
	return errors.Errorf("%s: expected %d elements but got %d", what, expected, actual)
}
