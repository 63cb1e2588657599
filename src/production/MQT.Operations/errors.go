package operations

import (
	"errors"
	"fmt"
)

// ErrNotFound marks an update or delete that matched no reading
var ErrNotFound = errors.New("record not found")

// ValidationError is a client error. Message is returned to the caller as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
