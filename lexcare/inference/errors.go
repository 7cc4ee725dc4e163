package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout marks an inference call that exceeded its deadline.
	ErrTimeout = errors.New("inference timeout")
	// ErrUnavailable is returned when no backend is configured.
	ErrUnavailable = errors.New("inference unavailable")
)

// Error is an upstream failure of the inference service.
type Error struct {
	Op      string
	Model   string
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("inference %s (%s): timed out: %v", e.Op, e.Model, e.Err)
	}
	return fmt.Sprintf("inference %s (%s): %v", e.Op, e.Model, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrTimeout && e.Timeout
}

// MalformedResponseError is returned when a reply cannot be parsed into the
// expected structure.
type MalformedResponseError struct {
	Op  string
	Raw string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("inference %s: malformed response: %v", e.Op, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsMalformed reports whether err is a MalformedResponseError.
func IsMalformed(err error) bool {
	var m *MalformedResponseError
	return errors.As(err, &m)
}
