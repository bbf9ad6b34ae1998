package runner

import (
	"errors"
	"fmt"
)

// ErrNilAction is reported for tasks submitted without an action.
var ErrNilAction = errors.New("runner: nil action")

// TaskError is the diagnostic for one failed task.
type TaskError struct {
	ID  string
	Err error
}

func (e *TaskError) Error() string { return fmt.Sprintf("task %s: %v", e.ID, e.Err) }
func (e *TaskError) Unwrap() error { return e.Err }

// PanicError carries a panic recovered from an action or from the loop.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// IsPanic reports whether err wraps a recovered panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
