package propagation

import (
	"errors"
	"fmt"
)

// ErrLeaseLost is returned when another worker reclaimed this task's lease.
// The current worker must stop at the next checkpoint boundary and treat its
// in-flight batch as abandoned; the idempotent recompute makes the replay by
// the new holder safe.
var ErrLeaseLost = errors.New("propagation lease lost")

// terminalError marks an error that must not be retried (malformed input,
// caller contract violations). Everything else is treated as transient and
// retried within the task's retry budget.
type terminalError struct {
	err error
}

func (e terminalError) Error() string {
	return fmt.Sprintf("terminal: %v", e.err)
}

func (e terminalError) Unwrap() error {
	return e.err
}

// Terminal wraps err as non-retryable.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return terminalError{err: err}
}

// IsTerminal reports whether err is non-retryable.
func IsTerminal(err error) bool {
	var te terminalError
	return errors.As(err, &te)
}
