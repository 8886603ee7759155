package poll

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout matches every *TimeoutError via errors.Is.
var ErrTimeout = errors.New("poll timeout")

// TimeoutError reports a condition that never became true within its budget.
type TimeoutError struct {
	Condition string
	Timeout   time.Duration
	Elapsed   time.Duration
	Attempts  int

	// Last is the last observed non-matching value, if any evaluation
	// completed without error.
	Last any

	// LastErr is the transient error from the final evaluation, if it failed.
	LastErr error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %v waiting for %s (%d attempts", e.Elapsed, e.Condition, e.Attempts)
	if e.Last != nil {
		msg += fmt.Sprintf(", last observed %v", e.Last)
	}
	msg += ")"
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

// Unwrap returns the last transient error.
func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// breakError marks an evaluation failure as permanent.
type breakError struct {
	err error
}

func (e *breakError) Error() string { return e.err.Error() }
func (e *breakError) Unwrap() error { return e.err }

// Break wraps err so that Until stops polling and returns it. Use it for
// failures that retrying cannot fix, such as a browser session that is gone.
func Break(err error) error {
	if err == nil {
		return nil
	}
	return &breakError{err: err}
}

// IsBreak reports whether err was wrapped with Break.
func IsBreak(err error) bool {
	_, ok := breakCause(err)
	return ok
}

func breakCause(err error) (error, bool) {
	var b *breakError
	if errors.As(err, &b) {
		return b.err, true
	}
	return nil, false
}
