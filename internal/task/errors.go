// Package task defines the execution contract shared by every path that runs
// a unit of documentation work: the failure taxonomy (terminal vs retriable)
// and the bounded fixed-delay retry policy applied by the worker daemon.
package task

import (
	"errors"
	"fmt"
)

// TerminalError marks a failure that retrying cannot change: malformed
// settings, a target escaping the repository root, and the like. The retry
// harness stops immediately on these.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err as a terminal failure.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// Terminalf formats a terminal failure.
func Terminalf(format string, args ...any) error {
	return &TerminalError{Err: fmt.Errorf(format, args...)}
}

// IsTerminal reports whether err is (or wraps) a terminal failure.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// IsRetriable reports whether a non-nil err may be retried. Everything that
// is not explicitly terminal is retriable: transient I/O, tool non-zero
// exits, timeouts.
func IsRetriable(err error) bool {
	return err != nil && !IsTerminal(err)
}
