// Package retry decides whether and when failed activity invocations run again.
package retry

import (
	"errors"
	"fmt"
)

// TransientError marks a failure as retryable: the same invocation may
// succeed on a later attempt (network errors, backend overload, timeouts).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// TerminalError marks a failure as non-retryable: retrying cannot help
// (malformed input, malformed backend response, exhausted invocation budget).
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal: %v", e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &TransientError{Err: err}
}

// Terminal wraps err as a non-retryable failure. Returns nil for nil.
func Terminal(err error) error {
	if err == nil {
		return nil
	}

	return &TerminalError{Err: err}
}

func Transientf(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

func Terminalf(format string, args ...any) error {
	return &TerminalError{Err: fmt.Errorf(format, args...)}
}

// IsTerminal checks whether err carries a TerminalError anywhere in its chain.
func IsTerminal(err error) bool {
	var terminal *TerminalError

	return errors.As(err, &terminal)
}

// IsTransient checks whether err should be retried. Errors without an
// explicit classification default to transient.
func IsTransient(err error) bool {
	return err != nil && !IsTerminal(err)
}
