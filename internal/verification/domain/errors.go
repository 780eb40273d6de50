package domain

import (
	"errors"
	"fmt"
)

// Common errors returned by the verification engine.
var (
	// ErrExhausted means the retry budget ran out without a successful verification.
	ErrExhausted = errors.New("verification attempts exhausted")
	// ErrFatal marks failures that are not library mismatches.
	ErrFatal = errors.New("fatal verification error")
	// ErrTransient is wrapped by verifiers for failures that carry no
	// diagnostic and should be retried with the same library set.
	ErrTransient = errors.New("transient verification failure")
	// ErrNoLibrariesLeft means the service kept rejecting the contract after
	// every library was pruned.
	ErrNoLibrariesLeft = errors.New("verification failed with no libraries left to prune")
)

// DiagnosticError is a rejection from the verification service carrying its
// free-text diagnostic.
type DiagnosticError struct {
	Text string
}

func (e *DiagnosticError) Error() string {
	return fmt.Sprintf("verification rejected: %s", firstLine(e.Text))
}

// Transient wraps err so the engine retries the attempt unchanged.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
