// Package faultcore distinguishes the Fatal severity class of spec.md §7's
// error taxonomy — STR allocation failure, forkserver handshake failure, a
// target that isn't executable, a consistency check that never settles,
// output directory lock contention — from recoverable per-run errors that
// are logged and swallowed by the server loop.
//
// A FatalError is always returned up through an ordinary Go call chain
// rather than exiting in place, so the deferred cleanup already registered
// by its callers (STR detachment, output directory unlock) runs before the
// process exits. cmd/fuzzcore translates the FatalError that eventually
// reaches it into a non-zero exit after that cleanup has run.
package faultcore

import "fmt"

// FatalError wraps an error to mark it process-ending.
type FatalError struct {
	err error
}

// Fatal wraps err as a FatalError.
func Fatal(err error) *FatalError {
	return &FatalError{err: err}
}

// Fatalf formats a new FatalError.
func Fatalf(format string, args ...interface{}) *FatalError {
	return &FatalError{err: fmt.Errorf(format, args...)}
}

func (e *FatalError) Error() string { return e.err.Error() }

// Unwrap exposes the underlying error for errors.Is/errors.As.
func (e *FatalError) Unwrap() error { return e.err }
