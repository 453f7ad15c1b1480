// Package errors provides error handling for certflow.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Safe detail/hint formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrTaskNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint        = crdb.WithHint
	WithHintf       = crdb.WithHintf
	WithDetail      = crdb.WithDetail
	WithDetailf     = crdb.WithDetailf
	WithSafeDetails = crdb.WithSafeDetails
)

// Error inspection
var (
	Mark       = crdb.Mark
	Is         = crdb.Is
	IsAny      = crdb.IsAny
	As         = crdb.As
	Unwrap     = crdb.Unwrap
	UnwrapOnce = crdb.UnwrapOnce
	UnwrapAll  = crdb.UnwrapAll
)

// Common sentinel errors used across certflow.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrTaskNotFound indicates the requested course task does not exist
	ErrTaskNotFound = New("task not found")

	// ErrPlatformUnsupported indicates no platform table exists for the requested platform
	ErrPlatformUnsupported = New("platform not supported")

	// ErrSelectorMissing indicates a platform table lacks a required selector
	ErrSelectorMissing = New("required selector missing")

	// ErrCircuitOpen indicates a dependency circuit breaker rejected the call
	ErrCircuitOpen = New("circuit open")

	// ErrRunBudgetExceeded indicates a course run exceeded its wall-clock budget
	ErrRunBudgetExceeded = New("run budget exceeded")

	// ErrDetectionAmbiguous indicates the visual classifier stayed below
	// confidence for longer than the corrective-action budget allows
	ErrDetectionAmbiguous = New("detection ambiguous")
)

// IsTaskNotFound checks if an error is or wraps ErrTaskNotFound.
func IsTaskNotFound(err error) bool {
	return err != nil && Is(err, ErrTaskNotFound)
}

// IsCircuitOpen checks if an error is or wraps ErrCircuitOpen.
func IsCircuitOpen(err error) bool {
	return err != nil && Is(err, ErrCircuitOpen)
}

// IsStructural reports whether an error fails a task immediately, with no
// retry: bad credentials, unsupported platform, missing selector, or any
// error carrying a non-retryable kind outside the provider taxonomy.
func IsStructural(err error) bool {
	if err == nil {
		return false
	}
	if IsAny(err, ErrPlatformUnsupported, ErrSelectorMissing) {
		return true
	}
	switch KindOf(err) {
	case KindAuth, KindInvalidInput:
		return true
	}
	return false
}
