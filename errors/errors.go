// Package errors provides error handling for preempt.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for CLI-facing failures
//
// Usage:
//
//	if err := client.Requeue(ctx, id); err != nil {
//	    return errors.Wrapf(err, "requeue job %s", id)
//	}
//
//	return errors.WithHint(err, "is scontrol on PATH?")
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
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Sentinel errors. Match with errors.Is; wrap or Mark to add context.
var (
	// ErrRequeueFailed means the scheduler rejected or could not process a requeue request.
	ErrRequeueFailed = New("requeue failed")

	// ErrUnhandledSignal is returned when dispatching a signal kind with no registered handler.
	ErrUnhandledSignal = New("unhandled signal")

	// ErrNoJob indicates the process is not running inside a scheduler allocation.
	ErrNoJob = New("no scheduler job in environment")

	// ErrInvalidConfig indicates a configuration value failed validation.
	ErrInvalidConfig = New("invalid configuration")

	// ErrTimeout indicates a scheduler command did not finish within its deadline.
	ErrTimeout = New("operation timed out")
)

// IsRequeueFailed reports whether err is or wraps ErrRequeueFailed
func IsRequeueFailed(err error) bool {
	return err != nil && Is(err, ErrRequeueFailed)
}

// IsTimeout reports whether err is or wraps ErrTimeout
func IsTimeout(err error) bool {
	return err != nil && Is(err, ErrTimeout)
}

// NewInvalidConfigError creates an invalid-config error with a formatted message
func NewInvalidConfigError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidConfig)
}

// RequeueFailed marks err as a requeue failure, keeping its message and chain.
func RequeueFailed(err error) error {
	if err == nil {
		return nil
	}
	return Mark(err, ErrRequeueFailed)
}
