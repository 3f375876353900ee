package engine

import (
	"errors"
	"fmt"
)

// RunErrorCode categorizes run-level failures.
type RunErrorCode string

const (
	// ErrCodeSelfDestruct means the validation service issued a terminal
	// rejection and the installation deactivated itself.
	ErrCodeSelfDestruct RunErrorCode = "SELF_DESTRUCT"

	// ErrCodeRunFailure means the run's own bookkeeping failed outside
	// any subject boundary; the installation deactivated itself and a
	// diagnostic dump was dispatched.
	ErrCodeRunFailure RunErrorCode = "RUN_FAILURE"

	// ErrCodeValidation means the validation service could not be
	// reached. The run aborts but the installation stays active; the next
	// scheduled run retries.
	ErrCodeValidation RunErrorCode = "VALIDATION_UNAVAILABLE"
)

// RunError is a run-level failure with structured context for operators.
type RunError struct {
	Code    RunErrorCode
	Message string
	Reason  string // human-readable reason surfaced in the notification
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (reason: %s)", e.Code, e.Message, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsSelfDestruct reports whether err is a terminal validation rejection.
// Uses errors.As to handle wrapped errors.
func IsSelfDestruct(err error) bool {
	var re *RunError
	return errors.As(err, &re) && re.Code == ErrCodeSelfDestruct
}

// IsRunFailure reports whether err is a run-level bookkeeping failure.
func IsRunFailure(err error) bool {
	var re *RunError
	return errors.As(err, &re) && re.Code == ErrCodeRunFailure
}
