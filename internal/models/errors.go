package models

import (
	"errors"
	"fmt"
)

// Validation sentinels returned by model hooks.
var (
	ErrJobTypeRequired    = errors.New("job type is required")
	ErrProgressOutOfRange = errors.New("progress must be between 0 and 100")
	ErrAssetJobRequired   = errors.New("asset job id is required")
	ErrAssetPathRequired  = errors.New("asset path is required")
)

// ErrorClass classifies a failure for retry policy and HTTP mapping.
type ErrorClass string

const (
	// ErrClassInvalidRequest means validation failed; no job is inserted.
	ErrClassInvalidRequest ErrorClass = "InvalidRequest"
	// ErrClassUnauthorized means the API key is missing or disabled.
	ErrClassUnauthorized ErrorClass = "Unauthorized"
	// ErrClassRateLimited means the per-key window was exceeded.
	ErrClassRateLimited ErrorClass = "RateLimited"
	// ErrClassDependencyUnavailable means the transcoder or storage was down
	// when the job started.
	ErrClassDependencyUnavailable ErrorClass = "DependencyUnavailable"
	// ErrClassTranscoderFailed means the child process exited non-zero.
	ErrClassTranscoderFailed ErrorClass = "TranscoderFailed"
	// ErrClassTimedOut means the per-job wall-clock budget was exceeded.
	ErrClassTimedOut ErrorClass = "TimedOut"
	// ErrClassAssetNotProduced means a stage output was missing or zero-size.
	ErrClassAssetNotProduced ErrorClass = "AssetNotProduced"
	// ErrClassInternalError is the catch-all for unexpected failures.
	ErrClassInternalError ErrorClass = "InternalError"
)

// ClassifiedError carries an ErrorClass alongside the underlying cause.
type ClassifiedError struct {
	Class ErrorClass
	Err   error

	// Fatal marks a failure that must not be retried regardless of the
	// class default, e.g. a transcoder invocation with invalid arguments.
	Fatal bool
}

// Error implements error.
func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// NewClassified wraps err with the given class.
func NewClassified(class ErrorClass, err error) *ClassifiedError {
	return &ClassifiedError{Class: class, Err: err}
}

// NewClassifiedf wraps a formatted message with the given class.
func NewClassifiedf(class ErrorClass, format string, args ...any) *ClassifiedError {
	return &ClassifiedError{Class: class, Err: fmt.Errorf(format, args...)}
}

// NewFatal wraps err with the given class and suppresses retries.
func NewFatal(class ErrorClass, err error) *ClassifiedError {
	return &ClassifiedError{Class: class, Err: err, Fatal: true}
}

// Classify extracts the ErrorClass from err, defaulting to InternalError.
func Classify(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ErrClassInternalError
}

// IsFatal reports whether err carries the no-retry marker.
func IsFatal(err error) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Fatal
}

// MaxRetriesFor returns how many attempts in total the class allows, given the
// job's configured maximum. DependencyUnavailable and TranscoderFailed retry up
// to the job maximum; TimedOut, AssetNotProduced and InternalError retry once.
func (c ErrorClass) MaxRetriesFor(jobMax int) int {
	switch c {
	case ErrClassDependencyUnavailable, ErrClassTranscoderFailed:
		return jobMax
	case ErrClassTimedOut, ErrClassAssetNotProduced, ErrClassInternalError:
		if jobMax > 2 {
			return 2
		}
		return jobMax
	default:
		return 1
	}
}

// Retryable reports whether a job failing with err on the given attempt may be
// requeued. Fatal errors and request-level classes never retry.
func Retryable(err error, attempts, jobMax int) bool {
	if IsFatal(err) {
		return false
	}
	class := Classify(err)
	switch class {
	case ErrClassInvalidRequest, ErrClassUnauthorized, ErrClassRateLimited:
		return false
	}
	return attempts < class.MaxRetriesFor(jobMax)
}
