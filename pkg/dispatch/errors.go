package dispatch

import (
	"errors"
	"fmt"
)

// Common errors returned by the dispatcher.
var (
	// ErrRetryExhausted is returned when all dispatch attempts are used up.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled while
	// waiting to retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a normalized failure category for an inference call.
// The core depends only on this classification, never on provider-specific
// error shapes.
type ErrorClass string

const (
	// ErrorClassRateLimited means the credential hit its request rate limit.
	// Handled internally by switching credentials; never surfaced per-item.
	ErrorClassRateLimited ErrorClass = "rate_limited"

	// ErrorClassQuotaExhausted means the credential hit its daily quota cap.
	ErrorClassQuotaExhausted ErrorClass = "quota_exhausted"

	// ErrorClassTransient means a retryable failure not attributable to the
	// credential (network error, 5xx, timeout, unparseable model output).
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent means the item itself cannot be processed
	// (malformed input, rejected request). Never retried.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassInvalidCredential means the service rejected the credential
	// itself. The credential is retired; the item is retried on another one.
	ErrorClassInvalidCredential ErrorClass = "invalid_credential"
)

// ClassifiedError carries an error class alongside the underlying failure.
type ClassifiedError struct {
	Class      ErrorClass
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// NewClassifiedError builds a ClassifiedError for the given class.
func NewClassifiedError(class ErrorClass, statusCode int, message string, err error) *ClassifiedError {
	return &ClassifiedError{Class: class, StatusCode: statusCode, Message: message, Err: err}
}

// Classify extracts the error class from an inference failure.
// Deadline expiry counts as transient; anything unclassified is treated as
// transient so a flaky collaborator never turns into a permanent item loss.
func Classify(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	// Deadline expiry and anything else unclassified count as transient.
	return ErrorClassTransient
}

// shouldRetry determines whether an error class warrants another attempt
// with a freshly acquired credential.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassPermanent:
		// Retries must not be wasted on non-recoverable errors.
		return false
	case ErrorClassRateLimited, ErrorClassQuotaExhausted, ErrorClassTransient, ErrorClassInvalidCredential:
		// The failing credential just left the active set; a different
		// one may well succeed.
		return true
	default:
		return false
	}
}
