// Package apierror defines the closed set of failure classes a remote
// generation call can report. Classification happens once, at the remote
// client boundary; consumers switch on the class and never inspect messages.
package apierror

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass represents a classification of remote call failures.
type ErrorClass string

const (
	// ClassAuth means the credential was rejected by the remote service.
	ClassAuth ErrorClass = "auth"

	// ClassSafety means the request content was refused by a safety policy.
	ClassSafety ErrorClass = "safety"

	// ClassQuota means the credential hit a rate limit or exhausted its quota.
	ClassQuota ErrorClass = "quota"

	// ClassValidation means required input was missing; no call was made.
	ClassValidation ErrorClass = "validation"

	// ClassTransient covers network errors, 5xx and anything unrecognised.
	ClassTransient ErrorClass = "transient"
)

// Classes lists every ErrorClass in a stable order (used for metric labels).
var Classes = []ErrorClass{ClassAuth, ClassSafety, ClassQuota, ClassValidation, ClassTransient}

// Error is a classified remote call failure.
type Error struct {
	Class      ErrorClass
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error without a cause.
func New(class ErrorClass, statusCode int, message string) *Error {
	return &Error{Class: class, StatusCode: statusCode, Message: message}
}

// Wrap classifies an existing error.
func Wrap(class ErrorClass, err error, message string) *Error {
	return &Error{Class: class, Message: message, Err: err}
}

// ClassOf returns the class of err. Unclassified errors, including context
// cancellation, are transient. A nil error has no class.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ClassTransient
}

// IsCancellation reports whether err stems from context cancellation or a
// deadline rather than from the remote service.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Is reports whether err carries the given class.
func Is(err error, class ErrorClass) bool {
	return err != nil && ClassOf(err) == class
}

// Retryable reports whether the same credential may be tried again for this
// class. Only quota failures are retried; everything else either rotates or
// aborts.
func Retryable(class ErrorClass) bool {
	switch class {
	case ClassQuota:
		return true
	default:
		return false
	}
}
