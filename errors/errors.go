// Package errors provides the error classification used across resilkit.
// Every failure a primitive can produce falls into one of three classes so
// callers can decide between retrying, fixing input, or giving up.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that recover on their own
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents failures that need manual intervention
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Construction and configuration
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Connectivity
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrChannelDisabled    = errors.New("channel disabled")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Data
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")
	ErrKeyNotFound   = errors.New("key not found")

	// Admission
	ErrRateLimited = errors.New("rate limited")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// sentinelClasses maps well-known sentinels to their class. Order matters
// only for errors that wrap more than one sentinel.
var sentinelClasses = []struct {
	err   error
	class ErrorClass
}{
	{ErrMaxRetriesExceeded, ErrorFatal},
	{ErrMissingConfig, ErrorFatal},
	{ErrInvalidConfig, ErrorInvalid},
	{ErrInvalidData, ErrorInvalid},
	{ErrParsingFailed, ErrorInvalid},
	{ErrKeyNotFound, ErrorInvalid},
	{ErrConnectionTimeout, ErrorTransient},
	{ErrConnectionLost, ErrorTransient},
	{ErrNoConnection, ErrorTransient},
	{ErrRateLimited, ErrorTransient},
	{context.DeadlineExceeded, ErrorTransient},
}

// classOf resolves the class of err. An explicit ClassifiedError wins, then
// the sentinels, then network timeouts. ok is false when nothing matched.
func classOf(err error) (class ErrorClass, ok bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	for _, s := range sentinelClasses {
		if errors.Is(err, s.err) {
			return s.class, true
		}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrorTransient, true
	}
	return ErrorTransient, false
}

// IsTransient reports whether err is expected to clear up without intervention.
func IsTransient(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorTransient
}

// IsFatal reports whether err requires manual intervention.
func IsFatal(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorFatal
}

// IsInvalid reports whether err was caused by bad input.
func IsInvalid(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorInvalid
}

// Classify returns the error class for an error.
// Unknown errors default to transient.
func Classify(err error) ErrorClass {
	class, _ := classOf(err)
	return class
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return wrapClassified(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return wrapClassified(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapClassified(ErrorInvalid, err, component, method, action)
}

func wrapClassified(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// Is, As and New re-export the standard library helpers so callers need a
// single errors import.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)
