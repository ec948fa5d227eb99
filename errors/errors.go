// Package errors provides the error classification and the domain error
// taxonomy shared by the query compiler, the mutation pipeline and the
// gateways.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass says how a caller should treat an error.
type ErrorClass int

const (
	// ErrorTransient errors may succeed on retry.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid errors come from bad input and will fail again.
	ErrorInvalid
	// ErrorFatal errors stop startup or the operation for good.
	ErrorFatal
)

var classNames = map[ErrorClass]string{
	ErrorTransient: "transient",
	ErrorInvalid:   "invalid",
	ErrorFatal:     "fatal",
}

func (ec ErrorClass) String() string {
	if name, ok := classNames[ec]; ok {
		return name
	}
	return "unknown"
}

var (
	ErrAlreadyStarted = errors.New("already started")

	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrKeyNotFound        = errors.New("key not found")

	ErrInvalidData   = errors.New("invalid data format")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError is an error tagged with its class and the place it was
// raised.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error { return ce.Err }

var (
	transientSentinels = []error{ErrConnectionTimeout, ErrConnectionLost, ErrStorageUnavailable, context.DeadlineExceeded}
	transientPhrases   = []string{"timeout", "connection refused", "connection reset", "unavailable"}
	fatalSentinels     = []error{ErrInvalidConfig, ErrMissingConfig}
)

// classOf reports the class of err when it can be decided from its type or
// sentinel. Message matching is left to IsTransient.
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	var be *BackendError
	if errors.As(err, &be) {
		if be.Status == 0 || be.Status >= 500 {
			return ErrorTransient, true
		}
		return ErrorInvalid, true
	}
	var se *SchemaError
	if errors.As(err, &se) {
		return ErrorInvalid, true
	}
	if matchesAny(err, transientSentinels) {
		return ErrorTransient, true
	}
	if matchesAny(err, fatalSentinels) {
		return ErrorFatal, true
	}
	if errors.Is(err, ErrInvalidData) {
		return ErrorInvalid, true
	}
	return 0, false
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsTransient reports whether retrying err may succeed. Unclassified errors
// count as transient when their message reads like a network failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

func IsFatal(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorFatal
}

func IsInvalid(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorInvalid
}

// Classify returns the class of err. Anything undecided is transient.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	if class, ok := classOf(err); ok {
		return class
	}
	return ErrorTransient
}

// Wrap adds context as "component.method: action failed: %w".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
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

func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

// Is, As and New mirror the standard library so that importing this package
// as errors is enough.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func New(text string) error { return errors.New(text) }
