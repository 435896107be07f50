package busline

import (
	"errors"
	"fmt"

	"github.com/R-Suite/busline/adapters"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
// Store-level errors are aliases to the adapters package errors.
var (
	// ErrSagaNotFound indicates no saga instance matched the correlation
	// predicate. This is a valid "no matching saga" result, not a failure.
	ErrSagaNotFound = adapters.ErrSagaNotFound

	// ErrConcurrencyConflict indicates an optimistic concurrency violation
	// on a saga record update.
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict

	// ErrStoreUnavailable indicates the saga store could not serve a
	// request (connection loss, timeout, lock acquisition exhausted).
	ErrStoreUnavailable = adapters.ErrStoreUnavailable

	// ErrNoMappingConfigured indicates no correlation mapping exists for
	// a (saga type, message type) pair.
	ErrNoMappingConfigured = errors.New("busline: no correlation mapping configured")

	// ErrIncompatibleMappingType indicates a correlation mapping's target
	// field type cannot be compared with the extracted value's type.
	ErrIncompatibleMappingType = errors.New("busline: incompatible correlation mapping type")

	// ErrRequestTimedOut indicates a request's timeout elapsed before all
	// expected replies arrived.
	ErrRequestTimedOut = errors.New("busline: request timed out")

	// ErrHandlerExecutionFailed indicates user handler code returned an
	// error or panicked.
	ErrHandlerExecutionFailed = errors.New("busline: handler execution failed")

	// ErrMessageTypeNotRegistered indicates an unknown message type was
	// encountered during deserialization.
	ErrMessageTypeNotRegistered = errors.New("busline: message type not registered")

	// ErrSerializationFailed indicates message serialization or
	// deserialization failed.
	ErrSerializationFailed = errors.New("busline: serialization failed")

	// ErrBusClosed indicates the bus has been stopped.
	ErrBusClosed = errors.New("busline: bus closed")

	// ErrConsumeNotSupported indicates the transport is publish-only.
	ErrConsumeNotSupported = errors.New("busline: transport does not support consuming")
)

// NoMappingError provides detailed information about a missing
// correlation mapping.
type NoMappingError struct {
	SagaType    string
	MessageType string
}

// Error returns the error message.
func (e *NoMappingError) Error() string {
	return fmt.Sprintf("busline: no correlation mapping configured for saga %q and message %q",
		e.SagaType, e.MessageType)
}

// Is reports whether this error matches the target error.
func (e *NoMappingError) Is(target error) bool {
	return target == ErrNoMappingConfigured
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *NoMappingError) Unwrap() error {
	return ErrNoMappingConfigured
}

// IncompatibleMappingError provides detailed information about a
// correlation mapping whose extracted value cannot be compared with the
// mapped saga data field.
type IncompatibleMappingError struct {
	SagaType     string
	MessageType  string
	PropertyPath string
	WantKind     string
	GotKind      string
}

// Error returns the error message.
func (e *IncompatibleMappingError) Error() string {
	return fmt.Sprintf("busline: correlation mapping for saga %q, message %q at %q expects %s, got %s",
		e.SagaType, e.MessageType, e.PropertyPath, e.WantKind, e.GotKind)
}

// Is reports whether this error matches the target error.
func (e *IncompatibleMappingError) Is(target error) bool {
	return target == ErrIncompatibleMappingType
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *IncompatibleMappingError) Unwrap() error {
	return ErrIncompatibleMappingType
}

// HandlerError wraps an error (or recovered panic) raised by user handler
// or saga code. It is caught at the dispatch pipeline boundary and
// converted into a failed-processing signal for the redelivery controller.
type HandlerError struct {
	MessageType string
	Handler     string
	Cause       error
	Stack       string
}

// Error returns the error message.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("busline: handler %q failed processing %q: %v",
		e.Handler, e.MessageType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *HandlerError) Is(target error) bool {
	return target == ErrHandlerExecutionFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *HandlerError) Unwrap() error {
	return e.Cause
}

// NewHandlerError creates a new HandlerError.
func NewHandlerError(messageType, handler string, cause error) *HandlerError {
	return &HandlerError{
		MessageType: messageType,
		Handler:     handler,
		Cause:       cause,
	}
}

// RequestTimeoutError provides detailed information about a timed-out
// request, including how many replies had arrived when the timeout fired.
type RequestTimeoutError struct {
	Token    string
	Expected int
	Received int
}

// Error returns the error message.
func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("busline: request %q timed out after %d of %d replies",
		e.Token, e.Received, e.Expected)
}

// Is reports whether this error matches the target error.
func (e *RequestTimeoutError) Is(target error) bool {
	return target == ErrRequestTimedOut
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *RequestTimeoutError) Unwrap() error {
	return ErrRequestTimedOut
}

// SerializationError provides detailed information about a serialization
// failure.
type SerializationError struct {
	MessageType string
	Operation   string // "serialize" or "deserialize"
	Cause       error
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("busline: failed to %s message type %q: %v",
		e.Operation, e.MessageType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *SerializationError) Unwrap() error {
	return e.Cause
}
