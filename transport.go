package busline

import (
	"context"
	"time"
)

// Transport is the narrow interface the bus consumes from a wire
// transport. Connection management, channel setup, and consumer groups
// are the transport's own concern.
type Transport interface {
	// Publish fans a message out to an exchange or topic.
	Publish(ctx context.Context, topic string, body []byte, headers Headers) error

	// Send delivers a message to a single destination queue.
	Send(ctx context.Context, destination string, body []byte, headers Headers) error

	// StartConsuming begins delivering messages from the queue to fn.
	// The delivery is acknowledged when fn returns; fn must classify
	// failures itself (see RedeliveryController).
	StartConsuming(ctx context.Context, queue string, fn func(ctx context.Context, d Delivery) error) (Subscription, error)

	// DeclareRetryPath declares a path that delays redelivery by the
	// given interval before returning messages to the target queue. In
	// broker-backed transports this is a dead-letter-on-expiry queue
	// acting as a delay buffer.
	DeclareRetryPath(ctx context.Context, name string, delay time.Duration, target string) error

	// DeclareErrorPath declares the terminal path for messages that
	// exhausted their retries.
	DeclareErrorPath(ctx context.Context, name string) error

	// Close releases transport resources.
	Close() error
}

// Subscription represents an active consumer that can be stopped.
type Subscription interface {
	Close() error
}

// Container supplies handler and saga registrations discovered at
// startup. The bus only reads the registration sets; instantiation and
// dependency wiring stay inside the container.
type Container interface {
	// Handlers returns the stateless handler instances.
	Handlers() []Handler

	// Sagas returns the saga registrations.
	Sagas() []SagaRegistration
}

// ExceptionSink receives handler errors caught at the dispatch pipeline
// boundary before they are converted into failed-processing signals.
type ExceptionSink interface {
	Handle(err error)
}

// ExceptionSinkFunc adapts a function to the ExceptionSink interface.
type ExceptionSinkFunc func(err error)

// Handle invokes the function.
func (f ExceptionSinkFunc) Handle(err error) {
	f(err)
}

// noopSink discards exceptions.
type noopSink struct{}

func (noopSink) Handle(err error) {}

// loggerSink reports exceptions through the bus logger.
type loggerSink struct {
	logger Logger
}

func (s loggerSink) Handle(err error) {
	s.logger.Error("handler execution failed", "error", err)
}

// Logger defines the logging interface for the bus.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger {
	return &noopLogger{}
}

// noopLogger is a no-op logger implementation.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...interface{}) {}
func (l *noopLogger) Info(msg string, args ...interface{})  {}
func (l *noopLogger) Warn(msg string, args ...interface{})  {}
func (l *noopLogger) Error(msg string, args ...interface{}) {}
