package busline

import (
	"context"
	"time"
)

// RetryObserver receives redelivery outcomes. Implementations must be
// non-blocking; middleware/metrics provides a Prometheus-backed one.
type RetryObserver interface {
	ObserveRetry(messageType string, attempt int)
	ObserveDeadLetter(messageType string)
}

// ControllerOption configures a RedeliveryController.
type ControllerOption func(*RedeliveryController)

// WithMaxRetries sets the maximum number of redelivery attempts.
func WithMaxRetries(n int) ControllerOption {
	return func(c *RedeliveryController) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryPath sets the retry path name.
func WithRetryPath(name string) ControllerOption {
	return func(c *RedeliveryController) {
		c.retryPath = name
	}
}

// WithErrorPath sets the error path name.
func WithErrorPath(name string) ControllerOption {
	return func(c *RedeliveryController) {
		c.errorPath = name
	}
}

// WithControllerLogger sets the logger.
func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *RedeliveryController) {
		c.logger = logger
	}
}

// WithControllerRetryObserver sets the observer notified of retries and
// dead-letters.
func WithControllerRetryObserver(obs RetryObserver) ControllerOption {
	return func(c *RedeliveryController) {
		c.observer = obs
	}
}

// RedeliveryController is the consumer-side retry policy. It counts
// delivery attempts in message headers, resubmits failed messages to the
// retry path, and finally routes them to the error path.
//
// The original delivery is acknowledged immediately after classification
// (success, retry, or error), not after the retried copy is processed.
// This yields at-least-once semantics: a crash between ack and republish
// can lose a retry attempt but never blocks the queue.
type RedeliveryController struct {
	transport Transport
	pipeline  *Pipeline
	sourceQueue string

	maxRetries int
	retryPath  string
	errorPath  string

	observer RetryObserver
	logger   Logger
}

// NewRedeliveryController creates a new RedeliveryController for the
// given source queue. Default paths are queue+".retry" and
// queue+".error" with three retries.
func NewRedeliveryController(transport Transport, pipeline *Pipeline, sourceQueue string, opts ...ControllerOption) *RedeliveryController {
	c := &RedeliveryController{
		transport:   transport,
		pipeline:    pipeline,
		sourceQueue: sourceQueue,
		maxRetries:  3,
		retryPath:   sourceQueue + ".retry",
		errorPath:   sourceQueue + ".error",
		logger:      &noopLogger{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// RetryPath returns the retry path name.
func (c *RedeliveryController) RetryPath() string {
	return c.retryPath
}

// ErrorPath returns the error path name.
func (c *RedeliveryController) ErrorPath() string {
	return c.errorPath
}

// HandleDelivery processes one delivery through the pipeline and
// classifies the outcome. It always returns nil to the transport: the
// delivery is acknowledged after classification, and the failure, if
// any, lives on in the republished copy.
func (c *RedeliveryController) HandleDelivery(ctx context.Context, d Delivery) error {
	err := c.pipeline.OnMessage(ctx, d)
	if err == nil {
		return nil
	}

	retries := d.Headers.RetryCount()
	if retries < c.maxRetries {
		c.republish(ctx, d, retries+1)
		return nil
	}

	c.deadLetter(ctx, d, err)
	return nil
}

// republish sends the message unchanged, with an incremented counter, to
// the retry path. The retry path delays redelivery before returning the
// message to the source queue.
func (c *RedeliveryController) republish(ctx context.Context, d Delivery, attempt int) {
	headers := d.Headers.Clone()
	headers.SetRetryCount(attempt)
	headers[HeaderSourceQueue] = c.sourceQueue

	if err := c.transport.Send(ctx, c.retryPath, d.Body, headers); err != nil {
		c.logger.Error("failed to republish to retry path",
			"messageType", d.TypeName,
			"attempt", attempt,
			"error", err)
		return
	}

	if c.observer != nil {
		c.observer.ObserveRetry(d.TypeName, attempt)
	}
	c.logger.Warn("processing failed, scheduled retry",
		"messageType", d.TypeName,
		"attempt", attempt,
		"maxRetries", c.maxRetries)
}

// deadLetter publishes the message to the error path with the failure
// description in headers. This is the only user-visible terminal
// failure; the message stays available for manual inspection or replay.
func (c *RedeliveryController) deadLetter(ctx context.Context, d Delivery, cause error) {
	headers := d.Headers.Clone()
	headers[HeaderSourceQueue] = c.sourceQueue
	headers[HeaderError] = cause.Error()
	headers[HeaderErrorTime] = time.Now().UTC().Format(time.RFC3339)

	if err := c.transport.Send(ctx, c.errorPath, d.Body, headers); err != nil {
		c.logger.Error("failed to publish to error path",
			"messageType", d.TypeName,
			"error", err)
		return
	}

	if c.observer != nil {
		c.observer.ObserveDeadLetter(d.TypeName)
	}
	c.logger.Error("retries exhausted, message dead-lettered",
		"messageType", d.TypeName,
		"retries", d.Headers.RetryCount(),
		"cause", cause)
}
