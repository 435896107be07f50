package busline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// RecoveryMiddleware recovers from panics around the whole dispatch and
// returns them as errors, so a panicking filter or middleware cannot
// take down a consumer worker.
func RecoveryMiddleware() Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, msg Message, cc *ConsumeContext) (err error) {
			defer func() {
				if r := recover(); r != nil {
					herr := NewHandlerError(msg.MessageType(), "", fmt.Errorf("panic: %v", r))
					herr.Stack = string(debug.Stack())
					err = herr
				}
			}()
			return next(ctx, msg, cc)
		}
	}
}

// LoggingMiddleware logs message dispatch.
type LoggingMiddleware struct {
	logger Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Middleware returns the middleware function.
func (m *LoggingMiddleware) Middleware() Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, msg Message, cc *ConsumeContext) error {
			start := time.Now()

			m.logger.Debug("dispatching message",
				"type", msg.MessageType(),
				"correlationId", msg.CorrelationID().String(),
			)

			err := next(ctx, msg, cc)

			duration := time.Since(start)

			if err != nil {
				m.logger.Error("message failed",
					"type", msg.MessageType(),
					"correlationId", msg.CorrelationID().String(),
					"duration", duration,
					"error", err,
				)
			} else {
				m.logger.Info("message processed",
					"type", msg.MessageType(),
					"correlationId", msg.CorrelationID().String(),
					"duration", duration,
				)
			}

			return err
		}
	}
}

// TimeoutMiddleware adds a timeout to message dispatch.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, msg Message, cc *ConsumeContext) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, msg, cc)
		}
	}
}
