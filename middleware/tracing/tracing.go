// Package tracing provides OpenTelemetry integration for busline.
//
// Basic usage:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer(tracing.WithServiceName("orders"))
//	bus := busline.New("orders", transport, store,
//		busline.WithBusMiddleware(tracing.Middleware(tracer)))
//
//	tracedStore := tracing.NewStoreMiddleware(store, tracer)
//
// The dispatch middleware captures the message type, correlation id,
// dispatch duration, and failure details.
package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/R-Suite/busline"
	"github.com/R-Suite/busline/adapters"
)

const (
	// TracerName is the name of the busline tracer.
	TracerName = "github.com/R-Suite/busline"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "busline"
)

// Tracer wraps an OpenTelemetry tracer for busline operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a new Tracer with the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

// Middleware creates dispatch middleware that traces message handling.
func Middleware(tracer *Tracer) busline.Middleware {
	return func(next busline.DispatchFunc) busline.DispatchFunc {
		return func(ctx context.Context, msg busline.Message, cc *busline.ConsumeContext) error {
			spanName := fmt.Sprintf("consume.%s", msg.MessageType())

			ctx, span := tracer.StartSpan(ctx, spanName,
				trace.WithSpanKind(trace.SpanKindConsumer),
			)
			defer span.End()

			attrs := []attribute.KeyValue{
				attribute.String("busline.service", tracer.serviceName),
				attribute.String("busline.message.type", msg.MessageType()),
				attribute.String("busline.correlation_id", msg.CorrelationID().String()),
			}
			if retries := cc.Headers.RetryCount(); retries > 0 {
				attrs = append(attrs, attribute.Int("busline.retry_count", retries))
			}
			if cc.Headers.IsReply() {
				attrs = append(attrs, attribute.Bool("busline.reply", true))
			}
			span.SetAttributes(attrs...)

			err := next(ctx, msg, cc)

			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}

			return err
		}
	}
}

// StoreMiddleware wraps a SagaStore with tracing.
type StoreMiddleware struct {
	store  adapters.SagaStore
	tracer *Tracer
}

// Ensure interface compliance at compile time
var _ adapters.SagaStore = (*StoreMiddleware)(nil)

// NewStoreMiddleware wraps a saga store with tracing.
func NewStoreMiddleware(store adapters.SagaStore, tracer *Tracer) *StoreMiddleware {
	return &StoreMiddleware{
		store:  store,
		tracer: tracer,
	}
}

// FindAndLock finds a saga record with tracing.
func (m *StoreMiddleware) FindAndLock(ctx context.Context, sagaType string, pred adapters.Predicate) (*adapters.SagaRecord, error) {
	ctx, span := m.tracer.StartSpan(ctx, "sagastore.find_and_lock",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("busline.service", m.tracer.serviceName),
		attribute.String("busline.saga.type", sagaType),
		attribute.String("busline.saga.predicate", pred.String()),
	)

	record, err := m.store.FindAndLock(ctx, sagaType, pred)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(
			attribute.String("busline.saga.key", record.Key),
			attribute.Int64("busline.saga.version", record.Version),
		)
	}

	return record, err
}

// UpsertNew inserts a saga record with tracing.
func (m *StoreMiddleware) UpsertNew(ctx context.Context, sagaType string, correlationValue any, data map[string]any) error {
	ctx, span := m.tracer.StartSpan(ctx, "sagastore.upsert_new",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("busline.service", m.tracer.serviceName),
		attribute.String("busline.saga.type", sagaType),
	)

	err := m.store.UpsertNew(ctx, sagaType, correlationValue, data)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// Update persists a saga record with tracing.
func (m *StoreMiddleware) Update(ctx context.Context, record *adapters.SagaRecord) error {
	ctx, span := m.tracer.StartSpan(ctx, "sagastore.update",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("busline.service", m.tracer.serviceName),
		attribute.String("busline.saga.key", record.Key),
		attribute.Int64("busline.saga.version", record.Version),
	)

	err := m.store.Update(ctx, record)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// Delete removes a saga record with tracing.
func (m *StoreMiddleware) Delete(ctx context.Context, record *adapters.SagaRecord) error {
	ctx, span := m.tracer.StartSpan(ctx, "sagastore.delete",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("busline.service", m.tracer.serviceName),
		attribute.String("busline.saga.key", record.Key),
	)

	err := m.store.Delete(ctx, record)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// ScheduleWakeup stores a wakeup with tracing.
func (m *StoreMiddleware) ScheduleWakeup(ctx context.Context, wakeup *adapters.Wakeup) error {
	ctx, span := m.tracer.StartSpan(ctx, "sagastore.schedule_wakeup",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("busline.service", m.tracer.serviceName),
		attribute.String("busline.saga.type", wakeup.SagaType),
		attribute.String("busline.message.type", wakeup.MessageType),
	)

	err := m.store.ScheduleWakeup(ctx, wakeup)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// DueWakeups claims due wakeups with tracing.
func (m *StoreMiddleware) DueWakeups(ctx context.Context, now time.Time, limit int) ([]*adapters.Wakeup, error) {
	ctx, span := m.tracer.StartSpan(ctx, "sagastore.due_wakeups",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	due, err := m.store.DueWakeups(ctx, now, limit)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int("busline.wakeups.claimed", len(due)))
	}

	return due, err
}

// CancelWakeup removes a wakeup with tracing.
func (m *StoreMiddleware) CancelWakeup(ctx context.Context, id uuid.UUID) error {
	ctx, span := m.tracer.StartSpan(ctx, "sagastore.cancel_wakeup",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	err := m.store.CancelWakeup(ctx, id)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// Close closes the underlying store.
func (m *StoreMiddleware) Close() error {
	return m.store.Close()
}
