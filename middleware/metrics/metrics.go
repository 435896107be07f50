// Package metrics provides Prometheus metrics integration for busline.
//
// Basic usage:
//
//	m := metrics.New(metrics.WithMetricsServiceName("orders"))
//	m.MustRegister()
//
//	bus := busline.New("orders", transport, store,
//		busline.WithBusMiddleware(m.Middleware()),
//		busline.WithRetryObserver(m))
//
//	tracedStore := m.WrapStore(store)
//
// The metrics collected include:
//   - Message dispatch counts and durations
//   - Saga store operations (find, insert, update, delete)
//   - Retry and dead-letter counts
//   - Error counts by type
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/R-Suite/busline"
	"github.com/R-Suite/busline/adapters"
)

// Default metric labels.
const (
	LabelMessageType = "message_type"
	LabelSagaType    = "saga_type"
	LabelOperation   = "operation"
	LabelStatus      = "status"
	LabelErrorType   = "error_type"
	LabelService     = "service"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation values.
const (
	OperationFindAndLock = "find_and_lock"
	OperationUpsertNew   = "upsert_new"
	OperationUpdate      = "update"
	OperationDelete      = "delete"
)

// Ensure interface compliance at compile time
var _ busline.RetryObserver = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for busline.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	// Dispatch metrics
	messagesTotal    *prometheus.CounterVec
	messageDuration  *prometheus.HistogramVec
	messagesInFlight *prometheus.GaugeVec

	// Saga store metrics
	storeOperationsTotal   *prometheus.CounterVec
	storeOperationDuration *prometheus.HistogramVec

	// Redelivery metrics
	retriesTotal     *prometheus.CounterVec
	deadLettersTotal *prometheus.CounterVec

	// Error metrics
	errorsTotal *prometheus.CounterVec
}

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithMetricsServiceName sets the service name label.
func WithMetricsServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "busline",
		subsystem:   "",
		serviceName: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m
}

func (m *Metrics) initMetrics() {
	m.messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "messages_total",
			Help:      "Total number of messages dispatched.",
		},
		[]string{LabelService, LabelMessageType, LabelStatus},
	)

	m.messageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "message_duration_seconds",
			Help:      "Duration of message dispatch in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelMessageType},
	)

	m.messagesInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "messages_in_flight",
			Help:      "Number of messages currently being dispatched.",
		},
		[]string{LabelService, LabelMessageType},
	)

	m.storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "sagastore_operations_total",
			Help:      "Total number of saga store operations.",
		},
		[]string{LabelService, LabelOperation, LabelStatus},
	)

	m.storeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "sagastore_operation_duration_seconds",
			Help:      "Duration of saga store operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelOperation},
	)

	m.retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "retries_total",
			Help:      "Total number of messages resubmitted to the retry path.",
		},
		[]string{LabelService, LabelMessageType},
	)

	m.deadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "dead_letters_total",
			Help:      "Total number of messages routed to the error path.",
		},
		[]string{LabelService, LabelMessageType},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors by type.",
		},
		[]string{LabelService, LabelErrorType},
	)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.messagesTotal,
		m.messageDuration,
		m.messagesInFlight,
		m.storeOperationsTotal,
		m.storeOperationDuration,
		m.retriesTotal,
		m.deadLettersTotal,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
// Panics if registration fails.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// Middleware returns dispatch middleware that records message metrics.
func (m *Metrics) Middleware() busline.Middleware {
	return func(next busline.DispatchFunc) busline.DispatchFunc {
		return func(ctx context.Context, msg busline.Message, cc *busline.ConsumeContext) error {
			msgType := msg.MessageType()

			m.messagesInFlight.WithLabelValues(m.serviceName, msgType).Inc()
			defer m.messagesInFlight.WithLabelValues(m.serviceName, msgType).Dec()

			start := time.Now()
			err := next(ctx, msg, cc)
			duration := time.Since(start)

			m.messageDuration.WithLabelValues(m.serviceName, msgType).Observe(duration.Seconds())

			status := StatusSuccess
			if err != nil {
				status = StatusError
				m.errorsTotal.WithLabelValues(m.serviceName, errorTypeName(err)).Inc()
			}
			m.messagesTotal.WithLabelValues(m.serviceName, msgType, status).Inc()

			return err
		}
	}
}

// ObserveRetry implements busline.RetryObserver.
func (m *Metrics) ObserveRetry(messageType string, attempt int) {
	m.retriesTotal.WithLabelValues(m.serviceName, messageType).Inc()
}

// ObserveDeadLetter implements busline.RetryObserver.
func (m *Metrics) ObserveDeadLetter(messageType string) {
	m.deadLettersTotal.WithLabelValues(m.serviceName, messageType).Inc()
}

// RecordError records a custom error.
func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.WithLabelValues(m.serviceName, errorType).Inc()
}

// errorTypeName extracts the error type name based on sentinel errors.
func errorTypeName(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, busline.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, busline.ErrSagaNotFound):
		return "saga_not_found"
	case errors.Is(err, busline.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, busline.ErrNoMappingConfigured):
		return "no_mapping_configured"
	case errors.Is(err, busline.ErrIncompatibleMappingType):
		return "incompatible_mapping_type"
	case errors.Is(err, busline.ErrRequestTimedOut):
		return "request_timed_out"
	case errors.Is(err, busline.ErrHandlerExecutionFailed):
		return "handler_execution_failed"
	case errors.Is(err, busline.ErrMessageTypeNotRegistered):
		return "message_type_not_registered"
	case errors.Is(err, busline.ErrSerializationFailed):
		return "serialization_failed"
	default:
		return "unknown"
	}
}

// StoreMiddleware wraps a SagaStore with metrics.
type StoreMiddleware struct {
	store   adapters.SagaStore
	metrics *Metrics
}

// Ensure interface compliance at compile time
var _ adapters.SagaStore = (*StoreMiddleware)(nil)

// WrapStore wraps a saga store with metrics collection.
func (m *Metrics) WrapStore(store adapters.SagaStore) *StoreMiddleware {
	return &StoreMiddleware{
		store:   store,
		metrics: m,
	}
}

func (sm *StoreMiddleware) observe(op string, start time.Time, err error) {
	sm.metrics.storeOperationDuration.WithLabelValues(sm.metrics.serviceName, op).
		Observe(time.Since(start).Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		sm.metrics.errorsTotal.WithLabelValues(sm.metrics.serviceName, errorTypeName(err)).Inc()
	}
	sm.metrics.storeOperationsTotal.WithLabelValues(sm.metrics.serviceName, op, status).Inc()
}

// FindAndLock finds a saga record with metrics.
func (sm *StoreMiddleware) FindAndLock(ctx context.Context, sagaType string, pred adapters.Predicate) (*adapters.SagaRecord, error) {
	start := time.Now()
	record, err := sm.store.FindAndLock(ctx, sagaType, pred)
	sm.observe(OperationFindAndLock, start, err)
	return record, err
}

// UpsertNew inserts a saga record with metrics.
func (sm *StoreMiddleware) UpsertNew(ctx context.Context, sagaType string, correlationValue any, data map[string]any) error {
	start := time.Now()
	err := sm.store.UpsertNew(ctx, sagaType, correlationValue, data)
	sm.observe(OperationUpsertNew, start, err)
	return err
}

// Update persists a saga record with metrics.
func (sm *StoreMiddleware) Update(ctx context.Context, record *adapters.SagaRecord) error {
	start := time.Now()
	err := sm.store.Update(ctx, record)
	sm.observe(OperationUpdate, start, err)
	return err
}

// Delete removes a saga record with metrics.
func (sm *StoreMiddleware) Delete(ctx context.Context, record *adapters.SagaRecord) error {
	start := time.Now()
	err := sm.store.Delete(ctx, record)
	sm.observe(OperationDelete, start, err)
	return err
}

// ScheduleWakeup stores a wakeup with metrics.
func (sm *StoreMiddleware) ScheduleWakeup(ctx context.Context, wakeup *adapters.Wakeup) error {
	start := time.Now()
	err := sm.store.ScheduleWakeup(ctx, wakeup)
	sm.observe("schedule_wakeup", start, err)
	return err
}

// DueWakeups claims due wakeups with metrics.
func (sm *StoreMiddleware) DueWakeups(ctx context.Context, now time.Time, limit int) ([]*adapters.Wakeup, error) {
	start := time.Now()
	due, err := sm.store.DueWakeups(ctx, now, limit)
	sm.observe("due_wakeups", start, err)
	return due, err
}

// CancelWakeup removes a wakeup with metrics.
func (sm *StoreMiddleware) CancelWakeup(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	err := sm.store.CancelWakeup(ctx, id)
	sm.observe("cancel_wakeup", start, err)
	return err
}

// Close closes the underlying store.
func (sm *StoreMiddleware) Close() error {
	return sm.store.Close()
}

// Getters for testing

// MessagesTotal returns the messages counter.
func (m *Metrics) MessagesTotal() *prometheus.CounterVec {
	return m.messagesTotal
}

// MessageDuration returns the message duration histogram.
func (m *Metrics) MessageDuration() *prometheus.HistogramVec {
	return m.messageDuration
}

// RetriesTotal returns the retries counter.
func (m *Metrics) RetriesTotal() *prometheus.CounterVec {
	return m.retriesTotal
}

// DeadLettersTotal returns the dead-letters counter.
func (m *Metrics) DeadLettersTotal() *prometheus.CounterVec {
	return m.deadLettersTotal
}

// StoreOperationsTotal returns the saga store operations counter.
func (m *Metrics) StoreOperationsTotal() *prometheus.CounterVec {
	return m.storeOperationsTotal
}

// ErrorsTotal returns the errors counter.
func (m *Metrics) ErrorsTotal() *prometheus.CounterVec {
	return m.errorsTotal
}
