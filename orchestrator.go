package busline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/R-Suite/busline/adapters"
)

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithLockRetries sets the bounded retry attempts used when a matching
// saga record is held by another worker.
func WithLockRetries(attempts int) OrchestratorOption {
	return func(o *Orchestrator) {
		if attempts > 0 {
			o.lockRetries = attempts
		}
	}
}

// WithLockBackoff sets the base delay between lock retry attempts.
// The delay doubles per attempt with ±20% jitter.
func WithLockBackoff(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.lockBackoff = d
		}
	}
}

// Orchestrator decides, per inbound message, whether to start new saga
// instances and/or load and advance existing ones, and persists the
// result. Business logic lives in the saga; the orchestrator is purely
// the persistence envelope.
type Orchestrator struct {
	store    adapters.SagaStore
	mapper   *Mapper
	registry *Registry
	logger   Logger

	lockRetries int
	lockBackoff time.Duration
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(store adapters.SagaStore, mapper *Mapper, registry *Registry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		mapper:      mapper,
		registry:    registry,
		logger:      &noopLogger{},
		lockRetries: 5,
		lockBackoff: 100 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Process runs the starter and continuation steps for one message.
// A message type may have both starter and continuation registrations;
// both steps run. Multiple saga types competing for the same message
// type all get independent instances.
func (o *Orchestrator) Process(ctx context.Context, msg Message, cc *ConsumeContext) error {
	return o.processType(ctx, msg, msg.MessageType(), cc)
}

// processType runs both steps for registrations under one type name.
// The pipeline calls it a second time with the message's declared base
// type so base-registered sagas also receive derived messages.
func (o *Orchestrator) processType(ctx context.Context, msg Message, messageType string, cc *ConsumeContext) error {
	for _, reg := range o.registry.Starters(messageType) {
		if err := o.start(ctx, reg, msg, cc); err != nil {
			return err
		}
	}

	for _, reg := range o.registry.Continuations(messageType) {
		if err := o.advance(ctx, reg, msg, cc); err != nil {
			return err
		}
	}

	return nil
}

// start instantiates fresh saga data, invokes the saga's entry point,
// and inserts the record. Insert races with a concurrent starter are
// last-writer-wins; only the first caller is meant to start the saga.
func (o *Orchestrator) start(ctx context.Context, reg SagaRegistration, msg Message, cc *ConsumeContext) error {
	saga := reg.Factory()

	result, err := o.invoke(ctx, saga, msg, cc)
	if err != nil {
		return err
	}

	if result.Complete {
		o.logger.Debug("saga completed on its starting message, nothing persisted",
			"sagaType", reg.SagaType, "messageType", msg.MessageType())
		return nil
	}

	value, path, err := o.correlationValue(reg, msg)
	if err != nil {
		return err
	}

	data := saga.Data()
	if len(path) > 0 {
		if _, ok := adapters.Navigate(data, path); !ok {
			adapters.SetPath(data, path, value)
		}
	}

	if err := o.store.UpsertNew(ctx, reg.SagaType, value, data); err != nil {
		return fmt.Errorf("busline: failed to insert saga %q: %w", reg.SagaType, err)
	}

	o.logger.Info("saga started",
		"sagaType", reg.SagaType,
		"messageType", msg.MessageType(),
		"correlationValue", value)
	return nil
}

// advance resolves the correlation mapping, loads and locks the matching
// instance, invokes the saga, and persists or deletes the record.
//
// A ConcurrencyConflict from Update is not retried here: the conflicting
// writer already advanced the saga and a blind retry could reapply
// business logic twice. It propagates as a processing failure and the
// redelivered copy re-runs the step; no compensating action is taken for
// side effects the failed step already produced.
func (o *Orchestrator) advance(ctx context.Context, reg SagaRegistration, msg Message, cc *ConsumeContext) error {
	mapping, value, err := o.mapper.Resolve(reg.SagaType, msg)
	if err != nil {
		return err
	}

	pred := adapters.Predicate{Path: mapping.Path, Value: value}
	record, err := o.findAndLock(ctx, reg.SagaType, pred)
	if errors.Is(err, adapters.ErrSagaNotFound) {
		// not relevant to any existing instance
		o.logger.Debug("no saga instance matched",
			"sagaType", reg.SagaType, "messageType", msg.MessageType())
		return nil
	}
	if err != nil {
		return err
	}

	saga := reg.Factory()
	saga.SetData(record.Data)

	result, err := o.invoke(ctx, saga, msg, cc)
	if err != nil {
		// the lock is left to expire with its lease
		return err
	}

	if result.Complete {
		if err := o.store.Delete(ctx, record); err != nil {
			return fmt.Errorf("busline: failed to delete completed saga %q: %w", reg.SagaType, err)
		}
		o.logger.Info("saga completed",
			"sagaType", reg.SagaType, "key", record.Key)
		return nil
	}

	record.Data = saga.Data()
	if err := o.store.Update(ctx, record); err != nil {
		return fmt.Errorf("busline: failed to update saga %q: %w", reg.SagaType, err)
	}

	return nil
}

// invoke runs the saga entry point with panic capture.
func (o *Orchestrator) invoke(ctx context.Context, saga Saga, msg Message, cc *ConsumeContext) (result SagaResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewHandlerError(msg.MessageType(), saga.SagaType(), fmt.Errorf("panic: %v", r))
		}
	}()

	result, err = saga.Handle(ctx, msg, cc)
	if err != nil {
		return result, NewHandlerError(msg.MessageType(), saga.SagaType(), err)
	}
	return result, nil
}

// correlationValue resolves the identity of a newly started saga: the
// mapped correlation value when a mapping exists, otherwise the wire
// correlation id of the starting message.
func (o *Orchestrator) correlationValue(reg SagaRegistration, msg Message) (any, []string, error) {
	mapping, value, err := o.mapper.Resolve(reg.SagaType, msg)
	if errors.Is(err, ErrNoMappingConfigured) {
		return msg.CorrelationID().String(), []string{"correlationId"}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if value == nil {
		return msg.CorrelationID().String(), mapping.Path, nil
	}
	return value, mapping.Path, nil
}

// findAndLock retries bounded, jittered backoff while every matching
// record is held by another worker, then surfaces ErrStoreUnavailable.
func (o *Orchestrator) findAndLock(ctx context.Context, sagaType string, pred adapters.Predicate) (*adapters.SagaRecord, error) {
	delay := o.lockBackoff

	for attempt := 0; ; attempt++ {
		record, err := o.store.FindAndLock(ctx, sagaType, pred)
		if !errors.Is(err, adapters.ErrRecordLocked) {
			return record, err
		}

		if attempt+1 >= o.lockRetries {
			return nil, fmt.Errorf("busline: saga %q still locked after %d attempts: %w",
				sagaType, o.lockRetries, adapters.ErrStoreUnavailable)
		}

		jittered := delay + time.Duration((rand.Float64()-0.5)*0.4*float64(delay))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jittered):
		}
		delay *= 2
	}
}
