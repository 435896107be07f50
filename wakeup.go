package busline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/R-Suite/busline/adapters"
)

// WakeupOption configures a WakeupProcessor.
type WakeupOption func(*WakeupProcessor)

// WithWakeupLogger sets the logger.
func WithWakeupLogger(logger Logger) WakeupOption {
	return func(w *WakeupProcessor) {
		w.logger = logger
	}
}

// WithWakeupInterval sets the polling interval.
func WithWakeupInterval(d time.Duration) WakeupOption {
	return func(w *WakeupProcessor) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWakeupBatchSize sets how many due wakeups are claimed per poll.
func WithWakeupBatchSize(n int) WakeupOption {
	return func(w *WakeupProcessor) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WakeupProcessor delivers scheduled saga timeout messages. Sagas
// schedule a message for a future instant; the processor polls the store
// for due wakeups and feeds them through the dispatch pipeline as if
// they had arrived from the transport.
type WakeupProcessor struct {
	store    adapters.SagaStore
	pipeline *Pipeline
	logger   Logger

	interval  time.Duration
	batchSize int
}

// NewWakeupProcessor creates a new WakeupProcessor.
func NewWakeupProcessor(store adapters.SagaStore, pipeline *Pipeline, opts ...WakeupOption) *WakeupProcessor {
	w := &WakeupProcessor{
		store:     store,
		pipeline:  pipeline,
		logger:    &noopLogger{},
		interval:  time.Second,
		batchSize: 50,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Run polls until the context is cancelled.
func (w *WakeupProcessor) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Poll(ctx); err != nil {
				w.logger.Error("wakeup poll failed", "error", err)
			}
		}
	}
}

// Poll claims and dispatches one batch of due wakeups. A wakeup is
// removed only after the pipeline accepted it; a failed dispatch leaves
// it claimed until its lock lease expires, then it is retried.
func (w *WakeupProcessor) Poll(ctx context.Context) error {
	due, err := w.store.DueWakeups(ctx, time.Now(), w.batchSize)
	if err != nil {
		return err
	}

	for _, wk := range due {
		if err := w.deliver(ctx, wk); err != nil {
			w.logger.Error("wakeup dispatch failed",
				"sagaType", wk.SagaType,
				"messageType", wk.MessageType,
				"error", err)
			continue
		}

		if err := w.store.CancelWakeup(ctx, wk.ID); err != nil {
			w.logger.Error("failed to remove delivered wakeup",
				"wakeupId", wk.ID,
				"error", err)
		}
	}

	return nil
}

func (w *WakeupProcessor) deliver(ctx context.Context, wk *adapters.Wakeup) error {
	headers := Headers{HeaderMessageType: wk.MessageType}
	for k, v := range wk.Headers {
		headers[k] = v
	}

	d := Delivery{
		Body:     wk.Payload,
		TypeName: wk.MessageType,
		Headers:  headers,
	}
	return w.pipeline.OnMessage(ctx, d)
}

// Schedule stores a wakeup message for a saga, due at the given instant.
func (b *Bus) Schedule(ctx context.Context, sagaType string, msg Message, due time.Time) (uuid.UUID, error) {
	body, err := b.serializer.Serialize(msg)
	if err != nil {
		return uuid.Nil, err
	}

	wk := &adapters.Wakeup{
		ID:          uuid.New(),
		SagaType:    sagaType,
		MessageType: msg.MessageType(),
		Payload:     body,
		Headers: map[string]string{
			HeaderCorrelationID: msg.CorrelationID().String(),
		},
		DueAt: due,
	}

	if err := b.store.ScheduleWakeup(ctx, wk); err != nil {
		return uuid.Nil, err
	}
	return wk.ID, nil
}

// CancelWakeup removes a previously scheduled wakeup.
func (b *Bus) CancelWakeup(ctx context.Context, id uuid.UUID) error {
	return b.store.CancelWakeup(ctx, id)
}
