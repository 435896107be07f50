// Package kafka provides a Kafka transport using
// github.com/segmentio/kafka-go.
package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/R-Suite/busline"
)

// Ensure interface compliance at compile time
var _ busline.Transport = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithBrokers sets the Kafka broker addresses.
func WithBrokers(brokers ...string) Option {
	return func(t *Transport) {
		t.brokers = brokers
	}
}

// WithGroupID sets the consumer group id. Defaults to the queue name.
func WithGroupID(groupID string) Option {
	return func(t *Transport) {
		t.groupID = groupID
	}
}

// WithBalancer sets the message balancer (partitioner).
func WithBalancer(balancer kafkago.Balancer) Option {
	return func(t *Transport) {
		t.balancer = balancer
	}
}

// WithBatchTimeout sets the batch timeout for writers.
func WithBatchTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.batchTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger busline.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// Transport maps queues and topics onto Kafka topics. Queues are topics
// consumed through a consumer group; a retry path is a topic drained by
// a forwarder that holds each message for the configured delay before
// writing it back to the target topic.
type Transport struct {
	brokers      []string
	groupID      string
	balancer     kafkago.Balancer
	batchTimeout time.Duration
	logger       busline.Logger

	mu      sync.RWMutex
	writers map[string]*kafkago.Writer
	closed  bool
	wg      sync.WaitGroup
}

// New creates a new Kafka Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		brokers:      []string{"localhost:9092"},
		balancer:     &kafkago.LeastBytes{},
		batchTimeout: 10 * time.Millisecond,
		logger:       busline.NopLogger(),
		writers:      make(map[string]*kafkago.Writer),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Publish writes a message to a topic.
func (t *Transport) Publish(ctx context.Context, topic string, body []byte, headers busline.Headers) error {
	return t.write(ctx, topic, body, headers)
}

// Send writes a message to a destination topic. Kafka draws no
// distinction between fan-out and point-to-point; consumer groups do.
func (t *Transport) Send(ctx context.Context, destination string, body []byte, headers busline.Headers) error {
	return t.write(ctx, destination, body, headers)
}

func (t *Transport) write(ctx context.Context, topic string, body []byte, headers busline.Headers) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return busline.ErrBusClosed
	}

	msg := kafkago.Message{
		Key:   []byte(headers[busline.HeaderCorrelationID]),
		Value: body,
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	writer := t.getWriter(topic)
	if err := writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("busline/kafka: failed to write to topic %s: %w", topic, err)
	}
	return nil
}

// StartConsuming reads the queue topic through the consumer group and
// feeds each message to fn. Offsets commit after fn returns, never
// before; fn owns the retry policy and must not fail permanently.
func (t *Transport) StartConsuming(ctx context.Context, queue string, fn func(ctx context.Context, d busline.Delivery) error) (busline.Subscription, error) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, busline.ErrBusClosed
	}
	t.mu.RUnlock()

	groupID := t.groupID
	if groupID == "" {
		groupID = queue
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: t.brokers,
		Topic:   queue,
		GroupID: groupID,
	})

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				t.logger.Error("kafka fetch failed", "topic", queue, "error", err)
				return
			}

			_ = fn(ctx, toDelivery(msg))

			if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				t.logger.Error("kafka commit failed", "topic", queue, "error", err)
			}
		}
	}()

	return readerSubscription{reader: reader}, nil
}

// DeclareRetryPath starts a forwarder draining the retry topic. Kafka
// has no broker-side delay, so the forwarder holds each fetched message
// until its delay elapses before writing it to the target topic.
func (t *Transport) DeclareRetryPath(ctx context.Context, name string, delay time.Duration, target string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return busline.ErrBusClosed
	}
	t.mu.Unlock()

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: t.brokers,
		Topic:   name,
		GroupID: name + ".forwarder",
	})

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer reader.Close()
		for {
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				return
			}

			remaining := delay - time.Since(msg.Time)
			if remaining > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(remaining):
				}
			}

			d := toDelivery(msg)
			if err := t.write(ctx, target, d.Body, d.Headers); err != nil {
				t.logger.Error("retry forward failed", "target", target, "error", err)
				continue
			}
			if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				t.logger.Error("retry commit failed", "topic", name, "error", err)
			}
		}
	}()

	return nil
}

// DeclareErrorPath is a no-op; writing to the topic creates it.
func (t *Transport) DeclareErrorPath(ctx context.Context, name string) error {
	return nil
}

// Close closes all writers and waits for consumer goroutines.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	writers := t.writers
	t.writers = make(map[string]*kafkago.Writer)
	t.mu.Unlock()

	var firstErr error
	for _, w := range writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	t.wg.Wait()
	return firstErr
}

// getWriter returns or creates a writer for the given topic.
func (t *Transport) getWriter(topic string) *kafkago.Writer {
	t.mu.RLock()
	if w, ok := t.writers[topic]; ok {
		t.mu.RUnlock()
		return w
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if w, ok := t.writers[topic]; ok {
		return w
	}

	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(t.brokers...),
		Topic:                  topic,
		Balancer:               t.balancer,
		BatchTimeout:           t.batchTimeout,
		AllowAutoTopicCreation: true,
	}

	t.writers[topic] = w
	return w
}

func toDelivery(msg kafkago.Message) busline.Delivery {
	headers := make(busline.Headers, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return busline.Delivery{
		Body:     msg.Value,
		TypeName: headers[busline.HeaderMessageType],
		Headers:  headers,
	}
}

type readerSubscription struct {
	reader *kafkago.Reader
}

func (s readerSubscription) Close() error {
	return s.reader.Close()
}
