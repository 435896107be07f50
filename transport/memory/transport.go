// Package memory provides an in-process transport for tests and
// single-binary deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/R-Suite/busline"
)

// Ensure interface compliance at compile time
var _ busline.Transport = (*Transport)(nil)

const defaultQueueDepth = 1024

// Transport routes deliveries between in-process queues. Retry paths
// are modelled as delayed re-enqueues onto their target queue, matching
// the dead-letter-exchange pattern brokers implement natively.
type Transport struct {
	mu       sync.Mutex
	queues   map[string]chan busline.Delivery
	bindings map[string][]string
	retries  map[string]retryRoute
	closed   bool
	done     chan struct{}
	wg       sync.WaitGroup
}

type retryRoute struct {
	delay  time.Duration
	target string
}

// New creates a new in-process Transport.
func New() *Transport {
	return &Transport{
		queues:   make(map[string]chan busline.Delivery),
		bindings: make(map[string][]string),
		retries:  make(map[string]retryRoute),
		done:     make(chan struct{}),
	}
}

// Bind subscribes a queue to a topic so Publish fans out to it.
func (t *Transport) Bind(topic, queue string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureQueue(queue)
	t.bindings[topic] = append(t.bindings[topic], queue)
}

// Publish fans a message out to every queue bound to the topic. With no
// bindings the topic doubles as a queue name.
func (t *Transport) Publish(ctx context.Context, topic string, body []byte, headers busline.Headers) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return busline.ErrBusClosed
	}
	queues := append([]string(nil), t.bindings[topic]...)
	if len(queues) == 0 {
		t.ensureQueue(topic)
		queues = []string{topic}
	}
	t.mu.Unlock()

	for _, q := range queues {
		if err := t.enqueue(q, delivery(body, headers)); err != nil {
			return err
		}
	}
	return nil
}

// Send delivers a message to one queue. A destination declared as a
// retry path re-enqueues onto its target after the configured delay.
func (t *Transport) Send(ctx context.Context, destination string, body []byte, headers busline.Headers) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return busline.ErrBusClosed
	}
	route, isRetry := t.retries[destination]
	t.ensureQueue(destination)
	t.mu.Unlock()

	d := delivery(body, headers)

	if isRetry {
		t.wg.Add(1)
		time.AfterFunc(route.delay, func() {
			defer t.wg.Done()
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.enqueue(route.target, d)
			}
		})
		return nil
	}

	return t.enqueue(destination, d)
}

// StartConsuming spawns a worker reading the queue until the context is
// cancelled or the subscription is closed. Handler errors are swallowed;
// redelivery policy lives above the transport.
func (t *Transport) StartConsuming(ctx context.Context, queue string, fn func(ctx context.Context, d busline.Delivery) error) (busline.Subscription, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, busline.ErrBusClosed
	}
	ch := t.ensureQueue(queue)
	t.mu.Unlock()

	sub := &subscription{stop: make(chan struct{})}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.stop:
				return
			case <-t.done:
				return
			case d, ok := <-ch:
				if !ok {
					return
				}
				_ = fn(ctx, d)
			}
		}
	}()

	return sub, nil
}

// DeclareRetryPath registers a delayed route back to the target queue.
func (t *Transport) DeclareRetryPath(ctx context.Context, name string, delay time.Duration, target string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return busline.ErrBusClosed
	}
	t.ensureQueue(target)
	t.retries[name] = retryRoute{delay: delay, target: target}
	return nil
}

// DeclareErrorPath creates the dead-letter queue.
func (t *Transport) DeclareErrorPath(ctx context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return busline.ErrBusClosed
	}
	t.ensureQueue(name)
	return nil
}

// Receive pops one delivery from a queue, blocking until one arrives or
// the context is cancelled. Intended for tests inspecting error paths.
func (t *Transport) Receive(ctx context.Context, queue string) (busline.Delivery, error) {
	t.mu.Lock()
	ch := t.ensureQueue(queue)
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		return busline.Delivery{}, ctx.Err()
	case <-t.done:
		return busline.Delivery{}, busline.ErrBusClosed
	case d, ok := <-ch:
		if !ok {
			return busline.Delivery{}, busline.ErrBusClosed
		}
		return d, nil
	}
}

// Len reports the number of deliveries waiting on a queue.
func (t *Transport) Len(queue string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.queues[queue]; ok {
		return len(ch)
	}
	return 0
}

// Close stops the transport: consumer workers are signalled to exit and
// pending retry timers are drained before Close returns.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}

func (t *Transport) ensureQueue(name string) chan busline.Delivery {
	if ch, ok := t.queues[name]; ok {
		return ch
	}
	ch := make(chan busline.Delivery, defaultQueueDepth)
	t.queues[name] = ch
	return ch
}

func (t *Transport) enqueue(queue string, d busline.Delivery) error {
	t.mu.Lock()
	ch := t.ensureQueue(queue)
	t.mu.Unlock()

	select {
	case ch <- d:
		return nil
	default:
		return fmt.Errorf("busline/memory: queue %q is full: %w", queue, errQueueFull)
	}
}

var errQueueFull = errors.New("queue full")

func delivery(body []byte, headers busline.Headers) busline.Delivery {
	h := headers.Clone()
	return busline.Delivery{
		Body:     append([]byte(nil), body...),
		TypeName: h[busline.HeaderMessageType],
		Headers:  h,
	}
}

type subscription struct {
	once sync.Once
	stop chan struct{}
}

func (s *subscription) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}
