package busline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/R-Suite/busline/adapters"
)

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithSerializer sets a custom serializer.
func WithSerializer(s Serializer) BusOption {
	return func(b *Bus) {
		b.serializer = s
	}
}

// WithLogger sets a custom logger.
func WithLogger(l Logger) BusOption {
	return func(b *Bus) {
		b.logger = l
	}
}

// WithWorkers sets the number of concurrent consumer workers.
func WithWorkers(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithRetries sets the redelivery policy: up to maxRetries resubmissions
// with a fixed delay before the message dead-letters.
func WithRetries(maxRetries int, delay time.Duration) BusOption {
	return func(b *Bus) {
		b.maxRetries = maxRetries
		if delay > 0 {
			b.retryDelay = delay
		}
	}
}

// WithRequestTimeout sets the default timeout for blocking requests.
func WithRequestTimeout(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.requestTimeout = d
		}
	}
}

// WithSink sets the exception sink receiving handler errors.
func WithSink(sink ExceptionSink) BusOption {
	return func(b *Bus) {
		b.sink = sink
	}
}

// WithFilter adds an inbound deduplication/processing filter.
func WithFilter(f Filter) BusOption {
	return func(b *Bus) {
		b.inboundFilters = append(b.inboundFilters, f)
	}
}

// WithOutboundFilter adds a filter applied to outgoing messages.
func WithOutboundFilter(f Filter) BusOption {
	return func(b *Bus) {
		b.outboundFilters = append(b.outboundFilters, f)
	}
}

// WithBusMiddleware adds dispatch middleware executed around every
// consumed message.
func WithBusMiddleware(mw ...Middleware) BusOption {
	return func(b *Bus) {
		b.middleware = append(b.middleware, mw...)
	}
}

// WithWakeupPollInterval sets how often the bus polls for due wakeups.
func WithWakeupPollInterval(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.wakeupPoll = d
		}
	}
}

// WithOrchestratorOptions forwards options to the saga orchestrator.
func WithOrchestratorOptions(opts ...OrchestratorOption) BusOption {
	return func(b *Bus) {
		b.orchestratorOpts = append(b.orchestratorOpts, opts...)
	}
}

// WithRetryObserver forwards a retry observer to the redelivery
// controller.
func WithRetryObserver(obs RetryObserver) BusOption {
	return func(b *Bus) {
		b.retryObserver = obs
	}
}

// Bus connects application code to a message transport. It owns the
// dispatch pipeline, the saga orchestrator, the redelivery controller,
// and the request/reply correlator as explicit long-lived services with
// a managed lifecycle.
type Bus struct {
	queue      string
	transport  Transport
	store      adapters.SagaStore
	serializer Serializer
	registry   *Registry
	mapper     *Mapper
	correlator *Correlator
	logger     Logger
	sink       ExceptionSink

	pipeline     *Pipeline
	orchestrator *Orchestrator
	controller   *RedeliveryController
	wakeups      *WakeupProcessor

	workers        int
	maxRetries     int
	retryDelay     time.Duration
	requestTimeout time.Duration
	wakeupPoll     time.Duration

	inboundFilters   []Filter
	outboundFilters  []Filter
	middleware       []Middleware
	orchestratorOpts []OrchestratorOption
	retryObserver    RetryObserver

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	subs    []Subscription
	wg      sync.WaitGroup
}

// New creates a Bus consuming from the given queue.
func New(queue string, transport Transport, store adapters.SagaStore, opts ...BusOption) *Bus {
	b := &Bus{
		queue:          queue,
		transport:      transport,
		store:          store,
		serializer:     NewJSONSerializer(),
		registry:       NewRegistry(),
		mapper:         NewMapper(),
		correlator:     NewCorrelator(),
		logger:         &noopLogger{},
		workers:        1,
		maxRetries:     3,
		retryDelay:     3 * time.Second,
		requestTimeout: 30 * time.Second,
		wakeupPoll:     time.Second,
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.sink == nil {
		b.sink = loggerSink{logger: b.logger}
	}

	b.orchestrator = NewOrchestrator(b.store, b.mapper, b.registry,
		append([]OrchestratorOption{WithOrchestratorLogger(b.logger)}, b.orchestratorOpts...)...)

	pipelineOpts := []PipelineOption{
		WithPipelineLogger(b.logger),
		WithExceptionSink(b.sink),
		WithPipelineMiddleware(b.middleware...),
	}
	for _, f := range b.inboundFilters {
		pipelineOpts = append(pipelineOpts, WithInboundFilter(f))
	}
	b.pipeline = NewPipeline(b.registry, b.orchestrator, b.correlator, b.serializer, pipelineOpts...)
	b.pipeline.bus = b

	b.controller = NewRedeliveryController(b.transport, b.pipeline, b.queue,
		WithMaxRetries(b.maxRetries),
		WithControllerLogger(b.logger),
		WithControllerRetryObserver(b.retryObserver))

	b.wakeups = NewWakeupProcessor(b.store, b.pipeline,
		WithWakeupLogger(b.logger),
		WithWakeupInterval(b.wakeupPoll))

	return b
}

// Queue returns the queue the bus consumes from.
func (b *Bus) Queue() string {
	return b.queue
}

// Mapper returns the correlation mapper for startup configuration.
func (b *Bus) Mapper() *Mapper {
	return b.mapper
}

// Correlator returns the request/reply correlator.
func (b *Bus) Correlator() *Correlator {
	return b.correlator
}

// Pipeline returns the dispatch pipeline.
func (b *Bus) Pipeline() *Pipeline {
	return b.pipeline
}

// ConfigureMapping registers one saga correlation mapping.
func (b *Bus) ConfigureMapping(sagaType, messageType string, path []string, extract Extractor, opts ...MapperOption) error {
	return b.mapper.Configure(sagaType, messageType, path, extract, opts...)
}

// RegisterMessages registers message types with the serializer so
// inbound payloads can be deserialized.
func (b *Bus) RegisterMessages(examples ...Message) {
	type registrar interface {
		RegisterAll(examples ...Message)
	}
	if r, ok := b.serializer.(registrar); ok {
		r.RegisterAll(examples...)
	}
}

// RegisterHandler adds a stateless handler.
func (b *Bus) RegisterHandler(h Handler) {
	b.registry.RegisterHandler(h)
}

// RegisterHandlerFunc registers a handler function for a message type.
func (b *Bus) RegisterHandlerFunc(messageType string, fn func(ctx context.Context, msg Message, cc *ConsumeContext) error) {
	b.registry.RegisterHandler(NewHandlerFunc(messageType, fn))
}

// RegisterSaga adds a saga registration.
func (b *Bus) RegisterSaga(reg SagaRegistration) {
	b.registry.RegisterSaga(reg)
}

// UseContainer imports all registrations discovered by a container.
func (b *Bus) UseContainer(c Container) {
	for _, h := range c.Handlers() {
		b.registry.RegisterHandler(h)
	}
	for _, reg := range c.Sagas() {
		b.registry.RegisterSaga(reg)
	}
}

// Start declares the retry and error paths, starts the consumer workers
// and the wakeup processor, and blocks until the context is cancelled.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.New("busline: bus already running")
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.running = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	if err := b.transport.DeclareRetryPath(ctx, b.controller.RetryPath(), b.retryDelay, b.queue); err != nil {
		return fmt.Errorf("busline: failed to declare retry path: %w", err)
	}
	if err := b.transport.DeclareErrorPath(ctx, b.controller.ErrorPath()); err != nil {
		return fmt.Errorf("busline: failed to declare error path: %w", err)
	}

	for i := 0; i < b.workers; i++ {
		sub, err := b.transport.StartConsuming(ctx, b.queue, b.controller.HandleDelivery)
		if err != nil {
			b.closeSubs()
			return fmt.Errorf("busline: failed to start consumer: %w", err)
		}
		b.mu.Lock()
		b.subs = append(b.subs, sub)
		b.mu.Unlock()
	}

	if b.store != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.wakeups.Run(ctx)
		}()
	}

	b.logger.Info("bus started",
		"queue", b.queue,
		"workers", b.workers,
		"maxRetries", b.maxRetries)

	<-ctx.Done()

	b.closeSubs()
	b.wg.Wait()
	b.logger.Info("bus stopped", "queue", b.queue)
	return ctx.Err()
}

// StartAsync starts the bus in a background goroutine and returns a
// channel that receives the Start error when the bus stops.
func (b *Bus) StartAsync(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Start(ctx)
	}()
	return errCh
}

// Stop cancels the bus's run context.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}

// IsRunning returns true while Start is active.
func (b *Bus) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Publish fans an event out to an exchange or topic.
func (b *Bus) Publish(ctx context.Context, topic string, msg Message) error {
	body, headers, err := b.prepare(ctx, msg, nil)
	if err != nil || body == nil {
		return err
	}
	return b.transport.Publish(ctx, topic, body, headers)
}

// Send delivers a command to a single destination queue.
func (b *Bus) Send(ctx context.Context, destination string, msg Message) error {
	body, headers, err := b.prepare(ctx, msg, nil)
	if err != nil || body == nil {
		return err
	}
	return b.transport.Send(ctx, destination, body, headers)
}

// RequestOption configures a request.
type RequestOption func(*requestConfig)

type requestConfig struct {
	expected int
	timeout  time.Duration
}

// WithExpectedReplies sets how many endpoints a reply is expected from.
func WithExpectedReplies(n int) RequestOption {
	return func(c *requestConfig) {
		if n > 0 {
			c.expected = n
		}
	}
}

// WithTimeout overrides the bus's default request timeout.
func WithTimeout(d time.Duration) RequestOption {
	return func(c *requestConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Request sends a request and blocks until all expected replies arrive
// or the timeout elapses, in which case it fails with ErrRequestTimedOut.
func (b *Bus) Request(ctx context.Context, destination string, msg Message, opts ...RequestOption) ([]Message, error) {
	req, err := b.request(ctx, destination, msg, nil, opts...)
	if err != nil {
		return nil, err
	}
	return req.Wait()
}

// RequestAsync sends a request and registers a callback invoked once
// with the final reply when all expected replies have arrived, or once
// with ErrRequestTimedOut if the timeout fires first. Returns the
// request correlation token.
func (b *Bus) RequestAsync(ctx context.Context, destination string, msg Message, callback ReplyCallback, opts ...RequestOption) (string, error) {
	req, err := b.request(ctx, destination, msg, callback, opts...)
	if err != nil {
		return "", err
	}
	return req.Token(), nil
}

func (b *Bus) request(ctx context.Context, destination string, msg Message, callback ReplyCallback, opts ...RequestOption) (*PendingRequest, error) {
	cfg := requestConfig{
		expected: 1,
		timeout:  b.requestTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	token := NewToken()
	extra := Headers{
		HeaderRequestToken: token,
		HeaderReplyTo:      b.queue,
	}

	body, headers, err := b.prepare(ctx, msg, extra)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("busline: request %q dropped by outbound filter", token)
	}

	req := b.correlator.Register(token, cfg.expected, cfg.timeout, callback)

	if err := b.transport.Send(ctx, destination, body, headers); err != nil {
		b.correlator.Cancel(token)
		return nil, err
	}

	return req, nil
}

// reply echoes the request token back to the delivery's reply address.
func (b *Bus) reply(ctx context.Context, cc *ConsumeContext, msg Message) error {
	if cc.ReplyTo == "" {
		return fmt.Errorf("busline: delivery has no reply address")
	}

	extra := Headers{
		HeaderReply:        "true",
		HeaderRequestToken: cc.Headers[HeaderRequestToken],
	}

	body, headers, err := b.prepare(ctx, msg, extra)
	if err != nil || body == nil {
		return err
	}
	return b.transport.Send(ctx, cc.ReplyTo, body, headers)
}

// prepare serializes a message, builds its headers, and runs outbound
// filters. A nil body with nil error means a filter dropped the message.
func (b *Bus) prepare(ctx context.Context, msg Message, extra Headers) ([]byte, Headers, error) {
	body, err := b.serializer.Serialize(msg)
	if err != nil {
		return nil, nil, err
	}

	headers := Headers{
		HeaderMessageType:   msg.MessageType(),
		HeaderCorrelationID: msg.CorrelationID().String(),
	}
	for k, v := range extra {
		headers[k] = v
	}

	d := Delivery{Body: body, TypeName: msg.MessageType(), Headers: headers}
	for _, f := range b.outboundFilters {
		allow, err := f.Process(ctx, &d)
		if err != nil {
			return nil, nil, err
		}
		if !allow {
			b.logger.Debug("outgoing message dropped by filter",
				"messageType", msg.MessageType())
			return nil, nil, nil
		}
	}

	return d.Body, d.Headers, nil
}

func (b *Bus) closeSubs() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			b.logger.Warn("failed to close subscription", "error", err)
		}
	}
}
