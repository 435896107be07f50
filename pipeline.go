package busline

import (
	"context"
	"fmt"
	"runtime/debug"
)

// ConsumeContext exposes per-delivery information to handlers and sagas:
// the sender's reply address and arbitrary delivery headers.
type ConsumeContext struct {
	// Headers is the inbound delivery metadata.
	Headers Headers

	// ReplyTo is the sender's reply address, when present.
	ReplyTo string

	bus *Bus
}

// Reply sends a message back to the delivery's reply address, echoing
// the request correlation token so the sender's correlator can match it.
func (cc *ConsumeContext) Reply(ctx context.Context, msg Message) error {
	if cc.bus == nil {
		return fmt.Errorf("busline: consume context is not attached to a bus")
	}
	return cc.bus.reply(ctx, cc, msg)
}

// Publish fans an event out through the bus.
func (cc *ConsumeContext) Publish(ctx context.Context, topic string, msg Message) error {
	if cc.bus == nil {
		return fmt.Errorf("busline: consume context is not attached to a bus")
	}
	return cc.bus.Publish(ctx, topic, msg)
}

// Send delivers a command to a single destination through the bus.
func (cc *ConsumeContext) Send(ctx context.Context, destination string, msg Message) error {
	if cc.bus == nil {
		return fmt.Errorf("busline: consume context is not attached to a bus")
	}
	return cc.bus.Send(ctx, destination, msg)
}

// DispatchFunc is the function signature for dispatch middleware.
type DispatchFunc func(ctx context.Context, msg Message, cc *ConsumeContext) error

// Middleware wraps a dispatch function with additional functionality.
type Middleware func(next DispatchFunc) DispatchFunc

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger.
func WithPipelineLogger(logger Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithExceptionSink sets the sink that receives handler errors caught at
// the pipeline boundary.
func WithExceptionSink(sink ExceptionSink) PipelineOption {
	return func(p *Pipeline) {
		p.sink = sink
	}
}

// WithInboundFilter appends a filter run before dispatch.
func WithInboundFilter(f Filter) PipelineOption {
	return func(p *Pipeline) {
		p.filters = append(p.filters, f)
	}
}

// WithPipelineMiddleware appends dispatch middleware. Middleware is
// executed in the order it was added.
func WithPipelineMiddleware(mw ...Middleware) PipelineOption {
	return func(p *Pipeline) {
		p.middleware = append(p.middleware, mw...)
	}
}

// Pipeline is the per-message entry point: it deserializes a raw
// delivery, classifies it against the registered handlers, saga
// registrations, and pending requests, and invokes them.
type Pipeline struct {
	registry     *Registry
	orchestrator *Orchestrator
	correlator   *Correlator
	serializer   Serializer
	filters      []Filter
	middleware   []Middleware
	sink         ExceptionSink
	logger       Logger
	bus          *Bus
}

// NewPipeline creates a new Pipeline.
func NewPipeline(registry *Registry, orchestrator *Orchestrator, correlator *Correlator, serializer Serializer, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		registry:     registry,
		orchestrator: orchestrator,
		correlator:   correlator,
		serializer:   serializer,
		sink:         noopSink{},
		logger:       &noopLogger{},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// OnMessage is the single entry point called per delivery. It returns
// nil on success; any error is a failed-processing signal for the
// redelivery controller. Handler errors never crash the dispatch loop:
// a panic anywhere below this point, including in correlation
// extractors and middleware, surfaces as a HandlerError.
func (p *Pipeline) OnMessage(ctx context.Context, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			herr := NewHandlerError(d.TypeName, "", fmt.Errorf("panic: %v", r))
			herr.Stack = string(debug.Stack())
			p.sink.Handle(herr)
			err = herr
		}
	}()

	for _, f := range p.filters {
		allow, err := f.Process(ctx, &d)
		if err != nil {
			return err
		}
		if !allow {
			p.logger.Debug("delivery dropped by filter",
				"messageType", d.TypeName,
				"correlationId", d.Headers[HeaderCorrelationID])
			return nil
		}
	}

	msg, err := p.serializer.Deserialize(d.Body, d.TypeName)
	if err != nil {
		return err
	}

	cc := &ConsumeContext{
		Headers: d.Headers,
		ReplyTo: d.Headers[HeaderReplyTo],
		bus:     p.bus,
	}

	dispatch := p.dispatch
	for i := len(p.middleware) - 1; i >= 0; i-- {
		dispatch = p.middleware[i](dispatch)
	}

	if err := dispatch(ctx, msg, cc); err != nil {
		p.sink.Handle(err)
		return err
	}

	return nil
}

// dispatch classifies one deserialized message. Plain handlers run
// first, then the saga orchestrator, then both again one level up for
// the message's declared base type — each handler exactly once. Replies
// to locally-issued requests are handed to the correlator in addition to
// normal dispatch.
func (p *Pipeline) dispatch(ctx context.Context, msg Message, cc *ConsumeContext) error {
	if cc.Headers.IsReply() && p.correlator != nil {
		p.correlator.HandleReply(msg, cc.Headers[HeaderRequestToken])
	}

	invoked := make(map[Handler]bool)

	if err := p.dispatchType(ctx, msg, msg.MessageType(), cc, invoked); err != nil {
		return err
	}

	if base, ok := msg.(BaseMessage); ok {
		baseType := base.BaseMessageType()
		if baseType != "" && baseType != msg.MessageType() {
			if err := p.dispatchType(ctx, msg, baseType, cc, invoked); err != nil {
				return err
			}
		}
	}

	return nil
}

func (p *Pipeline) dispatchType(ctx context.Context, msg Message, typeName string, cc *ConsumeContext, invoked map[Handler]bool) error {
	for _, h := range p.registry.Handlers(typeName) {
		if invoked[h] {
			continue
		}
		invoked[h] = true

		if err := p.invokeHandler(ctx, h, msg, cc); err != nil {
			return err
		}
	}

	if p.orchestrator != nil {
		if err := p.orchestrator.processType(ctx, msg, typeName, cc); err != nil {
			return err
		}
	}

	return nil
}

// invokeHandler runs one handler with panic capture.
func (p *Pipeline) invokeHandler(ctx context.Context, h Handler, msg Message, cc *ConsumeContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			herr := NewHandlerError(msg.MessageType(), h.MessageType(), fmt.Errorf("panic: %v", r))
			herr.Stack = string(debug.Stack())
			err = herr
		}
	}()

	if err := h.Handle(ctx, msg, cc); err != nil {
		return NewHandlerError(msg.MessageType(), h.MessageType(), err)
	}
	return nil
}
