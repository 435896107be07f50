package busline

import (
	"context"
	"sync"
)

// Handler is the interface for stateless message handlers.
type Handler interface {
	// MessageType returns the type of message this handler processes.
	MessageType() string

	// Handle processes the message. The consume context exposes the
	// sender's reply address and delivery headers.
	Handle(ctx context.Context, msg Message, cc *ConsumeContext) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	msgType string
	fn      func(ctx context.Context, msg Message, cc *ConsumeContext) error
}

// NewHandlerFunc creates a new HandlerFunc.
func NewHandlerFunc(msgType string, fn func(ctx context.Context, msg Message, cc *ConsumeContext) error) *HandlerFunc {
	return &HandlerFunc{
		msgType: msgType,
		fn:      fn,
	}
}

// MessageType returns the message type this handler processes.
func (h *HandlerFunc) MessageType() string {
	return h.msgType
}

// Handle processes the message.
func (h *HandlerFunc) Handle(ctx context.Context, msg Message, cc *ConsumeContext) error {
	return h.fn(ctx, msg, cc)
}

// GenericHandler is a type-safe handler for a specific message type.
type GenericHandler[M Message] struct {
	handler func(ctx context.Context, msg M, cc *ConsumeContext) error
	msgType string
}

// NewGenericHandler creates a GenericHandler with compile-time type
// checking for the message parameter.
func NewGenericHandler[M Message](handler func(ctx context.Context, msg M, cc *ConsumeContext) error) *GenericHandler[M] {
	var zero M
	return &GenericHandler[M]{
		handler: handler,
		msgType: zero.MessageType(),
	}
}

// MessageType returns the message type this handler processes.
func (h *GenericHandler[M]) MessageType() string {
	return h.msgType
}

// Handle processes the message with type checking.
func (h *GenericHandler[M]) Handle(ctx context.Context, msg Message, cc *ConsumeContext) error {
	typed, ok := msg.(M)
	if !ok {
		return NewHandlerError(msg.MessageType(), h.msgType, ErrMessageTypeNotRegistered)
	}
	return h.handler(ctx, typed, cc)
}

// SagaRole describes how a saga type participates in a message type.
// The same saga type may play both roles for different messages, or
// both roles for the same message.
type SagaRole int

const (
	// RoleStarter creates new saga instances from the message.
	RoleStarter SagaRole = 1 << iota

	// RoleContinuation advances existing saga instances.
	RoleContinuation
)

// SagaRegistration associates a message type with a saga type and role.
type SagaRegistration struct {
	// SagaType is the registered saga type name.
	SagaType string

	// MessageType is the message type this registration covers.
	MessageType string

	// Role is the starter/continuation participation.
	Role SagaRole

	// Factory creates a fresh saga instance.
	Factory SagaFactory

	// RoutingKeys optionally annotate broker routing for this message.
	RoutingKeys []string
}

// Registry holds the handler and saga registrations keyed by message
// type. The registration set is built once at startup and is immutable
// after the bus starts.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	sagas    map[string][]SagaRegistration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string][]Handler),
		sagas:    make(map[string][]SagaRegistration),
	}
}

// RegisterHandler adds a stateless handler.
func (r *Registry) RegisterHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.MessageType()] = append(r.handlers[h.MessageType()], h)
}

// RegisterSaga adds a saga registration.
func (r *Registry) RegisterSaga(reg SagaRegistration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sagas[reg.MessageType] = append(r.sagas[reg.MessageType], reg)
}

// Handlers returns the stateless handlers for a message type.
func (r *Registry) Handlers(messageType string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Handler(nil), r.handlers[messageType]...)
}

// Starters returns the saga registrations that start new instances for
// the message type.
func (r *Registry) Starters(messageType string) []SagaRegistration {
	return r.sagasWithRole(messageType, RoleStarter)
}

// Continuations returns the saga registrations that advance existing
// instances for the message type.
func (r *Registry) Continuations(messageType string) []SagaRegistration {
	return r.sagasWithRole(messageType, RoleContinuation)
}

func (r *Registry) sagasWithRole(messageType string, role SagaRole) []SagaRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []SagaRegistration
	for _, reg := range r.sagas[messageType] {
		if reg.Role&role != 0 {
			out = append(out, reg)
		}
	}
	return out
}

// HasRegistrations reports whether any handler or saga is registered for
// the message type.
func (r *Registry) HasRegistrations(messageType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[messageType]) > 0 || len(r.sagas[messageType]) > 0
}
