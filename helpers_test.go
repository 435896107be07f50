package busline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// Shared Test Messages
// =============================================================================

type orderPlaced struct {
	MessageBase
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
}

func (orderPlaced) MessageType() string { return "OrderPlaced" }

type paymentReceived struct {
	MessageBase
	OrderID string `json:"orderId"`
}

func (paymentReceived) MessageType() string { return "PaymentReceived" }

type expressOrderPlaced struct {
	orderPlaced
	Courier string `json:"courier"`
}

func (expressOrderPlaced) MessageType() string     { return "ExpressOrderPlaced" }
func (expressOrderPlaced) BaseMessageType() string { return "OrderPlaced" }

func extractOrderID(msg Message) any {
	switch m := msg.(type) {
	case orderPlaced:
		return m.OrderID
	case *orderPlaced:
		return m.OrderID
	case expressOrderPlaced:
		return m.OrderID
	case *expressOrderPlaced:
		return m.OrderID
	case paymentReceived:
		return m.OrderID
	case *paymentReceived:
		return m.OrderID
	}
	return nil
}

// =============================================================================
// Shared Test Saga
// =============================================================================

type testSaga struct {
	SagaBase
	handle func(ctx context.Context, s *testSaga, msg Message, cc *ConsumeContext) (SagaResult, error)
}

func (s *testSaga) Handle(ctx context.Context, msg Message, cc *ConsumeContext) (SagaResult, error) {
	if s.handle == nil {
		return Continue(), nil
	}
	return s.handle(ctx, s, msg, cc)
}

func testSagaFactory(sagaType string, handle func(ctx context.Context, s *testSaga, msg Message, cc *ConsumeContext) (SagaResult, error)) SagaFactory {
	return func() Saga {
		return &testSaga{
			SagaBase: NewSagaBase(sagaType),
			handle:   handle,
		}
	}
}

// =============================================================================
// Recording Transport
// =============================================================================

type recordedSend struct {
	destination string
	body        []byte
	headers     Headers
}

// recordingTransport captures outgoing traffic for assertions. It never
// delivers anything.
type recordingTransport struct {
	mu        sync.Mutex
	sends     []recordedSend
	publishes []recordedSend
	sendErr   error
}

var _ Transport = (*recordingTransport)(nil)

func (t *recordingTransport) Publish(ctx context.Context, topic string, body []byte, headers Headers) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publishes = append(t.publishes, recordedSend{topic, body, headers.Clone()})
	return nil
}

func (t *recordingTransport) Send(ctx context.Context, destination string, body []byte, headers Headers) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sends = append(t.sends, recordedSend{destination, body, headers.Clone()})
	return nil
}

func (t *recordingTransport) StartConsuming(ctx context.Context, queue string, fn func(ctx context.Context, d Delivery) error) (Subscription, error) {
	return nopSubscription{}, nil
}

func (t *recordingTransport) DeclareRetryPath(ctx context.Context, name string, delay time.Duration, target string) error {
	return nil
}

func (t *recordingTransport) DeclareErrorPath(ctx context.Context, name string) error {
	return nil
}

func (t *recordingTransport) Close() error { return nil }

func (t *recordingTransport) sentTo(destination string) []recordedSend {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []recordedSend
	for _, s := range t.sends {
		if s.destination == destination {
			out = append(out, s)
		}
	}
	return out
}

type nopSubscription struct{}

func (nopSubscription) Close() error { return nil }

// =============================================================================
// Delivery Helpers
// =============================================================================

func newTestSerializer() *JSONSerializer {
	s := NewJSONSerializer()
	s.RegisterAll(orderPlaced{}, paymentReceived{}, expressOrderPlaced{})
	return s
}

func makeDelivery(t *testing.T, s Serializer, msg Message) Delivery {
	t.Helper()

	body, err := s.Serialize(msg)
	require.NoError(t, err)

	return Delivery{
		Body:     body,
		TypeName: msg.MessageType(),
		Headers: Headers{
			HeaderMessageType:   msg.MessageType(),
			HeaderCorrelationID: msg.CorrelationID().String(),
		},
	}
}
