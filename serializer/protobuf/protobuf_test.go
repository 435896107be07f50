package protobuf

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/R-Suite/busline"
)

// =============================================================================
// Test Types
// =============================================================================

// orderShipped wraps a well-known proto type so the test does not need
// generated code. Real callers add MessageType and CorrelationID methods
// to their generated structs the same way.
type orderShipped struct {
	wrapperspb.StringValue
}

func (*orderShipped) MessageType() string { return "OrderShipped" }

func (m *orderShipped) CorrelationID() uuid.UUID {
	id, _ := uuid.Parse(m.GetValue())
	return id
}

type plainMessage struct {
	busline.MessageBase
}

func (plainMessage) MessageType() string { return "PlainMessage" }

// =============================================================================
// Serializer Tests
// =============================================================================

func TestSerializer_RoundTrip(t *testing.T) {
	s := NewSerializer()
	s.Register("OrderShipped", &orderShipped{})

	id := uuid.New()
	original := &orderShipped{}
	original.Value = id.String()

	data, err := s.Serialize(original)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	result, err := s.Deserialize(data, "OrderShipped")
	require.NoError(t, err)
	assert.Equal(t, "OrderShipped", result.MessageType())
	assert.Equal(t, id, result.CorrelationID())
}

func TestSerializer_SerializeNonProto(t *testing.T) {
	s := NewSerializer()

	_, err := s.Serialize(plainMessage{MessageBase: busline.NewMessageBase()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotProtoMessage)
}

func TestSerializer_UnregisteredType(t *testing.T) {
	s := NewSerializer()

	_, err := s.Deserialize([]byte{}, "Unknown")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTypeNotRegistered)
	assert.ErrorIs(t, err, busline.ErrMessageTypeNotRegistered)
}

func TestSerializer_DeserializeMalformed(t *testing.T) {
	s := NewSerializer()
	s.Register("OrderShipped", &orderShipped{})

	_, err := s.Deserialize([]byte{0xff, 0xff, 0xff}, "OrderShipped")
	require.Error(t, err)
	assert.ErrorIs(t, err, busline.ErrSerializationFailed)
}

func TestSerializer_RegisterAll(t *testing.T) {
	s := NewSerializer()

	shipped := &orderShipped{}
	shipped.Value = uuid.NewString()

	s.RegisterAll(shipped, plainMessage{MessageBase: busline.NewMessageBase()})

	// Non-proto messages are skipped.
	assert.Equal(t, []string{"OrderShipped"}, s.RegisteredTypes())
}
