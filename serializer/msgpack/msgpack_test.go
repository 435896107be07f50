package msgpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R-Suite/busline"
)

// =============================================================================
// Test Types
// =============================================================================

type sensorReading struct {
	busline.MessageBase `msgpack:"base"`
	Device              string  `msgpack:"device"`
	Celsius             float64 `msgpack:"celsius"`
}

func (sensorReading) MessageType() string { return "SensorReading" }

type deviceOffline struct {
	busline.MessageBase `msgpack:"base"`
	Device              string `msgpack:"device"`
}

func (deviceOffline) MessageType() string { return "DeviceOffline" }

// =============================================================================
// Serializer Tests
// =============================================================================

func TestSerializer_RoundTrip(t *testing.T) {
	s := NewSerializer()
	s.Register(sensorReading{})

	original := sensorReading{
		MessageBase: busline.NewMessageBase(),
		Device:      "probe-7",
		Celsius:     21.5,
	}

	data, err := s.Serialize(original)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	result, err := s.Deserialize(data, "SensorReading")
	require.NoError(t, err)

	restored, ok := result.(*sensorReading)
	require.True(t, ok)
	assert.Equal(t, original.CorrelationID(), restored.CorrelationID())
	assert.Equal(t, "probe-7", restored.Device)
	assert.Equal(t, 21.5, restored.Celsius)
}

func TestSerializer_PointerRegistration(t *testing.T) {
	s := NewSerializer()
	s.Register(&deviceOffline{})

	original := &deviceOffline{
		MessageBase: busline.NewMessageBase(),
		Device:      "probe-7",
	}

	data, err := s.Serialize(original)
	require.NoError(t, err)

	result, err := s.Deserialize(data, "DeviceOffline")
	require.NoError(t, err)
	assert.Equal(t, "DeviceOffline", result.MessageType())
	assert.Equal(t, original.CorrelationID(), result.CorrelationID())
}

func TestSerializer_UnregisteredType(t *testing.T) {
	s := NewSerializer()

	_, err := s.Deserialize([]byte{0x80}, "Unknown")
	require.Error(t, err)
	assert.ErrorIs(t, err, busline.ErrMessageTypeNotRegistered)
}

func TestSerializer_DeserializeMalformed(t *testing.T) {
	s := NewSerializer()
	s.Register(sensorReading{})

	_, err := s.Deserialize([]byte{0xc1}, "SensorReading")
	require.Error(t, err)
	assert.ErrorIs(t, err, busline.ErrSerializationFailed)
}

func TestSerializer_SharedRegistry(t *testing.T) {
	registry := busline.NewTypeRegistry()
	registry.Register(sensorReading{})

	s := NewSerializerWithRegistry(registry)
	assert.Same(t, registry, s.Registry())

	_, ok := s.Registry().Lookup("SensorReading")
	assert.True(t, ok)
}

func TestSerializer_RegisterAll(t *testing.T) {
	s := NewSerializer()
	s.RegisterAll(sensorReading{}, deviceOffline{})

	assert.ElementsMatch(t, []string{"SensorReading", "DeviceOffline"}, s.Registry().RegisteredTypes())
}
