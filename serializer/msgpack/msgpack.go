// Package msgpack provides a MessagePack serializer implementation.
//
// MessagePack is a binary serialization format that produces smaller
// payloads than JSON while maintaining similar flexibility. It's
// particularly useful for high-throughput queues.
//
// Basic usage:
//
//	serializer := msgpack.NewSerializer()
//	serializer.RegisterAll(OrderPlaced{})
//
//	data, err := serializer.Serialize(OrderPlaced{OrderID: "123"})
//	msg, err := serializer.Deserialize(data, "OrderPlaced")
package msgpack

import (
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/R-Suite/busline"
)

// Ensure interface compliance at compile time
var _ busline.Serializer = (*Serializer)(nil)

// Serializer is a MessagePack implementation of busline.Serializer.
type Serializer struct {
	registry *busline.TypeRegistry
}

// NewSerializer creates a new MessagePack Serializer with an empty
// registry.
func NewSerializer() *Serializer {
	return &Serializer{
		registry: busline.NewTypeRegistry(),
	}
}

// NewSerializerWithRegistry creates a Serializer sharing the given
// registry.
func NewSerializerWithRegistry(registry *busline.TypeRegistry) *Serializer {
	if registry == nil {
		registry = busline.NewTypeRegistry()
	}
	return &Serializer{registry: registry}
}

// Register adds a message type to the registry.
func (s *Serializer) Register(example busline.Message) {
	s.registry.Register(example)
}

// RegisterAll registers multiple message types.
func (s *Serializer) RegisterAll(examples ...busline.Message) {
	s.registry.RegisterAll(examples...)
}

// Registry returns the serializer's type registry.
func (s *Serializer) Registry() *busline.TypeRegistry {
	return s.registry
}

// Serialize converts a message to MessagePack bytes.
func (s *Serializer) Serialize(msg busline.Message) ([]byte, error) {
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, &busline.SerializationError{
			MessageType: msg.MessageType(),
			Operation:   "serialize",
			Cause:       err,
		}
	}
	return data, nil
}

// Deserialize converts MessagePack bytes back to a registered message
// type. The returned message is always a pointer to the registered
// type.
func (s *Serializer) Deserialize(data []byte, typeName string) (busline.Message, error) {
	t, ok := s.registry.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", busline.ErrMessageTypeNotRegistered, typeName)
	}

	value := reflect.New(t).Interface()
	if err := msgpack.Unmarshal(data, value); err != nil {
		return nil, &busline.SerializationError{
			MessageType: typeName,
			Operation:   "deserialize",
			Cause:       err,
		}
	}

	msg, ok := value.(busline.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %q does not implement Message", busline.ErrMessageTypeNotRegistered, typeName)
	}

	return msg, nil
}
