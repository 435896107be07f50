package busline

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// Serializer handles message payload serialization and deserialization.
// Messages are serialized as structured text (JSON by default) for
// transport; alternative codecs live under serializer/.
type Serializer interface {
	// Serialize converts a message to bytes.
	Serialize(msg Message) ([]byte, error)

	// Deserialize converts bytes back to a message.
	// The typeName is used to determine the target type.
	Deserialize(data []byte, typeName string) (Message, error)
}

// TypeRegistry maps message type names to Go types.
// It is used by serializers to deserialize payloads to the correct type.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewTypeRegistry creates a new empty TypeRegistry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		types: make(map[string]reflect.Type),
	}
}

// Register adds a mapping from the message's type name to its Go type.
// The example should be a value (not a pointer) of the message type.
func (r *TypeRegistry) Register(example Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := reflect.TypeOf(example)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.types[example.MessageType()] = t
}

// RegisterAll registers multiple message types.
func (r *TypeRegistry) RegisterAll(examples ...Message) {
	for _, example := range examples {
		r.Register(example)
	}
}

// Lookup returns the Go type for the given message type name.
func (r *TypeRegistry) Lookup(typeName string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[typeName]
	return t, ok
}

// RegisteredTypes returns all registered message type names.
func (r *TypeRegistry) RegisteredTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	return names
}

// JSONSerializer is the default Serializer implementation using JSON
// encoding.
type JSONSerializer struct {
	registry *TypeRegistry
}

// Ensure interface compliance at compile time
var _ Serializer = (*JSONSerializer)(nil)

// NewJSONSerializer creates a new JSONSerializer with an empty registry.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{
		registry: NewTypeRegistry(),
	}
}

// NewJSONSerializerWithRegistry creates a new JSONSerializer sharing the
// given registry.
func NewJSONSerializerWithRegistry(registry *TypeRegistry) *JSONSerializer {
	if registry == nil {
		registry = NewTypeRegistry()
	}
	return &JSONSerializer{
		registry: registry,
	}
}

// Register adds a message type to the serializer's registry.
func (s *JSONSerializer) Register(example Message) {
	s.registry.Register(example)
}

// RegisterAll registers multiple message types.
func (s *JSONSerializer) RegisterAll(examples ...Message) {
	s.registry.RegisterAll(examples...)
}

// Registry returns the serializer's type registry.
func (s *JSONSerializer) Registry() *TypeRegistry {
	return s.registry
}

// Serialize converts a message to JSON.
func (s *JSONSerializer) Serialize(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, &SerializationError{
			MessageType: msg.MessageType(),
			Operation:   "serialize",
			Cause:       err,
		}
	}
	return data, nil
}

// Deserialize converts JSON back to a registered message type. The
// returned message is always a pointer to the registered type, so
// handlers can assert *T regardless of how T was registered.
func (s *JSONSerializer) Deserialize(data []byte, typeName string) (Message, error) {
	t, ok := s.registry.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMessageTypeNotRegistered, typeName)
	}

	value := reflect.New(t).Interface()
	if err := json.Unmarshal(data, value); err != nil {
		return nil, &SerializationError{
			MessageType: typeName,
			Operation:   "deserialize",
			Cause:       err,
		}
	}

	msg, ok := value.(Message)
	if !ok {
		return nil, fmt.Errorf("%w: %q does not implement Message", ErrMessageTypeNotRegistered, typeName)
	}

	return msg, nil
}

// MessageToData converts a message to the map form stored in saga data.
func MessageToData(msg Message) (map[string]any, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
