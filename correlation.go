package busline

import (
	"reflect"
	"strings"
	"sync"

	"github.com/R-Suite/busline/adapters"
)

// Extractor pulls a correlation value out of an incoming message.
type Extractor func(msg Message) any

// Mapping relates a (saga type, message type) pair to the saga data
// property compared against the value extracted from the message.
// Mappings are built once at startup and are immutable thereafter.
type Mapping struct {
	SagaType    string
	MessageType string

	// Path is the ordered list of saga data property names identifying
	// the nested field to compare.
	Path []string

	// Extract is the compiled message -> value extraction function.
	Extract Extractor

	// wantKind is the expected kind of the mapped saga data field,
	// recorded when the mapping was configured against sample data.
	wantKind reflect.Kind
}

// MapperOption configures a Configure call.
type MapperOption func(*Mapping) error

// WithSampleData validates the property path against sample saga data
// and records the target field's type. Resolve then rejects extracted
// values of an incompatible type with ErrIncompatibleMappingType.
func WithSampleData(sample map[string]any) MapperOption {
	return func(m *Mapping) error {
		value, ok := adapters.Navigate(sample, m.Path)
		if !ok || value == nil {
			return &IncompatibleMappingError{
				SagaType:     m.SagaType,
				MessageType:  m.MessageType,
				PropertyPath: strings.Join(m.Path, "."),
				WantKind:     "resolvable path",
				GotKind:      "missing field",
			}
		}
		m.wantKind = comparableKind(reflect.TypeOf(value).Kind())
		return nil
	}
}

// Mapper compiles, per (saga type, message type) pair, a rule that
// extracts a correlation value from an incoming message and the property
// path to compare it against inside stored saga data.
type Mapper struct {
	mu sync.RWMutex

	// mappings maps saga type -> message type -> mapping
	mappings map[string]map[string]Mapping
}

// NewMapper creates an empty Mapper.
func NewMapper() *Mapper {
	return &Mapper{
		mappings: make(map[string]map[string]Mapping),
	}
}

// Configure registers one correlation mapping.
func (m *Mapper) Configure(sagaType, messageType string, path []string, extract Extractor, opts ...MapperOption) error {
	mapping := Mapping{
		SagaType:    sagaType,
		MessageType: messageType,
		Path:        append([]string(nil), path...),
		Extract:     extract,
	}

	for _, opt := range opts {
		if err := opt(&mapping); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byMessage, ok := m.mappings[sagaType]
	if !ok {
		byMessage = make(map[string]Mapping)
		m.mappings[sagaType] = byMessage
	}
	byMessage[messageType] = mapping

	return nil
}

// Resolve returns the mapping for the runtime type of msg along with the
// extracted correlation value. If no exact match exists, it falls back
// to a mapping registered against the message's declared base type.
// Fails with ErrNoMappingConfigured if neither exists.
func (m *Mapper) Resolve(sagaType string, msg Message) (Mapping, any, error) {
	m.mu.RLock()
	byMessage := m.mappings[sagaType]
	mapping, ok := byMessage[msg.MessageType()]
	if !ok {
		if base, isBase := msg.(BaseMessage); isBase {
			mapping, ok = byMessage[base.BaseMessageType()]
		}
	}
	m.mu.RUnlock()

	if !ok {
		return Mapping{}, nil, &NoMappingError{
			SagaType:    sagaType,
			MessageType: msg.MessageType(),
		}
	}

	value := mapping.Extract(msg)
	if value == nil {
		return mapping, nil, nil
	}

	if mapping.wantKind != reflect.Invalid {
		got := comparableKind(reflect.TypeOf(value).Kind())
		if got != mapping.wantKind {
			return Mapping{}, nil, &IncompatibleMappingError{
				SagaType:     sagaType,
				MessageType:  msg.MessageType(),
				PropertyPath: strings.Join(mapping.Path, "."),
				WantKind:     mapping.wantKind.String(),
				GotKind:      got.String(),
			}
		}
	}

	return mapping, value, nil
}

// Has reports whether a mapping exists for the (saga type, message type)
// pair, without considering base-type fallback.
func (m *Mapper) Has(sagaType, messageType string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.mappings[sagaType][messageType]
	return ok
}

// comparableKind collapses kinds into the comparison classes used by the
// stores: all numerics compare as numbers, everything string-like as
// strings (saga data round-trips through JSON).
func comparableKind(k reflect.Kind) reflect.Kind {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return reflect.Float64
	case reflect.Array:
		// uuid.UUID is a byte array rendered as a string
		return reflect.String
	default:
		return k
	}
}
