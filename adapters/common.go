package adapters

import (
	"fmt"
	"reflect"
	"strings"
)

// RecordKey derives the storage key for a saga record.
// Identity across the whole system is the pair (saga type name,
// correlation value), not the wire correlation id.
func RecordKey(sagaType string, correlationValue any) string {
	return fmt.Sprintf("%s-%v", sagaType, correlationValue)
}

// Navigate walks an ordered property path through nested saga data.
// Returns the value at the path and whether every segment resolved.
func Navigate(data map[string]any, path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}

	var current any = data
	for _, segment := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// SetPath writes a value at an ordered property path, creating nested
// maps as needed. Used by stores and tests to seed saga data.
func SetPath(data map[string]any, path []string, value any) {
	for i, segment := range path {
		if i == len(path)-1 {
			data[segment] = value
			return
		}
		next, ok := data[segment].(map[string]any)
		if !ok {
			next = make(map[string]any)
			data[segment] = next
		}
		data = next
	}
}

// Matches reports whether the record data satisfies the predicate.
// Values are compared after normalization so that JSON round-tripped
// numbers (float64) still match their integer sources.
func (p Predicate) Matches(data map[string]any) bool {
	got, ok := Navigate(data, p.Path)
	if !ok {
		return false
	}
	return ValuesEqual(got, p.Value)
}

// String renders the predicate path as a dotted property path.
func (p Predicate) String() string {
	return strings.Join(p.Path, ".")
}

// ValuesEqual compares two values with numeric and string normalization.
// Saga data round-trips through JSON, which widens all numbers to
// float64 and renders UUIDs as strings; a correlation value extracted
// from a live message must still compare equal to its stored form.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}

	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}

	if as, aok := asString(a); aok {
		if bs, bok := asString(b); bok {
			return as == bs
		}
		return false
	}

	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	}
	return "", false
}

// CopyData creates a deep copy of saga data to prevent external mutation
// of stored state.
func CopyData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if nested, ok := v.(map[string]any); ok {
			out[k] = CopyData(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// CopyRecord creates a deep copy of a SagaRecord.
func CopyRecord(r *SagaRecord) *SagaRecord {
	if r == nil {
		return nil
	}
	copied := *r
	copied.Data = CopyData(r.Data)
	return &copied
}
