package adapters

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordKey(t *testing.T) {
	assert.Equal(t, "OrderSaga-o-1", RecordKey("OrderSaga", "o-1"))
	assert.Equal(t, "OrderSaga-42", RecordKey("OrderSaga", 42))
}

func TestNavigate(t *testing.T) {
	data := map[string]any{
		"orderId": "o-1",
		"customer": map[string]any{
			"address": map[string]any{"city": "Berlin"},
		},
	}

	t.Run("resolves top-level fields", func(t *testing.T) {
		v, ok := Navigate(data, []string{"orderId"})
		require.True(t, ok)
		assert.Equal(t, "o-1", v)
	})

	t.Run("resolves nested paths", func(t *testing.T) {
		v, ok := Navigate(data, []string{"customer", "address", "city"})
		require.True(t, ok)
		assert.Equal(t, "Berlin", v)
	})

	t.Run("misses unknown segments", func(t *testing.T) {
		_, ok := Navigate(data, []string{"customer", "phone"})
		assert.False(t, ok)
	})

	t.Run("misses paths through scalars", func(t *testing.T) {
		_, ok := Navigate(data, []string{"orderId", "deeper"})
		assert.False(t, ok)
	})

	t.Run("misses empty paths", func(t *testing.T) {
		_, ok := Navigate(data, nil)
		assert.False(t, ok)
	})
}

func TestSetPath(t *testing.T) {
	t.Run("writes top-level fields", func(t *testing.T) {
		data := map[string]any{}
		SetPath(data, []string{"orderId"}, "o-1")
		assert.Equal(t, "o-1", data["orderId"])
	})

	t.Run("creates intermediate maps", func(t *testing.T) {
		data := map[string]any{}
		SetPath(data, []string{"customer", "address", "city"}, "Berlin")

		v, ok := Navigate(data, []string{"customer", "address", "city"})
		require.True(t, ok)
		assert.Equal(t, "Berlin", v)
	})

	t.Run("replaces scalar segments with maps", func(t *testing.T) {
		data := map[string]any{"customer": "someone"}
		SetPath(data, []string{"customer", "name"}, "someone else")

		v, ok := Navigate(data, []string{"customer", "name"})
		require.True(t, ok)
		assert.Equal(t, "someone else", v)
	})
}

func TestPredicate(t *testing.T) {
	data := map[string]any{"orderId": "o-1", "total": float64(42)}

	t.Run("matches equal values", func(t *testing.T) {
		assert.True(t, Predicate{Path: []string{"orderId"}, Value: "o-1"}.Matches(data))
	})

	t.Run("matches integers against json numbers", func(t *testing.T) {
		assert.True(t, Predicate{Path: []string{"total"}, Value: 42}.Matches(data))
	})

	t.Run("rejects different values", func(t *testing.T) {
		assert.False(t, Predicate{Path: []string{"orderId"}, Value: "o-2"}.Matches(data))
	})

	t.Run("rejects missing paths", func(t *testing.T) {
		assert.False(t, Predicate{Path: []string{"missing"}, Value: "o-1"}.Matches(data))
	})

	t.Run("renders as a dotted path", func(t *testing.T) {
		assert.Equal(t, "customer.address.city", Predicate{Path: []string{"customer", "address", "city"}}.String())
	})
}

func TestValuesEqual(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"equal strings", "a", "a", true},
		{"different strings", "a", "b", false},
		{"int vs float64", 42, float64(42), true},
		{"int64 vs float64", int64(7), float64(7), true},
		{"different numbers", 42, float64(43), false},
		{"number vs string", 42, "42", false},
		{"uuid vs its string", id, id.String(), true},
		{"both nil", nil, nil, true},
		{"nil vs value", nil, "a", false},
		{"deep equal maps", map[string]any{"a": 1}, map[string]any{"a": 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValuesEqual(tt.a, tt.b))
		})
	}
}

func TestCopyData(t *testing.T) {
	original := map[string]any{
		"orderId": "o-1",
		"customer": map[string]any{
			"city": "Berlin",
		},
	}

	copied := CopyData(original)
	copied["orderId"] = "o-2"
	copied["customer"].(map[string]any)["city"] = "Hamburg"

	assert.Equal(t, "o-1", original["orderId"])
	assert.Equal(t, "Berlin", original["customer"].(map[string]any)["city"])
	assert.Nil(t, CopyData(nil))
}

func TestCopyRecord(t *testing.T) {
	rec := &SagaRecord{
		Key:      "OrderSaga-o-1",
		SagaType: "OrderSaga",
		Data:     map[string]any{"orderId": "o-1"},
		Version:  3,
	}

	copied := CopyRecord(rec)
	copied.Data["orderId"] = "o-2"
	copied.Version = 4

	assert.Equal(t, "o-1", rec.Data["orderId"])
	assert.Equal(t, int64(3), rec.Version)
	assert.Nil(t, CopyRecord(nil))
}

func TestConcurrencyError(t *testing.T) {
	err := NewConcurrencyError("OrderSaga-o-1", 2, 3)

	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.Contains(t, err.Error(), "OrderSaga-o-1")
	assert.Contains(t, err.Error(), "2")
	assert.Contains(t, err.Error(), "3")
}
