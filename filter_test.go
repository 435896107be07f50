package busline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dedupDelivery(correlationID string) *Delivery {
	return &Delivery{
		TypeName: "OrderPlaced",
		Headers:  Headers{HeaderCorrelationID: correlationID},
	}
}

func TestDedupFilter(t *testing.T) {
	ctx := context.Background()

	t.Run("allows first delivery and drops duplicates", func(t *testing.T) {
		f := NewDedupFilter()

		allow, err := f.Process(ctx, dedupDelivery("id-1"))
		require.NoError(t, err)
		assert.True(t, allow)

		allow, err = f.Process(ctx, dedupDelivery("id-1"))
		require.NoError(t, err)
		assert.False(t, allow)

		allow, err = f.Process(ctx, dedupDelivery("id-2"))
		require.NoError(t, err)
		assert.True(t, allow)
	})

	t.Run("forgets entries after the TTL window", func(t *testing.T) {
		now := time.Now()
		f := NewDedupFilter(
			WithDedupTTL(time.Minute),
			WithDedupClock(func() time.Time { return now }))

		allow, _ := f.Process(ctx, dedupDelivery("id-1"))
		assert.True(t, allow)

		now = now.Add(30 * time.Second)
		allow, _ = f.Process(ctx, dedupDelivery("id-1"))
		assert.False(t, allow)

		now = now.Add(2 * time.Minute)
		allow, _ = f.Process(ctx, dedupDelivery("id-1"))
		assert.True(t, allow)
	})

	t.Run("passes retried deliveries through", func(t *testing.T) {
		f := NewDedupFilter()

		allow, _ := f.Process(ctx, dedupDelivery("id-1"))
		require.True(t, allow)

		d := dedupDelivery("id-1")
		d.Headers.SetRetryCount(1)
		allow, err := f.Process(ctx, d)
		require.NoError(t, err)
		assert.True(t, allow)
	})

	t.Run("passes deliveries without a correlation id", func(t *testing.T) {
		f := NewDedupFilter()

		allow, err := f.Process(ctx, &Delivery{TypeName: "OrderPlaced", Headers: Headers{}})
		require.NoError(t, err)
		assert.True(t, allow)

		allow, _ = f.Process(ctx, &Delivery{TypeName: "OrderPlaced", Headers: Headers{}})
		assert.True(t, allow)
	})
}

func TestFilterFunc(t *testing.T) {
	f := FilterFunc(func(ctx context.Context, d *Delivery) (bool, error) {
		return d.TypeName == "OrderPlaced", nil
	})

	allow, err := f.Process(context.Background(), &Delivery{TypeName: "OrderPlaced"})
	require.NoError(t, err)
	assert.True(t, allow)

	allow, err = f.Process(context.Background(), &Delivery{TypeName: "Other"})
	require.NoError(t, err)
	assert.False(t, allow)
}
