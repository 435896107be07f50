package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R-Suite/busline"
)

func testHeaders(messageType string) busline.Headers {
	return busline.Headers{busline.HeaderMessageType: messageType}
}

func TestTransport_SendAndReceive(t *testing.T) {
	tr := New()
	defer tr.Close()
	ctx := context.Background()

	require.NoError(t, tr.Send(ctx, "orders", []byte(`{"orderId":"o-1"}`), testHeaders("OrderPlaced")))
	assert.Equal(t, 1, tr.Len("orders"))

	d, err := tr.Receive(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "OrderPlaced", d.TypeName)
	assert.Equal(t, []byte(`{"orderId":"o-1"}`), d.Body)
	assert.Equal(t, 0, tr.Len("orders"))
}

func TestTransport_PublishFanOut(t *testing.T) {
	tr := New()
	defer tr.Close()
	ctx := context.Background()

	tr.Bind("order-events", "billing")
	tr.Bind("order-events", "shipping")

	require.NoError(t, tr.Publish(ctx, "order-events", []byte(`{}`), testHeaders("OrderPlaced")))

	assert.Equal(t, 1, tr.Len("billing"))
	assert.Equal(t, 1, tr.Len("shipping"))
}

func TestTransport_PublishWithoutBindings(t *testing.T) {
	tr := New()
	defer tr.Close()

	require.NoError(t, tr.Publish(context.Background(), "orders", []byte(`{}`), testHeaders("OrderPlaced")))
	assert.Equal(t, 1, tr.Len("orders"))
}

func TestTransport_RetryPathDelaysRedelivery(t *testing.T) {
	tr := New()
	defer tr.Close()
	ctx := context.Background()

	require.NoError(t, tr.DeclareRetryPath(ctx, "orders.retry", 20*time.Millisecond, "orders"))
	require.NoError(t, tr.Send(ctx, "orders.retry", []byte(`{}`), testHeaders("OrderPlaced")))

	assert.Equal(t, 0, tr.Len("orders"))

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	d, err := tr.Receive(recvCtx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "OrderPlaced", d.TypeName)
}

func TestTransport_StartConsuming(t *testing.T) {
	tr := New()
	defer tr.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []busline.Delivery
	sub, err := tr.StartConsuming(ctx, "orders", func(ctx context.Context, d busline.Delivery) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, d)
		return nil
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tr.Send(ctx, "orders", []byte(`{}`), testHeaders("OrderPlaced")))
	require.NoError(t, tr.Send(ctx, "orders", []byte(`{}`), testHeaders("PaymentReceived")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "OrderPlaced", got[0].TypeName)
	assert.Equal(t, "PaymentReceived", got[1].TypeName)
}

func TestTransport_SubscriptionClose(t *testing.T) {
	tr := New()
	defer tr.Close()
	ctx := context.Background()

	delivered := make(chan struct{}, 8)
	sub, err := tr.StartConsuming(ctx, "orders", func(ctx context.Context, d busline.Delivery) error {
		delivered <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, tr.Send(ctx, "orders", []byte(`{}`), testHeaders("OrderPlaced")))
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("first delivery never arrived")
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}

func TestTransport_CloseStopsConsumers(t *testing.T) {
	tr := New()
	ctx := context.Background()

	_, err := tr.StartConsuming(ctx, "orders", func(ctx context.Context, d busline.Delivery) error {
		return nil
	})
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = tr.Close()
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return while a consumer was running")
	}
}

func TestTransport_HeadersAndBodyAreCopied(t *testing.T) {
	tr := New()
	defer tr.Close()
	ctx := context.Background()

	body := []byte(`{"orderId":"o-1"}`)
	headers := testHeaders("OrderPlaced")
	require.NoError(t, tr.Send(ctx, "orders", body, headers))

	body[0] = 'X'
	headers[busline.HeaderMessageType] = "Mutated"

	d, err := tr.Receive(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, byte('{'), d.Body[0])
	assert.Equal(t, "OrderPlaced", d.TypeName)
}

func TestTransport_Closed(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Close())
	ctx := context.Background()

	assert.ErrorIs(t, tr.Send(ctx, "orders", nil, nil), busline.ErrBusClosed)
	assert.ErrorIs(t, tr.Publish(ctx, "orders", nil, nil), busline.ErrBusClosed)
	_, err := tr.StartConsuming(ctx, "orders", nil)
	assert.ErrorIs(t, err, busline.ErrBusClosed)
	assert.ErrorIs(t, tr.DeclareErrorPath(ctx, "orders.error"), busline.ErrBusClosed)

	// closing twice is fine
	require.NoError(t, tr.Close())
}
