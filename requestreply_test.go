package busline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelator_BlockingRequest(t *testing.T) {
	t.Run("resolves when all expected replies arrive", func(t *testing.T) {
		c := NewCorrelator()
		token := NewToken()
		req := c.Register(token, 2, time.Second, nil)

		assert.True(t, c.HandleReply(orderPlaced{MessageBase: NewMessageBase()}, token))
		assert.True(t, c.HandleReply(orderPlaced{MessageBase: NewMessageBase()}, token))

		replies, err := req.Wait()
		require.NoError(t, err)
		assert.Len(t, replies, 2)
		assert.Equal(t, 0, c.PendingCount())
	})

	t.Run("fails with a timeout error when replies are missing", func(t *testing.T) {
		c := NewCorrelator()
		token := NewToken()
		req := c.Register(token, 2, 10*time.Millisecond, nil)

		require.True(t, c.HandleReply(orderPlaced{MessageBase: NewMessageBase()}, token))

		_, err := req.Wait()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRequestTimedOut)

		var rte *RequestTimeoutError
		require.True(t, errors.As(err, &rte))
		assert.Equal(t, token, rte.Token)
		assert.Equal(t, 2, rte.Expected)
		assert.Equal(t, 1, rte.Received)
		assert.Equal(t, 0, c.PendingCount())
	})

	t.Run("defaults to one expected reply", func(t *testing.T) {
		c := NewCorrelator()
		token := NewToken()
		req := c.Register(token, 0, time.Second, nil)

		require.True(t, c.HandleReply(orderPlaced{MessageBase: NewMessageBase()}, token))

		replies, err := req.Wait()
		require.NoError(t, err)
		assert.Len(t, replies, 1)
	})
}

func TestCorrelator_CallbackRequest(t *testing.T) {
	t.Run("invokes the callback once when all replies arrive", func(t *testing.T) {
		c := NewCorrelator()
		token := NewToken()

		var mu sync.Mutex
		var received []Message
		req := c.Register(token, 2, time.Second, func(reply Message, err error) {
			mu.Lock()
			defer mu.Unlock()
			require.NoError(t, err)
			received = append(received, reply)
		})

		c.HandleReply(orderPlaced{MessageBase: NewMessageBase()}, token)

		mu.Lock()
		assert.Empty(t, received)
		mu.Unlock()

		final := orderPlaced{MessageBase: NewMessageBase()}
		c.HandleReply(final, token)

		<-req.Done()
		mu.Lock()
		defer mu.Unlock()
		require.Len(t, received, 1)
		assert.Equal(t, final.CorrelationID(), received[0].CorrelationID())
	})

	t.Run("notifies the callback once on timeout", func(t *testing.T) {
		c := NewCorrelator()
		token := NewToken()

		var mu sync.Mutex
		var timeoutErr error
		calls := 0
		req := c.Register(token, 1, 10*time.Millisecond, func(reply Message, err error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			assert.Nil(t, reply)
			timeoutErr = err
		})

		<-req.Done()
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, timeoutErr, ErrRequestTimedOut)
	})
}

func TestCorrelator_UnmatchedReplies(t *testing.T) {
	t.Run("ignores unknown tokens", func(t *testing.T) {
		c := NewCorrelator()
		assert.False(t, c.HandleReply(orderPlaced{MessageBase: NewMessageBase()}, NewToken()))
	})

	t.Run("ignores late replies after resolution", func(t *testing.T) {
		c := NewCorrelator()
		token := NewToken()
		req := c.Register(token, 1, time.Second, nil)

		require.True(t, c.HandleReply(orderPlaced{MessageBase: NewMessageBase()}, token))
		_, err := req.Wait()
		require.NoError(t, err)

		assert.False(t, c.HandleReply(orderPlaced{MessageBase: NewMessageBase()}, token))
	})

	t.Run("ignores replies after cancellation", func(t *testing.T) {
		c := NewCorrelator()
		token := NewToken()
		c.Register(token, 1, time.Second, nil)

		c.Cancel(token)
		assert.Equal(t, 0, c.PendingCount())
		assert.False(t, c.HandleReply(orderPlaced{MessageBase: NewMessageBase()}, token))
	})
}
