package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R-Suite/busline/adapters"
)

// Integration tests require a running Redis instance:
//
//	BUSLINE_REDIS_ADDR=localhost:6379 go test ./adapters/redis/

func newTestStore(t *testing.T) *SagaStore {
	t.Helper()

	addr := os.Getenv("BUSLINE_REDIS_ADDR")
	if addr == "" {
		t.Skip("BUSLINE_REDIS_ADDR not set, skipping integration test")
	}

	store := Open(addr,
		WithKeyPrefix(fmt.Sprintf("busline_test_%d", time.Now().UnixNano())),
		WithLockLease(time.Minute))

	require.NoError(t, store.Ping(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestSagaStore_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pred := adapters.Predicate{Path: []string{"orderId"}, Value: "o-1"}

	require.NoError(t, store.UpsertNew(ctx, "OrderSaga", "o-1", map[string]any{"orderId": "o-1"}))

	rec, err := store.FindAndLock(ctx, "OrderSaga", pred)
	require.NoError(t, err)
	assert.Equal(t, adapters.RecordKey("OrderSaga", "o-1"), rec.Key)
	assert.Equal(t, int64(1), rec.Version)

	_, err = store.FindAndLock(ctx, "OrderSaga", pred)
	assert.ErrorIs(t, err, ErrRecordLocked)

	rec.Data["paid"] = true
	require.NoError(t, store.Update(ctx, rec))
	assert.Equal(t, int64(2), rec.Version)

	rec, err = store.FindAndLock(ctx, "OrderSaga", pred)
	require.NoError(t, err)
	assert.Equal(t, true, rec.Data["paid"])

	require.NoError(t, store.Delete(ctx, rec))
	_, err = store.FindAndLock(ctx, "OrderSaga", pred)
	assert.ErrorIs(t, err, ErrSagaNotFound)
}

func TestSagaStore_ConcurrencyConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertNew(ctx, "OrderSaga", "o-1", map[string]any{"orderId": "o-1"}))

	pred := adapters.Predicate{Path: []string{"orderId"}, Value: "o-1"}
	rec, err := store.FindAndLock(ctx, "OrderSaga", pred)
	require.NoError(t, err)

	stale := adapters.CopyRecord(rec)
	require.NoError(t, store.Update(ctx, rec))

	err = store.Update(ctx, stale)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestSagaStore_UpsertNewReplacesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertNew(ctx, "OrderSaga", "o-1", map[string]any{"orderId": "o-1", "from": "first"}))
	require.NoError(t, store.UpsertNew(ctx, "OrderSaga", "o-1", map[string]any{"orderId": "o-1", "from": "second"}))

	rec, err := store.FindAndLock(ctx, "OrderSaga",
		adapters.Predicate{Path: []string{"orderId"}, Value: "o-1"})
	require.NoError(t, err)
	assert.Equal(t, "second", rec.Data["from"])
	assert.Equal(t, int64(1), rec.Version)
}

func TestSagaStore_WakeupLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	wk := &adapters.Wakeup{
		ID:          uuid.New(),
		SagaType:    "OrderSaga",
		MessageType: "OrderTimedOut",
		Payload:     []byte(`{"orderId":"o-1"}`),
		DueAt:       time.Now().Add(-time.Second),
	}
	require.NoError(t, store.ScheduleWakeup(ctx, wk))

	notDue := &adapters.Wakeup{
		ID:          uuid.New(),
		SagaType:    "OrderSaga",
		MessageType: "OrderTimedOut",
		DueAt:       time.Now().Add(time.Hour),
	}
	require.NoError(t, store.ScheduleWakeup(ctx, notDue))

	due, err := store.DueWakeups(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, wk.ID, due[0].ID)

	due, err = store.DueWakeups(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, store.CancelWakeup(ctx, wk.ID))
	require.NoError(t, store.CancelWakeup(ctx, notDue.ID))
	assert.ErrorIs(t, store.CancelWakeup(ctx, wk.ID), ErrWakeupNotFound)
}
