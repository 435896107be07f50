// Package redis provides a Redis implementation of the saga store
// adapter.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/R-Suite/busline/adapters"
)

// Sentinel errors for the redis adapter.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	ErrSagaNotFound        = adapters.ErrSagaNotFound
	ErrRecordLocked        = adapters.ErrRecordLocked
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict
	ErrStoreUnavailable    = adapters.ErrStoreUnavailable
	ErrWakeupNotFound      = adapters.ErrWakeupNotFound
)

// Ensure interface compliance at compile time
var _ adapters.SagaStore = (*SagaStore)(nil)

// SagaStore provides a Redis implementation of adapters.SagaStore.
//
// Each record is a JSON value under one key, indexed per saga type by a
// set of keys. Claims are separate lock keys written with SET NX and a
// PX lease, so a crashed worker's claim expires server-side. Updates run
// under WATCH so a concurrent version bump aborts the transaction.
type SagaStore struct {
	client *redis.Client
	prefix string
	lease  time.Duration
}

// SagaStoreOption configures a SagaStore.
type SagaStoreOption func(*SagaStore)

// WithKeyPrefix sets the key namespace prefix.
func WithKeyPrefix(prefix string) SagaStoreOption {
	return func(s *SagaStore) {
		s.prefix = prefix
	}
}

// WithLockLease sets the lock lease duration.
func WithLockLease(d time.Duration) SagaStoreOption {
	return func(s *SagaStore) {
		if d > 0 {
			s.lease = d
		}
	}
}

// NewSagaStore creates a new Redis SagaStore.
func NewSagaStore(client *redis.Client, opts ...SagaStoreOption) *SagaStore {
	s := &SagaStore{
		client: client,
		prefix: "busline",
		lease:  adapters.DefaultLockLease,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Open creates a SagaStore with its own Redis client.
func Open(addr string, opts ...SagaStoreOption) *SagaStore {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return NewSagaStore(client, opts...)
}

func (s *SagaStore) recordKey(key string) string {
	return s.prefix + ":saga:" + key
}

func (s *SagaStore) lockKey(key string) string {
	return s.prefix + ":lock:" + key
}

func (s *SagaStore) indexKey(sagaType string) string {
	return s.prefix + ":index:" + sagaType
}

func (s *SagaStore) wakeupKey(id uuid.UUID) string {
	return s.prefix + ":wakeup:" + id.String()
}

func (s *SagaStore) wakeupZSet() string {
	return s.prefix + ":wakeups"
}

func storeErr(op string, err error) error {
	return fmt.Errorf("busline/redis: %s: %v: %w", op, err, adapters.ErrStoreUnavailable)
}

// FindAndLock scans the saga type's index for the single record matching
// the predicate and claims it with a leased lock key. A match claimed by
// another worker fails with ErrRecordLocked; no match fails with
// ErrSagaNotFound.
func (s *SagaStore) FindAndLock(ctx context.Context, sagaType string, pred adapters.Predicate) (*adapters.SagaRecord, error) {
	if sagaType == "" {
		return nil, adapters.ErrEmptySagaType
	}

	keys, err := s.client.SMembers(ctx, s.indexKey(sagaType)).Result()
	if err != nil {
		return nil, storeErr("failed to read saga index", err)
	}
	sort.Strings(keys)

	matchedLocked := false
	for _, key := range keys {
		record, err := s.load(ctx, key)
		if errors.Is(err, adapters.ErrSagaNotFound) {
			// index entry outlived its record
			s.client.SRem(ctx, s.indexKey(sagaType), key)
			continue
		}
		if err != nil {
			return nil, err
		}

		if !pred.Matches(record.Data) {
			continue
		}

		acquired, err := s.client.SetNX(ctx, s.lockKey(key), "1", s.lease).Result()
		if err != nil {
			return nil, storeErr("failed to acquire lock", err)
		}
		if !acquired {
			matchedLocked = true
			continue
		}

		record.Locked = true
		record.LockExpiresAt = time.Now().Add(s.lease)
		return record, nil
	}

	if matchedLocked {
		return nil, fmt.Errorf("busline/redis: saga %q matching %s: %w",
			sagaType, pred.String(), adapters.ErrRecordLocked)
	}
	return nil, adapters.ErrSagaNotFound
}

// UpsertNew inserts a fresh saga record, last-writer-wins on data with
// version pinned to 1 and the original creation time preserved.
func (s *SagaStore) UpsertNew(ctx context.Context, sagaType string, correlationValue any, data map[string]any) error {
	if sagaType == "" {
		return adapters.ErrEmptySagaType
	}

	key := adapters.RecordKey(sagaType, correlationValue)
	now := time.Now()

	record := &adapters.SagaRecord{
		Key:       key,
		SagaType:  sagaType,
		Data:      data,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if existing, err := s.load(ctx, key); err == nil {
		record.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, adapters.ErrSagaNotFound) {
		return err
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("busline/redis: failed to marshal saga record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(key), raw, 0)
	pipe.SAdd(ctx, s.indexKey(sagaType), key)
	pipe.Del(ctx, s.lockKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("failed to insert saga", err)
	}

	return nil
}

// Update persists a previously locked record, bumps its version, and
// releases the claim. The record key is watched so a concurrent bump
// surfaces as a ConcurrencyError.
func (s *SagaStore) Update(ctx context.Context, record *adapters.SagaRecord) error {
	if record == nil {
		return adapters.ErrNilRecord
	}

	key := record.Key
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, s.recordKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return adapters.ErrSagaNotFound
		}
		if err != nil {
			return storeErr("failed to read saga record", err)
		}

		var current adapters.SagaRecord
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("busline/redis: failed to unmarshal saga record: %w", err)
		}

		if current.Version != record.Version {
			return adapters.NewConcurrencyError(key, record.Version, current.Version)
		}

		updated := *record
		updated.Version = record.Version + 1
		updated.Locked = false
		updated.LockExpiresAt = time.Time{}
		updated.UpdatedAt = time.Now()

		out, err := json.Marshal(&updated)
		if err != nil {
			return fmt.Errorf("busline/redis: failed to marshal saga record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.recordKey(key), out, 0)
			pipe.Del(ctx, s.lockKey(key))
			return nil
		})
		return err
	}, s.recordKey(key))

	if errors.Is(err, redis.TxFailedErr) {
		return adapters.NewConcurrencyError(key, record.Version, record.Version+1)
	}
	if err != nil {
		return err
	}

	record.Version++
	record.Locked = false
	record.LockExpiresAt = time.Time{}
	return nil
}

// Delete removes a completed saga record and its index entry.
func (s *SagaStore) Delete(ctx context.Context, record *adapters.SagaRecord) error {
	if record == nil {
		return adapters.ErrNilRecord
	}

	removed, err := s.client.Del(ctx, s.recordKey(record.Key)).Result()
	if err != nil {
		return storeErr("failed to delete saga", err)
	}

	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, s.indexKey(record.SagaType), record.Key)
	pipe.Del(ctx, s.lockKey(record.Key))
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("failed to clean up saga keys", err)
	}

	if removed == 0 {
		return adapters.ErrSagaNotFound
	}
	return nil
}

// ScheduleWakeup stores a future saga timeout message, scored by its due
// time in a sorted set.
func (s *SagaStore) ScheduleWakeup(ctx context.Context, wakeup *adapters.Wakeup) error {
	if wakeup == nil {
		return adapters.ErrNilRecord
	}

	raw, err := json.Marshal(wakeup)
	if err != nil {
		return fmt.Errorf("busline/redis: failed to marshal wakeup: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.wakeupKey(wakeup.ID), raw, 0)
	pipe.ZAdd(ctx, s.wakeupZSet(), redis.Z{
		Score:  float64(wakeup.DueAt.UnixMilli()),
		Member: wakeup.ID.String(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("failed to schedule wakeup", err)
	}

	return nil
}

// DueWakeups claims up to limit wakeups due at or before now. Claims use
// per-wakeup leased lock keys.
func (s *SagaStore) DueWakeups(ctx context.Context, now time.Time, limit int) ([]*adapters.Wakeup, error) {
	if limit <= 0 {
		limit = 50
	}

	ids, err := s.client.ZRangeByScore(ctx, s.wakeupZSet(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, storeErr("failed to read due wakeups", err)
	}

	var due []*adapters.Wakeup
	for _, id := range ids {
		acquired, err := s.client.SetNX(ctx, s.prefix+":wakeup-lock:"+id, "1", s.lease).Result()
		if err != nil {
			return nil, storeErr("failed to claim wakeup", err)
		}
		if !acquired {
			continue
		}

		raw, err := s.client.Get(ctx, s.prefix+":wakeup:"+id).Bytes()
		if errors.Is(err, redis.Nil) {
			// id outlived its payload
			s.client.ZRem(ctx, s.wakeupZSet(), id)
			continue
		}
		if err != nil {
			return nil, storeErr("failed to read wakeup", err)
		}

		var wk adapters.Wakeup
		if err := json.Unmarshal(raw, &wk); err != nil {
			return nil, fmt.Errorf("busline/redis: failed to unmarshal wakeup: %w", err)
		}
		wk.Locked = true
		due = append(due, &wk)
	}

	return due, nil
}

// CancelWakeup removes a scheduled wakeup.
func (s *SagaStore) CancelWakeup(ctx context.Context, id uuid.UUID) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.wakeupKey(id))
	pipe.ZRem(ctx, s.wakeupZSet(), id.String())
	pipe.Del(ctx, s.prefix+":wakeup-lock:"+id.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("failed to cancel wakeup", err)
	}

	if del.Val() == 0 {
		return adapters.ErrWakeupNotFound
	}
	return nil
}

// Ping verifies connectivity.
func (s *SagaStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storeErr("ping failed", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *SagaStore) Close() error {
	return s.client.Close()
}

func (s *SagaStore) load(ctx context.Context, key string) (*adapters.SagaRecord, error) {
	raw, err := s.client.Get(ctx, s.recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, adapters.ErrSagaNotFound
	}
	if err != nil {
		return nil, storeErr("failed to read saga record", err)
	}

	var record adapters.SagaRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("busline/redis: failed to unmarshal saga record: %w", err)
	}
	return &record, nil
}
