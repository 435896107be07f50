// Package memory provides an in-memory implementation of the saga store.
// It is the reference back-end used by tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R-Suite/busline/adapters"
)

// Ensure interface compliance at compile time
var _ adapters.SagaStore = (*SagaStore)(nil)

// SagaStore provides an in-memory implementation of adapters.SagaStore.
type SagaStore struct {
	mu        sync.Mutex
	lockLease time.Duration
	now       func() time.Time

	// sagas maps saga type -> record key -> record
	sagas   map[string]map[string]*adapters.SagaRecord
	wakeups map[string]*adapters.Wakeup
	closed  bool
}

// Option configures a SagaStore.
type Option func(*SagaStore)

// WithLockLease sets the lock lease duration.
func WithLockLease(d time.Duration) Option {
	return func(s *SagaStore) {
		if d > 0 {
			s.lockLease = d
		}
	}
}

// WithClock sets the time source. Used by tests to expire leases.
func WithClock(now func() time.Time) Option {
	return func(s *SagaStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSagaStore creates a new in-memory SagaStore.
func NewSagaStore(opts ...Option) *SagaStore {
	s := &SagaStore{
		lockLease: adapters.DefaultLockLease,
		now:       time.Now,
		sagas:     make(map[string]map[string]*adapters.SagaRecord),
		wakeups:   make(map[string]*adapters.Wakeup),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// FindAndLock atomically selects one unlocked (or lease-expired) record
// matching the predicate, marks it locked with a lease, and returns a
// deep copy. Records are scanned in key order for determinism.
func (s *SagaStore) FindAndLock(ctx context.Context, sagaType string, pred adapters.Predicate) (*adapters.SagaRecord, error) {
	if sagaType == "" {
		return nil, adapters.ErrEmptySagaType
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	records := s.sagas[sagaType]
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := s.now()
	matched := false
	for _, k := range keys {
		rec := records[k]
		if !pred.Matches(rec.Data) {
			continue
		}
		matched = true

		if rec.Locked && rec.LockExpiresAt.After(now) {
			continue
		}

		rec.Locked = true
		rec.LockExpiresAt = now.Add(s.lockLease)
		return adapters.CopyRecord(rec), nil
	}

	if matched {
		return nil, adapters.ErrRecordLocked
	}
	return nil, adapters.ErrSagaNotFound
}

// UpsertNew inserts a record with version 1, replacing any record a
// concurrent starter already inserted for the same correlation value.
func (s *SagaStore) UpsertNew(ctx context.Context, sagaType string, correlationValue any, data map[string]any) error {
	if sagaType == "" {
		return adapters.ErrEmptySagaType
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	records, ok := s.sagas[sagaType]
	if !ok {
		records = make(map[string]*adapters.SagaRecord)
		s.sagas[sagaType] = records
	}

	now := s.now()
	key := adapters.RecordKey(sagaType, correlationValue)
	created := now
	if existing, ok := records[key]; ok {
		created = existing.CreatedAt
	}

	records[key] = &adapters.SagaRecord{
		Key:       key,
		SagaType:  sagaType,
		Data:      adapters.CopyData(data),
		Version:   1,
		CreatedAt: created,
		UpdatedAt: now,
	}

	return nil
}

// Update performs a conditional write requiring the stored version to
// equal record.Version. On success the version increments and the lock
// clears; on mismatch no partial write happens.
func (s *SagaStore) Update(ctx context.Context, record *adapters.SagaRecord) error {
	if record == nil {
		return adapters.ErrNilRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	stored, ok := s.sagas[record.SagaType][record.Key]
	if !ok {
		return &adapters.ConcurrencyError{
			Key:             record.Key,
			ExpectedVersion: record.Version,
			ActualVersion:   0,
		}
	}

	if stored.Version != record.Version {
		return &adapters.ConcurrencyError{
			Key:             record.Key,
			ExpectedVersion: record.Version,
			ActualVersion:   stored.Version,
		}
	}

	stored.Data = adapters.CopyData(record.Data)
	stored.Version++
	stored.Locked = false
	stored.LockExpiresAt = time.Time{}
	stored.UpdatedAt = s.now()

	record.Version = stored.Version
	return nil
}

// Delete removes the record.
func (s *SagaStore) Delete(ctx context.Context, record *adapters.SagaRecord) error {
	if record == nil {
		return adapters.ErrNilRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	delete(s.sagas[record.SagaType], record.Key)
	return nil
}

// ScheduleWakeup stores a future resume event.
func (s *SagaStore) ScheduleWakeup(ctx context.Context, w *adapters.Wakeup) error {
	if w == nil || w.ID == uuid.Nil {
		return adapters.ErrWakeupNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	copied := *w
	s.wakeups[w.ID.String()] = &copied
	return nil
}

// DueWakeups returns and locks up to limit wakeups due at or before now.
func (s *SagaStore) DueWakeups(ctx context.Context, now time.Time, limit int) ([]*adapters.Wakeup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(s.wakeups))
	for id := range s.wakeups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var due []*adapters.Wakeup
	for _, id := range ids {
		if limit > 0 && len(due) >= limit {
			break
		}
		w := s.wakeups[id]
		if (w.Locked && w.LockExpiresAt.After(now)) || w.DueAt.After(now) {
			continue
		}
		w.Locked = true
		w.LockExpiresAt = now.Add(s.lockLease)
		copied := *w
		due = append(due, &copied)
	}

	return due, nil
}

// CancelWakeup removes a scheduled wakeup.
func (s *SagaStore) CancelWakeup(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	if _, ok := s.wakeups[id.String()]; !ok {
		return adapters.ErrWakeupNotFound
	}

	delete(s.wakeups, id.String())
	return nil
}

// Close releases resources and rejects further operations.
func (s *SagaStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Clear removes all records and wakeups (useful for testing).
func (s *SagaStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sagas = make(map[string]map[string]*adapters.SagaRecord)
	s.wakeups = make(map[string]*adapters.Wakeup)
}

// Count returns the number of records stored for a saga type.
func (s *SagaStore) Count(sagaType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sagas[sagaType])
}

// Record returns a deep copy of a record by key (useful for testing).
func (s *SagaStore) Record(sagaType, key string) (*adapters.SagaRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sagas[sagaType][key]
	if !ok {
		return nil, false
	}
	return adapters.CopyRecord(rec), true
}

func (s *SagaStore) check(ctx context.Context) error {
	if s.closed {
		return adapters.ErrStoreClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return nil
}
