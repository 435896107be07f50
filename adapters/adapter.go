// Package adapters provides interfaces for saga persistence back-ends.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultLockLease is the default lock lease duration. A crashed lock
// holder's record becomes reclaimable once the lease expires.
const DefaultLockLease = 30 * time.Second

// Sentinel errors for store implementations.
// Stores should return these (or errors that match via errors.Is)
// to enable consistent error handling across different back-ends.
var (
	// ErrSagaNotFound is returned when no record matches a predicate.
	// It is a valid "no matching saga" result, not a failure.
	ErrSagaNotFound = errors.New("busline: saga not found")

	// ErrRecordLocked is returned when a matching record exists but is
	// currently locked by another worker. Callers may retry with backoff.
	ErrRecordLocked = errors.New("busline: saga record locked")

	// ErrConcurrencyConflict is returned when an update's expected
	// version does not match the stored version.
	ErrConcurrencyConflict = errors.New("busline: concurrency conflict")

	// ErrStoreUnavailable is returned when the back-end cannot serve a
	// request (connection loss, timeout). It is not retried internally.
	ErrStoreUnavailable = errors.New("busline: saga store unavailable")

	// ErrWakeupNotFound is returned when a scheduled wakeup does not exist.
	ErrWakeupNotFound = errors.New("busline: wakeup not found")

	// ErrEmptySagaType is returned when an empty saga type is provided.
	ErrEmptySagaType = errors.New("busline: saga type is required")

	// ErrNilRecord is returned when a nil record is passed.
	ErrNilRecord = errors.New("busline: nil saga record")

	// ErrStoreClosed is returned when operations are attempted on a
	// closed store.
	ErrStoreClosed = errors.New("busline: saga store is closed")
)

// ConcurrencyError provides details about a concurrency conflict.
// It is returned when an optimistic version check fails during Update.
type ConcurrencyError struct {
	Key             string
	ExpectedVersion int64
	ActualVersion   int64
}

// NewConcurrencyError creates a ConcurrencyError.
func NewConcurrencyError(key string, expected, actual int64) *ConcurrencyError {
	return &ConcurrencyError{
		Key:             key,
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

// Error returns the error message.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("busline: concurrency conflict on saga record %q: expected version %d, got %d",
		e.Key, e.ExpectedVersion, e.ActualVersion)
}

// Is reports whether this error matches the target error.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *ConcurrencyError) Unwrap() error {
	return ErrConcurrencyConflict
}

// Predicate selects saga records whose data at Path equals Value.
// Path is an ordered list of property names navigating nested saga data
// (e.g. ["Widget", "Size", "Width"]).
type Predicate struct {
	Path  []string
	Value any
}

// SagaRecord wraps one saga instance's data with storage metadata.
// A record's version only increases; an update whose expected version
// does not match the stored version fails with ErrConcurrencyConflict.
type SagaRecord struct {
	// Key is the storage key, derived from the saga type and the
	// correlation value.
	Key string

	// SagaType is the registered saga type name.
	SagaType string

	// Data is the saga instance state.
	Data map[string]any

	// Version is the monotonically increasing record version.
	Version int64

	// Locked marks the record as held by a worker. Used by back-ends
	// that cannot do atomic compare-and-swap on arbitrary predicates.
	Locked bool

	// LockExpiresAt bounds how long a crashed holder can keep the lock.
	LockExpiresAt time.Time

	// CreatedAt is when the record was first inserted.
	CreatedAt time.Time

	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time
}

// Wakeup is a scheduled resume event for a saga that needs to continue
// without an external message.
type Wakeup struct {
	// ID uniquely identifies the wakeup for cancellation.
	ID uuid.UUID

	// SagaType is the saga type the wakeup belongs to.
	SagaType string

	// MessageType is the registered type of the wakeup payload.
	MessageType string

	// Payload is the serialized message dispatched when the wakeup fires.
	Payload []byte

	// Headers carries delivery metadata for the dispatched payload.
	Headers map[string]string

	// DueAt is when the wakeup becomes eligible for dispatch.
	DueAt time.Time

	// Locked mirrors the SagaRecord locking pattern so concurrent
	// processors do not dispatch the same wakeup twice.
	Locked bool

	// LockExpiresAt bounds the claim; a wakeup whose dispatch never
	// completed becomes claimable again once the lease passes.
	LockExpiresAt time.Time
}

// SagaStore defines the interface for saga persistence back-ends.
// All cross-worker coordination happens through the store's own atomic
// primitives; workers may be separate OS processes.
type SagaStore interface {
	// FindAndLock atomically selects one unlocked (or lease-expired)
	// record of the given saga type matching the predicate, marks it
	// locked with a lease, and returns it.
	//
	// Returns ErrSagaNotFound if no record matches at all, and
	// ErrRecordLocked if every matching record is currently held.
	FindAndLock(ctx context.Context, sagaType string, pred Predicate) (*SagaRecord, error)

	// UpsertNew inserts a record with version 1 for the given
	// correlation value if none exists. If a concurrent insert already
	// succeeded, the record is replaced (last-writer-wins): only the
	// first caller is meant to start a saga, but races are tolerated
	// rather than rejected.
	UpsertNew(ctx context.Context, sagaType string, correlationValue any, data map[string]any) error

	// Update performs a conditional write requiring the stored version
	// to equal record.Version. On success the version is incremented and
	// the lock cleared; on mismatch it fails with ErrConcurrencyConflict
	// and performs no partial write.
	Update(ctx context.Context, record *SagaRecord) error

	// Delete removes the record.
	Delete(ctx context.Context, record *SagaRecord) error

	// ScheduleWakeup stores a future resume event.
	ScheduleWakeup(ctx context.Context, w *Wakeup) error

	// DueWakeups returns and locks up to limit wakeups due at or before
	// now, mirroring the SagaRecord locking pattern.
	DueWakeups(ctx context.Context, now time.Time, limit int) ([]*Wakeup, error)

	// CancelWakeup removes a scheduled wakeup.
	CancelWakeup(ctx context.Context, id uuid.UUID) error

	// Close releases back-end resources.
	Close() error
}
