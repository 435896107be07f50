package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/R-Suite/busline/adapters"
)

// Ensure interface compliance at compile time
var _ adapters.SagaStore = (*SagaStore)(nil)

// SagaStore provides a PostgreSQL implementation of adapters.SagaStore.
//
// Records live in a JSONB-backed table; correlation predicates are
// evaluated server-side with the #>> path operator. Claiming uses
// FOR UPDATE SKIP LOCKED plus a lock lease column so a crashed worker's
// claim expires on its own.
type SagaStore struct {
	db          *sql.DB
	schema      string
	table       string
	wakeupTable string
	lease       time.Duration
}

// SagaStoreOption configures a SagaStore.
type SagaStoreOption func(*SagaStore)

// WithSagaSchema sets the PostgreSQL schema for the saga tables.
func WithSagaSchema(schema string) SagaStoreOption {
	return func(s *SagaStore) {
		s.schema = schema
	}
}

// WithSagaTable sets the table name for saga records.
func WithSagaTable(table string) SagaStoreOption {
	return func(s *SagaStore) {
		s.table = table
	}
}

// WithWakeupTable sets the table name for scheduled wakeups.
func WithWakeupTable(table string) SagaStoreOption {
	return func(s *SagaStore) {
		s.wakeupTable = table
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

// NewSagaStore creates a new PostgreSQL SagaStore.
func NewSagaStore(db *sql.DB, opts ...SagaStoreOption) *SagaStore {
	s := &SagaStore{
		db:          db,
		schema:      "public",
		table:       "busline_sagas",
		wakeupTable: "busline_wakeups",
		lease:       adapters.DefaultLockLease,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *SagaStore) fullTableName() string {
	return quoteQualifiedTable(s.schema, s.table)
}

func (s *SagaStore) fullWakeupTableName() string {
	return quoteQualifiedTable(s.schema, s.wakeupTable)
}

// Initialize creates the saga and wakeup tables if they don't exist.
func (s *SagaStore) Initialize(ctx context.Context) error {
	for _, id := range [][2]string{
		{s.schema, "schema"},
		{s.table, "table"},
		{s.wakeupTable, "table"},
	} {
		if err := validateIdentifier(id[0], id[1]); err != nil {
			return err
		}
	}

	tableQ := s.fullTableName()
	wakeupQ := s.fullWakeupTableName()
	query := `
		CREATE TABLE IF NOT EXISTS ` + tableQ + ` (
			key VARCHAR(512) PRIMARY KEY,
			saga_type VARCHAR(255) NOT NULL,
			data JSONB NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			locked_until TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS ` + quoteIdentifier("idx_"+s.table+"_saga_type") + ` ON ` + tableQ + ` (saga_type);
		CREATE INDEX IF NOT EXISTS ` + quoteIdentifier("idx_"+s.table+"_data") + ` ON ` + tableQ + ` USING GIN (data);

		CREATE TABLE IF NOT EXISTS ` + wakeupQ + ` (
			id UUID PRIMARY KEY,
			saga_type VARCHAR(255) NOT NULL,
			message_type VARCHAR(255) NOT NULL,
			payload BYTEA,
			headers JSONB,
			due_at TIMESTAMPTZ NOT NULL,
			locked_until TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS ` + quoteIdentifier("idx_"+s.wakeupTable+"_due_at") + ` ON ` + wakeupQ + ` (due_at);
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return storeErr("failed to create tables", err)
	}

	return nil
}

// FindAndLock finds the single saga record matching the predicate and
// claims it for this worker. A match already claimed by another worker
// fails with ErrRecordLocked; no match at all fails with ErrSagaNotFound.
func (s *SagaStore) FindAndLock(ctx context.Context, sagaType string, pred adapters.Predicate) (*adapters.SagaRecord, error) {
	if sagaType == "" {
		return nil, adapters.ErrEmptySagaType
	}

	value, err := predicateText(pred.Value)
	if err != nil {
		return nil, err
	}
	path := pathArray(pred.Path)

	tableQ := s.fullTableName()
	query := `
		UPDATE ` + tableQ + ` SET locked_until = NOW() + $4 * INTERVAL '1 millisecond'
		WHERE key = (
			SELECT key FROM ` + tableQ + `
			WHERE saga_type = $1
			  AND data #>> $2::text[] = $3
			  AND (locked_until IS NULL OR locked_until < NOW())
			ORDER BY key
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING key, saga_type, data, version, locked_until, created_at, updated_at
	`

	var (
		record      adapters.SagaRecord
		dataJSON    []byte
		lockedUntil sql.NullTime
	)

	err = s.db.QueryRowContext(ctx, query, sagaType, path, value, s.lease.Milliseconds()).Scan(
		&record.Key,
		&record.SagaType,
		&dataJSON,
		&record.Version,
		&lockedUntil,
		&record.CreatedAt,
		&record.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.classifyMiss(ctx, sagaType, path, value)
	}
	if err != nil {
		return nil, storeErr("failed to find and lock saga", err)
	}

	if err := json.Unmarshal(dataJSON, &record.Data); err != nil {
		return nil, fmt.Errorf("busline/postgres: failed to unmarshal saga data: %w", err)
	}

	record.Locked = true
	if lockedUntil.Valid {
		record.LockExpiresAt = lockedUntil.Time
	}

	return &record, nil
}

// classifyMiss distinguishes "everything matching is claimed" from "no
// instance exists".
func (s *SagaStore) classifyMiss(ctx context.Context, sagaType, path, value string) error {
	query := `
		SELECT COUNT(*) FROM ` + s.fullTableName() + `
		WHERE saga_type = $1 AND data #>> $2::text[] = $3
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, sagaType, path, value).Scan(&count); err != nil {
		return storeErr("failed to classify lock miss", err)
	}

	if count > 0 {
		return fmt.Errorf("busline/postgres: saga %q matching %s=%s: %w",
			sagaType, path, value, adapters.ErrRecordLocked)
	}
	return adapters.ErrSagaNotFound
}

// UpsertNew inserts a fresh saga record. A concurrent insert for the
// same correlation value resolves last-writer-wins: the later data
// overwrites, version stays 1, and the original creation time is kept.
func (s *SagaStore) UpsertNew(ctx context.Context, sagaType string, correlationValue any, data map[string]any) error {
	if sagaType == "" {
		return adapters.ErrEmptySagaType
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("busline/postgres: failed to marshal saga data: %w", err)
	}

	key := adapters.RecordKey(sagaType, correlationValue)
	tableQ := s.fullTableName()
	query := `
		INSERT INTO ` + tableQ + ` (key, saga_type, data, version, created_at, updated_at)
		VALUES ($1, $2, $3, 1, NOW(), NOW())
		ON CONFLICT (key) DO UPDATE SET
			data = EXCLUDED.data,
			version = 1,
			locked_until = NULL,
			updated_at = NOW()
	`

	if _, err := s.db.ExecContext(ctx, query, key, sagaType, dataJSON); err != nil {
		return storeErr("failed to insert saga", err)
	}

	return nil
}

// Update persists a previously locked record, bumps its version, and
// releases the claim. A version mismatch fails with a ConcurrencyError.
func (s *SagaStore) Update(ctx context.Context, record *adapters.SagaRecord) error {
	if record == nil {
		return adapters.ErrNilRecord
	}

	dataJSON, err := json.Marshal(record.Data)
	if err != nil {
		return fmt.Errorf("busline/postgres: failed to marshal saga data: %w", err)
	}

	tableQ := s.fullTableName()
	query := `
		UPDATE ` + tableQ + ` SET
			data = $3,
			version = version + 1,
			locked_until = NULL,
			updated_at = NOW()
		WHERE key = $1 AND version = $2
		RETURNING version
	`

	var newVersion int64
	err = s.db.QueryRowContext(ctx, query, record.Key, record.Version, dataJSON).Scan(&newVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return s.classifyUpdateMiss(ctx, record)
	}
	if err != nil {
		return storeErr("failed to update saga", err)
	}

	record.Version = newVersion
	record.Locked = false
	record.LockExpiresAt = time.Time{}
	return nil
}

func (s *SagaStore) classifyUpdateMiss(ctx context.Context, record *adapters.SagaRecord) error {
	query := `SELECT version FROM ` + s.fullTableName() + ` WHERE key = $1`

	var actual int64
	err := s.db.QueryRowContext(ctx, query, record.Key).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return adapters.ErrSagaNotFound
	}
	if err != nil {
		return storeErr("failed to classify update miss", err)
	}

	return adapters.NewConcurrencyError(record.Key, record.Version, actual)
}

// Delete removes a completed saga record.
func (s *SagaStore) Delete(ctx context.Context, record *adapters.SagaRecord) error {
	if record == nil {
		return adapters.ErrNilRecord
	}

	query := `DELETE FROM ` + s.fullTableName() + ` WHERE key = $1`

	result, err := s.db.ExecContext(ctx, query, record.Key)
	if err != nil {
		return storeErr("failed to delete saga", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return storeErr("failed to get rows affected", err)
	}
	if affected == 0 {
		return adapters.ErrSagaNotFound
	}

	return nil
}

// ScheduleWakeup stores a future saga timeout message.
func (s *SagaStore) ScheduleWakeup(ctx context.Context, wakeup *adapters.Wakeup) error {
	if wakeup == nil {
		return adapters.ErrNilRecord
	}

	headersJSON, err := json.Marshal(wakeup.Headers)
	if err != nil {
		return fmt.Errorf("busline/postgres: failed to marshal wakeup headers: %w", err)
	}

	query := `
		INSERT INTO ` + s.fullWakeupTableName() + ` (id, saga_type, message_type, payload, headers, due_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET due_at = EXCLUDED.due_at
	`

	_, err = s.db.ExecContext(ctx, query,
		wakeup.ID, wakeup.SagaType, wakeup.MessageType, wakeup.Payload, headersJSON, wakeup.DueAt)
	if err != nil {
		return storeErr("failed to schedule wakeup", err)
	}

	return nil
}

// DueWakeups claims up to limit wakeups due at or before now. Claimed
// wakeups are invisible to other workers until the lease expires or
// CancelWakeup removes them.
func (s *SagaStore) DueWakeups(ctx context.Context, now time.Time, limit int) ([]*adapters.Wakeup, error) {
	if limit <= 0 {
		limit = 50
	}

	tableQ := s.fullWakeupTableName()
	query := `
		UPDATE ` + tableQ + ` SET locked_until = NOW() + $3 * INTERVAL '1 millisecond'
		WHERE id IN (
			SELECT id FROM ` + tableQ + `
			WHERE due_at <= $1
			  AND (locked_until IS NULL OR locked_until < NOW())
			ORDER BY due_at
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		RETURNING id, saga_type, message_type, payload, headers, due_at
	`

	rows, err := s.db.QueryContext(ctx, query, now, limit, s.lease.Milliseconds())
	if err != nil {
		return nil, storeErr("failed to claim due wakeups", err)
	}
	defer rows.Close()

	var due []*adapters.Wakeup
	for rows.Next() {
		var (
			wk          adapters.Wakeup
			headersJSON []byte
		)
		if err := rows.Scan(&wk.ID, &wk.SagaType, &wk.MessageType, &wk.Payload, &headersJSON, &wk.DueAt); err != nil {
			return nil, storeErr("failed to scan wakeup", err)
		}
		if len(headersJSON) > 0 {
			if err := json.Unmarshal(headersJSON, &wk.Headers); err != nil {
				return nil, fmt.Errorf("busline/postgres: failed to unmarshal wakeup headers: %w", err)
			}
		}
		wk.Locked = true
		due = append(due, &wk)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("error iterating wakeups", err)
	}

	return due, nil
}

// CancelWakeup removes a scheduled wakeup.
func (s *SagaStore) CancelWakeup(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM ` + s.fullWakeupTableName() + ` WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return storeErr("failed to cancel wakeup", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return storeErr("failed to get rows affected", err)
	}
	if affected == 0 {
		return adapters.ErrWakeupNotFound
	}

	return nil
}

// Cleanup removes saga records not touched within the retention window.
func (s *SagaStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `DELETE FROM ` + s.fullTableName() + ` WHERE updated_at < $1`

	result, err := s.db.ExecContext(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, storeErr("failed to cleanup", err)
	}

	return result.RowsAffected()
}

// Ping verifies database connectivity.
func (s *SagaStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storeErr("ping failed", err)
	}
	return nil
}

// Close releases no resources; the *sql.DB may be shared.
func (s *SagaStore) Close() error {
	return nil
}
