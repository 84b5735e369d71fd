// Package store persists UpdateRecords in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/internal/webapk/model"
)

// Store is a core.RecordStore backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ core.RecordStore = (*Store)(nil)

// New opens the database at dbPath and creates the schema if needed.
// Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) createSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const selectColumns = `app_id, package_name, last_check_time, last_completion_time,
	last_request_succeeded, last_requested_shell_version, should_force_update,
	relaxed_updates, update_scheduled, pending_update_request_path`

// Get returns the record for appID or core.ErrRecordNotFound.
func (s *Store) Get(ctx context.Context, appID string) (*model.UpdateRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM update_records WHERE app_id = ?`, appID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", appID, core.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", appID, err)
	}
	return rec, nil
}

// Put inserts or updates rec. The stored last check time never moves
// backwards.
func (s *Store) Put(ctx context.Context, rec *model.UpdateRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record %s: %w", rec.AppID, err)
	}

	query := `
		INSERT INTO update_records
		(app_id, package_name, last_check_time, last_completion_time, last_request_succeeded,
		 last_requested_shell_version, should_force_update, relaxed_updates, update_scheduled,
		 pending_update_request_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_id) DO UPDATE SET
			package_name = excluded.package_name,
			last_check_time = MAX(update_records.last_check_time, excluded.last_check_time),
			last_completion_time = excluded.last_completion_time,
			last_request_succeeded = excluded.last_request_succeeded,
			last_requested_shell_version = excluded.last_requested_shell_version,
			should_force_update = excluded.should_force_update,
			relaxed_updates = excluded.relaxed_updates,
			update_scheduled = excluded.update_scheduled,
			pending_update_request_path = excluded.pending_update_request_path
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.AppID,
		rec.PackageName,
		toNanos(rec.LastCheckTime),
		toNanos(rec.LastCompletionTime),
		rec.LastRequestSucceeded,
		rec.LastRequestedShellVersion,
		rec.ShouldForceUpdate,
		rec.RelaxedUpdates,
		rec.UpdateScheduled,
		rec.PendingUpdateRequestPath,
	)
	if err != nil {
		return fmt.Errorf("failed to put record %s: %w", rec.AppID, err)
	}
	return nil
}

// Delete removes the record for appID. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, appID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM update_records WHERE app_id = ?`, appID); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", appID, err)
	}
	return nil
}

// List returns all records ordered by app id.
func (s *Store) List(ctx context.Context) ([]*model.UpdateRecord, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM update_records ORDER BY app_id`)
}

// ListScheduled returns the records with an outstanding delivery.
func (s *Store) ListScheduled(ctx context.Context) ([]*model.UpdateRecord, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM update_records WHERE update_scheduled = 1 ORDER BY app_id`)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*model.UpdateRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*model.UpdateRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*model.UpdateRecord, error) {
	var rec model.UpdateRecord
	var lastCheck, lastCompletion int64
	err := sc.Scan(
		&rec.AppID,
		&rec.PackageName,
		&lastCheck,
		&lastCompletion,
		&rec.LastRequestSucceeded,
		&rec.LastRequestedShellVersion,
		&rec.ShouldForceUpdate,
		&rec.RelaxedUpdates,
		&rec.UpdateScheduled,
		&rec.PendingUpdateRequestPath,
	)
	if err != nil {
		return nil, err
	}
	rec.LastCheckTime = fromNanos(lastCheck)
	rec.LastCompletionTime = fromNanos(lastCompletion)
	return &rec, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
