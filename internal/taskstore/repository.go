// Package taskstore persists Monitorable Records: the local state of
// hypervisor operations (backups, restores, ISO downloads, rebuilds) that
// monitoring jobs poll to completion.
//
// Storage is the shared vpsd SQLite database.
package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nathanbeddoewebdev/vpsd/internal/database"
)

// ErrVersionConflict is returned by Update when the record was modified
// since it was read.
var ErrVersionConflict = errors.New("tasks: record modified concurrently")

// ErrNotFound is returned by Update and Delete for an unknown id.
var ErrNotFound = errors.New("tasks: record not found")

// Repository defines the persistence interface for task records.
type Repository interface {
	// Create inserts record and assigns its ID.
	Create(ctx context.Context, record *Record) error

	// Get retrieves a record by ID. It returns nil, nil when absent.
	Get(ctx context.Context, id int64) (*Record, error)

	// Update writes record if its Version still matches the stored one,
	// then increments Version.
	Update(ctx context.Context, record *Record) error

	// Delete removes a record.
	Delete(ctx context.Context, id int64) error

	// ListActive returns non-terminal records, oldest first.
	ListActive(ctx context.Context) ([]Record, error)

	// ListRecent returns the n most recent records, newest first.
	ListRecent(ctx context.Context, n int) ([]Record, error)

	// ListByResource returns all records for a resource, newest first.
	ListByResource(ctx context.Context, resourceID string) ([]Record, error)

	// ListOlderThan returns terminal records last updated before d ago.
	ListOlderThan(ctx context.Context, d time.Duration) ([]Record, error)

	// DeleteOlderThan removes terminal records last updated before d ago.
	DeleteOlderThan(ctx context.Context, d time.Duration) (int64, error)

	// RecordAttempt notes that attempt ran against taskID. It only moves
	// forward, is ignored once the record tracks another task, and does
	// not change Version.
	RecordAttempt(ctx context.Context, id int64, taskID string, attempt int) error

	// Close releases database resources.
	Close() error
}

// SQLiteRepository implements Repository backed by a local SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

// Open creates or opens the task repository at the default path.
func Open() (*SQLiteRepository, error) {
	path, err := database.DefaultPath()
	if err != nil {
		return nil, fmt.Errorf("tasks: %w", err)
	}
	return OpenAt(path)
}

// OpenAt creates or opens a SQLite database at the given path.
func OpenAt(path string) (*SQLiteRepository, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tasks: %w", err)
	}

	r := &SQLiteRepository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepository) migrate() error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS tasks (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			kind             TEXT    NOT NULL,
			resource_id      TEXT    NOT NULL,
			external_task_id TEXT    NOT NULL DEFAULT '',
			label            TEXT    NOT NULL DEFAULT '',
			status           TEXT    NOT NULL DEFAULT 'pending',
			step             TEXT    NOT NULL DEFAULT '',
			progress         REAL    NOT NULL DEFAULT 0,
			size_bytes       INTEGER,
			error            TEXT    NOT NULL DEFAULT '',
			lock_token       TEXT    NOT NULL DEFAULT '',
			version          INTEGER NOT NULL DEFAULT 1,
			attempt          INTEGER NOT NULL DEFAULT 0,
			started_at       TEXT,
			completed_at     TEXT,
			created_at       TEXT    NOT NULL,
			updated_at       TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
		CREATE INDEX IF NOT EXISTS idx_tasks_resource ON tasks(resource_id);
	`
	if _, err := r.db.Exec(ddl); err != nil {
		return fmt.Errorf("tasks: migration failed: %w", err)
	}
	return nil
}

const columns = `id, kind, resource_id, external_task_id, label, status, step, progress,
	size_bytes, error, lock_token, version, started_at, completed_at, created_at, updated_at, attempt`

// Create inserts a new record. Status defaults to pending.
func (r *SQLiteRepository) Create(ctx context.Context, record *Record) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = StatusPending
	}
	record.Version = 1

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (kind, resource_id, external_task_id, label, status, step, progress,
		                   size_bytes, error, lock_token, version, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(record.Kind), record.ResourceID, record.ExternalTaskID, record.Label, record.Status,
		record.Step, record.Progress, nullInt(record.SizeBytes), record.Error, record.LockToken,
		record.Version, nullTime(record.StartedAt), nullTime(record.CompletedAt),
		formatTime(record.CreatedAt), formatTime(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("tasks: insert failed: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("tasks: failed to get last insert ID: %w", err)
	}
	record.ID = id
	return nil
}

// Get retrieves a single record by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM tasks WHERE id = ?`, id)

	record, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tasks: query failed: %w", err)
	}
	return record, nil
}

// Update performs a compare-and-set on Version. Moving the record to
// another task resets Attempt.
func (r *SQLiteRepository) Update(ctx context.Context, record *Record) error {
	updated := time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET attempt = CASE WHEN external_task_id = ? THEN attempt ELSE 0 END,
		       external_task_id=?, label=?, status=?, step=?, progress=?, size_bytes=?,
		       error=?, lock_token=?, version=version+1, started_at=?, completed_at=?, updated_at=?
		WHERE id=? AND version=?`,
		record.ExternalTaskID,
		record.ExternalTaskID, record.Label, record.Status, record.Step, record.Progress,
		nullInt(record.SizeBytes), record.Error, record.LockToken,
		nullTime(record.StartedAt), nullTime(record.CompletedAt), formatTime(updated),
		record.ID, record.Version,
	)
	if err != nil {
		return fmt.Errorf("tasks: update failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		existing, err := r.Get(ctx, record.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("tasks: record %d: %w", record.ID, ErrNotFound)
		}
		return fmt.Errorf("tasks: record %d at version %d: %w", record.ID, record.Version, ErrVersionConflict)
	}
	record.Version++
	record.UpdatedAt = updated
	return nil
}

// RecordAttempt stores attempt as the last one run against taskID.
func (r *SQLiteRepository) RecordAttempt(ctx context.Context, id int64, taskID string, attempt int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET attempt = ? WHERE id = ? AND external_task_id = ? AND attempt < ?`,
		attempt, id, taskID, attempt,
	)
	if err != nil {
		return fmt.Errorf("tasks: record attempt failed: %w", err)
	}
	return nil
}

// Delete removes a record by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("tasks: delete failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("tasks: record %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListActive returns records that are not yet terminal.
func (r *SQLiteRepository) ListActive(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+columns+` FROM tasks
		WHERE status NOT IN ('completed', 'failed') ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("tasks: query failed: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// ListRecent returns the most recent n records regardless of status.
func (r *SQLiteRepository) ListRecent(ctx context.Context, n int) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+columns+` FROM tasks ORDER BY created_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("tasks: query failed: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// ListByResource returns every record for resourceID.
func (r *SQLiteRepository) ListByResource(ctx context.Context, resourceID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+columns+` FROM tasks WHERE resource_id = ? ORDER BY created_at DESC, id DESC`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("tasks: query failed: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// ListOlderThan returns the records DeleteOlderThan(d) would remove.
func (r *SQLiteRepository) ListOlderThan(ctx context.Context, d time.Duration) ([]Record, error) {
	cutoff := formatTime(time.Now().UTC().Add(-d))
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+columns+` FROM tasks
		WHERE status IN ('completed', 'failed') AND updated_at < ? ORDER BY id ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("tasks: query failed: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// DeleteOlderThan removes terminal records older than d.
func (r *SQLiteRepository) DeleteOlderThan(ctx context.Context, d time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().UTC().Add(-d))
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE status IN ('completed', 'failed') AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("tasks: delete failed: %w", err)
	}
	return result.RowsAffected()
}

// Close releases database resources.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*Record, error) {
	var (
		record                 Record
		kind                   string
		size                   sql.NullInt64
		started, completed     sql.NullString
		createdStr, updatedStr string
	)
	err := s.Scan(
		&record.ID, &kind, &record.ResourceID, &record.ExternalTaskID, &record.Label,
		&record.Status, &record.Step, &record.Progress, &size, &record.Error,
		&record.LockToken, &record.Version, &started, &completed, &createdStr, &updatedStr,
		&record.Attempt,
	)
	if err != nil {
		return nil, err
	}
	record.Kind = Kind(kind)
	if size.Valid {
		v := size.Int64
		record.SizeBytes = &v
	}
	record.StartedAt = parseNullTime(started)
	record.CompletedAt = parseNullTime(completed)
	record.CreatedAt = parseTime(createdStr)
	record.UpdatedAt = parseTime(updatedStr)
	return &record, nil
}

func scanRows(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		record, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("tasks: scan failed: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// timeLayout is fixed-width so stored timestamps sort correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
