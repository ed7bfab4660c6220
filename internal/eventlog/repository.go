// Package eventlog keeps a local history of what monitoring jobs observed
// and decided, so operators can reconstruct an operation after the fact.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"nathanbeddoewebdev/vpsd/internal/database"
)

// Repository defines the persistence interface for event entries.
type Repository interface {
	Save(ctx context.Context, entry *Entry) error
	List(ctx context.Context, limit int) ([]Entry, error)
	ListByRecord(ctx context.Context, recordID int64, limit int) ([]Entry, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
	Close() error
}

// SQLiteRepository implements Repository backed by a local SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

// Open creates or opens the event repository at the default path.
func Open() (*SQLiteRepository, error) {
	path, err := database.DefaultPath()
	if err != nil {
		return nil, fmt.Errorf("eventlog: %w", err)
	}
	return OpenAt(path)
}

// OpenAt creates or opens a SQLite database at the given path.
func OpenAt(path string) (*SQLiteRepository, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: %w", err)
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
        CREATE TABLE IF NOT EXISTS task_events (
            id          INTEGER PRIMARY KEY AUTOINCREMENT,
            timestamp   TEXT    NOT NULL,
            job_id      TEXT    NOT NULL DEFAULT '',
            kind        TEXT    NOT NULL DEFAULT '',
            record_id   INTEGER NOT NULL DEFAULT 0,
            resource_id TEXT    NOT NULL DEFAULT '',
            task_id     TEXT    NOT NULL DEFAULT '',
            attempt     INTEGER NOT NULL DEFAULT 0,
            type        TEXT    NOT NULL,
            message     TEXT    NOT NULL DEFAULT '',
            percent     REAL
        );
        CREATE INDEX IF NOT EXISTS idx_task_events_timestamp ON task_events(timestamp);
        CREATE INDEX IF NOT EXISTS idx_task_events_record ON task_events(record_id);
    `
	if _, err := r.db.Exec(ddl); err != nil {
		return fmt.Errorf("eventlog: migration failed: %w", err)
	}
	return nil
}

// Save inserts a new entry. The message is passed through Sanitize.
func (r *SQLiteRepository) Save(ctx context.Context, entry *Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.Message = Sanitize(entry.Message)

	var percent any
	if entry.Percent != nil {
		percent = *entry.Percent
	}

	result, err := r.db.ExecContext(ctx, `
        INSERT INTO task_events (timestamp, job_id, kind, record_id, resource_id, task_id, attempt, type, message, percent)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(timeLayout), entry.JobID, entry.Kind, entry.RecordID,
		entry.ResourceID, entry.TaskID, entry.Attempt, entry.Type, entry.Message, percent,
	)
	if err != nil {
		return fmt.Errorf("eventlog: insert failed: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("eventlog: failed to get last insert ID: %w", err)
	}
	entry.ID = id
	return nil
}

// List returns the most recent n entries.
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, timestamp, job_id, kind, record_id, resource_id, task_id, attempt, type, message, percent
        FROM task_events ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query failed: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// ListByRecord returns the most recent n entries for a task record.
func (r *SQLiteRepository) ListByRecord(ctx context.Context, recordID int64, limit int) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, timestamp, job_id, kind, record_id, resource_id, task_id, attempt, type, message, percent
        FROM task_events WHERE record_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, recordID, limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query failed: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// Prune deletes entries older than the given duration.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := r.db.ExecContext(ctx, `DELETE FROM task_events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("eventlog: delete failed: %w", err)
	}
	return result.RowsAffected()
}

// Close releases database resources.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func scanRows(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			entry        Entry
			timestampStr string
			percent      sql.NullFloat64
		)
		err := rows.Scan(
			&entry.ID, &timestampStr, &entry.JobID, &entry.Kind, &entry.RecordID,
			&entry.ResourceID, &entry.TaskID, &entry.Attempt, &entry.Type, &entry.Message, &percent,
		)
		if err != nil {
			return nil, fmt.Errorf("eventlog: scan failed: %w", err)
		}
		entry.Timestamp, _ = time.Parse(timeLayout, timestampStr)
		if percent.Valid {
			v := percent.Float64
			entry.Percent = &v
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
