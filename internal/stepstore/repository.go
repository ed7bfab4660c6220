// Package stepstore persists the per-step history of multi-step
// operations such as rebuilds.
package stepstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nathanbeddoewebdev/vpsd/internal/database"
	"nathanbeddoewebdev/vpsd/internal/steps"
)

// Repository defines the persistence interface for step records.
type Repository interface {
	Create(ctx context.Context, step *Step) error
	Get(ctx context.Context, id int64) (*Step, error)
	Update(ctx context.Context, step *Step) error
	ListByParent(ctx context.Context, parentID int64) ([]Step, error)
	DeleteByParent(ctx context.Context, parentID int64) (int64, error)
	Close() error
}

// SQLiteRepository implements Repository backed by a local SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

// Open creates or opens the step repository at the default path.
func Open() (*SQLiteRepository, error) {
	path, err := database.DefaultPath()
	if err != nil {
		return nil, fmt.Errorf("steps: %w", err)
	}
	return OpenAt(path)
}

// OpenAt creates or opens a SQLite database at the given path.
func OpenAt(path string) (*SQLiteRepository, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, fmt.Errorf("steps: %w", err)
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
		CREATE TABLE IF NOT EXISTS task_steps (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			parent_id        INTEGER NOT NULL,
			name             TEXT    NOT NULL,
			status           TEXT    NOT NULL DEFAULT 'pending',
			seq              INTEGER NOT NULL,
			external_task_id TEXT    NOT NULL DEFAULT '',
			output           TEXT    NOT NULL DEFAULT '',
			error            TEXT    NOT NULL DEFAULT '',
			percent          REAL    NOT NULL DEFAULT 0,
			started_at       TEXT,
			completed_at     TEXT,
			UNIQUE(parent_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_task_steps_parent ON task_steps(parent_id);
	`
	if _, err := r.db.Exec(ddl); err != nil {
		return fmt.Errorf("steps: migration failed: %w", err)
	}
	return nil
}

const columns = `id, parent_id, name, status, seq, external_task_id, output, error, percent, started_at, completed_at`

// Create inserts step and assigns its ID. Status defaults to pending.
func (r *SQLiteRepository) Create(ctx context.Context, step *Step) error {
	if step.Status == "" {
		step.Status = steps.StatusPending
	}
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO task_steps (parent_id, name, status, seq, external_task_id, output, error, percent, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ParentID, step.Name, string(step.Status), step.Order, step.ExternalTaskID,
		step.Output, step.Error, step.Percent, nullTime(step.StartedAt), nullTime(step.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("steps: insert failed: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("steps: failed to get last insert ID: %w", err)
	}
	step.ID = id
	return nil
}

// Get returns a step by ID, or nil if absent.
func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*Step, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM task_steps WHERE id = ?`, id)
	step, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("steps: query failed: %w", err)
	}
	return step, nil
}

// Update writes the mutable fields of step.
func (r *SQLiteRepository) Update(ctx context.Context, step *Step) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE task_steps SET status=?, external_task_id=?, output=?, error=?, percent=?, started_at=?, completed_at=?
		WHERE id=?`,
		string(step.Status), step.ExternalTaskID, step.Output, step.Error, step.Percent,
		nullTime(step.StartedAt), nullTime(step.CompletedAt), step.ID,
	)
	if err != nil {
		return fmt.Errorf("steps: update failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("steps: step with ID %d not found", step.ID)
	}
	return nil
}

// ListByParent returns the steps of parentID ordered by sequence number.
func (r *SQLiteRepository) ListByParent(ctx context.Context, parentID int64) ([]Step, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+columns+` FROM task_steps WHERE parent_id = ? ORDER BY seq ASC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("steps: query failed: %w", err)
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		step, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("steps: scan failed: %w", err)
		}
		out = append(out, *step)
	}
	return out, rows.Err()
}

// DeleteByParent removes all steps of parentID.
func (r *SQLiteRepository) DeleteByParent(ctx context.Context, parentID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM task_steps WHERE parent_id = ?`, parentID)
	if err != nil {
		return 0, fmt.Errorf("steps: delete failed: %w", err)
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

func scan(s scanner) (*Step, error) {
	var (
		step               Step
		status             string
		started, completed sql.NullString
	)
	err := s.Scan(&step.ID, &step.ParentID, &step.Name, &status, &step.Order,
		&step.ExternalTaskID, &step.Output, &step.Error, &step.Percent, &started, &completed)
	if err != nil {
		return nil, err
	}
	step.Status = steps.Status(status)
	step.StartedAt = parseNullTime(started)
	step.CompletedAt = parseNullTime(completed)
	return &step, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
