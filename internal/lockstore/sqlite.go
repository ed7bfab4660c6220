package lockstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nathanbeddoewebdev/vpsd/internal/database"
)

// SQLiteRepository stores locks in the local vpsd database. It only
// excludes workers sharing the same file.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens the lock table in the default database.
func OpenSQLite() (*SQLiteRepository, error) {
	path, err := database.DefaultPath()
	if err != nil {
		return nil, fmt.Errorf("lockstore: %w", err)
	}
	return OpenSQLiteAt(path)
}

// OpenSQLiteAt opens the lock table in the database at path.
func OpenSQLiteAt(path string) (*SQLiteRepository, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lockstore: %w", err)
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
		CREATE TABLE IF NOT EXISTS resource_locks (
			resource_id TEXT PRIMARY KEY,
			token       TEXT NOT NULL,
			owner       TEXT NOT NULL DEFAULT '',
			acquired_at TEXT NOT NULL,
			expires_at  TEXT NOT NULL
		);
	`
	if _, err := r.db.Exec(ddl); err != nil {
		return fmt.Errorf("lockstore: migration failed: %w", err)
	}
	return nil
}

// Insert adds the lock row. The primary key makes the insert the arbiter
// between concurrent acquirers.
func (r *SQLiteRepository) Insert(ctx context.Context, lock *Lock) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO resource_locks (resource_id, token, owner, acquired_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(resource_id) DO NOTHING`,
		lock.ResourceID, lock.Token, lock.Owner,
		formatTime(lock.AcquiredAt), formatTime(lock.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("lockstore: insert failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("lockstore: insert failed: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, resourceID string) (*Lock, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT resource_id, token, owner, acquired_at, expires_at
		FROM resource_locks WHERE resource_id = ?`, resourceID)

	var l Lock
	var acquired, expires string
	err := row.Scan(&l.ResourceID, &l.Token, &l.Owner, &acquired, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lockstore: query failed: %w", err)
	}
	l.AcquiredAt = parseTime(acquired)
	l.ExpiresAt = parseTime(expires)
	return &l, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, resourceID, token string) (bool, error) {
	var (
		result sql.Result
		err    error
	)
	if token == "" {
		result, err = r.db.ExecContext(ctx, `DELETE FROM resource_locks WHERE resource_id = ?`, resourceID)
	} else {
		result, err = r.db.ExecContext(ctx, `DELETE FROM resource_locks WHERE resource_id = ? AND token = ?`, resourceID, token)
	}
	if err != nil {
		return false, fmt.Errorf("lockstore: delete failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (r *SQLiteRepository) DeleteExpired(ctx context.Context, resourceID string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM resource_locks WHERE resource_id = ? AND expires_at <= ?`,
		resourceID, formatTime(now))
	if err != nil {
		return false, fmt.Errorf("lockstore: delete failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]Lock, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT resource_id, token, owner, acquired_at, expires_at
		FROM resource_locks ORDER BY resource_id`)
	if err != nil {
		return nil, fmt.Errorf("lockstore: query failed: %w", err)
	}
	defer rows.Close()

	var locks []Lock
	for rows.Next() {
		var l Lock
		var acquired, expires string
		if err := rows.Scan(&l.ResourceID, &l.Token, &l.Owner, &acquired, &expires); err != nil {
			return nil, fmt.Errorf("lockstore: scan failed: %w", err)
		}
		l.AcquiredAt = parseTime(acquired)
		l.ExpiresAt = parseTime(expires)
		locks = append(locks, l)
	}
	return locks, rows.Err()
}

// Close releases database resources.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
