// Package usagestore keeps usage samples collected by the periodic usage
// sync job.
package usagestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"nathanbeddoewebdev/vpsd/internal/database"
	"nathanbeddoewebdev/vpsd/internal/hypervisor"
)

// Repository defines the persistence interface for usage samples.
type Repository interface {
	Save(ctx context.Context, usage *hypervisor.Usage) error
	ListByResource(ctx context.Context, resourceID string, since time.Time) ([]hypervisor.Usage, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
	Close() error
}

// SQLiteRepository implements Repository backed by a local SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

// Open creates or opens the usage repository at the default path.
func Open() (*SQLiteRepository, error) {
	path, err := database.DefaultPath()
	if err != nil {
		return nil, fmt.Errorf("usage: %w", err)
	}
	return OpenAt(path)
}

// OpenAt creates or opens a SQLite database at the given path.
func OpenAt(path string) (*SQLiteRepository, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, fmt.Errorf("usage: %w", err)
	}

	const ddl = `
		CREATE TABLE IF NOT EXISTS usage_samples (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			resource_id TEXT    NOT NULL,
			sampled_at  TEXT    NOT NULL,
			cpu_percent REAL    NOT NULL DEFAULT 0,
			disk_read   REAL    NOT NULL DEFAULT 0,
			disk_write  REAL    NOT NULL DEFAULT 0,
			net_in      REAL    NOT NULL DEFAULT 0,
			net_out     REAL    NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_usage_samples_resource ON usage_samples(resource_id, sampled_at);
	`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("usage: migration failed: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Save stores a sample. A zero SampledAt is set to now.
func (r *SQLiteRepository) Save(ctx context.Context, u *hypervisor.Usage) error {
	if u.SampledAt.IsZero() {
		u.SampledAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_samples (resource_id, sampled_at, cpu_percent, disk_read, disk_write, net_in, net_out)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ResourceID, u.SampledAt.UTC().Format(timeLayout),
		u.CPUPercent, u.DiskRead, u.DiskWrite, u.NetworkIn, u.NetworkOut,
	)
	if err != nil {
		return fmt.Errorf("usage: insert failed: %w", err)
	}
	return nil
}

// ListByResource returns samples for resourceID taken at or after since,
// oldest first.
func (r *SQLiteRepository) ListByResource(ctx context.Context, resourceID string, since time.Time) ([]hypervisor.Usage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT resource_id, sampled_at, cpu_percent, disk_read, disk_write, net_in, net_out
		FROM usage_samples WHERE resource_id = ? AND sampled_at >= ? ORDER BY sampled_at ASC`,
		resourceID, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("usage: query failed: %w", err)
	}
	defer rows.Close()

	var out []hypervisor.Usage
	for rows.Next() {
		var (
			u       hypervisor.Usage
			sampled string
		)
		if err := rows.Scan(&u.ResourceID, &sampled, &u.CPUPercent, &u.DiskRead, &u.DiskWrite, &u.NetworkIn, &u.NetworkOut); err != nil {
			return nil, fmt.Errorf("usage: scan failed: %w", err)
		}
		u.SampledAt, _ = time.Parse(timeLayout, sampled)
		out = append(out, u)
	}
	return out, rows.Err()
}

// Prune deletes samples older than the given duration.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := r.db.ExecContext(ctx, `DELETE FROM usage_samples WHERE sampled_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("usage: delete failed: %w", err)
	}
	return result.RowsAffected()
}

// Close releases database resources.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
