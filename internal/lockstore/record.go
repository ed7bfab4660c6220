// Package lockstore persists resource locks. Every backend offers the same
// atomic "insert or fail on duplicate key" primitive; expiry policy lives in
// the lock service, not here.
package lockstore

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned by Insert when a lock row already exists for the
// resource.
var ErrDuplicate = errors.New("lockstore: resource already locked")

// Lock is a single acquisition of a resource.
type Lock struct {
	ResourceID string    `json:"resource_id" db:"resource_id"`
	Token      string    `json:"token" db:"token"`
	Owner      string    `json:"owner,omitempty" db:"owner"`
	AcquiredAt time.Time `json:"acquired_at" db:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the lock is no longer valid at now.
func (l *Lock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Repository is the persistence contract shared by all lock backends.
type Repository interface {
	// Insert stores lock. It returns ErrDuplicate if the resource already
	// has a row, expired or not.
	Insert(ctx context.Context, lock *Lock) error

	// Get returns the lock row for a resource, or nil if none exists.
	Get(ctx context.Context, resourceID string) (*Lock, error)

	// Delete removes the lock row. An empty token deletes unconditionally;
	// otherwise only the acquisition holding token is removed. It reports
	// whether a row was deleted.
	Delete(ctx context.Context, resourceID, token string) (bool, error)

	// DeleteExpired removes the row only if it expired at or before now.
	DeleteExpired(ctx context.Context, resourceID string, now time.Time) (bool, error)

	// List returns all lock rows ordered by resource id.
	List(ctx context.Context) ([]Lock, error)

	// Close releases backend resources.
	Close() error
}

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
