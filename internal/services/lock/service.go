// Package lock implements the resource lock used to keep two destructive
// operations (e.g. two rebuilds) off the same server at once.
//
// A lock is advisory and bounded by a TTL. It is not refreshed while work
// is in progress, so an operation that outlives the TTL can be
// double-acquired. Expired rows are treated as absent (lazy expiry) and are
// reclaimed on the next acquisition attempt.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"nathanbeddoewebdev/vpsd/internal/lockstore"
)

// DefaultTTL bounds how long a crashed worker can keep a resource locked.
var DefaultTTL = 2 * time.Hour

// ErrInProgress is returned to triggering callers when the resource is
// already locked.
var ErrInProgress = errors.New("operation already in progress")

// Service applies the TTL and expiry policy on top of a lock repository.
type Service struct {
	repo  lockstore.Repository
	ttl   time.Duration
	owner string
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithOwner sets the owner recorded on acquired locks.
func WithOwner(owner string) Option {
	return func(s *Service) { s.owner = owner }
}

// WithClock replaces time.Now. Intended for testing.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a lock service backed by repo.
func NewService(repo lockstore.Repository, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		ttl:   DefaultTTL,
		owner: defaultOwner(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// TTL returns the lifetime applied to new locks.
func (s *Service) TTL() time.Duration { return s.ttl }

// Close releases repository resources.
func (s *Service) Close() error {
	return s.repo.Close()
}

// Acquire locks resourceID. It returns false, without error, when the
// resource is held by a live lock.
func (s *Service) Acquire(ctx context.Context, resourceID string) (bool, error) {
	_, ok, err := s.AcquireToken(ctx, resourceID)
	return ok, err
}

// AcquireToken locks resourceID and returns the token identifying this
// acquisition. Pass the token to ReleaseToken so that a lock which expired
// and was taken over by someone else is never released by the old holder.
//
// An expired row is reclaimed by deleting it conditionally and retrying
// the insert once. The store's uniqueness constraint decides between
// concurrent reclaimers, so at most one of them succeeds.
func (s *Service) AcquireToken(ctx context.Context, resourceID string) (string, bool, error) {
	if resourceID == "" {
		return "", false, errors.New("lock: resource id is required")
	}

	now := s.now().UTC()
	l := &lockstore.Lock{
		ResourceID: resourceID,
		Token:      uuid.NewString(),
		Owner:      s.owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(s.ttl),
	}

	err := s.repo.Insert(ctx, l)
	if err == nil {
		return l.Token, true, nil
	}
	if !errors.Is(err, lockstore.ErrDuplicate) {
		return "", false, fmt.Errorf("lock: acquire %s: %w", resourceID, err)
	}

	reclaimed, err := s.repo.DeleteExpired(ctx, resourceID, now)
	if err != nil {
		return "", false, fmt.Errorf("lock: acquire %s: %w", resourceID, err)
	}
	if !reclaimed {
		return "", false, nil
	}

	switch err := s.repo.Insert(ctx, l); {
	case err == nil:
		return l.Token, true, nil
	case errors.Is(err, lockstore.ErrDuplicate):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("lock: acquire %s: %w", resourceID, err)
	}
}

// Release removes the lock on resourceID regardless of who holds it. It is
// a no-op if the resource is not locked.
func (s *Service) Release(ctx context.Context, resourceID string) error {
	if _, err := s.repo.Delete(ctx, resourceID, ""); err != nil {
		return fmt.Errorf("lock: release %s: %w", resourceID, err)
	}
	return nil
}

// ReleaseToken removes the lock only if it is still the acquisition
// identified by token. It reports whether a row was removed. An empty
// token is a no-op.
func (s *Service) ReleaseToken(ctx context.Context, resourceID, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	ok, err := s.repo.Delete(ctx, resourceID, token)
	if err != nil {
		return false, fmt.Errorf("lock: release %s: %w", resourceID, err)
	}
	return ok, nil
}

// IsLocked reports whether resourceID holds a lock that has not expired.
func (s *Service) IsLocked(ctx context.Context, resourceID string) (bool, error) {
	l, err := s.Get(ctx, resourceID)
	if err != nil {
		return false, err
	}
	return l != nil, nil
}

// Get returns the live lock on resourceID, or nil if there is none or it
// has expired.
func (s *Service) Get(ctx context.Context, resourceID string) (*lockstore.Lock, error) {
	l, err := s.repo.Get(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("lock: status %s: %w", resourceID, err)
	}
	if l == nil || l.Expired(s.now()) {
		return nil, nil
	}
	return l, nil
}

// List returns every stored lock, including expired rows not yet
// reclaimed. Use Lock.Expired to tell them apart.
func (s *Service) List(ctx context.Context) ([]lockstore.Lock, error) {
	locks, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock: list: %w", err)
	}
	return locks, nil
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.now() }

// Guard acquires resourceID and calls start while holding it. If the lock
// is busy it returns ErrInProgress without calling start. If start fails,
// the lock is released and start's error returned. On success the lock
// stays held and its token is returned; the monitoring job releases it
// when the operation finishes.
func (s *Service) Guard(ctx context.Context, resourceID string, start func(ctx context.Context, token string) error) (string, error) {
	token, ok, err := s.AcquireToken(ctx, resourceID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%s: %w", resourceID, ErrInProgress)
	}

	if err := start(ctx, token); err != nil {
		if _, relErr := s.ReleaseToken(ctx, resourceID, token); relErr != nil {
			return "", errors.Join(err, relErr)
		}
		return "", err
	}
	return token, nil
}
