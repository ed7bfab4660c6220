package lock

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"nathanbeddoewebdev/vpsd/internal/lockstore"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestService(t *testing.T) (*Service, *clock) {
	t.Helper()
	repo, err := lockstore.OpenSQLiteAt(filepath.Join(t.TempDir(), "vpsd.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteAt failed: %v", err)
	}
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewService(repo, WithClock(c.Now), WithOwner("test"))
	t.Cleanup(func() { s.Close() })
	return s, c
}

func TestAcquire_SecondCallIsBusy(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	ok, err := s.Acquire(ctx, "vm-100")
	if err != nil || !ok {
		t.Fatalf("first Acquire = %v, %v; want true, nil", ok, err)
	}

	ok, err = s.Acquire(ctx, "vm-100")
	if err != nil {
		t.Fatalf("second Acquire returned error: %v", err)
	}
	if ok {
		t.Fatal("second Acquire should report the resource as busy")
	}
}

func TestRelease_ThenAcquire(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	if ok, _ := s.Acquire(ctx, "vm-100"); !ok {
		t.Fatal("Acquire failed")
	}
	if err := s.Release(ctx, "vm-100"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	ok, err := s.Acquire(ctx, "vm-100")
	if err != nil || !ok {
		t.Fatalf("Acquire after Release = %v, %v; want true, nil", ok, err)
	}
}

func TestRelease_NotLockedIsNoop(t *testing.T) {
	s, _ := newTestService(t)
	if err := s.Release(context.Background(), "vm-404"); err != nil {
		t.Fatalf("Release on unlocked resource returned error: %v", err)
	}
}

func TestIsLocked_LazyExpiry(t *testing.T) {
	s, c := newTestService(t)
	ctx := context.Background()

	if ok, _ := s.Acquire(ctx, "vm-100"); !ok {
		t.Fatal("Acquire failed")
	}

	locked, err := s.IsLocked(ctx, "vm-100")
	if err != nil || !locked {
		t.Fatalf("IsLocked = %v, %v; want true, nil", locked, err)
	}

	c.Advance(DefaultTTL + time.Second)

	locked, err = s.IsLocked(ctx, "vm-100")
	if err != nil {
		t.Fatalf("IsLocked failed: %v", err)
	}
	if locked {
		t.Error("IsLocked should be false once the lock has expired")
	}
}

func TestAcquire_ReclaimsExpiredLock(t *testing.T) {
	s, c := newTestService(t)
	ctx := context.Background()

	oldToken, ok, err := s.AcquireToken(ctx, "vm-100")
	if err != nil || !ok {
		t.Fatalf("AcquireToken = %v, %v", ok, err)
	}

	c.Advance(DefaultTTL)

	newToken, ok, err := s.AcquireToken(ctx, "vm-100")
	if err != nil || !ok {
		t.Fatalf("AcquireToken over expired lock = %v, %v; want true, nil", ok, err)
	}
	if newToken == oldToken {
		t.Error("expected a fresh token for the new acquisition")
	}

	// The previous holder must not be able to release the new acquisition.
	released, err := s.ReleaseToken(ctx, "vm-100", oldToken)
	if err != nil {
		t.Fatalf("ReleaseToken failed: %v", err)
	}
	if released {
		t.Error("stale token released a lock it no longer holds")
	}
	if locked, _ := s.IsLocked(ctx, "vm-100"); !locked {
		t.Error("lock should still be held by the new acquisition")
	}
}

func TestAcquire_ConcurrentSingleWinner(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Acquire(ctx, "vm-100")
			if err != nil {
				t.Errorf("Acquire error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
}

func TestReleaseToken_EmptyTokenIsNoop(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	s.Acquire(ctx, "vm-100")

	released, err := s.ReleaseToken(ctx, "vm-100", "")
	if err != nil || released {
		t.Fatalf("ReleaseToken(\"\") = %v, %v; want false, nil", released, err)
	}
}

func TestGuard(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	token, err := s.Guard(ctx, "vm-100", func(ctx context.Context, token string) error {
		if token == "" {
			t.Error("start called without a token")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Guard failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected token from Guard")
	}

	called := false
	_, err = s.Guard(ctx, "vm-100", func(context.Context, string) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrInProgress) {
		t.Fatalf("Guard on busy resource error = %v, want ErrInProgress", err)
	}
	if called {
		t.Error("start must not run when the lock is busy")
	}
}

func TestGuard_ReleasesOnStartFailure(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	boom := errors.New("hypervisor refused task")
	_, err := s.Guard(ctx, "vm-100", func(context.Context, string) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Guard error = %v, want %v", err, boom)
	}
	if locked, _ := s.IsLocked(ctx, "vm-100"); locked {
		t.Error("lock should be released when start fails")
	}
}
