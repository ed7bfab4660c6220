package lockstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"nathanbeddoewebdev/vpsd/internal/database"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sqliteRepo(t *testing.T) Repository {
	t.Helper()
	r, err := OpenSQLiteAt(filepath.Join(t.TempDir(), "vpsd.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteAt failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func redisRepo(t *testing.T) Repository {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedis(client, "")
	t.Cleanup(func() { r.Close() })
	return r
}

func postgresRepo(t *testing.T) Repository {
	t.Helper()
	dsn := os.Getenv("VPSD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VPSD_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := database.OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres failed: %v", err)
	}
	if err := database.MigratePostgres(ctx, pool); err != nil {
		t.Fatalf("MigratePostgres failed: %v", err)
	}
	if _, err := pool.Exec(ctx, `DELETE FROM resource_locks`); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	r := NewPostgres(pool)
	t.Cleanup(func() { r.Close() })
	return r
}

var backends = map[string]func(t *testing.T) Repository{
	"sqlite":   sqliteRepo,
	"redis":    redisRepo,
	"postgres": postgresRepo,
}

func newLock(resourceID, token string, ttl time.Duration) *Lock {
	return &Lock{
		ResourceID: resourceID,
		Token:      token,
		Owner:      "worker-1:42",
		AcquiredAt: base,
		ExpiresAt:  base.Add(ttl),
	}
}

func TestInsert_DuplicateFails(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			r := open(t)
			ctx := context.Background()

			if err := r.Insert(ctx, newLock("vm-100", "a", 2*time.Hour)); err != nil {
				t.Fatalf("first Insert failed: %v", err)
			}
			err := r.Insert(ctx, newLock("vm-100", "b", 2*time.Hour))
			if !errors.Is(err, ErrDuplicate) {
				t.Fatalf("second Insert error = %v, want ErrDuplicate", err)
			}

			if err := r.Insert(ctx, newLock("vm-101", "c", 2*time.Hour)); err != nil {
				t.Fatalf("Insert for other resource failed: %v", err)
			}
		})
	}
}

func TestGet(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			r := open(t)
			ctx := context.Background()

			got, err := r.Get(ctx, "vm-100")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got != nil {
				t.Fatalf("expected nil for missing lock, got %+v", got)
			}

			want := newLock("vm-100", "tok", 2*time.Hour)
			if err := r.Insert(ctx, want); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}

			got, err = r.Get(ctx, "vm-100")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if diff := cmp.Diff(want, got, timeEqual); diff != "" {
				t.Errorf("Get mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			r := open(t)
			ctx := context.Background()

			deleted, err := r.Delete(ctx, "vm-100", "")
			if err != nil {
				t.Fatalf("Delete on missing row failed: %v", err)
			}
			if deleted {
				t.Error("expected no-op delete for missing row")
			}

			if err := r.Insert(ctx, newLock("vm-100", "tok", 2*time.Hour)); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}

			deleted, err = r.Delete(ctx, "vm-100", "other")
			if err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if deleted {
				t.Error("delete with foreign token should not remove the row")
			}

			deleted, err = r.Delete(ctx, "vm-100", "tok")
			if err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if !deleted {
				t.Error("delete with own token should remove the row")
			}

			if err := r.Insert(ctx, newLock("vm-100", "tok2", 2*time.Hour)); err != nil {
				t.Fatalf("re-Insert after delete failed: %v", err)
			}
			deleted, err = r.Delete(ctx, "vm-100", "")
			if err != nil || !deleted {
				t.Errorf("unconditional Delete = %v, %v; want true, nil", deleted, err)
			}
		})
	}
}

func TestDeleteExpired(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			r := open(t)
			ctx := context.Background()

			if err := r.Insert(ctx, newLock("vm-100", "tok", time.Hour)); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}

			deleted, err := r.DeleteExpired(ctx, "vm-100", base.Add(30*time.Minute))
			if err != nil {
				t.Fatalf("DeleteExpired failed: %v", err)
			}
			if deleted {
				t.Error("live lock must not be deleted")
			}

			deleted, err = r.DeleteExpired(ctx, "vm-100", base.Add(time.Hour+time.Second))
			if err != nil {
				t.Fatalf("DeleteExpired failed: %v", err)
			}
			if !deleted {
				t.Error("expired lock should be deleted")
			}
		})
	}
}

func TestList(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			r := open(t)
			ctx := context.Background()

			for _, id := range []string{"vm-3", "vm-1", "vm-2"} {
				if err := r.Insert(ctx, newLock(id, "tok-"+id, time.Hour)); err != nil {
					t.Fatalf("Insert failed: %v", err)
				}
			}

			locks, err := r.List(ctx)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			var ids []string
			for _, l := range locks {
				ids = append(ids, l.ResourceID)
			}
			if diff := cmp.Diff([]string{"vm-1", "vm-2", "vm-3"}, ids); diff != "" {
				t.Errorf("List ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLockExpired(t *testing.T) {
	l := newLock("vm-1", "tok", time.Hour)
	if l.Expired(base) {
		t.Error("lock should be live at acquisition time")
	}
	if !l.Expired(base.Add(time.Hour)) {
		t.Error("lock should be expired at ExpiresAt")
	}
}

var timeEqual = cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })
