package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"nathanbeddoewebdev/vpsd/internal/config"
	"nathanbeddoewebdev/vpsd/internal/queue"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "vpsd.db")
	return cfg
}

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, testConfig(t), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := a.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
	if a.Locks.TTL().String() != "2h0m0s" {
		t.Errorf("lock TTL = %v, want 2h", a.Locks.TTL())
	}
	ok, err := a.Locks.Acquire(ctx, "vm-1")
	if err != nil || !ok {
		t.Errorf("Acquire = %v, %v", ok, err)
	}

	if err := a.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestOpen_RedisLocks(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Locks.Backend = "redis"
	cfg.Locks.RedisAddr = mr.Addr()

	ctx := context.Background()
	a, err := Open(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer a.Close()

	if ok, err := a.Locks.Acquire(ctx, "vm-2"); err != nil || !ok {
		t.Fatalf("Acquire = %v, %v", ok, err)
	}
	if !mr.Exists("vpsd:lock:vm-2") {
		t.Error("expected the lock key in redis")
	}
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "unknown lock backend", mutate: func(c *config.Config) { c.Locks.Backend = "etcd" }},
		{name: "unreachable redis", mutate: func(c *config.Config) {
			c.Locks.Backend = "redis"
			c.Locks.RedisAddr = "127.0.0.1:1"
		}},
		{name: "bad ttl", mutate: func(c *config.Config) { c.Locks.TTL = "forever" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			if a, err := Open(context.Background(), cfg, nil); err == nil {
				a.Close()
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoad_UsesResolvedConfig(t *testing.T) {
	config.SetPath(filepath.Join(t.TempDir(), "config.json"))
	t.Cleanup(config.ResetPath)
	dbFile := filepath.Join(t.TempDir(), "env.db")
	t.Setenv("VPSD_DATABASE_PATH", dbFile)
	t.Setenv("VPSD_LOG_LEVEL", "error")

	a, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer a.Close()

	if a.Config.Database.Path != dbFile {
		t.Errorf("Database.Path = %q, want %q", a.Config.Database.Path, dbFile)
	}
	if a.Log.Core().Enabled(zap.WarnLevel) {
		t.Error("expected the logger to honour log.level=error")
	}

	q, err := a.Queue()
	if err != nil {
		t.Fatalf("Queue failed: %v", err)
	}
	defer q.Close()
	if _, ok := q.(*queue.Memory); !ok {
		t.Errorf("queue = %T, want *queue.Memory", q)
	}
}
