package database

import (
	"context"
	"path/filepath"
	"testing"
)

func TestDefaultPathOverride(t *testing.T) {
	t.Cleanup(ResetPath)

	path := filepath.Join(t.TempDir(), "vpsd.db")
	SetPath(path)

	got, err := DefaultPath()
	if err != nil {
		t.Fatalf("DefaultPath error: %v", err)
	}
	if got != path {
		t.Fatalf("DefaultPath = %q, want %q", got, path)
	}
}

func TestOpenCreatesNestedDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "vpsd.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if err := db.PingContext(context.Background()); err != nil {
		t.Fatalf("Ping error: %v", err)
	}
}

func TestOpenPostgres_InvalidDSN(t *testing.T) {
	if _, err := OpenPostgres(context.Background(), "::not a dsn::"); err == nil {
		t.Fatal("expected error for invalid dsn")
	}
}

func TestPostgresMigrationsEmbedded(t *testing.T) {
	entries, err := postgresMigrations.ReadDir("migrations/postgres")
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one embedded migration")
	}
}
