package config

import (
	"strings"
	"testing"
)

func TestLookup_Exists(t *testing.T) {
	spec := Lookup("queue-backend")
	if spec == nil {
		t.Fatal("expected to find key 'queue-backend', got nil")
	}
	if spec.Name != "queue-backend" {
		t.Errorf("expected Name %q, got %q", "queue-backend", spec.Name)
	}
}

func TestLookup_CaseInsensitive(t *testing.T) {
	spec := Lookup("  LOCK-TTL ")
	if spec == nil {
		t.Fatal("expected case-insensitive lookup to succeed")
	}
	if spec.Name != "lock-ttl" {
		t.Errorf("expected Name %q, got %q", "lock-ttl", spec.Name)
	}
}

func TestLookup_NotFound(t *testing.T) {
	spec := Lookup("default-provider")
	if spec != nil {
		t.Errorf("expected nil for unknown key, got %+v", spec)
	}
}

func TestKeys_AllHaveGetAndSet(t *testing.T) {
	for _, k := range Keys {
		if k.Get == nil {
			t.Errorf("key %q has nil Get function", k.Name)
		}
		if k.Set == nil {
			t.Errorf("key %q has nil Set function", k.Name)
		}
		if k.Description == "" {
			t.Errorf("key %q has empty Description", k.Name)
		}
	}
}

func TestKeys_GetSetRoundtrip(t *testing.T) {
	for _, k := range Keys {
		cfg := &Config{}
		if err := k.Set(cfg, k.Example); err != nil {
			t.Errorf("key %q: Set(%q) failed: %v", k.Name, k.Example, err)
			continue
		}
		if got := k.Get(cfg); got != k.Example {
			t.Errorf("key %q: Set then Get = %q, want %q", k.Name, got, k.Example)
		}
	}
}

func TestKeys_SetRejectsInvalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{key: "lock-backend", value: "etcd"},
		{key: "queue-backend", value: "kafka"},
		{key: "log-encoding", value: "xml"},
		{key: "lock-ttl", value: "soon"},
		{key: "lock-ttl", value: "-1h"},
		{key: "usage-interval", value: "0s"},
		{key: "workers", value: "0"},
		{key: "workers", value: "many"},
	}
	for _, tt := range tests {
		cfg := &Config{}
		if err := Lookup(tt.key).Set(cfg, tt.value); err == nil {
			t.Errorf("Set(%s, %q) succeeded, want error", tt.key, tt.value)
		}
	}
}

func TestKeys_EnumIsCaseInsensitive(t *testing.T) {
	cfg := &Config{}
	if err := Lookup("lock-backend").Set(cfg, "Postgres"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if cfg.Locks.Backend != "postgres" {
		t.Errorf("Backend = %q, want postgres", cfg.Locks.Backend)
	}
}

func TestKeyNames(t *testing.T) {
	names := KeyNames()
	if len(names) != len(Keys) {
		t.Fatalf("expected %d names, got %d", len(Keys), len(names))
	}
	for i, name := range names {
		if name != Keys[i].Name {
			t.Errorf("index %d: expected %q, got %q", i, Keys[i].Name, name)
		}
	}
}

func TestKeysHelp_ContainsAllKeys(t *testing.T) {
	help := KeysHelp()
	if !strings.Contains(help, "Available keys:") {
		t.Error("expected 'Available keys:' header in help output")
	}
	for _, k := range Keys {
		if !strings.Contains(help, k.Name) {
			t.Errorf("expected key %q in help output", k.Name)
		}
		if !strings.Contains(help, k.Description) {
			t.Errorf("expected description %q in help output", k.Description)
		}
	}
}
