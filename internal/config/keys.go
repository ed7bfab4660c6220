package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// KeySpec describes a single configuration key.
type KeySpec struct {
	// Name is the CLI-facing key name (e.g. "queue-backend").
	Name string

	// Description is a short human-readable explanation shown in help text.
	Description string

	// Example is a valid value, used in help text and tests.
	Example string

	// Get returns the current value for this key from a loaded Config.
	Get func(cfg *Config) string

	// Set validates and applies a value for this key to the given Config
	// (in memory only; the caller is responsible for calling Save).
	Set func(cfg *Config, value string) error
}

// Keys is the authoritative list of all supported configuration keys.
// To add a new option: add a field to Config and append a KeySpec here.
var Keys = []KeySpec{
	stringKey("hypervisor-provider", "Hypervisor provider the worker talks to", "hetzner",
		func(c *Config) *string { return &c.Hypervisor.Provider }),
	stringKey("rebuild-image", "Image installed by a rebuild", "ubuntu-24.04",
		func(c *Config) *string { return &c.Hypervisor.RebuildImage }),
	stringKey("database-path", "SQLite database file (defaults to the config directory)", "/var/lib/vpsd/vpsd.db",
		func(c *Config) *string { return &c.Database.Path }),
	stringKey("postgres-dsn", "PostgreSQL connection string for the postgres lock backend", "postgres://vpsd@localhost/vpsd",
		func(c *Config) *string { return &c.Database.PostgresDSN }),
	enumKey("lock-backend", "Where resource locks live", "redis",
		func(c *Config) *string { return &c.Locks.Backend }, "sqlite", "postgres", "redis"),
	durationKey("lock-ttl", "How long a lock is held before it expires", "90m",
		func(c *Config) *string { return &c.Locks.TTL }),
	stringKey("redis-addr", "Redis address for the redis lock backend", "localhost:6379",
		func(c *Config) *string { return &c.Locks.RedisAddr }),
	enumKey("queue-backend", "Job queue used by workers", "nats",
		func(c *Config) *string { return &c.Queue.Backend }, "memory", "nats"),
	stringKey("nats-url", "NATS server for the nats queue backend", "nats://127.0.0.1:4222",
		func(c *Config) *string { return &c.Queue.NATSURL }),
	{
		Name:        "workers",
		Description: "Monitoring jobs a worker handles at once",
		Example:     "8",
		Get: func(cfg *Config) string {
			if cfg.Queue.Workers == 0 {
				return ""
			}
			return strconv.Itoa(cfg.Queue.Workers)
		},
		Set: func(cfg *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("workers must be a positive integer, got %q", v)
			}
			cfg.Queue.Workers = n
			return nil
		},
	},
	stringKey("log-level", "Worker log level (debug, info, warn, error)", "debug",
		func(c *Config) *string { return &c.Log.Level }),
	enumKey("log-encoding", "Worker log format", "json",
		func(c *Config) *string { return &c.Log.Encoding }, "console", "json"),
	stringKey("metrics-listen", "Address serving /metrics and /healthz (empty disables)", "127.0.0.1:9464",
		func(c *Config) *string { return &c.Metrics.Listen }),
	stringKey("otlp-endpoint", "OTLP/HTTP collector for traces (empty disables)", "localhost:4318",
		func(c *Config) *string { return &c.Tracing.Endpoint }),
	durationKey("usage-interval", "How often the worker samples resource usage", "10m",
		func(c *Config) *string { return &c.Usage.Interval }),
	stringKey("usage-resources", "Comma-separated resources to sample", "101,102",
		func(c *Config) *string { return &c.Usage.Resources }),
}

func stringKey(name, desc, example string, field func(*Config) *string) KeySpec {
	return KeySpec{
		Name:        name,
		Description: desc,
		Example:     example,
		Get:         func(cfg *Config) string { return *field(cfg) },
		Set: func(cfg *Config, v string) error {
			*field(cfg) = v
			return nil
		},
	}
}

func enumKey(name, desc, example string, field func(*Config) *string, options ...string) KeySpec {
	k := stringKey(name, desc+" ("+strings.Join(options, ", ")+")", example, field)
	k.Set = func(cfg *Config, v string) error {
		v = strings.ToLower(v)
		if !oneOf(v, options...) {
			return fmt.Errorf("%s must be one of %s, got %q", name, strings.Join(options, ", "), v)
		}
		*field(cfg) = v
		return nil
	}
	return k
}

func durationKey(name, desc, example string, field func(*Config) *string) KeySpec {
	k := stringKey(name, desc, example, field)
	k.Set = func(cfg *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("%s must be a positive duration like %s, got %q", name, example, v)
		}
		*field(cfg) = v
		return nil
	}
	return k
}

// Lookup returns the KeySpec for the given name, or nil if not found.
// The name is matched case-insensitively after trimming whitespace.
func Lookup(name string) *KeySpec {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for i := range Keys {
		if Keys[i].Name == normalized {
			return &Keys[i]
		}
	}
	return nil
}

// KeyNames returns the names of all registered keys.
func KeyNames() []string {
	names := make([]string, len(Keys))
	for i, k := range Keys {
		names[i] = k.Name
	}
	return names
}

// KeysHelp builds a formatted block listing all available keys and their
// descriptions, suitable for inclusion in Cobra Long help text.
func KeysHelp() string {
	if len(Keys) == 0 {
		return ""
	}

	// Find the longest key name for alignment.
	maxLen := 0
	for _, k := range Keys {
		if len(k.Name) > maxLen {
			maxLen = len(k.Name)
		}
	}

	var b strings.Builder
	b.WriteString("Available keys:\n")
	for _, k := range Keys {
		fmt.Fprintf(&b, "  %-*s   %s\n", maxLen, k.Name, k.Description)
	}
	b.WriteString("\nEvery key can also be set with a VPSD_ environment variable,\ne.g. VPSD_QUEUE_BACKEND=nats.\n")
	return b.String()
}
