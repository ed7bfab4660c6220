// Package config handles persistent configuration for vpsd.
//
// Configuration is stored as JSON at ~/.config/vpsd/config.json (or the
// platform-equivalent path returned by os.UserConfigDir). Every key can be
// overridden from the environment with a VPSD_ prefix, dots replaced by
// underscores (e.g. VPSD_QUEUE_BACKEND, VPSD_DATABASE_POSTGRES_DSN).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	appDir    = "vpsd"
	fileName  = "config.json"
	envPrefix = "VPSD"
)

// pathOverride, when non-empty, replaces the default config file path.
// Intended for testing. Use SetPath / ResetPath to manage.
var pathOverride string

// SetPath overrides the config file path. Intended for testing.
func SetPath(p string) { pathOverride = p }

// ResetPath clears the path override, reverting to the default. Intended for testing.
func ResetPath() { pathOverride = "" }

// Config holds settings that persist across invocations.
type Config struct {
	Hypervisor HypervisorConfig `json:"hypervisor" mapstructure:"hypervisor"`
	Database   DatabaseConfig   `json:"database" mapstructure:"database"`
	Locks      LocksConfig      `json:"locks" mapstructure:"locks"`
	Queue      QueueConfig      `json:"queue" mapstructure:"queue"`
	Log        LogConfig        `json:"log" mapstructure:"log"`
	Metrics    MetricsConfig    `json:"metrics" mapstructure:"metrics"`
	Tracing    TracingConfig    `json:"tracing" mapstructure:"tracing"`
	Usage      UsageConfig      `json:"usage" mapstructure:"usage"`
}

type HypervisorConfig struct {
	Provider string `json:"provider,omitempty" mapstructure:"provider"`

	// RebuildImage is the image a rebuild installs.
	RebuildImage string `json:"rebuild_image,omitempty" mapstructure:"rebuild_image"`
}

type DatabaseConfig struct {
	// Path overrides the SQLite database location.
	Path string `json:"path,omitempty" mapstructure:"path"`

	PostgresDSN string `json:"postgres_dsn,omitempty" mapstructure:"postgres_dsn"`
}

type LocksConfig struct {
	// Backend is sqlite, postgres or redis.
	Backend string `json:"backend,omitempty" mapstructure:"backend"`

	TTL       string `json:"ttl,omitempty" mapstructure:"ttl"`
	RedisAddr string `json:"redis_addr,omitempty" mapstructure:"redis_addr"`
}

type QueueConfig struct {
	// Backend is memory or nats.
	Backend string `json:"backend,omitempty" mapstructure:"backend"`

	NATSURL string `json:"nats_url,omitempty" mapstructure:"nats_url"`
	Workers int    `json:"workers,omitempty" mapstructure:"workers"`
}

type LogConfig struct {
	Level    string `json:"level,omitempty" mapstructure:"level"`
	Encoding string `json:"encoding,omitempty" mapstructure:"encoding"`
}

type MetricsConfig struct {
	// Listen is the worker's /metrics and /healthz address. Empty disables it.
	Listen string `json:"listen,omitempty" mapstructure:"listen"`
}

type TracingConfig struct {
	// Endpoint is the OTLP/HTTP collector. Empty disables tracing.
	Endpoint string `json:"endpoint,omitempty" mapstructure:"endpoint"`
}

type UsageConfig struct {
	Interval string `json:"interval,omitempty" mapstructure:"interval"`

	// Resources is a comma-separated list of resources to sample.
	Resources string `json:"resources,omitempty" mapstructure:"resources"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Hypervisor: HypervisorConfig{Provider: "hetzner", RebuildImage: "ubuntu-24.04"},
		Locks:      LocksConfig{Backend: "sqlite", TTL: "2h", RedisAddr: "localhost:6379"},
		Queue:      QueueConfig{Backend: "memory", NATSURL: "nats://127.0.0.1:4222", Workers: 4},
		Log:        LogConfig{Level: "info", Encoding: "console"},
		Metrics:    MetricsConfig{Listen: "127.0.0.1:9464"},
		Usage:      UsageConfig{Interval: "5m"},
	}
}

// LockTTL parses Locks.TTL.
func (c *Config) LockTTL() (time.Duration, error) {
	return parseDuration("locks.ttl", c.Locks.TTL)
}

// UsageInterval parses Usage.Interval.
func (c *Config) UsageInterval() (time.Duration, error) {
	return parseDuration("usage.interval", c.Usage.Interval)
}

// UsageResources splits Usage.Resources.
func (c *Config) UsageResources() []string {
	var out []string
	for _, r := range strings.Split(c.Usage.Resources, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", key)
	}
	return d, nil
}

// Validate checks enumerated values and durations.
func (c *Config) Validate() error {
	var errs []error
	if !oneOf(c.Locks.Backend, "", "sqlite", "postgres", "redis") {
		errs = append(errs, fmt.Errorf("config: unknown lock backend %q", c.Locks.Backend))
	}
	if c.Locks.Backend == "postgres" && c.Database.PostgresDSN == "" {
		errs = append(errs, errors.New("config: postgres lock backend requires database.postgres_dsn"))
	}
	if !oneOf(c.Queue.Backend, "", "memory", "nats") {
		errs = append(errs, fmt.Errorf("config: unknown queue backend %q", c.Queue.Backend))
	}
	if !oneOf(c.Log.Encoding, "", "console", "json") {
		errs = append(errs, fmt.Errorf("config: unknown log encoding %q", c.Log.Encoding))
	}
	if c.Queue.Workers < 0 {
		errs = append(errs, errors.New("config: queue.workers must not be negative"))
	}
	if _, err := c.LockTTL(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.UsageInterval(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}

// Path returns the absolute path to the config file.
// If SetPath has been called, that value is returned instead.
// Otherwise it uses os.UserConfigDir which resolves to
// ~/Library/Application Support on macOS, ~/.config on Linux, and
// %AppData% on Windows.
func Path() (string, error) {
	if pathOverride != "" {
		return pathOverride, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: unable to determine config directory: %w", err)
	}
	return filepath.Join(base, appDir, fileName), nil
}

// Load reads the config file from disk and returns the parsed Config,
// without defaults or environment overrides. Use it to edit the file.
// If the file does not exist, a zero-value Config is returned (not an error).
func Load() (*Config, error) {
	return loadFrom("")
}

// loadFrom reads the config from the given path. If path is empty, the
// default Path() is used.
func loadFrom(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = Path()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	return &cfg, nil
}

// Resolve returns the effective configuration: defaults, overlaid by the
// config file, overlaid by VPSD_* environment variables.
func Resolve() (*Config, error) {
	return resolveFrom("")
}

func resolveFrom(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = Path()
		if err != nil {
			return nil, err
		}
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: failed to stat %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("hypervisor.provider", d.Hypervisor.Provider)
	v.SetDefault("hypervisor.rebuild_image", d.Hypervisor.RebuildImage)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.postgres_dsn", d.Database.PostgresDSN)
	v.SetDefault("locks.backend", d.Locks.Backend)
	v.SetDefault("locks.ttl", d.Locks.TTL)
	v.SetDefault("locks.redis_addr", d.Locks.RedisAddr)
	v.SetDefault("queue.backend", d.Queue.Backend)
	v.SetDefault("queue.nats_url", d.Queue.NATSURL)
	v.SetDefault("queue.workers", d.Queue.Workers)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.encoding", d.Log.Encoding)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("usage.interval", d.Usage.Interval)
	v.SetDefault("usage.resources", d.Usage.Resources)
}

// Save writes the config to disk, creating the parent directory if needed.
func (c *Config) Save() error {
	return c.saveTo("")
}

// saveTo writes the config to the given path. If path is empty, the
// default Path() is used.
func (c *Config) saveTo(path string) error {
	if path == "" {
		var err error
		path, err = Path()
		if err != nil {
			return err
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: failed to marshal config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: failed to write %s: %w", path, err)
	}

	return nil
}

// LoadFrom reads the config from the given path. Intended for testing.
func LoadFrom(path string) (*Config, error) {
	return loadFrom(path)
}

// ResolveFrom resolves the config using the file at path. Intended for testing.
func ResolveFrom(path string) (*Config, error) {
	return resolveFrom(path)
}

// SaveTo writes the config to the given path. Intended for testing.
func (c *Config) SaveTo(path string) error {
	return c.saveTo(path)
}
