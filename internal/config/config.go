package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Nash0810/kollab-board/internal/logging"
	"github.com/Nash0810/kollab-board/pkg/board"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = "kollab.yml"

// EnvPrefix prefixes environment overrides, e.g. KOLLAB_REDIS_URL.
const EnvPrefix = "KOLLAB"

// Config represents the top-level kollab.yml configuration
type Config struct {
	Version  string         `yaml:"version"`
	Board    string         `yaml:"board"`
	Redis    RedisConfig    `yaml:"redis"`
	Server   ServerConfig   `yaml:"server"`
	Locks    LocksConfig    `yaml:"locks"`
	Merge    MergeConfig    `yaml:"merge"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Log      LogConfig      `yaml:"log"`
}

// RedisConfig locates the board store.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// ServerConfig specifies the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LocksConfig specifies edit lock lifecycle timings. A zero duration disables the
// corresponding behavior.
type LocksConfig struct {
	GracePeriod   time.Duration `yaml:"grace_period"`   // Delay before a disconnected user's locks are released
	StaleAfter    time.Duration `yaml:"stale_after"`    // Age at which the sweep force-releases a lock
	SweepInterval time.Duration `yaml:"sweep_interval"` // How often the sweep runs
	Enforce       bool          `yaml:"enforce"`        // Reject CRUD writes to tasks locked by someone else
}

// MergeConfig specifies the merge resolution rule.
type MergeConfig struct {
	KeepServerFields []string `yaml:"keep_server_fields"` // Fields a merge takes from the server record
}

// RealtimeConfig specifies WebSocket connection behavior.
type RealtimeConfig struct {
	SendBuffer   int           `yaml:"send_buffer"`   // Frames queued per connection before drops
	PingInterval time.Duration `yaml:"ping_interval"` // Keepalive ping period
}

// LogConfig specifies logger output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Version: "1.0",
		Board:   "default",
		Redis:   RedisConfig{URL: "redis://localhost:6379/0"},
		Server:  ServerConfig{Addr: ":8080"},
		Locks: LocksConfig{
			GracePeriod:   5 * time.Second,
			StaleAfter:    10 * time.Minute,
			SweepInterval: 30 * time.Second,
			Enforce:       true,
		},
		Merge: MergeConfig{
			KeepServerFields: []string{string(board.FieldStatus), string(board.FieldAssignedTo)},
		},
		Realtime: RealtimeConfig{
			SendBuffer:   256,
			PingInterval: 30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Validate performs strict validation on the configuration
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Board == "" {
		return fmt.Errorf("board name is required")
	}
	if strings.ContainsAny(c.Board, ": ") {
		return fmt.Errorf("board name '%s' must not contain ':' or spaces", c.Board)
	}

	if _, err := c.RedisOptions(); err != nil {
		return err
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if c.Locks.GracePeriod < 0 {
		return fmt.Errorf("locks.grace_period must be >= 0, got %s", c.Locks.GracePeriod)
	}
	if c.Locks.StaleAfter < 0 {
		return fmt.Errorf("locks.stale_after must be >= 0 (0 = never), got %s", c.Locks.StaleAfter)
	}
	if c.Locks.StaleAfter > 0 && c.Locks.SweepInterval <= 0 {
		return fmt.Errorf("locks.sweep_interval must be > 0 when locks.stale_after is set")
	}

	for _, name := range c.Merge.KeepServerFields {
		if _, err := board.ParseField(name); err != nil {
			return fmt.Errorf("merge.keep_server_fields: %w", err)
		}
	}

	if c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be > 0, got %d", c.Realtime.SendBuffer)
	}
	if c.Realtime.PingInterval <= 0 {
		return fmt.Errorf("realtime.ping_interval must be > 0, got %s", c.Realtime.PingInterval)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("log.format must be '%s' or '%s', got '%s'", logging.FormatText, logging.FormatJSON, c.Log.Format)
	}

	return nil
}

// RedisOptions parses redis.url into client options.
func (c *Config) RedisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis.url '%s': %w", c.Redis.URL, err)
	}
	return opts, nil
}

// Load reads and validates kollab.yml from the specified path. Keys missing from
// the file keep their defaults. An empty path tries DefaultPath and falls back to
// the defaults if it does not exist.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load with flag and environment overrides applied from v
// before validation.
func LoadWithOverrides(path string, v *viper.Viper) (*Config, error) {
	config := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// No kollab.yml in the working directory; run on defaults.
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if v != nil {
		if err := config.ApplyOverrides(v); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}
