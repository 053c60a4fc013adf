package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the process configuration of the adapter.
// The adapter/device layout itself lives in the gateway database, see Adapters.
type Config struct {
	Log             LogConfig         `yaml:"log"`
	Gateway         GatewayConfig     `yaml:"gateway"`
	Database        DatabaseConfig    `yaml:"database"`
	Player          PlayerConfig      `yaml:"player"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"use_json"`
}

// GetLevel returns the configured level, "info" if unset.
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return strings.ToLower(c.Level)
}

// GatewayConfig contains the gateway IPC settings
type GatewayConfig struct {
	URL      string   `yaml:"url"`
	PluginID string   `yaml:"plugin_id"`
	ConfigDB string   `yaml:"config_db"` // Override for <config_dir>/db.sqlite3
	Timeout  Duration `yaml:"timeout"`   // Dial and registration timeout
}

// DatabaseConfig contains settings of the adapter's own state database
type DatabaseConfig struct {
	Path string `yaml:"path"` // Empty = <data_dir>/<plugin_id>/state.sqlite
}

// PlayerConfig contains DMX transmission settings
type PlayerConfig struct {
	Interval Duration `yaml:"interval"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains settings of the property command worker pool
type EventBusConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// GetWorkers returns worker count with default.
// One worker keeps set-property commands in arrival order.
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 1
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.Log.Colors = true
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses the configuration file.
// A missing file is not an error: defaults are returned instead.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Gateway defaults
	if cfg.Gateway.URL == "" {
		cfg.Gateway.URL = "ws://localhost:9500"
	}
	if cfg.Gateway.PluginID == "" {
		cfg.Gateway.PluginID = "dmx-adapter"
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = Duration(10 * time.Second)
	}

	// Player defaults (~20 Hz)
	if cfg.Player.Interval == 0 {
		cfg.Player.Interval = Duration(50 * time.Millisecond)
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9091
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// GetShutdownTimeout returns the graceful shutdown timeout
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.ShutdownTimeout.Duration()
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
