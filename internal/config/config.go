// ABOUTME: Configuration loading and parsing for fleet-coordinator
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete fleet-coordinator configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Demo     DemoConfig     `yaml:"demo"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DataConfig holds the data directory layout. Registry, context documents,
// and worker directories all live under Dir.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// RegistryPath is the registry document location under the data directory.
func (d DataConfig) RegistryPath() string {
	return filepath.Join(d.Dir, "workers.json")
}

// ContextDir is where per-worker context documents live.
func (d DataConfig) ContextDir() string {
	return filepath.Join(d.Dir, "context")
}

// WorkersDir is where local worker data directories are created.
func (d DataConfig) WorkersDir() string {
	return filepath.Join(d.Dir, "workers")
}

// DispatchConfig holds invocation timing and fan-out configuration
type DispatchConfig struct {
	LocalTimeout   time.Duration `yaml:"-"`
	RemoteTimeout  time.Duration `yaml:"-"`
	MaxConcurrency int           `yaml:"max_concurrency"`

	// Raw string values for YAML unmarshaling
	LocalTimeoutRaw  string `yaml:"local_timeout"`
	RemoteTimeoutRaw string `yaml:"remote_timeout"`
}

// DemoConfig controls seeding of the demo namespace at startup
type DemoConfig struct {
	Seed bool `yaml:"seed"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.Dispatch.MaxConcurrency < 0 {
		return fmt.Errorf("dispatch.max_concurrency must not be negative")
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return fmt.Errorf("metrics.path is required when metrics are enabled")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Dispatch.LocalTimeoutRaw != "" {
		cfg.Dispatch.LocalTimeout, err = time.ParseDuration(cfg.Dispatch.LocalTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing local_timeout %q: %w", cfg.Dispatch.LocalTimeoutRaw, err)
		}
	}

	if cfg.Dispatch.RemoteTimeoutRaw != "" {
		cfg.Dispatch.RemoteTimeout, err = time.ParseDuration(cfg.Dispatch.RemoteTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing remote_timeout %q: %w", cfg.Dispatch.RemoteTimeoutRaw, err)
		}
	}

	return nil
}
