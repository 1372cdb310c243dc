// Package config loads sqlmesh settings from defaults, a YAML file and
// SQLMESH_* environment variables through viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g. SQLMESH_RUNNER_TIMEOUT.
const EnvPrefix = "SQLMESH"

// Config represents the complete sqlmesh configuration
type Config struct {
	Registry  RegistryConfig  `mapstructure:"registry" yaml:"registry"`
	Runner    RunnerConfig    `mapstructure:"runner" yaml:"runner"`
	Collector CollectorConfig `mapstructure:"collector" yaml:"collector"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// RegistryConfig selects where connection records live
type RegistryConfig struct {
	// Driver is "sqlite" (persistent) or "memory" (volatile, for demos and tests)
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Path is the sqlite database file
	Path string `mapstructure:"path" yaml:"path"`
}

// RunnerConfig controls pipeline runs
type RunnerConfig struct {
	// DefaultDBType is reported when no connection can be resolved
	DefaultDBType string `mapstructure:"default_db_type" yaml:"default_db_type"`
	// Timeout bounds one run (0 = no limit)
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// UserFeedback is passed to agent registration
	UserFeedback bool `mapstructure:"user_feedback" yaml:"user_feedback"`
}

// CollectorConfig controls output buffering
type CollectorConfig struct {
	// BufferSize is the per-source character threshold (0 = deliver immediately)
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// LoggingConfig controls the logger backend
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding"`
	Development bool   `mapstructure:"development" yaml:"development"`
	// Backend is "zap" or "slog"
	Backend string `mapstructure:"backend" yaml:"backend"`
}

// MetricsConfig controls Prometheus instrumentation
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Registry: RegistryConfig{
			Driver: "sqlite",
			Path:   filepath.Join(ConfigDir(), "registry.db"),
		},
		Runner: RunnerConfig{
			DefaultDBType: "mysql",
			Timeout:       0,
			UserFeedback:  false,
		},
		Collector: CollectorConfig{
			BufferSize: 128,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
			Backend:  "zap",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "sqlmesh",
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("registry.driver", defaults.Registry.Driver)
	v.SetDefault("registry.path", defaults.Registry.Path)

	v.SetDefault("runner.default_db_type", defaults.Runner.DefaultDBType)
	v.SetDefault("runner.timeout", defaults.Runner.Timeout)
	v.SetDefault("runner.user_feedback", defaults.Runner.UserFeedback)

	v.SetDefault("collector.buffer_size", defaults.Collector.BufferSize)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.encoding", defaults.Logging.Encoding)
	v.SetDefault("logging.development", defaults.Logging.Development)
	v.SetDefault("logging.backend", defaults.Logging.Backend)

	v.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	v.SetDefault("metrics.namespace", defaults.Metrics.Namespace)
}

// NewViper returns a viper instance with defaults and environment binding.
// When configFile is empty the default config file is read if it exists.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(ConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return v, nil
}

// Load reads the configuration from v into a Config struct and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Marshal renders cfg as YAML
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Save writes cfg as YAML to path, creating parent directories
func Save(cfg *Config, path string) error {
	data, err := Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sqlmesh")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sqlmesh"
	}
	return filepath.Join(home, ".config", "sqlmesh")
}

// ConfigFile returns the path to the default config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
