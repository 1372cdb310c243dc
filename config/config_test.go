package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "sqlite", cfg.Registry.Driver)
	assert.NotEmpty(t, cfg.Registry.Path)
	assert.Equal(t, "mysql", cfg.Runner.DefaultDBType)
	assert.Equal(t, 128, cfg.Collector.BufferSize)
	assert.Equal(t, "zap", cfg.Logging.Backend)
	assert.Empty(t, cfg.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
registry:
  driver: memory
runner:
  timeout: 30s
  default_db_type: postgresql
collector:
  buffer_size: 0
`), 0o600))

	t.Setenv("SQLMESH_LOGGING_LEVEL", "debug")

	v, err := NewViper(file)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Registry.Driver)
	assert.Equal(t, 30*time.Second, cfg.Runner.Timeout)
	assert.Equal(t, "postgresql", cfg.Runner.DefaultDBType)
	assert.Equal(t, 0, cfg.Collector.BufferSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, "console", cfg.Logging.Encoding)
}

func TestNewViper_MissingDefaultFileIsFine(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	v, err := NewViper("")
	require.NoError(t, err)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Registry.Driver)
}

func TestNewViper_MissingExplicitFileFails(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"unknown registry driver", func(c *Config) { c.Registry.Driver = "redis" }, "registry.driver"},
		{"sqlite without path", func(c *Config) { c.Registry.Path = "" }, "registry.path"},
		{"unsupported default db", func(c *Config) { c.Runner.DefaultDBType = "oracle" }, "runner.default_db_type"},
		{"negative timeout", func(c *Config) { c.Runner.Timeout = -time.Second }, "runner.timeout"},
		{"negative buffer", func(c *Config) { c.Collector.BufferSize = -1 }, "collector.buffer_size"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad encoding", func(c *Config) { c.Logging.Encoding = "xml" }, "logging.encoding"},
		{"bad backend", func(c *Config) { c.Logging.Backend = "logrus" }, "logging.backend"},
		{"metrics without namespace", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Namespace = ""
		}, "metrics.namespace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("registry:\n  driver: redis\nlogging:\n  level: loud\n"), 0o600))

	v, err := NewViper(file)
	require.NoError(t, err)

	_, err = Load(v)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)
	assert.Contains(t, err.Error(), "2 validation errors")
}

func TestSave_LoadsBack(t *testing.T) {
	cfg := Default()
	cfg.Registry.Driver = "memory"
	cfg.Runner.Timeout = 2 * time.Minute

	file := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, Save(cfg, file))

	v, err := NewViper(file)
	require.NoError(t, err)
	loaded, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "memory", loaded.Registry.Driver)
	assert.Equal(t, 2*time.Minute, loaded.Runner.Timeout)
}
