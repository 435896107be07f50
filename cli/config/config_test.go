package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "1", cfg.Version)
	assert.Equal(t, "my-busline-service", cfg.Service.Name)
	assert.Equal(t, "kafka", cfg.Transport.Kind)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "public", cfg.Store.Schema)
	assert.Equal(t, "busline_sagas", cfg.Store.Table)
	assert.Equal(t, 30*time.Second, cfg.Store.LockLease)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(*Config)
		wantErrors int
	}{
		{
			name:       "valid default config with postgres URL",
			modify:     func(c *Config) { c.Store.URL = "postgres://localhost/db" },
			wantErrors: 0,
		},
		{
			name:       "missing service name",
			modify:     func(c *Config) { c.Store.URL = "x"; c.Service.Name = "" },
			wantErrors: 1,
		},
		{
			name:       "missing queue",
			modify:     func(c *Config) { c.Store.URL = "x"; c.Service.Queue = "" },
			wantErrors: 1,
		},
		{
			name:       "unknown transport kind",
			modify:     func(c *Config) { c.Store.URL = "x"; c.Transport.Kind = "rabbitmq" },
			wantErrors: 1,
		},
		{
			name: "kafka without brokers",
			modify: func(c *Config) {
				c.Store.URL = "x"
				c.Transport.Brokers = nil
			},
			wantErrors: 1,
		},
		{
			name:       "memory transport needs no brokers",
			modify:     func(c *Config) { c.Store.URL = "x"; c.Transport.Kind = "memory"; c.Transport.Brokers = nil },
			wantErrors: 0,
		},
		{
			name:       "postgres driver without URL",
			modify:     func(c *Config) { c.Store.URL = "" },
			wantErrors: 1,
		},
		{
			name:       "memory driver without URL",
			modify:     func(c *Config) { c.Store.Driver = "memory"; c.Store.URL = "" },
			wantErrors: 0,
		},
		{
			name:       "unknown store driver",
			modify:     func(c *Config) { c.Store.Driver = "mongo"; c.Store.URL = "x" },
			wantErrors: 1,
		},
		{
			name:       "negative max retries",
			modify:     func(c *Config) { c.Store.URL = "x"; c.Retry.MaxRetries = -1 },
			wantErrors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			errs := cfg.Validate()
			assert.Len(t, errs, tt.wantErrors, "errors: %v", errs)
		})
	}
}

func TestConfig_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Service.Name = "orders"
	cfg.Store.Driver = "redis"
	cfg.Store.URL = "localhost:6379"
	require.NoError(t, cfg.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "orders", loaded.Service.Name)
	assert.Equal(t, "redis", loaded.Store.Driver)
	assert.Equal(t, "localhost:6379", loaded.Store.URL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("service: [not closed"), 0644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, Exists(dir))

	require.NoError(t, DefaultConfig().Save(dir))
	assert.True(t, Exists(dir))
}

func TestFindConfig(t *testing.T) {
	t.Run("finds config in parent directory", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, DefaultConfig().Save(root))

		nested := filepath.Join(root, "a", "b")
		require.NoError(t, os.MkdirAll(nested, 0755))

		foundDir, cfg, err := FindConfig(nested)
		require.NoError(t, err)
		assert.Equal(t, root, foundDir)
		assert.Equal(t, "my-busline-service", cfg.Service.Name)
	})

	t.Run("fails when no config exists", func(t *testing.T) {
		_, _, err := FindConfig(t.TempDir())
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestGenerateYAML(t *testing.T) {
	cfg := DefaultConfig()
	out := GenerateYAML(cfg)

	assert.Contains(t, out, "my-busline-service")
	assert.Contains(t, out, "${BUSLINE_STORE_URL}")
	assert.Contains(t, out, "busline_sagas")
	assert.Contains(t, out, "localhost:9092")

	// The generated template must parse back into a config.
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(out), 0644))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Service.Name, loaded.Service.Name)
	assert.Equal(t, cfg.Store.Driver, loaded.Store.Driver)
	assert.Equal(t, cfg.Retry.MaxRetries, loaded.Retry.MaxRetries)
}
