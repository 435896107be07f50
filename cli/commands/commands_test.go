package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R-Suite/busline/cli/config"
)

// testEnv holds common test environment state
type testEnv struct {
	t      *testing.T
	tmpDir string
	origWd string
}

// setupTestEnv creates a temporary directory and changes to it.
func setupTestEnv(t *testing.T, prefix string) *testEnv {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", prefix)
	require.NoError(t, err)

	origWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))

	env := &testEnv{
		t:      t,
		tmpDir: tmpDir,
		origWd: origWd,
	}
	t.Cleanup(env.cleanup)
	return env
}

func (e *testEnv) cleanup() {
	_ = os.Chdir(e.origWd)
	os.RemoveAll(e.tmpDir)
}

// configOption is a function that modifies a config
type configOption func(*config.Config)

func withDriver(driver string) configOption {
	return func(c *config.Config) {
		c.Store.Driver = driver
	}
}

func withStoreURL(url string) configOption {
	return func(c *config.Config) {
		c.Store.URL = url
	}
}

// createConfig creates a busline.yaml config file in the test directory
func (e *testEnv) createConfig(opts ...configOption) *config.Config {
	e.t.Helper()
	cfg := config.DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	err := cfg.SaveFile(filepath.Join(e.tmpDir, config.ConfigFileName))
	require.NoError(e.t, err)
	return cfg
}

// runCommand executes a cobra command with args and captures output
func runCommand(cmd *cobra.Command, args ...string) (string, error) {
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestInitCommand_NonInteractive(t *testing.T) {
	env := setupTestEnv(t, "busline-init")

	cmd := NewInitCommand()
	_, err := runCommand(cmd, "--non-interactive", "--name", "orders", "--queue", "orders-in", "--driver", "memory", "--transport", "memory")
	require.NoError(t, err)

	require.True(t, config.Exists(env.tmpDir))

	cfg, err := config.Load(env.tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.Service.Name)
	assert.Equal(t, "orders-in", cfg.Service.Queue)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "memory", cfg.Transport.Kind)
}

func TestInitCommand_ExistingConfig(t *testing.T) {
	env := setupTestEnv(t, "busline-init-existing")
	env.createConfig()

	cmd := NewInitCommand()
	_, err := runCommand(cmd, "--non-interactive")
	require.NoError(t, err)

	// Existing config is left untouched
	cfg, err := config.Load(env.tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "my-busline-service", cfg.Service.Name)
}

func TestInitCommand_NewDirectory(t *testing.T) {
	env := setupTestEnv(t, "busline-init-dir")

	cmd := NewInitCommand()
	_, err := runCommand(cmd, "--non-interactive", "--driver", "memory", "--transport", "memory", "my-service")
	require.NoError(t, err)

	assert.True(t, config.Exists(filepath.Join(env.tmpDir, "my-service")))
}

func TestMigrateCommand_MemoryDriver(t *testing.T) {
	env := setupTestEnv(t, "busline-migrate-memory")
	env.createConfig(withDriver("memory"))

	cmd := NewMigrateCommand()
	_, err := runCommand(cmd)
	require.NoError(t, err)
}

func TestMigrateCommand_RedisDriver(t *testing.T) {
	env := setupTestEnv(t, "busline-migrate-redis")
	env.createConfig(withDriver("redis"), withStoreURL("localhost:6379"))

	cmd := NewMigrateCommand()
	_, err := runCommand(cmd)
	require.NoError(t, err)
}

func TestMigrateCommand_NoConfig(t *testing.T) {
	setupTestEnv(t, "busline-migrate-noconfig")

	cmd := NewMigrateCommand()
	_, err := runCommand(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busline.yaml")
}

func TestMigrateCommand_UnsetStoreURL(t *testing.T) {
	env := setupTestEnv(t, "busline-migrate-nourl")
	env.createConfig(withDriver("postgres"), withStoreURL("${BUSLINE_STORE_URL}"))
	t.Setenv("BUSLINE_STORE_URL", "")

	cmd := NewMigrateCommand()
	_, err := runCommand(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BUSLINE_STORE_URL")
}

func TestVersionCommand(t *testing.T) {
	cmd := NewVersionCommand("1.2.3", "abc1234", "2026-01-01")
	_, err := runCommand(cmd)
	require.NoError(t, err)
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	root := NewRootCommand()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	assert.True(t, names["init"])
	assert.True(t, names["migrate"])
	assert.True(t, names["diagnose"])
	assert.True(t, names["sagas"])
	assert.True(t, names["version"])
}

func TestSagasCommand_MemoryDriver(t *testing.T) {
	env := setupTestEnv(t, "busline-sagas-memory")
	env.createConfig(withDriver("memory"))

	cmd := NewSagasCommand()
	_, err := runCommand(cmd)
	require.NoError(t, err)
}

func TestSagasCommand_NoConfig(t *testing.T) {
	setupTestEnv(t, "busline-sagas-noconfig")

	cmd := NewSagasCommand()
	_, err := runCommand(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busline.yaml")
}

func TestSagasCommand_UnsetStoreURL(t *testing.T) {
	env := setupTestEnv(t, "busline-sagas-nourl")
	env.createConfig(withDriver("postgres"), withStoreURL("${BUSLINE_STORE_URL}"))
	t.Setenv("BUSLINE_STORE_URL", "")

	cmd := NewSagasCommand()
	_, err := runCommand(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BUSLINE_STORE_URL")
}

func TestCheckGoVersion(t *testing.T) {
	result := checkGoVersion()
	assert.Equal(t, StatusOK, result.Status)
}

func TestCheckConfiguration_NoConfig(t *testing.T) {
	setupTestEnv(t, "busline-diag-noconfig")

	result := checkConfiguration()
	assert.Equal(t, StatusWarning, result.Status)
	assert.Contains(t, result.Recommendation, "busline init")
}

func TestCheckConfiguration_Valid(t *testing.T) {
	env := setupTestEnv(t, "busline-diag-valid")
	env.createConfig(withDriver("memory"))

	result := checkConfiguration()
	assert.Equal(t, StatusOK, result.Status)
}

func TestCheckStoreConnection_MemoryDriver(t *testing.T) {
	env := setupTestEnv(t, "busline-diag-memstore")
	env.createConfig(withDriver("memory"))

	result := checkStoreConnection()
	assert.Equal(t, StatusOK, result.Status)
}

func TestCheckStoreSchema_SkippedForMemory(t *testing.T) {
	env := setupTestEnv(t, "busline-diag-memschema")
	env.createConfig(withDriver("memory"))

	result := checkStoreSchema()
	assert.Equal(t, StatusOK, result.Status)
}

func TestCheckTransport_Memory(t *testing.T) {
	env := setupTestEnv(t, "busline-diag-transport")
	env.createConfig(withDriver("memory"))
	cfg, err := config.Load(env.tmpDir)
	require.NoError(t, err)
	cfg.Transport.Kind = "memory"
	require.NoError(t, cfg.Save(env.tmpDir))

	result := checkTransport()
	assert.Equal(t, StatusOK, result.Status)
}
