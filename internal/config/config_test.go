package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluidmcp/gateway/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"FLUIDMCP_LISTEN_ADDR", "FLUIDMCP_PORT", "FLUIDMCP_STARTUP_TIMEOUT", "FLUIDMCP_BEARER_TOKEN", "FLUIDMCP_STORE_DSN"} {
		t.Setenv(k, "")
	}
}

func TestLoadWithNoFileOrEnvReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8099", cfg.ListenAddr)
	assert.Equal(t, 120*time.Second, cfg.StartupTimeout)
	assert.False(t, cfg.RequiresAdminAuth())
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, ":8099", cfg.ListenAddr)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "gateway.toml")
	require.NoError(t, os.WriteFile(path, []byte(`listen_addr = ":9000"
startup_timeout_seconds = 30
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.StartupTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "gateway.toml")
	require.NoError(t, os.WriteFile(path, []byte(`listen_addr = ":9000"`), 0o600))
	t.Setenv("FLUIDMCP_LISTEN_ADDR", ":7777")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.ListenAddr, "env must win over file")
}

func TestPortEnvShorthand(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLUIDMCP_PORT", "6000")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.ListenAddr)
}

func TestBearerTokenNeverReadFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "gateway.toml")
	require.NoError(t, os.WriteFile(path, []byte(`bearer_token = "leaked"`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.BearerToken)
	assert.False(t, cfg.RequiresAdminAuth())
}

func TestBearerTokenFromEnvEnablesAdminAuth(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLUIDMCP_BEARER_TOKEN", "s3cret")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.True(t, cfg.RequiresAdminAuth())
}

func TestLoadRejectsEmptyListenAddr(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "gateway.toml")
	require.NoError(t, os.WriteFile(path, []byte(`listen_addr = ""`), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadNonPositiveStartupTimeoutFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "gateway.toml")
	require.NoError(t, os.WriteFile(path, []byte(`startup_timeout_seconds = 0`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err, "a zero override should fall back to the default, not break validation")
	assert.Equal(t, 120*time.Second, cfg.StartupTimeout)
}
