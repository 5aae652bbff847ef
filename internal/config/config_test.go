package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":6379", cfg.Server.Addr)
	assert.Equal(t, 250, cfg.Server.MaxConnections)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.OTEL.Enabled)
	assert.Equal(t, "", cfg.Admin.Addr)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("SERVER_ADDR", ":7000")
	t.Setenv("SERVER_MAX_CONNECTIONS", "10")
	t.Setenv("ADMIN_ADDR", ":9000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.Server.MaxConnections)
	assert.Equal(t, ":9000", cfg.Admin.Addr)
}
