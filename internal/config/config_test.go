package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 3333, cfg.Server.Port)
	assert.Equal(t, "data", cfg.Storage.DataDir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
	assert.True(t, cfg.Refresh.Enabled)
	assert.NotEmpty(t, cfg.Refresh.Schedule)
}

func TestLoad_PortEnvOverride(t *testing.T) {
	t.Setenv("PORT", "8123")

	cfg, err := Load(newViper())
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Server.Port)
}

func TestLoad_InvalidPortEnv(t *testing.T) {
	t.Setenv("PORT", "not-a-port")

	_, err := Load(newViper())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(newViper())
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Storage.DataDir = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Fetch.Timeout = 0
	assert.Error(t, cfg.Validate())
}
