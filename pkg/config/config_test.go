package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cp-1", cfg.NodeID)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.PublicURL)
	assert.Equal(t, 15*time.Second, cfg.DaemonTimeout)
	assert.Equal(t, 5*time.Second, cfg.ResourcesTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConnectionCacheTTL)
	assert.Equal(t, 240, cfg.RemoteRatePerMinute)
	assert.Equal(t, 60, cfg.RemoteRateBurst)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, 2*time.Hour, cfg.TransferTimeout)
	assert.Empty(t, cfg.NATSURL)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PADDOCK_NODE_ID", "cp-7")
	t.Setenv("PADDOCK_DAEMON_TIMEOUT", "3s")
	t.Setenv("PADDOCK_NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("PADDOCK_LOG_JSON", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cp-7", cfg.NodeID)
	assert.Equal(t, 3*time.Second, cfg.DaemonTimeout)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
	assert.True(t, cfg.LogJSON)
}

func TestFlagsOverrideOnlyWhenSet(t *testing.T) {
	t.Setenv("PADDOCK_NODE_ID", "from-env")
	t.Setenv("PADDOCK_DATA_DIR", "/env/data")

	cfg, err := Load()
	require.NoError(t, err)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	overrides := BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--node-id", "from-flag", "--log-json"}))
	overrides.Apply(cfg)

	assert.Equal(t, "from-flag", cfg.NodeID)
	assert.Equal(t, "/env/data", cfg.DataDir)
	assert.True(t, cfg.LogJSON)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty node id", func(c *Config) { c.NodeID = "" }, true},
		{"zero rate", func(c *Config) { c.RemoteRatePerMinute = 0 }, true},
		{"no workers", func(c *Config) { c.ProvisionWorkers = 0 }, true},
		{"negative timeout", func(c *Config) { c.DaemonTimeout = -time.Second }, true},
		{"zero transfer timeout", func(c *Config) { c.TransferTimeout = 0 }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}
