package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, 20*time.Second, cfg.Relay.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.Relay.PingTimeout)
	assert.Equal(t, 5*time.Second, cfg.Relay.SendTimeout)
	assert.Equal(t, 1000, cfg.Relay.HistorySize)
	assert.InDelta(t, 0.4, cfg.Detector.Confidence, 1e-9)
	assert.InDelta(t, 0.3, cfg.Detector.Overlap, 1e-9)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.MQTT.Enabled)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
relay:
  send_timeout: 2s
  history_size: 10
database:
  driver: none
`), 0o600))

	t.Setenv("V2V_RELAY_HISTORY_SIZE", "25")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Relay.SendTimeout)
	assert.Equal(t, 25, cfg.Relay.HistorySize)
	assert.Equal(t, "none", cfg.Database.Driver)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		v := viper.New()
		SetDefaults(v)
		var cfg Config
		require.NoError(t, v.Unmarshal(&cfg))
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad_port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"zero_send_timeout", func(c *Config) { c.Relay.SendTimeout = 0 }, "relay.send_timeout"},
		{"negative_history", func(c *Config) { c.Relay.HistorySize = -1 }, "relay.history_size"},
		{"confidence_range", func(c *Config) { c.Detector.Confidence = 1.5 }, "detector.confidence"},
		{"driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"mqtt_broker", func(c *Config) { c.MQTT.Enabled, c.MQTT.Broker = true, "" }, "mqtt.broker"},
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
