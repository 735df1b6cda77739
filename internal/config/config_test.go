package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
app:
  instance_id: "oracle-test"
  shutdown_timeout: 5s

logging:
  level: "debug"
  format: "console"

feed:
  hermes_url: "https://hermes.example.com"
  reconnect_delay: 3s
  event_buffer: 64

assets:
  - symbol: "SOL"
    feed_id: "0xaaa"

twap:
  window_secs: 600
  sample_interval_secs: 2

settlement:
  epoch_anchor: 0
  round_duration_hours: 24

bus:
  capacity: 128

api:
  http:
    addr: ":9090"
    read_timeout: 10s
  ws:
    write_timeout: 5s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "oracle-test", cfg.App.InstanceID)
	assert.Equal(t, 5*time.Second, cfg.App.ShutdownTimeout)
	assert.Equal(t, "https://hermes.example.com", cfg.Feed.HermesURL)
	assert.Equal(t, int64(600), cfg.Twap.WindowSecs)
	assert.Equal(t, int64(24), cfg.Settlement.RoundDurationHours)
	assert.Equal(t, ":9090", cfg.API.HTTP.Addr)
	assert.Equal(t, 128, cfg.Bus.Capacity)

	require.Len(t, cfg.Assets, 1)
	assert.Equal(t, "SOL", cfg.Assets[0].Symbol)

	// disabled integrations stay off when omitted
	assert.False(t, cfg.Security.JWT.Enabled)
	assert.False(t, cfg.Stores.ClickHouse.Enabled)
	assert.False(t, cfg.PubSub.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "app: [not: a: mapping"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ORACLE_BIND_ADDR", ":7777")
	t.Setenv("ORACLE_ROUND_HOURS", "6")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.API.HTTP.Addr)
	assert.Equal(t, int64(6), cfg.Settlement.RoundDurationHours)
}

func TestEnvRejectsBadRoundHours(t *testing.T) {
	t.Setenv("ORACLE_ROUND_HOURS", "daily")

	_, err := Load(writeConfig(t, sampleYAML))
	assert.Error(t, err)
}
