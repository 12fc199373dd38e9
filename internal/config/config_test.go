package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30, cfg.Server.RateLimitPerMinute)
	assert.Equal(t, 5, cfg.Server.RateLimitBurst)
	assert.Equal(t, 100, cfg.Backtest.MinCandleCount)
	assert.Equal(t, 129600, cfg.Backtest.MaxCandleCount)
	assert.Equal(t, 2*time.Minute, cfg.Backtest.RunTimeout)
	assert.Equal(t, "backtest.completed", cfg.Kafka.Topic("backtestCompleted", ""))
	assert.Equal(t, "fallback", cfg.Kafka.Topic("unknown", "fallback"))
	assert.Equal(t, 200, cfg.Upbit.PageSize)
	assert.False(t, cfg.Database.Enabled)

	sim, err := cfg.Backtest.Simulator()
	require.NoError(t, err)
	assert.Equal(t, 0.9, sim.PositionSizeFraction)
	assert.Equal(t, 0.0005, sim.FeeRate)
	assert.Equal(t, time.Minute, sim.MinTradeInterval)
	assert.Equal(t, time.UTC, sim.Location)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
backtest:
  maxCandleCount: 5000
  timezone: Asia/Seoul
  feeRate: 0.001
auth:
  jwtSecret: secret
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5000, cfg.Backtest.MaxCandleCount)
	assert.Equal(t, 100, cfg.Backtest.MinCandleCount)
	assert.Equal(t, "secret", cfg.Auth.JWTSecret)

	sim, err := cfg.Backtest.Simulator()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Seoul", sim.Location.String())
	assert.Equal(t, 0.001, sim.FeeRate)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("inverted candle bounds", func(t *testing.T) {
		path := writeConfig(t, "backtest:\n  minCandleCount: 500\n  maxCandleCount: 200\n")
		_, err := LoadConfig(path)
		assert.ErrorContains(t, err, "minCandleCount")
	})

	t.Run("unknown timezone", func(t *testing.T) {
		_, err := BacktestConfig{Timezone: "Mars/Olympus"}.Simulator()
		assert.Error(t, err)
	})
}
