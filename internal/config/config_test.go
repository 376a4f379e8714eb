package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/afadxb/bot4.1/internal/errors"
)

func TestDefaultBaseline(t *testing.T) {
	cfg := Default()

	assert.True(t, cfg.DryRun())
	assert.False(t, cfg.AI.EnableGating)
	assert.False(t, cfg.Strategy.EnableSupertrend)
	assert.Equal(t, 5*time.Minute, cfg.Orchestrator.Cadence)
	assert.Equal(t, 20, cfg.Risk.DailyTradeCap)
	assert.Equal(t, "cap", cfg.Risk.EarningsBlackoutMode)
	assert.Equal(t, 60*time.Minute, cfg.Risk.BlackoutWindow)
	assert.Equal(t, "ema21", cfg.Execution.TrailMode)
	assert.Equal(t, 9, cfg.Strategy.EMAFast)
	assert.Equal(t, uint32(5), cfg.Feeds.Breaker.FailureThreshold)
	assert.Empty(t, cfg.Notifications.TelegramToken)
	assert.Contains(t, cfg.Notifications.Events, "drawdown_halt")
	require.NoError(t, cfg.Validate())
}

func TestLoadIsAdditiveOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	yaml := `
risk:
  daily_trade_cap: 2
strategy:
  enable_supertrend: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(LoadOptions{ConfigFile: path})
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Risk.DailyTradeCap)
	assert.True(t, cfg.Strategy.EnableSupertrend)
	// untouched keys in a partially specified block keep defaults
	assert.Equal(t, 1.0, cfg.Risk.RiskPerTradePct)
	assert.Equal(t, 21, cfg.Strategy.EMASlow)
	assert.Equal(t, "America/Toronto", cfg.Orchestrator.Timezone)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ENGINE_RISK_DAILY_TRADE_CAP", "7")
	t.Setenv("BYBIT_API_KEY", "key-from-env")
	t.Setenv("TELEGRAM_BOT_TOKEN", "bot-token")

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Risk.DailyTradeCap)
	assert.Equal(t, "key-from-env", cfg.Feeds.Bybit.APIKey)
	assert.Equal(t, "bot-token", cfg.Notifications.TelegramToken)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(LoadOptions{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	require.NoError(t, err)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"blackout mode", func(c *Config) { c.Risk.EarningsBlackoutMode = "scale" }},
		{"trail mode", func(c *Config) { c.Execution.TrailMode = "chandelier" }},
		{"cadence", func(c *Config) { c.Orchestrator.Cadence = 0 }},
		{"equity", func(c *Config) { c.Risk.AccountEquity = 0 }},
		{"flatten time", func(c *Config) { c.Orchestrator.FlattenTime = "25:99" }},
		{"timezone", func(c *Config) { c.Orchestrator.Timezone = "Mars/Olympus" }},
		{"targets", func(c *Config) { c.Execution.FinalTargetR = 0.5 }},
		{"source", func(c *Config) { c.Feeds.Source = "ibkr" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, engerrors.IsFatal(err))
		})
	}
}

func TestSetLive(t *testing.T) {
	cfg := Default()
	cfg.SetLive(true)
	assert.False(t, cfg.DryRun())
	cfg.SetLive(false)
	assert.True(t, cfg.DryRun())
}
