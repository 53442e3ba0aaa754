package config

import (
	"os"
	"path/filepath"
	"signal-trading-bot-go/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, []string{"1m", "5m", "15m"}, cfg.Strategy.Timeframes)
	assert.Equal(t, models.SchemeTrend, cfg.Strategy.RegimeScheme)
	assert.Equal(t, 0.3, cfg.Strategy.VolumeThreshold)
	assert.True(t, cfg.Strategy.Trend.AllowEntryInBearRegime)
	assert.Equal(t, 45.0, cfg.Strategy.Trend.Correction.RSIThreshold)
	assert.Equal(t, 1.20, cfg.Strategy.Trend.Correction.BandTolerance)
	assert.Equal(t, 0.008, cfg.Exits.QuickProfitPct)
	assert.Equal(t, 30*time.Minute, cfg.Exits.QuickProfitWindow)
	assert.Len(t, cfg.Exits.PartialTiers, 3)
	assert.Len(t, cfg.Exits.TrailingTiers, 3)
	assert.Equal(t, -0.03, cfg.Risk.MaxDailyLossPct)
	assert.Equal(t, 3, cfg.Engine.MaxConsecutiveErrors)
	assert.False(t, cfg.Engine.LiquidateOnShutdown)

	require.NoError(t, Validate(cfg, false))
}

func TestStreamURLFollowsTestnet(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "wss://stream.binance.com:9443", StreamURL(cfg))

	cfg.IsTestnet = true
	assert.Equal(t, "wss://testnet.binance.vision", StreamURL(cfg))
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"symbol": "ETHUSDT",
		"capital": 2500,
		"strategy": {
			"timeframes": ["5m", "15m"],
			"required_signals": 1,
			"regime_scheme": "range",
			"trend": {"allow_entry_in_bear_regime": false}
		},
		"exits": {
			"partial_tiers": [{"profit_pct": 0.01, "ratio": 1.0}],
			"quick_profit_window": "20m"
		},
		"engine": {"poll_interval": "30s", "liquidate_on_shutdown": true}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, 2500.0, cfg.Capital)
	assert.Equal(t, []string{"5m", "15m"}, cfg.Strategy.Timeframes)
	assert.Equal(t, 1, cfg.Strategy.RequiredSignals)
	assert.Equal(t, models.SchemeRange, cfg.Strategy.RegimeScheme)
	assert.False(t, cfg.Strategy.Trend.AllowEntryInBearRegime)
	// 未出现在文件中的键保持默认
	assert.Equal(t, 14, cfg.Strategy.RSIPeriod)
	assert.Equal(t, []models.PartialTier{{ProfitPct: 0.01, Ratio: 1.0}}, cfg.Exits.PartialTiers)
	assert.Equal(t, 20*time.Minute, cfg.Exits.QuickProfitWindow)
	assert.Equal(t, 30*time.Second, cfg.Engine.PollInterval)
	assert.True(t, cfg.Engine.LiquidateOnShutdown)
	assert.Len(t, cfg.Exits.TrailingTiers, 3)
}

func TestLoadConfigYAMLAndEnv(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_SECRET_KEY", "secret")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("RISK_MAX_DAILY_LOSS_PCT", "-0.05")

	path := writeConfig(t, "config.yaml", "symbol: SOLUSDT\ntelegram:\n  enabled: true\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "SOLUSDT", cfg.Symbol)
	assert.Equal(t, "key", cfg.Binance.APIKey)
	assert.Equal(t, "secret", cfg.Binance.SecretKey)
	assert.Equal(t, "token", cfg.Telegram.Token)
	assert.Equal(t, int64(42), cfg.Telegram.ChatID)
	assert.Equal(t, -0.05, cfg.Risk.MaxDailyLossPct)
	require.NoError(t, Validate(cfg, true))
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *models.Config)
		live   bool
	}{
		{"empty symbol", func(c *models.Config) { c.Symbol = "" }, false},
		{"zero poll interval", func(c *models.Config) { c.Engine.PollInterval = 0 }, false},
		{"required signals above timeframes", func(c *models.Config) { c.Strategy.RequiredSignals = 4 }, false},
		{"positive daily loss", func(c *models.Config) { c.Risk.MaxDailyLossPct = 0.03 }, false},
		{"wide stop above tight", func(c *models.Config) { c.Exits.StopLossWidePct = -0.001 }, false},
		{"unknown scheme", func(c *models.Config) { c.Strategy.RegimeScheme = "grid" }, false},
		{"unordered tiers", func(c *models.Config) {
			c.Exits.PartialTiers = []models.PartialTier{{ProfitPct: 0.02, Ratio: 0.5}, {ProfitPct: 0.01, Ratio: 1}}
		}, false},
		{"missing api keys in live mode", func(c *models.Config) {}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg, tt.live)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestApplyParameters(t *testing.T) {
	cfg := Default()
	exits := cfg.Exits
	exits.QuickProfitPct = 0.012
	exits.TrailingTiers = nil

	out := ApplyParameters(cfg, &models.ParameterSet{Symbol: cfg.Symbol, Exits: &exits})

	assert.Equal(t, 0.012, out.Exits.QuickProfitPct)
	assert.Len(t, out.Exits.TrailingTiers, 3)
	assert.Equal(t, 0.008, cfg.Exits.QuickProfitPct, "original config must not change")
	assert.Equal(t, cfg.Strategy.RSIPeriod, out.Strategy.RSIPeriod)

	same := ApplyParameters(cfg, nil)
	assert.Equal(t, cfg.Exits.QuickProfitPct, same.Exits.QuickProfitPct)
}
