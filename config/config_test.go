package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PAPER_MODE", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.Paper)
	assert.True(t, cfg.IsTestnet, "testnet is the default for safety")
	assert.Empty(t, cfg.Symbols, "no SYMBOLS means the screener builds the roster")
	assert.Equal(t, "USDT", cfg.QuoteAsset)
	assert.Equal(t, 10, cfg.ScreenerTop)
	assert.Equal(t, "5m", cfg.ShortInterval)
	assert.Equal(t, "1h", cfg.LongInterval)
	assert.Equal(t, 8, cfg.LowWindow)
	assert.Equal(t, 13, cfg.MidWindow)
	assert.Equal(t, 21, cfg.HighWindow)
	assert.Equal(t, 0.15, cfg.MinProfitPct)
	assert.Equal(t, 1.0, cfg.RiskMultiplier)
	assert.Equal(t, 0.5, cfg.ProfitSplitRatio)
	assert.Equal(t, 1, cfg.MaxOpenPositions)
	assert.Equal(t, 2*time.Second, cfg.ScanSleep)
	assert.Equal(t, 500*time.Millisecond, cfg.HoldSleep)
	assert.Equal(t, "11:30", cfg.DailyReset)
	assert.Equal(t, 500, cfg.CacheSize)
	assert.Equal(t, 2*time.Minute, cfg.SupervisorInterval)
	assert.Equal(t, "./data/pullbackbot.db", cfg.DBPath)
}

func TestLoadConfigSymbolsParsing(t *testing.T) {
	t.Setenv("PAPER_MODE", "true")
	t.Setenv("SYMBOLS", "ethusdt, btcusdt ,,SOLUSDT")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHUSDT", "BTCUSDT", "SOLUSDT"}, cfg.Symbols)
}

func TestLoadConfigLiveModeRequiresCredentials(t *testing.T) {
	t.Setenv("PAPER_MODE", "false")
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BINANCE_API_KEY")
	assert.Contains(t, err.Error(), "BINANCE_API_SECRET")
}

func TestLoadConfigPaperModeSkipsCredentials(t *testing.T) {
	t.Setenv("PAPER_MODE", "true")
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")

	_, err := LoadConfig()
	assert.NoError(t, err)
}

func TestLoadConfigCollectsAllErrors(t *testing.T) {
	t.Setenv("PAPER_MODE", "false")
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")
	t.Setenv("SCREENER_TOP", "-1")
	t.Setenv("DAILY_RESET_UTC", "25:99")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BINANCE_API_KEY")
	assert.Contains(t, err.Error(), "SCREENER_TOP")
	assert.Contains(t, err.Error(), "DAILY_RESET_UTC")
}

func TestLoadConfigRejectsUnorderedWindows(t *testing.T) {
	t.Setenv("PAPER_MODE", "true")
	t.Setenv("EMA_LOW_WINDOW", "21")
	t.Setenv("EMA_HIGH_WINDOW", "8")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy parameters")
}

func TestLoadConfigCacheMustCoverWindows(t *testing.T) {
	t.Setenv("PAPER_MODE", "true")
	t.Setenv("CACHE_SIZE", "21")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CACHE_SIZE")
}

func TestParamsPassthrough(t *testing.T) {
	cfg := &Config{
		LowWindow: 2, MidWindow: 3, HighWindow: 4,
		MinProfitPct: 0.25, RiskMultiplier: 1.5, ProfitSplitRatio: 0.4,
	}
	p := cfg.Params()
	assert.Equal(t, 2, p.LowWindow)
	assert.Equal(t, 3, p.MidWindow)
	assert.Equal(t, 4, p.HighWindow)
	assert.Equal(t, 0.25, p.MinProfitPct)
	assert.Equal(t, 1.5, p.RiskMultiplier)
	assert.Equal(t, 0.4, p.ProfitSplitRatio)
}
