package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"pullbackbot/internal/adapters/logger"
	"pullbackbot/internal/strategy/pullback"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Symbol roster. Empty means the screener builds the roster at startup.
	Symbols       []string
	QuoteAsset    string
	ScreenerTop   int
	ScreenerMin   float64 // 24h change lower bound, percent
	ScreenerMax   float64 // 24h change upper bound, percent
	ShortInterval string
	LongInterval  string

	// Strategy Parameters
	LowWindow        int
	MidWindow        int
	HighWindow       int
	MinProfitPct     float64 // e.g. 0.15 means riskPct*100 must exceed 0.15
	RiskMultiplier   float64
	ProfitSplitRatio float64

	// Trading Parameters
	Paper            bool
	QuoteQuantity    float64 // quote spent per entry; <= 0 spends the free balance
	MaxOpenPositions int
	ScanSleep        time.Duration
	HoldSleep        time.Duration
	AcquireTimeout   time.Duration

	// Stream Settings
	DailyReset string // "HH:MM" UTC, empty disables the daily reconnect
	CacheSize  int

	// Supervision
	SupervisorInterval time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel
}

// Params assembles the strategy parameters shared by live and backtest runs.
func (c *Config) Params() pullback.Params {
	return pullback.Params{
		LowWindow:        c.LowWindow,
		MidWindow:        c.MidWindow,
		HighWindow:       c.HighWindow,
		MinProfitPct:     c.MinProfitPct,
		RiskMultiplier:   c.RiskMultiplier,
		ProfitSplitRatio: c.ProfitSplitRatio,
	}
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.Paper = getEnvAsBool("PAPER_MODE", true)

	// Live (non-paper) trading needs credentials; paper mode only reads
	// public endpoints.
	if !cfg.Paper {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set when PAPER_MODE=false")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set when PAPER_MODE=false")
		}
	}

	// Symbol roster
	if symbolsStr := getEnv("SYMBOLS", ""); symbolsStr != "" {
		for _, s := range strings.Split(symbolsStr, ",") {
			if s = strings.TrimSpace(strings.ToUpper(s)); s != "" {
				cfg.Symbols = append(cfg.Symbols, s)
			}
		}
	}
	cfg.QuoteAsset = getEnv("QUOTE_ASSET", "USDT")
	cfg.ScreenerTop = getEnvAsInt("SCREENER_TOP", 10)
	cfg.ScreenerMin = getEnvAsFloat("SCREENER_MIN_CHANGE_PCT", 2.0)
	cfg.ScreenerMax = getEnvAsFloat("SCREENER_MAX_CHANGE_PCT", 20.0)
	if cfg.ScreenerTop <= 0 {
		errs = append(errs, "SCREENER_TOP must be positive")
	}
	if cfg.ScreenerMin >= cfg.ScreenerMax {
		errs = append(errs, "SCREENER_MIN_CHANGE_PCT must be less than SCREENER_MAX_CHANGE_PCT")
	}

	cfg.ShortInterval = getEnv("SHORT_INTERVAL", "5m")
	cfg.LongInterval = getEnv("LONG_INTERVAL", "1h")

	// Strategy Parameters
	cfg.LowWindow = getEnvAsInt("EMA_LOW_WINDOW", 8)
	cfg.MidWindow = getEnvAsInt("EMA_MID_WINDOW", 13)
	cfg.HighWindow = getEnvAsInt("EMA_HIGH_WINDOW", 21)

	cfg.MinProfitPct, err = getEnvAsFloatRequired("MIN_PROFIT_PCT", 0.15)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_PROFIT_PCT: %v", err))
	}
	cfg.RiskMultiplier, err = getEnvAsFloatRequired("RISK_MULTIPLIER", 1.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RISK_MULTIPLIER: %v", err))
	}
	cfg.ProfitSplitRatio, err = getEnvAsFloatRequired("PROFIT_SPLIT_RATIO", 0.5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PROFIT_SPLIT_RATIO: %v", err))
	}
	if err := cfg.Params().Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid strategy parameters: %v", err))
	}

	// Trading Parameters
	cfg.QuoteQuantity, err = getEnvAsFloatRequired("QUOTE_QUANTITY", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid QUOTE_QUANTITY: %v", err))
	}
	cfg.MaxOpenPositions = getEnvAsInt("MAX_OPEN_POSITIONS", 1)
	if cfg.MaxOpenPositions <= 0 {
		errs = append(errs, "MAX_OPEN_POSITIONS must be positive")
	}

	scanSleepMs := getEnvAsInt("SCAN_SLEEP_MS", 2000)
	holdSleepMs := getEnvAsInt("HOLD_SLEEP_MS", 500)
	acquireTimeoutMs := getEnvAsInt("ACQUIRE_TIMEOUT_MS", 0)
	if scanSleepMs <= 0 || holdSleepMs <= 0 {
		errs = append(errs, "SCAN_SLEEP_MS and HOLD_SLEEP_MS must be positive")
	}
	cfg.ScanSleep = time.Duration(scanSleepMs) * time.Millisecond
	cfg.HoldSleep = time.Duration(holdSleepMs) * time.Millisecond
	cfg.AcquireTimeout = time.Duration(acquireTimeoutMs) * time.Millisecond

	// Stream Settings
	cfg.DailyReset = getEnv("DAILY_RESET_UTC", "11:30")
	if cfg.DailyReset != "" {
		if _, err := time.Parse("15:04", cfg.DailyReset); err != nil {
			errs = append(errs, fmt.Sprintf("invalid DAILY_RESET_UTC '%s': expected HH:MM", cfg.DailyReset))
		}
	}
	cfg.CacheSize = getEnvAsInt("CACHE_SIZE", 500)
	if cfg.CacheSize < cfg.HighWindow+1 {
		errs = append(errs, "CACHE_SIZE must hold at least EMA_HIGH_WINDOW+1 candles")
	}

	// Supervision
	supervisorSeconds := getEnvAsInt("SUPERVISOR_INTERVAL_SECONDS", 120)
	if supervisorSeconds <= 0 {
		errs = append(errs, "SUPERVISOR_INTERVAL_SECONDS must be positive")
	}
	cfg.SupervisorInterval = time.Duration(supervisorSeconds) * time.Second

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/pullbackbot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
