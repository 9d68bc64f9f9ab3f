// Package config loads application configuration from environment variables
// and builds the immutable strategy parameter set passed into the decision
// core at construction.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Strategy holds every tunable of the EMA crossover strategy. It is built
// once at startup and never mutated afterwards; the decision core reads it
// by value.
type Strategy struct {
	Pair string

	SlowWindow int // slow EMA length in candles
	FastWindow int // fast EMA length in candles
	BatchSize  int // trailing candle window fetched per cycle

	PositionSize float64 // fraction of available cash per entry, e.g. 0.70
	StopLossPct  float64 // stop as fraction of entry price, e.g. 0.993

	CycleInterval time.Duration // decision cadence, e.g. 1h
	StartAt       time.Time     // first decision cycle (bootstrap rule anchor)
	EndAt         time.Time     // last decision cycle (backtest only)

	InitialDeposit float64 // starting cash for the paper portfolio
}

// Validate checks the configuration invariants the decision core relies on.
func (s Strategy) Validate() error {
	if s.Pair == "" {
		return fmt.Errorf("config: trading pair must be set")
	}
	if s.FastWindow <= 0 || s.SlowWindow <= 0 {
		return fmt.Errorf("config: EMA windows must be positive (slow=%d fast=%d)", s.SlowWindow, s.FastWindow)
	}
	if s.SlowWindow <= s.FastWindow {
		return fmt.Errorf("config: slow window (%d) must exceed fast window (%d)", s.SlowWindow, s.FastWindow)
	}
	if s.BatchSize < s.SlowWindow+2 {
		return fmt.Errorf("config: batch size %d too small for slow window %d", s.BatchSize, s.SlowWindow)
	}
	if s.PositionSize <= 0 || s.PositionSize > 1 {
		return fmt.Errorf("config: position size %.2f must be in (0, 1]", s.PositionSize)
	}
	if s.StopLossPct <= 0 || s.StopLossPct >= 1 {
		return fmt.Errorf("config: stop loss pct %.4f must be in (0, 1)", s.StopLossPct)
	}
	if s.CycleInterval <= 0 {
		return fmt.Errorf("config: cycle interval must be positive")
	}
	if !s.EndAt.IsZero() && !s.EndAt.After(s.StartAt) {
		return fmt.Errorf("config: end %s must be after start %s", s.EndAt, s.StartAt)
	}
	return nil
}

// Config holds process-level configuration loaded from environment variables.
type Config struct {
	Strategy Strategy

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string

	// Live kline feed
	FeedURL    string
	FeedSymbol string
}

// Load reads configuration from environment variables with defaults matching
// the reference deployment (hourly WETH/USDC, EMA 10/3).
func Load() (*Config, error) {
	cfg := &Config{
		Strategy: Strategy{
			Pair:           getEnv("TRADING_PAIR", "WETH-USDC"),
			SlowWindow:     getEnvInt("SLOW_EMA_CANDLES", 10),
			FastWindow:     getEnvInt("FAST_EMA_CANDLES", 3),
			BatchSize:      getEnvInt("CANDLE_BATCH_SIZE", 90),
			PositionSize:   getEnvFloat("POSITION_SIZE", 0.70),
			StopLossPct:    getEnvFloat("STOP_LOSS_PCT", 0.993),
			CycleInterval:  time.Duration(getEnvInt("CYCLE_SECONDS", 3600)) * time.Second,
			InitialDeposit: getEnvFloat("INITIAL_DEPOSIT", 10000),
		},

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		FeedURL:    getEnv("FEED_URL", "wss://stream.binance.com:9443"),
		FeedSymbol: getEnv("FEED_SYMBOL", "ETHUSDC"),
	}

	var err error
	if cfg.Strategy.StartAt, err = parseEnvTime("START_AT", "2022-01-01T00:00:00Z"); err != nil {
		return nil, err
	}
	if cfg.Strategy.EndAt, err = parseEnvTime("END_AT", "2022-12-30T00:00:00Z"); err != nil {
		return nil, err
	}

	if err := cfg.Strategy.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CandleAPI holds credentials for the historical candle provider.
// All fields are required; LoadCandleAPI exits if any is missing.
type CandleAPI struct {
	BaseURL    string
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string
}

// LoadCandleAPI reads candle provider credentials from environment variables.
func LoadCandleAPI() CandleAPI {
	return CandleAPI{
		BaseURL:    getEnv("CANDLE_API_URL", "https://candles.tradingstrategy.ai"),
		APIKey:     mustEnv("CANDLE_API_KEY"),
		ClientCode: mustEnv("CANDLE_API_CLIENT"),
		Password:   mustEnv("CANDLE_API_PASSWORD"),
		TOTPSecret: mustEnv("CANDLE_API_TOTP_SECRET"),
	}
}

func parseEnvTime(key, fallback string) (time.Time, error) {
	v := getEnv(key, fallback)
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: %s: invalid timestamp %q: %w", key, v, err)
	}
	return t.UTC(), nil
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using default %g", key, v, fallback)
		return fallback
	}
	return f
}
