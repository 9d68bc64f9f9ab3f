package config

import (
	"testing"
	"time"
)

func validStrategy() Strategy {
	return Strategy{
		Pair:           "WETH-USDC",
		SlowWindow:     10,
		FastWindow:     3,
		BatchSize:      90,
		PositionSize:   0.70,
		StopLossPct:    0.993,
		CycleInterval:  time.Hour,
		StartAt:        time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		EndAt:          time.Date(2022, 12, 30, 0, 0, 0, 0, time.UTC),
		InitialDeposit: 10000,
	}
}

func TestStrategy_Validate_OK(t *testing.T) {
	if err := validStrategy().Validate(); err != nil {
		t.Fatalf("valid strategy rejected: %v", err)
	}
}

func TestStrategy_Validate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Strategy)
	}{
		{"empty pair", func(s *Strategy) { s.Pair = "" }},
		{"slow not above fast", func(s *Strategy) { s.SlowWindow = 3 }},
		{"zero fast window", func(s *Strategy) { s.FastWindow = 0 }},
		{"negative slow window", func(s *Strategy) { s.SlowWindow = -1 }},
		{"batch too small", func(s *Strategy) { s.BatchSize = 5 }},
		{"zero position size", func(s *Strategy) { s.PositionSize = 0 }},
		{"position size above 1", func(s *Strategy) { s.PositionSize = 1.5 }},
		{"stop loss at 1", func(s *Strategy) { s.StopLossPct = 1.0 }},
		{"stop loss at 0", func(s *Strategy) { s.StopLossPct = 0 }},
		{"zero cycle interval", func(s *Strategy) { s.CycleInterval = 0 }},
		{"end before start", func(s *Strategy) { s.EndAt = s.StartAt.Add(-time.Hour) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := validStrategy()
			tc.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}
	if cfg.Strategy.SlowWindow != 10 || cfg.Strategy.FastWindow != 3 {
		t.Errorf("unexpected default windows: slow=%d fast=%d", cfg.Strategy.SlowWindow, cfg.Strategy.FastWindow)
	}
	if cfg.Strategy.BatchSize != 90 {
		t.Errorf("expected default batch 90, got %d", cfg.Strategy.BatchSize)
	}
	if cfg.Strategy.CycleInterval != time.Hour {
		t.Errorf("expected hourly cycle, got %v", cfg.Strategy.CycleInterval)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SLOW_EMA_CANDLES", "21")
	t.Setenv("FAST_EMA_CANDLES", "9")
	t.Setenv("START_AT", "2023-06-01T00:00:00Z")
	t.Setenv("END_AT", "2023-07-01T00:00:00Z")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Strategy.SlowWindow != 21 || cfg.Strategy.FastWindow != 9 {
		t.Errorf("env override not applied: slow=%d fast=%d", cfg.Strategy.SlowWindow, cfg.Strategy.FastWindow)
	}
	if !cfg.Strategy.StartAt.Equal(time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start: %v", cfg.Strategy.StartAt)
	}
}

func TestLoad_BadTimestamp(t *testing.T) {
	t.Setenv("START_AT", "not-a-time")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed START_AT")
	}
}
