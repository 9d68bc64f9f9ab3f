package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These interfaces decouple the decision core from concrete collaborators
// (SQLite candle store, paper portfolio, Redis plot sink). The core never
// retries or swallows collaborator errors; policy belongs to the caller.

// CandleSource supplies the trailing candle window for one decision cycle.
type CandleSource interface {
	// GetWindow returns up to maxSamples candles for pair with TS <= asOf,
	// chronologically ordered. May return fewer near the start of history.
	GetWindow(ctx context.Context, pair string, asOf time.Time, maxSamples int) ([]Candle, error)
}

// Portfolio owns cash and the single open position across cycles.
// The decision core reads it once per cycle and applies at most one intent.
type Portfolio interface {
	// AvailableCash returns free cash deployable into a new long.
	AvailableCash() float64

	// HasOpenPosition reports whether a position is currently open.
	HasOpenPosition() bool

	// OpenLong opens a 1x long worth amount of cash with an attached
	// stop-loss percentage, returning the resulting trade records.
	OpenLong(ctx context.Context, pair string, amount, stopLossPct float64) ([]TradeRecord, error)

	// CloseAll closes the open position in its entirety. For this
	// single-position strategy it must return exactly one record.
	CloseAll(ctx context.Context) ([]TradeRecord, error)
}

// Plotter receives indicator values for visualization. Fire-and-forget:
// implementations log failures instead of returning them, so a down sink
// never fails a decision cycle.
type Plotter interface {
	Plot(ctx context.Context, ts time.Time, series string, value float64, color string)
}
