// Package engine drives decision cycles: the backtest engine walks stored
// hourly candles between two timestamps, the live engine consumes closed
// candles from the websocket feed. Both tick the same orchestrator.
package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"ema-traderv1/config"
	"ema-traderv1/internal/metrics"
	"ema-traderv1/internal/model"
)

// Decider is the per-cycle decision entry point.
type Decider interface {
	DecideTrades(ctx context.Context, ts time.Time) ([]model.TradeRecord, error)
}

// Book is the paper portfolio surface the engines drive: the Portfolio port
// plus marking, stop simulation, and equity reads.
type Book interface {
	model.Portfolio
	MarkPrice(ts time.Time, price float64)
	CheckStopLoss(ctx context.Context, low float64) (*model.TradeRecord, error)
	Equity() float64
	RealizedPnL() float64
}

// RangeReader supplies the candle range the backtest clock walks.
type RangeReader interface {
	ReadRange(ctx context.Context, pair string, from, to time.Time) ([]model.Candle, error)
}

// Summary is the result of one backtest run.
type Summary struct {
	Pair           string
	Start, End     time.Time
	Cycles         int
	Trades         int
	StopLosses     int
	InitialDeposit float64
	FinalEquity    float64
	RealizedPnL    float64
}

// Backtest replays stored candles through the decision orchestrator.
type Backtest struct {
	cfg     config.Strategy
	candles RangeReader
	decider Decider
	book    Book
	met     *metrics.Metrics // optional
}

// NewBacktest wires a backtest run. met may be nil.
func NewBacktest(cfg config.Strategy, candles RangeReader, decider Decider, book Book) *Backtest {
	return &Backtest{cfg: cfg, candles: candles, decider: decider, book: book}
}

// WithMetrics attaches runtime metrics.
func (b *Backtest) WithMetrics(met *metrics.Metrics) *Backtest {
	b.met = met
	return b
}

// Run walks all candles in [StartAt, EndAt] and ticks one decision cycle per
// candle. Each cycle marks the book at the candle close and simulates the
// stop-loss against the candle low before deciding. The first error halts
// the run.
func (b *Backtest) Run(ctx context.Context) (*Summary, error) {
	candles, err := b.candles.ReadRange(ctx, b.cfg.Pair, b.cfg.StartAt, b.cfg.EndAt)
	if err != nil {
		return nil, fmt.Errorf("read range: %w", err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles for %s in [%s, %s]",
			b.cfg.Pair, b.cfg.StartAt.Format(time.RFC3339), b.cfg.EndAt.Format(time.RFC3339))
	}

	log.Printf("[backtest] %s: %d candles from %s to %s", b.cfg.Pair, len(candles),
		candles[0].TS.Format(time.RFC3339), candles[len(candles)-1].TS.Format(time.RFC3339))

	sum := &Summary{
		Pair:           b.cfg.Pair,
		Start:          candles[0].TS,
		End:            candles[len(candles)-1].TS,
		InitialDeposit: b.cfg.InitialDeposit,
	}

	for _, c := range candles {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		stops, trades, err := b.Cycle(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("cycle %s: %w", c.TS.Format(time.RFC3339), err)
		}
		sum.Cycles++
		sum.StopLosses += stops
		sum.Trades += stops + trades
	}

	sum.FinalEquity = b.book.Equity()
	sum.RealizedPnL = b.book.RealizedPnL()
	return sum, nil
}

// Cycle runs one candle through the book and the orchestrator: mark, stop
// check, decide. Shared by the live engine. Returns the number of stop exits
// (0 or 1) and decided trades.
func (b *Backtest) Cycle(ctx context.Context, c model.Candle) (stops, trades int, err error) {
	b.book.MarkPrice(c.TS, c.Close)

	stopRec, err := b.book.CheckStopLoss(ctx, c.Low)
	if err != nil {
		return 0, 0, fmt.Errorf("stop check: %w", err)
	}
	if stopRec != nil {
		stops = 1
		if b.met != nil {
			b.met.StopLossTotal.Inc()
			b.met.TradesTotal.WithLabelValues(string(stopRec.Side)).Inc()
		}
	}

	recs, err := b.decider.DecideTrades(ctx, c.TS)
	if err != nil {
		return stops, 0, err
	}

	if b.met != nil {
		b.met.Equity.Set(b.book.Equity())
		b.met.Cash.Set(b.book.AvailableCash())
		if b.book.HasOpenPosition() {
			b.met.PositionOpen.Set(1)
		} else {
			b.met.PositionOpen.Set(0)
		}
	}
	return stops, len(recs), nil
}

// Print writes the completion summary box.
func (s *Summary) Print(w io.Writer) {
	ret := 0.0
	if s.InitialDeposit > 0 {
		ret = (s.FinalEquity - s.InitialDeposit) / s.InitialDeposit * 100
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        BACKTEST COMPLETE             ║")
	fmt.Fprintln(w, "╠══════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Pair:          %-20s ║\n", s.Pair)
	fmt.Fprintf(w, "║  Cycles:        %-20d ║\n", s.Cycles)
	fmt.Fprintf(w, "║  Trades:        %-20d ║\n", s.Trades)
	fmt.Fprintf(w, "║  Stop exits:    %-20d ║\n", s.StopLosses)
	fmt.Fprintf(w, "║  Deposit:       %-20.2f ║\n", s.InitialDeposit)
	fmt.Fprintf(w, "║  Final equity:  %-20.2f ║\n", s.FinalEquity)
	fmt.Fprintf(w, "║  Realized PnL:  %-20.2f ║\n", s.RealizedPnL)
	fmt.Fprintf(w, "║  Return:        %-19.2f%% ║\n", ret)
	fmt.Fprintln(w, "╚══════════════════════════════════════╝")
}
