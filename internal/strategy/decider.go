package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ema-traderv1/config"
	"ema-traderv1/internal/indicator"
	"ema-traderv1/internal/logger"
	"ema-traderv1/internal/metrics"
	"ema-traderv1/internal/model"
)

// Plot series names and colors forwarded to the visualization sink.
const (
	plotSlowEMA  = "Slow EMA"
	plotFastEMA  = "Fast EMA"
	colorSlowEMA = "green"
	colorFastEMA = "red"
)

// Decider is the per-cycle decision orchestrator. Invoked once per trading
// cycle by an external clock, it pulls the trailing candle window, computes
// the EMA pair, detects crossover signals, drives the position state
// machine, applies at most one intent against the portfolio, and forwards
// the indicator values to the plot sink.
//
// Single-threaded by contract: one invocation must complete before the next.
type Decider struct {
	cfg       config.Strategy
	candles   model.CandleSource
	portfolio model.Portfolio
	plot      model.Plotter // optional
	met       *metrics.Metrics
	sm        *StateMachine
}

// NewDecider wires the orchestrator. plot and met may be nil.
func NewDecider(cfg config.Strategy, candles model.CandleSource, portfolio model.Portfolio, plot model.Plotter, met *metrics.Metrics) *Decider {
	return &Decider{
		cfg:       cfg,
		candles:   candles,
		portfolio: portfolio,
		plot:      plot,
		met:       met,
		sm:        NewStateMachine(cfg.PositionSize, cfg.StopLossPct),
	}
}

// DecideTrades runs one decision cycle at ts and returns the resulting trade
// records (possibly empty). Collaborator errors propagate unchanged; an
// *InvariantViolationError aborts the cycle with state untouched.
func (d *Decider) DecideTrades(ctx context.Context, ts time.Time) ([]model.TradeRecord, error) {
	start := time.Now()
	if d.met != nil {
		defer func() {
			d.met.CyclesTotal.Inc()
			d.met.DecisionDur.Observe(time.Since(start).Seconds())
		}()
	}

	// Tag the cycle so every log line downstream can be correlated.
	ctx = logger.WithCycleID(ctx, logger.GenerateCycleID(d.cfg.Pair, ts))
	lg := slog.Default().With(logger.LogWithCycle(ctx)...)

	window, err := d.candles.GetWindow(ctx, d.cfg.Pair, ts, d.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("candle window: %w", err)
	}

	closes := model.Closes(window)
	slowEMA := indicator.EMA(closes, d.cfg.SlowWindow)
	fastEMA := indicator.EMA(closes, d.cfg.FastWindow)

	if len(slowEMA) < 2 || len(fastEMA) < 2 {
		// Not enough samples yet (nil = undefined). Normal during warm-up:
		// skip trading and plotting for this cycle.
		lg.Info("EMA undefined or too short, skipping cycle", slog.Int("candles", len(window)))
		if d.met != nil {
			d.met.SkippedCycles.Inc()
		}
		return nil, nil
	}

	sig, err := DetectSignals(closes, slowEMA, fastEMA)
	if err != nil {
		if errors.Is(err, ErrInsufficientData) {
			lg.Info("skipping cycle", slog.String("err", err.Error()))
			if d.met != nil {
				d.met.SkippedCycles.Inc()
			}
			return nil, nil
		}
		return nil, err
	}

	state := Flat
	if d.portfolio.HasOpenPosition() {
		state = Long
	}
	cash := d.portfolio.AvailableCash()
	bootstrap := ts.Equal(d.cfg.StartAt)

	next, intent := d.sm.Next(state, sig, bootstrap, cash)

	var trades []model.TradeRecord
	if intent != nil {
		trades, err = d.apply(ctx, state, intent)
		if err != nil {
			return nil, err
		}
		lg.Info("position transition",
			slog.String("from", state.String()),
			slog.String("to", next.String()),
			slog.String("reason", intent.Reason),
			slog.Int("trades", len(trades)))
	}

	if d.plot != nil {
		d.plot.Plot(ctx, ts, plotSlowEMA, sig.SlowEMA, colorSlowEMA)
		d.plot.Plot(ctx, ts, plotFastEMA, sig.FastEMA, colorFastEMA)
	}

	if d.met != nil {
		for _, tr := range trades {
			d.met.TradesTotal.WithLabelValues(string(tr.Side)).Inc()
		}
	}
	return trades, nil
}

// apply materializes a single intent through the portfolio, enforcing the
// single-position invariants before and after.
func (d *Decider) apply(ctx context.Context, state PositionState, intent *TradeIntent) ([]model.TradeRecord, error) {
	switch intent.Type {
	case IntentOpenLong:
		if state != Flat || d.portfolio.HasOpenPosition() {
			return nil, &InvariantViolationError{Reason: "OPEN_LONG while a position is already open"}
		}
		trades, err := d.portfolio.OpenLong(ctx, d.cfg.Pair, intent.Amount, intent.StopLossPct)
		if err != nil {
			return nil, fmt.Errorf("open long: %w", err)
		}
		return trades, nil

	case IntentCloseAll:
		if state != Long || !d.portfolio.HasOpenPosition() {
			return nil, &InvariantViolationError{Reason: "CLOSE_ALL while flat"}
		}
		trades, err := d.portfolio.CloseAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("close all: %w", err)
		}
		if len(trades) != 1 {
			return nil, &InvariantViolationError{
				Reason: fmt.Sprintf("CLOSE_ALL yielded %d trade records, want exactly 1", len(trades)),
			}
		}
		return trades, nil

	default:
		return nil, &InvariantViolationError{Reason: fmt.Sprintf("unknown intent type %d", intent.Type)}
	}
}
