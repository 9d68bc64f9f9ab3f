package strategy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"ema-traderv1/config"
	"ema-traderv1/internal/indicator"
	"ema-traderv1/internal/logger"
	"ema-traderv1/internal/model"
)

var testStart = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig() config.Strategy {
	return config.Strategy{
		Pair:           "WETH-USDC",
		SlowWindow:     10,
		FastWindow:     3,
		BatchSize:      90,
		PositionSize:   0.70,
		StopLossPct:    0.993,
		CycleInterval:  time.Hour,
		StartAt:        testStart,
		InitialDeposit: 10000,
	}
}

// makeWindow builds hourly candles ending at end with the given closes.
func makeWindow(closes []float64, end time.Time) []model.Candle {
	candles := make([]model.Candle, len(closes))
	for i, c := range closes {
		candles[i] = model.Candle{
			Pair:   "WETH-USDC",
			TS:     end.Add(-time.Duration(len(closes)-1-i) * time.Hour),
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
			Volume: 1,
		}
	}
	return candles
}

type fakeSource struct {
	candles []model.Candle
	err     error
}

func (f *fakeSource) GetWindow(ctx context.Context, pair string, asOf time.Time, maxSamples int) ([]model.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Candle
	for _, c := range f.candles {
		if !c.TS.After(asOf) {
			out = append(out, c)
		}
	}
	if len(out) > maxSamples {
		out = out[len(out)-maxSamples:]
	}
	return out, nil
}

type fakePortfolio struct {
	cash         float64
	open         bool
	mutate       bool // flip open/flat when intents are applied
	closeRecords int  // records CloseAll returns (default 1)

	openCalls  int
	closeCalls int
	lastAmount float64
	lastStop   float64
}

func (f *fakePortfolio) AvailableCash() float64 { return f.cash }
func (f *fakePortfolio) HasOpenPosition() bool  { return f.open }

func (f *fakePortfolio) OpenLong(ctx context.Context, pair string, amount, stopLossPct float64) ([]model.TradeRecord, error) {
	f.openCalls++
	f.lastAmount = amount
	f.lastStop = stopLossPct
	if f.mutate {
		f.open = true
	}
	return []model.TradeRecord{{
		Pair:        pair,
		Side:        model.SideBuy,
		Notional:    amount,
		StopLossPct: stopLossPct,
	}}, nil
}

func (f *fakePortfolio) CloseAll(ctx context.Context) ([]model.TradeRecord, error) {
	f.closeCalls++
	if f.mutate {
		f.open = false
	}
	n := f.closeRecords
	if n == 0 {
		n = 1
	}
	records := make([]model.TradeRecord, n)
	for i := range records {
		records[i] = model.TradeRecord{Pair: "WETH-USDC", Side: model.SideSell}
	}
	return records, nil
}

type plotPoint struct {
	ts     time.Time
	series string
	value  float64
	color  string
}

type fakePlotter struct {
	points []plotPoint
}

func (f *fakePlotter) Plot(ctx context.Context, ts time.Time, series string, value float64, color string) {
	f.points = append(f.points, plotPoint{ts, series, value, color})
}

func constantCloses(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestDecider_WarmupReturnsNoTrades(t *testing.T) {
	// Fewer candles than the slow window: EMA undefined, cycle skipped.
	cfg := testConfig()
	pf := &fakePortfolio{cash: 10000}
	plot := &fakePlotter{}
	src := &fakeSource{candles: makeWindow(constantCloses(5, 100), testStart)}
	d := NewDecider(cfg, src, pf, plot, nil)

	trades, err := d.DecideTrades(context.Background(), testStart)
	if err != nil {
		t.Fatalf("warm-up must not be an error: %v", err)
	}
	if len(trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(trades))
	}
	if len(plot.points) != 0 {
		t.Error("undefined EMA must not be plotted")
	}
	if pf.openCalls+pf.closeCalls != 0 {
		t.Error("portfolio must not be touched during warm-up")
	}
}

func TestDecider_BootstrapOpensBelowSlowEMA(t *testing.T) {
	// Declining tail: price below the slow EMA at the configured start.
	closes := append(constantCloses(10, 100), 99, 98)
	cfg := testConfig()
	pf := &fakePortfolio{cash: 10000}
	src := &fakeSource{candles: makeWindow(closes, testStart)}
	d := NewDecider(cfg, src, pf, nil, nil)

	trades, err := d.DecideTrades(context.Background(), testStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 1 || trades[0].Side != model.SideBuy {
		t.Fatalf("expected one BUY, got %+v", trades)
	}
	if math.Abs(pf.lastAmount-7000) > 1e-9 {
		t.Errorf("expected size 7000 (0.70 × cash), got %v", pf.lastAmount)
	}
	if pf.lastStop != 0.993 {
		t.Errorf("expected stop 0.993, got %v", pf.lastStop)
	}
}

func TestDecider_NoBootstrapAfterStart(t *testing.T) {
	// Same window one cycle later: no crossunder, no bootstrap, no trade.
	closes := append(constantCloses(10, 100), 99, 98)
	later := testStart.Add(time.Hour)
	cfg := testConfig()
	pf := &fakePortfolio{cash: 10000}
	src := &fakeSource{candles: makeWindow(closes, later)}
	d := NewDecider(cfg, src, pf, nil, nil)

	trades, err := d.DecideTrades(context.Background(), later)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(trades))
	}
}

func TestDecider_OpensOnSlowCrossunder(t *testing.T) {
	// Price pops above then drops through the slow EMA.
	closes := append(constantCloses(10, 100), 101, 95)
	later := testStart.Add(48 * time.Hour)
	cfg := testConfig()
	pf := &fakePortfolio{cash: 10000}
	src := &fakeSource{candles: makeWindow(closes, later)}
	d := NewDecider(cfg, src, pf, nil, nil)

	trades, err := d.DecideTrades(context.Background(), later)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 1 || trades[0].Side != model.SideBuy {
		t.Fatalf("expected one BUY on crossunder, got %+v", trades)
	}
}

func TestDecider_ClosesOnSlowCrossover(t *testing.T) {
	// Dip below then rally through the slow EMA while LONG.
	closes := append(constantCloses(9, 100), 95, 96, 105)
	later := testStart.Add(48 * time.Hour)
	cfg := testConfig()
	pf := &fakePortfolio{cash: 3000, open: true}
	src := &fakeSource{candles: makeWindow(closes, later)}
	d := NewDecider(cfg, src, pf, nil, nil)

	trades, err := d.DecideTrades(context.Background(), later)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 1 || trades[0].Side != model.SideSell {
		t.Fatalf("expected exactly one SELL, got %+v", trades)
	}
	if pf.closeCalls != 1 {
		t.Errorf("expected one CloseAll call, got %d", pf.closeCalls)
	}
}

func TestDecider_CloseRecordCountInvariant(t *testing.T) {
	closes := append(constantCloses(9, 100), 95, 96, 105)
	later := testStart.Add(48 * time.Hour)
	cfg := testConfig()
	pf := &fakePortfolio{cash: 3000, open: true, closeRecords: 2}
	src := &fakeSource{candles: makeWindow(closes, later)}
	d := NewDecider(cfg, src, pf, nil, nil)

	_, err := d.DecideTrades(context.Background(), later)
	if !IsInvariantViolation(err) {
		t.Fatalf("expected invariant violation for 2 close records, got %v", err)
	}
}

func TestDecider_AtMostOneTradePerCycle(t *testing.T) {
	// Sweep a range of windows; no cycle may ever return more than one trade.
	base := append(constantCloses(10, 100), 101, 95, 94, 99, 103, 100, 97)
	cfg := testConfig()
	for i := 12; i <= len(base); i++ {
		for _, open := range []bool{false, true} {
			ts := testStart.Add(time.Duration(i) * time.Hour)
			pf := &fakePortfolio{cash: 10000, open: open}
			src := &fakeSource{candles: makeWindow(base[:i], ts)}
			d := NewDecider(cfg, src, pf, nil, nil)

			trades, err := d.DecideTrades(context.Background(), ts)
			if err != nil {
				t.Fatalf("window %d open=%v: %v", i, open, err)
			}
			if len(trades) > 1 {
				t.Fatalf("window %d open=%v: %d trades in one cycle", i, open, len(trades))
			}
		}
	}
}

func TestDecider_Idempotent(t *testing.T) {
	closes := append(constantCloses(10, 100), 101, 95)
	later := testStart.Add(48 * time.Hour)
	cfg := testConfig()
	pf := &fakePortfolio{cash: 10000} // mutate=false: state frozen between calls
	plot := &fakePlotter{}
	src := &fakeSource{candles: makeWindow(closes, later)}
	d := NewDecider(cfg, src, pf, plot, nil)

	first, err := d.DecideTrades(context.Background(), later)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := d.DecideTrades(context.Background(), later)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if fmt.Sprintf("%+v", first) != fmt.Sprintf("%+v", second) {
		t.Errorf("intents differ across identical cycles:\n%+v\n%+v", first, second)
	}
	if len(plot.points) != 4 {
		t.Fatalf("expected 2 plot points per cycle, got %d total", len(plot.points))
	}
	for i := 0; i < 2; i++ {
		if plot.points[i].value != plot.points[i+2].value {
			t.Errorf("plot %d differs across identical cycles", i)
		}
	}
}

func TestDecider_PlotsLatestEMAValues(t *testing.T) {
	closes := append(constantCloses(10, 100), 99, 98)
	cfg := testConfig()
	pf := &fakePortfolio{cash: 10000, mutate: true}
	plot := &fakePlotter{}
	src := &fakeSource{candles: makeWindow(closes, testStart)}
	d := NewDecider(cfg, src, pf, plot, nil)

	if _, err := d.DecideTrades(context.Background(), testStart); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(plot.points) != 2 {
		t.Fatalf("expected 2 plot points, got %d", len(plot.points))
	}
	slow := indicator.EMA(closes, cfg.SlowWindow)
	fast := indicator.EMA(closes, cfg.FastWindow)

	if plot.points[0].series != "Slow EMA" || plot.points[0].color != "green" {
		t.Errorf("unexpected slow plot tag: %+v", plot.points[0])
	}
	if plot.points[1].series != "Fast EMA" || plot.points[1].color != "red" {
		t.Errorf("unexpected fast plot tag: %+v", plot.points[1])
	}
	if plot.points[0].value != slow[len(slow)-1] || plot.points[1].value != fast[len(fast)-1] {
		t.Error("plotted values do not match the latest EMA scalars")
	}
}

func TestDecider_LogsCycleID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	cfg := testConfig()
	ts := testStart.Add(48 * time.Hour)
	src := &fakeSource{candles: makeWindow(append(constantCloses(10, 100), 101, 95), ts)}
	d := NewDecider(cfg, src, &fakePortfolio{cash: 10000}, nil, nil)

	if _, err := d.DecideTrades(context.Background(), ts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"cycle_id"`) {
		t.Fatalf("cycle log lines must carry a cycle_id attribute: %s", out)
	}
	if want := logger.GenerateCycleID(cfg.Pair, ts); !strings.Contains(out, want) {
		t.Errorf("expected cycle ID %q in log output: %s", want, out)
	}
}

func TestDecider_PropagatesSourceError(t *testing.T) {
	cfg := testConfig()
	wantErr := errors.New("candle source down")
	src := &fakeSource{err: wantErr}
	d := NewDecider(cfg, src, &fakePortfolio{cash: 10000}, nil, nil)

	_, err := d.DecideTrades(context.Background(), testStart)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}

func TestDecider_RoundTripOpenThenClose(t *testing.T) {
	// After an open is applied the next cycle reads LONG; after a close it
	// reads FLAT again.
	cfg := testConfig()
	pf := &fakePortfolio{cash: 10000, mutate: true}

	// Cycle 1: crossunder → open.
	openTS := testStart.Add(48 * time.Hour)
	src := &fakeSource{candles: makeWindow(append(constantCloses(10, 100), 101, 95), openTS)}
	d := NewDecider(cfg, src, pf, nil, nil)
	trades, err := d.DecideTrades(context.Background(), openTS)
	if err != nil || len(trades) != 1 {
		t.Fatalf("open cycle: trades=%v err=%v", trades, err)
	}
	if !pf.HasOpenPosition() {
		t.Fatal("position must read LONG after OPEN_LONG is applied")
	}

	// Cycle 2: crossover → close.
	closeTS := openTS.Add(time.Hour)
	src.candles = makeWindow(append(constantCloses(9, 100), 95, 96, 105), closeTS)
	trades, err = d.DecideTrades(context.Background(), closeTS)
	if err != nil || len(trades) != 1 {
		t.Fatalf("close cycle: trades=%v err=%v", trades, err)
	}
	if pf.HasOpenPosition() {
		t.Fatal("position must read FLAT after CLOSE_ALL is applied")
	}
}
