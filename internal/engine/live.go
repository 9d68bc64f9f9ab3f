package engine

import (
	"context"
	"log"
	"time"

	"ema-traderv1/config"
	"ema-traderv1/internal/metrics"
	"ema-traderv1/internal/model"
	"ema-traderv1/internal/ringbuf"
)

const drainInterval = time.Second

// CandleSink persists candles as they arrive from the feed.
type CandleSink interface {
	InsertBatch(candles []model.Candle) error
}

// Live consumes closed hourly candles from the feed's ring buffer, persists
// them, and ticks one decision cycle per candle.
type Live struct {
	cfg    config.Strategy
	ring   *ringbuf.Ring
	sink   CandleSink
	cycle  *Backtest // reuses the per-candle cycle logic
	met    *metrics.Metrics
	health *metrics.HealthStatus
}

// NewLive wires the live engine. met and health may be nil.
func NewLive(cfg config.Strategy, ring *ringbuf.Ring, sink CandleSink, decider Decider, book Book, met *metrics.Metrics, health *metrics.HealthStatus) *Live {
	bt := NewBacktest(cfg, nil, decider, book)
	if met != nil {
		bt.WithMetrics(met)
	}
	return &Live{cfg: cfg, ring: ring, sink: sink, cycle: bt, met: met, health: health}
}

// Run polls the ring buffer until ctx is cancelled. Each popped candle is
// written to the store first, so the trailing window the decider reads
// includes it.
func (l *Live) Run(ctx context.Context) error {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.drain(ctx); err != nil {
				return err
			}
		}
	}
}

func (l *Live) drain(ctx context.Context) error {
	for {
		c, ok := l.ring.Pop()
		if !ok {
			return nil
		}

		if err := l.sink.InsertBatch([]model.Candle{c}); err != nil {
			// The candle is lost for this window; the next backfill repairs it.
			log.Printf("[live] persist candle %s: %v", c.TS.Format(time.RFC3339), err)
			if l.health != nil {
				l.health.SetSQLiteOK(false)
			}
		} else if l.health != nil {
			l.health.SetSQLiteOK(true)
		}

		stops, trades, err := l.cycle.Cycle(ctx, c)
		if err != nil {
			return err
		}
		if stops+trades > 0 {
			log.Printf("[live] cycle %s: %d stop(s), %d trade(s)",
				c.TS.Format(time.RFC3339), stops, trades)
		}
		if l.health != nil {
			l.health.SetLastCycleAt(c.TS)
		}
	}
}
