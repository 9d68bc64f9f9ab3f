// Package redis is the indicator visualization sink. Each plotted point goes
// out as XADD to a capped stream, SET of the latest value, and PUBLISH for
// live dashboard subscribers, in one pipeline. All writes run through a
// circuit breaker: plotting is fire-and-forget and a down Redis must never
// fail a decision cycle.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"ema-traderv1/internal/metrics"
)

const (
	// ~1y of hourly points + buffer
	plotStreamMaxLen = 9000
	latestTTL        = 2 * time.Hour

	breakerMaxFailures  = 5
	breakerResetTimeout = 30 * time.Second
)

// PlotterConfig configures the Redis plot sink.
type PlotterConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	Pair     string
}

// Plotter writes indicator points to Redis.
type Plotter struct {
	client  *goredis.Client
	breaker *CircuitBreaker
	pair    string
	met     *metrics.Metrics // optional
}

// PlotPoint is the wire format of one plotted indicator value.
type PlotPoint struct {
	Pair   string  `json:"pair"`
	TS     int64   `json:"ts"`
	Series string  `json:"series"`
	Value  float64 `json:"value"`
	Color  string  `json:"color"`
}

// NewPlotter connects to Redis and pings the server. met may be nil.
func NewPlotter(cfg PlotterConfig, met *metrics.Metrics) (*Plotter, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	breaker := NewCircuitBreaker(breakerMaxFailures, breakerResetTimeout)
	breaker.OnStateChange = func(from, to State) {
		log.Printf("[plotter] circuit breaker %s -> %s", from, to)
	}

	log.Printf("[plotter] connected to %s", cfg.Addr)
	return &Plotter{client: client, breaker: breaker, pair: cfg.Pair, met: met}, nil
}

// Client returns the underlying Redis client for health checks.
func (p *Plotter) Client() *goredis.Client { return p.client }

// Plot writes one indicator point. Failures are logged and counted, never
// returned.
func (p *Plotter) Plot(ctx context.Context, ts time.Time, series string, value float64, color string) {
	point := PlotPoint{
		Pair:   p.pair,
		TS:     ts.Unix(),
		Series: series,
		Value:  value,
		Color:  color,
	}
	data, err := json.Marshal(point)
	if err != nil {
		log.Printf("[plotter] marshal %s: %v", series, err)
		return
	}
	jsonData := string(data)

	slug := seriesSlug(series)
	streamKey := "plot:" + slug + ":" + p.pair
	latestKey := "plot:" + slug + ":latest:" + p.pair
	pubsubCh := "pub:plot:" + slug + ":" + p.pair

	err = p.breaker.Execute(func() error {
		pipe := p.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: streamKey,
			MaxLen: plotStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, latestKey, jsonData, latestTTL)
		pipe.Publish(ctx, pubsubCh, jsonData)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		if err != ErrCircuitOpen {
			log.Printf("[plotter] pipeline error for %s: %v", series, err)
		}
		if p.met != nil {
			p.met.PlotDrops.Inc()
		}
	}
}

// seriesSlug turns "Slow EMA" into "slow_ema" for key construction.
func seriesSlug(series string) string {
	return strings.ReplaceAll(strings.ToLower(series), " ", "_")
}

// Close closes the Redis client.
func (p *Plotter) Close() error {
	return p.client.Close()
}
