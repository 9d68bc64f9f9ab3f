// cmd/live runs the strategy against the live hourly kline feed: websocket
// feed -> ring buffer -> sqlite store + decision cycle per closed candle,
// with Prometheus metrics and a health endpoint.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ema-traderv1/config"
	"ema-traderv1/internal/engine"
	"ema-traderv1/internal/logger"
	"ema-traderv1/internal/marketdata/feed"
	"ema-traderv1/internal/metrics"
	"ema-traderv1/internal/model"
	"ema-traderv1/internal/portfolio"
	"ema-traderv1/internal/ringbuf"
	redisstore "ema-traderv1/internal/store/redis"
	sqlitestore "ema-traderv1/internal/store/sqlite"
	"ema-traderv1/internal/strategy"
)

const ringCapacity = 64

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Init("live", slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[live] config: %v", err)
	}

	met := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	writer, err := sqlitestore.NewWriter(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[live] sqlite writer failed: %v", err)
	}
	defer writer.Close()
	health.SetSQLiteOK(true)

	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[live] sqlite reader failed: %v", err)
	}
	defer reader.Close()

	journal, err := portfolio.NewJournal(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[live] journal open failed: %v", err)
	}
	defer journal.Close()

	book := portfolio.NewPaper(cfg.Strategy.Pair, cfg.Strategy.InitialDeposit).WithJournal(journal)

	var plotter model.Plotter
	if p, err := redisstore.NewPlotter(redisstore.PlotterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Pair:     cfg.Strategy.Pair,
	}, met); err != nil {
		// Plotting is optional in live mode; run without it.
		log.Printf("[live] redis plotter unavailable: %v", err)
	} else {
		defer p.Close()
		plotter = p
		health.SetRedisConnected(true)
	}

	decider := strategy.NewDecider(cfg.Strategy, reader, book, plotter, met)

	ring := ringbuf.New(ringCapacity)
	klineFeed := feed.New(feed.Config{
		URL:    cfg.FeedURL,
		Symbol: cfg.FeedSymbol,
		Pair:   cfg.Strategy.Pair,
	}, met)
	klineFeed.OnStateChange = health.SetFeedConnected

	live := engine.NewLive(cfg.Strategy, ring, writer, decider, book, met, health)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)
	go func() { errCh <- klineFeed.Run(ctx, ring) }()
	go func() { errCh <- live.Run(ctx) }()

	// Periodic store health probe for /healthz.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				health.SetSQLiteOK(writer.DB().PingContext(ctx) == nil)
			}
		}
	}()

	log.Printf("[live] %s started (feed=%s symbol=%s metrics=%s)",
		cfg.Strategy.Pair, cfg.FeedURL, cfg.FeedSymbol, cfg.MetricsAddr)

	select {
	case sig := <-sigCh:
		log.Printf("[live] received %v, shutting down", sig)
		cancel()
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Printf("[live] fatal: %v", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
}
