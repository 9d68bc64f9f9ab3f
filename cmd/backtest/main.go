// cmd/backtest replays stored hourly candles through the decision core
// against a paper portfolio and prints a run summary.
//
// Usage:
//
//	go run ./cmd/backtest --db=data/candles.db --plot
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ema-traderv1/config"
	"ema-traderv1/internal/engine"
	"ema-traderv1/internal/logger"
	"ema-traderv1/internal/model"
	"ema-traderv1/internal/portfolio"
	redisstore "ema-traderv1/internal/store/redis"
	sqlitestore "ema-traderv1/internal/store/sqlite"
	"ema-traderv1/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Init("backtest", slog.LevelInfo)

	dbPath := flag.String("db", "", "Path to SQLite candle database (default: SQLITE_PATH)")
	journalPath := flag.String("journal", "", "Path to trade journal database (empty = no journal)")
	plot := flag.Bool("plot", false, "Plot EMA series to Redis during the run")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[backtest] config: %v", err)
	}
	if *dbPath == "" {
		*dbPath = cfg.SQLitePath
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer reader.Close()

	book := portfolio.NewPaper(cfg.Strategy.Pair, cfg.Strategy.InitialDeposit)
	if *journalPath != "" {
		journal, err := portfolio.NewJournal(*journalPath)
		if err != nil {
			log.Fatalf("[backtest] journal open failed: %v", err)
		}
		defer journal.Close()
		book.WithJournal(journal)
	}

	var plotter model.Plotter
	if *plot {
		p, err := redisstore.NewPlotter(redisstore.PlotterConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Pair:     cfg.Strategy.Pair,
		}, nil)
		if err != nil {
			log.Fatalf("[backtest] redis plotter failed: %v", err)
		}
		defer p.Close()
		plotter = p
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	decider := strategy.NewDecider(cfg.Strategy, reader, book, plotter, nil)
	bt := engine.NewBacktest(cfg.Strategy, reader, decider, book)

	sum, err := bt.Run(ctx)
	if err != nil {
		log.Fatalf("[backtest] run failed: %v", err)
	}
	sum.Print(os.Stdout)
}
