// cmd/backfill fetches hourly candle history from the candle provider and
// loads it into the SQLite store, resuming after the last stored candle.
//
// Usage:
//
//	go run ./cmd/backfill --from=2022-01-01T00:00:00Z --to=2022-12-30T00:00:00Z
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"time"

	"ema-traderv1/config"
	"ema-traderv1/internal/logger"
	sqlitestore "ema-traderv1/internal/store/sqlite"
	"ema-traderv1/pkg/candleapi"
)

// chunk keeps individual provider requests bounded.
const chunk = 30 * 24 * time.Hour

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Init("backfill", slog.LevelInfo)

	fromStr := flag.String("from", "", "Range start, RFC3339 (default: START_AT)")
	toStr := flag.String("to", "", "Range end, RFC3339 (default: END_AT)")
	resume := flag.Bool("resume", true, "Skip candles already stored")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[backfill] config: %v", err)
	}

	from := cfg.Strategy.StartAt.Add(-time.Duration(cfg.Strategy.BatchSize) * cfg.Strategy.CycleInterval)
	if *fromStr != "" {
		if from, err = time.Parse(time.RFC3339, *fromStr); err != nil {
			log.Fatalf("[backfill] bad --from: %v", err)
		}
	}
	to := cfg.Strategy.EndAt
	if *toStr != "" {
		if to, err = time.Parse(time.RFC3339, *toStr); err != nil {
			log.Fatalf("[backfill] bad --to: %v", err)
		}
	}

	writer, err := sqlitestore.NewWriter(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[backfill] sqlite open failed: %v", err)
	}
	defer writer.Close()

	if *resume {
		last, err := writer.GetLastTimestamp(cfg.Strategy.Pair)
		if err != nil {
			log.Fatalf("[backfill] last timestamp: %v", err)
		}
		if !last.IsZero() && last.After(from) {
			from = last.Add(cfg.Strategy.CycleInterval)
			log.Printf("[backfill] resuming after %s", last.Format(time.RFC3339))
		}
	}
	if !to.After(from) {
		log.Printf("[backfill] nothing to do: store is current through %s", to.Format(time.RFC3339))
		return
	}

	apiCfg := config.LoadCandleAPI()
	client := candleapi.New(candleapi.Config{
		BaseURL:    apiCfg.BaseURL,
		APIKey:     apiCfg.APIKey,
		ClientCode: apiCfg.ClientCode,
		Password:   apiCfg.Password,
		TOTPSecret: apiCfg.TOTPSecret,
	})

	ctx := context.Background()
	if err := client.Login(ctx); err != nil {
		log.Fatalf("[backfill] login: %v", err)
	}

	total := 0
	for cur := from; cur.Before(to); cur = cur.Add(chunk) {
		end := cur.Add(chunk)
		if end.After(to) {
			end = to
		}

		candles, err := client.GetCandles(ctx, cfg.Strategy.Pair, cur, end)
		if err != nil {
			log.Fatalf("[backfill] fetch %s..%s: %v", cur.Format(time.RFC3339), end.Format(time.RFC3339), err)
		}
		if len(candles) == 0 {
			continue
		}
		if err := writer.InsertBatch(candles); err != nil {
			log.Fatalf("[backfill] insert: %v", err)
		}
		total += len(candles)
		log.Printf("[backfill] %s..%s: %d candles", cur.Format(time.RFC3339), end.Format(time.RFC3339), len(candles))
	}

	log.Printf("[backfill] done: %d candles for %s in %s", total, cfg.Strategy.Pair, cfg.SQLitePath)
}
