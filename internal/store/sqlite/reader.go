package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"ema-traderv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read access to the candle store. It implements the
// decision core's CandleSource port.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// GetWindow returns up to maxSamples candles for pair with ts <= asOf,
// chronologically ordered. May return fewer near the start of history.
func (r *Reader) GetWindow(ctx context.Context, pair string, asOf time.Time, maxSamples int) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT pair, ts, open, high, low, close, volume
		FROM (
			SELECT pair, ts, open, high, low, close, volume
			FROM candles_1h
			WHERE pair = ? AND ts <= ?
			ORDER BY ts DESC
			LIMIT ?
		)
		ORDER BY ts ASC
	`, pair, asOf.Unix(), maxSamples)
	if err != nil {
		return nil, fmt.Errorf("sqlite query window: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// ReadRange returns all candles for pair in [from, to], ordered by timestamp.
// The backtest engine walks this range as its clock.
func (r *Reader) ReadRange(ctx context.Context, pair string, from, to time.Time) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT pair, ts, open, high, low, close, volume
		FROM candles_1h
		WHERE pair = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, pair, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

func scanCandles(rows *sql.Rows) ([]model.Candle, error) {
	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		if err := rows.Scan(&c.Pair, &tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
