package portfolio

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ema-traderv1/internal/model"
)

// Journal persists executed trades to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) the trade journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id      TEXT NOT NULL,
		pair          TEXT NOT NULL,
		side          TEXT NOT NULL,
		qty           REAL NOT NULL,
		price         REAL NOT NULL,
		notional      REAL NOT NULL,
		stop_loss_pct REAL DEFAULT 0,
		reason        TEXT,
		executed_at   DATETIME NOT NULL,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_pair ON trades(pair);
	CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// Record persists one trade.
func (j *Journal) Record(rec model.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO trades (order_id, pair, side, qty, price, notional, stop_loss_pct, reason, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Pair,
		string(rec.Side),
		rec.Qty,
		rec.Price,
		rec.Notional,
		rec.StopLossPct,
		rec.Reason,
		rec.ExecutedAt.Format(time.RFC3339),
	)
	return err
}

// Trades returns the last N trades, newest first.
func (j *Journal) Trades(limit int) ([]model.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT order_id, pair, side, qty, price, notional, stop_loss_pct, reason, executed_at
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.TradeRecord
	for rows.Next() {
		var rec model.TradeRecord
		var side, executedAt string
		if err := rows.Scan(&rec.ID, &rec.Pair, &side, &rec.Qty, &rec.Price,
			&rec.Notional, &rec.StopLossPct, &rec.Reason, &executedAt); err != nil {
			continue
		}
		rec.Side = model.Side(side)
		if ts, err := time.Parse(time.RFC3339, executedAt); err == nil {
			rec.ExecutedAt = ts
		}
		trades = append(trades, rec)
	}
	return trades, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
