// Package portfolio simulates execution against a cash account.
//
// Paper is the only Portfolio implementation in this repo: it owns the cash
// balance and the single open long position, fills orders at the latest mark
// price, and simulates the attached stop-loss against candle lows.
package portfolio

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"ema-traderv1/internal/model"
)

// Paper is a simulated single-position portfolio. Fills happen at the last
// mark price with no slippage. Safe for concurrent use.
type Paper struct {
	mu   sync.RWMutex
	pair string

	cash     float64
	pos      *model.Position
	mark     float64
	markTS   time.Time
	realized float64

	orderSeq int64
	trades   []model.TradeRecord

	journal *Journal // optional
}

// NewPaper creates a paper portfolio holding the initial deposit in cash.
func NewPaper(pair string, initialDeposit float64) *Paper {
	return &Paper{
		pair:   pair,
		cash:   initialDeposit,
		trades: make([]model.TradeRecord, 0, 64),
	}
}

// WithJournal attaches a trade journal. Every fill is persisted; a journal
// write failure fails the fill.
func (p *Paper) WithJournal(j *Journal) *Paper {
	p.journal = j
	return p
}

// MarkPrice updates the simulated market price. The engine calls this once
// per cycle, before stop checks and decisions, so fills carry the cycle's
// timestamp rather than wall-clock time.
func (p *Paper) MarkPrice(ts time.Time, price float64) {
	p.mu.Lock()
	p.mark = price
	p.markTS = ts
	p.mu.Unlock()
}

func (p *Paper) AvailableCash() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

func (p *Paper) HasOpenPosition() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pos != nil
}

// OpenLong buys amount worth of the asset at the current mark price and
// attaches the stop-loss percentage to the resulting position.
func (p *Paper) OpenLong(ctx context.Context, pair string, amount, stopLossPct float64) ([]model.TradeRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pair == "" {
		pair = p.pair
	}
	if p.pos != nil {
		return nil, fmt.Errorf("open long: position already open")
	}
	if p.mark <= 0 {
		return nil, fmt.Errorf("open long: no mark price")
	}
	if amount <= 0 || amount > p.cash {
		return nil, fmt.Errorf("open long: amount %.2f exceeds cash %.2f", amount, p.cash)
	}

	qty := amount / p.mark
	p.cash -= amount
	p.pos = &model.Position{
		Pair:        pair,
		Qty:         qty,
		AvgPrice:    p.mark,
		StopLossPct: stopLossPct,
		OpenedAt:    p.markTS,
	}

	rec := p.record(pair, model.SideBuy, qty, p.mark, amount, stopLossPct, "OPEN_LONG")
	if err := p.persist(rec); err != nil {
		// Restore state so the caller sees the book untouched.
		p.pos = nil
		p.cash += amount
		p.trades = p.trades[:len(p.trades)-1]
		return nil, err
	}
	log.Printf("[paper] BUY %s qty=%.6f price=%.4f notional=%.2f stop=%.4f",
		pair, qty, p.mark, amount, p.pos.StopPrice())
	return []model.TradeRecord{rec}, nil
}

// CloseAll sells the entire open position at the current mark price.
// Returns exactly one trade record.
func (p *Paper) CloseAll(ctx context.Context) ([]model.TradeRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pos == nil {
		return nil, fmt.Errorf("close all: no open position")
	}
	if p.mark <= 0 {
		return nil, fmt.Errorf("close all: no mark price")
	}

	rec, err := p.closeAt(p.mark, "CLOSE_ALL")
	if err != nil {
		return nil, err
	}
	return []model.TradeRecord{rec}, nil
}

// CheckStopLoss closes the position at the stop price when the candle low
// trades through it. Returns the exit record, or nil when the stop did not
// trigger. The engine calls this before the decision each cycle.
func (p *Paper) CheckStopLoss(ctx context.Context, low float64) (*model.TradeRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pos == nil {
		return nil, nil
	}
	stop := p.pos.StopPrice()
	if low > stop {
		return nil, nil
	}

	rec, err := p.closeAt(stop, "STOP_LOSS")
	if err != nil {
		return nil, err
	}
	log.Printf("[paper] stop-loss hit: low=%.4f stop=%.4f", low, stop)
	return &rec, nil
}

// closeAt liquidates the position at price. Caller holds the lock.
func (p *Paper) closeAt(price float64, reason string) (model.TradeRecord, error) {
	pos := p.pos
	proceeds := pos.Qty * price
	p.realized += proceeds - pos.Qty*pos.AvgPrice
	p.cash += proceeds
	p.pos = nil

	rec := p.record(pos.Pair, model.SideSell, pos.Qty, price, proceeds, 0, reason)
	if err := p.persist(rec); err != nil {
		// Restore state so the caller sees the position untouched.
		p.pos = pos
		p.cash -= proceeds
		p.realized -= proceeds - pos.Qty*pos.AvgPrice
		p.trades = p.trades[:len(p.trades)-1]
		return model.TradeRecord{}, err
	}
	log.Printf("[paper] SELL %s qty=%.6f price=%.4f proceeds=%.2f reason=%s",
		pos.Pair, pos.Qty, price, proceeds, reason)
	return rec, nil
}

// record builds and appends a trade record. Caller holds the lock.
func (p *Paper) record(pair string, side model.Side, qty, price, notional, stopLossPct float64, reason string) model.TradeRecord {
	p.orderSeq++
	rec := model.TradeRecord{
		ID:          fmt.Sprintf("PAPER-%d", p.orderSeq),
		Pair:        pair,
		Side:        side,
		Qty:         qty,
		Price:       price,
		Notional:    notional,
		StopLossPct: stopLossPct,
		Reason:      reason,
		ExecutedAt:  p.markTS,
	}
	p.trades = append(p.trades, rec)
	return rec
}

func (p *Paper) persist(rec model.TradeRecord) error {
	if p.journal == nil {
		return nil
	}
	if err := p.journal.Record(rec); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

// Equity returns cash plus the open position valued at the last mark price.
func (p *Paper) Equity() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pos == nil {
		return p.cash
	}
	return p.cash + p.pos.Qty*p.mark
}

// RealizedPnL returns cumulative realized profit/loss from closed positions.
func (p *Paper) RealizedPnL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realized
}

// Position returns a copy of the open position, or nil when flat.
func (p *Paper) Position() *model.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pos == nil {
		return nil
	}
	cp := *p.pos
	return &cp
}

// Trades returns a snapshot of all executed trades.
func (p *Paper) Trades() []model.TradeRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]model.TradeRecord, len(p.trades))
	copy(cp, p.trades)
	return cp
}
