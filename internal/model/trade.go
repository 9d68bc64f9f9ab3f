package model

import "time"

// Side is the direction of an executed trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeRecord is one executed (or simulated) trade produced by applying a
// trade intent. The execution collaborator materializes intents into records;
// the decision core only collects and returns them.
type TradeRecord struct {
	ID          string    `json:"id"`
	Pair        string    `json:"pair"`
	Side        Side      `json:"side"`
	Qty         float64   `json:"qty"`
	Price       float64   `json:"price"`
	Notional    float64   `json:"notional"`
	StopLossPct float64   `json:"stop_loss_pct,omitempty"` // attached at entry, 0 on exits
	Reason      string    `json:"reason"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// Position is the single open long position tracked by the portfolio.
// At most one position exists at any time.
type Position struct {
	Pair        string    `json:"pair"`
	Qty         float64   `json:"qty"`
	AvgPrice    float64   `json:"avg_price"`
	StopLossPct float64   `json:"stop_loss_pct"`
	OpenedAt    time.Time `json:"opened_at"`
}

// StopPrice returns the price at which the attached stop-loss triggers.
func (p *Position) StopPrice() float64 {
	return p.AvgPrice * p.StopLossPct
}

// UnrealizedPnL computes unrealized profit/loss at the given mark price.
func (p *Position) UnrealizedPnL(mark float64) float64 {
	return (mark - p.AvgPrice) * p.Qty
}
