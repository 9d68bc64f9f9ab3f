// Package model holds the core data types shared across the strategy:
// candles, trade records, positions, and the port interfaces that decouple
// the decision core from its external collaborators.
package model

import (
	"encoding/json"
	"time"
)

// Candle represents one OHLCV candle for the traded pair.
// TS is the bucket start time (UTC, cycle-aligned).
type Candle struct {
	Pair   string    `json:"pair"`
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Closes extracts the close-price sequence from a chronological candle window.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}
