// Package strategy implements the EMA crossover decision core: signal
// detection over the EMA series, the flat/long position state machine, and
// the per-cycle decision orchestrator.
package strategy

// SignalSet holds the crossover flags for one decision cycle plus the latest
// scalar values they were computed from (needed downstream for decisioning
// and visualization).
type SignalSet struct {
	// SlowCrossover: price three candles back was below the slow EMA one
	// step back, and the current price is above the current slow EMA.
	SlowCrossover bool

	// SlowCrossunder: price two candles back was above the slow EMA one
	// step back, and the current price is below the current slow EMA.
	SlowCrossunder bool

	// FastCrossunder: same two-back comparison against the fast EMA.
	FastCrossunder bool

	Price   float64 // latest close
	SlowEMA float64 // latest slow EMA value
	FastEMA float64 // latest fast EMA value
}

// DetectSignals computes the SignalSet from the close-price sequence and the
// two EMA series. It needs at least 3 closes and 2 points per EMA series;
// otherwise it returns ErrInsufficientData and no flags are asserted.
//
// The index offsets are deliberately asymmetric: the crossover confirmation
// compares the close from three candles back while both crossunders compare
// two candles back. The strategy was validated with exactly these offsets;
// do not "clean up" to a uniform two-point crossing test.
func DetectSignals(closes, slowEMA, fastEMA []float64) (SignalSet, error) {
	if len(closes) < 3 || len(slowEMA) < 2 || len(fastEMA) < 2 {
		return SignalSet{}, ErrInsufficientData
	}

	price := closes[len(closes)-1]
	slow := slowEMA[len(slowEMA)-1]
	fast := fastEMA[len(fastEMA)-1]

	prevSlow := slowEMA[len(slowEMA)-2]
	prevFast := fastEMA[len(fastEMA)-2]

	return SignalSet{
		SlowCrossover:  closes[len(closes)-3] < prevSlow && price > slow,
		SlowCrossunder: closes[len(closes)-2] > prevSlow && price < slow,
		FastCrossunder: closes[len(closes)-2] > prevFast && price < fast,

		Price:   price,
		SlowEMA: slow,
		FastEMA: fast,
	}, nil
}
