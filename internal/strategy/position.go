package strategy

// PositionState is the strategy's notion of its current exposure.
// The portfolio owns the persisted state; the state machine only maps
// (state, signals) to the next state and an optional intent.
type PositionState int

const (
	Flat PositionState = iota
	Long
)

func (s PositionState) String() string {
	switch s {
	case Flat:
		return "FLAT"
	case Long:
		return "LONG"
	default:
		return "UNKNOWN"
	}
}

// IntentType identifies a trade intent.
type IntentType int

const (
	IntentOpenLong IntentType = iota
	IntentCloseAll
)

// TradeIntent is the single action the state machine may emit per cycle.
// Amount and StopLossPct are set for opens only.
type TradeIntent struct {
	Type        IntentType
	Amount      float64 // cash to deploy
	StopLossPct float64 // attached at entry
	Reason      string
}

// StateMachine evaluates the flat/long transitions once per cycle.
// It is stateless across cycles: the current state is read from the
// portfolio and passed in, which keeps repeated evaluation of the same
// cycle idempotent.
type StateMachine struct {
	positionSize float64
	stopLossPct  float64
}

// NewStateMachine creates the state machine with the configured sizing
// fraction and stop-loss percentage.
func NewStateMachine(positionSize, stopLossPct float64) *StateMachine {
	return &StateMachine{
		positionSize: positionSize,
		stopLossPct:  stopLossPct,
	}
}

// Next returns the next position state and at most one trade intent.
//
// From FLAT we go long on a slow EMA crossunder, or on the bootstrap cycle
// when the price already sits below the slow EMA (starting mid-trend counts
// as a fresh crossunder). From LONG we close on a slow EMA crossover, or on
// a fast EMA crossunder while the fast EMA still sits above the slow one —
// once the fast average has fallen below the slow, the fast crossunder is
// noise and the exit is left to the stop-loss or the slow crossover.
func (m *StateMachine) Next(state PositionState, sig SignalSet, bootstrap bool, cash float64) (PositionState, *TradeIntent) {
	switch state {
	case Flat:
		if sig.SlowCrossunder {
			return Long, m.openIntent(cash, "slow EMA crossunder")
		}
		if bootstrap && sig.Price < sig.SlowEMA {
			return Long, m.openIntent(cash, "bootstrap: price below slow EMA at start")
		}

	case Long:
		if sig.SlowCrossover {
			return Flat, &TradeIntent{Type: IntentCloseAll, Reason: "slow EMA crossover"}
		}
		if sig.FastCrossunder && sig.FastEMA > sig.SlowEMA {
			return Flat, &TradeIntent{Type: IntentCloseAll, Reason: "fast EMA crossunder above slow"}
		}
	}

	return state, nil
}

func (m *StateMachine) openIntent(cash float64, reason string) *TradeIntent {
	return &TradeIntent{
		Type:        IntentOpenLong,
		Amount:      cash * m.positionSize,
		StopLossPct: m.stopLossPct,
		Reason:      reason,
	}
}
