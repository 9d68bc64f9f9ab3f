package strategy

import (
	"errors"
	"fmt"
)

// ErrInsufficientData marks a cycle that cannot be decided because the EMA
// series are undefined or too short. This is a normal warm-up condition, not
// a fault: the caller skips trading for the cycle and carries on.
var ErrInsufficientData = errors.New("insufficient data for signal detection")

// InvariantViolationError is a hard failure: the cycle produced a trade
// application inconsistent with the single-position state machine. It
// indicates a logic defect or external state corruption and must never be
// silently swallowed.
type InvariantViolationError struct {
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("position invariant violated: %s", e.Reason)
}

// IsInvariantViolation reports whether err is (or wraps) an invariant violation.
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolationError
	return errors.As(err, &iv)
}
