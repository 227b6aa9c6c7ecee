package state

import (
	fpmath "GasFutures/internal/math"
	"fmt"
)

// DeviationGate rejects index readings that jump too far from the last
// accepted price. MaxDeviationBps <= 0 disables the gate.
type DeviationGate struct {
	MaxDeviationBps int64
}

func (g DeviationGate) Enabled() bool {
	return g.MaxDeviationBps > 0
}

// Check returns the deviation of next from last in basis points, and
// ErrPriceDeviation when it exceeds the limit. A zero last price passes any
// reading.
func (g DeviationGate) Check(last, next int64) (int64, error) {
	if !g.Enabled() {
		return 0, nil
	}

	// a zero base has no relative deviation; the next reading re-anchors
	if last == 0 {
		return 0, nil
	}

	deviation, err := fpmath.ComputeDeviationBps(last, next)
	if err != nil {
		return 0, fmt.Errorf("compute deviation: %w", err)
	}
	if deviation > g.MaxDeviationBps {
		return deviation, fmt.Errorf("%w: %d bps > %d bps", ErrPriceDeviation, deviation, g.MaxDeviationBps)
	}
	return deviation, nil
}
