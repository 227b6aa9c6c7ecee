package state

import (
	fpmath "GasFutures/internal/math"
	"fmt"
	"sort"
)

// MarginTier raises the initial margin rate once a position's notional
// reaches NotionalThreshold.
type MarginTier struct {
	NotionalThreshold int64
	InitialMarginBps  int64
}

// MarginTiers is ordered by strictly increasing threshold.
type MarginTiers []MarginTier

// Validate checks ordering and that every tier is at least the base rate.
func (t MarginTiers) Validate(baseBps int64) error {
	for i, tier := range t {
		if tier.NotionalThreshold <= 0 {
			return fmt.Errorf("%w: tier %d threshold must be > 0", ErrInvalidParameters, i)
		}
		if i > 0 && tier.NotionalThreshold <= t[i-1].NotionalThreshold {
			return fmt.Errorf("%w: tier thresholds must be strictly increasing", ErrInvalidParameters)
		}
		if tier.InitialMarginBps < baseBps || tier.InitialMarginBps >= fpmath.BpsScale {
			return fmt.Errorf("%w: tier %d rate %d outside [%d, %d)",
				ErrInvalidParameters, i, tier.InitialMarginBps, baseBps, fpmath.BpsScale)
		}
	}
	return nil
}

// RateFor returns the initial margin rate for a position of the given
// notional: the rate of the highest tier whose threshold is reached, or
// baseBps when none is. The rate applies to the full notional.
func (t MarginTiers) RateFor(notional int64, baseBps int64) int64 {
	// first tier whose threshold exceeds notional
	i := sort.Search(len(t), func(i int) bool {
		return t[i].NotionalThreshold > notional
	})
	if i == 0 {
		return baseBps
	}
	return t[i-1].InitialMarginBps
}
