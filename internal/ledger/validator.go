package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateGlobalBalance verifies the ledger is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	if total := v.tracker.ComputeGlobalBalance(); total != 0 {
		return fmt.Errorf("global balance is non-zero: %d", total)
	}
	return nil
}

// ValidateUsersNonNegative verifies no user account is negative
func (v *InvariantValidator) ValidateUsersNonNegative() error {
	for key, balance := range v.tracker.Snapshot() {
		if key.IsUser() && balance < 0 {
			return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
		}
	}
	return nil
}

// ValidateMarginMatches verifies a position's stored margin against the ledger.
func (v *InvariantValidator) ValidateMarginMatches(key AccountKey, marginPosted int64) error {
	if balance := v.tracker.GetBalance(key); balance != marginPosted {
		return fmt.Errorf("account %s holds %d, position records %d", key.AccountPath(), balance, marginPosted)
	}
	return nil
}
