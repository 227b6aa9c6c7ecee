package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// Reader exposes balances to staged transactions.
type Reader interface {
	GetBalance(key AccountKey) int64
}

// BalanceTracker is the collateral store backing posted margin. It is the only
// state shared across markets, so every access is serialized by its mutex and
// every batch is applied all-or-nothing.
type BalanceTracker struct {
	mu       sync.RWMutex
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyBatch validates and applies all journals in a batch atomically. A batch
// that would leave any user account negative is rejected as a whole.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	bt.mu.Lock()
	defer bt.mu.Unlock()

	deltas := batchDeltas(batch)
	for key, delta := range deltas {
		if key.IsUser() && bt.balances[key]+delta < 0 {
			return fmt.Errorf("%w: %s has %d, batch needs %d",
				ErrInsufficientBalance, key.AccountPath(), bt.balances[key], -delta)
		}
	}

	for key, delta := range deltas {
		bt.balances[key] += delta
		if bt.balances[key] == 0 {
			delete(bt.balances, key)
		}
	}

	return nil
}

func batchDeltas(batch *Batch) map[AccountKey]int64 {
	deltas := make(map[AccountKey]int64, len(batch.Journals)*2)
	for _, j := range batch.Journals {
		deltas[j.DebitAccount] += j.Amount
		deltas[j.CreditAccount] -= j.Amount
	}
	return deltas
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.balances[key]
}

// GetUserAvailableBalance returns free collateral.
func (bt *BalanceTracker) GetUserAvailableBalance(owner uuid.UUID) int64 {
	return bt.GetBalance(UserCollateral(owner))
}

// GetUserMarginBalance returns margin posted to one market.
func (bt *BalanceTracker) GetUserMarginBalance(owner uuid.UUID, market string) int64 {
	return bt.GetBalance(UserMargin(owner, market))
}

// GetUserTotalBalance returns free collateral plus margin posted across markets.
func (bt *BalanceTracker) GetUserTotalBalance(owner uuid.UUID) int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	var total int64
	for key, balance := range bt.balances {
		if key.Scope == AccountScopeUser && uuid.UUID(key.EntityID) == owner {
			total += balance
		}
	}
	return total
}

// ComputeGlobalBalance sums all account balances (0 for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	var total int64
	for _, balance := range bt.balances {
		total += balance
	}
	return total
}

// Snapshot returns a copy of all balances (for state hashing and queries)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
