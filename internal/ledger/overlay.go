package ledger

import (
	"fmt"
)

// Overlay stages transfers on top of a Reader without touching it. The staged
// batch is committed later through BalanceTracker.ApplyBatch; discarding the
// overlay leaves no trace.
type Overlay struct {
	base   Reader
	deltas map[AccountKey]int64
	batch  *Batch
}

func NewOverlay(base Reader, eventRef string, timestamp int64) *Overlay {
	return &Overlay{
		base:   base,
		deltas: make(map[AccountKey]int64),
		batch:  NewBatch(eventRef, timestamp),
	}
}

// Balance returns the base balance plus staged deltas.
func (o *Overlay) Balance(key AccountKey) int64 {
	return o.base.GetBalance(key) + o.deltas[key]
}

// Transfer stages amount from `from` to `to`. A user account that would go
// negative fails with ErrInsufficientBalance and stages nothing.
func (o *Overlay) Transfer(from, to AccountKey, amount int64, jt JournalType) error {
	if amount == 0 {
		return nil
	}
	if amount < 0 {
		from, to, amount = to, from, -amount
	}
	if from.IsUser() && o.Balance(from) < amount {
		return fmt.Errorf("%w: %s has %d, need %d",
			ErrInsufficientBalance, from.AccountPath(), o.Balance(from), amount)
	}

	o.deltas[from] -= amount
	o.deltas[to] += amount
	o.batch.Add(from, to, amount, jt)
	return nil
}

// Batch returns the staged journals.
func (o *Overlay) Batch() *Batch {
	return o.batch
}

// Empty reports whether nothing has been staged.
func (o *Overlay) Empty() bool {
	return len(o.batch.Journals) == 0
}

// Savepoint marks the staged state for a later Rollback.
type Savepoint int

func (o *Overlay) Savepoint() Savepoint {
	return Savepoint(len(o.batch.Journals))
}

// Rollback unstages every transfer made after sp.
func (o *Overlay) Rollback(sp Savepoint) {
	for i := len(o.batch.Journals) - 1; i >= int(sp); i-- {
		j := o.batch.Journals[i]
		o.deltas[j.DebitAccount] -= j.Amount
		o.deltas[j.CreditAccount] += j.Amount
	}
	o.batch.Journals = o.batch.Journals[:sp]
}
