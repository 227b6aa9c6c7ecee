package ledger_test

import (
	"GasFutures/internal/ledger"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func fund(t *testing.T, bt *ledger.BalanceTracker, owner uuid.UUID, amount int64) {
	t.Helper()
	batch := ledger.NewBatch("deposit:"+owner.String(), 1)
	batch.Add(ledger.ExternalDeposits(), ledger.UserCollateral(owner), amount, ledger.JournalTypeDeposit)
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	owner := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

	if got := ledger.UserCollateral(owner).AccountPath(); got != "user:550e8400-e29b-41d4-a716-446655440000:collateral" {
		t.Errorf("got %q", got)
	}
	if got := ledger.UserMargin(owner, "GAS-DEC").AccountPath(); got != "user:550e8400-e29b-41d4-a716-446655440000:margin:GAS-DEC" {
		t.Errorf("got %q", got)
	}
}

func TestAccountKey_SystemAndExternalPaths(t *testing.T) {
	tests := []struct {
		key  ledger.AccountKey
		want string
	}{
		{ledger.Treasury(), "system:treasury"},
		{ledger.Clearing("GAS-DEC"), "system:clearing:GAS-DEC"},
		{ledger.ExternalDeposits(), "external:deposits"},
		{ledger.ExternalWithdrawals(), "external:withdrawals"},
	}
	for _, tt := range tests {
		if got := tt.key.AccountPath(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}

func TestAccountKey_MarginKeysDifferByMarket(t *testing.T) {
	owner := uuid.New()
	if ledger.UserMargin(owner, "A") == ledger.UserMargin(owner, "B") {
		t.Error("margin accounts of different markets must not collide")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	if balance := bt.GetUserTotalBalance(uuid.New()); balance != 0 {
		t.Errorf("initial balance should be 0, got %d", balance)
	}
}

func TestBalanceTracker_ApplyBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	owner := uuid.New()
	fund(t, bt, owner, 1_000)

	batch := ledger.NewBatch("post", 2)
	batch.Add(ledger.UserCollateral(owner), ledger.UserMargin(owner, "M"), 400, ledger.JournalTypeMarginPost)
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := bt.GetUserAvailableBalance(owner); got != 600 {
		t.Errorf("available: got %d, want 600", got)
	}
	if got := bt.GetUserMarginBalance(owner, "M"); got != 400 {
		t.Errorf("margin: got %d, want 400", got)
	}
	if got := bt.GetUserTotalBalance(owner); got != 1_000 {
		t.Errorf("total: got %d, want 1000", got)
	}
}

func TestBalanceTracker_RejectsNegativeUserBalanceAtomically(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	owner := uuid.New()
	fund(t, bt, owner, 100)

	batch := ledger.NewBatch("overdraw", 2)
	batch.Add(ledger.UserCollateral(owner), ledger.Treasury(), 50, ledger.JournalTypeTradeFee)
	batch.Add(ledger.UserCollateral(owner), ledger.UserMargin(owner, "M"), 80, ledger.JournalTypeMarginPost)

	err := bt.ApplyBatch(batch)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := bt.GetUserAvailableBalance(owner); got != 100 {
		t.Errorf("no journal of a rejected batch may apply, available=%d", got)
	}
	if got := bt.GetBalance(ledger.Treasury()); got != 0 {
		t.Errorf("treasury should be untouched, got %d", got)
	}
}

func TestBalanceTracker_SystemAccountsMayGoNegative(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	owner := uuid.New()

	batch := ledger.NewBatch("pnl", 1)
	batch.Add(ledger.Clearing("M"), ledger.UserCollateral(owner), 25, ledger.JournalTypeTradePnL)
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := bt.GetBalance(ledger.Clearing("M")); got != -25 {
		t.Errorf("clearing: got %d, want -25", got)
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	a, b := uuid.New(), uuid.New()
	fund(t, bt, a, 500)
	fund(t, bt, b, 700)

	batch := ledger.NewBatch("mixed", 3)
	batch.Add(ledger.UserCollateral(a), ledger.Treasury(), 5, ledger.JournalTypeTradeFee)
	batch.Add(ledger.Clearing("M"), ledger.UserCollateral(b), 40, ledger.JournalTypeTradePnL)
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if total := bt.ComputeGlobalBalance(); total != 0 {
		t.Errorf("global balance should be 0, got %d", total)
	}
	if err := ledger.NewInvariantValidator(bt).ValidateGlobalBalance(); err != nil {
		t.Errorf("validator: %v", err)
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	owner := uuid.New()
	fund(t, bt, owner, 42)

	snap := bt.Snapshot()
	snap[ledger.UserCollateral(owner)] = 0

	if got := bt.GetUserAvailableBalance(owner); got != 42 {
		t.Errorf("snapshot must be a copy, tracker now reports %d", got)
	}
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	if err := ledger.NewBatch("empty", 1).Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchAdd_SkipsZeroAndReversesNegative(t *testing.T) {
	owner := uuid.New()
	batch := ledger.NewBatch("b", 1)
	batch.Add(ledger.UserCollateral(owner), ledger.Treasury(), 0, ledger.JournalTypeTradeFee)
	batch.Add(ledger.UserCollateral(owner), ledger.Treasury(), -7, ledger.JournalTypeMakerRebate)

	if len(batch.Journals) != 1 {
		t.Fatalf("expected 1 journal, got %d", len(batch.Journals))
	}
	j := batch.Journals[0]
	if j.Amount != 7 || j.DebitAccount != ledger.UserCollateral(owner) || j.CreditAccount != ledger.Treasury() {
		t.Errorf("negative amount should reverse direction, got %+v", j)
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	owner := uuid.New()
	batch := ledger.NewBatch("self", 1)
	batch.Add(ledger.UserCollateral(owner), ledger.UserCollateral(owner), 1, ledger.JournalTypeTradeFee)
	if err := batch.Validate(); err == nil {
		t.Error("self transfer should fail validation")
	}
}

func TestBatch_DeterministicIDs(t *testing.T) {
	owner := uuid.New()
	build := func() *ledger.Batch {
		b := ledger.NewBatch("cmd-1", 9)
		b.Add(ledger.UserCollateral(owner), ledger.Treasury(), 3, ledger.JournalTypeTradeFee)
		return b
	}
	a, b := build(), build()
	if a.BatchID != b.BatchID || a.Journals[0].JournalID != b.Journals[0].JournalID {
		t.Error("same event ref must produce identical batch and journal IDs")
	}
}

// ============================================================================
// Test: Overlay
// ============================================================================

func TestOverlay_StagesWithoutTouchingBase(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	owner := uuid.New()
	fund(t, bt, owner, 100)

	ov := ledger.NewOverlay(bt, "staged", 2)
	if err := ov.Transfer(ledger.UserCollateral(owner), ledger.UserMargin(owner, "M"), 60, ledger.JournalTypeMarginPost); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if got := ov.Balance(ledger.UserCollateral(owner)); got != 40 {
		t.Errorf("overlay view: got %d, want 40", got)
	}
	if got := bt.GetUserAvailableBalance(owner); got != 100 {
		t.Errorf("base must be untouched, got %d", got)
	}

	err := ov.Transfer(ledger.UserCollateral(owner), ledger.Treasury(), 41, ledger.JournalTypeTradeFee)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	if err := bt.ApplyBatch(ov.Batch()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := bt.GetUserMarginBalance(owner, "M"); got != 60 {
		t.Errorf("committed margin: got %d, want 60", got)
	}
}

func TestOverlay_RollbackToSavepoint(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	owner := uuid.New()
	fund(t, bt, owner, 100)

	ov := ledger.NewOverlay(bt, "cmd", 1)
	if err := ov.Transfer(ledger.UserCollateral(owner), ledger.Treasury(), 10, ledger.JournalTypeTradeFee); err != nil {
		t.Fatal(err)
	}
	sp := ov.Savepoint()
	if err := ov.Transfer(ledger.UserCollateral(owner), ledger.UserMargin(owner, "GAS"), 60, ledger.JournalTypeMarginPost); err != nil {
		t.Fatal(err)
	}
	ov.Rollback(sp)

	if got := ov.Balance(ledger.UserCollateral(owner)); got != 90 {
		t.Errorf("collateral after rollback: got %d, want 90", got)
	}
	if got := ov.Balance(ledger.UserMargin(owner, "GAS")); got != 0 {
		t.Errorf("margin after rollback: got %d, want 0", got)
	}
	if len(ov.Batch().Journals) != 1 {
		t.Errorf("journals: got %d, want 1", len(ov.Batch().Journals))
	}
}
