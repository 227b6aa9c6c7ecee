package query_test

import (
	"GasFutures/internal/core"
	"GasFutures/internal/event"
	"GasFutures/internal/persistence"
	"GasFutures/internal/query"
	"GasFutures/internal/testutil"
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	symbol = "GAS-MAR"
	t0     = int64(1_700_000_000_000_000)
	second = int64(1_000_000)
)

var (
	alice = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	bob   = uuid.MustParse("00000000-0000-0000-0000-0000000000b0")
)

func mustApply(t *testing.T, x *core.Exchange, cmd event.Command) {
	t.Helper()
	if _, err := x.Apply(cmd); err != nil {
		t.Fatalf("%s %s: %v", cmd.CommandType(), cmd.IdempotencyKey(), err)
	}
}

// setup persists three separate trades between alice (maker) and bob.
func setup(t *testing.T) (*sql.DB, *core.Exchange) {
	t.Helper()
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	if _, err := persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ch := make(chan core.CoreOutput, 256)
	x := core.NewExchange(core.Config{PersistChan: ch, Logger: zerolog.Nop()})

	mustApply(t, x, &event.ListMarket{
		RequestID:            uuid.New(),
		Symbol:               symbol,
		ContractClass:        "GAS",
		ContractSize:         1,
		TickSize:             1000,
		InitialMarginBps:     1000,
		MaintenanceMarginBps: 600,
		LiquidationFeeBps:    100,
		KeeperIncentiveBps:   2000,
		MaxDeviationBps:      1000,
		ExpiryTimestampUs:    t0 + 3600*second,
		TimestampUs:          t0,
	})
	mustApply(t, x, &event.DepositCollateral{DepositID: uuid.New(), Owner: alice, Amount: 10_000_000, TimestampUs: t0})
	mustApply(t, x, &event.DepositCollateral{DepositID: uuid.New(), Owner: bob, Amount: 10_000_000, TimestampUs: t0})
	mustApply(t, x, &event.IndexReading{Market: symbol, Price: 1_000_000, TimestampUs: t0 + second})

	ts := t0 + 2*second
	for i := 0; i < 3; i++ {
		mustApply(t, x, &event.SubmitOrder{
			OrderID: uuid.New(), Owner: alice, Market: symbol, Side: event.OrderSideBuy,
			Quantity: 5, LimitPrice: 1_000_000, TimeInForce: event.TimeInForceGTC, TimestampUs: ts,
		})
		mustApply(t, x, &event.SubmitOrder{
			OrderID: uuid.New(), Owner: bob, Market: symbol, Side: event.OrderSideSell,
			Quantity: 5, TimeInForce: event.TimeInForceIOC, TimestampUs: ts + 1,
		})
		ts += second
	}

	close(ch)
	w := persistence.NewPersistenceWorker(db, ch, 4, 10*time.Millisecond, nil, zerolog.Nop())
	if err := w.Run(ctx); err != nil {
		t.Fatalf("worker: %v", err)
	}
	return db, x
}

// ============================================================================
// Test: Fills
// ============================================================================

func TestFills_PagesNewestFirst(t *testing.T) {
	db, x := setup(t)
	qs := query.NewQueryService(db)
	ctx := context.Background()

	first, err := qs.Fills(ctx, symbol, nil, 2, 0)
	if err != nil {
		t.Fatalf("Fills: %v", err)
	}
	if first.AsOfLogSeq != x.LastLogSeq() {
		t.Errorf("as_of: got %d, want %d", first.AsOfLogSeq, x.LastLogSeq())
	}
	if len(first.Items) != 2 || first.NextCursor == 0 {
		t.Fatalf("first page: %d items, cursor %d", len(first.Items), first.NextCursor)
	}
	if first.Items[0].LogSeq <= first.Items[1].LogSeq {
		t.Errorf("not newest first: %d then %d", first.Items[0].LogSeq, first.Items[1].LogSeq)
	}

	next, err := qs.Fills(ctx, symbol, nil, 2, first.NextCursor)
	if err != nil {
		t.Fatalf("Fills page 2: %v", err)
	}
	if len(next.Items) != 1 || next.NextCursor != 0 {
		t.Fatalf("second page: %d items, cursor %d", len(next.Items), next.NextCursor)
	}
	f := next.Items[0]
	if f.Maker != alice || f.Taker != bob || f.Quantity != 5 || f.Price != 1_000_000 {
		t.Errorf("fill: %+v", f)
	}
}

func TestFills_FilterByOwner(t *testing.T) {
	db, _ := setup(t)
	qs := query.NewQueryService(db)
	ctx := context.Background()

	page, err := qs.Fills(ctx, symbol, &bob, 10, 0)
	if err != nil {
		t.Fatalf("Fills: %v", err)
	}
	if len(page.Items) != 3 {
		t.Errorf("bob fills: got %d, want 3", len(page.Items))
	}

	stranger := uuid.New()
	page, err = qs.Fills(ctx, symbol, &stranger, 10, 0)
	if err != nil {
		t.Fatalf("Fills: %v", err)
	}
	if len(page.Items) != 0 {
		t.Errorf("stranger fills: got %d, want 0", len(page.Items))
	}
}

// ============================================================================
// Test: Journals
// ============================================================================

func TestJournals_OnlyOwnersAccounts(t *testing.T) {
	db, _ := setup(t)
	qs := query.NewQueryService(db)

	page, err := qs.Journals(context.Background(), alice, 100, 0)
	if err != nil {
		t.Fatalf("Journals: %v", err)
	}
	if len(page.Items) == 0 {
		t.Fatal("no journals for alice")
	}
	prefix := "user:" + alice.String() + ":"
	for _, j := range page.Items {
		if !strings.HasPrefix(j.DebitAccount, prefix) && !strings.HasPrefix(j.CreditAccount, prefix) {
			t.Errorf("journal %s does not touch alice: %s -> %s", j.JournalID, j.DebitAccount, j.CreditAccount)
		}
	}
}

// ============================================================================
// Test: Integrity
// ============================================================================

func TestVerifyIntegrity_Healthy(t *testing.T) {
	db, x := setup(t)
	qs := query.NewQueryService(db)

	report, err := qs.VerifyIntegrity(context.Background(), x.Checkpoint())
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if !report.IsHealthy || !report.BalancesCheck {
		t.Errorf("report: %+v", report)
	}
	if report.CheckedEvents == 0 || report.CheckedLogSeq != x.LastLogSeq() {
		t.Errorf("checked %d events up to %d", report.CheckedEvents, report.CheckedLogSeq)
	}
}

func TestVerifyIntegrity_DetectsBrokenChain(t *testing.T) {
	db, x := setup(t)
	qs := query.NewQueryService(db)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, `
		UPDATE event_log.events SET prev_hash = decode(repeat('00', 32), 'hex')
		WHERE stream = $1 AND sequence = 2`, symbol); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	report, err := qs.VerifyIntegrity(ctx, x.Checkpoint())
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if report.IsHealthy || len(report.ChainBreaks) != 1 {
		t.Fatalf("report: %+v", report)
	}
	if b := report.ChainBreaks[0]; b.Stream != symbol || b.Sequence != 2 {
		t.Errorf("break: %+v", b)
	}
}
