package persistence_test

import (
	"GasFutures/internal/core"
	"GasFutures/internal/event"
	"GasFutures/internal/persistence"
	"GasFutures/internal/testutil"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	symbol = "GAS-DEC"
	t0     = int64(1_700_000_000_000_000)
	second = int64(1_000_000)
)

var (
	alice = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	bob   = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
)

func newExchange() (*core.Exchange, chan core.CoreOutput) {
	ch := make(chan core.CoreOutput, 1024)
	return core.NewExchange(core.Config{PersistChan: ch, Logger: zerolog.Nop()}), ch
}

func mustApply(t *testing.T, x *core.Exchange, cmd event.Command) {
	t.Helper()
	if _, err := x.Apply(cmd); err != nil {
		t.Fatalf("%s %s: %v", cmd.CommandType(), cmd.IdempotencyKey(), err)
	}
}

func order(owner uuid.UUID, side event.OrderSide, qty, price, ts int64) *event.SubmitOrder {
	tif := event.TimeInForceGTC
	if price == 0 {
		tif = event.TimeInForceIOC
	}
	return &event.SubmitOrder{
		OrderID:     uuid.New(),
		Owner:       owner,
		Market:      symbol,
		Side:        side,
		Quantity:    qty,
		LimitPrice:  price,
		TimeInForce: tif,
		TimestampUs: ts,
	}
}

// runScenario lists a market, trades, settles and returns every output.
func runScenario(t *testing.T, x *core.Exchange, ch chan core.CoreOutput) []core.CoreOutput {
	t.Helper()
	expiry := t0 + 10*second
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
		ExpiryTimestampUs:    expiry,
		TimestampUs:          t0,
	})
	mustApply(t, x, &event.DepositCollateral{DepositID: uuid.New(), Owner: alice, Amount: 10_000_000, TimestampUs: t0})
	mustApply(t, x, &event.DepositCollateral{DepositID: uuid.New(), Owner: bob, Amount: 10_000_000, TimestampUs: t0})
	mustApply(t, x, &event.IndexReading{Market: symbol, Price: 1_000_000, TimestampUs: t0 + second})
	mustApply(t, x, order(alice, event.OrderSideBuy, 10, 1_000_000, t0+2*second))
	mustApply(t, x, order(bob, event.OrderSideSell, 10, 0, t0+3*second))
	mustApply(t, x, &event.IndexReading{Market: symbol, Price: 1_050_000, TimestampUs: expiry - second})
	mustApply(t, x, &event.Settle{RequestID: uuid.New(), Market: symbol, BatchSize: 0, TimestampUs: expiry + second})

	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// ============================================================================
// Test: Row building
// ============================================================================

func TestRows_AppendBuildsEveryTable(t *testing.T) {
	x, ch := newExchange()
	outputs := runScenario(t, x, ch)

	rows := &persistence.Rows{}
	for _, out := range outputs {
		if err := rows.Append(out); err != nil {
			t.Fatalf("append %d: %v", out.LogSeq, err)
		}
	}

	if rows.Len() != len(outputs) {
		t.Errorf("commands: got %d, want %d", rows.Len(), len(outputs))
	}
	if rows.LastLogSeq() != x.LastLogSeq() {
		t.Errorf("last log seq: got %d, want %d", rows.LastLogSeq(), x.LastLogSeq())
	}
	if len(rows.Fills) != 1 {
		t.Fatalf("fills: got %d, want 1", len(rows.Fills))
	}
	fill := rows.Fills[0]
	if fill.Maker != alice || fill.Taker != bob || fill.Quantity != 10 || fill.Price != 1_000_000 {
		t.Errorf("fill: %+v", fill)
	}
	if len(rows.Settlements) != 1 || rows.Settlements[0].SettlementPrice != 1_050_000 {
		t.Errorf("settlements: %+v", rows.Settlements)
	}
	if len(rows.Journals) == 0 {
		t.Fatal("no journal rows")
	}
	for _, j := range rows.Journals {
		if j.Amount <= 0 || j.DebitAccount == "" || j.CreditAccount == "" {
			t.Errorf("malformed journal row: %+v", j)
		}
	}

	seqs := make(map[int64]bool, len(rows.Commands))
	for _, c := range rows.Commands {
		seqs[c.LogSeq] = true
	}
	for _, e := range rows.Events {
		if !seqs[e.LogSeq] {
			t.Errorf("event %s/%d references unlogged command %d", e.Stream, e.Sequence, e.LogSeq)
		}
		if len(e.StateHash) != 32 || len(e.PrevHash) != 32 {
			t.Errorf("event %s/%d: bad hash lengths", e.Stream, e.Sequence)
		}
	}

	rows.Reset()
	if rows.Len() != 0 || len(rows.Events) != 0 || len(rows.Journals) != 0 {
		t.Error("reset must empty every table")
	}
}

// ============================================================================
// Test: Postgres round trip (integration)
// ============================================================================

func setupDB(t *testing.T) (*persistence.CommandLog, *persistence.SnapshotManager, func(chan core.CoreOutput)) {
	t.Helper()
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	if _, err := persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	persist := func(ch chan core.CoreOutput) {
		close(ch)
		w := persistence.NewPersistenceWorker(db, ch, 4, 10*time.Millisecond, nil, zerolog.Nop())
		if err := w.Run(ctx); err != nil {
			t.Fatalf("worker: %v", err)
		}
	}
	return persistence.NewCommandLog(db), persistence.NewSnapshotManager(db), persist
}

func TestRecovery_ReplaysPersistedLog(t *testing.T) {
	cl, sm, persist := setupDB(t)
	ctx := context.Background()

	x, ch := newExchange()
	runScenario(t, x, ch)
	persist(ch)

	latest, err := cl.LatestLogSeq(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != x.LastLogSeq() {
		t.Fatalf("latest log seq: got %d, want %d", latest, x.LastLogSeq())
	}

	if err := sm.Save(ctx, x.Checkpoint()); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	restored, _ := newExchange()
	rec := &persistence.Recovery{Log: cl, Snapshots: sm, PageSize: 3, WarmKeys: 100, Logger: zerolog.Nop()}
	stats, err := rec.Run(ctx, restored)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if stats.Checkpoint != latest {
		t.Errorf("verified checkpoint: got %d, want %d", stats.Checkpoint, latest)
	}
	if diff := restored.Checkpoint().Diff(x.Checkpoint()); len(diff) > 0 {
		t.Errorf("restored state differs: %v", diff)
	}
	if stats.WarmedKeys != int(latest) {
		t.Errorf("warmed keys: got %d, want %d", stats.WarmedKeys, latest)
	}
}

func TestRecovery_DetectsTamperedCheckpoint(t *testing.T) {
	cl, sm, persist := setupDB(t)
	ctx := context.Background()

	x, ch := newExchange()
	runScenario(t, x, ch)
	persist(ch)

	cp := x.Checkpoint()
	for path := range cp.Balances {
		cp.Balances[path]++
		break
	}
	if err := sm.Save(ctx, cp); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored, _ := newExchange()
	rec := &persistence.Recovery{Log: cl, Snapshots: sm, Logger: zerolog.Nop()}
	if _, err := rec.Run(ctx, restored); !errors.Is(err, persistence.ErrCheckpointMismatch) {
		t.Fatalf("expected ErrCheckpointMismatch, got %v", err)
	}
}

func TestSnapshotManager_LoadLatestRespectsBound(t *testing.T) {
	_, sm, _ := setupDB(t)
	ctx := context.Background()

	for _, seq := range []int64{5, 10} {
		if err := sm.Save(ctx, core.Checkpoint{LogSeq: seq, Balances: map[string]int64{}, Heads: map[string]core.StreamHead{}}); err != nil {
			t.Fatalf("save %d: %v", seq, err)
		}
	}

	cp, err := sm.LoadLatest(ctx, 7)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cp == nil || cp.LogSeq != 5 {
		t.Fatalf("got %+v, want log seq 5", cp)
	}
	if cp, _ := sm.LoadLatest(ctx, 4); cp != nil {
		t.Errorf("expected no checkpoint below 5, got %d", cp.LogSeq)
	}
}
