package state_test

import (
	"GasFutures/internal/event"
	"GasFutures/internal/ledger"
	"GasFutures/internal/state"
	"errors"
	"testing"

	"github.com/google/uuid"
)

const minute = 60 * second

// ============================================================================
// Test: Settlement price derivation
// ============================================================================

func TestDeriveSettlementPrice_LastValidPrint(t *testing.T) {
	p := testParams()
	m := mustMarket(t, p, 0)
	expiry := p.ExpiryTimestamp

	mustAccept(t, m, expiry-3*minute, 1_000_000)
	mustAccept(t, m, expiry-1, 1_020_000)
	mustAccept(t, m, expiry, 1_090_000) // at expiry, not before it
	mustAccept(t, m, expiry+minute, 1_050_000)

	rec, err := state.DeriveSettlementPrice(m, expiry+2*minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Method != state.SettlementMethodLastValidPrint {
		t.Errorf("method: got %s, want LastValidPrint", rec.Method)
	}
	if rec.SettlementPrice != 1_020_000 {
		t.Errorf("price: got %d, want 1020000", rec.SettlementPrice)
	}
}

func TestDeriveSettlementPrice_TWAPFallbackWhenLastPrintTooOld(t *testing.T) {
	p := testParams()
	m := mustMarket(t, p, 0)
	expiry := p.ExpiryTimestamp

	mustAccept(t, m, expiry-10*minute, 1_000_000)
	mustAccept(t, m, expiry-6*minute, 1_030_000)
	for i := int64(4); i >= 1; i-- {
		if _, err := m.AcceptReading(expiry-i*minute, 5_000_000); !errors.Is(err, state.ErrPriceDeviation) {
			t.Fatalf("expected rejection, got %v", err)
		}
	}

	// 1_030_000 holds across the whole window ending at expiry
	rec, err := state.DeriveSettlementPrice(m, expiry+2*minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Method != state.SettlementMethodTWAP {
		t.Errorf("method: got %s, want TWAP", rec.Method)
	}
	if rec.SettlementPrice != 1_030_000 {
		t.Errorf("price: got %d, want 1030000", rec.SettlementPrice)
	}
	if rec.SampleCount != 1 {
		t.Errorf("sample count: got %d, want 1", rec.SampleCount)
	}
}

func TestDeriveSettlementPrice_IgnoresPostExpiryReadings(t *testing.T) {
	p := testParams()
	m := mustMarket(t, p, 0)
	expiry := p.ExpiryTimestamp

	mustAccept(t, m, expiry-10*minute, 1_000_000)
	mustAccept(t, m, expiry+1*minute, 1_040_000)
	mustAccept(t, m, expiry+2*minute, 1_080_000)

	var prices []int64
	for _, now := range []int64{expiry + 3*minute, expiry + 10*minute, expiry + 60*minute} {
		rec, err := state.DeriveSettlementPrice(m, now)
		if err != nil {
			t.Fatalf("now=%d: unexpected error: %v", now, err)
		}
		if rec.Method != state.SettlementMethodLastValidPrint {
			t.Errorf("now=%d: method: got %s, want LastValidPrint", now, rec.Method)
		}
		prices = append(prices, rec.SettlementPrice)
	}
	for i, price := range prices {
		if price != 1_000_000 {
			t.Errorf("call %d: price: got %d, want 1000000", i, price)
		}
	}
}

func TestDeriveSettlementPrice_GateRejectedRecentReadings(t *testing.T) {
	p := testParams()
	m := mustMarket(t, p, 0)
	expiry := p.ExpiryTimestamp

	mustAccept(t, m, expiry-20*minute, 1_000_000)
	for i := int64(4); i >= 1; i-- {
		if _, err := m.AcceptReading(expiry-i*minute, 5_000_000); !errors.Is(err, state.ErrPriceDeviation) {
			t.Fatalf("expected rejection, got %v", err)
		}
	}
	mustAccept(t, m, expiry+minute, 1_010_000)

	rec, err := state.DeriveSettlementPrice(m, expiry+2*minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Method != state.SettlementMethodLastValidPrint || rec.SettlementPrice != 1_000_000 {
		t.Errorf("got %s %d, want LastValidPrint 1000000", rec.Method, rec.SettlementPrice)
	}
}

func TestDeriveSettlementPrice_StalePrintWithOnlyRejectedReadings(t *testing.T) {
	p := testParams()
	m := mustMarket(t, p, 0)
	expiry := p.ExpiryTimestamp

	mustAccept(t, m, expiry-7*minute, 1_000_000)
	for i := int64(4); i >= 1; i-- {
		if _, err := m.AcceptReading(expiry-i*minute, 5_000_000); !errors.Is(err, state.ErrPriceDeviation) {
			t.Fatalf("expected rejection, got %v", err)
		}
	}
	if _, err := m.AcceptReading(expiry+minute, 5_000_000); !errors.Is(err, state.ErrPriceDeviation) {
		t.Fatalf("expected rejection after expiry, got %v", err)
	}

	rec, err := state.DeriveSettlementPrice(m, expiry+2*minute)
	if err != nil {
		t.Fatalf("settlement must not fail with a pre-expiry print: %v", err)
	}
	if rec.SettlementPrice != 1_000_000 {
		t.Errorf("price: got %d, want 1000000", rec.SettlementPrice)
	}
}

func TestDeriveSettlementPrice_EmptyBuffer(t *testing.T) {
	p := testParams()
	m := mustMarket(t, p, p.ExpiryTimestamp)

	_, err := state.DeriveSettlementPrice(m, p.ExpiryTimestamp)
	if !errors.Is(err, state.ErrEmptySampleBuffer) {
		t.Fatalf("expected ErrEmptySampleBuffer, got %v", err)
	}
}

// ============================================================================
// Test: SettlementEngine
// ============================================================================

func TestSettlementEngine_RequiresExpiry(t *testing.T) {
	p := testParams()
	m := mustMarket(t, p, 0)
	mustAccept(t, m, 1, 1_000_000)

	se := state.NewSettlementEngine(m)
	_, err := se.Begin(state.NewPositionManager(p.Symbol), p.ExpiryTimestamp-1)
	if !errors.Is(err, state.ErrMarketNotExpired) {
		t.Fatalf("expected ErrMarketNotExpired, got %v", err)
	}
	if m.Settlement != nil {
		t.Error("settlement record created before expiry")
	}
}

func TestSettlementEngine_BeginIsIdempotent(t *testing.T) {
	p := testParams()
	m := mustMarket(t, p, 0)
	mustAccept(t, m, p.ExpiryTimestamp-second, 1_000_000)

	se := state.NewSettlementEngine(m)
	pm := state.NewPositionManager(p.Symbol)

	first, err := se.Begin(pm, p.ExpiryTimestamp)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	copyOfFirst := *first

	if _, err := m.AcceptReading(p.ExpiryTimestamp+second, 1_050_000); !errors.Is(err, state.ErrMarketNotActive) {
		t.Errorf("settled market accepted a reading: %v", err)
	}

	again, err := se.Begin(pm, p.ExpiryTimestamp+hour)
	if !errors.Is(err, state.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	if *again != copyOfFirst {
		t.Errorf("record changed: %+v vs %+v", *again, copyOfFirst)
	}
	if m.Status != state.MarketStatusSettled {
		t.Errorf("status: got %s, want Settled", m.Status)
	}
}

func TestSettlementEngine_IncrementalInOwnerOrder(t *testing.T) {
	p := testParams()
	m := mustMarket(t, p, 0)
	me := state.NewMarginEngine(&m.Params)
	pm := state.NewPositionManager(p.Symbol)
	bt := ledger.NewBalanceTracker()
	deposit(t, bt, alice, 100_000)
	deposit(t, bt, bob, 100_000)

	mustAccept(t, m, 1, 1000)
	ov := ledger.NewOverlay(bt, "fill", 1)
	long := pm.Stage(bob)
	short := pm.Stage(alice)
	if _, err := me.ApplyFill(long, ov, state.Fill{Side: event.SideLong, Quantity: 10, Price: 1000, Mark: 1000}); err != nil {
		t.Fatal(err)
	}
	if _, err := me.ApplyFill(short, ov, state.Fill{Side: event.SideShort, Quantity: 10, Price: 1000, Mark: 1000}); err != nil {
		t.Fatal(err)
	}
	commit(t, bt, ov)
	pm.Put(long)
	pm.Put(short)

	mustAccept(t, m, p.ExpiryTimestamp-second, 1050)

	se := state.NewSettlementEngine(m)
	rec, err := se.Begin(pm, p.ExpiryTimestamp)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	batch := se.Next(1)
	if len(batch) != 1 || batch[0] != alice {
		t.Fatalf("first batch: got %v, want [alice]", batch)
	}

	settleOwner := func(owner uuid.UUID) state.SettlementOutcome {
		t.Helper()
		pos := pm.Stage(owner)
		ov := ledger.NewOverlay(bt, "settle", p.ExpiryTimestamp)
		out, err := me.SettlePosition(pos, ov, rec.SettlementPrice, p.ExpiryTimestamp)
		if err != nil {
			t.Fatalf("settle: %v", err)
		}
		commit(t, bt, ov)
		pm.Put(pos)
		se.MarkProcessed(owner)
		return out
	}

	aliceOut := settleOwner(alice)
	if aliceOut.RealizedPnL != -1000 || aliceOut.MarginReleased != 1000 {
		t.Errorf("short: got pnl %d released %d, want -1000 / 1000", aliceOut.RealizedPnL, aliceOut.MarginReleased)
	}
	if se.Done() {
		t.Fatal("done with one position left")
	}

	batch = se.Next(10)
	if len(batch) != 1 || batch[0] != bob {
		t.Fatalf("second batch: got %v, want [bob]", batch)
	}
	bobOut := settleOwner(bob)
	if bobOut.RealizedPnL != 1000 || bobOut.MarginReleased != 2000 {
		t.Errorf("long: got pnl %d released %d, want 1000 / 2000", bobOut.RealizedPnL, bobOut.MarginReleased)
	}
	if !se.Done() || pm.Len() != 0 {
		t.Errorf("done=%v positions=%d", se.Done(), pm.Len())
	}

	if got := bt.GetBalance(ledger.Clearing(p.Symbol)); got != 0 {
		t.Errorf("clearing not flat after settlement: %d", got)
	}
	if got := bt.GetUserTotalBalance(alice) + bt.GetUserTotalBalance(bob); got != 200_000 {
		t.Errorf("total user balance: got %d, want 200000", got)
	}
}
