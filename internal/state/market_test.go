package state_test

import (
	"GasFutures/internal/state"
	"errors"
	"testing"
)

const hour = 3600 * second

func testParams() state.MarketParams {
	return state.MarketParams{
		Symbol:               "GAS-24H",
		ContractClass:        "gas",
		ContractSize:         2,
		TickSize:             1,
		InitialMarginBps:     1000,
		MaintenanceMarginBps: 600,
		LiquidationFeeBps:    100,
		KeeperIncentiveBps:   2000,
		MaxDeviationBps:      1000,
		TakerFeeBps:          0,
		MakerFeeBps:          0,
		ListingTimestamp:     0,
		ExpiryTimestamp:      24 * hour,
	}
}

func mustMarket(t *testing.T, params state.MarketParams, now int64) *state.Market {
	t.Helper()
	m, err := state.NewMarket(params, now)
	if err != nil {
		t.Fatalf("new market: %v", err)
	}
	return m
}

func mustAccept(t *testing.T, m *state.Market, ts, price int64) {
	t.Helper()
	if _, err := m.AcceptReading(ts, price); err != nil {
		t.Fatalf("accept reading %d@%d: %v", price, ts, err)
	}
}

// ============================================================================
// Test: MarketParams validation
// ============================================================================

func TestMarketParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *state.MarketParams)
	}{
		{"empty symbol", func(p *state.MarketParams) { p.Symbol = "" }},
		{"zero contract size", func(p *state.MarketParams) { p.ContractSize = 0 }},
		{"zero tick", func(p *state.MarketParams) { p.TickSize = 0 }},
		{"mm equals im", func(p *state.MarketParams) { p.MaintenanceMarginBps = 1000 }},
		{"mm above im", func(p *state.MarketParams) { p.MaintenanceMarginBps = 1200 }},
		{"im at 100%", func(p *state.MarketParams) { p.InitialMarginBps = 10_000 }},
		{"expiry before listing", func(p *state.MarketParams) { p.ExpiryTimestamp = -1 }},
		{"rebate above taker fee", func(p *state.MarketParams) { p.MakerFeeBps = -5; p.TakerFeeBps = 2 }},
		{"tier below base", func(p *state.MarketParams) {
			p.Tiers = state.MarginTiers{{NotionalThreshold: 100, InitialMarginBps: 900}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)
			if err := p.Validate(); !errors.Is(err, state.ErrInvalidParameters) {
				t.Errorf("expected ErrInvalidParameters, got %v", err)
			}
		})
	}

	if err := testParams().Validate(); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
}

// ============================================================================
// Test: Lifecycle
// ============================================================================

func TestMarketStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to state.MarketStatus
		want     bool
	}{
		{state.MarketStatusListed, state.MarketStatusActive, true},
		{state.MarketStatusActive, state.MarketStatusExpiring, true},
		{state.MarketStatusExpiring, state.MarketStatusSettled, true},
		{state.MarketStatusSettled, state.MarketStatusClosed, true},
		{state.MarketStatusActive, state.MarketStatusSettled, false},
		{state.MarketStatusClosed, state.MarketStatusActive, false},
		{state.MarketStatusExpiring, state.MarketStatusActive, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestMarket_RefreshFollowsClock(t *testing.T) {
	p := testParams()
	p.ListingTimestamp = hour
	m := mustMarket(t, p, 0)

	if m.Status != state.MarketStatusListed {
		t.Fatalf("got %s, want Listed", m.Status)
	}
	m.Refresh(hour)
	if m.Status != state.MarketStatusActive {
		t.Fatalf("got %s, want Active", m.Status)
	}
	m.Refresh(24 * hour)
	if m.Status != state.MarketStatusExpiring {
		t.Fatalf("got %s, want Expiring", m.Status)
	}
	if !m.ReduceOnly() {
		t.Error("expiring market must be reduce-only")
	}
}

func TestMarket_NotTradableBeforeListingOrWithoutPrice(t *testing.T) {
	p := testParams()
	p.ListingTimestamp = hour
	m := mustMarket(t, p, 0)

	if err := m.CheckTradable(); !errors.Is(err, state.ErrMarketNotActive) {
		t.Errorf("listed market: expected ErrMarketNotActive, got %v", err)
	}

	m.Refresh(hour)
	if err := m.CheckTradable(); !errors.Is(err, state.ErrNoMarkPrice) {
		t.Errorf("no price: expected ErrNoMarkPrice, got %v", err)
	}

	mustAccept(t, m, hour+1, 1_000_000)
	if err := m.CheckTradable(); err != nil {
		t.Errorf("expected tradable, got %v", err)
	}
}

func TestMarket_ValidateOrderPrice(t *testing.T) {
	p := testParams()
	p.TickSize = 1000
	m := mustMarket(t, p, 0)

	if err := m.ValidateOrderPrice(1_001_000); err != nil {
		t.Errorf("tick multiple rejected: %v", err)
	}
	for _, price := range []int64{0, -1000, 1_000_500} {
		if err := m.ValidateOrderPrice(price); !errors.Is(err, state.ErrInvalidParameters) {
			t.Errorf("price %d: expected ErrInvalidParameters, got %v", price, err)
		}
	}
}

// ============================================================================
// Test: Index readings through the gate
// ============================================================================

func TestMarket_RejectedReadingLeavesStateUntouched(t *testing.T) {
	m := mustMarket(t, testParams(), 0)
	mustAccept(t, m, 1*second, 1_000_000)

	deviation, err := m.AcceptReading(2*second, 1_200_000)
	if !errors.Is(err, state.ErrPriceDeviation) {
		t.Fatalf("expected ErrPriceDeviation, got %v", err)
	}
	if deviation != 2000 {
		t.Errorf("deviation: got %d, want 2000", deviation)
	}
	if m.LastAcceptedPrice != 1_000_000 {
		t.Errorf("last accepted price changed to %d", m.LastAcceptedPrice)
	}
	if m.Samples.Len() != 1 {
		t.Errorf("buffer len: got %d, want 1", m.Samples.Len())
	}
	if err := m.CheckTradable(); !errors.Is(err, state.ErrPriceDeviation) {
		t.Errorf("quarantined market: expected ErrPriceDeviation, got %v", err)
	}
}

func TestMarket_AcceptedReadingUpdatesPriceAndBuffer(t *testing.T) {
	m := mustMarket(t, testParams(), 0)
	mustAccept(t, m, 1*second, 1_000_000)
	_, _ = m.AcceptReading(2*second, 1_500_000) // rejected

	mustAccept(t, m, 3*second, 1_050_000)

	if m.LastAcceptedPrice != 1_050_000 {
		t.Errorf("last accepted: got %d, want 1050000", m.LastAcceptedPrice)
	}
	if m.Samples.Len() != 2 {
		t.Errorf("buffer len: got %d, want 2", m.Samples.Len())
	}
	if m.Quarantined {
		t.Error("accepted reading must lift quarantine")
	}
	mark, err := m.MarkPrice()
	if err != nil || mark != 1_050_000 {
		t.Errorf("mark: got %d, %v", mark, err)
	}
}

func TestMarket_RejectsNonIncreasingTimestamps(t *testing.T) {
	m := mustMarket(t, testParams(), 0)
	mustAccept(t, m, 10*second, 1_000_000)

	for _, ts := range []int64{10 * second, 9 * second} {
		_, err := m.AcceptReading(ts, 1_000_000)
		if !errors.Is(err, state.ErrStaleReading) {
			t.Errorf("ts=%d: expected ErrStaleReading, got %v", ts, err)
		}
		if !errors.Is(err, state.ErrInvalidParameters) {
			t.Errorf("ts=%d: stale reading must be an InvalidParameters kind", ts)
		}
	}
}

func TestMarket_RejectsNegativePrice(t *testing.T) {
	m := mustMarket(t, testParams(), 0)
	if _, err := m.AcceptReading(1, -5); !errors.Is(err, state.ErrInvalidParameters) {
		t.Errorf("expected ErrInvalidParameters, got %v", err)
	}
}

func TestMarket_ZeroPriceDoesNotQuarantineForever(t *testing.T) {
	m := mustMarket(t, testParams(), 0)
	mustAccept(t, m, 1*second, 1_000_000)
	if _, err := m.AcceptReading(2*second, 0); !errors.Is(err, state.ErrPriceDeviation) {
		t.Fatalf("drop to zero: expected ErrPriceDeviation, got %v", err)
	}

	fresh := mustMarket(t, testParams(), 0)
	mustAccept(t, fresh, 1*second, 0)
	mustAccept(t, fresh, 2*second, 1_000_000)
	mustAccept(t, fresh, 3*second, 1_050_000)

	if fresh.LastAcceptedPrice != 1_050_000 {
		t.Errorf("last accepted: got %d, want 1050000", fresh.LastAcceptedPrice)
	}
	if err := fresh.CheckTradable(); err != nil {
		t.Errorf("market should be tradable after recovering from zero: %v", err)
	}
}

func TestMarket_DisabledGateAcceptsAnyJump(t *testing.T) {
	p := testParams()
	p.MaxDeviationBps = 0
	m := mustMarket(t, p, 0)

	mustAccept(t, m, 1, 1_000_000)
	mustAccept(t, m, 2, 9_000_000)

	if m.LastAcceptedPrice != 9_000_000 {
		t.Errorf("got %d, want 9000000", m.LastAcceptedPrice)
	}
}

// ============================================================================
// Test: MarginTiers
// ============================================================================

func TestMarginTiers_RateFor(t *testing.T) {
	tiers := state.MarginTiers{
		{NotionalThreshold: 100_000_000, InitialMarginBps: 1500},
		{NotionalThreshold: 500_000_000, InitialMarginBps: 2000},
	}

	tests := []struct {
		notional int64
		want     int64
	}{
		{0, 1000},
		{99_999_999, 1000},
		{100_000_000, 1500},
		{499_999_999, 1500},
		{500_000_000, 2000},
		{9_000_000_000, 2000},
	}
	for _, tt := range tests {
		if got := tiers.RateFor(tt.notional, 1000); got != tt.want {
			t.Errorf("RateFor(%d) = %d, want %d", tt.notional, got, tt.want)
		}
	}
}

func TestMarginTiers_Validate(t *testing.T) {
	bad := []state.MarginTiers{
		{{NotionalThreshold: 0, InitialMarginBps: 1500}},
		{{NotionalThreshold: 200, InitialMarginBps: 1500}, {NotionalThreshold: 200, InitialMarginBps: 2000}},
		{{NotionalThreshold: 200, InitialMarginBps: 1500}, {NotionalThreshold: 100, InitialMarginBps: 2000}},
		{{NotionalThreshold: 100, InitialMarginBps: 10_000}},
	}
	for i, tiers := range bad {
		if err := tiers.Validate(1000); !errors.Is(err, state.ErrInvalidParameters) {
			t.Errorf("case %d: expected ErrInvalidParameters, got %v", i, err)
		}
	}

	var none state.MarginTiers
	if err := none.Validate(1000); err != nil {
		t.Errorf("empty schedule: %v", err)
	}
}
