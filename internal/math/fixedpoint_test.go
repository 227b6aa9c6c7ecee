package math_test

import (
	fpmath "GasFutures/internal/math"
	"errors"
	"math"
	"testing"
)

const (
	priceScale = 1_000_000
	quoteScale = 1_000_000
)

// ============================================================================
// Test: Notional
// ============================================================================

func TestComputeNotional_WholeUnitsTruncate(t *testing.T) {
	// 1000 * 2 / 1_000_000 = 0.002 whole units, truncated to 0
	got, err := fpmath.ComputeNotional(1000, 2, 1, priceScale, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestComputeNotional_MicroUnits(t *testing.T) {
	// 0.002 units == 2000 micro-units
	got, err := fpmath.ComputeNotional(1000, 2, 1, priceScale, quoteScale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2000 {
		t.Errorf("got %d, want 2000", got)
	}
}

func TestComputeNotional_IntermediateWiderThan64Bits(t *testing.T) {
	// (2^62 * 4) = 2^64 overflows int64 before the division
	got, err := fpmath.ComputeNotional(1<<62, 4, 1, priceScale, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 18_446_744_073_709 {
		t.Errorf("got %d, want 18446744073709", got)
	}
}

func TestComputeNotional_ExactInt64Bound(t *testing.T) {
	// MaxInt64 * 1e6 / 1e6 == MaxInt64 with a ~2^83 intermediate
	got, err := fpmath.ComputeNotional(math.MaxInt64, 1_000_000, 1, priceScale, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != math.MaxInt64 {
		t.Errorf("got %d, want %d", got, int64(math.MaxInt64))
	}
}

func TestComputeNotional_Overflow(t *testing.T) {
	_, err := fpmath.ComputeNotional(math.MaxInt64, math.MaxInt64, math.MaxInt64, priceScale, quoteScale)
	if !errors.Is(err, fpmath.ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
}

func TestComputeNotional_OneAboveBoundOverflows(t *testing.T) {
	_, err := fpmath.ComputeNotional(math.MaxInt64, 1_000_001, 1, priceScale, 1)
	if !errors.Is(err, fpmath.ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
}

// ============================================================================
// Test: PnL
// ============================================================================

func TestComputePnL_WorkedExample(t *testing.T) {
	// Δprice 500, contractSize 2: 500*2/1_000_000 = 0.001 unit = 1000 micro-units
	got, err := fpmath.ComputePnL(1, 1000, 1500, 2, 1, priceScale, quoteScale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1000 {
		t.Errorf("got %d, want 1000", got)
	}
}

func TestComputePnL_TenContracts(t *testing.T) {
	got, err := fpmath.ComputePnL(1, 1000, 1500, 2, 10, priceScale, quoteScale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 10_000 {
		t.Errorf("got %d, want 10000 (0.01 unit)", got)
	}
}

func TestComputePnL_ShortLoses(t *testing.T) {
	got, err := fpmath.ComputePnL(-1, 1000, 1500, 2, 10, priceScale, quoteScale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != -10_000 {
		t.Errorf("got %d, want -10000", got)
	}
}

func TestComputePnL_RoundingNeverFavorsTrader(t *testing.T) {
	// Sub-unit gain truncates to 0, sub-unit loss floors to -1
	gain, err := fpmath.ComputePnL(1, 1000, 1001, 1, 1, priceScale, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gain != 0 {
		t.Errorf("gain: got %d, want 0", gain)
	}

	loss, err := fpmath.ComputePnL(1, 1001, 1000, 1, 1, priceScale, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loss != -1 {
		t.Errorf("loss: got %d, want -1", loss)
	}
}

// ============================================================================
// Test: Rounding modes
// ============================================================================

func TestMulDiv_RoundingModes(t *testing.T) {
	tests := []struct {
		name string
		a    int64
		mode fpmath.RoundingMode
		want int64
	}{
		{"half_even 3.5", 7, fpmath.RoundHalfEven, 4},
		{"half_even 2.5", 5, fpmath.RoundHalfEven, 2},
		{"half_even -3.5", -7, fpmath.RoundHalfEven, -4},
		{"half_even -2.5", -5, fpmath.RoundHalfEven, -2},
		{"down 3.5", 7, fpmath.RoundDown, 3},
		{"down -3.5", -7, fpmath.RoundDown, -3},
		{"up 3.5", 7, fpmath.RoundUp, 4},
		{"up -3.5", -7, fpmath.RoundUp, -4},
		{"floor 3.5", 7, fpmath.RoundFloor, 3},
		{"floor -3.5", -7, fpmath.RoundFloor, -4},
		{"exact", 8, fpmath.RoundUp, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fpmath.MulDiv(tt.a, 1, 2, tt.mode)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMulDiv_DivisionByZero(t *testing.T) {
	_, err := fpmath.MulDiv(1, 1, 0, fpmath.RoundDown)
	if !errors.Is(err, fpmath.ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestComputeBps(t *testing.T) {
	got, err := fpmath.ComputeBps(10_000, 1000, fpmath.RoundUp)
	if err != nil || got != 1000 {
		t.Errorf("got %d, %v; want 1000", got, err)
	}

	up, _ := fpmath.ComputeBps(1, 1, fpmath.RoundUp)
	down, _ := fpmath.ComputeBps(1, 1, fpmath.RoundDown)
	if up != 1 || down != 0 {
		t.Errorf("up=%d down=%d, want 1 and 0", up, down)
	}
}

// ============================================================================
// Test: Averages and deviation
// ============================================================================

func TestComputeAvgEntryPrice(t *testing.T) {
	got, err := fpmath.ComputeAvgEntryPrice(10, 1000, 10, 1500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1250 {
		t.Errorf("got %d, want 1250", got)
	}

	first, _ := fpmath.ComputeAvgEntryPrice(0, 0, 5, 777)
	if first != 777 {
		t.Errorf("empty position should take fill price, got %d", first)
	}
}

func TestComputeDeviationBps(t *testing.T) {
	tests := []struct {
		last, next, want int64
	}{
		{1000, 1100, 1000},
		{1000, 900, 1000},
		{1000, 1000, 0},
		{3, 4, 3334}, // 3333.33 rounds up
	}
	for _, tt := range tests {
		got, err := fpmath.ComputeDeviationBps(tt.last, tt.next)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != tt.want {
			t.Errorf("deviation(%d->%d) = %d, want %d", tt.last, tt.next, got, tt.want)
		}
	}

	if _, err := fpmath.ComputeDeviationBps(0, 10); !errors.Is(err, fpmath.ErrDivisionByZero) {
		t.Errorf("expected ErrDivisionByZero for zero reference, got %v", err)
	}
}

func TestWeightedAverage(t *testing.T) {
	got, err := fpmath.WeightedAverage([]int64{100, 200}, []int64{1, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 175 {
		t.Errorf("got %d, want 175", got)
	}

	if _, err := fpmath.WeightedAverage([]int64{100}, []int64{0}); !errors.Is(err, fpmath.ErrDivisionByZero) {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}
