package math

import (
	"errors"
	"math/big"
	"sync"
)

var (
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrDivisionByZero     = errors.New("division by zero")
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Index readings are used directly as 1e6-scaled prices.
	PriceConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
	// Unit of account in micro-units.
	QuoteConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
)

// BpsScale is 100% expressed in basis points.
const BpsScale int64 = 10_000

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown                         // toward zero
	RoundUp                           // away from zero
	RoundFloor                        // toward negative infinity
)

func (m RoundingMode) String() string {
	switch m {
	case RoundHalfEven:
		return "half_even"
	case RoundDown:
		return "down"
	case RoundUp:
		return "up"
	case RoundFloor:
		return "floor"
	default:
		return "unknown"
	}
}

// divideInt128 performs numerator / denominator with the given rounding and
// reports ErrArithmeticOverflow when the quotient does not fit in int64.
func divideInt128(numerator *big.Int, denominator int64, mode RoundingMode) (int64, error) {
	if denominator == 0 {
		return 0, ErrDivisionByZero
	}

	denom := getInt128()
	quotient := getInt128()
	remainder := getInt128()
	defer func() {
		putInt128(denom)
		putInt128(quotient)
		putInt128(remainder)
	}()

	denom.SetInt64(denominator)
	// QuoRem truncates toward zero, unlike DivMod.
	quotient.QuoRem(numerator, denom, remainder)

	if remainder.Sign() != 0 {
		negative := numerator.Sign()*denom.Sign() < 0
		away := false

		switch mode {
		case RoundDown:
		case RoundUp:
			away = true
		case RoundFloor:
			away = negative
		case RoundHalfEven:
			twice := getInt128()
			absDenom := getInt128()
			twice.Abs(remainder)
			twice.Lsh(twice, 1)
			absDenom.Abs(denom)
			switch twice.Cmp(absDenom) {
			case 1:
				away = true
			case 0:
				away = quotient.Bit(0) == 1
			}
			putInt128(twice)
			putInt128(absDenom)
		}

		if away {
			if negative {
				quotient.Sub(quotient, big.NewInt(1))
			} else {
				quotient.Add(quotient, big.NewInt(1))
			}
		}
	}

	if !quotient.IsInt64() {
		return 0, ErrArithmeticOverflow
	}
	return quotient.Int64(), nil
}

// MulDiv computes a * b / denominator with a 128-bit intermediate.
func MulDiv(a, b, denominator int64, mode RoundingMode) (int64, error) {
	product := getInt128()
	defer putInt128(product)

	product.Mul(big.NewInt(a), big.NewInt(b))
	return divideInt128(product, denominator, mode)
}

// ComputeNotional returns price * contractSize * qty in quote units.
// Truncates toward zero.
func ComputeNotional(
	price int64, // Price scale
	contractSize int64,
	qty int64, // Contracts
	priceScale int64,
	quoteScale int64,
) (int64, error) {
	raw := getInt128()
	defer putInt128(raw)

	raw.Mul(big.NewInt(price), big.NewInt(contractSize))
	raw.Mul(raw, big.NewInt(qty))
	raw.Mul(raw, big.NewInt(quoteScale))

	return divideInt128(raw, priceScale, RoundDown)
}

// ComputePnL returns the signed P&L of qty contracts moving from entry to exit.
// Rounded toward negative infinity so a loss is never rounded in the trader's favor.
func ComputePnL(
	sideSign int64, // +1 for long, -1 for short
	entryPrice int64,
	exitPrice int64,
	contractSize int64,
	qty int64,
	priceScale int64,
	quoteScale int64,
) (int64, error) {
	raw := getInt128()
	defer putInt128(raw)

	raw.Sub(big.NewInt(exitPrice), big.NewInt(entryPrice))
	raw.Mul(raw, big.NewInt(sideSign))
	raw.Mul(raw, big.NewInt(contractSize))
	raw.Mul(raw, big.NewInt(qty))
	raw.Mul(raw, big.NewInt(quoteScale))

	return divideInt128(raw, priceScale, RoundFloor)
}

// ComputeBps returns amount * bps / 10_000.
func ComputeBps(amount int64, bps int64, mode RoundingMode) (int64, error) {
	return MulDiv(amount, bps, BpsScale, mode)
}

// ComputeAvgEntryPrice calculates weighted average entry price
func ComputeAvgEntryPrice(oldSize, oldAvgEntry, fillQty, fillPrice int64) (int64, error) {
	if oldSize == 0 {
		return fillPrice, nil
	}

	// numerator = oldSize * oldAvgEntry + fillQty * fillPrice
	term1 := getInt128()
	term2 := getInt128()
	defer putInt128(term1)
	defer putInt128(term2)

	term1.Mul(big.NewInt(oldSize), big.NewInt(oldAvgEntry))
	term2.Mul(big.NewInt(fillQty), big.NewInt(fillPrice))
	term1.Add(term1, term2)

	denominator := oldSize + fillQty
	if denominator < oldSize {
		return 0, ErrArithmeticOverflow
	}

	return divideInt128(term1, denominator, RoundHalfEven)
}

// ComputeDeviationBps returns |next - last| / last in basis points, rounded up.
func ComputeDeviationBps(last, next int64) (int64, error) {
	if last <= 0 {
		return 0, ErrDivisionByZero
	}
	diff := next - last
	if diff < 0 {
		diff = -diff
	}
	return MulDiv(diff, BpsScale, last, RoundUp)
}

// WeightedAverage returns Σ(values[i] * weights[i]) / Σ weights[i], truncated.
// Returns ErrDivisionByZero when the weights sum to zero.
func WeightedAverage(values, weights []int64) (int64, error) {
	if len(values) != len(weights) {
		return 0, errors.New("weighted average: length mismatch")
	}

	sum := getInt128()
	totalWeight := getInt128()
	term := getInt128()
	defer func() {
		putInt128(sum)
		putInt128(totalWeight)
		putInt128(term)
	}()

	for i := range values {
		term.Mul(big.NewInt(values[i]), big.NewInt(weights[i]))
		sum.Add(sum, term)
		totalWeight.Add(totalWeight, big.NewInt(weights[i]))
	}

	if totalWeight.Sign() == 0 {
		return 0, ErrDivisionByZero
	}
	if !totalWeight.IsInt64() {
		return 0, ErrArithmeticOverflow
	}
	return divideInt128(sum, totalWeight.Int64(), RoundDown)
}
