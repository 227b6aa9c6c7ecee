package state

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SettlementMethod records how the settlement price was derived
type SettlementMethod int8

const (
	SettlementMethodLastValidPrint SettlementMethod = iota
	SettlementMethodTWAP
)

func (m SettlementMethod) String() string {
	switch m {
	case SettlementMethodLastValidPrint:
		return "LastValidPrint"
	case SettlementMethodTWAP:
		return "TWAP"
	default:
		return "Unknown"
	}
}

// MarshalText renders the method by name.
func (m SettlementMethod) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseSettlementMethod is the inverse of String.
func ParseSettlementMethod(s string) (SettlementMethod, error) {
	switch s {
	case "LastValidPrint":
		return SettlementMethodLastValidPrint, nil
	case "TWAP":
		return SettlementMethodTWAP, nil
	}
	return 0, fmt.Errorf("%w: settlement method %q", ErrInvalidParameters, s)
}

// SettlementRecord is created once per market and never modified
type SettlementRecord struct {
	Market          string           `json:"market"`
	SettlementPrice int64            `json:"settlement_price"`
	Method          SettlementMethod `json:"method"`
	SampleCount     int              `json:"sample_count"`
	Timestamp       int64            `json:"timestamp_us"` // epoch microseconds of the settling command
}

// DeriveSettlementPrice prefers the last accepted sample strictly before
// expiry, provided it is no older than one sample window before expiry.
// Otherwise it falls back to the TWAP of the window ending at expiry, and to
// the last pre-expiry print when later readings have evicted it from the
// buffer. Readings at or after expiry never set the price, so the result does
// not depend on when settlement runs.
func DeriveSettlementPrice(m *Market, now int64) (*SettlementRecord, error) {
	rec := &SettlementRecord{Market: m.Params.Symbol, Timestamp: now}

	expiry := m.Params.ExpiryTimestamp
	windowStart := expiry - m.Samples.Window().Microseconds()
	if m.HasLastPrint && m.LastPrint.Timestamp >= windowStart {
		rec.SettlementPrice = m.LastPrint.Price
		rec.Method = SettlementMethodLastValidPrint
		rec.SampleCount = 1
		return rec, nil
	}

	twap, n, err := m.Samples.TWAPBefore(expiry)
	switch {
	case err == nil:
		rec.SettlementPrice = twap
		rec.Method = SettlementMethodTWAP
		rec.SampleCount = n
		return rec, nil
	case errors.Is(err, ErrEmptySampleBuffer) && m.HasLastPrint:
		rec.SettlementPrice = m.LastPrint.Price
		rec.Method = SettlementMethodLastValidPrint
		rec.SampleCount = 1
		return rec, nil
	default:
		return nil, fmt.Errorf("market %s: settlement fallback: %w", m.Params.Symbol, err)
	}
}

// SettlementEngine drives a market from Expiring to Closed. Positions are
// processed in owner order across as many calls as needed; an owner leaves
// the unsettled set only once its position is committed, so no position is
// processed twice.
type SettlementEngine struct {
	market    *Market
	unsettled []uuid.UUID // sorted
}

func NewSettlementEngine(m *Market) *SettlementEngine {
	return &SettlementEngine{market: m}
}

// Begin fixes the settlement record and snapshots the owners to settle. On
// a settled market it returns the existing record with ErrAlreadySettled.
func (se *SettlementEngine) Begin(positions *PositionManager, now int64) (*SettlementRecord, error) {
	m := se.market
	if m.Settlement != nil {
		return m.Settlement, ErrAlreadySettled
	}

	m.Refresh(now)
	if m.Status != MarketStatusExpiring {
		return nil, fmt.Errorf("%w: market %s is %s until %d",
			ErrMarketNotExpired, m.Params.Symbol, m.Status, m.Params.ExpiryTimestamp)
	}

	rec, err := DeriveSettlementPrice(m, now)
	if err != nil {
		return nil, err
	}
	m.MarkSettled(rec)
	se.unsettled = positions.Owners()
	return rec, nil
}

// Next returns up to n owners still to settle, in order. n <= 0 returns all.
func (se *SettlementEngine) Next(n int) []uuid.UUID {
	if n <= 0 || n > len(se.unsettled) {
		n = len(se.unsettled)
	}
	out := make([]uuid.UUID, n)
	copy(out, se.unsettled[:n])
	return out
}

// MarkProcessed removes owner from the unsettled set.
func (se *SettlementEngine) MarkProcessed(owner uuid.UUID) {
	for i, o := range se.unsettled {
		if o == owner {
			se.unsettled = append(se.unsettled[:i], se.unsettled[i+1:]...)
			return
		}
	}
}

// Remaining returns the size of the unsettled set.
func (se *SettlementEngine) Remaining() int {
	return len(se.unsettled)
}

// Done reports whether settlement began and every position is processed.
func (se *SettlementEngine) Done() bool {
	return se.market.Settlement != nil && len(se.unsettled) == 0
}
