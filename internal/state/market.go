package state

import (
	"GasFutures/internal/event"
	fpmath "GasFutures/internal/math"
	"errors"
	"fmt"
)

// MarketStatus is the lifecycle state of one contract instance
type MarketStatus int32

const (
	MarketStatusListed MarketStatus = iota
	MarketStatusActive
	MarketStatusExpiring
	MarketStatusSettled
	MarketStatusClosed
)

func (s MarketStatus) String() string {
	switch s {
	case MarketStatusListed:
		return "Listed"
	case MarketStatusActive:
		return "Active"
	case MarketStatusExpiring:
		return "Expiring"
	case MarketStatusSettled:
		return "Settled"
	case MarketStatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates lifecycle transitions
func (s MarketStatus) CanTransitionTo(next MarketStatus) bool {
	validTransitions := map[MarketStatus][]MarketStatus{
		MarketStatusListed: {
			MarketStatusActive,
			MarketStatusExpiring, // listed past expiry
		},
		MarketStatusActive: {
			MarketStatusExpiring,
		},
		MarketStatusExpiring: {
			MarketStatusSettled,
		},
		MarketStatusSettled: {
			MarketStatusClosed,
		},
	}

	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// MarketParams are fixed at listing
type MarketParams struct {
	Symbol               string
	ContractClass        string
	ContractSize         int64
	TickSize             int64
	InitialMarginBps     int64
	MaintenanceMarginBps int64
	LiquidationFeeBps    int64
	KeeperIncentiveBps   int64
	MaxDeviationBps      int64
	MakerFeeBps          int64
	TakerFeeBps          int64
	ListingTimestamp     int64 // epoch microseconds
	ExpiryTimestamp      int64 // epoch microseconds
	Tiers                MarginTiers
}

// ParamsFromListing maps a listing command to market parameters.
func ParamsFromListing(cmd *event.ListMarket) MarketParams {
	tiers := make(MarginTiers, len(cmd.Tiers))
	for i, t := range cmd.Tiers {
		tiers[i] = MarginTier{NotionalThreshold: t.NotionalThreshold, InitialMarginBps: t.InitialMarginBps}
	}
	return MarketParams{
		Symbol:               cmd.Symbol,
		ContractClass:        cmd.ContractClass,
		ContractSize:         cmd.ContractSize,
		TickSize:             cmd.TickSize,
		InitialMarginBps:     cmd.InitialMarginBps,
		MaintenanceMarginBps: cmd.MaintenanceMarginBps,
		LiquidationFeeBps:    cmd.LiquidationFeeBps,
		KeeperIncentiveBps:   cmd.KeeperIncentiveBps,
		MaxDeviationBps:      cmd.MaxDeviationBps,
		MakerFeeBps:          cmd.MakerFeeBps,
		TakerFeeBps:          cmd.TakerFeeBps,
		ListingTimestamp:     cmd.ListingTimestampUs,
		ExpiryTimestamp:      cmd.ExpiryTimestampUs,
		Tiers:                tiers,
	}
}

// Validate enforces MM < IM < 100%, positive tick and contract size, and the
// fee and tier bounds.
func (p MarketParams) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidParameters)
	}
	if p.ContractSize <= 0 {
		return fmt.Errorf("%w: contract size must be > 0", ErrInvalidParameters)
	}
	if p.TickSize <= 0 {
		return fmt.Errorf("%w: tick size must be > 0", ErrInvalidParameters)
	}
	if p.MaintenanceMarginBps <= 0 || p.MaintenanceMarginBps >= p.InitialMarginBps {
		return fmt.Errorf("%w: maintenance margin %d must be in (0, %d)",
			ErrInvalidParameters, p.MaintenanceMarginBps, p.InitialMarginBps)
	}
	if p.InitialMarginBps >= fpmath.BpsScale {
		return fmt.Errorf("%w: initial margin %d must be < %d",
			ErrInvalidParameters, p.InitialMarginBps, fpmath.BpsScale)
	}
	if p.LiquidationFeeBps < 0 || p.LiquidationFeeBps >= fpmath.BpsScale {
		return fmt.Errorf("%w: liquidation fee out of range", ErrInvalidParameters)
	}
	if p.KeeperIncentiveBps < 0 || p.KeeperIncentiveBps > fpmath.BpsScale {
		return fmt.Errorf("%w: keeper incentive out of range", ErrInvalidParameters)
	}
	if p.TakerFeeBps < 0 || p.TakerFeeBps >= fpmath.BpsScale {
		return fmt.Errorf("%w: taker fee out of range", ErrInvalidParameters)
	}
	// a maker rebate may not exceed what the taker pays
	if p.MakerFeeBps >= fpmath.BpsScale || -p.MakerFeeBps > p.TakerFeeBps {
		return fmt.Errorf("%w: maker fee out of range", ErrInvalidParameters)
	}
	if p.ExpiryTimestamp <= p.ListingTimestamp {
		return fmt.Errorf("%w: expiry must be after listing", ErrInvalidParameters)
	}
	return p.Tiers.Validate(p.InitialMarginBps)
}

// Market is the per-instance state: lifecycle, index price and activity
// counters. It is owned by exactly one engine and never shared.
type Market struct {
	Params MarketParams
	Status MarketStatus

	LastAcceptedPrice int64
	LastAcceptedAt    int64
	HasPrice          bool

	// Set while the most recent reading was rejected by the gate
	Quarantined bool

	// Latest accepted sample strictly before expiry
	LastPrint    PriceSample
	HasLastPrint bool

	OpenInterest int64
	Volume       VolumeWindow

	Samples *PriceSampleBuffer
	Gate    DeviationGate

	Settlement *SettlementRecord
}

// NewMarket validates params and creates a market in Listed status, then
// refreshes it against now.
func NewMarket(params MarketParams, now int64) (*Market, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	m := &Market{
		Params:  params,
		Status:  MarketStatusListed,
		Samples: NewPriceSampleBuffer(),
		Gate:    DeviationGate{MaxDeviationBps: params.MaxDeviationBps},
	}
	m.Refresh(now)
	return m, nil
}

func (m *Market) transition(next MarketStatus) {
	if !m.Status.CanTransitionTo(next) {
		panic(fmt.Sprintf("FATAL: market %s: invalid transition %s -> %s", m.Params.Symbol, m.Status, next))
	}
	m.Status = next
}

// Refresh applies the time-driven transitions for the command clock now.
func (m *Market) Refresh(now int64) {
	if m.Status == MarketStatusListed && now >= m.Params.ListingTimestamp {
		if now >= m.Params.ExpiryTimestamp {
			m.transition(MarketStatusExpiring)
			return
		}
		m.transition(MarketStatusActive)
	}
	if m.Status == MarketStatusActive && now >= m.Params.ExpiryTimestamp {
		m.transition(MarketStatusExpiring)
	}
}

// MarkSettled records the settlement and moves the market to Settled.
func (m *Market) MarkSettled(rec *SettlementRecord) {
	m.transition(MarketStatusSettled)
	m.Settlement = rec
}

// MarkClosed moves a settled market to Closed.
func (m *Market) MarkClosed() {
	m.transition(MarketStatusClosed)
}

// AcceptReading runs a reading through the deviation gate. An accepted
// reading updates the last accepted price and the sample buffer and lifts
// any quarantine. A rejected reading changes neither, quarantines trading and
// returns the measured deviation with ErrPriceDeviation.
func (m *Market) AcceptReading(timestamp, price int64) (int64, error) {
	if m.Status == MarketStatusSettled || m.Status == MarketStatusClosed {
		return 0, fmt.Errorf("%w: market %s is %s", ErrMarketNotActive, m.Params.Symbol, m.Status)
	}
	if price < 0 {
		return 0, fmt.Errorf("%w: negative index price %d", ErrInvalidParameters, price)
	}
	if m.HasPrice && timestamp <= m.LastAcceptedAt {
		return 0, fmt.Errorf("%w: %d <= %d", ErrStaleReading, timestamp, m.LastAcceptedAt)
	}

	var deviation int64
	if m.HasPrice {
		d, err := m.Gate.Check(m.LastAcceptedPrice, price)
		if errors.Is(err, ErrPriceDeviation) {
			m.Quarantined = true
			return d, err
		}
		if err != nil {
			return 0, err
		}
		deviation = d
	}

	sample := PriceSample{Timestamp: timestamp, Price: price}
	m.Samples.Push(sample)
	m.LastAcceptedPrice = price
	m.LastAcceptedAt = timestamp
	m.HasPrice = true
	m.Quarantined = false

	if timestamp < m.Params.ExpiryTimestamp {
		m.LastPrint = sample
		m.HasLastPrint = true
	}
	return deviation, nil
}

// MarkPrice returns the latest accepted index reading.
func (m *Market) MarkPrice() (int64, error) {
	if !m.HasPrice {
		return 0, fmt.Errorf("market %s: %w", m.Params.Symbol, ErrNoMarkPrice)
	}
	return m.LastAcceptedPrice, nil
}

// CheckTradable reports whether orders may be submitted now. Expiring
// markets trade reduce-only; the caller enforces that per fill.
func (m *Market) CheckTradable() error {
	switch m.Status {
	case MarketStatusActive, MarketStatusExpiring:
	default:
		return fmt.Errorf("%w: market %s is %s", ErrMarketNotActive, m.Params.Symbol, m.Status)
	}
	if m.Quarantined {
		return fmt.Errorf("%w: market %s index quarantined", ErrPriceDeviation, m.Params.Symbol)
	}
	if !m.HasPrice {
		return fmt.Errorf("market %s: %w", m.Params.Symbol, ErrNoMarkPrice)
	}
	return nil
}

// ReduceOnly reports whether only exposure-reducing fills are allowed.
func (m *Market) ReduceOnly() bool {
	return m.Status == MarketStatusExpiring
}

// ValidateOrderPrice checks a limit price is a positive tick multiple.
func (m *Market) ValidateOrderPrice(price int64) error {
	if price <= 0 || price%m.Params.TickSize != 0 {
		return fmt.Errorf("%w: price %d is not a positive multiple of tick %d",
			ErrInvalidParameters, price, m.Params.TickSize)
	}
	return nil
}

// RecordTrade updates 24h volume.
func (m *Market) RecordTrade(timestamp, qty int64) {
	m.Volume.Add(timestamp, qty)
}

// Volume24h returns contracts traded in the 24 hours ending at now.
func (m *Market) Volume24h(now int64) int64 {
	return m.Volume.Total(now)
}
