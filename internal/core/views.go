package core

import (
	"GasFutures/internal/book"
	"GasFutures/internal/state"
	"fmt"

	"github.com/google/uuid"
)

// MarketView is a read-only summary of one market
type MarketView struct {
	Symbol               string                  `json:"symbol"`
	ContractClass        string                  `json:"contract_class"`
	Status               string                  `json:"status"`
	ContractSize         int64                   `json:"contract_size"`
	TickSize             int64                   `json:"tick_size"`
	InitialMarginBps     int64                   `json:"initial_margin_bps"`
	MaintenanceMarginBps int64                   `json:"maintenance_margin_bps"`
	MakerFeeBps          int64                   `json:"maker_fee_bps"`
	TakerFeeBps          int64                   `json:"taker_fee_bps"`
	ListingTimestampUs   int64                   `json:"listing_timestamp_us"`
	ExpiryTimestampUs    int64                   `json:"expiry_timestamp_us"`
	MarkPrice            int64                   `json:"mark_price"`
	HasMarkPrice         bool                    `json:"has_mark_price"`
	Quarantined          bool                    `json:"quarantined"`
	OpenInterest         int64                   `json:"open_interest"`
	Volume24h            int64                   `json:"volume_24h"`
	BestBid              int64                   `json:"best_bid,omitempty"`
	BestAsk              int64                   `json:"best_ask,omitempty"`
	RestingOrders        int                     `json:"resting_orders"`
	Positions            int                     `json:"positions"`
	Settlement           *state.SettlementRecord `json:"settlement,omitempty"`
}

// PositionView is a position valued at the current mark
type PositionView struct {
	Market            string    `json:"market"`
	Owner             uuid.UUID `json:"owner"`
	Side              string    `json:"side"`
	Size              int64     `json:"size"`
	AvgEntryPrice     int64     `json:"avg_entry_price"`
	MarginPosted      int64     `json:"margin_posted"`
	RealizedPnL       int64     `json:"realized_pnl"`
	UnrealizedPnL     int64     `json:"unrealized_pnl"`
	MaintenanceMargin int64     `json:"maintenance_margin"`
	MarginStatus      string    `json:"margin_status"`
	MarkPrice         int64     `json:"mark_price"`
}

// BalanceView is an owner's collateral across markets
type BalanceView struct {
	Owner      uuid.UUID        `json:"owner"`
	Collateral int64            `json:"collateral"`
	Margin     map[string]int64 `json:"margin"`
	Total      int64            `json:"total"`
}

// View summarizes the market.
func (e *MarketEngine) View() MarketView {
	m := e.market
	p := m.Params
	v := MarketView{
		Symbol:               p.Symbol,
		ContractClass:        p.ContractClass,
		Status:               m.Status.String(),
		ContractSize:         p.ContractSize,
		TickSize:             p.TickSize,
		InitialMarginBps:     p.InitialMarginBps,
		MaintenanceMarginBps: p.MaintenanceMarginBps,
		MakerFeeBps:          p.MakerFeeBps,
		TakerFeeBps:          p.TakerFeeBps,
		ListingTimestampUs:   p.ListingTimestamp,
		ExpiryTimestampUs:    p.ExpiryTimestamp,
		MarkPrice:            m.LastAcceptedPrice,
		HasMarkPrice:         m.HasPrice,
		Quarantined:          m.Quarantined,
		OpenInterest:         m.OpenInterest,
		Volume24h:            m.Volume24h(e.clock),
		RestingOrders:        e.book.Len(),
		Positions:            e.positions.Len(),
		Settlement:           m.Settlement,
	}
	if bid, ok := e.book.BestBid(); ok {
		v.BestBid = bid
	}
	if ask, ok := e.book.BestAsk(); ok {
		v.BestAsk = ask
	}
	return v
}

// Depth returns up to levels aggregated price levels per side.
func (e *MarketEngine) Depth(levels int) book.Depth {
	return e.book.Depth(levels)
}

// Position values owner's position at the current mark.
func (e *MarketEngine) Position(owner uuid.UUID) (PositionView, error) {
	pos, ok := e.positions.Get(owner)
	if !ok {
		return PositionView{}, fmt.Errorf("%w: %s in %s", state.ErrPositionNotFound, owner, e.Symbol())
	}

	v := PositionView{
		Market:        pos.Market,
		Owner:         pos.Owner,
		Side:          pos.Side.String(),
		Size:          pos.Size,
		AvgEntryPrice: pos.AvgEntryPrice,
		MarginPosted:  pos.MarginPosted,
		RealizedPnL:   pos.RealizedPnL,
		MarginStatus:  state.MarginStatusHealthy.String(),
	}

	mark, err := e.market.MarkPrice()
	if err != nil {
		return v, nil
	}
	v.MarkPrice = mark

	if v.UnrealizedPnL, err = e.margin.UnrealizedPnL(pos, mark); err != nil {
		return v, err
	}
	if v.MaintenanceMargin, err = e.margin.MaintenanceMargin(pos.Size, mark); err != nil {
		return v, err
	}
	status, err := e.margin.Status(pos, mark)
	if err != nil {
		return v, err
	}
	v.MarginStatus = status.String()
	return v, nil
}

// Settlement returns the settlement record once the market has settled.
func (e *MarketEngine) Settlement() (*state.SettlementRecord, bool) {
	rec := e.market.Settlement
	return rec, rec != nil
}
