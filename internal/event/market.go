package event

import (
	"github.com/google/uuid"
)

// TierSpec is one notional band of an initial-margin schedule
type TierSpec struct {
	NotionalThreshold int64 `json:"notional_threshold"`
	InitialMarginBps  int64 `json:"initial_margin_bps"`
}

// ListMarket requests a new contract instance. Permissionless; the listing
// cooldown per contract class is enforced by the caller.
type ListMarket struct {
	RequestID            uuid.UUID
	Symbol               string
	ContractClass        string
	ContractSize         int64
	TickSize             int64
	InitialMarginBps     int64
	MaintenanceMarginBps int64
	LiquidationFeeBps    int64
	KeeperIncentiveBps   int64
	MaxDeviationBps      int64 // <= 0 disables the deviation gate
	MakerFeeBps          int64 // negative = rebate
	TakerFeeBps          int64
	ListingTimestampUs   int64 // 0 = active immediately
	ExpiryTimestampUs    int64
	Tiers                []TierSpec
	TimestampUs          int64
}

func (l *ListMarket) IdempotencyKey() string   { return l.RequestID.String() }
func (l *ListMarket) CommandType() CommandType { return CommandTypeListMarket }
func (l *ListMarket) MarketID() *string        { return &l.Symbol }
func (l *ListMarket) Timestamp() int64         { return l.TimestampUs }

// Settle triggers settlement of an expired market. Callable by anyone once
// the command clock reaches expiry; repeated calls continue processing
// unsettled positions and never recompute the settlement price.
type Settle struct {
	RequestID   uuid.UUID
	Market      string
	BatchSize   int // 0 = process every unsettled position
	TimestampUs int64
}

func (s *Settle) IdempotencyKey() string   { return s.RequestID.String() }
func (s *Settle) CommandType() CommandType { return CommandTypeSettle }
func (s *Settle) MarketID() *string        { return &s.Market }
func (s *Settle) Timestamp() int64         { return s.TimestampUs }

// MarketListed is emitted once per listing
type MarketListed struct {
	Market             string `json:"market"`
	ContractClass      string `json:"contract_class"`
	ContractSize       int64  `json:"contract_size"`
	TickSize           int64  `json:"tick_size"`
	ListingTimestampUs int64  `json:"listing_timestamp_us"`
	ExpiryTimestampUs  int64  `json:"expiry_timestamp_us"`
}

func (e *MarketListed) EventType() EventType { return EventTypeMarketListed }
func (e *MarketListed) MarketID() *string    { return &e.Market }

// MarketSettled carries the immutable settlement record
type MarketSettled struct {
	Market          string `json:"market"`
	SettlementPrice int64  `json:"settlement_price"`
	Method          string `json:"method"`
	SampleCount     int    `json:"sample_count"`
	TimestampUs     int64  `json:"timestamp_us"`
	OpenPositions   int    `json:"open_positions"`
}

func (e *MarketSettled) EventType() EventType { return EventTypeMarketSettled }
func (e *MarketSettled) MarketID() *string    { return &e.Market }

// PositionSettled is emitted when a position is marked to the settlement price
type PositionSettled struct {
	Market          string    `json:"market"`
	Owner           uuid.UUID `json:"owner"`
	Side            string    `json:"side"`
	Size            int64     `json:"size"`
	EntryPrice      int64     `json:"entry_price"`
	SettlementPrice int64     `json:"settlement_price"`
	RealizedPnL     int64     `json:"realized_pnl"`
	MarginReleased  int64     `json:"margin_released"`
}

func (e *PositionSettled) EventType() EventType { return EventTypePositionSettled }
func (e *PositionSettled) MarketID() *string    { return &e.Market }

// MarketClosed is emitted when the last position of a settled market is processed
type MarketClosed struct {
	Market      string `json:"market"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (e *MarketClosed) EventType() EventType { return EventTypeMarketClosed }
func (e *MarketClosed) MarketID() *string    { return &e.Market }
