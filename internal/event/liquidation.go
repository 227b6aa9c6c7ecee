package event

import (
	"github.com/google/uuid"
)

// Liquidate asks the engine to force-close Owner's position. Any party may
// send it; Keeper receives the keeper share of the liquidation fee.
type Liquidate struct {
	RequestID   uuid.UUID
	Market      string
	Owner       uuid.UUID
	Keeper      uuid.UUID
	TimestampUs int64
}

func (l *Liquidate) IdempotencyKey() string   { return l.RequestID.String() }
func (l *Liquidate) CommandType() CommandType { return CommandTypeLiquidate }
func (l *Liquidate) MarketID() *string        { return &l.Market }
func (l *Liquidate) Timestamp() int64         { return l.TimestampUs }

// PositionLiquidated is emitted after a forced close at mark price
type PositionLiquidated struct {
	Market           string    `json:"market"`
	Owner            uuid.UUID `json:"owner"`
	Keeper           uuid.UUID `json:"keeper"`
	Side             string    `json:"side"`
	Size             int64     `json:"size"`
	EntryPrice       int64     `json:"entry_price"`
	MarkPrice        int64     `json:"mark_price"`
	MarginPosted     int64     `json:"margin_posted"`
	RealizedPnL      int64     `json:"realized_pnl"`
	LiquidationFee   int64     `json:"liquidation_fee"` // fee actually collected
	KeeperReward     int64     `json:"keeper_reward"`
	TreasuryFee      int64     `json:"treasury_fee"`
	ResidualReturned int64     `json:"residual_returned"`
	TimestampUs      int64     `json:"timestamp_us"`
}

func (e *PositionLiquidated) EventType() EventType { return EventTypePositionLiquidated }
func (e *PositionLiquidated) MarketID() *string    { return &e.Market }

// Bad debt sources
const (
	BadDebtSourceLiquidation = "liquidation"
	BadDebtSourceTrade       = "trade"
	BadDebtSourceSettlement  = "settlement"
)

// BadDebtReported is emitted when a loss exceeds the margin posted. The
// shortfall is left for the settlement/insurance collaborator to absorb.
type BadDebtReported struct {
	Market      string    `json:"market"`
	Owner       uuid.UUID `json:"owner"`
	Amount      int64     `json:"amount"`
	Source      string    `json:"source"`
	TimestampUs int64     `json:"timestamp_us"`
}

func (e *BadDebtReported) EventType() EventType { return EventTypeBadDebtReported }
func (e *BadDebtReported) MarketID() *string    { return &e.Market }
