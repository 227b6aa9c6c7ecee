package event

import (
	"github.com/google/uuid"
)

// SubmitOrder places an order. LimitPrice == 0 denotes a market order,
// which never rests.
type SubmitOrder struct {
	OrderID     uuid.UUID
	Owner       uuid.UUID
	Market      string
	Side        OrderSide
	Quantity    int64
	LimitPrice  int64
	TimeInForce TimeInForce
	TimestampUs int64
}

func (o *SubmitOrder) IdempotencyKey() string   { return o.OrderID.String() }
func (o *SubmitOrder) CommandType() CommandType { return CommandTypeSubmitOrder }
func (o *SubmitOrder) MarketID() *string        { return &o.Market }
func (o *SubmitOrder) Timestamp() int64         { return o.TimestampUs }

// IsMarket reports whether the order has no limit price.
func (o *SubmitOrder) IsMarket() bool { return o.LimitPrice == 0 }

// CancelOrder removes a resting order owned by Owner
type CancelOrder struct {
	OrderID     uuid.UUID
	Owner       uuid.UUID
	Market      string
	TimestampUs int64
}

func (c *CancelOrder) IdempotencyKey() string   { return "cancel:" + c.OrderID.String() }
func (c *CancelOrder) CommandType() CommandType { return CommandTypeCancelOrder }
func (c *CancelOrder) MarketID() *string        { return &c.Market }
func (c *CancelOrder) Timestamp() int64         { return c.TimestampUs }

// OrderFilled is emitted once per match. The resting order is always the maker.
type OrderFilled struct {
	Market       string    `json:"market"`
	FillID       uuid.UUID `json:"fill_id"`
	MakerOrderID uuid.UUID `json:"maker_order_id"`
	TakerOrderID uuid.UUID `json:"taker_order_id"`
	Maker        uuid.UUID `json:"maker"`
	Taker        uuid.UUID `json:"taker"`
	TakerSide    string    `json:"taker_side"`
	Price        int64     `json:"price"`
	Quantity     int64     `json:"quantity"`
	MakerFee     int64     `json:"maker_fee"` // negative = rebate
	TakerFee     int64     `json:"taker_fee"`
	TimestampUs  int64     `json:"timestamp_us"`
}

func (e *OrderFilled) EventType() EventType { return EventTypeOrderFilled }
func (e *OrderFilled) MarketID() *string    { return &e.Market }

// OrderCancelled is emitted when a resting order leaves the book unfilled
type OrderCancelled struct {
	Market      string    `json:"market"`
	OrderID     uuid.UUID `json:"order_id"`
	Owner       uuid.UUID `json:"owner"`
	Remaining   int64     `json:"remaining"`
	Reason      string    `json:"reason"`
	TimestampUs int64     `json:"timestamp_us"`
}

func (e *OrderCancelled) EventType() EventType { return EventTypeOrderCancelled }
func (e *OrderCancelled) MarketID() *string    { return &e.Market }

// Cancellation reasons
const (
	CancelReasonUser               = "user"
	CancelReasonInsufficientMargin = "insufficient_margin"
	CancelReasonReduceOnly         = "reduce_only"
	CancelReasonSettlement         = "settlement"
	CancelReasonSelfTrade          = "self_trade"
)
