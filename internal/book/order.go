package book

import (
	"GasFutures/internal/event"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrNotOrderOwner  = errors.New("order belongs to another owner")
	ErrDuplicateOrder = errors.New("duplicate order id")
	ErrInvalidOrder   = errors.New("invalid order")
)

// Order is a live order. Remaining is mutated in place by partial fills.
type Order struct {
	ID          uuid.UUID
	Owner       uuid.UUID
	Side        event.OrderSide
	Price       int64 // 0 = market order
	Quantity    int64 // as submitted
	Remaining   int64
	TimeInForce event.TimeInForce
	Timestamp   int64
	seq         uint64
}

// FromCommand builds an order from a submission.
func FromCommand(cmd *event.SubmitOrder) *Order {
	return &Order{
		ID:          cmd.OrderID,
		Owner:       cmd.Owner,
		Side:        cmd.Side,
		Price:       cmd.LimitPrice,
		Quantity:    cmd.Quantity,
		Remaining:   cmd.Quantity,
		TimeInForce: cmd.TimeInForce,
		Timestamp:   cmd.TimestampUs,
	}
}

// IsMarket reports whether the order has no limit price.
func (o *Order) IsMarket() bool {
	return o.Price == 0
}

// Rests reports whether an unfilled remainder joins the book.
func (o *Order) Rests() bool {
	return !o.IsMarket() && o.TimeInForce == event.TimeInForceGTC
}

// Filled returns the executed quantity.
func (o *Order) Filled() int64 {
	return o.Quantity - o.Remaining
}

// crosses reports whether the taker o trades against a resting price.
func (o *Order) crosses(resting int64) bool {
	if o.IsMarket() {
		return true
	}
	if o.Side == event.OrderSideBuy {
		return o.Price >= resting
	}
	return o.Price <= resting
}
