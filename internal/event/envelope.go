package event

import (
	"time"
)

// CommandType discriminator for inbound commands
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeListMarket
	CommandTypeIndexReading
	CommandTypeSubmitOrder
	CommandTypeCancelOrder
	CommandTypeLiquidate
	CommandTypeSettle
	CommandTypeDepositCollateral
	CommandTypeWithdrawCollateral
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTypeListMarket:
		return "ListMarket"
	case CommandTypeIndexReading:
		return "IndexReading"
	case CommandTypeSubmitOrder:
		return "SubmitOrder"
	case CommandTypeCancelOrder:
		return "CancelOrder"
	case CommandTypeLiquidate:
		return "Liquidate"
	case CommandTypeSettle:
		return "Settle"
	case CommandTypeDepositCollateral:
		return "DepositCollateral"
	case CommandTypeWithdrawCollateral:
		return "WithdrawCollateral"
	default:
		return "Unknown"
	}
}

// ParseCommandType is the inverse of CommandType.String.
func ParseCommandType(s string) CommandType {
	for ct := CommandTypeListMarket; ct <= CommandTypeWithdrawCollateral; ct++ {
		if ct.String() == s {
			return ct
		}
	}
	return CommandTypeUnknown
}

// EventType discriminator for emitted events
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeMarketListed
	EventTypeIndexPriceAccepted
	EventTypePriceDeviationRejected
	EventTypeOrderFilled
	EventTypeOrderCancelled
	EventTypePositionLiquidated
	EventTypeBadDebtReported
	EventTypeMarketSettled
	EventTypePositionSettled
	EventTypeMarketClosed
	EventTypeCollateralDeposited
	EventTypeCollateralWithdrawn
)

func (et EventType) String() string {
	switch et {
	case EventTypeMarketListed:
		return "MarketListed"
	case EventTypeIndexPriceAccepted:
		return "IndexPriceAccepted"
	case EventTypePriceDeviationRejected:
		return "PriceDeviationRejected"
	case EventTypeOrderFilled:
		return "OrderFilled"
	case EventTypeOrderCancelled:
		return "OrderCancelled"
	case EventTypePositionLiquidated:
		return "PositionLiquidated"
	case EventTypeBadDebtReported:
		return "BadDebtReported"
	case EventTypeMarketSettled:
		return "MarketSettled"
	case EventTypePositionSettled:
		return "PositionSettled"
	case EventTypeMarketClosed:
		return "MarketClosed"
	case EventTypeCollateralDeposited:
		return "CollateralDeposited"
	case EventTypeCollateralWithdrawn:
		return "CollateralWithdrawn"
	default:
		return "Unknown"
	}
}

// Command is the interface all inbound commands implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// MarketID returns the market context (nil for account-level commands)
	MarketID() *string

	// Timestamp returns the command clock in epoch microseconds.
	// The engine never reads wall-clock time.
	Timestamp() int64
}

// Event is the interface all emitted event payloads implement
type Event interface {
	EventType() EventType
	MarketID() *string
}

// EventEnvelope wraps every emitted event
type EventEnvelope struct {
	// Per-stream monotonic sequence assigned by the core
	Sequence int64

	// Derived from the originating command key and emission index
	IdempotencyKey string

	EventType EventType

	// Market context (nil for account-level events)
	MarketID *string

	// Command timestamp (NOT wall-clock)
	Timestamp time.Time

	// Idempotency key of the command that produced this event
	CommandRef string

	Payload Event

	// SHA-256 chain over emitted events of the stream
	StateHash [32]byte
	PrevHash  [32]byte
}

// Side is the direction of a position
type Side int8

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "flat"
	}
}

// Sign returns +1 for long, -1 for short, 0 for flat.
func (s Side) Sign() int64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	default:
		return 0
	}
}

// Opposite returns the other side; flat stays flat.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// OrderSide is the direction of an order
type OrderSide int8

const (
	OrderSideBuy OrderSide = iota + 1
	OrderSideSell
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// PositionSide maps buy to long and sell to short.
func (s OrderSide) PositionSide() Side {
	switch s {
	case OrderSideBuy:
		return SideLong
	case OrderSideSell:
		return SideShort
	default:
		return SideFlat
	}
}

// TimeInForce controls what happens to an unfilled remainder
type TimeInForce int8

const (
	// GTC rests the remainder at the limit price.
	TimeInForceGTC TimeInForce = iota
	// IOC discards the remainder.
	TimeInForceIOC
)

func (t TimeInForce) String() string {
	switch t {
	case TimeInForceGTC:
		return "GTC"
	case TimeInForceIOC:
		return "IOC"
	default:
		return "unknown"
	}
}

// MicrosToTime converts a command timestamp to time.Time (UTC).
func MicrosToTime(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
