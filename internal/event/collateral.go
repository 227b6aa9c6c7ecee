package event

import (
	"github.com/google/uuid"
)

// DepositCollateral credits free collateral to Owner
type DepositCollateral struct {
	DepositID   uuid.UUID
	Owner       uuid.UUID
	Amount      int64
	TimestampUs int64
}

func (d *DepositCollateral) IdempotencyKey() string   { return d.DepositID.String() }
func (d *DepositCollateral) CommandType() CommandType { return CommandTypeDepositCollateral }
func (d *DepositCollateral) MarketID() *string        { return nil }
func (d *DepositCollateral) Timestamp() int64         { return d.TimestampUs }

// WithdrawCollateral debits free collateral from Owner
type WithdrawCollateral struct {
	WithdrawalID uuid.UUID
	Owner        uuid.UUID
	Amount       int64
	TimestampUs  int64
}

func (w *WithdrawCollateral) IdempotencyKey() string   { return w.WithdrawalID.String() }
func (w *WithdrawCollateral) CommandType() CommandType { return CommandTypeWithdrawCollateral }
func (w *WithdrawCollateral) MarketID() *string        { return nil }
func (w *WithdrawCollateral) Timestamp() int64         { return w.TimestampUs }

type CollateralDeposited struct {
	Owner       uuid.UUID `json:"owner"`
	Amount      int64     `json:"amount"`
	Balance     int64     `json:"balance"`
	TimestampUs int64     `json:"timestamp_us"`
}

func (e *CollateralDeposited) EventType() EventType { return EventTypeCollateralDeposited }
func (e *CollateralDeposited) MarketID() *string    { return nil }

type CollateralWithdrawn struct {
	Owner       uuid.UUID `json:"owner"`
	Amount      int64     `json:"amount"`
	Balance     int64     `json:"balance"`
	TimestampUs int64     `json:"timestamp_us"`
}

func (e *CollateralWithdrawn) EventType() EventType { return EventTypeCollateralWithdrawn }
func (e *CollateralWithdrawn) MarketID() *string    { return nil }
