package state

import (
	"GasFutures/internal/event"
	"GasFutures/internal/ledger"
	fpmath "GasFutures/internal/math"
	"errors"
	"fmt"
)

// Funds is the staged collateral ledger a margin operation moves money
// through. *ledger.Overlay satisfies it.
type Funds interface {
	Balance(key ledger.AccountKey) int64
	Transfer(from, to ledger.AccountKey, amount int64, jt ledger.JournalType) error
}

// MarginStatus represents a position's margin health
type MarginStatus int

const (
	MarginStatusHealthy MarginStatus = iota
	MarginStatusAtRisk               // equity below initial margin
	MarginStatusLiquidatable         // equity below maintenance margin
)

func (s MarginStatus) String() string {
	switch s {
	case MarginStatusHealthy:
		return "Healthy"
	case MarginStatusAtRisk:
		return "AtRisk"
	case MarginStatusLiquidatable:
		return "Liquidatable"
	default:
		return "Unknown"
	}
}

// MarginEngine computes margin requirements for one market and applies
// fills, liquidations and settlement to positions. Money moves through
// Funds so that a failed step leaves nothing behind once the caller drops
// the staged batch.
type MarginEngine struct {
	params *MarketParams
}

func NewMarginEngine(params *MarketParams) *MarginEngine {
	return &MarginEngine{params: params}
}

// Notional returns size contracts at price in quote micro-units (truncated).
func (me *MarginEngine) Notional(size, price int64) (int64, error) {
	return fpmath.ComputeNotional(price, me.params.ContractSize, size,
		fpmath.PriceConfig.Scale, fpmath.QuoteConfig.Scale)
}

// InitialMargin applies the tier rate reached by the full notional.
// Rounded up so a requirement never favors the trader.
func (me *MarginEngine) InitialMargin(size, price int64) (int64, error) {
	notional, err := me.Notional(size, price)
	if err != nil {
		return 0, err
	}
	rate := me.params.Tiers.RateFor(notional, me.params.InitialMarginBps)
	return fpmath.ComputeBps(notional, rate, fpmath.RoundUp)
}

// MaintenanceMargin at mark price. Rounded up, like InitialMargin.
func (me *MarginEngine) MaintenanceMargin(size, mark int64) (int64, error) {
	notional, err := me.Notional(size, mark)
	if err != nil {
		return 0, err
	}
	return fpmath.ComputeBps(notional, me.params.MaintenanceMarginBps, fpmath.RoundUp)
}

// UnrealizedPnL of pos at mark.
func (me *MarginEngine) UnrealizedPnL(pos *Position, mark int64) (int64, error) {
	if pos.IsFlat() {
		return 0, nil
	}
	return me.pnl(pos, mark, pos.Size)
}

func (me *MarginEngine) pnl(pos *Position, exit, qty int64) (int64, error) {
	return fpmath.ComputePnL(pos.SideSign(), pos.AvgEntryPrice, exit, me.params.ContractSize, qty,
		fpmath.PriceConfig.Scale, fpmath.QuoteConfig.Scale)
}

// Equity is marginPosted + unrealized P&L at mark.
func (me *MarginEngine) Equity(pos *Position, mark int64) (int64, error) {
	upnl, err := me.UnrealizedPnL(pos, mark)
	if err != nil {
		return 0, err
	}
	return pos.MarginPosted + upnl, nil
}

// IsLiquidatable reports marginPosted + uPnL < MM at mark.
func (me *MarginEngine) IsLiquidatable(pos *Position, mark int64) (bool, error) {
	status, err := me.Status(pos, mark)
	if err != nil {
		return false, err
	}
	return status == MarginStatusLiquidatable, nil
}

// Status classifies pos against MM and IM at mark.
func (me *MarginEngine) Status(pos *Position, mark int64) (MarginStatus, error) {
	if pos.IsFlat() {
		return MarginStatusHealthy, nil
	}
	equity, err := me.Equity(pos, mark)
	if err != nil {
		return MarginStatusHealthy, err
	}
	mm, err := me.MaintenanceMargin(pos.Size, mark)
	if err != nil {
		return MarginStatusHealthy, err
	}
	if equity < mm {
		return MarginStatusLiquidatable, nil
	}
	im, err := me.InitialMargin(pos.Size, mark)
	if err != nil {
		return MarginStatusHealthy, err
	}
	if equity < im {
		return MarginStatusAtRisk, nil
	}
	return MarginStatusHealthy, nil
}

// Fee on a fill's notional. Positive bps round up, rebates round down in
// magnitude.
func (me *MarginEngine) Fee(qty, price, bps int64) (int64, error) {
	notional, err := me.Notional(qty, price)
	if err != nil {
		return 0, err
	}
	if bps < 0 {
		return fpmath.ComputeBps(notional, bps, fpmath.RoundDown)
	}
	return fpmath.ComputeBps(notional, bps, fpmath.RoundUp)
}

// Fill is one side of a match as seen by a single position
type Fill struct {
	Side       event.Side // direction the fill moves the position
	Quantity   int64
	Price      int64
	Mark       int64 // margin is checked at mark
	Fee        int64 // negative = rebate
	ReduceOnly bool
	Timestamp  int64
}

// FillOutcome describes the money moved by ApplyFill
type FillOutcome struct {
	ClosedQty      int64
	OpenedQty      int64
	RealizedPnL    int64
	MarginReleased int64
	MarginAdded    int64
	BadDebt        int64
}

// ApplyFill applies a fill to pos in place. Opening, increasing, reducing
// and flipping are one path: the closed portion realizes P&L against the
// entry price and releases its margin share, then the open portion updates
// the size-weighted entry price and tops margin up to the initial
// requirement from free collateral.
//
// On error pos and funds may hold partial changes; the caller discards both.
func (me *MarginEngine) ApplyFill(pos *Position, funds Funds, f Fill) (FillOutcome, error) {
	var out FillOutcome
	if f.Quantity <= 0 {
		return out, fmt.Errorf("%w: fill quantity %d", ErrInvalidParameters, f.Quantity)
	}

	closeQty := int64(0)
	if !pos.IsFlat() && pos.Side != f.Side {
		closeQty = min(f.Quantity, pos.Size)
	}
	openQty := f.Quantity - closeQty

	if f.ReduceOnly && openQty > 0 {
		return out, ErrReduceOnly
	}

	if closeQty > 0 {
		r, err := me.realize(pos, funds, closeQty, f.Price, ledger.JournalTypeTradePnL)
		if err != nil {
			return out, err
		}
		out.ClosedQty = closeQty
		out.RealizedPnL = r.pnl
		out.MarginReleased = r.released
		out.BadDebt = r.badDebt
	}

	collateral := ledger.UserCollateral(pos.Owner)
	if f.Fee > 0 {
		if err := funds.Transfer(collateral, ledger.Treasury(), f.Fee, ledger.JournalTypeTradeFee); err != nil {
			return out, insufficient(err)
		}
	} else if f.Fee < 0 {
		if err := funds.Transfer(ledger.Treasury(), collateral, -f.Fee, ledger.JournalTypeMakerRebate); err != nil {
			return out, err
		}
	}

	if openQty > 0 {
		if pos.IsFlat() {
			pos.Side = f.Side
			pos.AvgEntryPrice = f.Price
			pos.Size = openQty
			if pos.CreatedAt == 0 {
				pos.CreatedAt = f.Timestamp
			}
		} else {
			avg, err := fpmath.ComputeAvgEntryPrice(pos.Size, pos.AvgEntryPrice, openQty, f.Price)
			if err != nil {
				return out, err
			}
			pos.AvgEntryPrice = avg
			pos.Size += openQty
		}
		out.OpenedQty = openQty

		added, err := me.topUp(pos, funds, f.Mark)
		if err != nil {
			return out, err
		}
		out.MarginAdded = added
	}

	pos.UpdatedAt = f.Timestamp
	return out, nil
}

// topUp moves collateral into margin until marginPosted + uPnL reaches IM.
func (me *MarginEngine) topUp(pos *Position, funds Funds, mark int64) (int64, error) {
	im, err := me.InitialMargin(pos.Size, mark)
	if err != nil {
		return 0, err
	}
	equity, err := me.Equity(pos, mark)
	if err != nil {
		return 0, err
	}
	required := im - equity
	if required <= 0 {
		return 0, nil
	}

	err = funds.Transfer(ledger.UserCollateral(pos.Owner), ledger.UserMargin(pos.Owner, pos.Market),
		required, ledger.JournalTypeMarginPost)
	if err != nil {
		return 0, insufficient(err)
	}
	pos.MarginPosted += required
	return required, nil
}

type realization struct {
	pnl      int64
	released int64
	badDebt  int64
}

// realize closes qty of pos at price. A gain is paid from the market's
// clearing account to free collateral with the closed share of margin. A
// loss is paid first out of the closed share and then out of the remaining
// margin; anything beyond posted margin is bad debt.
func (me *MarginEngine) realize(pos *Position, funds Funds, qty, price int64, jt ledger.JournalType) (realization, error) {
	var r realization

	pnl, err := me.pnl(pos, price, qty)
	if err != nil {
		return r, err
	}
	share := pos.MarginPosted
	if qty < pos.Size {
		share, err = fpmath.MulDiv(pos.MarginPosted, qty, pos.Size, fpmath.RoundDown)
		if err != nil {
			return r, err
		}
	}

	collateral := ledger.UserCollateral(pos.Owner)
	margin := ledger.UserMargin(pos.Owner, pos.Market)
	clearing := ledger.Clearing(pos.Market)

	released := share
	if pnl >= 0 {
		if err := funds.Transfer(clearing, collateral, pnl, jt); err != nil {
			return r, err
		}
	} else {
		loss := -pnl
		paid := min(loss, pos.MarginPosted)
		if err := funds.Transfer(margin, clearing, paid, jt); err != nil {
			return r, err
		}
		pos.MarginPosted -= paid
		r.badDebt = loss - paid
		released = max(share-loss, 0)
	}

	if err := funds.Transfer(margin, collateral, released, ledger.JournalTypeMarginRelease); err != nil {
		return r, err
	}
	pos.MarginPosted -= released

	pos.Size -= qty
	pos.RealizedPnL += pnl
	if pos.Size == 0 {
		pos.reset()
	}

	r.pnl = pnl
	r.released = released
	return r, nil
}

// SettlementOutcome describes one position marked to the settlement price
type SettlementOutcome struct {
	Side           event.Side
	Size           int64
	EntryPrice     int64
	RealizedPnL    int64
	MarginReleased int64
	BadDebt        int64
}

// SettlePosition closes pos at the settlement price and releases all margin
// net of the realized P&L.
func (me *MarginEngine) SettlePosition(pos *Position, funds Funds, price, ts int64) (SettlementOutcome, error) {
	out := SettlementOutcome{
		Side:       pos.Side,
		Size:       pos.Size,
		EntryPrice: pos.AvgEntryPrice,
	}

	if pos.IsFlat() {
		// leftover margin of a flat position is returned as is
		released := pos.MarginPosted
		err := funds.Transfer(ledger.UserMargin(pos.Owner, pos.Market), ledger.UserCollateral(pos.Owner),
			released, ledger.JournalTypeMarginRelease)
		if err != nil {
			return out, err
		}
		pos.MarginPosted = 0
		out.MarginReleased = released
		return out, nil
	}

	r, err := me.realize(pos, funds, pos.Size, price, ledger.JournalTypeSettlementPnL)
	if err != nil {
		return out, err
	}
	pos.UpdatedAt = ts

	out.RealizedPnL = r.pnl
	out.MarginReleased = r.released
	out.BadDebt = r.badDebt
	return out, nil
}

func insufficient(err error) error {
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		return fmt.Errorf("%w: %v", ErrInsufficientMargin, err)
	}
	return err
}
