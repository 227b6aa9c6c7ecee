package state

import (
	"GasFutures/internal/event"
	"GasFutures/internal/ledger"
	fpmath "GasFutures/internal/math"

	"github.com/google/uuid"
)

// LiquidationOutcome describes a forced close
type LiquidationOutcome struct {
	Side             event.Side
	Size             int64
	EntryPrice       int64
	MarginPosted     int64
	RealizedPnL      int64
	LiquidationFee   int64 // collected, may be below the nominal fee
	KeeperReward     int64
	TreasuryFee      int64
	ResidualReturned int64
	BadDebt          int64
}

// Liquidate force-closes pos at mark. The fee N·liquidationFeeBps is taken
// from the equity left after realizing P&L; keeperIncentiveBps of the
// collected fee goes to keeper and the rest to the treasury. Whatever is
// left returns to the owner. Losses are capped at posted margin and the
// shortfall reported as bad debt. A nil keeper forfeits its share to the
// treasury.
func (me *MarginEngine) Liquidate(pos *Position, funds Funds, mark int64, keeper uuid.UUID, ts int64) (LiquidationOutcome, error) {
	out := LiquidationOutcome{
		Side:         pos.Side,
		Size:         pos.Size,
		EntryPrice:   pos.AvgEntryPrice,
		MarginPosted: pos.MarginPosted,
	}
	if pos.IsFlat() {
		return out, ErrPositionNotFound
	}

	liquidatable, err := me.IsLiquidatable(pos, mark)
	if err != nil {
		return out, err
	}
	if !liquidatable {
		return out, ErrNotLiquidatable
	}

	notional, err := me.Notional(pos.Size, mark)
	if err != nil {
		return out, err
	}
	fee, err := fpmath.ComputeBps(notional, me.params.LiquidationFeeBps, fpmath.RoundUp)
	if err != nil {
		return out, err
	}

	pnl, err := me.pnl(pos, mark, pos.Size)
	if err != nil {
		return out, err
	}

	margin := ledger.UserMargin(pos.Owner, pos.Market)
	clearing := ledger.Clearing(pos.Market)
	if pnl >= 0 {
		if err := funds.Transfer(clearing, margin, pnl, ledger.JournalTypeTradePnL); err != nil {
			return out, err
		}
		pos.MarginPosted += pnl
	} else {
		paid := min(-pnl, pos.MarginPosted)
		if err := funds.Transfer(margin, clearing, paid, ledger.JournalTypeTradePnL); err != nil {
			return out, err
		}
		pos.MarginPosted -= paid
		out.BadDebt = -pnl - paid
	}
	out.RealizedPnL = pnl

	collected := min(fee, pos.MarginPosted)
	keeperShare, err := fpmath.ComputeBps(collected, me.params.KeeperIncentiveBps, fpmath.RoundDown)
	if err != nil {
		return out, err
	}
	if keeper == uuid.Nil {
		keeperShare = 0
	}
	treasuryShare := collected - keeperShare

	if err := funds.Transfer(margin, ledger.UserCollateral(keeper), keeperShare, ledger.JournalTypeKeeperReward); err != nil {
		return out, err
	}
	if err := funds.Transfer(margin, ledger.Treasury(), treasuryShare, ledger.JournalTypeLiquidationFee); err != nil {
		return out, err
	}
	pos.MarginPosted -= collected

	residual := pos.MarginPosted
	if err := funds.Transfer(margin, ledger.UserCollateral(pos.Owner), residual, ledger.JournalTypeMarginRelease); err != nil {
		return out, err
	}
	pos.MarginPosted = 0

	out.LiquidationFee = collected
	out.KeeperReward = keeperShare
	out.TreasuryFee = treasuryShare
	out.ResidualReturned = residual

	pos.RealizedPnL += pnl
	pos.UpdatedAt = ts
	pos.reset()
	return out, nil
}
