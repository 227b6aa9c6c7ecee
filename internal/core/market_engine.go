package core

import (
	"GasFutures/internal/book"
	"GasFutures/internal/event"
	"GasFutures/internal/ledger"
	"GasFutures/internal/state"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// OrderStatus is the state of a submitted order after matching
type OrderStatus string

const (
	OrderStatusResting         OrderStatus = "resting"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// OrderResult is returned for every accepted submission
type OrderResult struct {
	OrderID   uuid.UUID            `json:"order_id"`
	Status    OrderStatus          `json:"status"`
	Filled    int64                `json:"filled"`
	Remaining int64                `json:"remaining"`
	Fills     []*event.OrderFilled `json:"fills"`
}

// Result is what a command did to a market. Events are in emission order.
type Result struct {
	Events     []event.Event
	Batch      *ledger.Batch     // nil when no money moved
	Positions  []*state.Position // committed positions the command touched
	Order      *OrderResult
	Settlement *state.SettlementRecord
	LogSeq     int64 // assigned by Exchange
}

// changed reports whether the command left a trace that must be logged.
func (r *Result) changed() bool {
	return r != nil && (len(r.Events) > 0 || r.Order != nil)
}

// MarketEngine owns one market: lifecycle, index buffer, order book,
// positions and settlement progress. It is not safe for concurrent use;
// Exchange serializes access per market and linearizes access to funds.
type MarketEngine struct {
	market     *state.Market
	book       *book.OrderBook
	positions  *state.PositionManager
	margin     *state.MarginEngine
	settlement *state.SettlementEngine
	funds      *ledger.BalanceTracker
	validator  *ledger.InvariantValidator

	// Latest command clock seen, used by queries
	clock int64
}

func NewMarketEngine(m *state.Market, funds *ledger.BalanceTracker) *MarketEngine {
	return &MarketEngine{
		market:     m,
		book:       book.NewOrderBook(m.Params.Symbol, m.Params.TickSize),
		positions:  state.NewPositionManager(m.Params.Symbol),
		margin:     state.NewMarginEngine(&m.Params),
		settlement: state.NewSettlementEngine(m),
		funds:      funds,
		validator:  ledger.NewInvariantValidator(funds),
	}
}

// Symbol returns the market symbol.
func (e *MarketEngine) Symbol() string {
	return e.market.Params.Symbol
}

// Market returns the market state. Callers must hold the market lock.
func (e *MarketEngine) Market() *state.Market {
	return e.market
}

func (e *MarketEngine) tick(now int64) {
	if now > e.clock {
		e.clock = now
	}
	e.market.Refresh(now)
}

// --- Staged transaction ---

// txn stages ledger transfers and position changes for one command. Nothing
// is visible until commit; dropping a txn discards everything.
type txn struct {
	eng       *MarketEngine
	funds     *ledger.Overlay
	positions map[uuid.UUID]*state.Position
	touched   []uuid.UUID // staging order
	events    []event.Event
}

func (e *MarketEngine) begin(ref string, now int64) *txn {
	return &txn{
		eng:       e,
		funds:     ledger.NewOverlay(e.funds, ref, now),
		positions: make(map[uuid.UUID]*state.Position),
	}
}

// position returns the staged copy of owner's position.
func (t *txn) position(owner uuid.UUID) *state.Position {
	if pos, ok := t.positions[owner]; ok {
		return pos
	}
	pos := t.eng.positions.Stage(owner)
	t.positions[owner] = pos
	t.touched = append(t.touched, owner)
	return pos
}

func (t *txn) emit(ev event.Event) {
	t.events = append(t.events, ev)
}

// commit applies the staged batch atomically and then the staged positions.
// The ledger is the arbiter: if it refuses the batch, no position changes.
func (t *txn) commit() (*ledger.Batch, []*state.Position, error) {
	var batch *ledger.Batch
	if !t.funds.Empty() {
		batch = t.funds.Batch()
		if err := t.eng.funds.ApplyBatch(batch); err != nil {
			if errors.Is(err, ledger.ErrInsufficientBalance) {
				return nil, nil, fmt.Errorf("%w: %v", state.ErrInsufficientMargin, err)
			}
			return nil, nil, err
		}
	}

	committed := make([]*state.Position, 0, len(t.touched))
	for _, owner := range t.touched {
		pos := t.positions[owner]
		if pos.MarginPosted < 0 {
			panic(fmt.Sprintf("FATAL: position %s/%s has negative margin %d", pos.Market, owner, pos.MarginPosted))
		}
		if err := t.eng.validator.ValidateMarginMatches(ledger.UserMargin(owner, pos.Market), pos.MarginPosted); err != nil {
			panic(fmt.Sprintf("FATAL: %v", err))
		}
		t.eng.positions.Put(pos)
		committed = append(committed, pos)
	}
	return batch, committed, nil
}

// --- Index feed ---

// ApplyIndexReading runs a reading through the deviation gate. A rejected
// reading quarantines the market and is returned with its rejection event
// and ErrPriceDeviation.
func (e *MarketEngine) ApplyIndexReading(cmd *event.IndexReading) (*Result, error) {
	e.tick(cmd.TimestampUs)
	m := e.market
	last := m.LastAcceptedPrice

	deviation, err := m.AcceptReading(cmd.TimestampUs, cmd.Price)
	if errors.Is(err, state.ErrPriceDeviation) {
		return &Result{Events: []event.Event{&event.PriceDeviationRejected{
			Market:            cmd.Market,
			Price:             cmd.Price,
			LastAcceptedPrice: last,
			DeviationBps:      deviation,
			MaxDeviationBps:   m.Gate.MaxDeviationBps,
			TimestampUs:       cmd.TimestampUs,
		}}}, err
	}
	if err != nil {
		return nil, err
	}

	return &Result{Events: []event.Event{&event.IndexPriceAccepted{
		Market:      cmd.Market,
		Price:       cmd.Price,
		TimestampUs: cmd.TimestampUs,
	}}}, nil
}

// --- Orders ---

// SubmitOrder matches an order against the book. Each match is applied to
// both positions inside one staged transaction. A maker that cannot carry
// its side of the fill is cancelled and matching continues; a taker that
// cannot carry its side aborts the whole order and nothing is committed.
func (e *MarketEngine) SubmitOrder(cmd *event.SubmitOrder) (*Result, error) {
	now := cmd.TimestampUs
	e.tick(now)
	m := e.market

	if err := m.CheckTradable(); err != nil {
		return nil, err
	}
	if !cmd.IsMarket() {
		if err := m.ValidateOrderPrice(cmd.LimitPrice); err != nil {
			return nil, err
		}
	}
	taker := book.FromCommand(cmd)
	if err := e.book.Validate(taker); err != nil {
		return nil, err
	}

	reduceOnly := m.ReduceOnly()
	if reduceOnly {
		if err := e.checkReduceOnly(taker); err != nil {
			return nil, err
		}
	}
	mark, err := m.MarkPrice()
	if err != nil {
		return nil, err
	}

	tx := e.begin(cmd.IdempotencyKey(), now)
	takerPos := tx.position(taker.Owner)
	result := &OrderResult{OrderID: taker.ID}

	plan, err := e.book.Plan(taker, func(maker *book.Order, qty int64) (book.Decision, error) {
		if maker.Owner == taker.Owner {
			tx.emit(cancelled(m.Params.Symbol, maker, event.CancelReasonSelfTrade, now))
			return book.CancelMaker, nil
		}
		price := maker.Price

		sp := tx.funds.Savepoint()
		makerPos := tx.position(maker.Owner)
		before := *makerPos

		makerFee, err := e.margin.Fee(qty, price, m.Params.MakerFeeBps)
		if err != nil {
			return book.Match, err
		}
		makerOut, err := e.margin.ApplyFill(makerPos, tx.funds, state.Fill{
			Side:       maker.Side.PositionSide(),
			Quantity:   qty,
			Price:      price,
			Mark:       mark,
			Fee:        makerFee,
			ReduceOnly: reduceOnly,
			Timestamp:  now,
		})
		if err != nil {
			tx.funds.Rollback(sp)
			*makerPos = before
			switch {
			case errors.Is(err, state.ErrInsufficientMargin):
				tx.emit(cancelled(m.Params.Symbol, maker, event.CancelReasonInsufficientMargin, now))
			case errors.Is(err, state.ErrReduceOnly):
				tx.emit(cancelled(m.Params.Symbol, maker, event.CancelReasonReduceOnly, now))
			default:
				return book.Match, err
			}
			return book.CancelMaker, nil
		}

		takerFee, err := e.margin.Fee(qty, price, m.Params.TakerFeeBps)
		if err != nil {
			return book.Match, err
		}
		takerOut, err := e.margin.ApplyFill(takerPos, tx.funds, state.Fill{
			Side:       taker.Side.PositionSide(),
			Quantity:   qty,
			Price:      price,
			Mark:       mark,
			Fee:        takerFee,
			ReduceOnly: reduceOnly,
			Timestamp:  now,
		})
		if err != nil {
			return book.Match, fmt.Errorf("order %s: %w", taker.ID, err)
		}

		fill := &event.OrderFilled{
			Market:       m.Params.Symbol,
			FillID:       uuid.NewSHA1(taker.ID, []byte(strconv.Itoa(len(result.Fills)))),
			MakerOrderID: maker.ID,
			TakerOrderID: taker.ID,
			Maker:        maker.Owner,
			Taker:        taker.Owner,
			TakerSide:    taker.Side.String(),
			Price:        price,
			Quantity:     qty,
			MakerFee:     makerFee,
			TakerFee:     takerFee,
			TimestampUs:  now,
		}
		result.Fills = append(result.Fills, fill)
		tx.emit(fill)
		if makerOut.BadDebt > 0 {
			tx.emit(badDebt(m.Params.Symbol, maker.Owner, makerOut.BadDebt, event.BadDebtSourceTrade, now))
		}
		if takerOut.BadDebt > 0 {
			tx.emit(badDebt(m.Params.Symbol, taker.Owner, takerOut.BadDebt, event.BadDebtSourceTrade, now))
		}
		return book.Match, nil
	})
	if err != nil {
		return nil, err
	}

	batch, committed, err := tx.commit()
	if err != nil {
		return nil, err
	}
	e.book.Apply(plan)

	filled := plan.Filled()
	if filled > 0 {
		m.RecordTrade(now, filled)
		m.OpenInterest = e.positions.OpenInterest()
	}

	result.Filled = filled
	result.Remaining = plan.Remaining
	switch {
	case plan.Remaining == 0:
		result.Status = OrderStatusFilled
	case filled > 0:
		result.Status = OrderStatusPartiallyFilled
	case plan.Rests():
		result.Status = OrderStatusResting
	default:
		result.Status = OrderStatusCancelled
	}

	return &Result{
		Events:    tx.events,
		Batch:     batch,
		Positions: committed,
		Order:     result,
	}, nil
}

// checkReduceOnly rejects a taker that would open, increase or flip a
// position while the market is Expiring.
func (e *MarketEngine) checkReduceOnly(o *book.Order) error {
	pos, ok := e.positions.Get(o.Owner)
	if !ok || pos.IsFlat() {
		return fmt.Errorf("%w: %s has no position to reduce", state.ErrReduceOnly, o.Owner)
	}
	if o.Side.PositionSide() == pos.Side {
		return fmt.Errorf("%w: %s order would increase a %s position", state.ErrReduceOnly, o.Side, pos.Side)
	}
	if o.Quantity > pos.Size {
		return fmt.Errorf("%w: quantity %d exceeds position size %d", state.ErrReduceOnly, o.Quantity, pos.Size)
	}
	return nil
}

// CancelOrder removes a resting order. Allowed in any status.
func (e *MarketEngine) CancelOrder(cmd *event.CancelOrder) (*Result, error) {
	e.tick(cmd.TimestampUs)

	o, err := e.book.Cancel(cmd.OrderID, cmd.Owner)
	if err != nil {
		return nil, err
	}
	return &Result{Events: []event.Event{
		cancelled(e.market.Params.Symbol, o, event.CancelReasonUser, cmd.TimestampUs),
	}}, nil
}

// --- Liquidation ---

// Liquidate force-closes a position whose equity fell below maintenance
// margin, at the current mark.
func (e *MarketEngine) Liquidate(cmd *event.Liquidate) (*Result, error) {
	now := cmd.TimestampUs
	e.tick(now)
	m := e.market

	if err := m.CheckTradable(); err != nil {
		return nil, err
	}
	mark, err := m.MarkPrice()
	if err != nil {
		return nil, err
	}
	if _, ok := e.positions.Get(cmd.Owner); !ok {
		return nil, fmt.Errorf("%w: %s in %s", state.ErrPositionNotFound, cmd.Owner, cmd.Market)
	}

	tx := e.begin(cmd.IdempotencyKey(), now)
	pos := tx.position(cmd.Owner)
	out, err := e.margin.Liquidate(pos, tx.funds, mark, cmd.Keeper, now)
	if err != nil {
		return nil, err
	}

	tx.emit(&event.PositionLiquidated{
		Market:           cmd.Market,
		Owner:            cmd.Owner,
		Keeper:           cmd.Keeper,
		Side:             out.Side.String(),
		Size:             out.Size,
		EntryPrice:       out.EntryPrice,
		MarkPrice:        mark,
		MarginPosted:     out.MarginPosted,
		RealizedPnL:      out.RealizedPnL,
		LiquidationFee:   out.LiquidationFee,
		KeeperReward:     out.KeeperReward,
		TreasuryFee:      out.TreasuryFee,
		ResidualReturned: out.ResidualReturned,
		TimestampUs:      now,
	})
	if out.BadDebt > 0 {
		tx.emit(badDebt(cmd.Market, cmd.Owner, out.BadDebt, event.BadDebtSourceLiquidation, now))
	}

	batch, committed, err := tx.commit()
	if err != nil {
		return nil, err
	}
	m.OpenInterest = e.positions.OpenInterest()

	return &Result{Events: tx.events, Batch: batch, Positions: committed}, nil
}

// --- Settlement ---

// Settle fixes the settlement record on the first call, cancels every
// resting order and then marks up to cmd.BatchSize positions to the
// settlement price. Later calls continue with the remaining positions and
// return the existing record with ErrAlreadySettled. The market closes when
// the last position is processed.
func (e *MarketEngine) Settle(cmd *event.Settle) (*Result, error) {
	now := cmd.TimestampUs
	e.tick(now)
	m := e.market

	res := &Result{}
	rec, err := e.settlement.Begin(e.positions, now)
	already := errors.Is(err, state.ErrAlreadySettled)
	if err != nil && !already {
		return nil, err
	}
	res.Settlement = rec

	if !already {
		res.Events = append(res.Events, &event.MarketSettled{
			Market:          m.Params.Symbol,
			SettlementPrice: rec.SettlementPrice,
			Method:          rec.Method.String(),
			SampleCount:     rec.SampleCount,
			TimestampUs:     now,
			OpenPositions:   e.settlement.Remaining(),
		})
		for _, o := range e.book.CancelAll() {
			res.Events = append(res.Events, cancelled(m.Params.Symbol, o, event.CancelReasonSettlement, now))
		}
	}
	if m.Status == state.MarketStatusClosed {
		return res, err
	}

	tx := e.begin(cmd.IdempotencyKey(), now)
	owners := e.settlement.Next(cmd.BatchSize)
	for _, owner := range owners {
		pos := tx.position(owner)
		out, serr := e.margin.SettlePosition(pos, tx.funds, rec.SettlementPrice, now)
		if serr != nil {
			panic(fmt.Sprintf("FATAL: settle %s/%s: %v", m.Params.Symbol, owner, serr))
		}
		tx.emit(&event.PositionSettled{
			Market:          m.Params.Symbol,
			Owner:           owner,
			Side:            out.Side.String(),
			Size:            out.Size,
			EntryPrice:      out.EntryPrice,
			SettlementPrice: rec.SettlementPrice,
			RealizedPnL:     out.RealizedPnL,
			MarginReleased:  out.MarginReleased,
		})
		if out.BadDebt > 0 {
			tx.emit(badDebt(m.Params.Symbol, owner, out.BadDebt, event.BadDebtSourceSettlement, now))
		}
	}

	batch, committed, cerr := tx.commit()
	if cerr != nil {
		panic(fmt.Sprintf("FATAL: settle %s: %v", m.Params.Symbol, cerr))
	}
	for _, owner := range owners {
		e.settlement.MarkProcessed(owner)
	}
	res.Events = append(res.Events, tx.events...)
	res.Batch = batch
	res.Positions = committed
	m.OpenInterest = e.positions.OpenInterest()

	if e.settlement.Done() {
		m.MarkClosed()
		res.Events = append(res.Events, &event.MarketClosed{Market: m.Params.Symbol, TimestampUs: now})
	}
	return res, err
}

// --- Event builders ---

func cancelled(market string, o *book.Order, reason string, now int64) *event.OrderCancelled {
	return &event.OrderCancelled{
		Market:      market,
		OrderID:     o.ID,
		Owner:       o.Owner,
		Remaining:   o.Remaining,
		Reason:      reason,
		TimestampUs: now,
	}
}

func badDebt(market string, owner uuid.UUID, amount int64, source string, now int64) *event.BadDebtReported {
	return &event.BadDebtReported{
		Market:      market,
		Owner:       owner,
		Amount:      amount,
		Source:      source,
		TimestampUs: now,
	}
}
