package book

import (
	"GasFutures/internal/event"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// PriceLevel holds resting orders at one price in arrival order
type PriceLevel struct {
	Price  int64
	Orders []*Order
}

func (l *PriceLevel) total() int64 {
	var q int64
	for _, o := range l.Orders {
		q += o.Remaining
	}
	return q
}

// OrderBook is a price-time priority book for a single market. Bids are kept
// best (highest) first and asks best (lowest) first.
type OrderBook struct {
	market   string
	tickSize int64
	bids     []*PriceLevel
	asks     []*PriceLevel
	index    map[uuid.UUID]*Order
	seq      uint64
}

func NewOrderBook(market string, tickSize int64) *OrderBook {
	return &OrderBook{
		market:   market,
		tickSize: tickSize,
		index:    make(map[uuid.UUID]*Order),
	}
}

// Validate checks quantity, tick alignment and id uniqueness.
func (b *OrderBook) Validate(o *Order) error {
	if o.Side != event.OrderSideBuy && o.Side != event.OrderSideSell {
		return fmt.Errorf("%w: side %d", ErrInvalidOrder, o.Side)
	}
	if o.Quantity <= 0 || o.Remaining != o.Quantity {
		return fmt.Errorf("%w: quantity %d", ErrInvalidOrder, o.Quantity)
	}
	if !o.IsMarket() && (o.Price < 0 || o.Price%b.tickSize != 0) {
		return fmt.Errorf("%w: price %d is not a positive multiple of tick %d", ErrInvalidOrder, o.Price, b.tickSize)
	}
	if _, ok := b.index[o.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, o.ID)
	}
	return nil
}

// Decision is the caller's verdict on one proposed match
type Decision int

const (
	// Match fills the maker against the taker.
	Match Decision = iota
	// CancelMaker removes the maker without a fill and continues matching.
	CancelMaker
)

// Fill is one proposed match. Price is always the maker's.
type Fill struct {
	Maker    *Order
	Quantity int64
	Price    int64
}

// Plan is the outcome of matching a taker against the book, not yet applied.
type Plan struct {
	Taker     *Order
	Fills     []Fill
	Cancelled []*Order
	Remaining int64
}

// Filled returns the quantity the taker executes.
func (p *Plan) Filled() int64 {
	return p.Taker.Quantity - p.Remaining
}

// Rests reports whether the taker remainder joins the book on Apply.
func (p *Plan) Rests() bool {
	return p.Remaining > 0 && p.Taker.Rests()
}

// Plan walks the opposite side in priority order while it crosses the taker,
// asking decide about each match of min(taker remaining, maker remaining).
// Nothing in the book changes; an error from decide aborts the plan.
func (b *OrderBook) Plan(taker *Order, decide func(maker *Order, qty int64) (Decision, error)) (*Plan, error) {
	plan := &Plan{Taker: taker, Remaining: taker.Remaining}

	levels := b.asks
	if taker.Side == event.OrderSideSell {
		levels = b.bids
	}

	for _, level := range levels {
		if plan.Remaining == 0 || !taker.crosses(level.Price) {
			break
		}
		for _, maker := range level.Orders {
			if plan.Remaining == 0 {
				break
			}
			qty := min(plan.Remaining, maker.Remaining)

			decision, err := decide(maker, qty)
			if err != nil {
				return nil, err
			}
			switch decision {
			case Match:
				plan.Fills = append(plan.Fills, Fill{Maker: maker, Quantity: qty, Price: level.Price})
				plan.Remaining -= qty
			case CancelMaker:
				plan.Cancelled = append(plan.Cancelled, maker)
			}
		}
	}
	return plan, nil
}

// Apply commits a plan: fills reduce makers in place, exhausted and
// cancelled makers leave the book, and a GTC limit remainder rests.
func (b *OrderBook) Apply(plan *Plan) {
	for _, f := range plan.Fills {
		f.Maker.Remaining -= f.Quantity
		if f.Maker.Remaining < 0 {
			panic(fmt.Sprintf("FATAL: order %s overfilled", f.Maker.ID))
		}
		if f.Maker.Remaining == 0 {
			b.remove(f.Maker)
		}
	}
	for _, o := range plan.Cancelled {
		b.remove(o)
	}

	plan.Taker.Remaining = plan.Remaining
	if plan.Rests() {
		b.insert(plan.Taker)
	}
}

// Cancel removes a resting order owned by owner.
func (b *OrderBook) Cancel(orderID, owner uuid.UUID) (*Order, error) {
	o, ok := b.index[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if o.Owner != owner {
		return nil, fmt.Errorf("%w: %s", ErrNotOrderOwner, orderID)
	}
	b.remove(o)
	return o, nil
}

// CancelAll empties the book and returns the removed orders, bids first.
func (b *OrderBook) CancelAll() []*Order {
	out := make([]*Order, 0, len(b.index))
	for _, levels := range [][]*PriceLevel{b.bids, b.asks} {
		for _, level := range levels {
			out = append(out, level.Orders...)
		}
	}
	b.bids = nil
	b.asks = nil
	b.index = make(map[uuid.UUID]*Order)
	return out
}

// Get returns a resting order.
func (b *OrderBook) Get(orderID uuid.UUID) (*Order, bool) {
	o, ok := b.index[orderID]
	return o, ok
}

// Len returns the number of resting orders.
func (b *OrderBook) Len() int {
	return len(b.index)
}

// BestBid returns the highest bid price.
func (b *OrderBook) BestBid() (int64, bool) {
	if len(b.bids) == 0 {
		return 0, false
	}
	return b.bids[0].Price, true
}

// BestAsk returns the lowest ask price.
func (b *OrderBook) BestAsk() (int64, bool) {
	if len(b.asks) == 0 {
		return 0, false
	}
	return b.asks[0].Price, true
}

// LevelView is an aggregated price level
type LevelView struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
}

// Depth is a snapshot of the top of the book
type Depth struct {
	Market string      `json:"market"`
	Bids   []LevelView `json:"bids"`
	Asks   []LevelView `json:"asks"`
}

// Depth aggregates up to n levels per side. n <= 0 returns every level.
func (b *OrderBook) Depth(n int) Depth {
	view := func(levels []*PriceLevel) []LevelView {
		if n > 0 && len(levels) > n {
			levels = levels[:n]
		}
		out := make([]LevelView, len(levels))
		for i, l := range levels {
			out[i] = LevelView{Price: l.Price, Quantity: l.total(), Orders: len(l.Orders)}
		}
		return out
	}
	return Depth{Market: b.market, Bids: view(b.bids), Asks: view(b.asks)}
}

func (b *OrderBook) side(s event.OrderSide) *[]*PriceLevel {
	if s == event.OrderSideBuy {
		return &b.bids
	}
	return &b.asks
}

// search returns the position of price in levels ordered best first.
func search(levels []*PriceLevel, s event.OrderSide, price int64) int {
	if s == event.OrderSideBuy {
		return sort.Search(len(levels), func(i int) bool { return levels[i].Price <= price })
	}
	return sort.Search(len(levels), func(i int) bool { return levels[i].Price >= price })
}

func (b *OrderBook) insert(o *Order) {
	b.seq++
	o.seq = b.seq

	levels := b.side(o.Side)
	i := search(*levels, o.Side, o.Price)
	if i < len(*levels) && (*levels)[i].Price == o.Price {
		(*levels)[i].Orders = append((*levels)[i].Orders, o)
	} else {
		level := &PriceLevel{Price: o.Price, Orders: []*Order{o}}
		*levels = append(*levels, nil)
		copy((*levels)[i+1:], (*levels)[i:])
		(*levels)[i] = level
	}
	b.index[o.ID] = o
}

func (b *OrderBook) remove(o *Order) {
	if _, ok := b.index[o.ID]; !ok {
		return
	}
	delete(b.index, o.ID)

	levels := b.side(o.Side)
	i := search(*levels, o.Side, o.Price)
	if i == len(*levels) || (*levels)[i].Price != o.Price {
		panic(fmt.Sprintf("FATAL: order %s indexed but missing from level %d", o.ID, o.Price))
	}
	level := (*levels)[i]

	// orders within a level are ordered by seq
	j := sort.Search(len(level.Orders), func(k int) bool { return level.Orders[k].seq >= o.seq })
	level.Orders = append(level.Orders[:j], level.Orders[j+1:]...)
	if len(level.Orders) == 0 {
		*levels = append((*levels)[:i], (*levels)[i+1:]...)
	}
}
