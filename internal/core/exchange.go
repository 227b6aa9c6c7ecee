package core

import (
	"GasFutures/internal/book"
	"GasFutures/internal/event"
	"GasFutures/internal/ledger"
	"GasFutures/internal/observability"
	"GasFutures/internal/state"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrDuplicateCommand = errors.New("duplicate command")
	ErrUnknownMarket    = errors.New("unknown market")
	ErrMarketExists     = errors.New("market already listed")
	ErrUnknownCommand   = errors.New("unknown command")
)

const (
	accountStream   = "account"
	listingClock    = "listing"
	invariantPeriod = 1000
)

// CoreOutput is everything a logged command produced. The persistence
// worker stores it; the publisher fans the envelopes out.
type CoreOutput struct {
	LogSeq     int64
	Command    event.Command
	Stream     string
	Envelopes  []*event.EventEnvelope
	Batch      *ledger.Batch
	Positions  []*state.Position
	Settlement *state.SettlementRecord
	Rejected   bool // logged because a rejection still changed state
}

// stream is one hash-chained envelope sequence.
type stream struct {
	name   string
	seq    int64
	hasher *StateHasher
}

func newStream(name string) *stream {
	return &stream{name: name, hasher: NewStateHasher(name)}
}

type marketSlot struct {
	mu     sync.Mutex
	engine *MarketEngine
	stream *stream
}

// Exchange routes commands to market engines. Each market is serialized
// by its own mutex. The collateral ledger is the only state shared between
// markets: commands that move money also hold fundsMu, which linearizes
// them against each other, while index readings, cancels and listings run
// concurrently across markets.
type Exchange struct {
	mu      sync.RWMutex // guards markets
	markets map[string]*marketSlot

	fundsMu   sync.Mutex
	funds     *ledger.BalanceTracker
	validator *ledger.InvariantValidator
	account   *stream

	sequencer   *Sequencer
	idempotency *IdempotencyChecker
	clocks      *SequenceValidator
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan chan<- CoreOutput
	publishChan chan<- CoreOutput

	replaying bool
}

// Config wires an Exchange to its collaborators. Nil channels and metrics
// are allowed.
type Config struct {
	PersistChan   chan<- CoreOutput
	PublishChan   chan<- CoreOutput
	DBChecker     DBIdempotencyChecker
	DedupCapacity int
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

func NewExchange(cfg Config) *Exchange {
	capacity := cfg.DedupCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}
	funds := ledger.NewBalanceTracker()
	return &Exchange{
		markets:     make(map[string]*marketSlot),
		funds:       funds,
		validator:   ledger.NewInvariantValidator(funds),
		account:     newStream(accountStream),
		sequencer:   NewSequencer(),
		idempotency: NewIdempotencyChecker(capacity, cfg.DBChecker),
		clocks:      NewSequenceValidator(),
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		persistChan: cfg.PersistChan,
		publishChan: cfg.PublishChan,
	}
}

// Apply processes one command. Rejections are returned as errors; a
// rejected index reading still returns its Result, since quarantining the
// market is a state change.
func (x *Exchange) Apply(cmd event.Command) (*Result, error) {
	start := time.Now()
	ctype := cmd.CommandType().String()

	var res *Result
	var err error
	switch c := cmd.(type) {
	case *event.ListMarket:
		res, err = x.listMarket(c)
	case *event.DepositCollateral:
		res, err = x.deposit(c)
	case *event.WithdrawCollateral:
		res, err = x.withdraw(c)
	case *event.IndexReading, *event.SubmitOrder, *event.CancelOrder, *event.Liquidate, *event.Settle:
		res, err = x.applyMarket(cmd)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}

	if x.metrics != nil {
		if err != nil && !errors.Is(err, state.ErrAlreadySettled) {
			x.metrics.CommandsRejected.WithLabelValues(ctype, reason(err)).Inc()
		} else {
			x.metrics.CommandsApplied.WithLabelValues(ctype).Inc()
		}
		x.metrics.CommandDuration.WithLabelValues(ctype).Observe(time.Since(start).Seconds())
	}
	if err != nil && !x.replaying {
		x.logger.Debug().
			Err(err).
			Str("command_type", ctype).
			Str("key", cmd.IdempotencyKey()).
			Msg("command rejected")
	}
	return res, err
}

func (x *Exchange) applyMarket(cmd event.Command) (*Result, error) {
	symbol := *cmd.MarketID()
	slot, err := x.slot(symbol)
	if err != nil {
		return nil, err
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if err := x.dedup(cmd); err != nil {
		return nil, err
	}

	partition := ""
	if _, reading := cmd.(*event.IndexReading); !reading {
		partition = "market:" + symbol
		if err := x.clocks.ValidateClock(partition, cmd.Timestamp()); err != nil {
			x.countRegression(partition)
			return nil, err
		}
	}

	eng := slot.engine
	var res *Result
	switch c := cmd.(type) {
	case *event.IndexReading:
		res, err = eng.ApplyIndexReading(c)
	case *event.CancelOrder:
		res, err = eng.CancelOrder(c)
	case *event.SubmitOrder:
		x.fundsMu.Lock()
		defer x.fundsMu.Unlock()
		res, err = eng.SubmitOrder(c)
	case *event.Liquidate:
		x.fundsMu.Lock()
		defer x.fundsMu.Unlock()
		res, err = eng.Liquidate(c)
	case *event.Settle:
		x.fundsMu.Lock()
		defer x.fundsMu.Unlock()
		res, err = eng.Settle(c)
	}

	if !res.changed() {
		return res, err
	}
	if partition != "" {
		x.clocks.Advance(partition, cmd.Timestamp())
	}
	x.emit(cmd, slot.stream, res, err != nil && !errors.Is(err, state.ErrAlreadySettled))
	x.observeMarket(eng, res)
	return res, err
}

// ListMarket registers a new market. The listing cooldown is the caller's
// concern.
func (x *Exchange) listMarket(cmd *event.ListMarket) (*Result, error) {
	params := state.ParamsFromListing(cmd)

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.dedup(cmd); err != nil {
		return nil, err
	}
	if _, ok := x.markets[cmd.Symbol]; ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketExists, cmd.Symbol)
	}
	if err := x.clocks.ValidateClock(listingClock, cmd.TimestampUs); err != nil {
		x.countRegression(listingClock)
		return nil, err
	}

	m, err := state.NewMarket(params, cmd.TimestampUs)
	if err != nil {
		return nil, err
	}
	slot := &marketSlot{
		engine: NewMarketEngine(m, x.funds),
		stream: newStream(cmd.Symbol),
	}
	x.markets[cmd.Symbol] = slot
	x.clocks.Advance(listingClock, cmd.TimestampUs)

	res := &Result{Events: []event.Event{&event.MarketListed{
		Market:             cmd.Symbol,
		ContractClass:      cmd.ContractClass,
		ContractSize:       cmd.ContractSize,
		TickSize:           cmd.TickSize,
		ListingTimestampUs: params.ListingTimestamp,
		ExpiryTimestampUs:  params.ExpiryTimestamp,
	}}}
	x.emit(cmd, slot.stream, res, false)

	if !x.replaying {
		x.logger.Info().
			Str("market", cmd.Symbol).
			Str("class", cmd.ContractClass).
			Int64("expiry_us", params.ExpiryTimestamp).
			Msg("market listed")
	}
	return res, nil
}

func (x *Exchange) deposit(cmd *event.DepositCollateral) (*Result, error) {
	if cmd.Amount <= 0 {
		return nil, fmt.Errorf("%w: deposit amount %d", state.ErrInvalidParameters, cmd.Amount)
	}
	return x.moveCollateral(cmd, func(batch *ledger.Batch) event.Event {
		batch.Add(ledger.ExternalDeposits(), ledger.UserCollateral(cmd.Owner), cmd.Amount, ledger.JournalTypeDeposit)
		return &event.CollateralDeposited{Owner: cmd.Owner, Amount: cmd.Amount, TimestampUs: cmd.TimestampUs}
	})
}

func (x *Exchange) withdraw(cmd *event.WithdrawCollateral) (*Result, error) {
	if cmd.Amount <= 0 {
		return nil, fmt.Errorf("%w: withdrawal amount %d", state.ErrInvalidParameters, cmd.Amount)
	}
	return x.moveCollateral(cmd, func(batch *ledger.Batch) event.Event {
		batch.Add(ledger.UserCollateral(cmd.Owner), ledger.ExternalWithdrawals(), cmd.Amount, ledger.JournalTypeWithdrawal)
		return &event.CollateralWithdrawn{Owner: cmd.Owner, Amount: cmd.Amount, TimestampUs: cmd.TimestampUs}
	})
}

// moveCollateral applies a single-journal batch on the account stream.
func (x *Exchange) moveCollateral(cmd event.Command, build func(*ledger.Batch) event.Event) (*Result, error) {
	x.fundsMu.Lock()
	defer x.fundsMu.Unlock()

	if err := x.dedup(cmd); err != nil {
		return nil, err
	}
	if err := x.clocks.ValidateClock(accountStream, cmd.Timestamp()); err != nil {
		x.countRegression(accountStream)
		return nil, err
	}

	batch := ledger.NewBatch(cmd.IdempotencyKey(), cmd.Timestamp())
	ev := build(batch)
	if err := x.funds.ApplyBatch(batch); err != nil {
		return nil, err
	}

	switch e := ev.(type) {
	case *event.CollateralDeposited:
		e.Balance = x.funds.GetUserAvailableBalance(e.Owner)
	case *event.CollateralWithdrawn:
		e.Balance = x.funds.GetUserAvailableBalance(e.Owner)
	}

	x.clocks.Advance(accountStream, cmd.Timestamp())
	res := &Result{Events: []event.Event{ev}, Batch: batch}
	x.emit(cmd, x.account, res, false)
	return res, nil
}

func (x *Exchange) dedup(cmd event.Command) error {
	if x.replaying {
		// the log holds each command once; tier 2 would match all of them
		return nil
	}
	ctype := cmd.CommandType().String()
	if x.idempotency.IsDuplicate(ctype, cmd.IdempotencyKey()) {
		return fmt.Errorf("%w: %s %s", ErrDuplicateCommand, ctype, cmd.IdempotencyKey())
	}
	return nil
}

func (x *Exchange) slot(symbol string) (*marketSlot, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	slot, ok := x.markets[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, symbol)
	}
	return slot, nil
}

// emit stamps the command's events onto st, assigns the log sequence and
// hands the output to persistence (blocking) and publishing (dropped when
// full). The caller holds the locks that order st.
func (x *Exchange) emit(cmd event.Command, st *stream, res *Result, rejected bool) {
	res.LogSeq = x.sequencer.Next()
	key := cmd.IdempotencyKey()
	ts := event.MicrosToTime(cmd.Timestamp())

	envelopes := make([]*event.EventEnvelope, len(res.Events))
	for i, ev := range res.Events {
		st.seq++
		digest := payloadDigest(ev)
		if i == len(res.Events)-1 {
			digest = append(digest, x.stateDigest(res.Batch, res.Positions)...)
		}
		prev := st.hasher.GetPrevHash()
		envelopes[i] = &event.EventEnvelope{
			Sequence:       st.seq,
			IdempotencyKey: fmt.Sprintf("%s:%d", key, i),
			EventType:      ev.EventType(),
			MarketID:       ev.MarketID(),
			Timestamp:      ts,
			CommandRef:     key,
			Payload:        ev,
			StateHash:      st.hasher.ComputeHash(st.seq, digest),
			PrevHash:       prev,
		}
	}

	x.idempotency.MarkProcessed(cmd.CommandType().String(), key)
	if res.Batch != nil && res.LogSeq%invariantPeriod == 0 {
		x.checkGlobalBalance()
	}
	if x.metrics != nil {
		x.metrics.StreamSequence.WithLabelValues(st.name).Set(float64(st.seq))
	}
	if x.replaying {
		return
	}

	output := CoreOutput{
		LogSeq:     res.LogSeq,
		Command:    cmd,
		Stream:     st.name,
		Envelopes:  envelopes,
		Batch:      res.Batch,
		Positions:  res.Positions,
		Settlement: res.Settlement,
		Rejected:   rejected,
	}

	// Persistence is never dropped: the core stalls until the worker drains.
	if x.persistChan != nil {
		select {
		case x.persistChan <- output:
		default:
			if x.metrics != nil {
				x.metrics.PersistBackpressure.Inc()
			}
			x.persistChan <- output
		}
	}
	if x.publishChan != nil {
		select {
		case x.publishChan <- output:
		default:
			if x.metrics != nil {
				x.metrics.PublishDrops.Inc()
			}
		}
	}
}

// checkGlobalBalance runs under fundsMu; every batch is applied under it.
func (x *Exchange) checkGlobalBalance() {
	if err := x.validator.ValidateGlobalBalance(); err != nil {
		panic(fmt.Sprintf("FATAL: %v", err))
	}
	if err := x.validator.ValidateUsersNonNegative(); err != nil {
		panic(fmt.Sprintf("FATAL: %v", err))
	}
}

func payloadDigest(ev event.Event) []byte {
	payload, err := json.Marshal(ev)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal %s: %v", ev.EventType(), err))
	}
	digest := make([]byte, 0, len(payload)+8)
	digest = appendInt64LE(digest, int64(ev.EventType()))
	return append(digest, payload...)
}

// stateDigest covers the balances of every account the batch touched and
// the committed positions, in a canonical order.
func (x *Exchange) stateDigest(batch *ledger.Batch, positions []*state.Position) []byte {
	var digest []byte
	if batch != nil {
		seen := make(map[ledger.AccountKey]bool)
		for _, j := range batch.Journals {
			seen[j.DebitAccount] = true
			seen[j.CreditAccount] = true
		}
		paths := make([]string, 0, len(seen))
		byPath := make(map[string]ledger.AccountKey, len(seen))
		for key := range seen {
			p := key.AccountPath()
			paths = append(paths, p)
			byPath[p] = key
		}
		sort.Strings(paths)
		for _, p := range paths {
			digest = append(digest, byte(len(p)))
			digest = append(digest, p...)
			digest = appendInt64LE(digest, x.funds.GetBalance(byPath[p]))
		}
	}
	for _, pos := range positions {
		digest = append(digest, pos.CanonicalBytes()...)
	}
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func (x *Exchange) countRegression(partition string) {
	if x.metrics != nil {
		x.metrics.ClockRegressions.WithLabelValues(partition).Inc()
	}
}

func (x *Exchange) observeMarket(eng *MarketEngine, res *Result) {
	if x.metrics == nil {
		return
	}
	symbol := eng.Symbol()
	m := eng.Market()
	for _, ev := range res.Events {
		switch e := ev.(type) {
		case *event.IndexPriceAccepted:
			x.metrics.IndexAccepted.WithLabelValues(symbol).Inc()
			x.metrics.MarkPrice.WithLabelValues(symbol).Set(float64(e.Price))
		case *event.PriceDeviationRejected:
			x.metrics.DeviationRejections.WithLabelValues(symbol).Inc()
		case *event.OrderFilled:
			x.metrics.Fills.WithLabelValues(symbol).Inc()
			x.metrics.FillVolume.WithLabelValues(symbol).Add(float64(e.Quantity))
		case *event.OrderCancelled:
			if e.Reason != event.CancelReasonUser {
				x.metrics.MakersCancelled.WithLabelValues(symbol, e.Reason).Inc()
			}
		case *event.PositionLiquidated:
			x.metrics.Liquidations.WithLabelValues(symbol).Inc()
			x.metrics.KeeperRewards.WithLabelValues(symbol).Add(float64(e.KeeperReward))
		case *event.BadDebtReported:
			x.metrics.BadDebt.WithLabelValues(symbol, e.Source).Add(float64(e.Amount))
		case *event.PositionSettled:
			x.metrics.PositionsSettled.WithLabelValues(symbol).Inc()
		case *event.MarketSettled:
			x.metrics.MarketsSettled.WithLabelValues(e.Method).Inc()
		}
	}
	x.metrics.OpenInterest.WithLabelValues(symbol).Set(float64(m.OpenInterest))
	x.metrics.RestingOrders.WithLabelValues(symbol).Set(float64(eng.book.Len()))
	if res.Batch != nil {
		x.metrics.TreasuryBalance.Set(float64(x.funds.GetBalance(ledger.Treasury())))
	}
}

// reason maps an error to a low-cardinality metric label.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateCommand):
		return "duplicate"
	case errors.Is(err, ErrClockRegression):
		return "clock_regression"
	case errors.Is(err, ErrUnknownMarket):
		return "unknown_market"
	case errors.Is(err, state.ErrPriceDeviation):
		return "price_deviation"
	case errors.Is(err, state.ErrInsufficientMargin):
		return "insufficient_margin"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, state.ErrMarketNotActive):
		return "market_not_active"
	case errors.Is(err, state.ErrInvalidParameters):
		return "invalid_parameters"
	case errors.Is(err, state.ErrNotLiquidatable):
		return "not_liquidatable"
	case errors.Is(err, state.ErrPositionNotFound):
		return "position_not_found"
	case errors.Is(err, state.ErrMarketNotExpired):
		return "market_not_expired"
	case errors.Is(err, book.ErrInvalidOrder), errors.Is(err, book.ErrDuplicateOrder):
		return "invalid_order"
	case errors.Is(err, book.ErrOrderNotFound), errors.Is(err, book.ErrNotOrderOwner):
		return "order_not_found"
	default:
		return "other"
	}
}

// --- Recovery ---

// Replay re-applies logged commands in log order without emitting outputs.
// Every timestamp comes from the commands, so the rebuilt state matches the
// state that produced the log.
func (x *Exchange) Replay(cmds []event.Command, lastSeq int64) int {
	x.replaying = true
	defer func() { x.replaying = false }()

	applied := 0
	for _, cmd := range cmds {
		if _, err := x.Apply(cmd); err != nil && !errors.Is(err, state.ErrPriceDeviation) &&
			!errors.Is(err, state.ErrAlreadySettled) {
			x.logger.Warn().
				Err(err).
				Str("command_type", cmd.CommandType().String()).
				Str("key", cmd.IdempotencyKey()).
				Msg("replayed command rejected")
			continue
		}
		applied++
	}
	x.sequencer.Reset(max(lastSeq, x.sequencer.Last()))
	return applied
}

// WarmIdempotency preloads recent composite keys into the dedup cache.
func (x *Exchange) WarmIdempotency(keys []string) {
	x.idempotency.Warm(keys)
	if x.metrics != nil {
		x.metrics.DedupLRUSize.Set(float64(x.idempotency.Size()))
	}
}

// --- Queries ---

// Markets returns every market, ordered by symbol.
func (x *Exchange) Markets() []MarketView {
	x.mu.RLock()
	slots := make([]*marketSlot, 0, len(x.markets))
	for _, slot := range x.markets {
		slots = append(slots, slot)
	}
	x.mu.RUnlock()

	views := make([]MarketView, 0, len(slots))
	for _, slot := range slots {
		slot.mu.Lock()
		views = append(views, slot.engine.View())
		slot.mu.Unlock()
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Symbol < views[j].Symbol })
	return views
}

// Market returns one market summary.
func (x *Exchange) Market(symbol string) (MarketView, error) {
	slot, err := x.slot(symbol)
	if err != nil {
		return MarketView{}, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.engine.View(), nil
}

// Depth returns the aggregated book of a market.
func (x *Exchange) Depth(symbol string, levels int) (book.Depth, error) {
	slot, err := x.slot(symbol)
	if err != nil {
		return book.Depth{}, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.engine.Depth(levels), nil
}

// Position values owner's position in a market.
func (x *Exchange) Position(symbol string, owner uuid.UUID) (PositionView, error) {
	slot, err := x.slot(symbol)
	if err != nil {
		return PositionView{}, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.engine.Position(owner)
}

// Settlement returns the settlement record of a market.
func (x *Exchange) Settlement(symbol string) (*state.SettlementRecord, error) {
	slot, err := x.slot(symbol)
	if err != nil {
		return nil, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	rec, ok := slot.engine.Settlement()
	if !ok {
		return nil, fmt.Errorf("%w: %s", state.ErrMarketNotExpired, symbol)
	}
	return rec, nil
}

// Balance returns owner's free collateral and margin per market.
func (x *Exchange) Balance(owner uuid.UUID) BalanceView {
	x.mu.RLock()
	symbols := make([]string, 0, len(x.markets))
	for symbol := range x.markets {
		symbols = append(symbols, symbol)
	}
	x.mu.RUnlock()

	x.fundsMu.Lock()
	defer x.fundsMu.Unlock()

	v := BalanceView{
		Owner:      owner,
		Collateral: x.funds.GetUserAvailableBalance(owner),
		Margin:     make(map[string]int64),
	}
	v.Total = v.Collateral
	for _, symbol := range symbols {
		if margin := x.funds.GetUserMarginBalance(owner, symbol); margin != 0 {
			v.Margin[symbol] = margin
			v.Total += margin
		}
	}
	return v
}

// LedgerBalance returns the balance of any ledger account.
func (x *Exchange) LedgerBalance(key ledger.AccountKey) int64 {
	return x.funds.GetBalance(key)
}

// ValidateLedger checks the zero-sum and non-negative invariants now.
func (x *Exchange) ValidateLedger() error {
	x.fundsMu.Lock()
	defer x.fundsMu.Unlock()
	if err := x.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	return x.validator.ValidateUsersNonNegative()
}

// LastLogSeq returns the most recent command log sequence.
func (x *Exchange) LastLogSeq() int64 {
	return x.sequencer.Last()
}

// StreamHead returns the sequence and hash tip of a stream ("account" or a
// market symbol).
func (x *Exchange) StreamHead(name string) (int64, [32]byte, error) {
	if name == accountStream {
		x.fundsMu.Lock()
		defer x.fundsMu.Unlock()
		return x.account.seq, x.account.hasher.GetPrevHash(), nil
	}
	slot, err := x.slot(name)
	if err != nil {
		return 0, [32]byte{}, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.stream.seq, slot.stream.hasher.GetPrevHash(), nil
}

// StreamHead is the tip of one hash chain.
type StreamHead struct {
	Sequence int64    `json:"sequence"`
	Hash     [32]byte `json:"hash"`
}

// Checkpoint is a consistent cut of the ledger and every hash chain at
// LogSeq.
type Checkpoint struct {
	LogSeq   int64                 `json:"log_seq"`
	Balances map[string]int64      `json:"balances"` // account path -> balance
	Heads    map[string]StreamHead `json:"heads"`
}

// Checkpoint blocks every writer and captures the state. Locks are taken
// in the order commands take them: market slots, then funds.
func (x *Exchange) Checkpoint() Checkpoint {
	x.mu.RLock()
	defer x.mu.RUnlock()

	symbols := make([]string, 0, len(x.markets))
	for symbol := range x.markets {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		x.markets[symbol].mu.Lock()
		defer x.markets[symbol].mu.Unlock()
	}
	x.fundsMu.Lock()
	defer x.fundsMu.Unlock()

	cp := Checkpoint{
		LogSeq:   x.sequencer.Last(),
		Balances: make(map[string]int64),
		Heads:    make(map[string]StreamHead, len(symbols)+1),
	}
	for key, balance := range x.funds.Snapshot() {
		cp.Balances[key.AccountPath()] = balance
	}
	cp.Heads[accountStream] = StreamHead{Sequence: x.account.seq, Hash: x.account.hasher.GetPrevHash()}
	for _, symbol := range symbols {
		st := x.markets[symbol].stream
		cp.Heads[symbol] = StreamHead{Sequence: st.seq, Hash: st.hasher.GetPrevHash()}
	}
	return cp
}

// Diff lists the accounts and streams where cp and other disagree.
func (cp Checkpoint) Diff(other Checkpoint) []string {
	var diffs []string
	for path, balance := range cp.Balances {
		if other.Balances[path] != balance {
			diffs = append(diffs, fmt.Sprintf("balance %s: %d != %d", path, balance, other.Balances[path]))
		}
	}
	for path, balance := range other.Balances {
		if _, ok := cp.Balances[path]; !ok {
			diffs = append(diffs, fmt.Sprintf("balance %s: 0 != %d", path, balance))
		}
	}
	for name, head := range cp.Heads {
		if other.Heads[name] != head {
			diffs = append(diffs, fmt.Sprintf("stream %s: seq %d != %d", name, head.Sequence, other.Heads[name].Sequence))
		}
	}
	sort.Strings(diffs)
	return diffs
}
