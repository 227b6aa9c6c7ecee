package ingestion

import (
	"GasFutures/internal/core"
	"GasFutures/internal/event"
	"GasFutures/internal/observability"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var (
	ErrListingCooldown     = errors.New("contract class is in listing cooldown")
	ErrCooldownUnavailable = errors.New("listing cooldown store unavailable")
)

// ListingCooldown rate-limits permissionless listings per contract class.
type ListingCooldown interface {
	// Acquire claims the class; false means a listing happened within the
	// cooldown window.
	Acquire(ctx context.Context, contractClass string) (bool, error)
	// Release gives back a claim whose listing was rejected.
	Release(ctx context.Context, contractClass string) error
}

// MarkCache mirrors accepted index readings for bots and keepers.
type MarkCache interface {
	SetMark(ctx context.Context, market string, price, timestampUs int64) error
}

// Dispatcher is the shell around the exchange: it applies the listing
// cooldown before ListMarket and mirrors accepted readings afterwards. Both
// NATS and HTTP commands go through it.
type Dispatcher struct {
	exchange *core.Exchange
	cooldown ListingCooldown
	marks    MarkCache
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewDispatcher wires the collaborators. cooldown, marks and metrics may be nil.
func NewDispatcher(x *core.Exchange, cooldown ListingCooldown, marks MarkCache, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		exchange: x,
		cooldown: cooldown,
		marks:    marks,
		metrics:  metrics,
		logger:   observability.NewLogger("dispatcher"),
	}
}

// Submit applies one command.
func (d *Dispatcher) Submit(ctx context.Context, cmd event.Command) (*core.Result, error) {
	if listing, ok := cmd.(*event.ListMarket); ok {
		return d.list(ctx, listing)
	}

	res, err := d.exchange.Apply(cmd)
	if reading, ok := cmd.(*event.IndexReading); ok && err == nil && d.marks != nil {
		if cerr := d.marks.SetMark(ctx, reading.Market, reading.Price, reading.TimestampUs); cerr != nil {
			d.cacheError("set_mark", cerr)
		}
	}
	return res, err
}

func (d *Dispatcher) list(ctx context.Context, cmd *event.ListMarket) (*core.Result, error) {
	// an existing symbol is rejected by the exchange without spending the class's slot
	if _, err := d.exchange.Market(cmd.Symbol); err == nil || d.cooldown == nil {
		return d.exchange.Apply(cmd)
	}

	ok, err := d.cooldown.Acquire(ctx, cmd.ContractClass)
	if err != nil {
		d.cacheError("cooldown_acquire", err)
		return nil, fmt.Errorf("%w: %v", ErrCooldownUnavailable, err)
	}
	if !ok {
		if d.metrics != nil {
			d.metrics.CommandsRejected.WithLabelValues(cmd.CommandType().String(), "listing_cooldown").Inc()
		}
		return nil, fmt.Errorf("%w: %s", ErrListingCooldown, cmd.ContractClass)
	}

	res, err := d.exchange.Apply(cmd)
	if err != nil {
		if rerr := d.cooldown.Release(ctx, cmd.ContractClass); rerr != nil {
			d.cacheError("cooldown_release", rerr)
		}
	}
	return res, err
}

func (d *Dispatcher) cacheError(op string, err error) {
	if d.metrics != nil {
		d.metrics.CacheErrors.WithLabelValues(op).Inc()
	}
	d.logger.Warn().Err(err).Str("op", op).Msg("cache operation failed")
}

// Run consumes raw commands until ctx is cancelled or in closes.
// Undecodable messages are terminated, transient failures are redelivered
// and everything else, including rejections, is acknowledged.
func (d *Dispatcher) Run(ctx context.Context, in <-chan RawCommand) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-in:
			if !ok {
				return nil
			}
			d.handle(ctx, raw)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, raw RawCommand) {
	cmd, err := ParseCommand(raw.CommandType, raw.Data)
	if err != nil {
		d.logger.Error().
			Err(err).
			Str("subject", raw.Subject).
			Str("command_type", raw.CommandType).
			Msg("dropping undecodable command")
		call(raw.TermFunc)
		return
	}

	_, err = d.Submit(ctx, cmd)
	switch {
	case err == nil:
		call(raw.AckFunc)
	case IsTransient(err):
		d.logger.Warn().Err(err).Str("key", cmd.IdempotencyKey()).Msg("command deferred")
		call(raw.NakFunc)
	default:
		// deterministic rejection: redelivery would be rejected again
		call(raw.AckFunc)
	}
}

// IsTransient reports whether a failed command may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrCooldownUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
