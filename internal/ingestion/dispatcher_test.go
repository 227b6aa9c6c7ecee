package ingestion_test

import (
	"GasFutures/internal/cache"
	"GasFutures/internal/core"
	"GasFutures/internal/event"
	"GasFutures/internal/ingestion"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const t0 = int64(1_700_000_000_000_000)

type recordedMark struct {
	market    string
	price, ts int64
}

type fakeMarks struct {
	mu    sync.Mutex
	marks []recordedMark
}

func (f *fakeMarks) SetMark(_ context.Context, market string, price, ts int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, recordedMark{market, price, ts})
	return nil
}

func newDispatcher(marks ingestion.MarkCache) *ingestion.Dispatcher {
	x := core.NewExchange(core.Config{Logger: zerolog.Nop()})
	return ingestion.NewDispatcher(x, cache.NewMemoryCooldown(time.Hour), marks, nil)
}

func listing(symbol, class string) *event.ListMarket {
	return &event.ListMarket{
		RequestID:            uuid.New(),
		Symbol:               symbol,
		ContractClass:        class,
		ContractSize:         1,
		TickSize:             1000,
		InitialMarginBps:     1000,
		MaintenanceMarginBps: 600,
		LiquidationFeeBps:    100,
		KeeperIncentiveBps:   2000,
		MaxDeviationBps:      1000,
		ExpiryTimestampUs:    t0 + 3600_000_000,
		TimestampUs:          t0,
	}
}

// ============================================================================
// Test: Listing cooldown
// ============================================================================

func TestDispatcher_ListingCooldownPerClass(t *testing.T) {
	d := newDispatcher(nil)
	ctx := context.Background()

	if _, err := d.Submit(ctx, listing("GAS-DEC", "GAS")); err != nil {
		t.Fatalf("first listing: %v", err)
	}
	if _, err := d.Submit(ctx, listing("GAS-JAN", "GAS")); !errors.Is(err, ingestion.ErrListingCooldown) {
		t.Fatalf("expected ErrListingCooldown, got %v", err)
	}

	bad := listing("BLOB-DEC", "BLOB")
	bad.TickSize = 0
	if _, err := d.Submit(ctx, bad); err == nil {
		t.Fatal("invalid listing accepted")
	}
	// the rejected listing must not hold the class
	if _, err := d.Submit(ctx, listing("BLOB-DEC", "BLOB")); err != nil {
		t.Fatalf("listing after rejection: %v", err)
	}
}

func TestDispatcher_RelistingExistingSymbolSkipsCooldown(t *testing.T) {
	d := newDispatcher(nil)
	ctx := context.Background()
	d.Submit(ctx, listing("GAS-DEC", "GAS"))

	if _, err := d.Submit(ctx, listing("GAS-DEC", "GAS")); !errors.Is(err, core.ErrMarketExists) {
		t.Fatalf("expected ErrMarketExists, got %v", err)
	}
}

// ============================================================================
// Test: Mark mirror
// ============================================================================

func TestDispatcher_MirrorsAcceptedReadingsOnly(t *testing.T) {
	marks := &fakeMarks{}
	d := newDispatcher(marks)
	ctx := context.Background()
	d.Submit(ctx, listing("GAS-DEC", "GAS"))

	d.Submit(ctx, &event.IndexReading{Market: "GAS-DEC", Price: 1_000_000, TimestampUs: t0 + 1})
	d.Submit(ctx, &event.IndexReading{Market: "GAS-DEC", Price: 2_000_000, TimestampUs: t0 + 2})

	if len(marks.marks) != 1 {
		t.Fatalf("mirrored %d readings, want 1", len(marks.marks))
	}
	if got := marks.marks[0]; got != (recordedMark{"GAS-DEC", 1_000_000, t0 + 1}) {
		t.Errorf("mirrored %+v", got)
	}
}

// ============================================================================
// Test: Acknowledgement
// ============================================================================

func TestDispatcher_RunAcknowledgesByOutcome(t *testing.T) {
	d := newDispatcher(nil)
	in := make(chan ingestion.RawCommand, 3)

	var acks, terms, naks int
	raw := func(ctype, data string) ingestion.RawCommand {
		return ingestion.RawCommand{
			CommandType: ctype,
			Data:        []byte(data),
			AckFunc:     func() { acks++ },
			NakFunc:     func() { naks++ },
			TermFunc:    func() { terms++ },
		}
	}

	in <- raw("DepositCollateral", `{"id":"550e8400-e29b-41d4-a716-446655440000","owner":"660e8400-e29b-41d4-a716-446655440001","amount":5,"timestamp_us":1}`)
	in <- raw("IndexReading", `{"market":"UNKNOWN","price":1,"timestamp_us":1}`)
	in <- raw("IndexReading", `{not json`)
	close(in)

	if err := d.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	if acks != 2 || terms != 1 || naks != 0 {
		t.Errorf("acks=%d terms=%d naks=%d, want 2/1/0", acks, terms, naks)
	}
}

func TestIsTransient(t *testing.T) {
	if !ingestion.IsTransient(ingestion.ErrCooldownUnavailable) {
		t.Error("cooldown store failure is transient")
	}
	if ingestion.IsTransient(ingestion.ErrListingCooldown) {
		t.Error("an active cooldown is a deterministic rejection")
	}
}
