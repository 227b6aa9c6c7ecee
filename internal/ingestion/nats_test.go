package ingestion_test

import (
	"GasFutures/internal/cache"
	"GasFutures/internal/core"
	"GasFutures/internal/event"
	"GasFutures/internal/ingestion"
	"GasFutures/internal/testutil"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ============================================================================
// Test: NATS round trip (integration)
// ============================================================================

func TestNATS_DepositRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)

	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL())
	if err != nil {
		t.Skipf("test nats not available: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		t.Fatalf("EnsureStreams: %v", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		t.Fatalf("EnsureOutboundStream: %v", err)
	}

	outbound, err := nc.SubscribeSync("gasfut.events.CollateralDeposited.account")
	if err != nil {
		t.Fatalf("subscribe outbound: %v", err)
	}
	defer outbound.Unsubscribe()

	publishChan := make(chan core.CoreOutput, 16)
	x := core.NewExchange(core.Config{PublishChan: publishChan, Logger: zerolog.Nop()})
	d := ingestion.NewDispatcher(x, cache.NewMemoryCooldown(time.Hour), nil, nil)

	rawChan := make(chan ingestion.RawCommand, 16)
	sub := ingestion.NewNATSSubscriber(js, rawChan)
	if err := sub.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Stop()

	go d.Run(ctx, rawChan)
	go ingestion.NewOutboundPublisher(js, publishChan).Run(ctx)

	owner := uuid.New()
	payload, err := ingestion.EncodeCommand(&event.DepositCollateral{
		DepositID:   uuid.New(),
		Owner:       owner,
		Amount:      2_500_000,
		TimestampUs: time.Now().UnixMicro(),
	})
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	if _, err := js.Publish(ctx, "gasfut.collateral.deposits."+owner.String(), payload); err != nil {
		t.Fatalf("publish command: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for x.Balance(owner).Collateral != 2_500_000 {
		if time.Now().After(deadline) {
			t.Fatalf("deposit not applied, balance %+v", x.Balance(owner))
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Earlier runs may have left events on the subject; find ours.
	for {
		msg, err := outbound.NextMsg(5 * time.Second)
		if err != nil {
			t.Fatalf("no outbound event for %s: %v", owner, err)
		}
		var evt struct {
			EventType string          `json:"event_type"`
			Payload   json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			t.Fatalf("decode outbound event: %v", err)
		}
		if evt.EventType != "CollateralDeposited" {
			t.Errorf("event_type = %q", evt.EventType)
		}
		if json.Valid(evt.Payload) && containsOwner(evt.Payload, owner) {
			return
		}
	}
}

func containsOwner(payload json.RawMessage, owner uuid.UUID) bool {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return false
	}
	for _, v := range fields {
		if s, ok := v.(string); ok && s == owner.String() {
			return true
		}
	}
	return false
}
