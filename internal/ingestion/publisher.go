package ingestion

import (
	"GasFutures/internal/core"
	"GasFutures/internal/event"
	"GasFutures/internal/observability"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	outboundStream = "GASFUT_EVENTS"
	outboundPrefix = "gasfut.events"
)

// OutboundPublisher fans emitted envelopes out to NATS for downstream
// consumers. Publishing is best-effort; the event log in Postgres is
// authoritative.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	logger    zerolog.Logger
}

// PublishableEvent is the wire form of one envelope.
type PublishableEvent struct {
	Stream         string      `json:"stream"`
	Sequence       int64       `json:"sequence"`
	LogSequence    int64       `json:"log_sequence"`
	EventType      string      `json:"event_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	CommandRef     string      `json:"command_ref"`
	MarketID       *string     `json:"market_id,omitempty"`
	Payload        event.Event `json:"payload"`
	StateHash      string      `json:"state_hash"`
	PrevHash       string      `json:"prev_hash"`
	Timestamp      time.Time   `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.CoreOutput) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    observability.NewLogger("publisher"),
	}
}

// Run publishes until ctx is cancelled or the input channel closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			for _, evt := range Publishable(out) {
				if err := op.publish(ctx, evt); err != nil {
					// downstream consumers can query the event log directly
					op.logger.Warn().
						Err(err).
						Str("stream", evt.Stream).
						Int64("seq", evt.Sequence).
						Msg("outbound publish failed")
				}
			}
		}
	}
}

// Publishable flattens a core output into wire events.
func Publishable(out core.CoreOutput) []PublishableEvent {
	events := make([]PublishableEvent, len(out.Envelopes))
	for i, env := range out.Envelopes {
		events[i] = PublishableEvent{
			Stream:         out.Stream,
			Sequence:       env.Sequence,
			LogSequence:    out.LogSeq,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			CommandRef:     env.CommandRef,
			MarketID:       env.MarketID,
			Payload:        env.Payload,
			StateHash:      hex.EncodeToString(env.StateHash[:]),
			PrevHash:       hex.EncodeToString(env.PrevHash[:]),
			Timestamp:      env.Timestamp,
		}
	}
	return events
}

// Subject builds gasfut.events.{event_type}.{market}; account events use
// the "account" token in place of a market.
func Subject(evt PublishableEvent) string {
	scope := "account"
	if evt.MarketID != nil {
		scope = *evt.MarketID
	}
	return fmt.Sprintf("%s.%s.%s", outboundPrefix, evt.EventType, scope)
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// the envelope key doubles as the JetStream dedup id
	_, err = op.js.Publish(ctx, Subject(evt), data, jetstream.WithMsgID(evt.IdempotencyKey))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       outboundStream,
		Subjects:   []string{outboundPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger := observability.NewLogger("publisher")
	logger.Info().Str("stream", outboundStream).Msg("ensured outbound stream")
	return nil
}
