package ingestion

import (
	"GasFutures/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber consumes command subjects from JetStream and feeds them to
// the dispatcher. JetStream is the high-throughput ingestion surface; HTTP
// POST is for operators and bots.
type NATSSubscriber struct {
	js        jetstream.JetStream
	rawChan   chan<- RawCommand
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawCommand is an undecoded message, ready for the dispatcher to parse and
// apply. Exactly one of the callbacks is invoked per message.
type RawCommand struct {
	Subject     string
	CommandType string
	Data        []byte
	ReceivedAt  time.Time
	AckFunc     func() // processed or deterministically rejected
	NakFunc     func() // transient failure; redelivered
	TermFunc    func() // undecodable; never redelivered
}

// SubjectConfig maps a subject to a command type. Each command type has its
// own subject for independent scaling.
type SubjectConfig struct {
	Subject      string
	CommandType  string
	ConsumerName string
	StreamName   string
}

const (
	streamIndex      = "GASFUT_INDEX"
	streamTrading    = "GASFUT_TRADING"
	streamRisk       = "GASFUT_RISK"
	streamMarkets    = "GASFUT_MARKETS"
	streamCollateral = "GASFUT_COLLATERAL"
)

// DefaultSubjects returns the standard subject layout. The trailing token is
// the market symbol (or owner id for collateral) so consumers can shard.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "gasfut.index.>", CommandType: "IndexReading", ConsumerName: "engine-index", StreamName: streamIndex},
		{Subject: "gasfut.orders.>", CommandType: "SubmitOrder", ConsumerName: "engine-orders", StreamName: streamTrading},
		{Subject: "gasfut.cancels.>", CommandType: "CancelOrder", ConsumerName: "engine-cancels", StreamName: streamTrading},
		{Subject: "gasfut.liquidations.>", CommandType: "Liquidate", ConsumerName: "engine-liquidations", StreamName: streamRisk},
		{Subject: "gasfut.settlements.>", CommandType: "Settle", ConsumerName: "engine-settlements", StreamName: streamRisk},
		{Subject: "gasfut.listings.>", CommandType: "ListMarket", ConsumerName: "engine-listings", StreamName: streamMarkets},
		{Subject: "gasfut.collateral.deposits.>", CommandType: "DepositCollateral", ConsumerName: "engine-deposits", StreamName: streamCollateral},
		{Subject: "gasfut.collateral.withdrawals.>", CommandType: "WithdrawCollateral", ConsumerName: "engine-withdrawals", StreamName: streamCollateral},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawCommand) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		logger:  observability.NewLogger("nats-subscriber"),
	}
}

// Subscribe creates a durable consumer per subject. Consumers use explicit
// ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		commandType := cfg.CommandType
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:     msg.Subject(),
				CommandType: commandType,
				Data:        msg.Data(),
				ReceivedAt:  time.Now(),
				AckFunc:     func() { msg.Ack() },
				NakFunc:     func() { msg.Nak() },
				TermFunc:    func() { msg.Term() },
			}

			select {
			case ns.rawChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the inbound streams if they don't exist. Streams
// use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	logger := observability.NewLogger("nats-subscriber")
	streams := []jetstream.StreamConfig{
		{Name: streamIndex, Subjects: []string{"gasfut.index.>"}},
		{Name: streamTrading, Subjects: []string{"gasfut.orders.>", "gasfut.cancels.>"}},
		{Name: streamRisk, Subjects: []string{"gasfut.liquidations.>", "gasfut.settlements.>"}},
		{Name: streamMarkets, Subjects: []string{"gasfut.listings.>"}},
		{Name: streamCollateral, Subjects: []string{"gasfut.collateral.>"}},
	}

	for _, cfg := range streams {
		cfg.Storage = jetstream.FileStorage
		cfg.Retention = jetstream.LimitsPolicy
		cfg.MaxAge = 72 * time.Hour
		cfg.Replicas = 1
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	logger := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.Name("gasfutures"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
