package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to the command subjects and feeds raw commands
// into the processor channel. NATS JetStream is the high-throughput command
// surface; the HTTP API covers interactive and admin use.
type NATSSubscriber struct {
	js        jetstream.JetStream
	cmdChan   chan<- RawCommand
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawCommand is a received-but-unparsed command. ReceivedAt is stamped at
// intake and becomes the operation's versioned timestamp.
type RawCommand struct {
	Subject    string
	Op         string
	Data       []byte
	ReceivedAt time.Time
	AckFunc    func() // ACK after the core accepted or definitively rejected
	NakFunc    func() // NAK on transient failure (redelivered)
}

// SubjectConfig maps one NATS subject to one ledger operation.
type SubjectConfig struct {
	Subject      string
	Op           string
	ConsumerName string
}

const commandStream = "BET_CMDS"

// DefaultSubjects returns the standard command subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "bet.cmds.place", Op: "place_bet", ConsumerName: "ledger-place"},
		{Subject: "bet.cmds.settle", Op: "settle_bet", ConsumerName: "ledger-settle"},
		{Subject: "bet.cmds.void", Op: "void_bet", ConsumerName: "ledger-void"},
		{Subject: "bet.cmds.deposit", Op: "deposit_liquidity", ConsumerName: "ledger-deposit"},
		{Subject: "bet.cmds.withdraw", Op: "withdraw_fees", ConsumerName: "ledger-withdraw"},
		{Subject: "bet.cmds.emergency", Op: "emergency_withdraw", ConsumerName: "ledger-emergency"},
		{Subject: "bet.cmds.oracle.add", Op: "add_oracle", ConsumerName: "ledger-oracle-add"},
		{Subject: "bet.cmds.oracle.remove", Op: "remove_oracle", ConsumerName: "ledger-oracle-remove"},
		{Subject: "bet.cmds.admin.propose", Op: "propose_admin", ConsumerName: "ledger-admin-propose"},
		{Subject: "bet.cmds.admin.accept", Op: "accept_admin", ConsumerName: "ledger-admin-accept"},
		{Subject: "bet.cmds.fee", Op: "update_fee", ConsumerName: "ledger-fee"},
		{Subject: "bet.cmds.limits", Op: "update_limits", ConsumerName: "ledger-limits"},
		{Subject: "bet.cmds.pause", Op: "set_pause", ConsumerName: "ledger-pause"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, cmdChan chan<- RawCommand, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		cmdChan: cmdChan,
		logger:  logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		cfg := cfg
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, commandStream, jetstream.ConsumerConfig{
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

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:    msg.Subject(),
				Op:         cfg.Op,
				Data:       msg.Data(),
				ReceivedAt: time.Now(),
				AckFunc:    func() { msg.Ack() },
				NakFunc:    func() { msg.Nak() },
			}

			select {
			case ns.cmdChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      commandStream,
			Subjects:  []string{"bet.cmds.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
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
