package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"BetLedger/internal/core"
	"BetLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const outboundStream = "BET_LEDGER_EVENTS"

// OutboundPublisher republishes applied ledger events to NATS for downstream
// consumers (indexers, notification services, reporting). Publishing is
// best-effort: the event log in Postgres is the source of truth, so a failed
// publish is logged and skipped, never retried at the cost of blocking.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is the outbound wire form of one ledger event.
type PublishableEvent struct {
	Sequence  int64           `json:"sequence"`
	EventType string          `json:"event_type"`
	RequestID string          `json:"request_id"`
	Actor     string          `json:"actor"`
	BetID     *uint64         `json:"bet_id,omitempty"`
	Currency  *string         `json:"currency,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	StateHash []byte          `json:"state_hash"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(
	js jetstream.JetStream,
	inputChan <-chan core.CoreOutput,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the publish loop. Blocks until ctx is cancelled or the input
// channel closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				op.logger.Warn().
					Err(err).
					Int64("sequence", out.Envelope.Sequence).
					Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	env := out.Envelope
	evt := PublishableEvent{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		RequestID: env.RequestID,
		Actor:     env.Actor,
		BetID:     env.BetID,
		Currency:  env.Currency,
		Payload:   json.RawMessage(env.Payload),
		StateHash: env.StateHash[:],
		Timestamp: env.Timestamp,
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("bet.ledger.events.%s", evt.EventType)
	if evt.Currency != nil {
		subject = fmt.Sprintf("%s.%s", subject, *evt.Currency)
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream if missing.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      outboundStream,
		Subjects:  []string{"bet.ledger.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", outboundStream).Msg("ensured outbound stream")
	return nil
}
