package ingestion

import (
	"context"
	"errors"
	"time"

	"BetLedger/internal/core"
	"BetLedger/internal/observability"

	"github.com/rs/zerolog"
)

// CommandProcessor drains the raw-command channel, parses each command, and
// submits it to the dispatcher. Malformed commands and rejected operations
// are ACKed (redelivery cannot fix them); only infrastructure failures NAK.
type CommandProcessor struct {
	dispatcher *core.Dispatcher
	cmdChan    <-chan RawCommand
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewCommandProcessor(
	dispatcher *core.Dispatcher,
	cmdChan <-chan RawCommand,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *CommandProcessor {
	return &CommandProcessor{
		dispatcher: dispatcher,
		cmdChan:    cmdChan,
		metrics:    metrics,
		logger:     logger,
	}
}

// Run starts the processing loop. Blocks until ctx is cancelled.
func (cp *CommandProcessor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-cp.cmdChan:
			if !ok {
				return nil
			}
			cp.process(ctx, raw)
		}
	}
}

func (cp *CommandProcessor) process(ctx context.Context, raw RawCommand) {
	if cp.metrics != nil {
		cp.metrics.CommandsReceived.WithLabelValues(raw.Subject).Inc()
	}

	cmd, err := ParseCommand(raw)
	if err != nil {
		cp.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
		if cp.metrics != nil {
			cp.metrics.CommandParseErrs.WithLabelValues(raw.Subject).Inc()
		}
		ack(raw)
		return
	}

	err = cp.apply(ctx, cmd)
	if err != nil && errors.Is(err, context.Canceled) {
		// Shutdown mid-flight: leave the message for redelivery.
		nak(raw)
		return
	}
	if err != nil {
		// A rejection is a final answer; log it and move on.
		cp.logger.Info().Err(err).Str("op", cmd.Op).Msg("command rejected")
	}
	ack(raw)

	if cp.metrics != nil {
		cp.metrics.IngestToApply.WithLabelValues(cmd.Op).Observe(time.Since(raw.ReceivedAt).Seconds())
	}
}

func (cp *CommandProcessor) apply(ctx context.Context, cmd *Command) error {
	switch {
	case cmd.Place != nil:
		_, err := cp.dispatcher.PlaceBet(ctx, *cmd.Place)
		return err
	case cmd.Settle != nil:
		_, err := cp.dispatcher.SettleBet(ctx, *cmd.Settle)
		return err
	case cmd.Void != nil:
		_, err := cp.dispatcher.VoidBet(ctx, *cmd.Void)
		return err
	case cmd.Treasury != nil:
		switch cmd.Op {
		case core.OpDepositLiquidity:
			return cp.dispatcher.DepositLiquidity(ctx, *cmd.Treasury)
		case core.OpWithdrawFees:
			return cp.dispatcher.WithdrawFees(ctx, *cmd.Treasury)
		default:
			return cp.dispatcher.EmergencyWithdraw(ctx, *cmd.Treasury)
		}
	case cmd.Gov != nil:
		switch cmd.Op {
		case core.OpAddOracle:
			return cp.dispatcher.AddOracle(ctx, *cmd.Gov)
		case core.OpRemoveOracle:
			return cp.dispatcher.RemoveOracle(ctx, *cmd.Gov)
		case core.OpProposeAdmin:
			return cp.dispatcher.ProposeAdmin(ctx, *cmd.Gov)
		case core.OpAcceptAdmin:
			return cp.dispatcher.AcceptAdmin(ctx, *cmd.Gov)
		default:
			return cp.dispatcher.SetPause(ctx, *cmd.Gov)
		}
	case cmd.Fee != nil:
		return cp.dispatcher.UpdateFeeRate(ctx, *cmd.Fee)
	case cmd.Limits != nil:
		return cp.dispatcher.UpdateLimits(ctx, *cmd.Limits)
	default:
		return errors.New("empty command")
	}
}

func ack(raw RawCommand) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}

func nak(raw RawCommand) {
	if raw.NakFunc != nil {
		raw.NakFunc()
	}
}
