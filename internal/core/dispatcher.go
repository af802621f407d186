package core

import (
	"context"

	"github.com/rs/zerolog"
)

// Dispatcher serializes all access to the Core onto one goroutine. The Core
// itself is not thread-safe; every intake path (HTTP handlers, the NATS
// subscriber, the snapshot ticker) submits through the dispatcher, which
// gives operations a strict total order with no locks in the hot path.
type Dispatcher struct {
	core   *Core
	jobs   chan func()
	logger zerolog.Logger
}

func NewDispatcher(core *Core, queueDepth int, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		core:   core,
		jobs:   make(chan func(), queueDepth),
		logger: logger,
	}
}

// Run drains the job queue until the context is cancelled. Exactly one
// Run goroutine may exist per dispatcher.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().Int("queue_depth", cap(d.jobs)).Msg("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			// Drain jobs already queued so callers waiting on them unblock.
			for {
				select {
				case job := <-d.jobs:
					job()
				default:
					d.logger.Info().Msg("dispatcher stopped")
					return ctx.Err()
				}
			}
		case job := <-d.jobs:
			job()
		}
	}
}

// submit enqueues a closure and waits for the core goroutine to run it.
func (d *Dispatcher) submit(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	job := func() {
		fn()
		close(done)
	}

	select {
	case d.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
// Mutating operations
// ============================================================================

func (d *Dispatcher) PlaceBet(ctx context.Context, cmd PlaceBetCmd) (uint64, error) {
	var betID uint64
	var opErr error
	if err := d.submit(ctx, func() { betID, opErr = d.core.PlaceBet(cmd) }); err != nil {
		return 0, err
	}
	return betID, opErr
}

func (d *Dispatcher) SettleBet(ctx context.Context, cmd SettleBetCmd) (int64, error) {
	var netPayout int64
	var opErr error
	if err := d.submit(ctx, func() { netPayout, opErr = d.core.SettleBet(cmd) }); err != nil {
		return 0, err
	}
	return netPayout, opErr
}

func (d *Dispatcher) VoidBet(ctx context.Context, cmd VoidBetCmd) (int64, error) {
	var refunded int64
	var opErr error
	if err := d.submit(ctx, func() { refunded, opErr = d.core.VoidBet(cmd) }); err != nil {
		return 0, err
	}
	return refunded, opErr
}

func (d *Dispatcher) DepositLiquidity(ctx context.Context, cmd TreasuryCmd) error {
	return d.run(ctx, func() error { return d.core.DepositLiquidity(cmd) })
}

func (d *Dispatcher) WithdrawFees(ctx context.Context, cmd TreasuryCmd) error {
	return d.run(ctx, func() error { return d.core.WithdrawFees(cmd) })
}

func (d *Dispatcher) EmergencyWithdraw(ctx context.Context, cmd TreasuryCmd) error {
	return d.run(ctx, func() error { return d.core.EmergencyWithdraw(cmd) })
}

func (d *Dispatcher) AddOracle(ctx context.Context, cmd GovernanceCmd) error {
	return d.run(ctx, func() error { return d.core.AddOracle(cmd) })
}

func (d *Dispatcher) RemoveOracle(ctx context.Context, cmd GovernanceCmd) error {
	return d.run(ctx, func() error { return d.core.RemoveOracle(cmd) })
}

func (d *Dispatcher) ProposeAdmin(ctx context.Context, cmd GovernanceCmd) error {
	return d.run(ctx, func() error { return d.core.ProposeAdmin(cmd) })
}

func (d *Dispatcher) AcceptAdmin(ctx context.Context, cmd GovernanceCmd) error {
	return d.run(ctx, func() error { return d.core.AcceptAdmin(cmd) })
}

func (d *Dispatcher) UpdateFeeRate(ctx context.Context, cmd UpdateFeeCmd) error {
	return d.run(ctx, func() error { return d.core.UpdateFeeRate(cmd) })
}

func (d *Dispatcher) UpdateLimits(ctx context.Context, cmd UpdateLimitsCmd) error {
	return d.run(ctx, func() error { return d.core.UpdateLimits(cmd) })
}

func (d *Dispatcher) SetPause(ctx context.Context, cmd GovernanceCmd) error {
	return d.run(ctx, func() error { return d.core.SetPause(cmd) })
}

func (d *Dispatcher) run(ctx context.Context, fn func() error) error {
	var opErr error
	if err := d.submit(ctx, func() { opErr = fn() }); err != nil {
		return err
	}
	return opErr
}

// ============================================================================
// Snapshots
// ============================================================================

// Snapshot captures the core state on the core goroutine, so the copy is
// taken between operations, never during one.
func (d *Dispatcher) Snapshot(ctx context.Context) (*SnapshotState, error) {
	var snap *SnapshotState
	if err := d.submit(ctx, func() { snap = d.core.CreateSnapshotState() }); err != nil {
		return nil, err
	}
	return snap, nil
}

// Sequence reads the current sequence on the core goroutine.
func (d *Dispatcher) Sequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := d.submit(ctx, func() { seq = d.core.GetSequence() }); err != nil {
		return 0, err
	}
	return seq, nil
}
