package sim

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/timberline/internal/agent"
	"github.com/nidhogg/timberline/internal/ledger"
	"github.com/nidhogg/timberline/internal/market"
)

// Options configures a simulation run.
type Options struct {
	TotalTicks int64
	// Pacing is the delay between agent turns, a throttle for oracle
	// rate limits. Not part of the market state machine.
	Pacing time.Duration
	// ShuffleEachTick randomizes turn order per tick using Seed, so a
	// fixed seed still yields a reproducible run. Off = strict roster
	// order.
	ShuffleEachTick bool
	Seed            int64
	// SnapshotPath, when set, receives the active-offer JSON snapshot
	// at every round boundary.
	SnapshotPath string
}

// SnapshotSink receives the round-boundary offer book, e.g. the
// PostgreSQL mirror. Sink faults are inspection losses, not audit
// losses, and do not stop the run.
type SnapshotSink interface {
	SaveOfferSnapshot(ctx context.Context, round int64, offers []market.Offer) error
}

// Runner drives the simulation: ticks advance one at a time, and
// within a tick agents act strictly one after another. There is no
// concurrent settlement by construction.
type Runner struct {
	engine *market.Engine
	led    *ledger.Ledger
	shells []*agent.Shell
	opts   Options
	rng    *rand.Rand
	sink   SnapshotSink
	logger *zap.Logger
}

// NewRunner creates a simulation runner over a fixed roster of shells.
func NewRunner(engine *market.Engine, led *ledger.Ledger, shells []*agent.Shell, opts Options, logger *zap.Logger) *Runner {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Runner{
		engine: engine,
		led:    led,
		shells: shells,
		opts:   opts,
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger,
	}
}

// SetSnapshotSink attaches an optional round-boundary snapshot sink.
func (r *Runner) SetSnapshotSink(s SnapshotSink) {
	r.sink = s
}

// Run executes the configured number of ticks. It returns early on
// context cancellation or on a durability fault; recoverable agent
// failures never stop the run.
func (r *Runner) Run(ctx context.Context) error {
	for tick := int64(1); tick <= r.opts.TotalTicks; tick++ {
		if err := r.runTick(ctx, tick); err != nil {
			return err
		}
		if r.opts.SnapshotPath != "" {
			r.writeOfferSnapshot(tick)
		}
		if r.sink != nil {
			if err := r.sink.SaveOfferSnapshot(ctx, tick, r.engine.Book().ListActive()); err != nil {
				r.logger.Warn("offer snapshot sink failed", zap.Int64("tick", tick), zap.Error(err))
			}
		}
		r.logger.Info("tick complete",
			zap.Int64("tick", tick),
			zap.Int("active_offers", r.engine.Book().Len()),
			zap.Int("total_trades", r.led.Len()))
	}
	return nil
}

func (r *Runner) runTick(ctx context.Context, tick int64) error {
	r.engine.BeginRound(tick)

	order := r.turnOrder()
	for _, sh := range order {
		if err := ctx.Err(); err != nil {
			return err
		}

		agentID := sh.Persona().ID
		snap := r.engine.Snapshot()
		action := sh.Decide(ctx, snap)

		result, err := r.engine.Execute(ctx, agentID, action)
		if err != nil && !market.IsRejection(err) {
			return fmt.Errorf("tick %d, agent %s: %w", tick, agentID, err)
		}
		sh.Learn(snap, action, result)

		if r.opts.Pacing > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.opts.Pacing):
			}
		}
	}
	return nil
}

// turnOrder returns the roster, optionally reshuffled for this tick.
func (r *Runner) turnOrder() []*agent.Shell {
	if !r.opts.ShuffleEachTick {
		return r.shells
	}
	order := make([]*agent.Shell, len(r.shells))
	copy(order, r.shells)
	r.rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}
