package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"marketledger/internal/ledger"
	"marketledger/internal/market"
	"marketledger/internal/model"
	"marketledger/internal/storage"
)

const (
	liveSinkBuffer = 256
	maxSessionWait = 30 * time.Second
)

// Listener is the live syncer. Each session subscribes to factory and
// market logs first, then runs a catch-up backfill to close the gap since
// the last checkpoint; logs emitted during the backfill buffer in the
// sink, and replaying the overlap is a no-op. Discovering a new market
// ends the session so the next subscription covers it. Events are
// checkpointed one by one, so a crash resumes from the last applied log;
// a failed apply ends the session without advancing the checkpoint, and
// the next session's backfill replays the window.
type Listener struct {
	chain    ChainSource
	proc     *ledger.Processor
	decoder  *market.Decoder
	registry *Registry
	runner   *Runner
	cp       checkpoints
	cfg      Config
	logger   *zap.Logger
}

// NewListener builds a Listener around an existing Runner, sharing its
// registry and checkpoints.
func NewListener(chain ChainSource, store storage.Store, proc *ledger.Processor, decoder *market.Decoder, runner *Runner, cfg Config, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		chain:    chain,
		proc:     proc,
		decoder:  decoder,
		registry: runner.Registry(),
		runner:   runner,
		cp:       checkpoints{store: store},
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Run subscribes and applies live events until the context is canceled.
// Subscription failures are retried with backoff; the backfill at the
// start of each session makes reconnects lossless.
func (l *Listener) Run(ctx context.Context) error {
	wait := l.cfg.RetryBackoff
	for {
		err := l.session(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil:
			// Clean session end (new market discovered): resubscribe
			// immediately with the wider address set.
			wait = l.cfg.RetryBackoff
			continue
		}

		l.logger.Warn("live session ended, reconnecting",
			zap.Error(err),
			zap.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if wait *= 2; wait > maxSessionWait {
			wait = maxSessionWait
		}
	}
}

func (l *Listener) session(ctx context.Context) error {
	addresses := append([]common.Address{l.cfg.Factory}, l.registry.Markets()...)
	sink := make(chan types.Log, liveSinkBuffer)
	sub, err := l.chain.SubscribeLogs(ctx, addresses, nil, sink)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	l.logger.Info("live subscription open", zap.Int("contracts", len(addresses)))

	// Catch up only after the subscription is live, so logs emitted while
	// backfilling buffer in the sink instead of falling into a gap.
	known := l.registry.Len()
	if _, err := l.runner.Backfill(ctx); err != nil {
		return fmt.Errorf("catch-up backfill: %w", err)
	}
	if l.registry.Len() != known {
		// Backfill discovered markets the current subscription does not
		// cover; rebuild it with the wider address set.
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("subscription: %w", err)
		case lg := <-sink:
			resubscribe, err := l.handle(ctx, lg)
			if err != nil {
				// The checkpoint did not advance past this event. Ending
				// the session here keeps later events from moving it
				// either; the next session's backfill replays the window.
				return fmt.Errorf("apply live log %s:%d: %w", lg.TxHash.Hex(), lg.Index, err)
			}
			if resubscribe {
				return nil
			}
		}
	}
}

// handle applies one live log and advances its contract checkpoint. It
// reports whether the subscription must be rebuilt to cover a newly
// discovered market.
func (l *Listener) handle(ctx context.Context, lg types.Log) (bool, error) {
	if lg.Removed || !l.decoder.CanDecode(lg) {
		return false, nil
	}

	var ts uint64
	err := withRetry(ctx, l.cfg.MaxRetries, l.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = l.chain.BlockTimestamp(ctx, lg.BlockNumber)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("block timestamp %d: %w", lg.BlockNumber, err)
	}

	event, err := l.decoder.Decode(lg, ts)
	if err != nil {
		return false, fmt.Errorf("decode log %s:%d: %w", lg.TxHash.Hex(), lg.Index, err)
	}
	if err := l.proc.Apply(ctx, *event); err != nil {
		return false, err
	}

	contract := market.NormalizeAddress(lg.Address)
	resubscribe := false
	if data, ok := event.Data.(model.MarketCreatedData); ok {
		contract = FactoryContract
		if l.registry.Add(common.HexToAddress(data.Market)) {
			l.logger.Info("market discovered live", zap.String("market", data.Market))
			resubscribe = true
		}
	}
	if err := l.cp.save(ctx, contract, event.BlockNumber); err != nil {
		return false, fmt.Errorf("save checkpoint: %w", err)
	}

	return resubscribe, nil
}
