package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketledger/internal/ledger"
	"marketledger/internal/market"
	"marketledger/internal/model"
	"marketledger/internal/storage"
)

// Config carries the pipeline settings shared by backfill and live sync.
type Config struct {
	Factory      common.Address
	GenesisBlock uint64
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
	Concurrency  int
}

func (c Config) withDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = 5000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	return c
}

// Runner is the historical syncer. Backfill walks the factory checkpoint
// up to the chain head in fixed-size batches: each batch discovers new
// markets from factory logs, fetches market logs concurrently, applies
// everything in deterministic order, and only then advances checkpoints.
// A failed batch leaves its checkpoints untouched, so a restart replays
// it from the top and the ledger's idempotency absorbs the overlap.
type Runner struct {
	chain    ChainSource
	store    storage.Store
	proc     *ledger.Processor
	decoder  *market.Decoder
	registry *Registry
	cp       checkpoints
	cfg      Config
	logger   *zap.Logger
}

// NewRunner builds a Runner.
func NewRunner(chain ChainSource, store storage.Store, proc *ledger.Processor, decoder *market.Decoder, registry *Registry, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		chain:    chain,
		store:    store,
		proc:     proc,
		decoder:  decoder,
		registry: registry,
		cp:       checkpoints{store: store},
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Registry exposes the market registry, shared with the live listener.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Backfill syncs from the factory checkpoint (or genesis on first run) to
// the current chain head and returns the last block processed.
func (r *Runner) Backfill(ctx context.Context) (uint64, error) {
	if err := r.loadRegistry(ctx); err != nil {
		return 0, fmt.Errorf("load markets: %w", err)
	}

	var latest uint64
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		latest, err = r.chain.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("latest block: %w", err)
	}

	from, err := r.cp.next(ctx, FactoryContract, r.cfg.GenesisBlock)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	if from > latest {
		r.logger.Info("backfill up to date",
			zap.Uint64("next_block", from),
			zap.Uint64("latest", latest),
		)
		return latest, nil
	}

	ranges, err := SplitRange(from, latest, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	r.logger.Info("backfill starting",
		zap.Uint64("from", from),
		zap.Uint64("to", latest),
		zap.Int("batches", len(ranges)),
		zap.Int("known_markets", r.registry.Len()),
	)

	for _, batch := range ranges {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := r.syncBatch(ctx, batch); err != nil {
			return 0, fmt.Errorf("batch [%d, %d]: %w", batch.From, batch.To, err)
		}
	}

	r.logger.Info("backfill complete", zap.Uint64("synced_to", latest))
	return latest, nil
}

// loadRegistry seeds the registry from previously discovered markets so
// that a restart resumes watching them without refetching factory history.
func (r *Runner) loadRegistry(ctx context.Context) error {
	markets, err := r.store.ListMarkets(ctx)
	if err != nil {
		return err
	}
	for _, m := range markets {
		r.registry.Add(common.HexToAddress(m.Address))
	}
	return nil
}

// syncBatch processes one block window end to end. Checkpoints move only
// after every event in the window has been applied.
func (r *Runner) syncBatch(ctx context.Context, batch BlockRange) error {
	created, err := r.fetchFactoryEvents(ctx, batch)
	if err != nil {
		return err
	}
	for _, event := range created {
		if err := r.proc.Apply(ctx, event); err != nil {
			return err
		}
		if data, ok := event.Data.(model.MarketCreatedData); ok {
			if r.registry.Add(common.HexToAddress(data.Market)) {
				r.logger.Info("market discovered",
					zap.String("market", data.Market),
					zap.Uint64("block", event.BlockNumber),
				)
			}
		}
	}

	perMarket, err := r.fetchMarketEvents(ctx, batch, r.registry.Markets())
	if err != nil {
		return err
	}

	applied := len(created)
	for _, addr := range r.registry.Markets() {
		events := perMarket[addr]
		if len(events) == 0 {
			continue
		}
		orderEvents(events)
		for _, event := range events {
			if err := r.proc.Apply(ctx, event); err != nil {
				return err
			}
		}
		applied += len(events)
	}

	if err := r.cp.save(ctx, FactoryContract, batch.To); err != nil {
		return fmt.Errorf("save factory checkpoint: %w", err)
	}
	for _, addr := range r.registry.Markets() {
		if err := r.cp.save(ctx, market.NormalizeAddress(addr), batch.To); err != nil {
			return fmt.Errorf("save market checkpoint: %w", err)
		}
	}

	r.logger.Info("batch applied",
		zap.Uint64("from", batch.From),
		zap.Uint64("to", batch.To),
		zap.Int("events", applied),
	)
	return nil
}

func (r *Runner) fetchFactoryEvents(ctx context.Context, batch BlockRange) ([]model.MarketEvent, error) {
	topics, err := r.decoder.Topics(model.EventMarketCreated)
	if err != nil {
		return nil, err
	}

	var logs []types.Log
	err = withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = r.chain.FilterLogs(ctx, batch.From, batch.To, []common.Address{r.cfg.Factory}, topics)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch factory logs: %w", err)
	}

	events, err := r.decodeLogs(ctx, logs)
	if err != nil {
		return nil, err
	}
	orderEvents(events)
	return events, nil
}

// fetchMarketEvents pulls logs for every registered market concurrently.
// Results are grouped by contract; ordering within a market happens at
// apply time.
func (r *Runner) fetchMarketEvents(ctx context.Context, batch BlockRange, markets []common.Address) (map[common.Address][]model.MarketEvent, error) {
	topics, err := r.decoder.Topics(
		model.EventLiquidityAdded,
		model.EventTokensPurchased,
		model.EventTokensSold,
		model.EventLiquidityRemoved,
		model.EventWinningsClaimed,
		model.EventMarketResolved,
		model.EventMarketCanceled,
		model.EventMarketFinalized,
	)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	perMarket := make(map[common.Address][]model.MarketEvent, len(markets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, addr := range markets {
		addr := addr
		g.Go(func() error {
			var logs []types.Log
			err := withRetry(gctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
				var err error
				logs, err = r.chain.FilterLogs(ctx, batch.From, batch.To, []common.Address{addr}, topics)
				return err
			})
			if err != nil {
				return fmt.Errorf("fetch logs for %s: %w", market.NormalizeAddress(addr), err)
			}

			events, err := r.decodeLogs(gctx, logs)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				return nil
			}

			mu.Lock()
			perMarket[addr] = events
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return perMarket, nil
}

func (r *Runner) decodeLogs(ctx context.Context, logs []types.Log) ([]model.MarketEvent, error) {
	events := make([]model.MarketEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed || !r.decoder.CanDecode(lg) {
			continue
		}

		var ts uint64
		err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
			var err error
			ts, err = r.chain.BlockTimestamp(ctx, lg.BlockNumber)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("block timestamp %d: %w", lg.BlockNumber, err)
		}

		event, err := r.decoder.Decode(lg, ts)
		if err != nil {
			return nil, fmt.Errorf("decode log %s:%d: %w", lg.TxHash.Hex(), lg.Index, err)
		}
		events = append(events, *event)
	}
	return events, nil
}
