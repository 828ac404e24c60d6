package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"marketledger/internal/chain"
	"marketledger/internal/config"
	"marketledger/internal/indexer"
	"marketledger/internal/ledger"
	"marketledger/internal/market"
	"marketledger/internal/storage"
	"marketledger/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "syncer",
		Short:        "Prediction market chain syncer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Backfill to head, then follow live events",
		RunE:  runLive,
	}
	addSyncFlags(runCmd.Flags())
	root.AddCommand(runCmd)

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Sync historical events up to the current head and exit",
		RunE:  runBackfill,
	}
	addSyncFlags(backfillCmd.Flags())
	root.AddCommand(backfillCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print per-contract sync checkpoints",
		RunE:  runStatus,
	}
	statusCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	statusCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(statusCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addSyncFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "chain RPC URL (websocket required for live mode)")
	flags.String("factory", "", "market factory contract address")
	flags.String("pg-dsn", "", "Postgres DSN")
	flags.Uint64("genesis-block", 0, "factory deployment block, used on first run")
	flags.Uint64("batch-size", 5000, "blocks per backfill batch")
	flags.Int("max-retries", 5, "maximum retry attempts per chain call")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	flags.Int("concurrency", 8, "concurrent per-market log fetches")
	flags.String("journal", "", "dropped-event journal JSONL path (empty disables)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	return withPipeline(cmd, func(ctx context.Context, runner *indexer.Runner, _ *indexer.Listener, logger *zap.Logger) error {
		synced, err := runner.Backfill(ctx)
		if err != nil {
			return err
		}
		logger.Info("backfill done", zap.Uint64("synced_to", synced))
		return nil
	})
}

func runLive(cmd *cobra.Command, _ []string) error {
	return withPipeline(cmd, func(ctx context.Context, _ *indexer.Runner, listener *indexer.Listener, _ *zap.Logger) error {
		err := listener.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

// withPipeline wires config, logger, chain client, store, and pipeline,
// then hands control to fn.
func withPipeline(cmd *cobra.Command, fn func(context.Context, *indexer.Runner, *indexer.Listener, *zap.Logger) error) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !common.IsHexAddress(cfg.Factory) {
		return fmt.Errorf("invalid factory address: %s", cfg.Factory)
	}
	factory := common.HexToAddress(cfg.Factory)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return err
	}

	decoder, err := market.NewDecoder()
	if err != nil {
		return err
	}

	var journal *storage.Journal
	if cfg.Journal != "" {
		journal = storage.NewJournal(cfg.Journal)
	}

	proc := ledger.NewProcessor(store, journal, logger)
	pipelineCfg := indexer.Config{
		Factory:      factory,
		GenesisBlock: cfg.GenesisBlock,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		Concurrency:  cfg.Concurrency,
	}
	runner := indexer.NewRunner(chainClient, store, proc, decoder, indexer.NewRegistry(), pipelineCfg, logger)
	listener := indexer.NewListener(chainClient, store, proc, decoder, runner, pipelineCfg, logger)

	logger.Info("syncer start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("factory", market.NormalizeAddress(factory)),
		zap.Uint64("genesis_block", cfg.GenesisBlock),
		zap.Uint64("batch_size", cfg.BatchSize),
	)

	return fn(ctx, runner, listener, logger)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	states, err := store.ListSyncStates(ctx)
	if err != nil {
		return err
	}
	markets, err := store.ListMarkets(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("markets: %d\n", len(markets))
	if len(states) == 0 {
		fmt.Println("no sync state recorded")
		return nil
	}
	for _, st := range states {
		fmt.Printf("%-44s block %-10d updated %s\n",
			st.Contract, st.LastProcessedBlock, st.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
