// Package indexer drives the sync pipeline: it pulls factory and market
// logs from the chain in block batches, decodes them, and feeds them to
// the ledger in deterministic order, checkpointing as it goes.
package indexer

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSource is the read-only chain access the pipeline needs. It is
// satisfied by chain.Client and by in-memory fakes in tests.
type ChainSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	SubscribeLogs(ctx context.Context, addresses []common.Address, topic0 []common.Hash, sink chan<- types.Log) (ethereum.Subscription, error)
}
