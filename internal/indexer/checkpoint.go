package indexer

import (
	"context"

	"marketledger/internal/storage"
)

// FactoryContract is the sync_state key for the factory contract. Market
// contracts checkpoint under their own lowercase address.
const FactoryContract = "factory"

// checkpoints reads and advances per-contract sync state. Saves are
// monotonic at the storage layer, so replays cannot move a checkpoint
// backwards.
type checkpoints struct {
	store storage.Store
}

// next returns the first block still to be processed for a contract:
// checkpoint+1 when one exists, genesis otherwise.
func (c checkpoints) next(ctx context.Context, contract string, genesis uint64) (uint64, error) {
	block, ok, err := c.store.GetSyncState(ctx, contract)
	if err != nil {
		return 0, err
	}
	if !ok {
		return genesis, nil
	}
	return block + 1, nil
}

// save advances the checkpoint for a contract.
func (c checkpoints) save(ctx context.Context, contract string, block uint64) error {
	return c.store.SetSyncState(ctx, contract, block)
}
