// Package storage defines the projected-state store consumed by the
// ledger and the sync pipeline, with Postgres and in-memory
// implementations.
package storage

import (
	"context"
	"errors"

	"marketledger/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrAlreadyApplied is returned by MarkApplied when the (txHash, logIndex)
// pair has been recorded before. Callers treat it as a replay signal, not
// a failure.
var ErrAlreadyApplied = errors.New("storage: event already applied")

// Store is the single shared mutable resource of the pipeline. Every
// method is individually durable: once a call returns nil, a crash must
// not lose the write. Implementations do not need cross-call transactions;
// replay safety comes from MarkApplied plus write-once inserts.
type Store interface {
	// Transact runs fn against a store whose writes commit together when
	// fn returns nil and are discarded when it returns an error. The
	// processor applies each event inside one Transact call so that the
	// idempotency mark and the mutations it guards are atomic.
	Transact(ctx context.Context, fn func(Store) error) error

	// MarkApplied records the idempotency key of an event. It returns
	// ErrAlreadyApplied when the key was recorded earlier.
	MarkApplied(ctx context.Context, txHash string, logIndex uint64) error

	GetMarket(ctx context.Context, address string) (model.Market, error)
	PutMarket(ctx context.Context, m model.Market) error
	// ListMarkets returns all markets in discovery order: creation block,
	// then address.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	EnsureUser(ctx context.Context, address string, firstSeenBlock uint64) error

	GetPosition(ctx context.Context, user, market string) (model.UserPosition, error)
	PutPosition(ctx context.Context, p model.UserPosition) error
	ListPositionsByMarket(ctx context.Context, market string) ([]model.UserPosition, error)

	InsertTrade(ctx context.Context, t model.Trade) error
	InsertLPAction(ctx context.Context, a model.LPAction) error
	InsertClaim(ctx context.Context, c model.Claim) error

	// InsertNotification is a no-op when a notification with the same
	// (user, market, type) already exists.
	InsertNotification(ctx context.Context, n model.Notification) error

	GetSyncState(ctx context.Context, contract string) (uint64, bool, error)
	// SetSyncState advances the checkpoint for a contract. The stored
	// value never regresses: writes below the current block are ignored.
	SetSyncState(ctx context.Context, contract string, block uint64) error
	ListSyncStates(ctx context.Context) ([]model.SyncState, error)
}
