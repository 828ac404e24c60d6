package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketledger/internal/model"
)

// Memory is an in-memory Store. It backs unit tests and mirrors the
// Postgres implementation's semantics, including dedup keys and checkpoint
// monotonicity.
type Memory struct {
	mu sync.Mutex

	applied       map[string]struct{}
	markets       map[string]model.Market
	users         map[string]model.User
	positions     map[string]model.UserPosition
	trades        map[string]model.Trade
	lpActions     map[string]model.LPAction
	claims        map[string]model.Claim
	notifications map[string]model.Notification
	syncState     map[string]model.SyncState
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		applied:       make(map[string]struct{}),
		markets:       make(map[string]model.Market),
		users:         make(map[string]model.User),
		positions:     make(map[string]model.UserPosition),
		trades:        make(map[string]model.Trade),
		lpActions:     make(map[string]model.LPAction),
		claims:        make(map[string]model.Claim),
		notifications: make(map[string]model.Notification),
		syncState:     make(map[string]model.SyncState),
	}
}

// Transact snapshots the maps before running fn and restores them when fn
// fails, mirroring the Postgres rollback: a failed event application
// leaves no trace, including its idempotency mark.
func (s *Memory) Transact(_ context.Context, fn func(Store) error) error {
	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	applied       map[string]struct{}
	markets       map[string]model.Market
	users         map[string]model.User
	positions     map[string]model.UserPosition
	trades        map[string]model.Trade
	lpActions     map[string]model.LPAction
	claims        map[string]model.Claim
	notifications map[string]model.Notification
	syncState     map[string]model.SyncState
}

func (s *Memory) snapshot() memorySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := memorySnapshot{
		applied:       make(map[string]struct{}, len(s.applied)),
		markets:       make(map[string]model.Market, len(s.markets)),
		users:         make(map[string]model.User, len(s.users)),
		positions:     make(map[string]model.UserPosition, len(s.positions)),
		trades:        make(map[string]model.Trade, len(s.trades)),
		lpActions:     make(map[string]model.LPAction, len(s.lpActions)),
		claims:        make(map[string]model.Claim, len(s.claims)),
		notifications: make(map[string]model.Notification, len(s.notifications)),
		syncState:     make(map[string]model.SyncState, len(s.syncState)),
	}
	for k, v := range s.applied {
		snap.applied[k] = v
	}
	for k, v := range s.markets {
		snap.markets[k] = cloneMarket(v)
	}
	for k, v := range s.users {
		snap.users[k] = v
	}
	for k, v := range s.positions {
		snap.positions[k] = clonePosition(v)
	}
	for k, v := range s.trades {
		snap.trades[k] = v
	}
	for k, v := range s.lpActions {
		snap.lpActions[k] = v
	}
	for k, v := range s.claims {
		snap.claims[k] = v
	}
	for k, v := range s.notifications {
		snap.notifications[k] = v
	}
	for k, v := range s.syncState {
		snap.syncState[k] = v
	}
	return snap
}

func (s *Memory) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applied = snap.applied
	s.markets = snap.markets
	s.users = snap.users
	s.positions = snap.positions
	s.trades = snap.trades
	s.lpActions = snap.lpActions
	s.claims = snap.claims
	s.notifications = snap.notifications
	s.syncState = snap.syncState
}

func appliedKey(txHash string, logIndex uint64) string {
	return fmt.Sprintf("%s:%d", txHash, logIndex)
}

func positionKey(user, market string) string {
	return user + "|" + market
}

func notificationKey(n model.Notification) string {
	return n.UserAddress + "|" + n.MarketAddress + "|" + string(n.Type)
}

func (s *Memory) MarkApplied(_ context.Context, txHash string, logIndex uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := appliedKey(txHash, logIndex)
	if _, ok := s.applied[key]; ok {
		return ErrAlreadyApplied
	}
	s.applied[key] = struct{}{}
	return nil
}

func (s *Memory) GetMarket(_ context.Context, address string) (model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[address]
	if !ok {
		return model.Market{}, ErrNotFound
	}
	return cloneMarket(m), nil
}

func (s *Memory) PutMarket(_ context.Context, m model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markets[m.Address] = cloneMarket(m)
	return nil
}

func (s *Memory) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, cloneMarket(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtBlock != out[j].CreatedAtBlock {
			return out[i].CreatedAtBlock < out[j].CreatedAtBlock
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}

func (s *Memory) EnsureUser(_ context.Context, address string, firstSeenBlock uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[address]; ok {
		return nil
	}
	s.users[address] = model.User{Address: address, FirstSeenBlock: firstSeenBlock}
	return nil
}

func (s *Memory) GetPosition(_ context.Context, user, market string) (model.UserPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[positionKey(user, market)]
	if !ok {
		return model.UserPosition{}, ErrNotFound
	}
	return clonePosition(p), nil
}

func (s *Memory) PutPosition(_ context.Context, p model.UserPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions[positionKey(p.UserAddress, p.MarketAddress)] = clonePosition(p)
	return nil
}

func (s *Memory) ListPositionsByMarket(_ context.Context, market string) ([]model.UserPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.UserPosition, 0)
	for _, p := range s.positions {
		if p.MarketAddress == market {
			out = append(out, clonePosition(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UserAddress < out[j].UserAddress
	})
	return out, nil
}

func (s *Memory) InsertTrade(_ context.Context, t model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trades[t.TxHash]; ok {
		return nil
	}
	s.trades[t.TxHash] = t
	return nil
}

func (s *Memory) InsertLPAction(_ context.Context, a model.LPAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lpActions[a.TxHash]; ok {
		return nil
	}
	s.lpActions[a.TxHash] = a
	return nil
}

func (s *Memory) InsertClaim(_ context.Context, c model.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.claims[c.TxHash]; ok {
		return nil
	}
	s.claims[c.TxHash] = c
	return nil
}

func (s *Memory) InsertNotification(_ context.Context, n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := notificationKey(n)
	if _, ok := s.notifications[key]; ok {
		return nil
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.notifications[key] = n
	return nil
}

func (s *Memory) GetSyncState(_ context.Context, contract string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.syncState[contract]
	if !ok {
		return 0, false, nil
	}
	return st.LastProcessedBlock, true, nil
}

func (s *Memory) SetSyncState(_ context.Context, contract string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.syncState[contract]; ok && st.LastProcessedBlock >= block {
		return nil
	}
	s.syncState[contract] = model.SyncState{
		Contract:           contract,
		LastProcessedBlock: block,
		UpdatedAt:          time.Now().UTC(),
	}
	return nil
}

func (s *Memory) ListSyncStates(_ context.Context) ([]model.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.SyncState, 0, len(s.syncState))
	for _, st := range s.syncState {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Contract < out[j].Contract
	})
	return out, nil
}

// Trades returns all trades sorted by block then log index. Test helper.
func (s *Memory) Trades() []model.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out
}

// Claims returns all claims sorted by block then log index. Test helper.
func (s *Memory) Claims() []model.Claim {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Claim, 0, len(s.claims))
	for _, c := range s.claims {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out
}

// Notifications returns all notifications sorted by dedup key. Test helper.
func (s *Memory) Notifications() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.notifications))
	for key := range s.notifications {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]model.Notification, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.notifications[key])
	}
	return out
}

func cloneMarket(m model.Market) model.Market {
	out := m
	out.Outcomes = append([]string(nil), m.Outcomes...)
	out.Reserves = append([]string(nil), m.Reserves...)
	if m.WinningOutcome != nil {
		v := *m.WinningOutcome
		out.WinningOutcome = &v
	}
	if m.FinalizedAt != nil {
		v := *m.FinalizedAt
		out.FinalizedAt = &v
	}
	return out
}

func clonePosition(p model.UserPosition) model.UserPosition {
	out := p
	out.OutcomeBalances = append([]string(nil), p.OutcomeBalances...)
	return out
}
