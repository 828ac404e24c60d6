package indexer

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"marketledger/internal/ledger"
	"marketledger/internal/market"
	"marketledger/internal/model"
	"marketledger/internal/storage"
)

var (
	factoryAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	market1Addr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	aliceAddr   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	bobAddr     = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

// fakeChain serves canned logs and fabricated timestamps. It implements
// ChainSource the way a node would answer range queries: a log matches
// when its address, block, and topic0 all pass the filter.
type fakeChain struct {
	mu       sync.Mutex
	latest   uint64
	logs     []types.Log
	sink     chan<- types.Log
	sub      *fakeSub
	subCount int
}

func (f *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeChain) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	return number * 10, nil
}

func (f *fakeChain) FilterLogs(_ context.Context, from, to uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber < from || lg.BlockNumber > to {
			continue
		}
		if !containsAddress(addresses, lg.Address) {
			continue
		}
		if len(topic0) > 0 && (len(lg.Topics) == 0 || !containsHash(topic0, lg.Topics[0])) {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (f *fakeChain) SubscribeLogs(_ context.Context, _ []common.Address, _ []common.Hash, sink chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
	f.sub = &fakeSub{errc: make(chan error, 1)}
	f.subCount++
	return f.sub, nil
}

func (f *fakeChain) currentSink() chan<- types.Log {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sink
}

func (f *fakeChain) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subCount
}

func (f *fakeChain) setLatest(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = n
}

func (f *fakeChain) addLogs(logs ...types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, logs...)
}

type fakeSub struct {
	errc chan error
	once sync.Once
}

func (s *fakeSub) Unsubscribe()      { s.once.Do(func() { close(s.errc) }) }
func (s *fakeSub) Err() <-chan error { return s.errc }

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, h common.Hash) bool {
	for _, x := range list {
		if x == h {
			return true
		}
	}
	return false
}

func testEvent(t *testing.T, name string) abi.Event {
	t.Helper()
	for _, parse := range []func() (abi.ABI, error){market.FactoryABI, market.MarketABI} {
		parsed, err := parse()
		if err != nil {
			t.Fatalf("parse abi: %v", err)
		}
		if ev, ok := parsed.Events[name]; ok {
			return ev
		}
	}
	t.Fatalf("event %s not found", name)
	return abi.Event{}
}

func packData(t *testing.T, ev abi.Event, values ...interface{}) []byte {
	t.Helper()
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		t.Fatalf("pack %s: %v", ev.Name, err)
	}
	return data
}

func addrTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func numTopic(n uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(n))
}

func txHash(b byte) common.Hash {
	return common.BytesToHash([]byte{b})
}

func marketCreatedLog(t *testing.T, block uint64, tx byte) types.Log {
	ev := testEvent(t, model.EventMarketCreated)
	return types.Log{
		Address:     factoryAddr,
		Topics:      []common.Hash{ev.ID, addrTopic(market1Addr), addrTopic(bobAddr)},
		Data:        packData(t, ev, "Will it rain tomorrow?", []string{"Yes", "No"}, big.NewInt(1900000000)),
		BlockNumber: block,
		TxHash:      txHash(tx),
		Index:       0,
	}
}

func purchaseLog(t *testing.T, block uint64, tx byte, buyer common.Address, outcome, collateral, tokens, fee int64) types.Log {
	ev := testEvent(t, model.EventTokensPurchased)
	return types.Log{
		Address:     market1Addr,
		Topics:      []common.Hash{ev.ID, addrTopic(buyer), numTopic(uint64(outcome))},
		Data:        packData(t, ev, big.NewInt(collateral), big.NewInt(tokens), big.NewInt(fee)),
		BlockNumber: block,
		TxHash:      txHash(tx),
		Index:       1,
	}
}

func liquidityAddedLog(t *testing.T, block uint64, tx byte, provider common.Address, collateral, lpTokens int64) types.Log {
	ev := testEvent(t, model.EventLiquidityAdded)
	return types.Log{
		Address:     market1Addr,
		Topics:      []common.Hash{ev.ID, addrTopic(provider)},
		Data:        packData(t, ev, big.NewInt(collateral), big.NewInt(lpTokens)),
		BlockNumber: block,
		TxHash:      txHash(tx),
		Index:       2,
	}
}

func newTestRunner(chain ChainSource, store storage.Store) *Runner {
	decoder, err := market.NewDecoder()
	if err != nil {
		panic(err)
	}
	proc := ledger.NewProcessor(store, nil, nil)
	cfg := Config{
		Factory:      factoryAddr,
		GenesisBlock: 0,
		BatchSize:    5,
	}
	return NewRunner(chain, store, proc, decoder, NewRegistry(), cfg, nil)
}

func TestBackfillDiscoversAndApplies(t *testing.T) {
	chain := &fakeChain{latest: 10}
	chain.addLogs(
		marketCreatedLog(t, 2, 0x01),
		purchaseLog(t, 3, 0x02, aliceAddr, 0, 1000, 500, 10),
		liquidityAddedLog(t, 7, 0x03, bobAddr, 500, 50),
	)

	store := storage.NewMemory()
	runner := newTestRunner(chain, store)
	ctx := context.Background()

	synced, err := runner.Backfill(ctx)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if synced != 10 {
		t.Fatalf("synced block mismatch: %d", synced)
	}

	marketKey := market.NormalizeAddress(market1Addr)
	m, err := store.GetMarket(ctx, marketKey)
	if err != nil {
		t.Fatalf("market not projected: %v", err)
	}
	if m.TotalVolume != "1000" || m.TotalReserves != "1490" {
		t.Fatalf("counters mismatch: volume=%s reserves=%s", m.TotalVolume, m.TotalReserves)
	}

	pos, err := store.GetPosition(ctx, market.NormalizeAddress(aliceAddr), marketKey)
	if err != nil {
		t.Fatalf("position not projected: %v", err)
	}
	if pos.OutcomeBalances[0] != "500" {
		t.Fatalf("balance mismatch: %s", pos.OutcomeBalances[0])
	}

	block, ok, err := store.GetSyncState(ctx, FactoryContract)
	if err != nil || !ok || block != 10 {
		t.Fatalf("factory checkpoint mismatch: block=%d ok=%v err=%v", block, ok, err)
	}
	block, ok, _ = store.GetSyncState(ctx, marketKey)
	if !ok || block != 10 {
		t.Fatalf("market checkpoint mismatch: block=%d ok=%v", block, ok)
	}

	if !runner.Registry().Contains(market1Addr) {
		t.Fatalf("discovered market missing from registry")
	}
}

func TestBackfillResumesFromCheckpoint(t *testing.T) {
	chain := &fakeChain{latest: 4}
	chain.addLogs(
		marketCreatedLog(t, 2, 0x01),
		purchaseLog(t, 3, 0x02, aliceAddr, 0, 1000, 500, 10),
	)

	store := storage.NewMemory()
	runner := newTestRunner(chain, store)
	ctx := context.Background()

	if _, err := runner.Backfill(ctx); err != nil {
		t.Fatalf("first backfill: %v", err)
	}

	// New head plus one new event; rerunning must pick up only the tail
	// and leave earlier counters untouched.
	chain.setLatest(10)
	chain.addLogs(liquidityAddedLog(t, 7, 0x03, bobAddr, 500, 50))

	// A fresh runner simulates a restart: registry reloads from storage.
	restarted := newTestRunner(chain, store)
	if _, err := restarted.Backfill(ctx); err != nil {
		t.Fatalf("second backfill: %v", err)
	}

	marketKey := market.NormalizeAddress(market1Addr)
	m, _ := store.GetMarket(ctx, marketKey)
	if m.TotalVolume != "1000" {
		t.Fatalf("volume must not double-count on resume: %s", m.TotalVolume)
	}
	pos, err := store.GetPosition(ctx, market.NormalizeAddress(bobAddr), marketKey)
	if err != nil {
		t.Fatalf("lp position not projected after resume: %v", err)
	}
	if pos.LPBalance != "50" {
		t.Fatalf("lp balance mismatch: %s", pos.LPBalance)
	}

	block, ok, _ := store.GetSyncState(ctx, FactoryContract)
	if !ok || block != 10 {
		t.Fatalf("checkpoint did not advance: %d", block)
	}
}

func TestBackfillNoNewBlocks(t *testing.T) {
	chain := &fakeChain{latest: 4}
	chain.addLogs(marketCreatedLog(t, 2, 0x01))

	store := storage.NewMemory()
	runner := newTestRunner(chain, store)
	ctx := context.Background()

	if _, err := runner.Backfill(ctx); err != nil {
		t.Fatalf("first backfill: %v", err)
	}
	synced, err := runner.Backfill(ctx)
	if err != nil {
		t.Fatalf("idle backfill: %v", err)
	}
	if synced != 4 {
		t.Fatalf("idle backfill should report head: %d", synced)
	}
}
