package storage

import (
	"context"
	"errors"
	"testing"

	"marketledger/internal/model"
)

func TestMarkAppliedReplay(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if err := store.MarkApplied(ctx, "0xabc", 3); err != nil {
		t.Fatalf("first mark failed: %v", err)
	}
	if err := store.MarkApplied(ctx, "0xabc", 3); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("replay should report ErrAlreadyApplied, got %v", err)
	}
	if err := store.MarkApplied(ctx, "0xabc", 4); err != nil {
		t.Fatalf("different log index is a distinct event: %v", err)
	}
}

func TestTransactRollsBack(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	failed := errors.New("apply failed")
	err := store.Transact(ctx, func(tx Store) error {
		if err := tx.MarkApplied(ctx, "0xabc", 1); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
		m := model.NewMarket("0xmarket", "0xcreator", "q", []string{"Yes", "No"}, 0, 100)
		if err := tx.PutMarket(ctx, m); err != nil {
			t.Fatalf("put failed: %v", err)
		}
		return failed
	})
	if !errors.Is(err, failed) {
		t.Fatalf("transact must surface fn's error: %v", err)
	}

	if _, err := store.GetMarket(ctx, "0xmarket"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("write from failed transaction survived: %v", err)
	}
	if err := store.MarkApplied(ctx, "0xabc", 1); err != nil {
		t.Fatalf("idempotency mark from failed transaction survived: %v", err)
	}
}

func TestTransactCommits(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	err := store.Transact(ctx, func(tx Store) error {
		m := model.NewMarket("0xmarket", "0xcreator", "q", []string{"Yes", "No"}, 0, 100)
		return tx.PutMarket(ctx, m)
	})
	if err != nil {
		t.Fatalf("transact failed: %v", err)
	}
	if _, err := store.GetMarket(ctx, "0xmarket"); err != nil {
		t.Fatalf("committed write missing: %v", err)
	}
}

func TestNotificationDedup(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	n := model.Notification{
		UserAddress:   "0xuser",
		MarketAddress: "0xmarket",
		Type:          model.NotificationMarketResolved,
		Message:       "first",
	}
	if err := store.InsertNotification(ctx, n); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	n.Message = "second"
	if err := store.InsertNotification(ctx, n); err != nil {
		t.Fatalf("duplicate insert should be a no-op: %v", err)
	}

	got := store.Notifications()
	if len(got) != 1 {
		t.Fatalf("expected one notification, got %d", len(got))
	}
	if got[0].Message != "first" {
		t.Fatalf("duplicate insert must not overwrite: %s", got[0].Message)
	}
}

func TestSyncStateMonotonic(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if _, ok, err := store.GetSyncState(ctx, "factory"); err != nil || ok {
		t.Fatalf("fresh store should have no sync state: ok=%v err=%v", ok, err)
	}

	if err := store.SetSyncState(ctx, "factory", 100); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.SetSyncState(ctx, "factory", 50); err != nil {
		t.Fatalf("regressive set should be ignored, not fail: %v", err)
	}

	block, ok, err := store.GetSyncState(ctx, "factory")
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if block != 100 {
		t.Fatalf("checkpoint regressed: %d", block)
	}
}

func TestListMarketsDiscoveryOrder(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	for _, m := range []model.Market{
		model.NewMarket("0xbb", "0xc", "q2", []string{"Yes", "No"}, 0, 200),
		model.NewMarket("0xaa", "0xc", "q1", []string{"Yes", "No"}, 0, 100),
		model.NewMarket("0xcc", "0xc", "q3", []string{"Yes", "No"}, 0, 100),
	} {
		if err := store.PutMarket(ctx, m); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	markets, err := store.ListMarkets(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := []string{"0xaa", "0xcc", "0xbb"}
	for i, m := range markets {
		if m.Address != want[i] {
			t.Fatalf("discovery order mismatch at %d: %s != %s", i, m.Address, want[i])
		}
	}
}

func TestWriteOnceInserts(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	trade := model.Trade{TxHash: "0x1", MarketAddress: "0xm", CollateralAmount: "100"}
	if err := store.InsertTrade(ctx, trade); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	trade.CollateralAmount = "999"
	if err := store.InsertTrade(ctx, trade); err != nil {
		t.Fatalf("duplicate insert should be a no-op: %v", err)
	}

	got := store.Trades()
	if len(got) != 1 || got[0].CollateralAmount != "100" {
		t.Fatalf("write-once violated: %+v", got)
	}
}
