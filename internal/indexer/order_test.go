package indexer

import (
	"testing"

	"marketledger/internal/model"
)

func TestOrderEvents(t *testing.T) {
	events := []model.MarketEvent{
		{Name: model.EventTokensPurchased, BlockNumber: 10, LogIndex: 4, TxHash: "0x4"},
		{Name: model.EventMarketResolved, BlockNumber: 9, LogIndex: 9, TxHash: "0x3"},
		{Name: model.EventLiquidityAdded, BlockNumber: 10, LogIndex: 7, TxHash: "0x5"},
		{Name: model.EventTokensPurchased, BlockNumber: 10, LogIndex: 2, TxHash: "0x2"},
		{Name: model.EventMarketCreated, BlockNumber: 10, LogIndex: 8, TxHash: "0x1"},
	}

	orderEvents(events)

	want := []string{"0x3", "0x1", "0x5", "0x2", "0x4"}
	for i, tx := range want {
		if events[i].TxHash != tx {
			t.Fatalf("order mismatch at %d: got %s want %s", i, events[i].TxHash, tx)
		}
	}
}

func TestOrderEventsUnknownNameSortsLast(t *testing.T) {
	events := []model.MarketEvent{
		{Name: "SomethingElse", BlockNumber: 5, LogIndex: 0, TxHash: "0xunknown"},
		{Name: model.EventMarketFinalized, BlockNumber: 5, LogIndex: 1, TxHash: "0xknown"},
	}

	orderEvents(events)

	if events[0].TxHash != "0xknown" || events[1].TxHash != "0xunknown" {
		t.Fatalf("unknown event names must sort after known ones: %+v", events)
	}
}
