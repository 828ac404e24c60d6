package indexer

import (
	"sort"

	"marketledger/internal/model"
)

// orderEvents sorts events into apply order: block number, then the fixed
// per-type precedence, then log index. The sort is what makes replay
// produce identical state regardless of per-type fetch completion order.
func orderEvents(events []model.MarketEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if ra, rb := model.ApplyRank(a.Name), model.ApplyRank(b.Name); ra != rb {
			return ra < rb
		}
		return a.LogIndex < b.LogIndex
	})
}
