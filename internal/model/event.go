package model

import "fmt"

// Event names as they appear in the contract ABIs.
const (
	EventMarketCreated    = "MarketCreated"
	EventLiquidityAdded   = "LiquidityAdded"
	EventTokensPurchased  = "TokensPurchased"
	EventTokensSold       = "TokensSold"
	EventLiquidityRemoved = "LiquidityRemoved"
	EventWinningsClaimed  = "WinningsClaimed"
	EventMarketResolved   = "MarketResolved"
	EventMarketCanceled   = "MarketCanceled"
	EventMarketFinalized  = "MarketFinalized"
)

// applyRank fixes the per-type precedence used when ordering events that
// share a block. The exact order carries no semantics beyond being stable
// across replays; lifecycle events sort after balance-moving ones.
var applyRank = map[string]int{
	EventMarketCreated:    0,
	EventLiquidityAdded:   1,
	EventTokensPurchased:  2,
	EventTokensSold:       3,
	EventLiquidityRemoved: 4,
	EventWinningsClaimed:  5,
	EventMarketResolved:   6,
	EventMarketCanceled:   7,
	EventMarketFinalized:  8,
}

// ApplyRank returns the in-block precedence for an event name. Unknown
// names sort last.
func ApplyRank(name string) int {
	if rank, ok := applyRank[name]; ok {
		return rank
	}
	return len(applyRank)
}

// MarketEvent is a decoded chain event ready for projection. Data holds
// one of the *Data payload structs according to Name.
type MarketEvent struct {
	BlockNumber uint64      `json:"block_number"`
	BlockHash   string      `json:"block_hash"`
	TxHash      string      `json:"tx_hash"`
	LogIndex    uint64      `json:"log_index"`
	Address     string      `json:"address"`
	Name        string      `json:"name"`
	Timestamp   uint64      `json:"timestamp"`
	Data        interface{} `json:"data"`
}

// Key returns the idempotency key for the event: the (transaction hash,
// log index) pair that uniquely identifies a log on chain.
func (e MarketEvent) Key() string {
	return fmt.Sprintf("%s:%d", e.TxHash, e.LogIndex)
}
