package model

import "time"

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
	MarketStatusCanceled MarketStatus = "canceled"
)

// Market is the projected state of one on-chain prediction market.
// Amount fields are base-unit integers carried as decimal strings.
type Market struct {
	Address        string       `json:"address"`
	Creator        string       `json:"creator"`
	Question       string       `json:"question"`
	Outcomes       []string     `json:"outcomes"`
	EndTime        uint64       `json:"end_time"`
	Status         MarketStatus `json:"status"`
	WinningOutcome *uint64      `json:"winning_outcome,omitempty"`
	Finalized      bool         `json:"finalized"`
	FinalizedAt    *time.Time   `json:"finalized_at,omitempty"`
	CancelReason   string       `json:"cancel_reason,omitempty"`

	TotalVolume             string   `json:"total_volume"`
	TotalReserves           string   `json:"total_reserves"`
	Reserves                []string `json:"reserves"`
	AccumulatedFees         string   `json:"accumulated_fees"`
	AccumulatedProtocolFees string   `json:"accumulated_protocol_fees"`
	RedistributedAmount     string   `json:"redistributed_amount"`

	CreatedAtBlock uint64 `json:"created_at_block"`
}

// NewMarket builds a Market with zeroed counters for the given outcome set.
func NewMarket(address, creator, question string, outcomes []string, endTime, block uint64) Market {
	reserves := make([]string, len(outcomes))
	for i := range reserves {
		reserves[i] = "0"
	}
	return Market{
		Address:                 address,
		Creator:                 creator,
		Question:                question,
		Outcomes:                outcomes,
		EndTime:                 endTime,
		Status:                  MarketStatusActive,
		TotalVolume:             "0",
		TotalReserves:           "0",
		Reserves:                reserves,
		AccumulatedFees:         "0",
		AccumulatedProtocolFees: "0",
		RedistributedAmount:     "0",
		CreatedAtBlock:          block,
	}
}
