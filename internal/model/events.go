package model

// Decoded event payloads for the factory and market contracts. Amount
// fields are base-unit integers carried as decimal strings so that no
// precision is lost between decode, storage, and the ledger.

// MarketCreatedData is the decoded MarketCreated factory event payload.
type MarketCreatedData struct {
	Market   string   `json:"market"`
	Creator  string   `json:"creator"`
	Question string   `json:"question"`
	Outcomes []string `json:"outcomes"`
	EndTime  uint64   `json:"end_time"`
}

// TokensPurchasedData is the decoded TokensPurchased event payload.
type TokensPurchasedData struct {
	Buyer            string `json:"buyer"`
	OutcomeIndex     uint64 `json:"outcome_index"`
	CollateralAmount string `json:"collateral_amount"`
	TokensReceived   string `json:"tokens_received"`
	Fee              string `json:"fee"`
}

// TokensSoldData is the decoded TokensSold event payload.
type TokensSoldData struct {
	Seller             string `json:"seller"`
	OutcomeIndex       uint64 `json:"outcome_index"`
	CollateralReturned string `json:"collateral_returned"`
	TokensSold         string `json:"tokens_sold"`
	Fee                string `json:"fee"`
}

// LiquidityAddedData is the decoded LiquidityAdded event payload.
type LiquidityAddedData struct {
	Provider         string `json:"provider"`
	CollateralAmount string `json:"collateral_amount"`
	LPTokens         string `json:"lp_tokens"`
}

// LiquidityRemovedData is the decoded LiquidityRemoved event payload.
type LiquidityRemovedData struct {
	Provider         string `json:"provider"`
	CollateralAmount string `json:"collateral_amount"`
	LPTokens         string `json:"lp_tokens"`
}

// WinningsClaimedData is the decoded WinningsClaimed event payload.
// TotalClaimed is the contract-side running total for the user.
type WinningsClaimedData struct {
	User         string `json:"user"`
	Amount       string `json:"amount"`
	TotalClaimed string `json:"total_claimed"`
}

// MarketResolvedData is the decoded MarketResolved event payload.
type MarketResolvedData struct {
	WinningOutcome uint64 `json:"winning_outcome"`
}

// MarketCanceledData is the decoded MarketCanceled event payload.
type MarketCanceledData struct {
	Reason string `json:"reason"`
}

// MarketFinalizedData is the decoded MarketFinalized event payload.
type MarketFinalizedData struct {
	RedistributedAmount string `json:"redistributed_amount"`
}
