package model

// User is an on-chain account observed by the pipeline. The address is
// case-normalized on creation and immutable afterwards.
type User struct {
	Address        string `json:"address"`
	FirstSeenBlock uint64 `json:"first_seen_block"`
}

// UserPosition holds the per-(user, market) token ledger. There is exactly
// one position row per pair. OutcomeBalances is index-aligned with the
// market's outcome list; all balances are base-unit integers carried as
// decimal strings.
type UserPosition struct {
	UserAddress   string `json:"user_address"`
	MarketAddress string `json:"market_address"`

	OutcomeBalances []string `json:"outcome_balances"`
	LPBalance       string   `json:"lp_balance"`
	TotalClaimed    string   `json:"total_claimed"`

	// Derived flags; recomputed from the balances after every mutation,
	// never set independently.
	HasOutcomeTokens bool `json:"has_outcome_tokens"`
	HasLPTokens      bool `json:"has_lp_tokens"`
	HasClaimed       bool `json:"has_claimed"`
}

// NewUserPosition builds an empty position with one zero balance per outcome.
func NewUserPosition(user, market string, outcomeCount int) UserPosition {
	balances := make([]string, outcomeCount)
	for i := range balances {
		balances[i] = "0"
	}
	return UserPosition{
		UserAddress:     user,
		MarketAddress:   market,
		OutcomeBalances: balances,
		LPBalance:       "0",
		TotalClaimed:    "0",
	}
}
