package model

import "time"

// TradeSide is the direction of a trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Trade is a write-once record of a single token purchase or sale,
// keyed by transaction hash.
type Trade struct {
	TxHash           string    `json:"tx_hash"`
	LogIndex         uint64    `json:"log_index"`
	MarketAddress    string    `json:"market_address"`
	UserAddress      string    `json:"user_address"`
	OutcomeIndex     uint64    `json:"outcome_index"`
	Side             TradeSide `json:"side"`
	CollateralAmount string    `json:"collateral_amount"`
	TokenAmount      string    `json:"token_amount"`
	Fee              string    `json:"fee"`
	Price            string    `json:"price"`
	BlockNumber      uint64    `json:"block_number"`
	Timestamp        uint64    `json:"timestamp"`
}

// LPDirection is the direction of a liquidity action.
type LPDirection string

const (
	LPDirectionAdd    LPDirection = "add"
	LPDirectionRemove LPDirection = "remove"
)

// LPAction is a write-once record of a liquidity add or remove,
// keyed by transaction hash.
type LPAction struct {
	TxHash           string      `json:"tx_hash"`
	LogIndex         uint64      `json:"log_index"`
	MarketAddress    string      `json:"market_address"`
	Provider         string      `json:"provider"`
	Direction        LPDirection `json:"direction"`
	CollateralAmount string      `json:"collateral_amount"`
	LPTokens         string      `json:"lp_tokens"`
	BlockNumber      uint64      `json:"block_number"`
	Timestamp        uint64      `json:"timestamp"`
}

// Claim is a write-once record of a winnings claim, keyed by transaction
// hash. OutcomeIndex is the market's winning outcome at claim time, when
// known.
type Claim struct {
	TxHash        string  `json:"tx_hash"`
	LogIndex      uint64  `json:"log_index"`
	MarketAddress string  `json:"market_address"`
	UserAddress   string  `json:"user_address"`
	OutcomeIndex  *uint64 `json:"outcome_index,omitempty"`
	Amount        string  `json:"amount"`
	TotalClaimed  string  `json:"total_claimed"`
	BlockNumber   uint64  `json:"block_number"`
	Timestamp     uint64  `json:"timestamp"`
}

// NotificationType identifies a user-facing notice kind.
type NotificationType string

const (
	NotificationMarketResolved  NotificationType = "market-resolved"
	NotificationMarketFinalized NotificationType = "market-finalized"
)

// Notification is a user-facing notice. (user, market, type) is the dedup
// key; emitting the same key twice is a no-op.
type Notification struct {
	UserAddress   string           `json:"user_address"`
	MarketAddress string           `json:"market_address"`
	Type          NotificationType `json:"type"`
	Message       string           `json:"message"`
	Read          bool             `json:"read"`
	CreatedAt     time.Time        `json:"created_at"`
}

// SyncState records the last block fully processed for a watched contract.
type SyncState struct {
	Contract           string    `json:"contract"`
	LastProcessedBlock uint64    `json:"last_processed_block"`
	UpdatedAt          time.Time `json:"updated_at"`
}
