// Package ledger projects decoded market events onto the relational
// store: positions, trades, liquidity actions, claims, market counters,
// and notifications.
package ledger

import (
	"fmt"
	"math/big"

	"marketledger/internal/model"
)

// priceScale is the base-unit scale used for the derived execution price:
// price = collateral * priceScale / tokens.
var priceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func parseAmount(value string) (*big.Int, error) {
	if value == "" {
		return new(big.Int), nil
	}
	out, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", value)
	}
	return out, nil
}

// addAmount returns a+b as a decimal string.
func addAmount(a, b string) (string, error) {
	x, err := parseAmount(a)
	if err != nil {
		return "", err
	}
	y, err := parseAmount(b)
	if err != nil {
		return "", err
	}
	return new(big.Int).Add(x, y).String(), nil
}

// subAmount returns a-b, erroring when the result would be negative.
func subAmount(a, b string) (string, error) {
	x, err := parseAmount(a)
	if err != nil {
		return "", err
	}
	y, err := parseAmount(b)
	if err != nil {
		return "", err
	}
	out := new(big.Int).Sub(x, y)
	if out.Sign() < 0 {
		return "", fmt.Errorf("amount underflow: %s - %s", a, b)
	}
	return out.String(), nil
}

// subAmountFloor returns max(a-b, 0). Used for the market-level reserve
// counters, where AMM internals can legitimately move more collateral out
// of an outcome bucket than this mirror attributed to it.
func subAmountFloor(a, b string) (string, error) {
	x, err := parseAmount(a)
	if err != nil {
		return "", err
	}
	y, err := parseAmount(b)
	if err != nil {
		return "", err
	}
	out := new(big.Int).Sub(x, y)
	if out.Sign() < 0 {
		return "0", nil
	}
	return out.String(), nil
}

func isPositive(value string) (bool, error) {
	x, err := parseAmount(value)
	if err != nil {
		return false, err
	}
	return x.Sign() > 0, nil
}

// recomputeFlags rederives the position's boolean flags from its balance
// fields. Flags are never set independently of the balances.
func recomputeFlags(p *model.UserPosition) error {
	hasOutcome := false
	for _, balance := range p.OutcomeBalances {
		positive, err := isPositive(balance)
		if err != nil {
			return err
		}
		if positive {
			hasOutcome = true
			break
		}
	}
	hasLP, err := isPositive(p.LPBalance)
	if err != nil {
		return err
	}
	hasClaimed, err := isPositive(p.TotalClaimed)
	if err != nil {
		return err
	}

	p.HasOutcomeTokens = hasOutcome
	p.HasLPTokens = hasLP
	p.HasClaimed = hasClaimed
	return nil
}

// tradePrice derives the execution price from the recorded amounts as
// collateral*1e18/tokens, an integer in base units. Returns "0" for a
// zero token amount.
func tradePrice(collateral, tokens string) (string, error) {
	c, err := parseAmount(collateral)
	if err != nil {
		return "", err
	}
	t, err := parseAmount(tokens)
	if err != nil {
		return "", err
	}
	if t.Sign() == 0 {
		return "0", nil
	}
	out := new(big.Int).Mul(c, priceScale)
	out.Quo(out, t)
	return out.String(), nil
}
