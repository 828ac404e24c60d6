package market

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"marketledger/internal/model"
)

// Decoder converts raw chain logs from the factory and market contracts
// into typed model.MarketEvent values.
type Decoder struct {
	events      map[string]abi.Event
	topicToName map[common.Hash]string
}

// NewDecoder builds a decoder covering the factory and market event sets.
func NewDecoder() (*Decoder, error) {
	factory, err := FactoryABI()
	if err != nil {
		return nil, err
	}
	market, err := MarketABI()
	if err != nil {
		return nil, err
	}

	events := make(map[string]abi.Event)
	topicToName := make(map[common.Hash]string)
	for _, src := range []abi.ABI{factory, market} {
		for name, event := range src.Events {
			events[name] = event
			topicToName[event.ID] = name
		}
	}

	return &Decoder{events: events, topicToName: topicToName}, nil
}

// EventID returns the topic0 hash for an event name.
func (d *Decoder) EventID(name string) (common.Hash, error) {
	event, ok := d.events[name]
	if !ok {
		return common.Hash{}, fmt.Errorf("unknown event: %s", name)
	}
	return event.ID, nil
}

// Topics returns the topic0 hashes for the given event names, preserving
// order.
func (d *Decoder) Topics(names ...string) ([]common.Hash, error) {
	topics := make([]common.Hash, 0, len(names))
	for _, name := range names {
		id, err := d.EventID(name)
		if err != nil {
			return nil, err
		}
		topics = append(topics, id)
	}
	return topics, nil
}

// CanDecode reports whether the log's topic0 belongs to a known event.
func (d *Decoder) CanDecode(log types.Log) bool {
	if len(log.Topics) == 0 {
		return false
	}
	_, ok := d.topicToName[log.Topics[0]]
	return ok
}

// Decode converts a raw log into a MarketEvent. The block timestamp is
// supplied by the caller since logs do not carry it.
func (d *Decoder) Decode(log types.Log, timestamp uint64) (*model.MarketEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}
	name, ok := d.topicToName[log.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}

	var (
		data interface{}
		err  error
	)
	switch name {
	case model.EventMarketCreated:
		data, err = d.decodeMarketCreated(log)
	case model.EventTokensPurchased:
		data, err = d.decodeTrade(log, name)
	case model.EventTokensSold:
		data, err = d.decodeTrade(log, name)
	case model.EventLiquidityAdded:
		data, err = d.decodeLiquidity(log, name)
	case model.EventLiquidityRemoved:
		data, err = d.decodeLiquidity(log, name)
	case model.EventWinningsClaimed:
		data, err = d.decodeWinningsClaimed(log)
	case model.EventMarketResolved:
		data, err = d.decodeMarketResolved(log)
	case model.EventMarketCanceled:
		data, err = d.decodeMarketCanceled(log)
	case model.EventMarketFinalized:
		data, err = d.decodeMarketFinalized(log)
	default:
		return nil, fmt.Errorf("unsupported event name: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	return &model.MarketEvent{
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
		Address:     NormalizeAddress(log.Address),
		Name:        name,
		Timestamp:   timestamp,
		Data:        data,
	}, nil
}

// NormalizeAddress renders an address in the lowercase form used as entity
// identity throughout the projection.
func NormalizeAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func (d *Decoder) decodeMarketCreated(log types.Log) (model.MarketCreatedData, error) {
	event := d.events[model.EventMarketCreated]

	var indexed struct {
		Market  common.Address
		Creator common.Address
	}
	if err := parseIndexed(&indexed, event, log.Topics); err != nil {
		return model.MarketCreatedData{}, err
	}

	values, err := unpackNonIndexed(event, log.Data, 3)
	if err != nil {
		return model.MarketCreatedData{}, err
	}
	question, err := asString(values[0])
	if err != nil {
		return model.MarketCreatedData{}, err
	}
	outcomes, err := asStringSlice(values[1])
	if err != nil {
		return model.MarketCreatedData{}, err
	}
	endTime, err := asUint64(values[2])
	if err != nil {
		return model.MarketCreatedData{}, err
	}

	return model.MarketCreatedData{
		Market:   NormalizeAddress(indexed.Market),
		Creator:  NormalizeAddress(indexed.Creator),
		Question: question,
		Outcomes: outcomes,
		EndTime:  endTime,
	}, nil
}

func (d *Decoder) decodeTrade(log types.Log, name string) (interface{}, error) {
	event := d.events[name]

	var indexed struct {
		Account      common.Address
		OutcomeIndex *big.Int
	}
	// Field names must match the ABI argument names for ParseTopics.
	var indexedBuy struct {
		Buyer        common.Address
		OutcomeIndex *big.Int
	}
	var indexedSell struct {
		Seller       common.Address
		OutcomeIndex *big.Int
	}
	if name == model.EventTokensPurchased {
		if err := parseIndexed(&indexedBuy, event, log.Topics); err != nil {
			return nil, err
		}
		indexed.Account, indexed.OutcomeIndex = indexedBuy.Buyer, indexedBuy.OutcomeIndex
	} else {
		if err := parseIndexed(&indexedSell, event, log.Topics); err != nil {
			return nil, err
		}
		indexed.Account, indexed.OutcomeIndex = indexedSell.Seller, indexedSell.OutcomeIndex
	}

	values, err := unpackNonIndexed(event, log.Data, 3)
	if err != nil {
		return nil, err
	}
	collateral, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	tokens, err := asBigInt(values[1])
	if err != nil {
		return nil, err
	}
	fee, err := asBigInt(values[2])
	if err != nil {
		return nil, err
	}
	outcomeIndex, err := uint64FromBig(indexed.OutcomeIndex)
	if err != nil {
		return nil, err
	}

	if name == model.EventTokensPurchased {
		return model.TokensPurchasedData{
			Buyer:            NormalizeAddress(indexed.Account),
			OutcomeIndex:     outcomeIndex,
			CollateralAmount: collateral.String(),
			TokensReceived:   tokens.String(),
			Fee:              fee.String(),
		}, nil
	}
	return model.TokensSoldData{
		Seller:             NormalizeAddress(indexed.Account),
		OutcomeIndex:       outcomeIndex,
		CollateralReturned: collateral.String(),
		TokensSold:         tokens.String(),
		Fee:                fee.String(),
	}, nil
}

func (d *Decoder) decodeLiquidity(log types.Log, name string) (interface{}, error) {
	event := d.events[name]

	var indexed struct {
		Provider common.Address
	}
	if err := parseIndexed(&indexed, event, log.Topics); err != nil {
		return nil, err
	}

	values, err := unpackNonIndexed(event, log.Data, 2)
	if err != nil {
		return nil, err
	}
	collateral, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	lpTokens, err := asBigInt(values[1])
	if err != nil {
		return nil, err
	}

	if name == model.EventLiquidityAdded {
		return model.LiquidityAddedData{
			Provider:         NormalizeAddress(indexed.Provider),
			CollateralAmount: collateral.String(),
			LPTokens:         lpTokens.String(),
		}, nil
	}
	return model.LiquidityRemovedData{
		Provider:         NormalizeAddress(indexed.Provider),
		CollateralAmount: collateral.String(),
		LPTokens:         lpTokens.String(),
	}, nil
}

func (d *Decoder) decodeWinningsClaimed(log types.Log) (model.WinningsClaimedData, error) {
	event := d.events[model.EventWinningsClaimed]

	var indexed struct {
		User common.Address
	}
	if err := parseIndexed(&indexed, event, log.Topics); err != nil {
		return model.WinningsClaimedData{}, err
	}

	values, err := unpackNonIndexed(event, log.Data, 2)
	if err != nil {
		return model.WinningsClaimedData{}, err
	}
	amount, err := asBigInt(values[0])
	if err != nil {
		return model.WinningsClaimedData{}, err
	}
	totalClaimed, err := asBigInt(values[1])
	if err != nil {
		return model.WinningsClaimedData{}, err
	}

	return model.WinningsClaimedData{
		User:         NormalizeAddress(indexed.User),
		Amount:       amount.String(),
		TotalClaimed: totalClaimed.String(),
	}, nil
}

func (d *Decoder) decodeMarketResolved(log types.Log) (model.MarketResolvedData, error) {
	event := d.events[model.EventMarketResolved]

	var indexed struct {
		WinningOutcome *big.Int
	}
	if err := parseIndexed(&indexed, event, log.Topics); err != nil {
		return model.MarketResolvedData{}, err
	}
	winning, err := uint64FromBig(indexed.WinningOutcome)
	if err != nil {
		return model.MarketResolvedData{}, err
	}
	return model.MarketResolvedData{WinningOutcome: winning}, nil
}

func (d *Decoder) decodeMarketCanceled(log types.Log) (model.MarketCanceledData, error) {
	event := d.events[model.EventMarketCanceled]

	values, err := unpackNonIndexed(event, log.Data, 1)
	if err != nil {
		return model.MarketCanceledData{}, err
	}
	reason, err := asString(values[0])
	if err != nil {
		return model.MarketCanceledData{}, err
	}
	return model.MarketCanceledData{Reason: reason}, nil
}

func (d *Decoder) decodeMarketFinalized(log types.Log) (model.MarketFinalizedData, error) {
	event := d.events[model.EventMarketFinalized]

	values, err := unpackNonIndexed(event, log.Data, 1)
	if err != nil {
		return model.MarketFinalizedData{}, err
	}
	amount, err := asBigInt(values[0])
	if err != nil {
		return model.MarketFinalizedData{}, err
	}
	return model.MarketFinalizedData{RedistributedAmount: amount.String()}, nil
}

func parseIndexed(out interface{}, event abi.Event, topics []common.Hash) error {
	args := indexedArguments(event.Inputs)
	if len(topics) != len(args)+1 {
		return fmt.Errorf("expected %d topics, got %d", len(args)+1, len(topics))
	}
	if len(args) == 0 {
		return nil
	}
	if err := abi.ParseTopics(out, args, topics[1:]); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	return nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, data []byte, want int) ([]interface{}, error) {
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	if len(values) != want {
		return nil, fmt.Errorf("unexpected %s values: %d", event.Name, len(values))
	}
	return values, nil
}

func asBigInt(value interface{}) (*big.Int, error) {
	out, ok := value.(*big.Int)
	if !ok || out == nil {
		return nil, fmt.Errorf("expected big.Int, got %T", value)
	}
	return out, nil
}

func asString(value interface{}) (string, error) {
	out, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", value)
	}
	return out, nil
}

func asStringSlice(value interface{}) ([]string, error) {
	out, ok := value.([]string)
	if !ok {
		return nil, fmt.Errorf("expected string slice, got %T", value)
	}
	return out, nil
}

func asUint64(value interface{}) (uint64, error) {
	out, err := asBigInt(value)
	if err != nil {
		return 0, err
	}
	return uint64FromBig(out)
}

func uint64FromBig(value *big.Int) (uint64, error) {
	if value == nil {
		return 0, fmt.Errorf("nil value")
	}
	if !value.IsUint64() {
		return 0, fmt.Errorf("value out of uint64 range: %s", value)
	}
	return value.Uint64(), nil
}
