package market

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"marketledger/internal/model"
)

var (
	testFactoryAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	testMarketAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testUserAddr    = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	return decoder
}

func eventByName(t *testing.T, name string) abi.Event {
	t.Helper()
	for _, parse := range []func() (abi.ABI, error){FactoryABI, MarketABI} {
		parsed, err := parse()
		if err != nil {
			t.Fatalf("parse abi: %v", err)
		}
		if ev, ok := parsed.Events[name]; ok {
			return ev
		}
	}
	t.Fatalf("event %s not in either abi", name)
	return abi.Event{}
}

func mustPack(t *testing.T, ev abi.Event, values ...interface{}) []byte {
	t.Helper()
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		t.Fatalf("pack %s: %v", ev.Name, err)
	}
	return data
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func uintTopic(n uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(n))
}

func TestDecodeMarketCreated(t *testing.T) {
	decoder := newTestDecoder(t)
	ev := eventByName(t, model.EventMarketCreated)

	lg := types.Log{
		Address:     testFactoryAddr,
		Topics:      []common.Hash{ev.ID, addressTopic(testMarketAddr), addressTopic(testUserAddr)},
		Data:        mustPack(t, ev, "Will it rain tomorrow?", []string{"Yes", "No"}, big.NewInt(1900000000)),
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xa1"),
		Index:       2,
	}

	got, err := decoder.Decode(lg, 1700000000)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != model.EventMarketCreated || got.BlockNumber != 100 || got.LogIndex != 2 {
		t.Fatalf("envelope mismatch: %+v", got)
	}
	if got.Timestamp != 1700000000 {
		t.Fatalf("timestamp not carried: %d", got.Timestamp)
	}

	data, ok := got.Data.(model.MarketCreatedData)
	if !ok {
		t.Fatalf("payload type mismatch: %T", got.Data)
	}
	if data.Market != NormalizeAddress(testMarketAddr) || data.Creator != NormalizeAddress(testUserAddr) {
		t.Fatalf("addresses mismatch: %+v", data)
	}
	if data.Question != "Will it rain tomorrow?" || len(data.Outcomes) != 2 || data.Outcomes[1] != "No" {
		t.Fatalf("payload mismatch: %+v", data)
	}
	if data.EndTime != 1900000000 {
		t.Fatalf("end time mismatch: %d", data.EndTime)
	}
}

func TestDecodeTokensPurchased(t *testing.T) {
	decoder := newTestDecoder(t)
	ev := eventByName(t, model.EventTokensPurchased)

	lg := types.Log{
		Address:     testMarketAddr,
		Topics:      []common.Hash{ev.ID, addressTopic(testUserAddr), uintTopic(1)},
		Data:        mustPack(t, ev, big.NewInt(1000), big.NewInt(500), big.NewInt(10)),
		BlockNumber: 101,
		TxHash:      common.HexToHash("0xb2"),
		Index:       0,
	}

	got, err := decoder.Decode(lg, 1700000100)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, ok := got.Data.(model.TokensPurchasedData)
	if !ok {
		t.Fatalf("payload type mismatch: %T", got.Data)
	}
	if data.Buyer != NormalizeAddress(testUserAddr) || data.OutcomeIndex != 1 {
		t.Fatalf("indexed fields mismatch: %+v", data)
	}
	if data.CollateralAmount != "1000" || data.TokensReceived != "500" || data.Fee != "10" {
		t.Fatalf("amounts mismatch: %+v", data)
	}
}

func TestDecodeTokensSold(t *testing.T) {
	decoder := newTestDecoder(t)
	ev := eventByName(t, model.EventTokensSold)

	lg := types.Log{
		Address: testMarketAddr,
		Topics:  []common.Hash{ev.ID, addressTopic(testUserAddr), uintTopic(0)},
		Data:    mustPack(t, ev, big.NewInt(200), big.NewInt(100), big.NewInt(5)),
		TxHash:  common.HexToHash("0xb3"),
	}

	got, err := decoder.Decode(lg, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, ok := got.Data.(model.TokensSoldData)
	if !ok {
		t.Fatalf("payload type mismatch: %T", got.Data)
	}
	if data.Seller != NormalizeAddress(testUserAddr) || data.CollateralReturned != "200" || data.TokensSold != "100" {
		t.Fatalf("payload mismatch: %+v", data)
	}
}

func TestDecodeLiquidityAdded(t *testing.T) {
	decoder := newTestDecoder(t)
	ev := eventByName(t, model.EventLiquidityAdded)

	lg := types.Log{
		Address: testMarketAddr,
		Topics:  []common.Hash{ev.ID, addressTopic(testUserAddr)},
		Data:    mustPack(t, ev, big.NewInt(500), big.NewInt(50)),
		TxHash:  common.HexToHash("0xc4"),
	}

	got, err := decoder.Decode(lg, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, ok := got.Data.(model.LiquidityAddedData)
	if !ok {
		t.Fatalf("payload type mismatch: %T", got.Data)
	}
	if data.Provider != NormalizeAddress(testUserAddr) || data.CollateralAmount != "500" || data.LPTokens != "50" {
		t.Fatalf("payload mismatch: %+v", data)
	}
}

func TestDecodeWinningsClaimed(t *testing.T) {
	decoder := newTestDecoder(t)
	ev := eventByName(t, model.EventWinningsClaimed)

	lg := types.Log{
		Address: testMarketAddr,
		Topics:  []common.Hash{ev.ID, addressTopic(testUserAddr)},
		Data:    mustPack(t, ev, big.NewInt(40), big.NewInt(100)),
		TxHash:  common.HexToHash("0xd5"),
	}

	got, err := decoder.Decode(lg, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, ok := got.Data.(model.WinningsClaimedData)
	if !ok {
		t.Fatalf("payload type mismatch: %T", got.Data)
	}
	if data.Amount != "40" || data.TotalClaimed != "100" {
		t.Fatalf("payload mismatch: %+v", data)
	}
}

func TestDecodeMarketResolved(t *testing.T) {
	decoder := newTestDecoder(t)
	ev := eventByName(t, model.EventMarketResolved)

	lg := types.Log{
		Address: testMarketAddr,
		Topics:  []common.Hash{ev.ID, uintTopic(1)},
		TxHash:  common.HexToHash("0xe6"),
	}

	got, err := decoder.Decode(lg, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, ok := got.Data.(model.MarketResolvedData)
	if !ok {
		t.Fatalf("payload type mismatch: %T", got.Data)
	}
	if data.WinningOutcome != 1 {
		t.Fatalf("winning outcome mismatch: %d", data.WinningOutcome)
	}
}

func TestDecodeMarketCanceled(t *testing.T) {
	decoder := newTestDecoder(t)
	ev := eventByName(t, model.EventMarketCanceled)

	lg := types.Log{
		Address: testMarketAddr,
		Topics:  []common.Hash{ev.ID},
		Data:    mustPack(t, ev, "oracle unavailable"),
		TxHash:  common.HexToHash("0xf7"),
	}

	got, err := decoder.Decode(lg, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, ok := got.Data.(model.MarketCanceledData)
	if !ok {
		t.Fatalf("payload type mismatch: %T", got.Data)
	}
	if data.Reason != "oracle unavailable" {
		t.Fatalf("reason mismatch: %q", data.Reason)
	}
}

func TestDecodeUnknownTopic(t *testing.T) {
	decoder := newTestDecoder(t)

	lg := types.Log{Topics: []common.Hash{common.HexToHash("0xdeadbeef")}}
	if decoder.CanDecode(lg) {
		t.Fatalf("unknown topic0 must not be decodable")
	}
	if _, err := decoder.Decode(lg, 0); err == nil {
		t.Fatalf("expected error for unknown topic0")
	}
}

func TestTopics(t *testing.T) {
	decoder := newTestDecoder(t)

	topics, err := decoder.Topics(model.EventMarketCreated, model.EventTokensPurchased)
	if err != nil {
		t.Fatalf("topics: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("expected two topics, got %d", len(topics))
	}
	if topics[0] != eventByName(t, model.EventMarketCreated).ID {
		t.Fatalf("topic order not preserved")
	}

	if _, err := decoder.Topics("NoSuchEvent"); err == nil {
		t.Fatalf("expected error for unknown event name")
	}
}
