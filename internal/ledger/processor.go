package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketledger/internal/model"
	"marketledger/internal/storage"
)

// errUnknownMarket marks an event referencing a market the projection has
// not seen. The discovery-then-backfill ordering makes this structurally
// rare; it is a data-quality anomaly, not a pipeline fault.
var errUnknownMarket = errors.New("ledger: unknown market")

// Processor applies decoded events to the projected state. Apply is
// idempotent per (transaction hash, log index): each event runs inside one
// store transaction that records the idempotency key alongside its
// mutations, so a replayed event is a no-op and a crashed half-applied
// event leaves no trace.
type Processor struct {
	store   storage.Store
	emitter *Emitter
	journal *storage.Journal
	logger  *zap.Logger
}

// NewProcessor builds a Processor. journal may be nil.
func NewProcessor(store storage.Store, journal *storage.Journal, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:   store,
		emitter: NewEmitter(logger),
		journal: journal,
		logger:  logger,
	}
}

// Apply projects one event. Replays and unknown-market events return nil;
// malformed payloads and storage failures return an error, which aborts
// the caller's batch without advancing the checkpoint.
func (p *Processor) Apply(ctx context.Context, event model.MarketEvent) error {
	err := p.store.Transact(ctx, func(tx storage.Store) error {
		if err := tx.MarkApplied(ctx, event.TxHash, event.LogIndex); err != nil {
			return err
		}
		return p.apply(ctx, tx, event)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrAlreadyApplied):
		p.logger.Debug("event already applied",
			zap.String("tx_hash", event.TxHash),
			zap.Uint64("log_index", event.LogIndex),
			zap.String("event", event.Name),
		)
		return nil
	case errors.Is(err, errUnknownMarket):
		p.logger.Warn("event for unknown market dropped",
			zap.String("market", event.Address),
			zap.String("event", event.Name),
			zap.String("tx_hash", event.TxHash),
		)
		if jerr := p.journal.Append(event, "unknown market"); jerr != nil {
			p.logger.Warn("journal write failed", zap.Error(jerr))
		}
		return nil
	default:
		return fmt.Errorf("apply %s %s: %w", event.Name, event.Key(), err)
	}
}

func (p *Processor) apply(ctx context.Context, tx storage.Store, event model.MarketEvent) error {
	switch data := event.Data.(type) {
	case model.MarketCreatedData:
		return p.applyMarketCreated(ctx, tx, event, data)
	case model.TokensPurchasedData:
		return p.applyPurchase(ctx, tx, event, data)
	case model.TokensSoldData:
		return p.applySale(ctx, tx, event, data)
	case model.LiquidityAddedData:
		return p.applyLiquidity(ctx, tx, event, data.Provider, data.CollateralAmount, data.LPTokens, model.LPDirectionAdd)
	case model.LiquidityRemovedData:
		return p.applyLiquidity(ctx, tx, event, data.Provider, data.CollateralAmount, data.LPTokens, model.LPDirectionRemove)
	case model.WinningsClaimedData:
		return p.applyClaim(ctx, tx, event, data)
	case model.MarketResolvedData:
		return p.applyResolved(ctx, tx, event, data)
	case model.MarketCanceledData:
		return p.applyCanceled(ctx, tx, event, data)
	case model.MarketFinalizedData:
		return p.applyFinalized(ctx, tx, event, data)
	default:
		return fmt.Errorf("unsupported event payload %T", event.Data)
	}
}

func (p *Processor) applyMarketCreated(ctx context.Context, tx storage.Store, event model.MarketEvent, data model.MarketCreatedData) error {
	if err := tx.EnsureUser(ctx, data.Creator, event.BlockNumber); err != nil {
		return err
	}
	m := model.NewMarket(data.Market, data.Creator, data.Question, data.Outcomes, data.EndTime, event.BlockNumber)
	if err := tx.PutMarket(ctx, m); err != nil {
		return err
	}
	p.logger.Info("market created",
		zap.String("market", data.Market),
		zap.String("question", data.Question),
		zap.Int("outcomes", len(data.Outcomes)),
	)
	return nil
}

func (p *Processor) applyPurchase(ctx context.Context, tx storage.Store, event model.MarketEvent, data model.TokensPurchasedData) error {
	m, err := p.getMarket(ctx, tx, event.Address)
	if err != nil {
		return err
	}
	if data.OutcomeIndex >= uint64(len(m.Outcomes)) {
		return fmt.Errorf("outcome index %d out of range for %d outcomes", data.OutcomeIndex, len(m.Outcomes))
	}

	pos, err := p.getOrCreatePosition(ctx, tx, data.Buyer, m, event.BlockNumber)
	if err != nil {
		return err
	}
	pos.OutcomeBalances[data.OutcomeIndex], err = addAmount(pos.OutcomeBalances[data.OutcomeIndex], data.TokensReceived)
	if err != nil {
		return err
	}
	if err := recomputeFlags(&pos); err != nil {
		return err
	}
	if err := tx.PutPosition(ctx, pos); err != nil {
		return err
	}

	// Volume counts gross collateral; reserves receive collateral net of
	// the fee, which accrues separately.
	netCollateral, err := subAmountFloor(data.CollateralAmount, data.Fee)
	if err != nil {
		return err
	}
	if m.TotalVolume, err = addAmount(m.TotalVolume, data.CollateralAmount); err != nil {
		return err
	}
	if m.TotalReserves, err = addAmount(m.TotalReserves, netCollateral); err != nil {
		return err
	}
	if m.Reserves[data.OutcomeIndex], err = addAmount(m.Reserves[data.OutcomeIndex], netCollateral); err != nil {
		return err
	}
	if m.AccumulatedFees, err = addAmount(m.AccumulatedFees, data.Fee); err != nil {
		return err
	}
	if err := tx.PutMarket(ctx, m); err != nil {
		return err
	}

	price, err := tradePrice(data.CollateralAmount, data.TokensReceived)
	if err != nil {
		return err
	}
	return tx.InsertTrade(ctx, model.Trade{
		TxHash:           event.TxHash,
		LogIndex:         event.LogIndex,
		MarketAddress:    m.Address,
		UserAddress:      data.Buyer,
		OutcomeIndex:     data.OutcomeIndex,
		Side:             model.TradeSideBuy,
		CollateralAmount: data.CollateralAmount,
		TokenAmount:      data.TokensReceived,
		Fee:              data.Fee,
		Price:            price,
		BlockNumber:      event.BlockNumber,
		Timestamp:        event.Timestamp,
	})
}

func (p *Processor) applySale(ctx context.Context, tx storage.Store, event model.MarketEvent, data model.TokensSoldData) error {
	m, err := p.getMarket(ctx, tx, event.Address)
	if err != nil {
		return err
	}
	if data.OutcomeIndex >= uint64(len(m.Outcomes)) {
		return fmt.Errorf("outcome index %d out of range for %d outcomes", data.OutcomeIndex, len(m.Outcomes))
	}

	pos, err := p.getOrCreatePosition(ctx, tx, data.Seller, m, event.BlockNumber)
	if err != nil {
		return err
	}
	pos.OutcomeBalances[data.OutcomeIndex], err = subAmount(pos.OutcomeBalances[data.OutcomeIndex], data.TokensSold)
	if err != nil {
		return fmt.Errorf("sell exceeds balance for %s on %s: %w", data.Seller, m.Address, err)
	}
	if err := recomputeFlags(&pos); err != nil {
		return err
	}
	if err := tx.PutPosition(ctx, pos); err != nil {
		return err
	}

	grossCollateral, err := addAmount(data.CollateralReturned, data.Fee)
	if err != nil {
		return err
	}
	if m.TotalVolume, err = addAmount(m.TotalVolume, grossCollateral); err != nil {
		return err
	}
	if m.TotalReserves, err = subAmountFloor(m.TotalReserves, data.CollateralReturned); err != nil {
		return err
	}
	if m.Reserves[data.OutcomeIndex], err = subAmountFloor(m.Reserves[data.OutcomeIndex], data.CollateralReturned); err != nil {
		return err
	}
	if m.AccumulatedFees, err = addAmount(m.AccumulatedFees, data.Fee); err != nil {
		return err
	}
	if err := tx.PutMarket(ctx, m); err != nil {
		return err
	}

	price, err := tradePrice(data.CollateralReturned, data.TokensSold)
	if err != nil {
		return err
	}
	return tx.InsertTrade(ctx, model.Trade{
		TxHash:           event.TxHash,
		LogIndex:         event.LogIndex,
		MarketAddress:    m.Address,
		UserAddress:      data.Seller,
		OutcomeIndex:     data.OutcomeIndex,
		Side:             model.TradeSideSell,
		CollateralAmount: data.CollateralReturned,
		TokenAmount:      data.TokensSold,
		Fee:              data.Fee,
		Price:            price,
		BlockNumber:      event.BlockNumber,
		Timestamp:        event.Timestamp,
	})
}

func (p *Processor) applyLiquidity(ctx context.Context, tx storage.Store, event model.MarketEvent, provider, collateral, lpTokens string, direction model.LPDirection) error {
	m, err := p.getMarket(ctx, tx, event.Address)
	if err != nil {
		return err
	}

	pos, err := p.getOrCreatePosition(ctx, tx, provider, m, event.BlockNumber)
	if err != nil {
		return err
	}
	if direction == model.LPDirectionAdd {
		pos.LPBalance, err = addAmount(pos.LPBalance, lpTokens)
	} else {
		pos.LPBalance, err = subAmount(pos.LPBalance, lpTokens)
	}
	if err != nil {
		return fmt.Errorf("lp balance for %s on %s: %w", provider, m.Address, err)
	}
	if err := recomputeFlags(&pos); err != nil {
		return err
	}
	if err := tx.PutPosition(ctx, pos); err != nil {
		return err
	}

	if direction == model.LPDirectionAdd {
		m.TotalReserves, err = addAmount(m.TotalReserves, collateral)
	} else {
		m.TotalReserves, err = subAmountFloor(m.TotalReserves, collateral)
	}
	if err != nil {
		return err
	}
	if err := tx.PutMarket(ctx, m); err != nil {
		return err
	}

	return tx.InsertLPAction(ctx, model.LPAction{
		TxHash:           event.TxHash,
		LogIndex:         event.LogIndex,
		MarketAddress:    m.Address,
		Provider:         provider,
		Direction:        direction,
		CollateralAmount: collateral,
		LPTokens:         lpTokens,
		BlockNumber:      event.BlockNumber,
		Timestamp:        event.Timestamp,
	})
}

func (p *Processor) applyClaim(ctx context.Context, tx storage.Store, event model.MarketEvent, data model.WinningsClaimedData) error {
	m, err := p.getMarket(ctx, tx, event.Address)
	if err != nil {
		return err
	}

	pos, err := p.getOrCreatePosition(ctx, tx, data.User, m, event.BlockNumber)
	if err != nil {
		return err
	}
	// The contract reports the running total; take it as-is rather than
	// summing partial claims locally.
	pos.TotalClaimed = data.TotalClaimed
	if err := recomputeFlags(&pos); err != nil {
		return err
	}
	if err := tx.PutPosition(ctx, pos); err != nil {
		return err
	}

	if m.TotalReserves, err = subAmountFloor(m.TotalReserves, data.Amount); err != nil {
		return err
	}
	if err := tx.PutMarket(ctx, m); err != nil {
		return err
	}

	// Copy the winning outcome; the claim row is write-once and must not
	// share the market's pointer.
	var outcome *uint64
	if m.WinningOutcome != nil {
		v := *m.WinningOutcome
		outcome = &v
	}
	return tx.InsertClaim(ctx, model.Claim{
		TxHash:        event.TxHash,
		LogIndex:      event.LogIndex,
		MarketAddress: m.Address,
		UserAddress:   data.User,
		OutcomeIndex:  outcome,
		Amount:        data.Amount,
		TotalClaimed:  data.TotalClaimed,
		BlockNumber:   event.BlockNumber,
		Timestamp:     event.Timestamp,
	})
}

func (p *Processor) applyResolved(ctx context.Context, tx storage.Store, event model.MarketEvent, data model.MarketResolvedData) error {
	m, err := p.getMarket(ctx, tx, event.Address)
	if err != nil {
		return err
	}
	if data.WinningOutcome >= uint64(len(m.Outcomes)) {
		return fmt.Errorf("winning outcome %d out of range for %d outcomes", data.WinningOutcome, len(m.Outcomes))
	}

	winning := data.WinningOutcome
	m.Status = model.MarketStatusResolved
	m.WinningOutcome = &winning
	if err := tx.PutMarket(ctx, m); err != nil {
		return err
	}

	message := fmt.Sprintf("Market %q resolved: %s", m.Question, m.Outcomes[winning])
	return p.fanOut(ctx, tx, m, model.NotificationMarketResolved, message, func(pos model.UserPosition) bool {
		return pos.HasOutcomeTokens
	})
}

func (p *Processor) applyCanceled(ctx context.Context, tx storage.Store, event model.MarketEvent, data model.MarketCanceledData) error {
	m, err := p.getMarket(ctx, tx, event.Address)
	if err != nil {
		return err
	}
	m.Status = model.MarketStatusCanceled
	m.CancelReason = data.Reason
	return tx.PutMarket(ctx, m)
}

func (p *Processor) applyFinalized(ctx context.Context, tx storage.Store, event model.MarketEvent, data model.MarketFinalizedData) error {
	m, err := p.getMarket(ctx, tx, event.Address)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	m.Finalized = true
	m.FinalizedAt = &now
	m.RedistributedAmount = data.RedistributedAmount
	if err := tx.PutMarket(ctx, m); err != nil {
		return err
	}

	message := fmt.Sprintf("Market %q finalized; unclaimed reserves redistributed to liquidity providers", m.Question)
	return p.fanOut(ctx, tx, m, model.NotificationMarketFinalized, message, func(pos model.UserPosition) bool {
		return pos.HasLPTokens
	})
}

func (p *Processor) fanOut(ctx context.Context, tx storage.Store, m model.Market, typ model.NotificationType, message string, include func(model.UserPosition) bool) error {
	positions, err := tx.ListPositionsByMarket(ctx, m.Address)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if !include(pos) {
			continue
		}
		if err := p.emitter.Notify(ctx, tx, pos.UserAddress, m.Address, typ, message); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) getMarket(ctx context.Context, tx storage.Store, address string) (model.Market, error) {
	m, err := tx.GetMarket(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Market{}, errUnknownMarket
		}
		return model.Market{}, err
	}
	return m, nil
}

func (p *Processor) getOrCreatePosition(ctx context.Context, tx storage.Store, user string, m model.Market, block uint64) (model.UserPosition, error) {
	if err := tx.EnsureUser(ctx, user, block); err != nil {
		return model.UserPosition{}, err
	}
	pos, err := tx.GetPosition(ctx, user, m.Address)
	if err == nil {
		return pos, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return model.UserPosition{}, err
	}
	return model.NewUserPosition(user, m.Address, len(m.Outcomes)), nil
}
