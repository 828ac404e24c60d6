// Package postgres implements storage.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketledger/internal/model"
	"marketledger/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// querier is the query surface shared by pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides Postgres persistence for the projected market state.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// NewStore connects to Postgres and returns a Store.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, db: pool}, nil
}

// Transact runs fn inside a database transaction. A nested call (fn
// issued from within a transaction) runs on the enclosing transaction.
func (s *Store) Transact(ctx context.Context, fn func(storage.Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Store{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Init applies the embedded schema. Statements are idempotent.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// MarkApplied records the (txHash, logIndex) idempotency key, returning
// storage.ErrAlreadyApplied when it was recorded before.
func (s *Store) MarkApplied(ctx context.Context, txHash string, logIndex uint64) error {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO applied_events (tx_hash, log_index)
		VALUES ($1, $2)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`, txHash, int64(logIndex))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrAlreadyApplied
	}
	return nil
}

const marketSelectCols = `
	address, creator, question, outcomes, end_time, status,
	winning_outcome, finalized, finalized_at, cancel_reason,
	total_volume::text, total_reserves::text, reserves,
	accumulated_fees::text, accumulated_protocol_fees::text,
	redistributed_amount::text, created_at_block`

func scanMarket(row pgx.Row) (model.Market, error) {
	var m model.Market
	var winning *int64
	var createdAtBlock int64
	err := row.Scan(
		&m.Address, &m.Creator, &m.Question, &m.Outcomes, &m.EndTime, &m.Status,
		&winning, &m.Finalized, &m.FinalizedAt, &m.CancelReason,
		&m.TotalVolume, &m.TotalReserves, &m.Reserves,
		&m.AccumulatedFees, &m.AccumulatedProtocolFees,
		&m.RedistributedAmount, &createdAtBlock,
	)
	if err != nil {
		return model.Market{}, err
	}
	if winning != nil {
		v := uint64(*winning)
		m.WinningOutcome = &v
	}
	m.CreatedAtBlock = uint64(createdAtBlock)
	return m, nil
}

func (s *Store) GetMarket(ctx context.Context, address string) (model.Market, error) {
	row := s.db.QueryRow(ctx, `SELECT `+marketSelectCols+` FROM markets WHERE address=$1`, address)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Market{}, storage.ErrNotFound
		}
		return model.Market{}, err
	}
	return m, nil
}

func (s *Store) PutMarket(ctx context.Context, m model.Market) error {
	var winning *int64
	if m.WinningOutcome != nil {
		v := int64(*m.WinningOutcome)
		winning = &v
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO markets (
			address, creator, question, outcomes, end_time, status,
			winning_outcome, finalized, finalized_at, cancel_reason,
			total_volume, total_reserves, reserves,
			accumulated_fees, accumulated_protocol_fees,
			redistributed_amount, created_at_block, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now(),now())
		ON CONFLICT (address)
		DO UPDATE SET
			status = EXCLUDED.status,
			winning_outcome = EXCLUDED.winning_outcome,
			finalized = EXCLUDED.finalized,
			finalized_at = EXCLUDED.finalized_at,
			cancel_reason = EXCLUDED.cancel_reason,
			total_volume = EXCLUDED.total_volume,
			total_reserves = EXCLUDED.total_reserves,
			reserves = EXCLUDED.reserves,
			accumulated_fees = EXCLUDED.accumulated_fees,
			accumulated_protocol_fees = EXCLUDED.accumulated_protocol_fees,
			redistributed_amount = EXCLUDED.redistributed_amount,
			updated_at = now()
	`,
		m.Address, m.Creator, m.Question, m.Outcomes, int64(m.EndTime), string(m.Status),
		winning, m.Finalized, m.FinalizedAt, m.CancelReason,
		m.TotalVolume, m.TotalReserves, m.Reserves,
		m.AccumulatedFees, m.AccumulatedProtocolFees,
		m.RedistributedAmount, int64(m.CreatedAtBlock),
	)
	return err
}

func (s *Store) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.db.Query(ctx, `SELECT `+marketSelectCols+` FROM markets ORDER BY created_at_block, address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (s *Store) EnsureUser(ctx context.Context, address string, firstSeenBlock uint64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (address, first_seen_block)
		VALUES ($1, $2)
		ON CONFLICT (address) DO NOTHING
	`, address, int64(firstSeenBlock))
	return err
}

const positionSelectCols = `
	user_address, market_address, outcome_balances,
	lp_balance::text, total_claimed::text,
	has_outcome_tokens, has_lp_tokens, has_claimed`

func scanPosition(row pgx.Row) (model.UserPosition, error) {
	var p model.UserPosition
	err := row.Scan(
		&p.UserAddress, &p.MarketAddress, &p.OutcomeBalances,
		&p.LPBalance, &p.TotalClaimed,
		&p.HasOutcomeTokens, &p.HasLPTokens, &p.HasClaimed,
	)
	if err != nil {
		return model.UserPosition{}, err
	}
	return p, nil
}

func (s *Store) GetPosition(ctx context.Context, user, market string) (model.UserPosition, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM user_positions WHERE user_address=$1 AND market_address=$2`,
		user, market)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.UserPosition{}, storage.ErrNotFound
		}
		return model.UserPosition{}, err
	}
	return p, nil
}

func (s *Store) PutPosition(ctx context.Context, p model.UserPosition) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_positions (
			user_address, market_address, outcome_balances,
			lp_balance, total_claimed,
			has_outcome_tokens, has_lp_tokens, has_claimed, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
		ON CONFLICT (user_address, market_address)
		DO UPDATE SET
			outcome_balances = EXCLUDED.outcome_balances,
			lp_balance = EXCLUDED.lp_balance,
			total_claimed = EXCLUDED.total_claimed,
			has_outcome_tokens = EXCLUDED.has_outcome_tokens,
			has_lp_tokens = EXCLUDED.has_lp_tokens,
			has_claimed = EXCLUDED.has_claimed,
			updated_at = now()
	`,
		p.UserAddress, p.MarketAddress, p.OutcomeBalances,
		p.LPBalance, p.TotalClaimed,
		p.HasOutcomeTokens, p.HasLPTokens, p.HasClaimed,
	)
	return err
}

func (s *Store) ListPositionsByMarket(ctx context.Context, market string) ([]model.UserPosition, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+positionSelectCols+` FROM user_positions WHERE market_address=$1 ORDER BY user_address`,
		market)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.UserPosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *Store) InsertTrade(ctx context.Context, t model.Trade) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trades (
			tx_hash, log_index, market_address, user_address, outcome_index,
			side, collateral_amount, token_amount, fee, price, block_number, ts
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (tx_hash) DO NOTHING
	`,
		t.TxHash, int64(t.LogIndex), t.MarketAddress, t.UserAddress, int64(t.OutcomeIndex),
		string(t.Side), t.CollateralAmount, t.TokenAmount, t.Fee, t.Price,
		int64(t.BlockNumber), int64(t.Timestamp),
	)
	return err
}

func (s *Store) InsertLPAction(ctx context.Context, a model.LPAction) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO lp_actions (
			tx_hash, log_index, market_address, provider, direction,
			collateral_amount, lp_tokens, block_number, ts
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (tx_hash) DO NOTHING
	`,
		a.TxHash, int64(a.LogIndex), a.MarketAddress, a.Provider, string(a.Direction),
		a.CollateralAmount, a.LPTokens, int64(a.BlockNumber), int64(a.Timestamp),
	)
	return err
}

func (s *Store) InsertClaim(ctx context.Context, c model.Claim) error {
	var outcome *int64
	if c.OutcomeIndex != nil {
		v := int64(*c.OutcomeIndex)
		outcome = &v
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO claims (
			tx_hash, log_index, market_address, user_address, outcome_index,
			amount, total_claimed, block_number, ts
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (tx_hash) DO NOTHING
	`,
		c.TxHash, int64(c.LogIndex), c.MarketAddress, c.UserAddress, outcome,
		c.Amount, c.TotalClaimed, int64(c.BlockNumber), int64(c.Timestamp),
	)
	return err
}

func (s *Store) InsertNotification(ctx context.Context, n model.Notification) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO notifications (user_address, market_address, type, message)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_address, market_address, type) DO NOTHING
	`, n.UserAddress, n.MarketAddress, string(n.Type), n.Message)
	return err
}

func (s *Store) GetSyncState(ctx context.Context, contract string) (uint64, bool, error) {
	if contract == "" {
		return 0, false, fmt.Errorf("contract name required")
	}
	var block int64
	row := s.db.QueryRow(ctx, `SELECT last_processed_block FROM sync_state WHERE contract=$1`, contract)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SetSyncState upserts the checkpoint; GREATEST keeps it monotonic even
// under a stale write.
func (s *Store) SetSyncState(ctx context.Context, contract string, block uint64) error {
	if contract == "" {
		return fmt.Errorf("contract name required")
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO sync_state (contract, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (contract) DO UPDATE
		SET last_processed_block = GREATEST(sync_state.last_processed_block, EXCLUDED.last_processed_block),
		    updated_at = now()
	`, contract, int64(block))
	return err
}

func (s *Store) ListSyncStates(ctx context.Context) ([]model.SyncState, error) {
	rows, err := s.db.Query(ctx,
		`SELECT contract, last_processed_block, updated_at FROM sync_state ORDER BY contract`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []model.SyncState
	for rows.Next() {
		var st model.SyncState
		var block int64
		if err := rows.Scan(&st.Contract, &block, &st.UpdatedAt); err != nil {
			return nil, err
		}
		st.LastProcessedBlock = uint64(block)
		states = append(states, st)
	}
	return states, rows.Err()
}
