package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/ports/outbound"
)

// Compile-time check that PoolRepository implements outbound.PoolRepository
var _ outbound.PoolRepository = (*PoolRepository)(nil)

// PoolRepository is the PostgreSQL projection of PoolCore pools.
type PoolRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPoolRepository creates a new PostgreSQL pool repository.
func NewPoolRepository(pool *pgxpool.Pool, logger *slog.Logger) (*PoolRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PoolRepository{pool: pool, logger: logger}, nil
}

const poolColumns = `pool_id, creator, predicted_outcome, odds,
	creator_stake::text, total_creator_side_stake::text, total_bettor_stake::text, max_bettor_stake::text,
	event_start_time, event_end_time, betting_end_time, arbitration_deadline,
	oracle_type, market_type, market_id, result,
	settled, creator_side_won, private, uses_bitr, refunded,
	league, category, region, home_team, away_team, title, settlement_tx`

func scanPool(row pgx.Row) (*entity.Pool, error) {
	var (
		p                entity.Pool
		creator          []byte
		predictedOutcome []byte
		result           []byte
		odds             int32
		oracleType       int16
		marketType       int16
		creatorStake     string
		creatorSideStake string
		bettorStake      string
		maxBettorStake   string
	)
	err := row.Scan(
		&p.PoolID, &creator, &predictedOutcome, &odds,
		&creatorStake, &creatorSideStake, &bettorStake, &maxBettorStake,
		&p.EventStartTime, &p.EventEndTime, &p.BettingEndTime, &p.ArbitrationDeadline,
		&oracleType, &marketType, &p.MarketID, &result,
		&p.Flags.Settled, &p.Flags.CreatorSideWon, &p.Flags.Private, &p.Flags.UsesBitr, &p.Flags.Refunded,
		&p.League, &p.Category, &p.Region, &p.HomeTeam, &p.AwayTeam, &p.Title, &p.SettlementTx,
	)
	if err != nil {
		return nil, err
	}

	p.Creator = common.BytesToAddress(creator)
	p.PredictedOutcome = common.BytesToHash(predictedOutcome)
	p.Result = common.BytesToHash(result)
	p.Odds = uint32(odds)
	p.Oracle = entity.OracleType(oracleType)
	p.MarketType = uint8(marketType)

	for _, f := range []struct {
		src string
		dst **big.Int
	}{
		{creatorStake, &p.CreatorStake},
		{creatorSideStake, &p.TotalCreatorSideStake},
		{bettorStake, &p.TotalBettorStake},
		{maxBettorStake, &p.MaxBettorStake},
	} {
		v, err := parseNumeric(f.src)
		if err != nil {
			return nil, fmt.Errorf("pool %d: %w", p.PoolID, err)
		}
		*f.dst = v
	}
	return &p, nil
}

func scanPools(rows pgx.Rows) ([]*entity.Pool, error) {
	defer rows.Close()
	var pools []*entity.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// UpsertPool inserts or replaces a pool row, refreshing market_id_hash so
// OutcomeSubmitted topics can be matched back to pools.
func (r *PoolRepository) UpsertPool(ctx context.Context, tx pgx.Tx, p *entity.Pool) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid pool: %w", err)
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO pools (pool_id, creator, predicted_outcome, odds,
			creator_stake, total_creator_side_stake, total_bettor_stake, max_bettor_stake,
			event_start_time, event_end_time, betting_end_time, arbitration_deadline,
			oracle_type, market_type, market_id, market_id_hash, result,
			settled, creator_side_won, private, uses_bitr, refunded,
			league, category, region, home_team, away_team, title, settlement_tx, updated_at)
		 VALUES ($1, $2, $3, $4,
			$5::numeric, $6::numeric, $7::numeric, $8::numeric,
			$9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22,
			$23, $24, $25, $26, $27, $28, $29, now())
		 ON CONFLICT (pool_id) DO UPDATE SET
			creator = EXCLUDED.creator,
			predicted_outcome = EXCLUDED.predicted_outcome,
			odds = EXCLUDED.odds,
			creator_stake = EXCLUDED.creator_stake,
			total_creator_side_stake = EXCLUDED.total_creator_side_stake,
			total_bettor_stake = EXCLUDED.total_bettor_stake,
			max_bettor_stake = EXCLUDED.max_bettor_stake,
			event_start_time = EXCLUDED.event_start_time,
			event_end_time = EXCLUDED.event_end_time,
			betting_end_time = EXCLUDED.betting_end_time,
			arbitration_deadline = EXCLUDED.arbitration_deadline,
			oracle_type = EXCLUDED.oracle_type,
			market_type = EXCLUDED.market_type,
			market_id = EXCLUDED.market_id,
			market_id_hash = EXCLUDED.market_id_hash,
			result = EXCLUDED.result,
			settled = EXCLUDED.settled,
			creator_side_won = EXCLUDED.creator_side_won,
			private = EXCLUDED.private,
			uses_bitr = EXCLUDED.uses_bitr,
			refunded = EXCLUDED.refunded,
			league = EXCLUDED.league,
			category = EXCLUDED.category,
			region = EXCLUDED.region,
			home_team = EXCLUDED.home_team,
			away_team = EXCLUDED.away_team,
			title = EXCLUDED.title,
			settlement_tx = COALESCE(EXCLUDED.settlement_tx, pools.settlement_tx),
			updated_at = now()`,
		p.PoolID, p.Creator.Bytes(), p.PredictedOutcome.Bytes(), int32(p.Odds),
		numericString(p.CreatorStake), numericString(p.TotalCreatorSideStake),
		numericString(p.TotalBettorStake), numericString(p.MaxBettorStake),
		p.EventStartTime, p.EventEndTime, p.BettingEndTime, p.ArbitrationDeadline,
		int16(p.Oracle), int16(p.MarketType), p.MarketID, crypto.Keccak256([]byte(p.MarketID)), p.Result.Bytes(),
		p.Flags.Settled, p.Flags.CreatorSideWon, p.Flags.Private, p.Flags.UsesBitr, p.Flags.Refunded,
		p.League, p.Category, p.Region, p.HomeTeam, p.AwayTeam, p.Title, p.SettlementTx)
	if err != nil {
		return fmt.Errorf("failed to upsert pool %d: %w", p.PoolID, err)
	}
	return nil
}

// GetPool returns the pool or nil when unknown.
func (r *PoolRepository) GetPool(ctx context.Context, poolID uint64) (*entity.Pool, error) {
	p, err := scanPool(r.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE pool_id = $1`, poolID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pool %d: %w", poolID, err)
	}
	return p, nil
}

// AddBettorStake increments total_bettor_stake.
func (r *PoolRepository) AddBettorStake(ctx context.Context, tx pgx.Tx, poolID uint64, amount *big.Int) error {
	tag, err := tx.Exec(ctx,
		`UPDATE pools SET total_bettor_stake = total_bettor_stake + $2::numeric, updated_at = now()
		 WHERE pool_id = $1`,
		poolID, numericString(amount))
	if err != nil {
		return fmt.Errorf("failed to add bettor stake on pool %d: %w", poolID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pool %d not found for stake update", poolID)
	}
	return nil
}

// AdjustCreatorSideStake applies a liquidity delta (negative on removal).
func (r *PoolRepository) AdjustCreatorSideStake(ctx context.Context, tx pgx.Tx, poolID uint64, delta *big.Int) error {
	tag, err := tx.Exec(ctx,
		`UPDATE pools SET total_creator_side_stake = total_creator_side_stake + $2::numeric, updated_at = now()
		 WHERE pool_id = $1`,
		poolID, numericString(delta))
	if err != nil {
		return fmt.Errorf("failed to adjust creator side stake on pool %d: %w", poolID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pool %d not found for liquidity update", poolID)
	}
	return nil
}

// MarkSettled records the settlement result and transaction.
func (r *PoolRepository) MarkSettled(ctx context.Context, tx pgx.Tx, poolID uint64, result common.Hash, creatorSideWon bool, settlementTx []byte) error {
	_, err := tx.Exec(ctx,
		`UPDATE pools SET settled = TRUE, creator_side_won = $2, result = $3,
			settlement_tx = COALESCE($4, settlement_tx), updated_at = now()
		 WHERE pool_id = $1`,
		poolID, creatorSideWon, result.Bytes(), settlementTx)
	if err != nil {
		return fmt.Errorf("failed to mark pool %d settled: %w", poolID, err)
	}
	return nil
}

// MarkRefunded flips the refunded flag and records the transaction.
func (r *PoolRepository) MarkRefunded(ctx context.Context, tx pgx.Tx, poolID uint64, settlementTx []byte) error {
	_, err := tx.Exec(ctx,
		`UPDATE pools SET refunded = TRUE,
			settlement_tx = COALESCE($2, settlement_tx), updated_at = now()
		 WHERE pool_id = $1`,
		poolID, settlementTx)
	if err != nil {
		return fmt.Errorf("failed to mark pool %d refunded: %w", poolID, err)
	}
	return nil
}

// MaxPoolID returns the highest mirrored pool id.
func (r *PoolRepository) MaxPoolID(ctx context.Context) (uint64, bool, error) {
	var id *int64
	if err := r.pool.QueryRow(ctx, `SELECT MAX(pool_id) FROM pools`).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("failed to query max pool id: %w", err)
	}
	if id == nil {
		return 0, false, nil
	}
	return uint64(*id), true, nil
}

// ListOpenGuidedPools returns guided pools that are neither settled nor
// refunded.
func (r *PoolRepository) ListOpenGuidedPools(ctx context.Context) ([]*entity.Pool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+poolColumns+` FROM pools
		 WHERE oracle_type = $1 AND NOT settled AND NOT refunded
		 ORDER BY pool_id`, int16(entity.OracleGuided))
	if err != nil {
		return nil, fmt.Errorf("failed to list open guided pools: %w", err)
	}
	pools, err := scanPools(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan open guided pools: %w", err)
	}
	return pools, nil
}

// ListOpenPoolsByMarketHash returns open pools whose keccak256(market_id)
// matches the indexed-string topic of an OutcomeSubmitted log.
func (r *PoolRepository) ListOpenPoolsByMarketHash(ctx context.Context, marketIDHash common.Hash) ([]*entity.Pool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+poolColumns+` FROM pools
		 WHERE market_id_hash = $1 AND NOT settled AND NOT refunded
		 ORDER BY pool_id`, marketIDHash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to list pools by market hash: %w", err)
	}
	pools, err := scanPools(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan pools by market hash: %w", err)
	}
	return pools, nil
}

// Compile-time check that BetRepository implements outbound.BetRepository
var _ outbound.BetRepository = (*BetRepository)(nil)

// BetRepository persists mirrored bets.
type BetRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewBetRepository creates a new PostgreSQL bet repository.
func NewBetRepository(pool *pgxpool.Pool, logger *slog.Logger) (*BetRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BetRepository{pool: pool, logger: logger}, nil
}

// InsertBet inserts the bet, returning false on the (tx hash, log index)
// duplicate key. Replayed logs are no-ops.
func (r *BetRepository) InsertBet(ctx context.Context, tx pgx.Tx, bet *entity.Bet) (bool, error) {
	tag, err := tx.Exec(ctx,
		`INSERT INTO bets (pool_id, bettor, amount, is_for_outcome, block_number, tx_hash, log_index)
		 VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
		 ON CONFLICT (tx_hash, log_index) DO NOTHING`,
		bet.PoolID, bet.Bettor.Bytes(), numericString(bet.Amount),
		bet.IsForOutcome, bet.BlockNumber, bet.TxHash, int64(bet.LogIndex))
	if err != nil {
		return false, fmt.Errorf("failed to insert bet on pool %d: %w", bet.PoolID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SumForOutcome totals for-outcome bet amounts on a pool.
func (r *BetRepository) SumForOutcome(ctx context.Context, poolID uint64) (*big.Int, error) {
	var sum string
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM bets
		 WHERE pool_id = $1 AND is_for_outcome`, poolID).Scan(&sum)
	if err != nil {
		return nil, fmt.Errorf("failed to sum bets on pool %d: %w", poolID, err)
	}
	return parseNumeric(sum)
}

// CountByPool returns the number of indexed bets on a pool.
func (r *BetRepository) CountByPool(ctx context.Context, poolID uint64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bets WHERE pool_id = $1`, poolID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bets on pool %d: %w", poolID, err)
	}
	return count, nil
}
