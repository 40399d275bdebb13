package outbound

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/bitredict/relayer/internal/domain/entity"
)

// PoolRepository persists the mirrored pool projection.
// Mutations that run inside an indexer commit take the surrounding pgx.Tx;
// reads and sweep queries run on the pool directly.
type PoolRepository interface {
	// UpsertPool inserts or replaces a pool row.
	UpsertPool(ctx context.Context, tx pgx.Tx, pool *entity.Pool) error

	// GetPool returns the pool or nil when unknown.
	GetPool(ctx context.Context, poolID uint64) (*entity.Pool, error)

	// AddBettorStake increments total_bettor_stake.
	AddBettorStake(ctx context.Context, tx pgx.Tx, poolID uint64, amount *big.Int) error

	// AdjustCreatorSideStake applies a liquidity delta (negative on removal).
	AdjustCreatorSideStake(ctx context.Context, tx pgx.Tx, poolID uint64, delta *big.Int) error

	// MarkSettled records the settlement result and transaction.
	MarkSettled(ctx context.Context, tx pgx.Tx, poolID uint64, result common.Hash, creatorSideWon bool, settlementTx []byte) error

	// MarkRefunded flips the refunded flag and records the transaction.
	MarkRefunded(ctx context.Context, tx pgx.Tx, poolID uint64, settlementTx []byte) error

	// MaxPoolID returns the highest mirrored pool id; ok is false when no
	// pools have been indexed yet.
	MaxPoolID(ctx context.Context) (id uint64, ok bool, err error)

	// ListOpenGuidedPools returns guided pools that are neither settled nor
	// refunded, for the settlement sweep.
	ListOpenGuidedPools(ctx context.Context) ([]*entity.Pool, error)

	// ListOpenPoolsByMarketHash returns open pools whose keccak256(market_id)
	// matches. Indexed string topics only carry the hash, so this is how
	// OutcomeSubmitted events find their pools.
	ListOpenPoolsByMarketHash(ctx context.Context, marketIDHash common.Hash) ([]*entity.Pool, error)
}

// BetRepository persists mirrored bets.
type BetRepository interface {
	// InsertBet inserts the bet, returning false when the (tx hash, log
	// index) key already exists.
	InsertBet(ctx context.Context, tx pgx.Tx, bet *entity.Bet) (inserted bool, err error)

	// SumForOutcome totals non-refunded for-outcome bet amounts on a pool.
	SumForOutcome(ctx context.Context, poolID uint64) (*big.Int, error)

	// CountByPool returns the number of indexed bets on a pool.
	CountByPool(ctx context.Context, poolID uint64) (int, error)
}
