// Package poolmirror maintains the pools and bets projections from PoolCore
// events. Events omit most pool fields, so creation and backfill read the
// full struct from the contract's pools(id) view.
package poolmirror

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jackc/pgx/v5"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/pkg/contracts"
	"github.com/bitredict/relayer/internal/ports/outbound"
	"github.com/bitredict/relayer/internal/services/indexer"
)

var _ indexer.LogHandler = (*Mirror)(nil)

// StreamName is the indexer cursor stream for PoolCore.
const StreamName = "poolcore"

// MirrorConfig holds configuration for the pool mirror.
type MirrorConfig struct {
	// Logger is the structured logger for the service.
	Logger *slog.Logger
}

// Deps are the mirror's outbound dependencies. Metrics is optional.
type Deps struct {
	Reader    *contracts.Reader
	Registry  *contracts.Registry
	TxManager outbound.TxManager
	Pools     outbound.PoolRepository
	Bets      outbound.BetRepository
	Markets   outbound.MarketRepository
	Anomalies outbound.AnomalyRepository
	Metrics   outbound.MetricsRecorder
}

// Mirror consumes PoolCore logs and keeps the projections current.
type Mirror struct {
	deps   Deps
	logger *slog.Logger
}

// NewMirror creates the pool mirror.
func NewMirror(config MirrorConfig, deps Deps) (*Mirror, error) {
	if deps.Reader == nil {
		return nil, fmt.Errorf("contract reader cannot be nil")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("contract registry cannot be nil")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("tx manager cannot be nil")
	}
	if deps.Pools == nil {
		return nil, fmt.Errorf("pool repository cannot be nil")
	}
	if deps.Bets == nil {
		return nil, fmt.Errorf("bet repository cannot be nil")
	}
	if deps.Markets == nil {
		return nil, fmt.Errorf("market repository cannot be nil")
	}
	if deps.Anomalies == nil {
		return nil, fmt.Errorf("anomaly repository cannot be nil")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		deps:   deps,
		logger: logger.With("component", "pool-mirror"),
	}, nil
}

// Stream implements indexer.LogHandler.
func (m *Mirror) Stream() string { return StreamName }

// Address implements indexer.LogHandler.
func (m *Mirror) Address() common.Address {
	return m.deps.Registry.PoolCoreAddress()
}

// HandleLog implements indexer.LogHandler.
func (m *Mirror) HandleLog(ctx context.Context, tx pgx.Tx, log types.Log) error {
	name, ok := m.deps.Registry.EventName(log)
	if !ok {
		return nil
	}
	switch name {
	case contracts.EventPoolCreated:
		return m.handlePoolCreated(ctx, tx, log)
	case contracts.EventBetPlaced:
		return m.handleBetPlaced(ctx, tx, log)
	case contracts.EventLiquidityAdded, contracts.EventLiquidityRemoved:
		return m.handleLiquidity(ctx, tx, log)
	case contracts.EventPoolSettled:
		return m.handlePoolSettled(ctx, tx, log)
	case contracts.EventPoolRefunded:
		return m.handlePoolRefunded(ctx, tx, log)
	default:
		return nil
	}
}

func (m *Mirror) handlePoolCreated(ctx context.Context, tx pgx.Tx, log types.Log) error {
	event, err := m.deps.Registry.ParsePoolCreated(log)
	if err != nil {
		return err
	}
	if err := m.mirrorPool(ctx, tx, event.PoolID); err != nil {
		return err
	}
	m.logger.Info("pool mirrored", "poolId", event.PoolID, "creator", event.Creator)
	return nil
}

// mirrorPool reads the full pool struct on-chain, upserts it, and creates
// the prediction-market row for guided football pools.
func (m *Mirror) mirrorPool(ctx context.Context, tx pgx.Tx, poolID uint64) error {
	pool, err := m.deps.Reader.PoolState(ctx, poolID)
	if err != nil {
		return fmt.Errorf("reading pool %d state: %w", poolID, err)
	}
	if err := m.deps.Pools.UpsertPool(ctx, tx, pool); err != nil {
		return fmt.Errorf("upserting pool %d: %w", poolID, err)
	}
	return m.ensureMarket(ctx, tx, pool)
}

// ensureMarket creates the PredictionMarket row when the pool is guided and
// its predicted outcome maps onto a football market.
func (m *Mirror) ensureMarket(ctx context.Context, tx pgx.Tx, pool *entity.Pool) error {
	if pool.Oracle != entity.OracleGuided || pool.MarketID == "" {
		return nil
	}
	selection := contracts.DecodeBytes32String(pool.PredictedOutcome)
	outcomeType, err := entity.InferOutcomeType(selection)
	if err != nil {
		// Guided pool on a non-football market; nothing to track.
		m.logger.Debug("skipping market row",
			"poolId", pool.PoolID, "predictedOutcome", selection)
		return nil
	}
	market := &entity.PredictionMarket{
		PoolID:           pool.PoolID,
		MarketID:         pool.MarketID,
		FixtureID:        pool.MarketID,
		OutcomeType:      outcomeType,
		PredictedOutcome: selection,
		State:            entity.MarketPending,
	}
	if err := m.deps.Markets.UpsertMarket(ctx, tx, market); err != nil {
		return fmt.Errorf("upserting market for pool %d: %w", pool.PoolID, err)
	}
	return nil
}

func (m *Mirror) handleBetPlaced(ctx context.Context, tx pgx.Tx, log types.Log) error {
	event, err := m.deps.Registry.ParseBetPlaced(log)
	if err != nil {
		return err
	}

	// Bets must reference an extant pool; mirror it first if the creation
	// event predates this stream's cursor.
	pool, err := m.deps.Pools.GetPool(ctx, event.PoolID)
	if err != nil {
		return fmt.Errorf("loading pool %d: %w", event.PoolID, err)
	}
	mirrored := false
	if pool == nil {
		if err := m.mirrorPool(ctx, tx, event.PoolID); err != nil {
			return err
		}
		mirrored = true
	}

	bet, err := entity.NewBet(event.PoolID, event.Bettor, event.Amount,
		event.IsForOutcome, log.BlockNumber, log.TxHash.Bytes(), uint32(log.Index))
	if err != nil {
		return fmt.Errorf("building bet: %w", err)
	}
	inserted, err := m.deps.Bets.InsertBet(ctx, tx, bet)
	if err != nil {
		return fmt.Errorf("inserting bet: %w", err)
	}
	// A pool mirrored above was read at latest, so its stake totals
	// already include this bet; incrementing again would double-count.
	if inserted && event.IsForOutcome && !mirrored {
		if err := m.deps.Pools.AddBettorStake(ctx, tx, event.PoolID, event.Amount); err != nil {
			return fmt.Errorf("adding bettor stake: %w", err)
		}
	}
	return nil
}

func (m *Mirror) handleLiquidity(ctx context.Context, tx pgx.Tx, log types.Log) error {
	event, err := m.deps.Registry.ParseLiquidity(log)
	if err != nil {
		return err
	}
	delta := event.Amount
	if !event.Added {
		delta = new(big.Int).Neg(event.Amount)
	}
	if err := m.deps.Pools.AdjustCreatorSideStake(ctx, tx, event.PoolID, delta); err != nil {
		return fmt.Errorf("adjusting creator stake: %w", err)
	}
	return nil
}

func (m *Mirror) handlePoolSettled(ctx context.Context, tx pgx.Tx, log types.Log) error {
	event, err := m.deps.Registry.ParsePoolSettled(log)
	if err != nil {
		return err
	}
	err = m.deps.Pools.MarkSettled(ctx, tx, event.PoolID, event.Result,
		event.CreatorSideWon, log.TxHash.Bytes())
	if err != nil {
		return fmt.Errorf("marking pool %d settled: %w", event.PoolID, err)
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordPoolSettled(ctx)
	}
	m.logger.Info("pool settled",
		"poolId", event.PoolID, "creatorSideWon", event.CreatorSideWon)
	return nil
}

func (m *Mirror) handlePoolRefunded(ctx context.Context, tx pgx.Tx, log types.Log) error {
	event, err := m.deps.Registry.ParsePoolRefunded(log)
	if err != nil {
		return err
	}
	if err := m.deps.Pools.MarkRefunded(ctx, tx, event.PoolID, log.TxHash.Bytes()); err != nil {
		return fmt.Errorf("marking pool %d refunded: %w", event.PoolID, err)
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordPoolRefunded(ctx)
	}
	m.logger.Info("pool refunded", "poolId", event.PoolID, "reason", event.Reason)
	return nil
}

// Backfill reconstructs pools the log scanner never saw: ids between the
// highest mirrored pool and the contract's poolCount. Bets older than the
// provider's log retention cannot be reconstructed event-by-event, so pools
// with on-chain bettor stake and no indexed bets get an anomaly note.
func (m *Mirror) Backfill(ctx context.Context) error {
	count, err := m.deps.Reader.PoolCount(ctx)
	if err != nil {
		return fmt.Errorf("reading pool count: %w", err)
	}
	if count == 0 {
		return nil
	}

	start := uint64(0)
	if maxID, ok, err := m.deps.Pools.MaxPoolID(ctx); err != nil {
		return fmt.Errorf("reading max pool id: %w", err)
	} else if ok {
		start = maxID + 1
	}
	if start >= count {
		return nil
	}

	m.logger.Info("backfilling pools", "from", start, "to", count-1)
	for id := start; id < count; id++ {
		if err := m.backfillPool(ctx, id); err != nil {
			return fmt.Errorf("backfilling pool %d: %w", id, err)
		}
	}
	return nil
}

func (m *Mirror) backfillPool(ctx context.Context, poolID uint64) error {
	pool, err := m.deps.Reader.PoolState(ctx, poolID)
	if err != nil {
		return err
	}
	err = m.deps.TxManager.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := m.deps.Pools.UpsertPool(ctx, tx, pool); err != nil {
			return err
		}
		return m.ensureMarket(ctx, tx, pool)
	})
	if err != nil {
		return err
	}

	if pool.TotalBettorStake == nil || pool.TotalBettorStake.Sign() == 0 {
		return nil
	}
	indexed, err := m.deps.Bets.CountByPool(ctx, poolID)
	if err != nil {
		return fmt.Errorf("counting bets: %w", err)
	}
	if indexed > 0 {
		return nil
	}

	id := poolID
	anomaly := &entity.Anomaly{
		Kind: entity.AnomalyHistoricalGap,
		Detail: fmt.Sprintf("pool %d has on-chain bettor stake %s but no indexed bets",
			poolID, pool.TotalBettorStake.String()),
		PoolID:     &id,
		ObservedAt: time.Now().UTC(),
	}
	if err := m.deps.Anomalies.Record(ctx, anomaly); err != nil {
		return fmt.Errorf("recording anomaly: %w", err)
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordAnomaly(ctx, string(entity.AnomalyHistoricalGap))
	}
	m.logger.Warn("historical bet gap",
		"poolId", poolID, "onChainStake", pool.TotalBettorStake.String())
	return nil
}
