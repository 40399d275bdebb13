// Package settlement bridges submitted oracle outcomes to on-chain pool
// settlement. It consumes OutcomeSubmitted events from the indexer and runs
// a periodic sweep so no pool is left behind a missed event.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jackc/pgx/v5"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/pkg/contracts"
	"github.com/bitredict/relayer/internal/pkg/txsign"
	"github.com/bitredict/relayer/internal/ports/outbound"
	"github.com/bitredict/relayer/internal/services/indexer"
)

var _ indexer.LogHandler = (*Coordinator)(nil)

// StreamName is the indexer cursor stream for the guided oracle.
const StreamName = "guidedoracle"

// CoordinatorConfig holds configuration for the settlement coordinator.
type CoordinatorConfig struct {
	// Concurrency bounds parallel per-pool settlement transactions.
	// Defaults to 8.
	Concurrency int

	// Logger is the structured logger for the service.
	Logger *slog.Logger
}

// LockFunc acquires the per-pool advisory lock inside the settlement
// transaction. Nil skips locking (single-writer deployments and tests).
type LockFunc func(ctx context.Context, tx pgx.Tx, poolID uint64) error

// Deps are the coordinator's outbound dependencies. Lock, Alerts and
// Metrics are optional.
type Deps struct {
	Reader    *contracts.Reader
	Registry  *contracts.Registry
	Sender    *txsign.Sender
	TxManager outbound.TxManager
	Pools     outbound.PoolRepository
	Lock      LockFunc
	Alerts    outbound.AlertSink
	Metrics   outbound.MetricsRecorder
}

// Coordinator settles pools whose guided-oracle outcome is on-chain.
type Coordinator struct {
	config CoordinatorConfig
	deps   Deps
	logger *slog.Logger

	// triggers carries market hashes from the indexing transaction to the
	// settlement loop. Full channel drops are fine: the sweep catches up.
	triggers chan common.Hash
}

// NewCoordinator creates the settlement coordinator.
func NewCoordinator(config CoordinatorConfig, deps Deps) (*Coordinator, error) {
	if deps.Reader == nil {
		return nil, fmt.Errorf("contract reader cannot be nil")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("contract registry cannot be nil")
	}
	if deps.Sender == nil {
		return nil, fmt.Errorf("transaction sender cannot be nil")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("tx manager cannot be nil")
	}
	if deps.Pools == nil {
		return nil, fmt.Errorf("pool repository cannot be nil")
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 8
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		config:   config,
		deps:     deps,
		logger:   logger.With("component", "settlement"),
		triggers: make(chan common.Hash, 256),
	}, nil
}

// Stream implements indexer.LogHandler.
func (c *Coordinator) Stream() string { return StreamName }

// Address implements indexer.LogHandler.
func (c *Coordinator) Address() common.Address {
	return c.deps.Registry.GuidedOracleAddress()
}

// HandleLog implements indexer.LogHandler. Settlement transactions are too
// slow for the indexing transaction, so the event only queues a trigger.
func (c *Coordinator) HandleLog(ctx context.Context, tx pgx.Tx, log types.Log) error {
	name, ok := c.deps.Registry.EventName(log)
	if !ok || name != contracts.EventOutcomeSubmitted {
		return nil
	}
	event, err := c.deps.Registry.ParseOutcomeSubmitted(log)
	if err != nil {
		return err
	}
	select {
	case c.triggers <- event.MarketIDHash:
	default:
		c.logger.Warn("trigger queue full, deferring to sweep",
			"marketIdHash", event.MarketIDHash)
	}
	return nil
}

// Run consumes queued triggers until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case hash := <-c.triggers:
			if err := c.SettleByMarketHash(ctx, hash); err != nil {
				c.logger.Error("trigger settlement failed",
					"marketIdHash", hash, "error", err)
			}
		}
	}
}

// SettleByMarketHash settles every open pool keyed by the market hash.
// Indexed string topics only carry keccak256(marketId), so pools are
// matched through their stored hash column.
func (c *Coordinator) SettleByMarketHash(ctx context.Context, marketIDHash common.Hash) error {
	pools, err := c.deps.Pools.ListOpenPoolsByMarketHash(ctx, marketIDHash)
	if err != nil {
		return fmt.Errorf("listing pools for market hash: %w", err)
	}
	return c.settleAll(ctx, pools)
}

// Sweep settles every open guided pool whose oracle outcome is available,
// and refunds pools on the no-bets path.
func (c *Coordinator) Sweep(ctx context.Context) error {
	pools, err := c.deps.Pools.ListOpenGuidedPools(ctx)
	if err != nil {
		return fmt.Errorf("listing open guided pools: %w", err)
	}
	return c.settleAll(ctx, pools)
}

// settleAll runs per-pool settlement under the concurrency bound.
func (c *Coordinator) settleAll(ctx context.Context, pools []*entity.Pool) error {
	if len(pools) == 0 {
		return nil
	}

	sem := make(chan struct{}, c.config.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for _, pool := range pools {
		wg.Add(1)
		sem <- struct{}{}
		go func(pool *entity.Pool) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := c.settlePool(ctx, pool.PoolID); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("pool %d: %w", pool.PoolID, err))
				mu.Unlock()
			}
		}(pool)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// settlePool settles or refunds a single pool under its advisory lock.
// Chain state is re-read inside the lock: no ordering is guaranteed across
// indexer streams, so the database view may be stale.
func (c *Coordinator) settlePool(ctx context.Context, poolID uint64) error {
	return c.deps.TxManager.WithTransaction(ctx, func(tx pgx.Tx) error {
		if c.deps.Lock != nil {
			if err := c.deps.Lock(ctx, tx, poolID); err != nil {
				return fmt.Errorf("acquiring settlement lock: %w", err)
			}
		}

		pool, err := c.deps.Reader.PoolState(ctx, poolID)
		if err != nil {
			return fmt.Errorf("reading pool state: %w", err)
		}
		if !pool.IsOpen() {
			return c.reconcile(ctx, tx, pool)
		}

		if pool.RefundEligible(time.Now().Unix()) {
			return c.refund(ctx, tx, pool)
		}
		return c.settle(ctx, tx, pool)
	})
}

// reconcile copies on-chain settlement state into the mirror when the
// contract settled or refunded the pool out from under us.
func (c *Coordinator) reconcile(ctx context.Context, tx pgx.Tx, pool *entity.Pool) error {
	switch {
	case pool.Flags.Refunded:
		if err := c.deps.Pools.MarkRefunded(ctx, tx, pool.PoolID, nil); err != nil {
			return fmt.Errorf("reconciling refunded pool: %w", err)
		}
	case pool.Flags.Settled:
		err := c.deps.Pools.MarkSettled(ctx, tx, pool.PoolID, pool.Result,
			pool.Flags.CreatorSideWon, nil)
		if err != nil {
			return fmt.Errorf("reconciling settled pool: %w", err)
		}
	}
	c.logger.Info("pool reconciled from chain state",
		"poolId", pool.PoolID, "settled", pool.Flags.Settled, "refunded", pool.Flags.Refunded)
	return nil
}

func (c *Coordinator) refund(ctx context.Context, tx pgx.Tx, pool *entity.Pool) error {
	receipt, err := c.deps.Sender.Send(ctx, c.deps.Registry.PoolCoreAddress(),
		c.deps.Registry.PoolCoreABI(), "refundPool", new(big.Int).SetUint64(pool.PoolID))
	if err != nil {
		return c.classifySendError(ctx, tx, pool, err)
	}
	if err := c.deps.Pools.MarkRefunded(ctx, tx, pool.PoolID, receipt.TxHash.Bytes()); err != nil {
		return fmt.Errorf("marking refunded: %w", err)
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordPoolRefunded(ctx)
	}
	c.logger.Info("pool refunded", "poolId", pool.PoolID, "tx", receipt.TxHash)
	return nil
}

func (c *Coordinator) settle(ctx context.Context, tx pgx.Tx, pool *entity.Pool) error {
	outcome, err := c.deps.Reader.Outcome(ctx, pool.MarketID)
	if err != nil {
		return fmt.Errorf("reading oracle outcome: %w", err)
	}
	if !outcome.IsSet {
		// The submitter has not landed this market's outcome yet.
		c.logger.Debug("outcome not set, parking", "poolId", pool.PoolID, "marketId", pool.MarketID)
		return nil
	}

	outcomeHash := contracts.OutcomeHash(outcome.Result)
	receipt, err := c.deps.Sender.Send(ctx, c.deps.Registry.PoolCoreAddress(),
		c.deps.Registry.PoolCoreABI(), "settlePool",
		new(big.Int).SetUint64(pool.PoolID), outcomeHash)
	if err != nil {
		return c.classifySendError(ctx, tx, pool, err)
	}

	predicted := contracts.DecodeBytes32String(pool.PredictedOutcome)
	creatorSideWon := predicted == string(outcome.Result)
	err = c.deps.Pools.MarkSettled(ctx, tx, pool.PoolID, outcomeHash,
		creatorSideWon, receipt.TxHash.Bytes())
	if err != nil {
		return fmt.Errorf("marking settled: %w", err)
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordPoolSettled(ctx)
	}
	c.logger.Info("pool settled",
		"poolId", pool.PoolID, "outcome", string(outcome.Result),
		"creatorSideWon", creatorSideWon, "tx", receipt.TxHash)
	return nil
}

// classifySendError applies the revert taxonomy: some reverts are state
// signals, not failures.
func (c *Coordinator) classifySendError(ctx context.Context, tx pgx.Tx, pool *entity.Pool, err error) error {
	switch {
	case errors.Is(err, txsign.ErrAlreadySettled):
		// Someone else settled first; copy the chain's view.
		state, readErr := c.deps.Reader.PoolState(ctx, pool.PoolID)
		if readErr != nil {
			return fmt.Errorf("re-reading settled pool: %w", readErr)
		}
		return c.reconcile(ctx, tx, state)
	case errors.Is(err, txsign.ErrEventNotEnded), errors.Is(err, txsign.ErrOutcomeNotSet):
		c.logger.Debug("settlement parked", "poolId", pool.PoolID, "reason", err)
		return nil
	case errors.Is(err, txsign.ErrInsufficientFunds):
		c.alert(ctx, outbound.Alert{
			Severity:  outbound.AlertCritical,
			Component: "settlement",
			Message:   "bot wallet cannot cover settlement gas",
			Details:   map[string]string{"poolId": fmt.Sprintf("%d", pool.PoolID)},
		})
		return err
	default:
		return err
	}
}

func (c *Coordinator) alert(ctx context.Context, alert outbound.Alert) {
	if c.deps.Alerts == nil {
		return
	}
	if err := c.deps.Alerts.Publish(ctx, alert); err != nil {
		c.logger.Error("publishing alert failed", "error", err)
	}
}
