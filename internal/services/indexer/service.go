// Package indexer implements the resumable log scanner. Each watched
// contract is a stream with its own cursor; logs are handled and the cursor
// advanced inside a single database transaction, so a failed window is
// retried in full on the next tick.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jackc/pgx/v5"

	"github.com/bitredict/relayer/internal/adapters/outbound/chainrpc"
	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/pkg/contracts"
	"github.com/bitredict/relayer/internal/ports/inbound"
	"github.com/bitredict/relayer/internal/ports/outbound"
)

var _ inbound.HealthChecker = (*Service)(nil)

// LogHandler consumes one stream's logs inside the indexing transaction.
// Returning an error rolls back the whole window, including the cursor
// advance.
type LogHandler interface {
	// Stream names the cursor row this handler owns.
	Stream() string

	// Address is the contract whose logs the handler consumes.
	Address() common.Address

	// HandleLog processes a single decoded log.
	HandleLog(ctx context.Context, tx pgx.Tx, log types.Log) error
}

// ServiceConfig holds configuration for the indexer.
type ServiceConfig struct {
	// ConfirmationDepth is how many blocks behind head the scanner stays
	// to tolerate short reorgs. Defaults to 3.
	ConfirmationDepth uint64

	// InitialBatch is the starting block-window size. Defaults to 500.
	InitialBatch uint64

	// MinBatch is the floor the window shrinks to under provider range
	// limits. Defaults to 25.
	MinBatch uint64

	// MaxBatch caps window regrowth. Defaults to 500.
	MaxBatch uint64

	// GrowStep is how much the window regrows per successful tick.
	// Defaults to 25.
	GrowStep uint64

	// StartBlock is where a stream with no cursor begins, typically the
	// contract deployment block.
	StartBlock uint64

	// BasePollInterval is the tick period when caught up. Defaults to 45s.
	BasePollInterval time.Duration

	// ActivePollInterval is the tick period while lagging. Defaults to 10s.
	ActivePollInterval time.Duration

	// LagWarningBlocks is the lag at which the indexer raises a warning
	// and other tasks should shed RPC budget. Defaults to 1000.
	LagWarningBlocks uint64

	// Logger is the structured logger for the service.
	Logger *slog.Logger
}

func configDefaults(cfg ServiceConfig) ServiceConfig {
	if cfg.ConfirmationDepth == 0 {
		cfg.ConfirmationDepth = 3
	}
	if cfg.InitialBatch == 0 {
		cfg.InitialBatch = 500
	}
	if cfg.MinBatch == 0 {
		cfg.MinBatch = 25
	}
	if cfg.MaxBatch == 0 {
		cfg.MaxBatch = 500
	}
	if cfg.GrowStep == 0 {
		cfg.GrowStep = 25
	}
	if cfg.BasePollInterval <= 0 {
		cfg.BasePollInterval = 45 * time.Second
	}
	if cfg.ActivePollInterval <= 0 {
		cfg.ActivePollInterval = 10 * time.Second
	}
	if cfg.LagWarningBlocks == 0 {
		cfg.LagWarningBlocks = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Deps are the indexer's outbound dependencies. Archiver and Metrics are
// optional; everything else is required.
type Deps struct {
	Chain     outbound.ChainGateway
	Registry  *contracts.Registry
	TxManager outbound.TxManager
	Cursors   outbound.CursorRepository
	Events    outbound.EventRepository
	Archiver  outbound.LogArchiver
	Metrics   outbound.MetricsRecorder
}

// Service walks each handler's stream forward behind the confirmation depth.
type Service struct {
	config   ServiceConfig
	deps     Deps
	handlers []LogHandler
	logger   *slog.Logger

	mu      sync.Mutex
	batches map[string]uint64

	lag         atomic.Int64
	ready       atomic.Bool
	lastSuccess atomic.Int64
}

// NewService creates the indexer over the given stream handlers.
func NewService(config ServiceConfig, deps Deps, handlers []LogHandler) (*Service, error) {
	if deps.Chain == nil {
		return nil, fmt.Errorf("chain gateway cannot be nil")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("contract registry cannot be nil")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("tx manager cannot be nil")
	}
	if deps.Cursors == nil {
		return nil, fmt.Errorf("cursor repository cannot be nil")
	}
	if deps.Events == nil {
		return nil, fmt.Errorf("event repository cannot be nil")
	}
	if len(handlers) == 0 {
		return nil, fmt.Errorf("at least one log handler is required")
	}
	seen := make(map[string]bool, len(handlers))
	for _, h := range handlers {
		if seen[h.Stream()] {
			return nil, fmt.Errorf("duplicate stream %q", h.Stream())
		}
		seen[h.Stream()] = true
	}

	cfg := configDefaults(config)
	return &Service{
		config:   cfg,
		deps:     deps,
		handlers: handlers,
		logger:   cfg.Logger.With("component", "indexer"),
		batches:  make(map[string]uint64, len(handlers)),
	}, nil
}

// Run ticks until the context is cancelled, tightening the poll interval
// while any stream is lagging.
func (s *Service) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if err := s.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("indexer tick failed", "error", err)
		}

		interval := s.config.BasePollInterval
		if s.Lag() > 0 {
			interval = s.config.ActivePollInterval
		}
		timer.Reset(interval)
	}
}

// RunOnce indexes one tick: a single window per stream.
func (s *Service) RunOnce(ctx context.Context) error {
	head, err := s.deps.Chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetching chain head: %w", err)
	}
	if head < s.config.ConfirmationDepth {
		return nil
	}
	confirmed := head - s.config.ConfirmationDepth

	var errs []error
	var maxLag int64
	for _, h := range s.handlers {
		lag, err := s.indexStream(ctx, confirmed, h)
		if err != nil {
			errs = append(errs, fmt.Errorf("stream %s: %w", h.Stream(), err))
			continue
		}
		if lag > maxLag {
			maxLag = lag
		}
	}

	s.lag.Store(maxLag)
	if uint64(maxLag) > s.config.LagWarningBlocks {
		s.logger.Warn("indexer lagging", "blocks", maxLag, "threshold", s.config.LagWarningBlocks)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.ready.Store(true)
	s.lastSuccess.Store(time.Now().UnixNano())
	return nil
}

// Lag returns how many confirmed blocks the slowest stream is behind.
func (s *Service) Lag() int64 {
	return s.lag.Load()
}

// IsReady reports whether at least one full tick has succeeded.
func (s *Service) IsReady() bool {
	return s.ready.Load()
}

// IsHealthy reports whether the last successful tick is recent.
func (s *Service) IsHealthy() bool {
	last := s.lastSuccess.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) < 3*s.config.BasePollInterval
}

func (s *Service) batchSize(stream string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batches[stream]; ok {
		return b
	}
	s.batches[stream] = s.config.InitialBatch
	return s.config.InitialBatch
}

func (s *Service) shrinkBatch(stream string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batches[stream] / 2
	if b < s.config.MinBatch {
		b = s.config.MinBatch
	}
	s.batches[stream] = b
	return b
}

func (s *Service) growBatch(stream string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batches[stream] + s.config.GrowStep
	if b > s.config.MaxBatch {
		b = s.config.MaxBatch
	}
	s.batches[stream] = b
}

// indexStream advances one stream by at most one window and returns the
// remaining lag in blocks.
func (s *Service) indexStream(ctx context.Context, confirmed uint64, h LogHandler) (int64, error) {
	stream := h.Stream()

	cursor, ok, err := s.deps.Cursors.Get(ctx, stream)
	if err != nil {
		return 0, fmt.Errorf("loading cursor: %w", err)
	}
	// The cursor names the last indexed block; a fresh stream begins at
	// StartBlock, which covers genesis when left zero.
	from := s.config.StartBlock
	if ok {
		from = cursor + 1
	}
	if from > confirmed {
		s.recordLag(ctx, stream, 0)
		return 0, nil
	}

	to := from + s.batchSize(stream) - 1
	if to > confirmed {
		to = confirmed
	}

	logs, err := s.fetchWindow(ctx, h.Address(), stream, from, &to)
	if err != nil {
		return 0, err
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	persisted := 0
	err = s.deps.TxManager.WithTransaction(ctx, func(tx pgx.Tx) error {
		for _, log := range logs {
			inserted, err := s.persistLog(ctx, tx, stream, log)
			if err != nil {
				return err
			}
			if !inserted {
				continue
			}
			if err := h.HandleLog(ctx, tx, log); err != nil {
				return fmt.Errorf("handling %s log %s:%d: %w",
					stream, log.TxHash, log.Index, err)
			}
			persisted++
		}
		return s.deps.Cursors.Set(ctx, tx, stream, to)
	})
	if err != nil {
		return 0, fmt.Errorf("indexing window [%d, %d]: %w", from, to, err)
	}

	s.growBatch(stream)
	s.archiveWindow(ctx, stream, from, to, logs)

	lag := int64(confirmed - to)
	s.recordLag(ctx, stream, lag)
	if persisted > 0 && s.deps.Metrics != nil {
		s.deps.Metrics.RecordLogsIndexed(ctx, stream, persisted)
	}
	s.logger.Debug("indexed window",
		"stream", stream, "from", from, "to", to, "logs", persisted, "lag", lag)
	return lag, nil
}

// fetchWindow fetches logs for [from, *to], shrinking the window (and *to)
// when the provider rejects the range.
func (s *Service) fetchWindow(ctx context.Context, address common.Address, stream string, from uint64, to *uint64) ([]types.Log, error) {
	for {
		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(*to),
			Addresses: []common.Address{address},
		}
		logs, err := s.deps.Chain.FilterLogs(ctx, query)
		if err == nil {
			return logs, nil
		}

		var rangeErr *chainrpc.BlockRangeError
		if !errors.As(err, &rangeErr) {
			return nil, fmt.Errorf("fetching logs [%d, %d]: %w", from, *to, err)
		}

		batch := s.shrinkBatch(stream)
		shrunk := from + batch - 1
		if shrunk >= *to {
			return nil, fmt.Errorf("block range still rejected at minimum batch: %w", err)
		}
		s.logger.Info("shrinking block window",
			"stream", stream, "from", from, "to", shrunk, "batch", batch)
		*to = shrunk
	}
}

// persistLog saves the raw event row; duplicates come back inserted=false
// and are skipped without re-running the handler.
func (s *Service) persistLog(ctx context.Context, tx pgx.Tx, stream string, log types.Log) (bool, error) {
	name, known := s.deps.Registry.EventName(log)
	if !known {
		// Not an event we track; still advance past it.
		return false, nil
	}
	payload, err := json.Marshal(log)
	if err != nil {
		return false, fmt.Errorf("marshalling log %s:%d: %w", log.TxHash, log.Index, err)
	}
	event, err := entity.NewChainEvent(stream, log.BlockNumber, log.TxHash.Bytes(),
		uint32(log.Index), log.Address.Bytes(), name, payload)
	if err != nil {
		return false, fmt.Errorf("building event row: %w", err)
	}
	return s.deps.Events.SaveEvent(ctx, tx, event)
}

// archiveWindow writes the raw window to the archive when one is wired.
// Archive failures are logged, never fatal: the database copy is canonical.
func (s *Service) archiveWindow(ctx context.Context, stream string, from, to uint64, logs []types.Log) {
	if s.deps.Archiver == nil || len(logs) == 0 {
		return
	}
	payload, err := json.Marshal(logs)
	if err != nil {
		s.logger.Error("marshalling archive payload", "stream", stream, "error", err)
		return
	}
	if err := s.deps.Archiver.Archive(ctx, stream, from, to, payload); err != nil {
		s.logger.Error("archiving window failed",
			"stream", stream, "from", from, "to", to, "error", err)
	}
}

func (s *Service) recordLag(ctx context.Context, stream string, lag int64) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordIndexerLag(ctx, stream, lag)
	}
}
