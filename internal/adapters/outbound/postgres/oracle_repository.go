package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/ports/outbound"
)

// Compile-time check that SubmissionRepository implements outbound.SubmissionRepository
var _ outbound.SubmissionRepository = (*SubmissionRepository)(nil)

// SubmissionRepository persists confirmed oracle submissions.
type SubmissionRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewSubmissionRepository creates a new PostgreSQL submission repository.
func NewSubmissionRepository(pool *pgxpool.Pool, logger *slog.Logger) (*SubmissionRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmissionRepository{pool: pool, logger: logger}, nil
}

// Insert saves the submission, returning false when a row for the market id
// already exists. The unique key on market_id is the off-chain half of the
// at-most-once guarantee.
func (r *SubmissionRepository) Insert(ctx context.Context, s *entity.OracleSubmission) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO oracle_submissions (market_id, result, tx_hash, block_number, submitted_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (market_id) DO NOTHING`,
		s.MarketID, s.Result, s.TxHash, s.BlockNumber, s.SubmittedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert submission for market %s: %w", s.MarketID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get returns the submission or nil when none exists.
func (r *SubmissionRepository) Get(ctx context.Context, marketID string) (*entity.OracleSubmission, error) {
	var s entity.OracleSubmission
	err := r.pool.QueryRow(ctx,
		`SELECT market_id, result, tx_hash, block_number, submitted_at
		 FROM oracle_submissions WHERE market_id = $1`, marketID).
		Scan(&s.MarketID, &s.Result, &s.TxHash, &s.BlockNumber, &s.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission for market %s: %w", marketID, err)
	}
	return &s, nil
}

// Compile-time check that CursorRepository implements outbound.CursorRepository
var _ outbound.CursorRepository = (*CursorRepository)(nil)

// CursorRepository tracks each indexer stream's last indexed block.
type CursorRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewCursorRepository creates a new PostgreSQL cursor repository.
func NewCursorRepository(pool *pgxpool.Pool, logger *slog.Logger) (*CursorRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CursorRepository{pool: pool, logger: logger}, nil
}

// Get returns the cursor; ok is false when the stream has never run.
func (r *CursorRepository) Get(ctx context.Context, stream string) (uint64, bool, error) {
	var last int64
	err := r.pool.QueryRow(ctx,
		`SELECT last_indexed_block FROM indexer_cursors WHERE stream = $1`, stream).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get cursor for stream %s: %w", stream, err)
	}
	return uint64(last), true, nil
}

// Set advances the cursor inside the indexing transaction.
func (r *CursorRepository) Set(ctx context.Context, tx pgx.Tx, stream string, lastIndexed uint64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO indexer_cursors (stream, last_indexed_block, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (stream) DO UPDATE SET
			last_indexed_block = EXCLUDED.last_indexed_block,
			updated_at = now()`,
		stream, int64(lastIndexed))
	if err != nil {
		return fmt.Errorf("failed to set cursor for stream %s: %w", stream, err)
	}
	return nil
}

// Compile-time check that EventRepository implements outbound.EventRepository
var _ outbound.EventRepository = (*EventRepository)(nil)

// EventRepository persists raw decoded logs for idempotency and audit.
type EventRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewEventRepository creates a new PostgreSQL event repository.
func NewEventRepository(pool *pgxpool.Pool, logger *slog.Logger) (*EventRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventRepository{pool: pool, logger: logger}, nil
}

// SaveEvent inserts the event, returning false when the (block, tx hash,
// log index) key was already recorded. Duplicate logs from replayed windows
// are silently ignored.
func (r *EventRepository) SaveEvent(ctx context.Context, tx pgx.Tx, e *entity.ChainEvent) (bool, error) {
	tag, err := tx.Exec(ctx,
		`INSERT INTO chain_events (stream, block_number, tx_hash, log_index, address, event_name, event_data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (block_number, tx_hash, log_index) DO NOTHING`,
		e.Stream, int64(e.BlockNumber), e.TxHash, int64(e.LogIndex),
		e.Address, e.EventName, e.EventData)
	if err != nil {
		return false, fmt.Errorf("failed to save chain event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Compile-time check that AnomalyRepository implements outbound.AnomalyRepository
var _ outbound.AnomalyRepository = (*AnomalyRepository)(nil)

// AnomalyRepository records operator-visible anomalies.
type AnomalyRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewAnomalyRepository creates a new PostgreSQL anomaly repository.
func NewAnomalyRepository(pool *pgxpool.Pool, logger *slog.Logger) (*AnomalyRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnomalyRepository{pool: pool, logger: logger}, nil
}

// Record persists an anomaly.
func (r *AnomalyRepository) Record(ctx context.Context, a *entity.Anomaly) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO anomalies (kind, detail, pool_id, observed_at)
		 VALUES ($1, $2, $3, $4)`,
		string(a.Kind), a.Detail, a.PoolID, a.ObservedAt)
	if err != nil {
		return fmt.Errorf("failed to record %s anomaly: %w", a.Kind, err)
	}
	return nil
}

// ListRecent returns the newest anomalies, most recent first.
func (r *AnomalyRepository) ListRecent(ctx context.Context, limit int) ([]*entity.Anomaly, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, kind, detail, pool_id, observed_at
		 FROM anomalies ORDER BY observed_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []*entity.Anomaly
	for rows.Next() {
		var (
			a    entity.Anomaly
			kind string
		)
		if err := rows.Scan(&a.ID, &kind, &a.Detail, &a.PoolID, &a.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		a.Kind = entity.AnomalyKind(kind)
		anomalies = append(anomalies, &a)
	}
	return anomalies, rows.Err()
}
