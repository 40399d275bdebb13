package outbound

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bitredict/relayer/internal/domain/entity"
)

// SubmissionRepository persists confirmed oracle submissions. The unique
// index on market_id is the off-chain half of the at-most-once guarantee.
type SubmissionRepository interface {
	// Insert saves the submission, returning false when a row for the
	// market id already exists.
	Insert(ctx context.Context, submission *entity.OracleSubmission) (inserted bool, err error)

	// Get returns the submission or nil when none exists.
	Get(ctx context.Context, marketID string) (*entity.OracleSubmission, error)
}

// CursorRepository tracks each indexer stream's last indexed block.
type CursorRepository interface {
	// Get returns the cursor; ok is false when the stream has never run.
	Get(ctx context.Context, stream string) (lastIndexed uint64, ok bool, err error)

	// Set advances the cursor inside the indexing transaction, so the
	// cursor and the handled logs commit or roll back together.
	Set(ctx context.Context, tx pgx.Tx, stream string, lastIndexed uint64) error
}

// EventRepository persists raw decoded logs for idempotency and audit.
type EventRepository interface {
	// SaveEvent inserts the event, returning false when the
	// (block, tx hash, log index) key was already recorded.
	SaveEvent(ctx context.Context, tx pgx.Tx, event *entity.ChainEvent) (inserted bool, err error)
}

// AnomalyRepository records observability anomalies.
type AnomalyRepository interface {
	Record(ctx context.Context, anomaly *entity.Anomaly) error
	ListRecent(ctx context.Context, limit int) ([]*entity.Anomaly, error)
}

// CycleRepository persists Oddyssey cycles and the daily match selection.
type CycleRepository interface {
	// SaveDailyMatches stores the day's selected fixtures before the cycle
	// is opened on-chain.
	SaveDailyMatches(ctx context.Context, gameDate string, matches []entity.CycleMatch) error

	// GetDailyMatches returns the selection for a date, or nil.
	GetDailyMatches(ctx context.Context, gameDate string) ([]entity.CycleMatch, error)

	// InsertCycle creates the cycle row once startDailyCycle is mined.
	InsertCycle(ctx context.Context, cycle *entity.Cycle) error

	// GetCycle returns the cycle or nil.
	GetCycle(ctx context.Context, cycleID uint64) (*entity.Cycle, error)

	// GetActiveCycle returns the single Active cycle, or nil.
	GetActiveCycle(ctx context.Context) (*entity.Cycle, error)

	// HasCycleForDate reports whether a cycle was already opened for the
	// UTC date (YYYY-MM-DD).
	HasCycleForDate(ctx context.Context, gameDate string) (bool, error)

	// TransitionState moves the cycle between states, failing when the
	// edge is not legal or the current state does not match.
	TransitionState(ctx context.Context, cycleID uint64, from, to entity.CycleState) error

	// SetPreparedResults stores the formatted resolution payload and marks
	// the cycle ready for the resolution transaction.
	SetPreparedResults(ctx context.Context, cycleID uint64, prepared json.RawMessage) error

	// MarkResolved records the resolution transaction.
	MarkResolved(ctx context.Context, cycleID uint64, resolutionTx []byte, resolvedAt time.Time) error

	// ListEndedUnresolved returns cycles past end time awaiting resolution.
	ListEndedUnresolved(ctx context.Context) ([]*entity.Cycle, error)

	// ListAwaitingEvaluation returns resolved cycles that still have
	// unevaluated slips.
	ListAwaitingEvaluation(ctx context.Context) ([]*entity.Cycle, error)
}

// SlipRepository persists slips and the per-cycle leaderboard.
type SlipRepository interface {
	// InsertSlip inserts the slip, returning false on duplicate slip id.
	InsertSlip(ctx context.Context, tx pgx.Tx, slip *entity.Slip) (inserted bool, err error)

	// ListByCycle returns every slip for a cycle in placement order.
	ListByCycle(ctx context.Context, cycleID uint64) ([]*entity.Slip, error)

	// SaveEvaluations persists evaluation results and leaderboard ranks for
	// a cycle atomically, overwriting any prior evaluation.
	SaveEvaluations(ctx context.Context, cycleID uint64, slips []*entity.Slip) error

	// MarkPrizeClaimed flips the claim flag from a PrizeClaimed event.
	MarkPrizeClaimed(ctx context.Context, tx pgx.Tx, slipID uint64) error
}
