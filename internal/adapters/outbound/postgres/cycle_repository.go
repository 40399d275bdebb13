package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/ports/outbound"
)

// Compile-time check that CycleRepository implements outbound.CycleRepository
var _ outbound.CycleRepository = (*CycleRepository)(nil)

// CycleRepository persists Oddyssey cycles and the daily match selection.
type CycleRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewCycleRepository creates a new PostgreSQL cycle repository.
func NewCycleRepository(pool *pgxpool.Pool, logger *slog.Logger) (*CycleRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CycleRepository{pool: pool, logger: logger}, nil
}

const cycleColumns = `cycle_id, start_time, end_time, matches, state,
	tx_hash, resolution_tx, resolved_at, ready_for_resolution, prepared_results`

func scanCycle(row pgx.Row) (*entity.Cycle, error) {
	var (
		c       entity.Cycle
		matches []byte
		state   string
	)
	err := row.Scan(&c.CycleID, &c.StartTime, &c.EndTime, &matches, &state,
		&c.TxHash, &c.ResolutionTx, &c.ResolvedAt, &c.ReadyForResolution, &c.PreparedResults)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(matches, &c.Matches); err != nil {
		return nil, fmt.Errorf("cycle %d: parsing matches: %w", c.CycleID, err)
	}
	c.State = entity.CycleState(state)
	return &c, nil
}

func scanCycles(rows pgx.Rows) ([]*entity.Cycle, error) {
	defer rows.Close()
	var cycles []*entity.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// SaveDailyMatches stores the day's selection before the cycle is opened
// on-chain, replacing any earlier selection for the date.
func (r *CycleRepository) SaveDailyMatches(ctx context.Context, gameDate string, matches []entity.CycleMatch) error {
	if len(matches) != entity.CycleMatchCount {
		return fmt.Errorf("daily selection has %d matches, want %d", len(matches), entity.CycleMatchCount)
	}
	payload, err := json.Marshal(matches)
	if err != nil {
		return fmt.Errorf("marshalling daily matches: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO daily_game_matches (game_date, matches, selected_at)
		 VALUES ($1::date, $2, now())
		 ON CONFLICT (game_date) DO UPDATE SET
			matches = EXCLUDED.matches,
			selected_at = now()`,
		gameDate, payload)
	if err != nil {
		return fmt.Errorf("failed to save daily matches for %s: %w", gameDate, err)
	}
	return nil
}

// GetDailyMatches returns the selection for a date, or nil.
func (r *CycleRepository) GetDailyMatches(ctx context.Context, gameDate string) ([]entity.CycleMatch, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx,
		`SELECT matches FROM daily_game_matches WHERE game_date = $1::date`, gameDate).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily matches for %s: %w", gameDate, err)
	}
	var matches []entity.CycleMatch
	if err := json.Unmarshal(payload, &matches); err != nil {
		return nil, fmt.Errorf("parsing daily matches for %s: %w", gameDate, err)
	}
	return matches, nil
}

// InsertCycle creates the cycle row once startDailyCycle is mined. The game
// date is derived from the cycle's UTC start time.
func (r *CycleRepository) InsertCycle(ctx context.Context, c *entity.Cycle) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid cycle: %w", err)
	}
	matches, err := json.Marshal(c.Matches)
	if err != nil {
		return fmt.Errorf("marshalling cycle matches: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO oddyssey_cycles (cycle_id, game_date, start_time, end_time, matches, state, tx_hash, ready_for_resolution)
		 VALUES ($1, ($2::timestamptz AT TIME ZONE 'UTC')::date, $2, $3, $4, $5, $6, FALSE)`,
		c.CycleID, c.StartTime, c.EndTime, matches, string(c.State), c.TxHash)
	if err != nil {
		return fmt.Errorf("failed to insert cycle %d: %w", c.CycleID, err)
	}
	return nil
}

// GetCycle returns the cycle or nil.
func (r *CycleRepository) GetCycle(ctx context.Context, cycleID uint64) (*entity.Cycle, error) {
	c, err := scanCycle(r.pool.QueryRow(ctx,
		`SELECT `+cycleColumns+` FROM oddyssey_cycles WHERE cycle_id = $1`, cycleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cycle %d: %w", cycleID, err)
	}
	return c, nil
}

// GetActiveCycle returns the single Active cycle, or nil.
func (r *CycleRepository) GetActiveCycle(ctx context.Context) (*entity.Cycle, error) {
	c, err := scanCycle(r.pool.QueryRow(ctx,
		`SELECT `+cycleColumns+` FROM oddyssey_cycles WHERE state = $1
		 ORDER BY cycle_id DESC LIMIT 1`, string(entity.CycleActive)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active cycle: %w", err)
	}
	return c, nil
}

// HasCycleForDate reports whether a cycle was already opened for the UTC
// date (YYYY-MM-DD).
func (r *CycleRepository) HasCycleForDate(ctx context.Context, gameDate string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM oddyssey_cycles WHERE game_date = $1::date)`, gameDate).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check cycle for date %s: %w", gameDate, err)
	}
	return exists, nil
}

// TransitionState moves the cycle between states. The compare-and-swap on
// the current state makes concurrent drivers safe.
func (r *CycleRepository) TransitionState(ctx context.Context, cycleID uint64, from, to entity.CycleState) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("illegal cycle transition %s -> %s", from, to)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE oddyssey_cycles SET state = $3 WHERE cycle_id = $1 AND state = $2`,
		cycleID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("failed to transition cycle %d: %w", cycleID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cycle %d is not in state %s", cycleID, from)
	}
	return nil
}

// SetPreparedResults stores the formatted resolution payload and marks the
// cycle ready for the resolution transaction.
func (r *CycleRepository) SetPreparedResults(ctx context.Context, cycleID uint64, prepared json.RawMessage) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE oddyssey_cycles SET prepared_results = $2, ready_for_resolution = TRUE
		 WHERE cycle_id = $1`,
		cycleID, []byte(prepared))
	if err != nil {
		return fmt.Errorf("failed to set prepared results for cycle %d: %w", cycleID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cycle %d not found", cycleID)
	}
	return nil
}

// MarkResolved records the resolution transaction.
func (r *CycleRepository) MarkResolved(ctx context.Context, cycleID uint64, resolutionTx []byte, resolvedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE oddyssey_cycles SET state = $2, resolution_tx = $3, resolved_at = $4
		 WHERE cycle_id = $1`,
		cycleID, string(entity.CycleResolved), resolutionTx, resolvedAt)
	if err != nil {
		return fmt.Errorf("failed to mark cycle %d resolved: %w", cycleID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cycle %d not found", cycleID)
	}
	return nil
}

// ListEndedUnresolved returns cycles past their end time awaiting
// resolution.
func (r *CycleRepository) ListEndedUnresolved(ctx context.Context) ([]*entity.Cycle, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+cycleColumns+` FROM oddyssey_cycles
		 WHERE state = $1 OR (state = $2 AND end_time <= now())
		 ORDER BY cycle_id`,
		string(entity.CycleEnded), string(entity.CycleActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list ended cycles: %w", err)
	}
	cycles, err := scanCycles(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan ended cycles: %w", err)
	}
	return cycles, nil
}

// ListAwaitingEvaluation returns resolved cycles that still have
// unevaluated slips.
func (r *CycleRepository) ListAwaitingEvaluation(ctx context.Context) ([]*entity.Cycle, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+cycleColumns+` FROM oddyssey_cycles c
		 WHERE c.state = $1
		   AND EXISTS (SELECT 1 FROM oddyssey_slips s
			WHERE s.cycle_id = c.cycle_id AND NOT s.is_evaluated)
		 ORDER BY c.cycle_id`,
		string(entity.CycleResolved))
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles awaiting evaluation: %w", err)
	}
	cycles, err := scanCycles(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan cycles awaiting evaluation: %w", err)
	}
	return cycles, nil
}

// Compile-time check that SlipRepository implements outbound.SlipRepository
var _ outbound.SlipRepository = (*SlipRepository)(nil)

// SlipRepository persists slips and the per-cycle leaderboard.
type SlipRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewSlipRepository creates a new PostgreSQL slip repository.
func NewSlipRepository(pool *pgxpool.Pool, logger *slog.Logger) (*SlipRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SlipRepository{pool: pool, logger: logger}, nil
}

// InsertSlip inserts the slip, returning false on duplicate slip id.
func (r *SlipRepository) InsertSlip(ctx context.Context, tx pgx.Tx, s *entity.Slip) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, fmt.Errorf("refusing to persist invalid slip: %w", err)
	}
	predictions, err := s.MarshalPredictions()
	if err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx,
		`INSERT INTO oddyssey_slips (slip_id, cycle_id, player, placed_at, predictions,
			is_evaluated, correct_count, final_score, rank, prize_claimed)
		 VALUES ($1, $2, $3, $4, $5, FALSE, 0, 0, 0, FALSE)
		 ON CONFLICT (slip_id) DO NOTHING`,
		s.SlipID, s.CycleID, s.Player.Bytes(), s.PlacedAt, predictions)
	if err != nil {
		return false, fmt.Errorf("failed to insert slip %d: %w", s.SlipID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByCycle returns every slip for a cycle in placement order.
func (r *SlipRepository) ListByCycle(ctx context.Context, cycleID uint64) ([]*entity.Slip, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT slip_id, cycle_id, player, placed_at, predictions,
			is_evaluated, correct_count, final_score::text, rank, prize_claimed
		 FROM oddyssey_slips WHERE cycle_id = $1
		 ORDER BY placed_at, slip_id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list slips for cycle %d: %w", cycleID, err)
	}
	defer rows.Close()

	var slips []*entity.Slip
	for rows.Next() {
		var (
			s            entity.Slip
			player       []byte
			predictions  []byte
			correctCount int16
			finalScore   string
		)
		if err := rows.Scan(&s.SlipID, &s.CycleID, &player, &s.PlacedAt, &predictions,
			&s.IsEvaluated, &correctCount, &finalScore, &s.Rank, &s.PrizeClaimed); err != nil {
			return nil, fmt.Errorf("failed to scan slip: %w", err)
		}
		s.Player = common.BytesToAddress(player)
		s.CorrectCount = uint8(correctCount)
		s.Predictions, err = entity.UnmarshalPredictions(predictions)
		if err != nil {
			return nil, fmt.Errorf("slip %d: %w", s.SlipID, err)
		}
		s.FinalScore, err = parseNumeric(finalScore)
		if err != nil {
			return nil, fmt.Errorf("slip %d: %w", s.SlipID, err)
		}
		slips = append(slips, &s)
	}
	return slips, rows.Err()
}

// SaveEvaluations persists evaluation results and leaderboard ranks for a
// cycle in one transaction, overwriting any prior evaluation.
func (r *SlipRepository) SaveEvaluations(ctx context.Context, cycleID uint64, slips []*entity.Slip) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin evaluation transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, s := range slips {
		batch.Queue(
			`UPDATE oddyssey_slips SET is_evaluated = TRUE, correct_count = $3,
				final_score = $4::numeric, rank = $5
			 WHERE slip_id = $1 AND cycle_id = $2`,
			s.SlipID, cycleID, int16(s.CorrectCount), numericString(s.FinalScore), s.Rank)
	}
	results := tx.SendBatch(ctx, batch)
	for range slips {
		if _, err := results.Exec(); err != nil {
			results.Close() //nolint:errcheck
			return fmt.Errorf("failed to save evaluation for cycle %d: %w", cycleID, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close evaluation batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit evaluations for cycle %d: %w", cycleID, err)
	}
	return nil
}

// MarkPrizeClaimed flips the claim flag from a PrizeClaimed event.
func (r *SlipRepository) MarkPrizeClaimed(ctx context.Context, tx pgx.Tx, slipID uint64) error {
	_, err := tx.Exec(ctx,
		`UPDATE oddyssey_slips SET prize_claimed = TRUE WHERE slip_id = $1`, slipID)
	if err != nil {
		return fmt.Errorf("failed to mark slip %d claimed: %w", slipID, err)
	}
	return nil
}
