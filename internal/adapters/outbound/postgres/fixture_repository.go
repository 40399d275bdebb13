package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/ports/outbound"
)

// Compile-time check that FixtureRepository implements outbound.FixtureRepository
var _ outbound.FixtureRepository = (*FixtureRepository)(nil)

// FixtureRepository persists the external fixture catalogue and results.
type FixtureRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewFixtureRepository creates a new PostgreSQL fixture repository.
func NewFixtureRepository(pool *pgxpool.Pool, logger *slog.Logger) (*FixtureRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FixtureRepository{pool: pool, logger: logger}, nil
}

const fixtureColumns = `fixture_id, league, home_team, away_team, match_date, status,
	odds_home, odds_draw, odds_away, odds_over, odds_under,
	home_score, away_score, ht_home_score, ht_away_score, finished_at`

func scanFixture(row pgx.Row) (*entity.Fixture, error) {
	var (
		f      entity.Fixture
		status string
		odds   [5]int32
	)
	err := row.Scan(
		&f.FixtureID, &f.League, &f.HomeTeam, &f.AwayTeam, &f.MatchDate, &status,
		&odds[0], &odds[1], &odds[2], &odds[3], &odds[4],
		&f.HomeScore, &f.AwayScore, &f.HTHomeScore, &f.HTAwayScore, &f.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Status = entity.FixtureStatus(status)
	f.Odds = entity.FixtureOdds{
		Home:    uint32(odds[0]),
		Draw:    uint32(odds[1]),
		Away:    uint32(odds[2]),
		Over25:  uint32(odds[3]),
		Under25: uint32(odds[4]),
	}
	return &f, nil
}

func scanFixtures(rows pgx.Rows) ([]*entity.Fixture, error) {
	defer rows.Close()
	var fixtures []*entity.Fixture
	for rows.Next() {
		f, err := scanFixture(rows)
		if err != nil {
			return nil, err
		}
		fixtures = append(fixtures, f)
	}
	return fixtures, rows.Err()
}

// UpsertFixture inserts or refreshes a fixture's catalogue data. Scores and
// status are owned by UpdateScores and left untouched on conflict, except
// that a scheduled fixture may move its kick-off.
func (r *FixtureRepository) UpsertFixture(ctx context.Context, f *entity.Fixture) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid fixture: %w", err)
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO fixtures (fixture_id, league, home_team, away_team, match_date, status,
			odds_home, odds_draw, odds_away, odds_over, odds_under, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		 ON CONFLICT (fixture_id) DO UPDATE SET
			league = EXCLUDED.league,
			home_team = EXCLUDED.home_team,
			away_team = EXCLUDED.away_team,
			match_date = EXCLUDED.match_date,
			odds_home = EXCLUDED.odds_home,
			odds_draw = EXCLUDED.odds_draw,
			odds_away = EXCLUDED.odds_away,
			odds_over = EXCLUDED.odds_over,
			odds_under = EXCLUDED.odds_under,
			updated_at = now()`,
		f.FixtureID, f.League, f.HomeTeam, f.AwayTeam, f.MatchDate, string(f.Status),
		int32(f.Odds.Home), int32(f.Odds.Draw), int32(f.Odds.Away),
		int32(f.Odds.Over25), int32(f.Odds.Under25))
	if err != nil {
		return fmt.Errorf("failed to upsert fixture %s: %w", f.FixtureID, err)
	}
	return nil
}

// UpdateScores persists status, scores and finished-at for a fixture.
func (r *FixtureRepository) UpdateScores(ctx context.Context, f *entity.Fixture) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid fixture: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE fixtures SET status = $2, home_score = $3, away_score = $4,
			ht_home_score = $5, ht_away_score = $6, finished_at = $7, updated_at = now()
		 WHERE fixture_id = $1`,
		f.FixtureID, string(f.Status),
		f.HomeScore, f.AwayScore, f.HTHomeScore, f.HTAwayScore, f.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to update scores for fixture %s: %w", f.FixtureID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fixture %s not found for score update", f.FixtureID)
	}
	return nil
}

// GetFixture returns the fixture or nil when unknown.
func (r *FixtureRepository) GetFixture(ctx context.Context, fixtureID string) (*entity.Fixture, error) {
	f, err := scanFixture(r.pool.QueryRow(ctx,
		`SELECT `+fixtureColumns+` FROM fixtures WHERE fixture_id = $1`, fixtureID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fixture %s: %w", fixtureID, err)
	}
	return f, nil
}

// ListByIDs returns the fixtures for the given ids, omitting unknowns.
func (r *FixtureRepository) ListByIDs(ctx context.Context, fixtureIDs []string) ([]*entity.Fixture, error) {
	if len(fixtureIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+fixtureColumns+` FROM fixtures WHERE fixture_id = ANY($1)`, fixtureIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list fixtures: %w", err)
	}
	fixtures, err := scanFixtures(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan fixtures: %w", err)
	}
	return fixtures, nil
}

// ListTracked returns non-terminal fixtures with kick-off before the
// horizon.
func (r *FixtureRepository) ListTracked(ctx context.Context, horizon time.Time) ([]*entity.Fixture, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+fixtureColumns+` FROM fixtures
		 WHERE status NOT IN ($1, $2) AND match_date <= $3
		 ORDER BY match_date`,
		string(entity.FixtureFinished), string(entity.FixtureCancelled), horizon)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked fixtures: %w", err)
	}
	fixtures, err := scanFixtures(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan tracked fixtures: %w", err)
	}
	return fixtures, nil
}

// ListEligibleForCycle returns fixtures kicking off inside the window with
// complete 1X2 and OU2.5 odds that are not assigned to an unresolved cycle.
func (r *FixtureRepository) ListEligibleForCycle(ctx context.Context, windowStart, windowEnd time.Time) ([]*entity.Fixture, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+fixtureColumns+` FROM fixtures f
		 WHERE f.status = $1
		   AND f.match_date >= $2 AND f.match_date < $3
		   AND f.odds_home > 0 AND f.odds_draw > 0 AND f.odds_away > 0
		   AND f.odds_over > 0 AND f.odds_under > 0
		   AND NOT EXISTS (
			SELECT 1 FROM oddyssey_cycles c
			WHERE c.state <> $4
			  AND c.matches @> jsonb_build_array(jsonb_build_object('fixtureId', f.fixture_id))
		   )
		 ORDER BY f.match_date, f.fixture_id`,
		string(entity.FixtureScheduled), windowStart, windowEnd, string(entity.CycleResolved))
	if err != nil {
		return nil, fmt.Errorf("failed to list cycle-eligible fixtures: %w", err)
	}
	fixtures, err := scanFixtures(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan cycle-eligible fixtures: %w", err)
	}
	return fixtures, nil
}

// Compile-time check that MarketRepository implements outbound.MarketRepository
var _ outbound.MarketRepository = (*MarketRepository)(nil)

// MarketRepository persists the pool-to-fixture prediction-market mapping.
type MarketRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewMarketRepository creates a new PostgreSQL market repository.
func NewMarketRepository(pool *pgxpool.Pool, logger *slog.Logger) (*MarketRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketRepository{pool: pool, logger: logger}, nil
}

// UpsertMarket inserts or replaces the market row inside the indexing
// transaction that mirrors the pool.
func (r *MarketRepository) UpsertMarket(ctx context.Context, tx pgx.Tx, m *entity.PredictionMarket) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO prediction_markets (pool_id, market_id, fixture_id, outcome_type, predicted_outcome, result_outcome, state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (pool_id) DO UPDATE SET
			market_id = EXCLUDED.market_id,
			fixture_id = EXCLUDED.fixture_id,
			outcome_type = EXCLUDED.outcome_type,
			predicted_outcome = EXCLUDED.predicted_outcome`,
		m.PoolID, m.MarketID, m.FixtureID, string(m.OutcomeType),
		m.PredictedOutcome, m.ResultOutcome, string(m.State))
	if err != nil {
		return fmt.Errorf("failed to upsert market for pool %d: %w", m.PoolID, err)
	}
	return nil
}

// ResolveMarket records the externally determined outcome.
func (r *MarketRepository) ResolveMarket(ctx context.Context, poolID uint64, marketID, outcome string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE prediction_markets SET result_outcome = $3, state = $4
		 WHERE pool_id = $1 AND market_id = $2`,
		poolID, marketID, outcome, string(entity.MarketResolved))
	if err != nil {
		return fmt.Errorf("failed to resolve market %s: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("market %s for pool %d not found", marketID, poolID)
	}
	return nil
}

// ListByFixture returns markets referencing a fixture.
func (r *MarketRepository) ListByFixture(ctx context.Context, fixtureID string) ([]*entity.PredictionMarket, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT pool_id, market_id, fixture_id, outcome_type, predicted_outcome, result_outcome, state
		 FROM prediction_markets WHERE fixture_id = $1 ORDER BY pool_id`, fixtureID)
	if err != nil {
		return nil, fmt.Errorf("failed to list markets for fixture %s: %w", fixtureID, err)
	}
	defer rows.Close()

	var markets []*entity.PredictionMarket
	for rows.Next() {
		var (
			m           entity.PredictionMarket
			outcomeType string
			state       string
		)
		if err := rows.Scan(&m.PoolID, &m.MarketID, &m.FixtureID, &outcomeType,
			&m.PredictedOutcome, &m.ResultOutcome, &state); err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		m.OutcomeType = entity.MarketOutcomeType(outcomeType)
		m.State = entity.MarketState(state)
		markets = append(markets, &m)
	}
	return markets, rows.Err()
}

// ListSubmittable computes the oracle submitter's input set: guided open
// pools whose fixture has finished, whose market is resolved, and whose
// market id has no confirmed submission yet.
func (r *MarketRepository) ListSubmittable(ctx context.Context) ([]outbound.MarketSubmittable, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT m.pool_id, m.market_id, m.fixture_id, m.result_outcome
		 FROM prediction_markets m
		 JOIN pools p ON p.pool_id = m.pool_id
		 JOIN fixtures f ON f.fixture_id = m.fixture_id
		 WHERE p.oracle_type = $1
		   AND NOT p.settled AND NOT p.refunded
		   AND f.status = $2
		   AND m.state = $3
		   AND m.result_outcome IS NOT NULL
		   AND NOT EXISTS (SELECT 1 FROM oracle_submissions s WHERE s.market_id = m.market_id)
		 ORDER BY m.pool_id`,
		int16(entity.OracleGuided), string(entity.FixtureFinished), string(entity.MarketResolved))
	if err != nil {
		return nil, fmt.Errorf("failed to list submittable markets: %w", err)
	}
	defer rows.Close()

	var out []outbound.MarketSubmittable
	for rows.Next() {
		var (
			s       outbound.MarketSubmittable
			outcome *string
		)
		if err := rows.Scan(&s.PoolID, &s.MarketID, &s.FixtureID, &outcome); err != nil {
			return nil, fmt.Errorf("failed to scan submittable market: %w", err)
		}
		if outcome != nil {
			s.Outcome = *outcome
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
