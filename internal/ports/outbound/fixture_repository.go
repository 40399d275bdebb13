package outbound

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bitredict/relayer/internal/domain/entity"
)

// FixtureRepository persists the external fixture catalogue and results.
type FixtureRepository interface {
	// UpsertFixture inserts or refreshes a fixture's catalogue data
	// (teams, kick-off, odds). Scores are untouched.
	UpsertFixture(ctx context.Context, fixture *entity.Fixture) error

	// UpdateScores persists status, scores and finished-at for a fixture.
	UpdateScores(ctx context.Context, fixture *entity.Fixture) error

	// GetFixture returns the fixture or nil when unknown.
	GetFixture(ctx context.Context, fixtureID string) (*entity.Fixture, error)

	// ListByIDs returns the fixtures for the given ids, omitting unknowns.
	ListByIDs(ctx context.Context, fixtureIDs []string) ([]*entity.Fixture, error)

	// ListTracked returns non-terminal fixtures with kick-off before the
	// horizon, i.e. the set whose results are worth polling.
	ListTracked(ctx context.Context, horizon time.Time) ([]*entity.Fixture, error)

	// ListEligibleForCycle returns fixtures kicking off inside the window
	// with complete 1X2 and OU2.5 odds that are not assigned to an
	// unresolved cycle.
	ListEligibleForCycle(ctx context.Context, windowStart, windowEnd time.Time) ([]*entity.Fixture, error)
}

// MarketSubmittable is one (pool, market, outcome) triple ready for oracle
// submission: a guided unsettled pool whose fixture has finished and whose
// market id has no confirmed submission yet.
type MarketSubmittable struct {
	PoolID    uint64
	MarketID  string
	FixtureID string
	Outcome   string
}

// MarketRepository persists the pool-to-fixture prediction-market mapping.
type MarketRepository interface {
	// UpsertMarket inserts or replaces the market row.
	UpsertMarket(ctx context.Context, tx pgx.Tx, m *entity.PredictionMarket) error

	// ResolveMarket records the externally determined outcome.
	ResolveMarket(ctx context.Context, poolID uint64, marketID, outcome string) error

	// ListByFixture returns markets referencing a fixture.
	ListByFixture(ctx context.Context, fixtureID string) ([]*entity.PredictionMarket, error)

	// ListSubmittable computes the oracle submitter's input set.
	ListSubmittable(ctx context.Context) ([]MarketSubmittable, error)
}
