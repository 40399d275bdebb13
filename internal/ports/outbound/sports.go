package outbound

import (
	"context"
	"time"

	"github.com/bitredict/relayer/internal/domain/entity"
)

// SportsProvider abstracts the external football-data API. Implementations
// self-throttle and follow pagination to exhaustion; callers see complete,
// normalised fixtures.
type SportsProvider interface {
	// Name returns the provider name (e.g. "sportmonks").
	Name() string

	// FixturesByDate lists fixtures kicking off in [from, to], including
	// 1X2 and OU2.5 odds where the provider quotes them.
	FixturesByDate(ctx context.Context, from, to time.Time) ([]*entity.Fixture, error)

	// FixtureResults fetches current status and scores for the fixtures.
	// Non-terminal fixtures come back with their live status; the caller
	// decides what is worth persisting.
	FixtureResults(ctx context.Context, fixtureIDs []string) ([]*entity.Fixture, error)
}
