package outbound

import (
	"context"
	"time"

	"github.com/bitredict/relayer/internal/domain/entity"
)

// ResultCache holds hot fixture results and component heartbeats. It is an
// optimisation layer: a cache miss always falls through to the database.
type ResultCache interface {
	// SetResult caches a derived fixture result.
	SetResult(ctx context.Context, result *entity.FixtureResult, ttl time.Duration) error

	// GetResult returns the cached result, or nil on a miss.
	GetResult(ctx context.Context, fixtureID string) (*entity.FixtureResult, error)

	// Heartbeat records that a component completed a run at the given time.
	Heartbeat(ctx context.Context, component string, at time.Time) error

	// Heartbeats returns the last recorded beat per component.
	Heartbeats(ctx context.Context) (map[string]time.Time, error)

	// Close releases the underlying connection.
	Close() error
}
