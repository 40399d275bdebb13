// Package redis provides the Redis implementation of the ResultCache port.
//
// It holds hot fixture results so the slip evaluator and settlement paths
// avoid re-querying Postgres for results that were derived seconds ago, and
// it stores per-component heartbeats for the scheduler's liveness checks.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/ports/outbound"
)

// Compile-time check that ResultCache implements outbound.ResultCache
var _ outbound.ResultCache = (*ResultCache)(nil)

// Config holds Redis cache configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number
	DB int
	// KeyPrefix is prepended to all cache keys
	KeyPrefix string
	// DefaultTTL applies when SetResult is called with a zero TTL
	DefaultTTL time.Duration
}

// ConfigDefaults returns sensible defaults.
func ConfigDefaults() Config {
	return Config{
		Addr:       "localhost:6379",
		KeyPrefix:  "relayer",
		DefaultTTL: 48 * time.Hour,
	}
}

// ResultCache is the Redis implementation of the outbound.ResultCache port.
type ResultCache struct {
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
	logger     *slog.Logger
}

// NewResultCache creates a new Redis result cache.
func NewResultCache(cfg Config, logger *slog.Logger) (*ResultCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := ConfigDefaults()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaults.KeyPrefix
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = defaults.DefaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &ResultCache{
		client:     client,
		keyPrefix:  cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL,
		logger:     logger.With("component", "result_cache"),
	}, nil
}

func (c *ResultCache) resultKey(fixtureID string) string {
	return fmt.Sprintf("%s:result:%s", c.keyPrefix, fixtureID)
}

func (c *ResultCache) heartbeatKey() string {
	return fmt.Sprintf("%s:heartbeats", c.keyPrefix)
}

// SetResult caches a derived fixture result.
func (c *ResultCache) SetResult(ctx context.Context, result *entity.FixtureResult, ttl time.Duration) error {
	if result == nil || result.FixtureID == "" {
		return fmt.Errorf("result with fixture id is required")
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshalling result for fixture %s: %w", result.FixtureID, err)
	}
	if err := c.client.Set(ctx, c.resultKey(result.FixtureID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("caching result for fixture %s: %w", result.FixtureID, err)
	}
	return nil
}

// GetResult returns the cached result, or nil on a miss. A corrupt cache
// entry is treated as a miss, not an error.
func (c *ResultCache) GetResult(ctx context.Context, fixtureID string) (*entity.FixtureResult, error) {
	payload, err := c.client.Get(ctx, c.resultKey(fixtureID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cached result for fixture %s: %w", fixtureID, err)
	}
	var result entity.FixtureResult
	if err := json.Unmarshal(payload, &result); err != nil {
		c.logger.Warn("dropping corrupt cached result", "fixture_id", fixtureID, "error", err)
		return nil, nil
	}
	return &result, nil
}

// Heartbeat records that a component completed a run at the given time.
func (c *ResultCache) Heartbeat(ctx context.Context, component string, at time.Time) error {
	if component == "" {
		return fmt.Errorf("component name is required")
	}
	err := c.client.HSet(ctx, c.heartbeatKey(), component, at.UTC().Format(time.RFC3339Nano)).Err()
	if err != nil {
		return fmt.Errorf("recording heartbeat for %s: %w", component, err)
	}
	return nil
}

// Heartbeats returns the last recorded beat per component.
func (c *ResultCache) Heartbeats(ctx context.Context) (map[string]time.Time, error) {
	raw, err := c.client.HGetAll(ctx, c.heartbeatKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("reading heartbeats: %w", err)
	}
	beats := make(map[string]time.Time, len(raw))
	for component, stamp := range raw {
		at, err := time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			c.logger.Warn("dropping unparseable heartbeat", "heartbeat_component", component, "value", stamp)
			continue
		}
		beats[component] = at
	}
	return beats, nil
}

// Close releases the underlying connection.
func (c *ResultCache) Close() error {
	return c.client.Close()
}
