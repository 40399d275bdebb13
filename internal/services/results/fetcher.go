// Package results fetches the external fixture catalogue and final scores,
// derives outcomes, and resolves prediction markets against them.
package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/ports/outbound"
)

// FetcherConfig holds configuration for the results fetcher.
type FetcherConfig struct {
	// CatalogueHorizon is how far ahead FetchFixtures looks for upcoming
	// fixtures. Defaults to 7 days.
	CatalogueHorizon time.Duration

	// ResultTTL is the cache TTL for derived results. Zero uses the
	// cache's default.
	ResultTTL time.Duration

	// Logger is the structured logger for the service.
	Logger *slog.Logger
}

// Deps are the fetcher's outbound dependencies. Cache is optional.
type Deps struct {
	Provider outbound.SportsProvider
	Fixtures outbound.FixtureRepository
	Markets  outbound.MarketRepository
	Cache    outbound.ResultCache
}

// Fetcher polls the sports provider and persists fixtures and results.
type Fetcher struct {
	config FetcherConfig
	deps   Deps
	logger *slog.Logger
}

// NewFetcher creates the results fetcher.
func NewFetcher(config FetcherConfig, deps Deps) (*Fetcher, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("sports provider cannot be nil")
	}
	if deps.Fixtures == nil {
		return nil, fmt.Errorf("fixture repository cannot be nil")
	}
	if deps.Markets == nil {
		return nil, fmt.Errorf("market repository cannot be nil")
	}
	if config.CatalogueHorizon <= 0 {
		config.CatalogueHorizon = 7 * 24 * time.Hour
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		config: config,
		deps:   deps,
		logger: logger.With("component", "results-fetcher", "provider", deps.Provider.Name()),
	}, nil
}

// FetchFixtures refreshes the upcoming fixture catalogue, including the
// 1X2 and OU2.5 odds the Oddyssey selection needs.
func (f *Fetcher) FetchFixtures(ctx context.Context) error {
	now := time.Now().UTC()
	fixtures, err := f.deps.Provider.FixturesByDate(ctx, now, now.Add(f.config.CatalogueHorizon))
	if err != nil {
		return fmt.Errorf("listing fixtures: %w", err)
	}

	stored := 0
	var errs []error
	for _, fixture := range fixtures {
		if err := f.deps.Fixtures.UpsertFixture(ctx, fixture); err != nil {
			errs = append(errs, fmt.Errorf("fixture %s: %w", fixture.FixtureID, err))
			continue
		}
		stored++
	}

	f.logger.Info("fixture catalogue refreshed", "fetched", len(fixtures), "stored", stored)
	return errors.Join(errs...)
}

// FetchResults polls scores for tracked fixtures. Only terminal states are
// persisted; a live score is never written to the database.
func (f *Fetcher) FetchResults(ctx context.Context) error {
	tracked, err := f.deps.Fixtures.ListTracked(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("listing tracked fixtures: %w", err)
	}
	if len(tracked) == 0 {
		return nil
	}

	ids := make([]string, 0, len(tracked))
	for _, fixture := range tracked {
		ids = append(ids, fixture.FixtureID)
	}

	updates, err := f.deps.Provider.FixtureResults(ctx, ids)
	if err != nil {
		return fmt.Errorf("fetching results: %w", err)
	}

	finished := 0
	var errs []error
	for _, fixture := range updates {
		if !fixture.Status.IsTerminal() {
			continue
		}
		if err := f.applyResult(ctx, fixture); err != nil {
			errs = append(errs, fmt.Errorf("fixture %s: %w", fixture.FixtureID, err))
			continue
		}
		if fixture.Status == entity.FixtureFinished {
			finished++
		}
	}

	f.logger.Info("results polled",
		"tracked", len(tracked), "updated", len(updates), "finished", finished)
	return errors.Join(errs...)
}

// applyResult persists a terminal fixture, derives its outcomes and
// resolves every market that references it.
func (f *Fetcher) applyResult(ctx context.Context, fixture *entity.Fixture) error {
	if err := f.deps.Fixtures.UpdateScores(ctx, fixture); err != nil {
		return fmt.Errorf("updating scores: %w", err)
	}
	if fixture.Status != entity.FixtureFinished {
		return nil
	}

	result, err := fixture.DeriveResult()
	if err != nil {
		return fmt.Errorf("deriving result: %w", err)
	}
	f.cacheResult(ctx, result)

	markets, err := f.deps.Markets.ListByFixture(ctx, fixture.FixtureID)
	if err != nil {
		return fmt.Errorf("listing markets: %w", err)
	}
	for _, market := range markets {
		outcome, err := market.OutcomeFor(result)
		if err != nil {
			return fmt.Errorf("market %s: %w", market.MarketID, err)
		}
		if err := f.deps.Markets.ResolveMarket(ctx, market.PoolID, market.MarketID, outcome); err != nil {
			return fmt.Errorf("resolving market %s: %w", market.MarketID, err)
		}
		f.logger.Info("market resolved",
			"poolId", market.PoolID, "marketId", market.MarketID, "outcome", outcome)
	}
	return nil
}

// cacheResult is best-effort: the database row is canonical.
func (f *Fetcher) cacheResult(ctx context.Context, result *entity.FixtureResult) {
	if f.deps.Cache == nil {
		return
	}
	if err := f.deps.Cache.SetResult(ctx, result, f.config.ResultTTL); err != nil {
		f.logger.Warn("caching result failed", "fixtureId", result.FixtureID, "error", err)
	}
}
