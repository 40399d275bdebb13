// Package sportsapi implements the SportsProvider port against the
// football-data REST API, with rate limiting, retries for transient
// failures, and pagination followed to exhaustion.
package sportsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/pkg/retry"
	"github.com/bitredict/relayer/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.SportsProvider.
var _ outbound.SportsProvider = (*Client)(nil)

// ClientConfig holds configuration for the sports-data client.
type ClientConfig struct {
	// APIToken authenticates against the provider.
	APIToken string

	// BaseURL is the API base URL.
	BaseURL string

	// Timeout is the maximum time to wait for a single HTTP request.
	Timeout time.Duration

	// MinRequestInterval spaces successive requests, including pagination.
	MinRequestInterval time.Duration

	// Retry controls backoff for transient failures.
	Retry retry.Policy

	// Logger is the structured logger for the client.
	Logger *slog.Logger

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		BaseURL:            "https://api.sportmonks.com/v3/football",
		Timeout:            30 * time.Second,
		MinRequestInterval: 250 * time.Millisecond,
		Retry:              retry.DefaultPolicy(),
	}
}

// Client fetches fixtures and results from the football-data API.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
}

// NewClient creates a new sports-data client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.APIToken == "" {
		return nil, errors.New("APIToken is required")
	}
	if config.Logger == nil {
		return nil, errors.New("logger is required")
	}

	defaults := ClientConfigDefaults()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MinRequestInterval == 0 {
		config.MinRequestInterval = defaults.MinRequestInterval
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = defaults.Retry
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     config.Logger.With("component", "sports_client"),
		limiter:    rate.NewLimiter(rate.Every(config.MinRequestInterval), 1),
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "sportmonks"
}

// FixturesByDate lists fixtures kicking off in [from, to], following
// pagination until the provider reports no more pages.
func (c *Client) FixturesByDate(ctx context.Context, from, to time.Time) ([]*entity.Fixture, error) {
	endpoint := fmt.Sprintf("%s/fixtures/between/%s/%s",
		c.config.BaseURL, from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02"))

	var fixtures []*entity.Fixture
	for page := 1; ; page++ {
		params := url.Values{
			"page":    {strconv.Itoa(page)},
			"include": {"odds;scores"},
		}
		var resp fixturesResponse
		if err := c.doRequest(ctx, endpoint, params, &resp); err != nil {
			return nil, fmt.Errorf("fetching fixtures page %d: %w", page, err)
		}
		for i := range resp.Data {
			f, err := normalizeFixture(&resp.Data[i])
			if err != nil {
				c.logger.Warn("skipping malformed fixture", "fixture_id", resp.Data[i].ID, "error", err)
				continue
			}
			fixtures = append(fixtures, f)
		}
		if !resp.Pagination.HasMore {
			break
		}
	}
	return fixtures, nil
}

// fixtureBatchSize bounds how many ids go into one multi-fixture request.
const fixtureBatchSize = 50

// FixtureResults fetches current status and scores for the fixtures.
func (c *Client) FixtureResults(ctx context.Context, fixtureIDs []string) ([]*entity.Fixture, error) {
	if len(fixtureIDs) == 0 {
		return nil, nil
	}

	var fixtures []*entity.Fixture
	for start := 0; start < len(fixtureIDs); start += fixtureBatchSize {
		end := start + fixtureBatchSize
		if end > len(fixtureIDs) {
			end = len(fixtureIDs)
		}
		batch := fixtureIDs[start:end]

		endpoint := fmt.Sprintf("%s/fixtures/multi/%s", c.config.BaseURL, strings.Join(batch, ","))
		params := url.Values{"include": {"scores"}}

		var resp fixturesResponse
		if err := c.doRequest(ctx, endpoint, params, &resp); err != nil {
			return nil, fmt.Errorf("fetching results for batch starting at %d: %w", start, err)
		}
		for i := range resp.Data {
			f, err := normalizeFixture(&resp.Data[i])
			if err != nil {
				c.logger.Warn("skipping malformed fixture", "fixture_id", resp.Data[i].ID, "error", err)
				continue
			}
			fixtures = append(fixtures, f)
		}
	}
	return fixtures, nil
}

// httpError carries the status code for retry classification.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("api returned status %d: %s", e.status, e.body)
}

// isTransient treats network failures, 429 and 5xx as retryable; other 4xx
// responses are the caller's bug and fail fast.
func isTransient(err error) bool {
	var he *httpError
	if errors.As(err, &he) {
		return he.status == http.StatusTooManyRequests || he.status >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) doRequest(ctx context.Context, endpoint string, params url.Values, out any) error {
	return retry.DoVoid(ctx, c.config.Retry, isTransient,
		func(attempt int, err error, backoff time.Duration) {
			c.logger.Warn("sports api request failed, retrying",
				"endpoint", endpoint, "attempt", attempt, "backoff", backoff, "error", err)
		},
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}

			params.Set("api_token", c.config.APIToken)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
			if err != nil {
				return fmt.Errorf("building request: %w", err)
			}
			req.Header.Set("Accept", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("executing request: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return &httpError{status: resp.StatusCode, body: truncate(string(body), 256)}
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			return nil
		})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// stateMap normalises the provider's fixture states.
var stateMap = map[string]entity.FixtureStatus{
	"NS":        entity.FixtureScheduled,
	"TBA":       entity.FixtureScheduled,
	"INPLAY":    entity.FixtureInPlay,
	"HT":        entity.FixtureInPlay,
	"ET":        entity.FixtureInPlay,
	"PEN":       entity.FixtureInPlay,
	"FT":        entity.FixtureFinished,
	"AET":       entity.FixtureFinished,
	"FT_PEN":    entity.FixtureFinished,
	"CANCELLED": entity.FixtureCancelled,
	"ABANDONED": entity.FixtureCancelled,
	"WO":        entity.FixtureCancelled,
	"POSTPONED": entity.FixturePostponed,
}

// scaleOdd converts a decimal odd to the 1000-scaled integer form. Odds
// below 1.0 are provider glitches and come back as 0 (incomplete).
func scaleOdd(decimal float64) uint32 {
	if decimal < 1.0 {
		return 0
	}
	return uint32(math.Round(decimal * entity.OddsScale))
}

func normalizeFixture(raw *apiFixture) (*entity.Fixture, error) {
	if raw.ID <= 0 {
		return nil, fmt.Errorf("missing fixture id")
	}
	status, ok := stateMap[strings.ToUpper(raw.State)]
	if !ok {
		return nil, fmt.Errorf("unknown fixture state %q", raw.State)
	}

	f := &entity.Fixture{
		FixtureID: strconv.FormatInt(raw.ID, 10),
		League:    raw.LeagueName,
		HomeTeam:  raw.HomeTeam,
		AwayTeam:  raw.AwayTeam,
		MatchDate: time.Unix(raw.StartingAt, 0).UTC(),
		Status:    status,
	}
	if raw.Odds != nil {
		f.Odds = entity.FixtureOdds{
			Home:    scaleOdd(raw.Odds.Home),
			Draw:    scaleOdd(raw.Odds.Draw),
			Away:    scaleOdd(raw.Odds.Away),
			Over25:  scaleOdd(raw.Odds.Over25),
			Under25: scaleOdd(raw.Odds.Under25),
		}
	}
	if raw.Scores != nil {
		f.HomeScore = raw.Scores.Home
		f.AwayScore = raw.Scores.Away
		f.HTHomeScore = raw.Scores.HTHome
		f.HTAwayScore = raw.Scores.HTAway
	}
	if status == entity.FixtureFinished {
		if f.HomeScore == nil || f.AwayScore == nil {
			return nil, fmt.Errorf("finished fixture %s has no scores", f.FixtureID)
		}
		finished := time.Now().UTC()
		f.FinishedAt = &finished
	}
	return f, nil
}
