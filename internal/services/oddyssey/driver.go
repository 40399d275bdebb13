// Package oddyssey drives the daily parlay cycle: match selection, on-chain
// cycle start, result preparation and resolution, and mirroring of slips.
package oddyssey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/pkg/contracts"
	"github.com/bitredict/relayer/internal/pkg/txsign"
	"github.com/bitredict/relayer/internal/ports/outbound"
)

// DriverConfig holds configuration for the cycle driver.
type DriverConfig struct {
	// MinKickoffLead is how long after the cycle opens the earliest
	// selected fixture may kick off. Defaults to 1 hour.
	MinKickoffLead time.Duration

	// FallbackDelay is how long after scheduled kick-off a non-finished
	// fixture is voided for resolution purposes. Defaults to 2 hours.
	FallbackDelay time.Duration

	// Logger is the structured logger for the service.
	Logger *slog.Logger
}

func driverDefaults(cfg DriverConfig) DriverConfig {
	if cfg.MinKickoffLead <= 0 {
		cfg.MinKickoffLead = time.Hour
	}
	if cfg.FallbackDelay <= 0 {
		cfg.FallbackDelay = 2 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Deps are the driver's outbound dependencies. Metrics is optional.
type Deps struct {
	Reader   *contracts.Reader
	Registry *contracts.Registry
	Sender   *txsign.Sender
	Fixtures outbound.FixtureRepository
	Cycles   outbound.CycleRepository
	Metrics  outbound.MetricsRecorder
}

// Driver runs the daily cycle state machine.
type Driver struct {
	config DriverConfig
	deps   Deps
	logger *slog.Logger
}

// NewDriver creates the cycle driver.
func NewDriver(config DriverConfig, deps Deps) (*Driver, error) {
	if deps.Reader == nil {
		return nil, fmt.Errorf("contract reader cannot be nil")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("contract registry cannot be nil")
	}
	if deps.Sender == nil {
		return nil, fmt.Errorf("transaction sender cannot be nil")
	}
	if deps.Fixtures == nil {
		return nil, fmt.Errorf("fixture repository cannot be nil")
	}
	if deps.Cycles == nil {
		return nil, fmt.Errorf("cycle repository cannot be nil")
	}
	return &Driver{
		config: driverDefaults(config),
		deps:   deps,
		logger: config.Logger.With("component", "oddyssey-driver"),
	}, nil
}

func gameDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// SelectMatches picks the day's ten fixtures and persists the selection.
// Fewer than ten eligible fixtures aborts selection for the day; the cycle
// simply does not run.
func (d *Driver) SelectMatches(ctx context.Context, now time.Time) error {
	date := gameDate(now)

	exists, err := d.deps.Cycles.HasCycleForDate(ctx, date)
	if err != nil {
		return fmt.Errorf("checking cycle for %s: %w", date, err)
	}
	if exists {
		return nil
	}
	if selected, err := d.deps.Cycles.GetDailyMatches(ctx, date); err != nil {
		return fmt.Errorf("checking selection for %s: %w", date, err)
	} else if selected != nil {
		return nil
	}

	dayStart := now.UTC().Truncate(24 * time.Hour)
	windowStart := dayStart.Add(d.config.MinKickoffLead)
	if now.UTC().After(windowStart) {
		windowStart = now.UTC().Add(d.config.MinKickoffLead)
	}
	windowEnd := dayStart.Add(24 * time.Hour)

	eligible, err := d.deps.Fixtures.ListEligibleForCycle(ctx, windowStart, windowEnd)
	if err != nil {
		return fmt.Errorf("listing eligible fixtures: %w", err)
	}
	if len(eligible) < entity.CycleMatchCount {
		d.logger.Warn("not enough eligible fixtures, skipping cycle",
			"date", date, "eligible", len(eligible), "required", entity.CycleMatchCount)
		return nil
	}

	picked := pickDiverse(eligible, entity.CycleMatchCount)
	matches := make([]entity.CycleMatch, 0, entity.CycleMatchCount)
	for _, f := range picked {
		matches = append(matches, entity.CycleMatch{
			FixtureID: f.FixtureID,
			StartTime: f.MatchDate.Unix(),
			OddsHome:  f.Odds.Home,
			OddsDraw:  f.Odds.Draw,
			OddsAway:  f.Odds.Away,
			OddsOver:  f.Odds.Over25,
			OddsUnder: f.Odds.Under25,
		})
	}
	if err := d.deps.Cycles.SaveDailyMatches(ctx, date, matches); err != nil {
		return fmt.Errorf("saving selection for %s: %w", date, err)
	}
	d.logger.Info("matches selected", "date", date, "eligible", len(eligible))
	return nil
}

// pickDiverse takes n fixtures spreading across leagues where possible.
// Diversity is a heuristic, not a requirement: when one league dominates
// the eligible set the remainder fills from it.
func pickDiverse(fixtures []*entity.Fixture, n int) []*entity.Fixture {
	picked := make([]*entity.Fixture, 0, n)
	used := make(map[string]bool, len(fixtures))
	leagues := make(map[string]int)

	for _, f := range fixtures {
		if len(picked) == n {
			return picked
		}
		if leagues[f.League] == 0 {
			picked = append(picked, f)
			used[f.FixtureID] = true
			leagues[f.League]++
		}
	}
	for _, f := range fixtures {
		if len(picked) == n {
			break
		}
		if !used[f.FixtureID] {
			picked = append(picked, f)
			used[f.FixtureID] = true
		}
	}
	return picked
}

// StartCycle opens the day's cycle on-chain from the saved selection.
func (d *Driver) StartCycle(ctx context.Context, now time.Time) error {
	date := gameDate(now)

	exists, err := d.deps.Cycles.HasCycleForDate(ctx, date)
	if err != nil {
		return fmt.Errorf("checking cycle for %s: %w", date, err)
	}
	if exists {
		return nil
	}
	matches, err := d.deps.Cycles.GetDailyMatches(ctx, date)
	if err != nil {
		return fmt.Errorf("loading selection for %s: %w", date, err)
	}
	if matches == nil {
		// Selection never ran or was aborted; no cycle today.
		return nil
	}

	var inputs [entity.CycleMatchCount]contracts.CycleMatchInput
	for i, m := range matches {
		matchID, err := strconv.ParseUint(m.FixtureID, 10, 64)
		if err != nil {
			return fmt.Errorf("fixture id %q is not numeric: %w", m.FixtureID, err)
		}
		inputs[i] = contracts.CycleMatchInput{
			MatchId:   matchID,
			StartTime: uint64(m.StartTime),
			OddsHome:  m.OddsHome,
			OddsDraw:  m.OddsDraw,
			OddsAway:  m.OddsAway,
			OddsOver:  m.OddsOver,
			OddsUnder: m.OddsUnder,
		}
	}

	receipt, err := d.deps.Sender.Send(ctx, d.deps.Registry.OddysseyAddress(),
		d.deps.Registry.OddysseyABI(), "startDailyCycle", inputs)
	if err != nil {
		return fmt.Errorf("sending startDailyCycle: %w", err)
	}

	cycleID, err := d.deps.Reader.CurrentCycle(ctx)
	if err != nil {
		return fmt.Errorf("reading current cycle: %w", err)
	}
	info, err := d.deps.Reader.Cycle(ctx, cycleID)
	if err != nil {
		return fmt.Errorf("reading cycle %d info: %w", cycleID, err)
	}

	cycle := &entity.Cycle{
		CycleID:   cycleID,
		StartTime: info.StartTime,
		EndTime:   info.EndTime,
		Matches:   matches,
		State:     entity.CycleActive,
		TxHash:    receipt.TxHash.Bytes(),
	}
	if err := d.deps.Cycles.InsertCycle(ctx, cycle); err != nil {
		return fmt.Errorf("inserting cycle %d: %w", cycleID, err)
	}
	d.logger.Info("cycle started",
		"cycleId", cycleID, "date", date, "endTime", info.EndTime, "tx", receipt.TxHash)
	return nil
}

// preparedSlot is the JSONB shape of one prepared resolution slot.
type preparedSlot struct {
	Moneyline uint8 `json:"moneyline"`
	OverUnder uint8 `json:"overUnder"`
}

// ResolveDue advances every ended cycle toward resolution: Active cycles
// past end time are marked Ended, results are prepared once all ten slots
// are terminal, and resolveDailyCycle is sent.
func (d *Driver) ResolveDue(ctx context.Context, now time.Time) error {
	cycles, err := d.deps.Cycles.ListEndedUnresolved(ctx)
	if err != nil {
		return fmt.Errorf("listing unresolved cycles: %w", err)
	}

	var errs []error
	for _, cycle := range cycles {
		if err := d.resolveCycle(ctx, cycle, now); err != nil {
			errs = append(errs, fmt.Errorf("cycle %d: %w", cycle.CycleID, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Driver) resolveCycle(ctx context.Context, cycle *entity.Cycle, now time.Time) error {
	if cycle.State == entity.CycleActive {
		err := d.deps.Cycles.TransitionState(ctx, cycle.CycleID,
			entity.CycleActive, entity.CycleEnded)
		if err != nil {
			return fmt.Errorf("marking ended: %w", err)
		}
		cycle.State = entity.CycleEnded
		d.logger.Info("cycle ended", "cycleId", cycle.CycleID)
	}

	results, ready, err := d.prepareResults(ctx, cycle, now)
	if err != nil {
		return err
	}
	if !ready {
		return nil
	}

	receipt, err := d.deps.Sender.Send(ctx, d.deps.Registry.OddysseyAddress(),
		d.deps.Registry.OddysseyABI(), "resolveDailyCycle",
		new(big.Int).SetUint64(cycle.CycleID), results)
	if err != nil {
		return fmt.Errorf("sending resolveDailyCycle: %w", err)
	}

	if err := d.deps.Cycles.MarkResolved(ctx, cycle.CycleID, receipt.TxHash.Bytes(), now.UTC()); err != nil {
		return fmt.Errorf("marking resolved: %w", err)
	}
	err = d.deps.Cycles.TransitionState(ctx, cycle.CycleID,
		entity.CycleEnded, entity.CycleResolved)
	if err != nil {
		return fmt.Errorf("transitioning to resolved: %w", err)
	}
	if d.deps.Metrics != nil {
		d.deps.Metrics.RecordCycleResolved(ctx)
	}
	d.logger.Info("cycle resolved", "cycleId", cycle.CycleID, "tx", receipt.TxHash)
	return nil
}

// prepareResults formats the ten-slot resolution payload. It returns
// ready=false while any slot is still pending. Prepared payloads are
// persisted so a retry after the prepare step reuses them.
func (d *Driver) prepareResults(ctx context.Context, cycle *entity.Cycle, now time.Time) ([entity.CycleMatchCount]contracts.CycleResult, bool, error) {
	var results [entity.CycleMatchCount]contracts.CycleResult

	if cycle.ReadyForResolution && len(cycle.PreparedResults) > 0 {
		var slots []preparedSlot
		if err := json.Unmarshal(cycle.PreparedResults, &slots); err != nil {
			return results, false, fmt.Errorf("parsing prepared results: %w", err)
		}
		if len(slots) != entity.CycleMatchCount {
			return results, false, fmt.Errorf("prepared results have %d slots, want %d",
				len(slots), entity.CycleMatchCount)
		}
		for i, s := range slots {
			results[i] = contracts.CycleResult{Moneyline: s.Moneyline, OverUnder: s.OverUnder}
		}
		return results, true, nil
	}

	for i, match := range cycle.Matches {
		result, ready, err := d.slotResult(ctx, match, now)
		if err != nil {
			return results, false, fmt.Errorf("slot %d (fixture %s): %w", i, match.FixtureID, err)
		}
		if !ready {
			d.logger.Debug("cycle awaiting fixture",
				"cycleId", cycle.CycleID, "fixtureId", match.FixtureID)
			return results, false, nil
		}
		results[i] = result
	}

	slots := make([]preparedSlot, entity.CycleMatchCount)
	for i, r := range results {
		slots[i] = preparedSlot{Moneyline: uint8(r.Moneyline), OverUnder: uint8(r.OverUnder)}
	}
	payload, err := json.Marshal(slots)
	if err != nil {
		return results, false, fmt.Errorf("marshalling prepared results: %w", err)
	}
	if err := d.deps.Cycles.SetPreparedResults(ctx, cycle.CycleID, payload); err != nil {
		return results, false, fmt.Errorf("saving prepared results: %w", err)
	}
	return results, true, nil
}

// slotResult resolves one cycle slot. Finished fixtures carry real results;
// fixtures still non-terminal once the fallback delay has passed kick-off,
// cancelled ones included, are voided with the not-applicable variant.
func (d *Driver) slotResult(ctx context.Context, match entity.CycleMatch, now time.Time) (contracts.CycleResult, bool, error) {
	fixture, err := d.deps.Fixtures.GetFixture(ctx, match.FixtureID)
	if err != nil {
		return contracts.CycleResult{}, false, fmt.Errorf("loading fixture: %w", err)
	}
	if fixture == nil {
		return contracts.CycleResult{}, false, fmt.Errorf("fixture not found")
	}

	if fixture.Status == entity.FixtureFinished {
		derived, err := fixture.DeriveResult()
		if err != nil {
			return contracts.CycleResult{}, false, err
		}
		result, err := contracts.ResultFromFixture(derived, false)
		if err != nil {
			return contracts.CycleResult{}, false, err
		}
		return result, true, nil
	}

	// Cancelled fixtures wait out the same delay: providers occasionally
	// reinstate a postponed match under the same id.
	voidAfter := time.Unix(match.StartTime, 0).Add(d.config.FallbackDelay)
	if now.After(voidAfter) {
		result, err := contracts.ResultFromFixture(nil, true)
		if err != nil {
			return contracts.CycleResult{}, false, err
		}
		return result, true, nil
	}
	return contracts.CycleResult{}, false, nil
}
