// Package slipeval scores parlay slips for resolved cycles and freezes the
// per-cycle leaderboard.
package slipeval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/ports/outbound"
)

// EvaluatorConfig holds configuration for the slip evaluator.
type EvaluatorConfig struct {
	// Logger is the structured logger for the service.
	Logger *slog.Logger
}

// Deps are the evaluator's outbound dependencies. Metrics is optional.
type Deps struct {
	Cycles   outbound.CycleRepository
	Fixtures outbound.FixtureRepository
	Slips    outbound.SlipRepository
	Metrics  outbound.MetricsRecorder
}

// Evaluator computes correct counts, multiplicative scores and leaderboard
// ranks. Evaluation is a pure function of predictions and fixture scores,
// so re-running it after a result correction overwrites cleanly.
type Evaluator struct {
	deps   Deps
	logger *slog.Logger
}

// NewEvaluator creates the slip evaluator.
func NewEvaluator(config EvaluatorConfig, deps Deps) (*Evaluator, error) {
	if deps.Cycles == nil {
		return nil, fmt.Errorf("cycle repository cannot be nil")
	}
	if deps.Fixtures == nil {
		return nil, fmt.Errorf("fixture repository cannot be nil")
	}
	if deps.Slips == nil {
		return nil, fmt.Errorf("slip repository cannot be nil")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		deps:   deps,
		logger: logger.With("component", "slip-evaluator"),
	}, nil
}

// EvaluateDue evaluates every resolved cycle that still has unevaluated
// slips.
func (e *Evaluator) EvaluateDue(ctx context.Context) error {
	cycles, err := e.deps.Cycles.ListAwaitingEvaluation(ctx)
	if err != nil {
		return fmt.Errorf("listing cycles awaiting evaluation: %w", err)
	}

	var errs []error
	for _, cycle := range cycles {
		if err := e.EvaluateCycle(ctx, cycle); err != nil {
			errs = append(errs, fmt.Errorf("cycle %d: %w", cycle.CycleID, err))
		}
	}
	return errors.Join(errs...)
}

// slotOutcome is the authoritative per-fixture result used for scoring.
// Void slots (cancelled or never-finished fixtures) score as a push.
type slotOutcome struct {
	void      bool
	moneyline string
	overUnder string
}

// EvaluateCycle re-scores every slip in the cycle and freezes the
// leaderboard atomically. All slips are recomputed, evaluated or not, so
// ranks stay consistent after a result correction.
func (e *Evaluator) EvaluateCycle(ctx context.Context, cycle *entity.Cycle) error {
	if cycle.State != entity.CycleResolved {
		return fmt.Errorf("cycle is %s, not resolved", cycle.State)
	}

	outcomes, err := e.cycleOutcomes(ctx, cycle)
	if err != nil {
		return err
	}

	slips, err := e.deps.Slips.ListByCycle(ctx, cycle.CycleID)
	if err != nil {
		return fmt.Errorf("listing slips: %w", err)
	}
	if len(slips) == 0 {
		return nil
	}

	for _, slip := range slips {
		correct, score := scoreSlip(slip.Predictions, outcomes)
		slip.IsEvaluated = true
		slip.CorrectCount = correct
		slip.FinalScore = score
	}
	rankSlips(slips)

	if err := e.deps.Slips.SaveEvaluations(ctx, cycle.CycleID, slips); err != nil {
		return fmt.Errorf("saving evaluations: %w", err)
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordSlipsEvaluated(ctx, len(slips))
	}
	e.logger.Info("cycle evaluated", "cycleId", cycle.CycleID, "slips", len(slips))
	return nil
}

// cycleOutcomes derives each slot's result from stored scores. Derivations
// are always recomputed here; cached outcome strings are never trusted.
func (e *Evaluator) cycleOutcomes(ctx context.Context, cycle *entity.Cycle) (map[string]slotOutcome, error) {
	ids := make([]string, 0, len(cycle.Matches))
	for _, m := range cycle.Matches {
		ids = append(ids, m.FixtureID)
	}
	fixtures, err := e.deps.Fixtures.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading cycle fixtures: %w", err)
	}
	byID := make(map[string]*entity.Fixture, len(fixtures))
	for _, f := range fixtures {
		byID[f.FixtureID] = f
	}

	outcomes := make(map[string]slotOutcome, len(cycle.Matches))
	for _, m := range cycle.Matches {
		fixture := byID[m.FixtureID]
		if fixture == nil || fixture.Status != entity.FixtureFinished {
			// The driver voided this slot on-chain.
			outcomes[m.FixtureID] = slotOutcome{void: true}
			continue
		}
		derived, err := fixture.DeriveResult()
		if err != nil {
			return nil, fmt.Errorf("fixture %s: %w", m.FixtureID, err)
		}
		outcomes[m.FixtureID] = slotOutcome{
			moneyline: derived.Outcome1X2,
			overUnder: derived.OutcomeOU25,
		}
	}
	return outcomes, nil
}

// scoreSlip computes the correct count and the multiplicative score. The
// score starts at the odds scale and multiplies by selectedOdd/scale per
// correct pick; void slots are pushes and leave both untouched. Zero
// correct picks scores zero.
func scoreSlip(predictions []entity.Prediction, outcomes map[string]slotOutcome) (uint8, *big.Int) {
	scale := big.NewInt(entity.OddsScale)
	score := big.NewInt(entity.OddsScale)
	var correct uint8

	for _, p := range predictions {
		outcome, ok := outcomes[p.FixtureID]
		if !ok || outcome.void {
			continue
		}
		var resolved string
		switch p.BetType {
		case entity.BetMoneyline:
			resolved = outcome.moneyline
		case entity.BetOverUnder:
			resolved = outcome.overUnder
		default:
			continue
		}
		if p.Selection != resolved {
			continue
		}
		correct++
		score.Mul(score, big.NewInt(int64(p.SelectedOdd)))
		score.Quo(score, scale)
	}

	if correct == 0 {
		return 0, big.NewInt(0)
	}
	return correct, score
}

// rankSlips orders by score, then correct count, then placement time, and
// assigns 1-based ranks.
func rankSlips(slips []*entity.Slip) {
	sort.SliceStable(slips, func(i, j int) bool {
		if c := slips[i].FinalScore.Cmp(slips[j].FinalScore); c != 0 {
			return c > 0
		}
		if slips[i].CorrectCount != slips[j].CorrectCount {
			return slips[i].CorrectCount > slips[j].CorrectCount
		}
		return slips[i].PlacedAt.Before(slips[j].PlacedAt)
	})
	for i, slip := range slips {
		slip.Rank = i + 1
	}
}
