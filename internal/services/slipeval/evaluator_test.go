package slipeval

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bitredict/relayer/internal/adapters/outbound/memory"
	"github.com/bitredict/relayer/internal/domain/entity"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr(v int) *int { return &v }

func finishedFixture(id string, home, away int) *entity.Fixture {
	now := time.Now().UTC()
	return &entity.Fixture{
		FixtureID:  id,
		HomeTeam:   "Home " + id,
		AwayTeam:   "Away " + id,
		MatchDate:  now.Add(-3 * time.Hour),
		Status:     entity.FixtureFinished,
		HomeScore:  ptr(home),
		AwayScore:  ptr(away),
		FinishedAt: &now,
	}
}

func testCycle(t *testing.T, fixtureIDs []string) *entity.Cycle {
	t.Helper()
	if len(fixtureIDs) != entity.CycleMatchCount {
		t.Fatalf("need %d fixture ids, got %d", entity.CycleMatchCount, len(fixtureIDs))
	}
	matches := make([]entity.CycleMatch, 0, len(fixtureIDs))
	for _, id := range fixtureIDs {
		matches = append(matches, entity.CycleMatch{
			FixtureID: id,
			StartTime: time.Now().Add(-4 * time.Hour).Unix(),
			OddsHome:  2500, OddsDraw: 3200, OddsAway: 2800,
			OddsOver: 1800, OddsUnder: 2000,
		})
	}
	return &entity.Cycle{
		CycleID:      7,
		StartTime:    time.Now().Add(-24 * time.Hour),
		EndTime:      time.Now().Add(-5 * time.Hour),
		Matches:      matches,
		State:        entity.CycleResolved,
		TxHash:       make([]byte, 32),
		ResolutionTx: make([]byte, 32),
	}
}

func tenPredictions(first, second entity.Prediction, restFixtures []string) []entity.Prediction {
	preds := []entity.Prediction{first, second}
	for _, id := range restFixtures {
		preds = append(preds, entity.Prediction{
			FixtureID: id, BetType: entity.BetMoneyline,
			Selection: entity.SelectionDraw, SelectedOdd: 3200,
		})
	}
	return preds
}

func newTestEvaluator(t *testing.T) (*Evaluator, *memory.CycleRepository, *memory.SlipRepository, *memory.FixtureRepository) {
	t.Helper()
	slips := memory.NewSlipRepository()
	cycles := memory.NewCycleRepository(slips)
	fixtures := memory.NewFixtureRepository()
	eval, err := NewEvaluator(EvaluatorConfig{Logger: discardLogger()}, Deps{
		Cycles:   cycles,
		Fixtures: fixtures,
		Slips:    slips,
		Metrics:  memory.NewMetricsRecorder(),
	})
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return eval, cycles, slips, fixtures
}

func TestEvaluateCycleScoresAndRanks(t *testing.T) {
	eval, _, slips, fixtures := newTestEvaluator(t)
	ctx := context.Background()

	ids := []string{"f1", "f2", "f3", "f4", "f5", "f6", "f7", "f8", "f9", "f10"}
	cycle := testCycle(t, ids)

	// f1 home win, f2 goalless draw, the rest away wins (so the filler
	// draw predictions all miss).
	if err := fixtures.UpsertFixture(ctx, finishedFixture("f1", 2, 1)); err != nil {
		t.Fatalf("upserting f1: %v", err)
	}
	if err := fixtures.UpsertFixture(ctx, finishedFixture("f2", 0, 0)); err != nil {
		t.Fatalf("upserting f2: %v", err)
	}
	for _, id := range ids[2:] {
		if err := fixtures.UpsertFixture(ctx, finishedFixture(id, 0, 1)); err != nil {
			t.Fatalf("upserting %s: %v", id, err)
		}
	}
	slip := &entity.Slip{
		SlipID:   100,
		CycleID:  cycle.CycleID,
		Player:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		PlacedAt: time.Now().Add(-20 * time.Hour),
		Predictions: tenPredictions(
			entity.Prediction{FixtureID: "f1", BetType: entity.BetMoneyline, Selection: entity.SelectionHome, SelectedOdd: 2500},
			entity.Prediction{FixtureID: "f2", BetType: entity.BetOverUnder, Selection: entity.SelectionOver, SelectedOdd: 1800},
			ids[2:],
		),
	}
	if _, err := slips.InsertSlip(ctx, nil, slip); err != nil {
		t.Fatalf("inserting slip: %v", err)
	}

	if err := eval.EvaluateCycle(ctx, cycle); err != nil {
		t.Fatalf("EvaluateCycle: %v", err)
	}

	stored, err := slips.ListByCycle(ctx, cycle.CycleID)
	if err != nil {
		t.Fatalf("ListByCycle: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 slip, got %d", len(stored))
	}
	got := stored[0]
	if !got.IsEvaluated {
		t.Error("slip should be evaluated")
	}
	if got.CorrectCount != 1 {
		t.Errorf("correct count = %d, want 1", got.CorrectCount)
	}
	// 1000 * 2500 / 1000 = 2500
	if got.FinalScore.Cmp(big.NewInt(2500)) != 0 {
		t.Errorf("final score = %s, want 2500", got.FinalScore)
	}
	if got.Rank != 1 {
		t.Errorf("rank = %d, want 1", got.Rank)
	}
}

func TestScoreSlipMultiplicative(t *testing.T) {
	outcomes := map[string]slotOutcome{
		"a": {moneyline: "1", overUnder: "Over"},
		"b": {moneyline: "X", overUnder: "Under"},
		"c": {moneyline: "2", overUnder: "Over"},
	}
	preds := []entity.Prediction{
		{FixtureID: "a", BetType: entity.BetMoneyline, Selection: "1", SelectedOdd: 2500},
		{FixtureID: "b", BetType: entity.BetOverUnder, Selection: "Under", SelectedOdd: 1800},
		{FixtureID: "c", BetType: entity.BetMoneyline, Selection: "2", SelectedOdd: 4000},
	}

	correct, score := scoreSlip(preds, outcomes)
	if correct != 3 {
		t.Fatalf("correct = %d, want 3", correct)
	}
	// 2500 * 1800 * 4000 / 1000^2 = 18_000_000 / 1000 = 18000
	want := big.NewInt(18000)
	if score.Cmp(want) != 0 {
		t.Errorf("score = %s, want %s", score, want)
	}
}

func TestScoreSlipZeroCorrect(t *testing.T) {
	outcomes := map[string]slotOutcome{
		"a": {moneyline: "1", overUnder: "Over"},
	}
	preds := []entity.Prediction{
		{FixtureID: "a", BetType: entity.BetMoneyline, Selection: "2", SelectedOdd: 5000},
	}
	correct, score := scoreSlip(preds, outcomes)
	if correct != 0 {
		t.Fatalf("correct = %d, want 0", correct)
	}
	if score.Sign() != 0 {
		t.Errorf("score = %s, want 0", score)
	}
}

func TestScoreSlipVoidSlotIsPush(t *testing.T) {
	outcomes := map[string]slotOutcome{
		"a": {moneyline: "1", overUnder: "Over"},
		"b": {void: true},
	}
	preds := []entity.Prediction{
		{FixtureID: "a", BetType: entity.BetMoneyline, Selection: "1", SelectedOdd: 3000},
		{FixtureID: "b", BetType: entity.BetMoneyline, Selection: "1", SelectedOdd: 9000},
	}
	correct, score := scoreSlip(preds, outcomes)
	if correct != 1 {
		t.Fatalf("correct = %d, want 1 (void slot must not count)", correct)
	}
	if score.Cmp(big.NewInt(3000)) != 0 {
		t.Errorf("score = %s, want 3000 (void slot must not multiply)", score)
	}
}

func TestRankSlipsOrdering(t *testing.T) {
	early := time.Now().Add(-2 * time.Hour)
	late := time.Now().Add(-1 * time.Hour)
	slips := []*entity.Slip{
		{SlipID: 1, FinalScore: big.NewInt(100), CorrectCount: 2, PlacedAt: late},
		{SlipID: 2, FinalScore: big.NewInt(500), CorrectCount: 1, PlacedAt: late},
		{SlipID: 3, FinalScore: big.NewInt(100), CorrectCount: 2, PlacedAt: early},
		{SlipID: 4, FinalScore: big.NewInt(100), CorrectCount: 3, PlacedAt: late},
	}
	rankSlips(slips)

	wantOrder := []uint64{2, 4, 3, 1}
	for i, want := range wantOrder {
		if slips[i].SlipID != want {
			t.Errorf("rank %d: slip %d, want %d", i+1, slips[i].SlipID, want)
		}
		if slips[i].Rank != i+1 {
			t.Errorf("slip %d rank = %d, want %d", slips[i].SlipID, slips[i].Rank, i+1)
		}
	}
}

func TestEvaluateCycleIdempotent(t *testing.T) {
	eval, _, slips, fixtures := newTestEvaluator(t)
	ctx := context.Background()

	ids := []string{"g1", "g2", "g3", "g4", "g5", "g6", "g7", "g8", "g9", "g10"}
	cycle := testCycle(t, ids)
	for _, id := range ids {
		if err := fixtures.UpsertFixture(ctx, finishedFixture(id, 1, 1)); err != nil {
			t.Fatalf("upserting %s: %v", id, err)
		}
	}

	slip := &entity.Slip{
		SlipID:   200,
		CycleID:  cycle.CycleID,
		Player:   common.HexToAddress("0x2222222222222222222222222222222222222222"),
		PlacedAt: time.Now().Add(-20 * time.Hour),
		Predictions: tenPredictions(
			entity.Prediction{FixtureID: "g1", BetType: entity.BetMoneyline, Selection: entity.SelectionDraw, SelectedOdd: 3200},
			entity.Prediction{FixtureID: "g2", BetType: entity.BetOverUnder, Selection: entity.SelectionUnder, SelectedOdd: 2000},
			ids[2:],
		),
	}
	if _, err := slips.InsertSlip(ctx, nil, slip); err != nil {
		t.Fatalf("inserting slip: %v", err)
	}

	if err := eval.EvaluateCycle(ctx, cycle); err != nil {
		t.Fatalf("first evaluation: %v", err)
	}
	first, _ := slips.ListByCycle(ctx, cycle.CycleID)

	if err := eval.EvaluateCycle(ctx, cycle); err != nil {
		t.Fatalf("second evaluation: %v", err)
	}
	second, _ := slips.ListByCycle(ctx, cycle.CycleID)

	if first[0].CorrectCount != second[0].CorrectCount {
		t.Errorf("correct count changed: %d vs %d", first[0].CorrectCount, second[0].CorrectCount)
	}
	if first[0].FinalScore.Cmp(second[0].FinalScore) != 0 {
		t.Errorf("final score changed: %s vs %s", first[0].FinalScore, second[0].FinalScore)
	}
	if first[0].Rank != second[0].Rank {
		t.Errorf("rank changed: %d vs %d", first[0].Rank, second[0].Rank)
	}
}

func TestEvaluateCycleRejectsUnresolved(t *testing.T) {
	eval, _, _, _ := newTestEvaluator(t)
	cycle := testCycle(t, []string{"h1", "h2", "h3", "h4", "h5", "h6", "h7", "h8", "h9", "h10"})
	cycle.State = entity.CycleActive
	if err := eval.EvaluateCycle(context.Background(), cycle); err == nil {
		t.Fatal("expected error for unresolved cycle")
	}
}
