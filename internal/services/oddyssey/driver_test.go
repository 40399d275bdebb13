package oddyssey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/bitredict/relayer/internal/adapters/outbound/memory"
	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/pkg/contracts"
	"github.com/bitredict/relayer/internal/pkg/txsign"
)

// Well-known throwaway development key, address 0xf39F...2266.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr(v int) *int { return &v }

// =============================================================================
// Mock Implementations
// =============================================================================

// mockChain answers the Oddyssey contract's views and records the calldata
// of every broadcast transaction.
type mockChain struct {
	mu  sync.Mutex
	reg *contracts.Registry

	currentCycle uint64
	cycleResp    []byte
	slipResp     []byte

	sentData [][]byte
}

func (m *mockChain) methodByID(data []byte) string {
	for name, method := range m.reg.OddysseyABI().Methods {
		if bytes.HasPrefix(data, method.ID) {
			return name
		}
	}
	return ""
}

func (m *mockChain) BlockNumber(ctx context.Context) (uint64, error) { return 500, nil }

func (m *mockChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (m *mockChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.methodByID(msg.Data) {
	case "getCurrentCycle":
		return m.reg.OddysseyABI().Methods["getCurrentCycle"].Outputs.Pack(
			new(big.Int).SetUint64(m.currentCycle))
	case "cycleInfo":
		if m.cycleResp == nil {
			return nil, errors.New("no cycle scripted")
		}
		return m.cycleResp, nil
	case "getSlip":
		if m.slipResp == nil {
			return nil, errors.New("no slip scripted")
		}
		return m.slipResp, nil
	}
	return nil, errors.New("unexpected contract call")
}

func (m *mockChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentData = append(m.sentData, tx.Data())
	return nil
}

func (m *mockChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: big.NewInt(500),
	}, nil
}

func (m *mockChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (m *mockChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *mockChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 300_000, nil
}

func (m *mockChain) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(50312), nil
}

func (m *mockChain) sentMethods() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, data := range m.sentData {
		out = append(out, m.methodByID(data))
	}
	return out
}

func (m *mockChain) calldata(method string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, data := range m.sentData {
		if m.methodByID(data) == method {
			return data
		}
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

type testHarness struct {
	chain    *mockChain
	reg      *contracts.Registry
	fixtures *memory.FixtureRepository
	slips    *memory.SlipRepository
	cycles   *memory.CycleRepository
	metrics  *memory.MetricsRecorder
	driver   *Driver
	handler  *Handler
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	reg, err := contracts.NewRegistry(contracts.Addresses{
		PoolCore:     common.HexToAddress("0x3000000000000000000000000000000000000001"),
		GuidedOracle: common.HexToAddress("0x3000000000000000000000000000000000000002"),
		Oddyssey:     common.HexToAddress("0x3000000000000000000000000000000000000003"),
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	chain := &mockChain{reg: reg}

	wallet, err := txsign.NewWallet(testKey)
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	sender, err := txsign.NewSender(context.Background(), chain, wallet, txsign.SenderConfig{
		Logger:              discardLogger(),
		ReceiptPollInterval: time.Millisecond,
		ReceiptTimeout:      time.Second,
	})
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	reader, err := contracts.NewReader(chain, reg)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	fixtures := memory.NewFixtureRepository()
	slips := memory.NewSlipRepository()
	cycles := memory.NewCycleRepository(slips)
	metrics := memory.NewMetricsRecorder()

	driver, err := NewDriver(DriverConfig{Logger: discardLogger()}, Deps{
		Reader:   reader,
		Registry: reg,
		Sender:   sender,
		Fixtures: fixtures,
		Cycles:   cycles,
		Metrics:  metrics,
	})
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	handler, err := NewHandler(HandlerConfig{Logger: discardLogger()}, HandlerDeps{
		Reader:   reader,
		Registry: reg,
		Cycles:   cycles,
		Slips:    slips,
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return &testHarness{
		chain: chain, reg: reg, fixtures: fixtures, slips: slips,
		cycles: cycles, metrics: metrics, driver: driver, handler: handler,
	}
}

func scheduledFixture(id, league string, kickoff time.Time) *entity.Fixture {
	return &entity.Fixture{
		FixtureID: id,
		League:    league,
		HomeTeam:  "Home " + id,
		AwayTeam:  "Away " + id,
		MatchDate: kickoff,
		Status:    entity.FixtureScheduled,
		Odds:      entity.FixtureOdds{Home: 2100, Draw: 3300, Away: 3400, Over25: 1900, Under25: 1900},
	}
}

func finishedFixture(id string, home, away int, kickoff time.Time) *entity.Fixture {
	finished := kickoff.Add(2 * time.Hour)
	return &entity.Fixture{
		FixtureID:  id,
		League:     "EPL",
		HomeTeam:   "Home " + id,
		AwayTeam:   "Away " + id,
		MatchDate:  kickoff,
		Status:     entity.FixtureFinished,
		HomeScore:  ptr(home),
		AwayScore:  ptr(away),
		FinishedAt: &finished,
	}
}

func packCycleInfo(t *testing.T, reg *contracts.Registry, start, end time.Time, slips uint64, resolved bool) []byte {
	t.Helper()
	packed, err := reg.OddysseyABI().Methods["cycleInfo"].Outputs.Pack(
		big.NewInt(start.Unix()), big.NewInt(end.Unix()),
		new(big.Int).SetUint64(slips), resolved)
	if err != nil {
		t.Fatalf("packing cycleInfo: %v", err)
	}
	return packed
}

// seedCycle inserts a cycle over the given fixture ids, with kick-offs in
// the real past so the repository lists it as due.
func (h *testHarness) seedCycle(t *testing.T, cycleID uint64, state entity.CycleState, fixtureIDs []string, kickoff time.Time) *entity.Cycle {
	t.Helper()
	matches := make([]entity.CycleMatch, 0, len(fixtureIDs))
	for _, id := range fixtureIDs {
		matches = append(matches, entity.CycleMatch{
			FixtureID: id,
			StartTime: kickoff.Unix(),
			OddsHome:  2100, OddsDraw: 3300, OddsAway: 3400,
			OddsOver: 1900, OddsUnder: 1900,
		})
	}
	cycle := &entity.Cycle{
		CycleID:   cycleID,
		StartTime: kickoff.Add(-6 * time.Hour),
		EndTime:   kickoff.Add(-time.Hour),
		Matches:   matches,
		State:     state,
	}
	if err := h.cycles.InsertCycle(context.Background(), cycle); err != nil {
		t.Fatalf("inserting cycle: %v", err)
	}
	return cycle
}

func fixtureIDRange(start, n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, strconv.Itoa(start+i))
	}
	return ids
}

// =============================================================================
// Match selection
// =============================================================================

func TestSelectMatchesPicksDiverseTen(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 28, 0, 5, 0, 0, time.UTC)
	kickoff := time.Date(2026, 8, 28, 18, 0, 0, 0, time.UTC)

	leagues := []string{"EPL", "EPL", "EPL", "EPL", "LaLiga", "LaLiga", "LaLiga", "LaLiga", "SerieA", "SerieA", "SerieA", "SerieA"}
	for i, league := range leagues {
		f := scheduledFixture(strconv.Itoa(1001+i), league, kickoff)
		if err := h.fixtures.UpsertFixture(ctx, f); err != nil {
			t.Fatalf("seeding fixture: %v", err)
		}
	}

	if err := h.driver.SelectMatches(ctx, now); err != nil {
		t.Fatalf("SelectMatches: %v", err)
	}

	matches, err := h.cycles.GetDailyMatches(ctx, "2026-08-28")
	if err != nil {
		t.Fatalf("GetDailyMatches: %v", err)
	}
	if len(matches) != entity.CycleMatchCount {
		t.Fatalf("selected %d matches, want %d", len(matches), entity.CycleMatchCount)
	}

	// The first three picks spread across all three leagues.
	firstThree := []string{matches[0].FixtureID, matches[1].FixtureID, matches[2].FixtureID}
	want := []string{"1001", "1005", "1009"}
	for i, id := range want {
		if firstThree[i] != id {
			t.Errorf("pick %d = %s, want %s", i, firstThree[i], id)
		}
	}
	if matches[0].OddsHome != 2100 || matches[0].OddsUnder != 1900 {
		t.Errorf("odds not frozen into selection: %+v", matches[0])
	}
	if matches[0].StartTime != kickoff.Unix() {
		t.Errorf("StartTime = %d, want %d", matches[0].StartTime, kickoff.Unix())
	}
}

func TestSelectMatchesAbortsWhenShort(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 28, 0, 5, 0, 0, time.UTC)
	kickoff := time.Date(2026, 8, 28, 18, 0, 0, 0, time.UTC)

	for i := 0; i < entity.CycleMatchCount-1; i++ {
		f := scheduledFixture(strconv.Itoa(1001+i), "EPL", kickoff)
		if err := h.fixtures.UpsertFixture(ctx, f); err != nil {
			t.Fatalf("seeding fixture: %v", err)
		}
	}

	if err := h.driver.SelectMatches(ctx, now); err != nil {
		t.Fatalf("SelectMatches: %v", err)
	}
	matches, err := h.cycles.GetDailyMatches(ctx, "2026-08-28")
	if err != nil {
		t.Fatalf("GetDailyMatches: %v", err)
	}
	if matches != nil {
		t.Fatalf("selection saved despite only %d eligible fixtures", entity.CycleMatchCount-1)
	}
}

func TestSelectMatchesKeepsExistingSelection(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 28, 0, 5, 0, 0, time.UTC)

	saved := make([]entity.CycleMatch, entity.CycleMatchCount)
	for i := range saved {
		saved[i] = entity.CycleMatch{
			FixtureID: strconv.Itoa(9001 + i),
			StartTime: now.Add(12 * time.Hour).Unix(),
			OddsHome:  1500, OddsDraw: 4000, OddsAway: 5000,
			OddsOver: 1700, OddsUnder: 2100,
		}
	}
	if err := h.cycles.SaveDailyMatches(ctx, "2026-08-28", saved); err != nil {
		t.Fatalf("SaveDailyMatches: %v", err)
	}

	if err := h.driver.SelectMatches(ctx, now); err != nil {
		t.Fatalf("SelectMatches: %v", err)
	}
	matches, err := h.cycles.GetDailyMatches(ctx, "2026-08-28")
	if err != nil {
		t.Fatalf("GetDailyMatches: %v", err)
	}
	if matches[0].FixtureID != "9001" {
		t.Fatalf("existing selection replaced, first fixture now %s", matches[0].FixtureID)
	}
}

// =============================================================================
// Cycle start
// =============================================================================

func TestStartCycleOpensFromSelection(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 28, 0, 10, 0, 0, time.UTC)
	dayStart := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	matches := make([]entity.CycleMatch, entity.CycleMatchCount)
	for i := range matches {
		matches[i] = entity.CycleMatch{
			FixtureID: strconv.Itoa(1001 + i),
			StartTime: dayStart.Add(18 * time.Hour).Unix(),
			OddsHome:  2100, OddsDraw: 3300, OddsAway: 3400,
			OddsOver: 1900, OddsUnder: 1900,
		}
	}
	if err := h.cycles.SaveDailyMatches(ctx, "2026-08-28", matches); err != nil {
		t.Fatalf("SaveDailyMatches: %v", err)
	}
	h.chain.currentCycle = 3
	h.chain.cycleResp = packCycleInfo(t, h.reg, dayStart, dayStart.Add(24*time.Hour), 0, false)

	if err := h.driver.StartCycle(ctx, now); err != nil {
		t.Fatalf("StartCycle: %v", err)
	}

	sent := h.chain.sentMethods()
	if len(sent) != 1 || sent[0] != "startDailyCycle" {
		t.Fatalf("sent methods = %v, want [startDailyCycle]", sent)
	}
	cycle, err := h.cycles.GetCycle(ctx, 3)
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if cycle == nil {
		t.Fatal("cycle 3 not persisted")
	}
	if cycle.State != entity.CycleActive {
		t.Errorf("cycle state = %s, want %s", cycle.State, entity.CycleActive)
	}
	if len(cycle.TxHash) != 32 {
		t.Errorf("cycle tx hash has %d bytes, want 32", len(cycle.TxHash))
	}
	if !cycle.EndTime.Equal(dayStart.Add(24 * time.Hour)) {
		t.Errorf("cycle end = %v, want %v", cycle.EndTime, dayStart.Add(24*time.Hour))
	}

	// The cycle now exists for the date, so a rerun is a no-op.
	if err := h.driver.StartCycle(ctx, now); err != nil {
		t.Fatalf("second StartCycle: %v", err)
	}
	if sent := h.chain.sentMethods(); len(sent) != 1 {
		t.Fatalf("rerun broadcast again: %v", sent)
	}
}

func TestStartCycleNoSelectionIsNoOp(t *testing.T) {
	h := newTestHarness(t)
	now := time.Date(2026, 8, 28, 0, 10, 0, 0, time.UTC)

	if err := h.driver.StartCycle(context.Background(), now); err != nil {
		t.Fatalf("StartCycle: %v", err)
	}
	if sent := h.chain.sentMethods(); len(sent) != 0 {
		t.Fatalf("broadcast without a selection: %v", sent)
	}
}

func TestStartCycleRejectsNonNumericFixtures(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 28, 0, 10, 0, 0, time.UTC)

	matches := make([]entity.CycleMatch, entity.CycleMatchCount)
	for i := range matches {
		matches[i] = entity.CycleMatch{
			FixtureID: "fixture-" + strconv.Itoa(i),
			StartTime: now.Add(12 * time.Hour).Unix(),
			OddsHome:  2100, OddsDraw: 3300, OddsAway: 3400,
			OddsOver: 1900, OddsUnder: 1900,
		}
	}
	if err := h.cycles.SaveDailyMatches(ctx, "2026-08-28", matches); err != nil {
		t.Fatalf("SaveDailyMatches: %v", err)
	}

	if err := h.driver.StartCycle(ctx, now); err == nil {
		t.Fatal("expected an error for non-numeric fixture ids")
	}
	if sent := h.chain.sentMethods(); len(sent) != 0 {
		t.Fatalf("broadcast despite bad fixture ids: %v", sent)
	}
}

// =============================================================================
// Resolution
// =============================================================================

func TestResolveDueResolvesTerminalCycle(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	kickoff := now.Add(-5 * time.Hour)
	ids := fixtureIDRange(2001, entity.CycleMatchCount)

	h.seedCycle(t, 5, entity.CycleActive, ids, kickoff)
	for i, id := range ids {
		var f *entity.Fixture
		switch {
		case i == 1:
			f = finishedFixture(id, 0, 2, kickoff) // away win, under 2.5
		case i == entity.CycleMatchCount-1:
			f = scheduledFixture(id, "EPL", kickoff)
			f.Status = entity.FixtureCancelled
		default:
			f = finishedFixture(id, 2, 1, kickoff) // home win, over 2.5
		}
		if err := h.fixtures.UpsertFixture(ctx, f); err != nil {
			t.Fatalf("seeding fixture %s: %v", id, err)
		}
	}

	if err := h.driver.ResolveDue(ctx, now); err != nil {
		t.Fatalf("ResolveDue: %v", err)
	}

	var expected [entity.CycleMatchCount]contracts.CycleResult
	for i := range expected {
		expected[i] = contracts.CycleResult{
			Moneyline: uint8(contracts.MoneylineHomeWin),
			OverUnder: uint8(contracts.OverUnderOver),
		}
	}
	expected[1] = contracts.CycleResult{
		Moneyline: uint8(contracts.MoneylineAwayWin),
		OverUnder: uint8(contracts.OverUnderUnder),
	}
	expected[entity.CycleMatchCount-1] = contracts.CycleResult{
		Moneyline: uint8(contracts.MoneylineNotApplicable),
		OverUnder: uint8(contracts.OverUnderNotApplicable),
	}
	wantData, err := h.reg.OddysseyABI().Pack("resolveDailyCycle", big.NewInt(5), expected)
	if err != nil {
		t.Fatalf("packing expected calldata: %v", err)
	}
	gotData := h.chain.calldata("resolveDailyCycle")
	if gotData == nil {
		t.Fatal("resolveDailyCycle not broadcast")
	}
	if !bytes.Equal(gotData, wantData) {
		t.Fatal("resolveDailyCycle calldata does not match the derived results")
	}

	cycle, err := h.cycles.GetCycle(ctx, 5)
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if cycle.State != entity.CycleResolved {
		t.Errorf("cycle state = %s, want %s", cycle.State, entity.CycleResolved)
	}
	if len(cycle.ResolutionTx) != 32 {
		t.Errorf("resolution tx has %d bytes, want 32", len(cycle.ResolutionTx))
	}
	if cycle.ResolvedAt == nil {
		t.Error("ResolvedAt not set")
	}
	if h.metrics.CyclesResolved != 1 {
		t.Errorf("CyclesResolved = %d, want 1", h.metrics.CyclesResolved)
	}
}

func TestResolveDueWaitsForPendingFixture(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	kickoff := now.Add(-5 * time.Hour)
	ids := fixtureIDRange(2001, entity.CycleMatchCount)

	matches := make([]entity.CycleMatch, 0, len(ids))
	for i, id := range ids {
		start := kickoff
		if i == len(ids)-1 {
			// Still inside the fallback window.
			start = now.Add(-30 * time.Minute)
		}
		matches = append(matches, entity.CycleMatch{
			FixtureID: id,
			StartTime: start.Unix(),
			OddsHome:  2100, OddsDraw: 3300, OddsAway: 3400,
			OddsOver: 1900, OddsUnder: 1900,
		})
	}
	cycle := &entity.Cycle{
		CycleID:   6,
		StartTime: kickoff.Add(-6 * time.Hour),
		EndTime:   kickoff.Add(-time.Hour),
		Matches:   matches,
		State:     entity.CycleActive,
	}
	if err := h.cycles.InsertCycle(ctx, cycle); err != nil {
		t.Fatalf("inserting cycle: %v", err)
	}

	for i, id := range ids {
		var f *entity.Fixture
		if i == len(ids)-1 {
			f = scheduledFixture(id, "EPL", now.Add(-30*time.Minute))
		} else {
			f = finishedFixture(id, 1, 0, kickoff)
		}
		if err := h.fixtures.UpsertFixture(ctx, f); err != nil {
			t.Fatalf("seeding fixture %s: %v", id, err)
		}
	}

	if err := h.driver.ResolveDue(ctx, now); err != nil {
		t.Fatalf("ResolveDue: %v", err)
	}

	if data := h.chain.calldata("resolveDailyCycle"); data != nil {
		t.Fatal("resolved while a fixture was still pending")
	}
	got, err := h.cycles.GetCycle(ctx, 6)
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if got.State != entity.CycleEnded {
		t.Errorf("cycle state = %s, want %s", got.State, entity.CycleEnded)
	}
	if got.ReadyForResolution {
		t.Error("cycle marked ready with a pending slot")
	}
}

func TestResolveDueWaitsOutCancelledFixture(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	kickoff := now.Add(-5 * time.Hour)
	ids := fixtureIDRange(2001, entity.CycleMatchCount)

	matches := make([]entity.CycleMatch, 0, len(ids))
	for i, id := range ids {
		start := kickoff
		if i == len(ids)-1 {
			// Kicked off 30 minutes ago and already marked cancelled; the
			// provider may reinstate it before the fallback delay runs out.
			start = now.Add(-30 * time.Minute)
		}
		matches = append(matches, entity.CycleMatch{
			FixtureID: id,
			StartTime: start.Unix(),
			OddsHome:  2100, OddsDraw: 3300, OddsAway: 3400,
			OddsOver: 1900, OddsUnder: 1900,
		})
	}
	cycle := &entity.Cycle{
		CycleID:   8,
		StartTime: kickoff.Add(-6 * time.Hour),
		EndTime:   kickoff.Add(-time.Hour),
		Matches:   matches,
		State:     entity.CycleActive,
	}
	if err := h.cycles.InsertCycle(ctx, cycle); err != nil {
		t.Fatalf("inserting cycle: %v", err)
	}

	for i, id := range ids {
		var f *entity.Fixture
		if i == len(ids)-1 {
			f = scheduledFixture(id, "EPL", now.Add(-30*time.Minute))
			f.Status = entity.FixtureCancelled
		} else {
			f = finishedFixture(id, 1, 0, kickoff)
		}
		if err := h.fixtures.UpsertFixture(ctx, f); err != nil {
			t.Fatalf("seeding fixture %s: %v", id, err)
		}
	}

	if err := h.driver.ResolveDue(ctx, now); err != nil {
		t.Fatalf("ResolveDue: %v", err)
	}

	if data := h.chain.calldata("resolveDailyCycle"); data != nil {
		t.Fatal("cancelled fixture voided before the fallback delay elapsed")
	}
	got, err := h.cycles.GetCycle(ctx, 8)
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if got.ReadyForResolution {
		t.Error("cycle marked ready while the cancelled slot could still be reinstated")
	}
}

func TestResolveDueVoidsStaleFixture(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	kickoff := now.Add(-5 * time.Hour)
	ids := fixtureIDRange(2001, entity.CycleMatchCount)

	h.seedCycle(t, 7, entity.CycleActive, ids, kickoff)
	for i, id := range ids {
		var f *entity.Fixture
		if i == len(ids)-1 {
			// Never went terminal; three hours past kick-off it voids.
			f = scheduledFixture(id, "EPL", kickoff)
		} else {
			f = finishedFixture(id, 1, 1, kickoff)
		}
		if err := h.fixtures.UpsertFixture(ctx, f); err != nil {
			t.Fatalf("seeding fixture %s: %v", id, err)
		}
	}

	if err := h.driver.ResolveDue(ctx, now); err != nil {
		t.Fatalf("ResolveDue: %v", err)
	}

	gotData := h.chain.calldata("resolveDailyCycle")
	if gotData == nil {
		t.Fatal("resolveDailyCycle not broadcast")
	}
	var expected [entity.CycleMatchCount]contracts.CycleResult
	for i := range expected {
		expected[i] = contracts.CycleResult{
			Moneyline: uint8(contracts.MoneylineDraw),
			OverUnder: uint8(contracts.OverUnderUnder),
		}
	}
	expected[entity.CycleMatchCount-1] = contracts.CycleResult{
		Moneyline: uint8(contracts.MoneylineNotApplicable),
		OverUnder: uint8(contracts.OverUnderNotApplicable),
	}
	wantData, err := h.reg.OddysseyABI().Pack("resolveDailyCycle", big.NewInt(7), expected)
	if err != nil {
		t.Fatalf("packing expected calldata: %v", err)
	}
	if !bytes.Equal(gotData, wantData) {
		t.Fatal("stale fixture was not voided in the resolution payload")
	}
}

func TestResolveDueReusesPreparedResults(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	kickoff := now.Add(-5 * time.Hour)
	ids := fixtureIDRange(2001, entity.CycleMatchCount)

	h.seedCycle(t, 8, entity.CycleEnded, ids, kickoff)

	slots := make([]preparedSlot, entity.CycleMatchCount)
	for i := range slots {
		slots[i] = preparedSlot{
			Moneyline: uint8(contracts.MoneylineDraw),
			OverUnder: uint8(contracts.OverUnderOver),
		}
	}
	payload, err := json.Marshal(slots)
	if err != nil {
		t.Fatalf("marshalling prepared slots: %v", err)
	}
	if err := h.cycles.SetPreparedResults(ctx, 8, payload); err != nil {
		t.Fatalf("SetPreparedResults: %v", err)
	}

	// No fixtures are seeded: the prepared payload must carry the cycle.
	if err := h.driver.ResolveDue(ctx, now); err != nil {
		t.Fatalf("ResolveDue: %v", err)
	}

	var expected [entity.CycleMatchCount]contracts.CycleResult
	for i := range expected {
		expected[i] = contracts.CycleResult{
			Moneyline: uint8(contracts.MoneylineDraw),
			OverUnder: uint8(contracts.OverUnderOver),
		}
	}
	wantData, err := h.reg.OddysseyABI().Pack("resolveDailyCycle", big.NewInt(8), expected)
	if err != nil {
		t.Fatalf("packing expected calldata: %v", err)
	}
	gotData := h.chain.calldata("resolveDailyCycle")
	if gotData == nil {
		t.Fatal("resolveDailyCycle not broadcast")
	}
	if !bytes.Equal(gotData, wantData) {
		t.Fatal("resolution did not reuse the prepared payload")
	}
}

func TestResolveDueNoCycles(t *testing.T) {
	h := newTestHarness(t)
	if err := h.driver.ResolveDue(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("ResolveDue: %v", err)
	}
	if sent := h.chain.sentMethods(); len(sent) != 0 {
		t.Fatalf("broadcast with no due cycles: %v", sent)
	}
}
