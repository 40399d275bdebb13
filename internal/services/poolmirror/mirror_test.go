package poolmirror

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/bitredict/relayer/internal/adapters/outbound/memory"
	"github.com/bitredict/relayer/internal/domain/entity"
	"github.com/bitredict/relayer/internal/pkg/contracts"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Mock Implementations
// =============================================================================

// mockChain serves poolCount() and pools(id) from a scripted map.
type mockChain struct {
	mu  sync.Mutex
	reg *contracts.Registry

	poolCount uint64
	pools     map[uint64][]byte
}

func (m *mockChain) BlockNumber(ctx context.Context) (uint64, error) { return 300, nil }

func (m *mockChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (m *mockChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	poolCoreABI := m.reg.PoolCoreABI()
	switch {
	case bytes.HasPrefix(msg.Data, poolCoreABI.Methods["poolCount"].ID):
		return poolCoreABI.Methods["poolCount"].Outputs.Pack(new(big.Int).SetUint64(m.poolCount))
	case bytes.HasPrefix(msg.Data, poolCoreABI.Methods["pools"].ID):
		args, err := poolCoreABI.Methods["pools"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		id := args[0].(*big.Int).Uint64()
		resp, ok := m.pools[id]
		if !ok {
			return nil, errors.New("no pool state scripted")
		}
		return resp, nil
	}
	return nil, errors.New("unexpected contract call")
}

func (m *mockChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return errors.New("mirror must not send transactions")
}

func (m *mockChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (m *mockChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (m *mockChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *mockChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (m *mockChain) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(50312), nil
}

// =============================================================================
// Helpers
// =============================================================================

func testRegistry(t *testing.T) *contracts.Registry {
	t.Helper()
	reg, err := contracts.NewRegistry(contracts.Addresses{
		PoolCore:     common.HexToAddress("0x3000000000000000000000000000000000000001"),
		GuidedOracle: common.HexToAddress("0x3000000000000000000000000000000000000002"),
		Oddyssey:     common.HexToAddress("0x3000000000000000000000000000000000000003"),
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func b32(t *testing.T, s string) [32]byte {
	t.Helper()
	b, err := contracts.EncodeBytes32String(s)
	if err != nil {
		t.Fatalf("EncodeBytes32String(%q): %v", s, err)
	}
	return b
}

func guidedPool(t *testing.T, poolID uint64, fixtureID, predicted string, bettorStake int64) *entity.Pool {
	t.Helper()
	now := time.Now().Unix()
	return &entity.Pool{
		PoolID:                poolID,
		Creator:               common.HexToAddress("0xabc0000000000000000000000000000000000002"),
		PredictedOutcome:      common.Hash(b32(t, predicted)),
		Odds:                  185,
		CreatorStake:          big.NewInt(2_000_000),
		TotalCreatorSideStake: big.NewInt(2_000_000),
		TotalBettorStake:      big.NewInt(bettorStake),
		MaxBettorStake:        big.NewInt(2_352_941),
		EventStartTime:        now + 3600,
		EventEndTime:          now + 10800,
		BettingEndTime:        now + 3540,
		ArbitrationDeadline:   now + 97200,
		Oracle:                entity.OracleGuided,
		MarketID:              fixtureID,
		League:                "Serie A",
		HomeTeam:              "Inter",
		AwayTeam:              "Milan",
	}
}

func packPoolState(t *testing.T, reg *contracts.Registry, p *entity.Pool) []byte {
	t.Helper()
	packed, err := reg.PoolCoreABI().Methods["pools"].Outputs.Pack(
		p.Creator,
		[32]byte(p.PredictedOutcome),
		uint16(p.Odds),
		p.CreatorStake,
		p.TotalCreatorSideStake,
		p.TotalBettorStake,
		p.MaxBettorStake,
		big.NewInt(p.EventStartTime),
		big.NewInt(p.EventEndTime),
		big.NewInt(p.BettingEndTime),
		big.NewInt(p.ArbitrationDeadline),
		uint8(p.Oracle),
		p.MarketType,
		p.MarketID,
		[32]byte(p.Result),
		p.Flags.Pack(),
		b32(t, p.League),
		b32(t, p.Category),
		b32(t, p.Region),
		b32(t, p.HomeTeam),
		b32(t, p.AwayTeam),
		b32(t, p.Title),
	)
	if err != nil {
		t.Fatalf("packing pool state: %v", err)
	}
	return packed
}

func poolCreatedLog(t *testing.T, reg *contracts.Registry, p *entity.Pool) types.Log {
	t.Helper()
	event := reg.PoolCoreABI().Events[contracts.EventPoolCreated]
	data, err := event.Inputs.NonIndexed().Pack(
		uint8(p.Oracle), p.MarketID,
		big.NewInt(p.EventStartTime), big.NewInt(p.EventEndTime))
	if err != nil {
		t.Fatalf("packing PoolCreated: %v", err)
	}
	return types.Log{
		Address:     reg.PoolCoreAddress(),
		Topics:      []common.Hash{event.ID, common.BigToHash(new(big.Int).SetUint64(p.PoolID)), common.BytesToHash(p.Creator.Bytes())},
		Data:        data,
		BlockNumber: 300,
		TxHash:      common.HexToHash("0xc1"),
	}
}

func betPlacedLog(t *testing.T, reg *contracts.Registry, poolID uint64, amount int64, forOutcome bool, txHash common.Hash, index uint) types.Log {
	t.Helper()
	event := reg.PoolCoreABI().Events[contracts.EventBetPlaced]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(amount), forOutcome)
	if err != nil {
		t.Fatalf("packing BetPlaced: %v", err)
	}
	bettor := common.HexToAddress("0xbe7000000000000000000000000000000000000b")
	return types.Log{
		Address:     reg.PoolCoreAddress(),
		Topics:      []common.Hash{event.ID, common.BigToHash(new(big.Int).SetUint64(poolID)), common.BytesToHash(bettor.Bytes())},
		Data:        data,
		BlockNumber: 301,
		TxHash:      txHash,
		Index:       index,
	}
}

type testHarness struct {
	chain     *mockChain
	pools     *memory.PoolRepository
	bets      *memory.BetRepository
	markets   *memory.MarketRepository
	anomalies *memory.AnomalyRepository
	metrics   *memory.MetricsRecorder
	mirror    *Mirror
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	reg := testRegistry(t)
	chain := &mockChain{reg: reg, pools: map[uint64][]byte{}}
	reader, err := contracts.NewReader(chain, reg)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	pools := memory.NewPoolRepository()
	bets := memory.NewBetRepository()
	fixtures := memory.NewFixtureRepository()
	submissions := memory.NewSubmissionRepository()
	markets := memory.NewMarketRepository(pools, fixtures, submissions)
	anomalies := memory.NewAnomalyRepository()
	metrics := memory.NewMetricsRecorder()

	mirror, err := NewMirror(MirrorConfig{Logger: discardLogger()}, Deps{
		Reader:    reader,
		Registry:  reg,
		TxManager: memory.NewTxManager(),
		Pools:     pools,
		Bets:      bets,
		Markets:   markets,
		Anomalies: anomalies,
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatalf("NewMirror: %v", err)
	}
	return &testHarness{
		chain: chain, pools: pools, bets: bets, markets: markets,
		anomalies: anomalies, metrics: metrics, mirror: mirror,
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestPoolCreatedMirrorsPoolAndMarket(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	pool := guidedPool(t, 5, "777", "1", 0)
	h.chain.pools[5] = packPoolState(t, h.chain.reg, pool)

	if err := h.mirror.HandleLog(ctx, nil, poolCreatedLog(t, h.chain.reg, pool)); err != nil {
		t.Fatalf("HandleLog: %v", err)
	}

	stored, err := h.pools.GetPool(ctx, 5)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if stored == nil {
		t.Fatal("pool not mirrored")
	}
	if stored.MarketID != "777" || stored.League != "Serie A" {
		t.Errorf("pool fields lost: marketId=%q league=%q", stored.MarketID, stored.League)
	}

	markets, err := h.markets.ListByFixture(ctx, "777")
	if err != nil {
		t.Fatalf("ListByFixture: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("markets = %d, want 1", len(markets))
	}
	if markets[0].OutcomeType != entity.OutcomeType1X2 {
		t.Errorf("outcome type = %s, want 1X2", markets[0].OutcomeType)
	}
	if markets[0].PredictedOutcome != "1" {
		t.Errorf("predicted outcome = %q, want %q", markets[0].PredictedOutcome, "1")
	}
}

func TestPoolCreatedSkipsMarketForUnknownSelection(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// A guided pool on a non-football market: the predicted outcome does
	// not map to any tracked market type.
	pool := guidedPool(t, 6, "btc-above-100k", "AboveTarget", 0)
	h.chain.pools[6] = packPoolState(t, h.chain.reg, pool)

	if err := h.mirror.HandleLog(ctx, nil, poolCreatedLog(t, h.chain.reg, pool)); err != nil {
		t.Fatalf("HandleLog: %v", err)
	}

	if stored, _ := h.pools.GetPool(ctx, 6); stored == nil {
		t.Fatal("pool itself must still be mirrored")
	}
	markets, _ := h.markets.ListByFixture(ctx, "btc-above-100k")
	if len(markets) != 0 {
		t.Fatalf("markets = %d, want none", len(markets))
	}
}

func TestBetPlacedMirrorsMissingPoolFirst(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	pool := guidedPool(t, 8, "801", "Over", 1000)
	h.chain.pools[8] = packPoolState(t, h.chain.reg, pool)

	log := betPlacedLog(t, h.chain.reg, 8, 1000, true, common.HexToHash("0xb1"), 0)
	if err := h.mirror.HandleLog(ctx, nil, log); err != nil {
		t.Fatalf("HandleLog: %v", err)
	}

	stored, _ := h.pools.GetPool(ctx, 8)
	if stored == nil {
		t.Fatal("bet on unknown pool must mirror the pool first")
	}
	if stored.TotalBettorStake.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("bettor stake = %s, want 1000", stored.TotalBettorStake)
	}
	count, _ := h.bets.CountByPool(ctx, 8)
	if count != 1 {
		t.Errorf("bet count = %d, want 1", count)
	}
}

func TestBetPlacedOnFreshlyMirroredPoolKeepsSnapshotStake(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// The latest pool view already includes the incoming bet's 1000, so
	// mirroring plus an increment would report 2000.
	pool := guidedPool(t, 14, "804", "Over", 1000)
	h.chain.pools[14] = packPoolState(t, h.chain.reg, pool)

	log := betPlacedLog(t, h.chain.reg, 14, 1000, true, common.HexToHash("0xb4"), 0)
	if err := h.mirror.HandleLog(ctx, nil, log); err != nil {
		t.Fatalf("HandleLog: %v", err)
	}

	stored, _ := h.pools.GetPool(ctx, 14)
	if stored == nil {
		t.Fatal("bet on unknown pool must mirror the pool first")
	}
	if stored.TotalBettorStake.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("bettor stake = %s, want 1000 (snapshot already counts the bet)", stored.TotalBettorStake)
	}
	count, _ := h.bets.CountByPool(ctx, 14)
	if count != 1 {
		t.Errorf("bet count = %d, want 1", count)
	}

	// A later bet against a pool that is already mirrored still increments.
	later := betPlacedLog(t, h.chain.reg, 14, 500, true, common.HexToHash("0xb5"), 1)
	if err := h.mirror.HandleLog(ctx, nil, later); err != nil {
		t.Fatalf("HandleLog: %v", err)
	}
	stored, _ = h.pools.GetPool(ctx, 14)
	if stored.TotalBettorStake.Cmp(big.NewInt(1500)) != 0 {
		t.Errorf("bettor stake = %s, want 1500 after second bet", stored.TotalBettorStake)
	}
}

func TestBetPlacedDuplicateDoesNotDoubleCount(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	pool := guidedPool(t, 9, "802", "1", 0)
	h.chain.pools[9] = packPoolState(t, h.chain.reg, pool)
	if err := h.pools.UpsertPool(ctx, nil, pool); err != nil {
		t.Fatalf("seeding pool: %v", err)
	}

	log := betPlacedLog(t, h.chain.reg, 9, 2500, true, common.HexToHash("0xb2"), 3)
	for i := 0; i < 2; i++ {
		if err := h.mirror.HandleLog(ctx, nil, log); err != nil {
			t.Fatalf("HandleLog #%d: %v", i+1, err)
		}
	}

	stored, _ := h.pools.GetPool(ctx, 9)
	if stored.TotalBettorStake.Cmp(big.NewInt(2500)) != 0 {
		t.Errorf("bettor stake = %s, want 2500 after duplicate delivery", stored.TotalBettorStake)
	}
	count, _ := h.bets.CountByPool(ctx, 9)
	if count != 1 {
		t.Errorf("bet count = %d, want 1", count)
	}
}

func TestBetAgainstOutcomeDoesNotAddStake(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	pool := guidedPool(t, 10, "803", "X", 0)
	if err := h.pools.UpsertPool(ctx, nil, pool); err != nil {
		t.Fatalf("seeding pool: %v", err)
	}

	log := betPlacedLog(t, h.chain.reg, 10, 900, false, common.HexToHash("0xb3"), 1)
	if err := h.mirror.HandleLog(ctx, nil, log); err != nil {
		t.Fatalf("HandleLog: %v", err)
	}

	stored, _ := h.pools.GetPool(ctx, 10)
	if stored.TotalBettorStake.Sign() != 0 {
		t.Errorf("bettor stake = %s, want 0 for creator-side bet", stored.TotalBettorStake)
	}
	count, _ := h.bets.CountByPool(ctx, 10)
	if count != 1 {
		t.Errorf("bet count = %d, want 1", count)
	}
}

func TestPoolSettledUpdatesMirror(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	pool := guidedPool(t, 12, "804", "1", 4000)
	if err := h.pools.UpsertPool(ctx, nil, pool); err != nil {
		t.Fatalf("seeding pool: %v", err)
	}

	event := h.chain.reg.PoolCoreABI().Events[contracts.EventPoolSettled]
	result := contracts.OutcomeHash([]byte("1"))
	data, err := event.Inputs.NonIndexed().Pack([32]byte(result), true, big.NewInt(time.Now().Unix()))
	if err != nil {
		t.Fatalf("packing PoolSettled: %v", err)
	}
	log := types.Log{
		Address: h.chain.reg.PoolCoreAddress(),
		Topics:  []common.Hash{event.ID, common.BigToHash(big.NewInt(12))},
		Data:    data,
		TxHash:  common.HexToHash("0xc2"),
	}
	if err := h.mirror.HandleLog(ctx, nil, log); err != nil {
		t.Fatalf("HandleLog: %v", err)
	}

	stored, _ := h.pools.GetPool(ctx, 12)
	if !stored.Flags.Settled || !stored.Flags.CreatorSideWon {
		t.Errorf("flags = %+v, want settled and creator-side-won", stored.Flags)
	}
	if stored.Result != result {
		t.Errorf("result = %s, want %s", stored.Result, result)
	}
	if h.metrics.PoolsSettled != 1 {
		t.Errorf("settled metric = %d, want 1", h.metrics.PoolsSettled)
	}
}

func TestBackfillReconstructsPoolsAndFlagsGaps(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	clean := guidedPool(t, 0, "805", "1", 0)
	gapped := guidedPool(t, 1, "806", "2", 500)
	h.chain.poolCount = 2
	h.chain.pools[0] = packPoolState(t, h.chain.reg, clean)
	h.chain.pools[1] = packPoolState(t, h.chain.reg, gapped)

	if err := h.mirror.Backfill(ctx); err != nil {
		t.Fatalf("Backfill: %v", err)
	}

	for id := uint64(0); id < 2; id++ {
		if stored, _ := h.pools.GetPool(ctx, id); stored == nil {
			t.Fatalf("pool %d not backfilled", id)
		}
	}

	anomalies, err := h.anomalies.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %d, want 1 (only the pool with unexplained stake)", len(anomalies))
	}
	if anomalies[0].Kind != entity.AnomalyHistoricalGap {
		t.Errorf("anomaly kind = %s, want %s", anomalies[0].Kind, entity.AnomalyHistoricalGap)
	}
	if anomalies[0].PoolID == nil || *anomalies[0].PoolID != 1 {
		t.Errorf("anomaly pool = %v, want 1", anomalies[0].PoolID)
	}
}

func TestBackfillSkipsWhenCaughtUp(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	pool := guidedPool(t, 0, "807", "1", 0)
	h.chain.poolCount = 1
	if err := h.pools.UpsertPool(ctx, nil, pool); err != nil {
		t.Fatalf("seeding pool: %v", err)
	}

	// No pools scripted on the mock: any read would fail the test.
	if err := h.mirror.Backfill(ctx); err != nil {
		t.Fatalf("Backfill: %v", err)
	}
}

func TestHandleLogIgnoresUnknownTopics(t *testing.T) {
	h := newTestHarness(t)
	log := types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}}
	if err := h.mirror.HandleLog(context.Background(), nil, log); err != nil {
		t.Fatalf("HandleLog: %v", err)
	}
}
