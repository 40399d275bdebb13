package settlement

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
	"github.com/bitredict/relayer/internal/pkg/txsign"
	"github.com/bitredict/relayer/internal/ports/outbound"
)

// Well-known throwaway development key.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Mock Implementations
// =============================================================================

// mockChain serves the contract views the coordinator reads and records the
// transactions it sends. pools() responses are a queue so a test can change
// the chain's answer between reads.
type mockChain struct {
	mu  sync.Mutex
	reg *contracts.Registry

	poolQueue   [][]byte
	outcomeResp []byte

	sendErrs    map[string]error
	sentMethods []string
}

func (m *mockChain) methodByID(data []byte) string {
	for name, method := range m.reg.PoolCoreABI().Methods {
		if bytes.HasPrefix(data, method.ID) {
			return name
		}
	}
	for name, method := range m.reg.GuidedOracleABI().Methods {
		if bytes.HasPrefix(data, method.ID) {
			return name
		}
	}
	return ""
}

func (m *mockChain) BlockNumber(ctx context.Context) (uint64, error) { return 100, nil }

func (m *mockChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (m *mockChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.methodByID(msg.Data) {
	case "pools":
		if len(m.poolQueue) == 0 {
			return nil, errors.New("no pool state scripted")
		}
		resp := m.poolQueue[0]
		if len(m.poolQueue) > 1 {
			m.poolQueue = m.poolQueue[1:]
		}
		return resp, nil
	case "outcomes":
		return m.outcomeResp, nil
	}
	return nil, errors.New("unexpected contract call")
}

func (m *mockChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	method := m.methodByID(tx.Data())
	if err := m.sendErrs[method]; err != nil {
		return err
	}
	m.sentMethods = append(m.sentMethods, method)
	return nil
}

func (m *mockChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: big.NewInt(100),
	}, nil
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

func (m *mockChain) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sentMethods...)
}

// =============================================================================
// Helpers
// =============================================================================

func testRegistry(t *testing.T) *contracts.Registry {
	t.Helper()
	reg, err := contracts.NewRegistry(contracts.Addresses{
		PoolCore:     common.HexToAddress("0x1000000000000000000000000000000000000001"),
		GuidedOracle: common.HexToAddress("0x1000000000000000000000000000000000000002"),
		Oddyssey:     common.HexToAddress("0x1000000000000000000000000000000000000003"),
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

func packOutcome(t *testing.T, reg *contracts.Registry, isSet bool, result []byte, ts int64) []byte {
	t.Helper()
	packed, err := reg.GuidedOracleABI().Methods["outcomes"].Outputs.Pack(
		isSet, result, big.NewInt(ts))
	if err != nil {
		t.Fatalf("packing outcome: %v", err)
	}
	return packed
}

func openGuidedPool(t *testing.T, poolID uint64, marketID string, bettorStake int64) *entity.Pool {
	t.Helper()
	predicted, err := contracts.EncodeBytes32String("1")
	if err != nil {
		t.Fatalf("encoding predicted outcome: %v", err)
	}
	now := time.Now().Unix()
	return &entity.Pool{
		PoolID:                poolID,
		Creator:               common.HexToAddress("0xabc0000000000000000000000000000000000001"),
		PredictedOutcome:      common.Hash(predicted),
		Odds:                  250,
		CreatorStake:          big.NewInt(1_000_000),
		TotalCreatorSideStake: big.NewInt(1_000_000),
		TotalBettorStake:      big.NewInt(bettorStake),
		MaxBettorStake:        big.NewInt(666_666),
		EventStartTime:        now - 7200,
		EventEndTime:          now - 3600,
		BettingEndTime:        now - 7260,
		ArbitrationDeadline:   now + 86400,
		Oracle:                entity.OracleGuided,
		MarketID:              marketID,
		League:                "Bundesliga",
		HomeTeam:              "Bayern",
		AwayTeam:              "Dortmund",
	}
}

type testHarness struct {
	chain   *mockChain
	pools   *memory.PoolRepository
	alerts  *memory.AlertSink
	metrics *memory.MetricsRecorder
	coord   *Coordinator
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	reg := testRegistry(t)
	chain := &mockChain{reg: reg, sendErrs: map[string]error{}}

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

	pools := memory.NewPoolRepository()
	alerts := memory.NewAlertSink()
	metrics := memory.NewMetricsRecorder()
	coord, err := NewCoordinator(CoordinatorConfig{Logger: discardLogger()}, Deps{
		Reader:    reader,
		Registry:  reg,
		Sender:    sender,
		TxManager: memory.NewTxManager(),
		Pools:     pools,
		Alerts:    alerts,
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return &testHarness{chain: chain, pools: pools, alerts: alerts, metrics: metrics, coord: coord}
}

func containsMethod(methods []string, want string) bool {
	for _, m := range methods {
		if m == want {
			return true
		}
	}
	return false
}

// =============================================================================
// Tests
// =============================================================================

func TestSweepSettlesPoolWithOutcome(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	pool := openGuidedPool(t, 7, "fixture:900:1x2", 500_000)
	if err := h.pools.UpsertPool(ctx, nil, pool); err != nil {
		t.Fatalf("seeding pool: %v", err)
	}
	h.chain.poolQueue = [][]byte{packPoolState(t, h.chain.reg, pool)}
	h.chain.outcomeResp = packOutcome(t, h.chain.reg, true, []byte("1"), time.Now().Unix())

	if err := h.coord.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if !containsMethod(h.chain.sent(), "settlePool") {
		t.Fatalf("settlePool not sent, got %v", h.chain.sent())
	}
	stored, err := h.pools.GetPool(ctx, 7)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if !stored.Flags.Settled {
		t.Error("pool not marked settled")
	}
	if !stored.Flags.CreatorSideWon {
		t.Error("creator predicted the submitted result and must win")
	}
	if len(stored.SettlementTx) == 0 {
		t.Error("settlement tx hash not recorded")
	}
	if h.metrics.PoolsSettled != 1 {
		t.Errorf("settled metric = %d, want 1", h.metrics.PoolsSettled)
	}
}

func TestSweepRefundsNoBetsPool(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	pool := openGuidedPool(t, 9, "fixture:901:1x2", 0)
	if err := h.pools.UpsertPool(ctx, nil, pool); err != nil {
		t.Fatalf("seeding pool: %v", err)
	}
	h.chain.poolQueue = [][]byte{packPoolState(t, h.chain.reg, pool)}

	if err := h.coord.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if !containsMethod(h.chain.sent(), "refundPool") {
		t.Fatalf("refundPool not sent, got %v", h.chain.sent())
	}
	if containsMethod(h.chain.sent(), "settlePool") {
		t.Error("no-bets pool must not be settled")
	}
	stored, _ := h.pools.GetPool(ctx, 9)
	if !stored.Flags.Refunded {
		t.Error("pool not marked refunded")
	}
	if h.metrics.PoolsRefunded != 1 {
		t.Errorf("refunded metric = %d, want 1", h.metrics.PoolsRefunded)
	}
}

func TestSweepParksPoolWithoutOutcome(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	pool := openGuidedPool(t, 11, "fixture:902:1x2", 250_000)
	if err := h.pools.UpsertPool(ctx, nil, pool); err != nil {
		t.Fatalf("seeding pool: %v", err)
	}
	h.chain.poolQueue = [][]byte{packPoolState(t, h.chain.reg, pool)}
	h.chain.outcomeResp = packOutcome(t, h.chain.reg, false, nil, 0)

	if err := h.coord.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(h.chain.sent()) != 0 {
		t.Fatalf("no transaction expected, got %v", h.chain.sent())
	}
	stored, _ := h.pools.GetPool(ctx, 11)
	if !stored.IsOpen() {
		t.Error("parked pool must stay open")
	}
}

func TestSweepReconcilesAlreadySettledPool(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	pool := openGuidedPool(t, 13, "fixture:903:1x2", 400_000)
	if err := h.pools.UpsertPool(ctx, nil, pool); err != nil {
		t.Fatalf("seeding pool: %v", err)
	}

	settled := *pool
	settled.Flags.Settled = true
	settled.Flags.CreatorSideWon = true
	settled.Result = contracts.OutcomeHash([]byte("1"))

	h.chain.poolQueue = [][]byte{
		packPoolState(t, h.chain.reg, pool),
		packPoolState(t, h.chain.reg, &settled),
	}
	h.chain.outcomeResp = packOutcome(t, h.chain.reg, true, []byte("1"), time.Now().Unix())
	h.chain.sendErrs["settlePool"] = errors.New("execution reverted: Pool already settled")

	if err := h.coord.Sweep(ctx); err != nil {
		t.Fatalf("Sweep must absorb the already-settled revert: %v", err)
	}

	stored, _ := h.pools.GetPool(ctx, 13)
	if !stored.Flags.Settled {
		t.Error("chain state not reconciled into the mirror")
	}
	if !stored.Flags.CreatorSideWon {
		t.Error("creator-side-won flag not copied from chain")
	}
}

func TestSweepAlertsOnInsufficientFunds(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	pool := openGuidedPool(t, 17, "fixture:904:1x2", 100_000)
	if err := h.pools.UpsertPool(ctx, nil, pool); err != nil {
		t.Fatalf("seeding pool: %v", err)
	}
	h.chain.poolQueue = [][]byte{packPoolState(t, h.chain.reg, pool)}
	h.chain.outcomeResp = packOutcome(t, h.chain.reg, true, []byte("1"), time.Now().Unix())
	h.chain.sendErrs["settlePool"] = errors.New("insufficient funds for gas * price + value")

	if err := h.coord.Sweep(ctx); err == nil {
		t.Fatal("expected error when the wallet cannot pay gas")
	}

	alerts := h.alerts.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Severity != outbound.AlertCritical {
		t.Errorf("alert severity = %s, want critical", alerts[0].Severity)
	}
}

func TestHandleLogQueuesTrigger(t *testing.T) {
	h := newTestHarness(t)
	reg := h.chain.reg

	marketHash := contracts.MarketIDHash("fixture:905:1x2")
	event := reg.GuidedOracleABI().Events[contracts.EventOutcomeSubmitted]
	data, err := event.Inputs.NonIndexed().Pack([]byte("2"), big.NewInt(time.Now().Unix()))
	if err != nil {
		t.Fatalf("packing event data: %v", err)
	}
	log := types.Log{
		Address: reg.GuidedOracleAddress(),
		Topics:  []common.Hash{event.ID, marketHash},
		Data:    data,
	}

	if err := h.coord.HandleLog(context.Background(), nil, log); err != nil {
		t.Fatalf("HandleLog: %v", err)
	}

	select {
	case got := <-h.coord.triggers:
		if got != marketHash {
			t.Errorf("queued hash = %s, want %s", got, marketHash)
		}
	default:
		t.Fatal("no trigger queued")
	}
}

func TestHandleLogIgnoresForeignEvents(t *testing.T) {
	h := newTestHarness(t)

	log := types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}}
	if err := h.coord.HandleLog(context.Background(), nil, log); err != nil {
		t.Fatalf("HandleLog: %v", err)
	}
	select {
	case <-h.coord.triggers:
		t.Fatal("unknown event must not queue a trigger")
	default:
	}
}
