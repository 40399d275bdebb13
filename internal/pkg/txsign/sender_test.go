package txsign

import (
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

	"github.com/bitredict/relayer/internal/pkg/contracts/abis"
)

// Well-known throwaway development key.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// =============================================================================
// Mock Implementations
// =============================================================================

type mockChain struct {
	mu sync.Mutex

	blockNumber   uint64
	pendingNonce  uint64
	gasPrice      *big.Int
	gasPriceErr   error
	gasEstimate   uint64
	estimateErr   error
	sendErr       error
	receiptStatus uint64
	callErr       error

	sentTxs []*types.Transaction
}

func newMockChain() *mockChain {
	return &mockChain{
		blockNumber:   100,
		pendingNonce:  7,
		gasPrice:      big.NewInt(1_000_000_000),
		gasEstimate:   100_000,
		receiptStatus: types.ReceiptStatusSuccessful,
	}
}

func (m *mockChain) BlockNumber(ctx context.Context) (uint64, error) {
	return m.blockNumber, nil
}

func (m *mockChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (m *mockChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, m.callErr
}

func (m *mockChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentTxs = append(m.sentTxs, tx)
	return nil
}

func (m *mockChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{
		Status:      m.receiptStatus,
		TxHash:      txHash,
		BlockNumber: big.NewInt(int64(m.blockNumber)),
	}, nil
}

func (m *mockChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return m.pendingNonce, nil
}

func (m *mockChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if m.gasPriceErr != nil {
		return nil, m.gasPriceErr
	}
	return m.gasPrice, nil
}

func (m *mockChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if m.estimateErr != nil {
		return 0, m.estimateErr
	}
	return m.gasEstimate, nil
}

func (m *mockChain) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(50312), nil
}

func (m *mockChain) lastTx(t *testing.T) *types.Transaction {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sentTxs) == 0 {
		t.Fatal("no transaction sent")
	}
	return m.sentTxs[len(m.sentTxs)-1]
}

func testSender(t *testing.T, chain *mockChain) *Sender {
	t.Helper()
	wallet, err := NewWallet(testKey)
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	sender, err := NewSender(context.Background(), chain, wallet, SenderConfig{
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		ReceiptPollInterval: time.Millisecond,
		ReceiptTimeout:      time.Second,
	})
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	return sender
}

// =============================================================================
// Tests
// =============================================================================

func TestNewWalletDerivesAddress(t *testing.T) {
	wallet, err := NewWallet("0x" + testKey)
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	want := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	if wallet.Address() != want {
		t.Fatalf("address = %s, want %s", wallet.Address(), want)
	}
}

func TestNewWalletRejectsGarbage(t *testing.T) {
	for _, key := range []string{"", "0x", "not-hex", "abcd"} {
		if _, err := NewWallet(key); err == nil {
			t.Fatalf("NewWallet(%q) succeeded, want error", key)
		}
	}
}

func TestSendSuccess(t *testing.T) {
	chain := newMockChain()
	sender := testSender(t, chain)

	poolCore, err := abis.GetPoolCoreABI()
	if err != nil {
		t.Fatalf("GetPoolCoreABI: %v", err)
	}

	to := common.HexToAddress("0x1000000000000000000000000000000000000001")
	receipt, err := sender.Send(context.Background(), to, poolCore, "settlePool",
		big.NewInt(42), [32]byte{0x01})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		t.Fatalf("receipt status = %d", receipt.Status)
	}

	tx := chain.lastTx(t)
	if tx.Nonce() != 7 {
		t.Fatalf("nonce = %d, want 7", tx.Nonce())
	}
	// 20% buffer on the 100k estimate.
	if tx.Gas() != 120_000 {
		t.Fatalf("gas limit = %d, want 120000", tx.Gas())
	}
	if tx.GasPrice().Cmp(big.NewInt(20_000_000_000)) < 0 {
		t.Fatalf("gas price %s below floor", tx.GasPrice())
	}
}

func TestSendIncrementsNonce(t *testing.T) {
	chain := newMockChain()
	sender := testSender(t, chain)

	oracle, err := abis.GetGuidedOracleABI()
	if err != nil {
		t.Fatalf("GetGuidedOracleABI: %v", err)
	}

	to := common.HexToAddress("0x1000000000000000000000000000000000000002")
	for i := 0; i < 3; i++ {
		if _, err := sender.Send(context.Background(), to, oracle, "submitOutcome", "m1", []byte("1")); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	chain.mu.Lock()
	defer chain.mu.Unlock()
	if len(chain.sentTxs) != 3 {
		t.Fatalf("sent %d transactions", len(chain.sentTxs))
	}
	for i, tx := range chain.sentTxs {
		if tx.Nonce() != uint64(7+i) {
			t.Fatalf("tx %d nonce = %d, want %d", i, tx.Nonce(), 7+i)
		}
	}
}

func TestSendClassifiesRevert(t *testing.T) {
	chain := newMockChain()
	chain.receiptStatus = types.ReceiptStatusFailed
	chain.callErr = errors.New("execution reverted: Pool already settled")
	sender := testSender(t, chain)

	poolCore, err := abis.GetPoolCoreABI()
	if err != nil {
		t.Fatalf("GetPoolCoreABI: %v", err)
	}

	to := common.HexToAddress("0x1000000000000000000000000000000000000001")
	_, err = sender.Send(context.Background(), to, poolCore, "settlePoolAutomatically", big.NewInt(9))
	if !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("err = %v, want ErrAlreadySettled", err)
	}
	var revert *RevertError
	if !errors.As(err, &revert) {
		t.Fatalf("err = %v, want RevertError in chain", err)
	}
}

func TestSendFallbackGasLimit(t *testing.T) {
	chain := newMockChain()
	chain.estimateErr = errors.New("execution reverted")
	sender := testSender(t, chain)

	oracle, err := abis.GetGuidedOracleABI()
	if err != nil {
		t.Fatalf("GetGuidedOracleABI: %v", err)
	}

	to := common.HexToAddress("0x1000000000000000000000000000000000000002")
	if _, err := sender.Send(context.Background(), to, oracle, "submitOutcome", "m1", []byte("2")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := chain.lastTx(t).Gas(); got != 300_000 {
		t.Fatalf("gas limit = %d, want submitOutcome fallback 300000", got)
	}
}

func TestGasPriceFallsBackToFloor(t *testing.T) {
	chain := newMockChain()
	chain.gasPriceErr = errors.New("rpc unavailable")
	sender := testSender(t, chain)

	oracle, err := abis.GetGuidedOracleABI()
	if err != nil {
		t.Fatalf("GetGuidedOracleABI: %v", err)
	}

	to := common.HexToAddress("0x1000000000000000000000000000000000000002")
	if _, err := sender.Send(context.Background(), to, oracle, "submitOutcome", "m2", []byte("X")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := chain.lastTx(t).GasPrice(); got.Cmp(big.NewInt(20_000_000_000)) != 0 {
		t.Fatalf("gas price = %s, want 20 gwei floor", got)
	}
}

func TestClassifyRevert(t *testing.T) {
	cases := []struct {
		reason string
		want   error
	}{
		{"Pool already settled", ErrAlreadySettled},
		{"Event has not ended yet", ErrEventNotEnded},
		{"Outcome not set", ErrOutcomeNotSet},
		{"Outcome already exists", ErrOutcomeAlreadyExists},
		{"insufficient funds for gas * price + value", ErrInsufficientFunds},
		{"something unexpected", nil},
	}
	for _, tc := range cases {
		if got := ClassifyRevert(tc.reason); !errors.Is(got, tc.want) {
			t.Fatalf("ClassifyRevert(%q) = %v, want %v", tc.reason, got, tc.want)
		}
	}
}
