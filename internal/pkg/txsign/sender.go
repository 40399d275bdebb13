package txsign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/bitredict/relayer/internal/ports/outbound"
)

// Known revert reasons mapped to sentinel errors so callers can branch on
// them instead of parsing node error strings.
var (
	ErrAlreadySettled       = errors.New("pool already settled")
	ErrEventNotEnded        = errors.New("event has not ended")
	ErrOutcomeNotSet        = errors.New("outcome not set")
	ErrOutcomeAlreadyExists = errors.New("outcome already exists")
	ErrInsufficientFunds    = errors.New("insufficient funds for gas")
)

// RevertError reports an on-chain revert, keeping the raw reason for
// logging.
type RevertError struct {
	TxHash common.Hash
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transaction %s reverted", e.TxHash)
	}
	return fmt.Sprintf("transaction %s reverted: %s", e.TxHash, e.Reason)
}

// ClassifyRevert maps a revert reason string onto a sentinel error. Unknown
// reasons return nil so callers fall back to the raw RevertError.
func ClassifyRevert(reason string) error {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "already settled"):
		return ErrAlreadySettled
	case strings.Contains(lower, "not ended"):
		return ErrEventNotEnded
	case strings.Contains(lower, "outcome not set"), strings.Contains(lower, "no outcome"):
		return ErrOutcomeNotSet
	case strings.Contains(lower, "already exists"), strings.Contains(lower, "already submitted"):
		return ErrOutcomeAlreadyExists
	case strings.Contains(lower, "insufficient funds"):
		return ErrInsufficientFunds
	default:
		return nil
	}
}

// SenderConfig carries the tuning knobs of the transaction sender.
type SenderConfig struct {
	Logger *slog.Logger

	// ReceiptPollInterval is how often the sender polls for a receipt.
	ReceiptPollInterval time.Duration
	// ReceiptTimeout bounds the total wait for inclusion.
	ReceiptTimeout time.Duration
	// GasBufferPercent is added on top of the node's gas estimate.
	GasBufferPercent int64
	// GasLimitFallbacks maps method names to a hard gas limit used when
	// estimation fails.
	GasLimitFallbacks map[string]uint64
	// MinGasPrice floors the suggested gas price.
	MinGasPrice *big.Int
}

func senderDefaults(cfg SenderConfig) SenderConfig {
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = 3 * time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 90 * time.Second
	}
	if cfg.GasBufferPercent <= 0 {
		cfg.GasBufferPercent = 20
	}
	if cfg.GasLimitFallbacks == nil {
		cfg.GasLimitFallbacks = map[string]uint64{
			"submitOutcome":           300_000,
			"settlePool":              500_000,
			"settlePoolAutomatically": 500_000,
			"refundPool":              400_000,
			"startDailyCycle":         2_000_000,
			"resolveDailyCycle":       1_500_000,
		}
	}
	if cfg.MinGasPrice == nil {
		cfg.MinGasPrice = big.NewInt(20_000_000_000) // 20 gwei
	}
	return cfg
}

// Sender signs and broadcasts contract transactions from the relayer
// wallet, serialising nonce allocation so concurrent services never race.
type Sender struct {
	chain   outbound.ChainGateway
	wallet  *Wallet
	cfg     SenderConfig
	logger  *slog.Logger
	chainID *big.Int

	mu        sync.Mutex
	nonceInit bool
	nextNonce uint64
}

// NewSender validates dependencies and resolves the chain ID once.
func NewSender(ctx context.Context, chain outbound.ChainGateway, wallet *Wallet, cfg SenderConfig) (*Sender, error) {
	if chain == nil {
		return nil, fmt.Errorf("chain gateway is required")
	}
	if wallet == nil {
		return nil, fmt.Errorf("wallet is required")
	}
	cfg = senderDefaults(cfg)
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	chainID, err := chain.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving chain id: %w", err)
	}

	return &Sender{
		chain:   chain,
		wallet:  wallet,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "tx_sender"),
		chainID: chainID,
	}, nil
}

// From returns the sending address.
func (s *Sender) From() common.Address {
	return s.wallet.Address()
}

// Send packs a contract call, signs it, broadcasts it, and waits for its
// receipt. A mined transaction with status 0 yields a *RevertError wrapping
// any classified sentinel.
func (s *Sender) Send(ctx context.Context, to common.Address, contractABI *abi.ABI, method string, args ...any) (*types.Receipt, error) {
	calldata, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}

	gasPrice, err := s.gasPrice(ctx)
	if err != nil {
		return nil, err
	}
	gasLimit := s.gasLimit(ctx, to, calldata, method)

	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, err := s.allocateNonce(ctx)
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.wallet.PrivateKey())
	if err != nil {
		return nil, fmt.Errorf("signing %s: %w", method, err)
	}

	if err := s.chain.SendTransaction(ctx, signed); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "nonce too low") {
			s.nonceInit = false
		}
		if classified := ClassifyRevert(err.Error()); classified != nil {
			return nil, fmt.Errorf("broadcasting %s: %w", method, classified)
		}
		return nil, fmt.Errorf("broadcasting %s: %w", method, err)
	}
	s.nextNonce = nonce + 1

	s.logger.Info("transaction broadcast",
		"method", method,
		"tx_hash", signed.Hash().Hex(),
		"nonce", nonce,
		"gas_limit", gasLimit)

	receipt, err := s.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		reason := s.revertReason(ctx, to, calldata, receipt)
		revert := &RevertError{TxHash: signed.Hash(), Reason: reason}
		if classified := ClassifyRevert(reason); classified != nil {
			return receipt, fmt.Errorf("%w: %w", classified, revert)
		}
		return receipt, revert
	}
	return receipt, nil
}

func (s *Sender) allocateNonce(ctx context.Context) (uint64, error) {
	if !s.nonceInit {
		nonce, err := s.chain.PendingNonceAt(ctx, s.wallet.Address())
		if err != nil {
			return 0, fmt.Errorf("fetching pending nonce: %w", err)
		}
		s.nextNonce = nonce
		s.nonceInit = true
	}
	return s.nextNonce, nil
}

func (s *Sender) gasPrice(ctx context.Context) (*big.Int, error) {
	suggested, err := s.chain.SuggestGasPrice(ctx)
	if err != nil {
		s.logger.Warn("gas price suggestion failed, using floor", "error", err)
		return new(big.Int).Set(s.cfg.MinGasPrice), nil
	}
	// 10% headroom over the suggestion, floored at MinGasPrice.
	price := new(big.Int).Mul(suggested, big.NewInt(110))
	price.Div(price, big.NewInt(100))
	if price.Cmp(s.cfg.MinGasPrice) < 0 {
		price.Set(s.cfg.MinGasPrice)
	}
	return price, nil
}

func (s *Sender) gasLimit(ctx context.Context, to common.Address, calldata []byte, method string) uint64 {
	estimate, err := s.chain.EstimateGas(ctx, ethereum.CallMsg{
		From: s.wallet.Address(),
		To:   &to,
		Data: calldata,
	})
	if err != nil {
		fallback := s.cfg.GasLimitFallbacks[method]
		if fallback == 0 {
			fallback = 500_000
		}
		s.logger.Warn("gas estimation failed, using fallback",
			"method", method, "fallback", fallback, "error", err)
		return fallback
	}
	return estimate + estimate*uint64(s.cfg.GasBufferPercent)/100
}

func (s *Sender) waitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(s.cfg.ReceiptTimeout)
	ticker := time.NewTicker(s.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.chain.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			s.logger.Warn("receipt lookup failed", "tx_hash", txHash.Hex(), "error", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("transaction %s not mined within %s", txHash.Hex(), s.cfg.ReceiptTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// revertReason replays the calldata at the failing block to recover the
// revert string. Best effort: nodes that prune state return nothing.
func (s *Sender) revertReason(ctx context.Context, to common.Address, calldata []byte, receipt *types.Receipt) string {
	_, err := s.chain.CallContract(ctx, ethereum.CallMsg{
		From: s.wallet.Address(),
		To:   &to,
		Data: calldata,
	}, receipt.BlockNumber)
	if err == nil {
		return ""
	}
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted"); idx >= 0 {
		reason := strings.TrimPrefix(msg[idx:], "execution reverted")
		return strings.TrimLeft(reason, ": ")
	}
	return msg
}
