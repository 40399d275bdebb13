// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainGateway is the minimal JSON-RPC surface the pipeline needs. The
// production adapter rotates across multiple endpoints with failover and a
// circuit breaker; services never see individual endpoints.
type ChainGateway interface {
	// BlockNumber returns the current chain head.
	BlockNumber(ctx context.Context) (uint64, error)

	// FilterLogs fetches logs matching the query. A provider block-range
	// limit surfaces as *chainrpc.BlockRangeError so callers can shrink
	// their window instead of retrying.
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)

	// CallContract executes a read-only contract call at the given block
	// (nil for latest).
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)

	// SendTransaction broadcasts a signed transaction.
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// TransactionReceipt returns the receipt, or ethereum.NotFound while
	// the transaction is pending.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// PendingNonceAt returns the next nonce for the account.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	// SuggestGasPrice returns the node's gas price estimate.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// EstimateGas estimates the gas needed to execute the call.
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)

	// ChainID returns the chain id used for transaction signing.
	ChainID(ctx context.Context) (*big.Int, error)
}
