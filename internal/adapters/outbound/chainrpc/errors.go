// Package chainrpc implements the chain gateway over one or more JSON-RPC
// endpoints with failover and a per-endpoint circuit breaker.
package chainrpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
)

// ErrNoHealthyEndpoint is returned when every configured endpoint is in
// cooldown or failed during the request.
var ErrNoHealthyEndpoint = errors.New("no healthy rpc endpoint available")

// BlockRangeError reports that a provider rejected a getLogs window as too
// large. Callers shrink the window instead of retrying.
type BlockRangeError struct {
	From, To uint64
	cause    error
}

func (e *BlockRangeError) Error() string {
	return fmt.Sprintf("block range %d-%d too large: %v", e.From, e.To, e.cause)
}

func (e *BlockRangeError) Unwrap() error { return e.cause }

// Substrings providers use to signal getLogs range limits. Collected from
// Alchemy, Infura, QuickNode, and bare geth/erigon deployments.
var blockRangeMarkers = []string{
	"block range",
	"query returned more than",
	"exceed maximum block range",
	"range too large",
	"too many blocks",
	"limit exceeded",
}

func isBlockRangeErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range blockRangeMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// isRetryable classifies transport-level failures worth trying on another
// endpoint. Application-level rejections (reverts, range limits) are not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// DeadlineExceeded here is the per-attempt request timeout firing on a
	// hung endpoint; the next endpoint gets its own deadline. The caller's
	// own cancellation is checked against the parent context in do.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// A pending transaction's receipt is legitimately absent; let the
	// caller poll instead of burning the rotation budget.
	if errors.Is(err, ethereum.NotFound) {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "execution reverted"):
		return false
	case strings.Contains(msg, "nonce too low"):
		return false
	case strings.Contains(msg, "already known"):
		return false
	case isBlockRangeErr(err):
		return false
	default:
		return true
	}
}
