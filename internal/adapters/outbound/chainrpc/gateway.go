package chainrpc

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/bitredict/relayer/internal/ports/outbound"
)

// Compile-time check that Gateway implements outbound.ChainGateway
var _ outbound.ChainGateway = (*Gateway)(nil)

// GatewayConfig holds configuration for the failover RPC gateway.
type GatewayConfig struct {
	// URLs are the JSON-RPC endpoints in preference order.
	URLs []string

	Logger *slog.Logger

	// RequestTimeout bounds a single RPC attempt.
	RequestTimeout time.Duration

	// Rotations is how many full passes over the endpoint list a request
	// makes before giving up.
	Rotations int

	// InitialBackoff is the delay after the first failed attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff growth.
	MaxBackoff time.Duration

	// BreakerThreshold is the consecutive-failure count that trips an
	// endpoint's circuit breaker.
	BreakerThreshold int

	// BreakerCooldown is how long a tripped endpoint sits out before a
	// trial request is allowed through.
	BreakerCooldown time.Duration
}

// GatewayConfigDefaults returns a config with default values.
func GatewayConfigDefaults() GatewayConfig {
	return GatewayConfig{
		RequestTimeout:   30 * time.Second,
		Rotations:        2,
		InitialBackoff:   500 * time.Millisecond,
		MaxBackoff:       8 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

type endpoint struct {
	url    string
	client *ethclient.Client

	mu             sync.Mutex
	failures       int
	unhealthyUntil time.Time
}

// available reports whether the endpoint may serve a request. A tripped
// endpoint becomes available again once its cooldown expires (half-open).
func (e *endpoint) available(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.After(e.unhealthyUntil)
}

func (e *endpoint) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = 0
	e.unhealthyUntil = time.Time{}
}

func (e *endpoint) recordFailure(threshold int, cooldown time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures++
	if e.failures >= threshold {
		e.unhealthyUntil = time.Now().Add(cooldown)
		e.failures = 0
		return true
	}
	return false
}

// Gateway fans requests out across endpoints: each request walks the list
// starting from the last endpoint that worked, skipping endpoints whose
// breaker is open.
type Gateway struct {
	config    GatewayConfig
	logger    *slog.Logger
	endpoints []*endpoint

	mu      sync.Mutex
	current int
}

// NewGateway dials every endpoint. Dialing HTTP endpoints is lazy, so a
// dead endpoint surfaces on first use rather than here.
func NewGateway(config GatewayConfig) (*Gateway, error) {
	if len(config.URLs) == 0 {
		return nil, fmt.Errorf("at least one rpc url is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	defaults := GatewayConfigDefaults()
	if config.RequestTimeout == 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.Rotations == 0 {
		config.Rotations = defaults.Rotations
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BreakerThreshold == 0 {
		config.BreakerThreshold = defaults.BreakerThreshold
	}
	if config.BreakerCooldown == 0 {
		config.BreakerCooldown = defaults.BreakerCooldown
	}

	g := &Gateway{
		config: config,
		logger: config.Logger.With("component", "chain_gateway"),
	}
	for _, url := range config.URLs {
		client, err := ethclient.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", url, err)
		}
		g.endpoints = append(g.endpoints, &endpoint{url: url, client: client})
	}
	return g, nil
}

// Close releases all endpoint connections.
func (g *Gateway) Close() {
	for _, ep := range g.endpoints {
		ep.client.Close()
	}
}

// next returns the preferred endpoint for the given attempt number.
func (g *Gateway) next(attempt int) *endpoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.endpoints[(g.current+attempt)%len(g.endpoints)]
}

func (g *Gateway) promote(ep *endpoint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, candidate := range g.endpoints {
		if candidate == ep {
			g.current = i
			return
		}
	}
}

// do walks the endpoint list until fn succeeds, an attempt fails with a
// non-retryable error, or the rotation budget runs out.
func do[T any](ctx context.Context, g *Gateway, op string, fn func(ctx context.Context, client *ethclient.Client) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := g.config.Rotations * len(g.endpoints)
	backoff := g.config.InitialBackoff

	for attempt := 0; attempt < attempts; attempt++ {
		ep := g.next(attempt)
		if !ep.available(time.Now()) {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, g.config.RequestTimeout)
		result, err := fn(callCtx, ep.client)
		cancel()

		if err == nil {
			ep.recordSuccess()
			g.promote(ep)
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !isRetryable(err) {
			return zero, err
		}

		if tripped := ep.recordFailure(g.config.BreakerThreshold, g.config.BreakerCooldown); tripped {
			g.logger.Warn("endpoint circuit breaker tripped",
				"endpoint", ep.url, "cooldown", g.config.BreakerCooldown)
		}
		g.logger.Debug("rpc attempt failed",
			"op", op, "endpoint", ep.url, "attempt", attempt+1, "error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > g.config.MaxBackoff {
			backoff = g.config.MaxBackoff
		}
	}

	if lastErr == nil {
		return zero, fmt.Errorf("%s: %w", op, ErrNoHealthyEndpoint)
	}
	return zero, fmt.Errorf("%s: %w (last: %v)", op, ErrNoHealthyEndpoint, lastErr)
}

func (g *Gateway) BlockNumber(ctx context.Context) (uint64, error) {
	return do(ctx, g, "eth_blockNumber", func(ctx context.Context, client *ethclient.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
}

func (g *Gateway) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := do(ctx, g, "eth_getLogs", func(ctx context.Context, client *ethclient.Client) ([]types.Log, error) {
		return client.FilterLogs(ctx, q)
	})
	if err != nil && isBlockRangeErr(err) {
		var from, to uint64
		if q.FromBlock != nil {
			from = q.FromBlock.Uint64()
		}
		if q.ToBlock != nil {
			to = q.ToBlock.Uint64()
		}
		return nil, &BlockRangeError{From: from, To: to, cause: err}
	}
	return logs, err
}

func (g *Gateway) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return do(ctx, g, "eth_call", func(ctx context.Context, client *ethclient.Client) ([]byte, error) {
		return client.CallContract(ctx, msg, blockNumber)
	})
}

func (g *Gateway) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := do(ctx, g, "eth_sendRawTransaction", func(ctx context.Context, client *ethclient.Client) (struct{}, error) {
		return struct{}{}, client.SendTransaction(ctx, tx)
	})
	return err
}

func (g *Gateway) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return do(ctx, g, "eth_getTransactionReceipt", func(ctx context.Context, client *ethclient.Client) (*types.Receipt, error) {
		return client.TransactionReceipt(ctx, txHash)
	})
}

func (g *Gateway) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return do(ctx, g, "eth_getTransactionCount", func(ctx context.Context, client *ethclient.Client) (uint64, error) {
		return client.PendingNonceAt(ctx, account)
	})
}

func (g *Gateway) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return do(ctx, g, "eth_gasPrice", func(ctx context.Context, client *ethclient.Client) (*big.Int, error) {
		return client.SuggestGasPrice(ctx)
	})
}

func (g *Gateway) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return do(ctx, g, "eth_estimateGas", func(ctx context.Context, client *ethclient.Client) (uint64, error) {
		return client.EstimateGas(ctx, msg)
	})
}

func (g *Gateway) ChainID(ctx context.Context) (*big.Int, error) {
	return do(ctx, g, "eth_chainId", func(ctx context.Context, client *ethclient.Client) (*big.Int, error) {
		return client.ChainID(ctx)
	})
}
