package chainrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
)

func filterQuery(from, to uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
	}
}

// =============================================================================
// JSON-RPC test server
// =============================================================================

type rpcHandler func(method string) (result any, errMsg string)

// rpcServer speaks just enough JSON-RPC 2.0 for ethclient.
func rpcServer(t *testing.T, handler rpcHandler) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, errMsg := handler(req.Method)
		w.Header().Set("Content-Type", "application/json")
		if errMsg != "" {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32000,"message":%q}}`, req.ID, errMsg)
			return
		}
		out, _ := json.Marshal(result)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, out)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testGateway(t *testing.T, urls []string, mutate func(*GatewayConfig)) *Gateway {
	t.Helper()
	cfg := GatewayConfig{
		URLs:           urls,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		RequestTimeout: 2 * time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	g, err := NewGateway(cfg)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	t.Cleanup(g.Close)
	return g
}

// =============================================================================
// Tests
// =============================================================================

func TestGatewayRequiresURLs(t *testing.T) {
	_, err := NewGateway(GatewayConfig{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err == nil {
		t.Fatal("expected error for empty url list")
	}
}

func TestGatewayBlockNumber(t *testing.T) {
	srv, _ := rpcServer(t, func(method string) (any, string) {
		if method != "eth_blockNumber" {
			return nil, "unexpected method " + method
		}
		return "0x64", ""
	})
	g := testGateway(t, []string{srv.URL}, nil)

	head, err := g.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if head != 100 {
		t.Fatalf("head = %d, want 100", head)
	}
}

func TestGatewayFailsOverToSecondEndpoint(t *testing.T) {
	bad, badCalls := rpcServer(t, func(method string) (any, string) {
		return nil, "connection refused"
	})
	good, _ := rpcServer(t, func(method string) (any, string) {
		return "0x2a", ""
	})
	g := testGateway(t, []string{bad.URL, good.URL}, nil)

	head, err := g.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if head != 42 {
		t.Fatalf("head = %d, want 42", head)
	}
	if badCalls.Load() == 0 {
		t.Fatal("bad endpoint was never tried")
	}

	// The working endpoint is promoted; the bad one is not retried first.
	before := badCalls.Load()
	if _, err := g.BlockNumber(context.Background()); err != nil {
		t.Fatalf("second BlockNumber: %v", err)
	}
	if badCalls.Load() != before {
		t.Fatal("bad endpoint tried again after promotion")
	}
}

func TestGatewayFailsOverFromHangingEndpoint(t *testing.T) {
	hung := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	t.Cleanup(hung.Close)
	good, _ := rpcServer(t, func(method string) (any, string) {
		return "0x2a", ""
	})
	g := testGateway(t, []string{hung.URL, good.URL}, func(cfg *GatewayConfig) {
		cfg.RequestTimeout = 100 * time.Millisecond
	})

	head, err := g.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber should rotate past a hung endpoint: %v", err)
	}
	if head != 42 {
		t.Fatalf("head = %d, want 42", head)
	}
}

func TestGatewayStopsOnCallerCancellation(t *testing.T) {
	hung := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	t.Cleanup(hung.Close)
	g := testGateway(t, []string{hung.URL}, func(cfg *GatewayConfig) {
		cfg.RequestTimeout = 50 * time.Millisecond
		cfg.Rotations = 100
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(120 * time.Millisecond)
		cancel()
	}()

	_, err := g.BlockNumber(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled once the caller gives up", err)
	}
}

func TestGatewayAllEndpointsDown(t *testing.T) {
	bad, _ := rpcServer(t, func(method string) (any, string) {
		return nil, "boom"
	})
	g := testGateway(t, []string{bad.URL}, nil)

	_, err := g.BlockNumber(context.Background())
	if !errors.Is(err, ErrNoHealthyEndpoint) {
		t.Fatalf("err = %v, want ErrNoHealthyEndpoint", err)
	}
}

func TestGatewayBreakerSkipsTrippedEndpoint(t *testing.T) {
	bad, badCalls := rpcServer(t, func(method string) (any, string) {
		return nil, "boom"
	})
	g := testGateway(t, []string{bad.URL}, func(cfg *GatewayConfig) {
		cfg.BreakerThreshold = 2
		cfg.BreakerCooldown = time.Minute
	})

	if _, err := g.BlockNumber(context.Background()); err == nil {
		t.Fatal("expected failure")
	}
	tried := badCalls.Load()
	if tried != 2 {
		t.Fatalf("attempts before trip = %d, want 2", tried)
	}

	// Breaker is open: the next request never reaches the endpoint.
	if _, err := g.BlockNumber(context.Background()); !errors.Is(err, ErrNoHealthyEndpoint) {
		t.Fatalf("err = %v, want ErrNoHealthyEndpoint", err)
	}
	if badCalls.Load() != tried {
		t.Fatal("tripped endpoint still receiving requests")
	}
}

func TestFilterLogsSurfacesBlockRangeError(t *testing.T) {
	srv, calls := rpcServer(t, func(method string) (any, string) {
		return nil, "query returned more than 10000 results"
	})
	g := testGateway(t, []string{srv.URL}, nil)

	q := filterQuery(1000, 1500)
	_, err := g.FilterLogs(context.Background(), q)
	var rangeErr *BlockRangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("err = %v, want BlockRangeError", err)
	}
	if rangeErr.From != 1000 || rangeErr.To != 1500 {
		t.Fatalf("range = %d-%d", rangeErr.From, rangeErr.To)
	}
	if calls.Load() != 1 {
		t.Fatalf("range error retried %d times", calls.Load())
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{errors.New("execution reverted: nope"), false},
		{errors.New("nonce too low"), false},
		{errors.New("query returned more than 10000 results"), false},
		{errors.New("connection reset by peer"), true},
		{errors.New("502 bad gateway"), true},
	}
	for _, tc := range cases {
		if got := isRetryable(tc.err); got != tc.want {
			t.Fatalf("isRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
