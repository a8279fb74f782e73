package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchsentry/launchsentry/internal/retry"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// rpcHandler answers JSON-RPC requests with canned per-method responses.
func rpcHandler(t *testing.T, handlers map[string]func(params []json.RawMessage) (interface{}, *rpcError)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		h, ok := handlers[req.Method]
		if !ok {
			t.Fatalf("unexpected rpc method %s", req.Method)
		}
		result, rpcErr := h(req.Params)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}
}

func newTestClient(t *testing.T, server *httptest.Server, chunkSize uint64) *Client {
	return NewClient(Options{
		Chain:     "base",
		RPCURL:    server.URL,
		RateLimit: 1000,
		ChunkSize: chunkSize,
		Retry:     retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}, testLogger())
}

func TestBlockNumber(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, map[string]func([]json.RawMessage) (interface{}, *rpcError){
		"eth_blockNumber": func([]json.RawMessage) (interface{}, *rpcError) {
			return "0x1b4", nil
		},
	}))
	defer server.Close()

	c := newTestClient(t, server, 0)
	head, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(436), head)
}

func TestGetLogs_ChunksRange(t *testing.T) {
	var calls int64
	server := httptest.NewServer(rpcHandler(t, map[string]func([]json.RawMessage) (interface{}, *rpcError){
		"eth_getLogs": func(params []json.RawMessage) (interface{}, *rpcError) {
			atomic.AddInt64(&calls, 1)
			return []Log{{Address: "0xtoken", BlockNumber: "0x1"}}, nil
		},
	}))
	defer server.Close()

	c := newTestClient(t, server, 100)
	logs, err := c.GetLogs(context.Background(), []string{"0xfactory"}, nil, 1, 250)
	require.NoError(t, err)
	// 1-100, 101-200, 201-250
	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
	assert.Len(t, logs, 3)
}

func TestGetLogs_SkipsFailedChunks(t *testing.T) {
	var calls int64
	server := httptest.NewServer(rpcHandler(t, map[string]func([]json.RawMessage) (interface{}, *rpcError){
		"eth_getLogs": func(params []json.RawMessage) (interface{}, *rpcError) {
			n := atomic.AddInt64(&calls, 1)
			// second chunk always fails with a non-retryable error
			if n == 2 {
				return nil, &rpcError{Code: -32602, Message: "invalid params"}
			}
			return []Log{{Address: "0xtoken"}}, nil
		},
	}))
	defer server.Close()

	c := newTestClient(t, server, 100)
	logs, err := c.GetLogs(context.Background(), nil, nil, 1, 300)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestGetTransactionReceipt(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, map[string]func([]json.RawMessage) (interface{}, *rpcError){
		"eth_getTransactionReceipt": func(params []json.RawMessage) (interface{}, *rpcError) {
			return Receipt{
				TransactionHash: "0xdead",
				ContractAddress: "0xc0ffee",
				Status:          "0x1",
			}, nil
		},
	}))
	defer server.Close()

	c := newTestClient(t, server, 0)
	receipt, err := c.GetTransactionReceipt(context.Background(), "0xdead")
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, "0xc0ffee", receipt.ContractAddress)
}

func TestGetTransactionReceipt_NotFound(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, map[string]func([]json.RawMessage) (interface{}, *rpcError){
		"eth_getTransactionReceipt": func(params []json.RawMessage) (interface{}, *rpcError) {
			return nil, nil
		},
	}))
	defer server.Close()

	c := newTestClient(t, server, 0)
	_, err := c.GetTransactionReceipt(context.Background(), "0xmissing")
	require.Error(t, err)
}

func TestCall_RetriesServerErrors(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":"0x10"}`)
	}))
	defer server.Close()

	c := newTestClient(t, server, 0)
	head, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(16), head)
	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
}

func TestCall_RateLimitCodeMapsToRetryable(t *testing.T) {
	var calls int64
	server := httptest.NewServer(rpcHandler(t, map[string]func([]json.RawMessage) (interface{}, *rpcError){
		"eth_blockNumber": func([]json.RawMessage) (interface{}, *rpcError) {
			if atomic.AddInt64(&calls, 1) == 1 {
				return nil, &rpcError{Code: -32005, Message: "exceeded rps"}
			}
			return "0x20", nil
		},
	}))
	defer server.Close()

	c := newTestClient(t, server, 0)
	head, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(32), head)
}

func TestHexHelpers(t *testing.T) {
	n, err := HexToUint64("0xff")
	require.NoError(t, err)
	assert.Equal(t, uint64(255), n)

	_, err = HexToUint64("0xzz")
	require.Error(t, err)

	big, err := HexToBig("0xde0b6b3a7640000") // 1e18
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", big.String())

	assert.Equal(t, "0x1234567890abcdef1234567890abcdef12345678",
		TopicToAddress("0x0000000000000000000000001234567890AbCdEf1234567890aBcDeF12345678"))
	assert.Equal(t, "", TopicToAddress("0x1234"))
}

func TestBreaker_OpensAfterFailuresAndRecovers(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      20 * time.Millisecond,
	}, testLogger())

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	time.Sleep(25 * time.Millisecond)
	require.NoError(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())

	b.RecordSuccess()
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{
		FailureThreshold: 1,
		OpenTimeout:      10 * time.Millisecond,
	}, testLogger())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
}
