// Package chain wraps read access to one EVM chain behind a rate limiter,
// retry policy and provider circuit breaker.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/launchsentry/launchsentry/internal/ratelimit"
	"github.com/launchsentry/launchsentry/internal/retry"
)

// DefaultChunkSize bounds getLogs ranges per provider request.
const DefaultChunkSize = 1000

// Reader is the read-only view connectors and jobs depend on.
type Reader interface {
	Chain() string
	BlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, addresses []string, topics [][]string, fromBlock, toBlock uint64) ([]Log, error)
	GetBlock(ctx context.Context, number uint64, withTxs bool) (*Block, error)
	GetTransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
	CallContract(ctx context.Context, to, data string) (string, error)
}

// Options configures a Client.
type Options struct {
	Chain      string
	RPCURL     string
	RateLimit  float64 // tokens/sec; <=0 defaults to 10
	ChunkSize  uint64  // blocks per getLogs request; <=0 defaults to 1000
	Timeout    time.Duration
	Retry      retry.Policy
	Breaker    BreakerConfig
	HTTPClient *http.Client
}

// Client talks JSON-RPC to one chain provider.
type Client struct {
	chain     string
	rpcURL    string
	http      *http.Client
	limiter   *ratelimit.Limiter
	retry     retry.Policy
	breaker   *Breaker
	chunkSize uint64
	logger    *logrus.Logger
	reqID     atomic.Uint64
}

// NewClient creates a chain client. Every call is admitted through the
// client's rate limiter and wrapped by its retry policy.
func NewClient(opts Options, logger *logrus.Logger) *Client {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.BaseDelay == 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		chain:     opts.Chain,
		rpcURL:    opts.RPCURL,
		http:      httpClient,
		limiter:   ratelimit.New(opts.RateLimit, 0),
		retry:     opts.Retry,
		breaker:   NewBreaker(opts.Chain, opts.Breaker, logger),
		chunkSize: opts.ChunkSize,
		logger:    logger,
	}
}

// Chain returns the chain identifier this client serves.
func (c *Client) Chain() string {
	return c.chain
}

// BlockNumber returns the provider's current head block.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var raw string
	if err := c.call(ctx, "eth_blockNumber", []interface{}{}, &raw); err != nil {
		return 0, err
	}
	return HexToUint64(raw)
}

// GetLogs fetches logs for [fromBlock, toBlock], chunking the range to
// respect provider limits. Individual chunk failures are logged and skipped
// rather than aborting the scan; coverage jobs audit completeness
// independently.
func (c *Client) GetLogs(ctx context.Context, addresses []string, topics [][]string, fromBlock, toBlock uint64) ([]Log, error) {
	if fromBlock > toBlock {
		return nil, nil
	}

	var out []Log
	var failedChunks int
	for start := fromBlock; start <= toBlock; start += c.chunkSize {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		end := start + c.chunkSize - 1
		if end > toBlock {
			end = toBlock
		}

		chunk, err := c.getLogsRange(ctx, addresses, topics, start, end)
		if err != nil {
			failedChunks++
			c.logger.WithFields(logrus.Fields{
				"chain":      c.chain,
				"from_block": start,
				"to_block":   end,
			}).WithError(err).Warn("Log chunk failed, skipping")
			continue
		}
		out = append(out, chunk...)
	}

	if failedChunks > 0 {
		c.logger.WithFields(logrus.Fields{
			"chain":         c.chain,
			"failed_chunks": failedChunks,
		}).Warn("Scan completed with skipped chunks")
	}
	return out, nil
}

func (c *Client) getLogsRange(ctx context.Context, addresses []string, topics [][]string, fromBlock, toBlock uint64) ([]Log, error) {
	filter := map[string]interface{}{
		"fromBlock": Uint64ToHex(fromBlock),
		"toBlock":   Uint64ToHex(toBlock),
	}
	if len(addresses) > 0 {
		filter["address"] = addresses
	}
	if len(topics) > 0 {
		filter["topics"] = topics
	}

	var logs []Log
	if err := c.call(ctx, "eth_getLogs", []interface{}{filter}, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// GetBlock fetches one block, optionally with full transaction bodies.
func (c *Client) GetBlock(ctx context.Context, number uint64, withTxs bool) (*Block, error) {
	var block Block
	if err := c.call(ctx, "eth_getBlockByNumber", []interface{}{Uint64ToHex(number), withTxs}, &block); err != nil {
		return nil, err
	}
	if block.Number == "" {
		return nil, fmt.Errorf("block %d not found on %s", number, c.chain)
	}
	return &block, nil
}

// GetTransactionReceipt fetches a transaction receipt.
func (c *Client) GetTransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var receipt Receipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{txHash}, &receipt); err != nil {
		return nil, err
	}
	if receipt.TransactionHash == "" {
		return nil, fmt.Errorf("receipt for %s not found on %s", txHash, c.chain)
	}
	return &receipt, nil
}

// CallContract performs a read-only eth_call at the latest block and returns
// the raw hex result.
func (c *Client) CallContract(ctx context.Context, to, data string) (string, error) {
	params := []interface{}{
		map[string]interface{}{"to": to, "data": data},
		"latest",
	}
	var result string
	if err := c.call(ctx, "eth_call", params, &result); err != nil {
		return "", err
	}
	return result, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call routes a single RPC method through the limiter, breaker and retry
// policy, decoding the result into out.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	return c.retry.Do(ctx, c.logger, c.chain+"/"+method, func(ctx context.Context) error {
		if err := c.breaker.Allow(); err != nil {
			return err
		}
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}

		err := c.doRequest(ctx, method, params, out)
		if err != nil {
			c.breaker.RecordFailure()
			return err
		}
		c.breaker.RecordSuccess()
		return nil
	})
}

func (c *Client) doRequest(ctx context.Context, method string, params []interface{}, out interface{}) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.WithError(cerr).Debug("Error closing rpc response body")
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read rpc response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &retry.HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("failed to unmarshal rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		// -32005 is the conventional rate-limit code
		if rpcResp.Error.Code == -32005 {
			return &retry.HTTPError{StatusCode: 429, Body: rpcResp.Error.Message}
		}
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil && len(rpcResp.Result) > 0 && string(rpcResp.Result) != "null" {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to unmarshal rpc result: %w", err)
		}
	}
	return nil
}
