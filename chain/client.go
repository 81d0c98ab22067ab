package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-chainsync/cache"
	"github.com/saiset-co/sai-chainsync/types"
	"github.com/saiset-co/sai-chainsync/utils"
)

const DefaultTimeout = 8 * time.Second

var rpcDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// StatusError is a non-200 answer from a node. Gateway and rate limit statuses are transient.
type StatusError struct {
	Code     int
	Endpoint string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rpc endpoint %s answered HTTP %d", e.Endpoint, e.Code)
}

func (e *StatusError) StatusCode() int {
	return e.Code
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
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type endpoint struct {
	url     string
	breaker *CircuitBreaker
}

type Option func(*Client)

// WithDial replaces the dialer, e.g. with an in-memory listener in tests.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) {
		c.http.Dial = dial
	}
}

func WithMetrics(metrics types.MetricsManager) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// Client speaks JSON-RPC 2.0 to one or more nodes. Calls rotate over the configured
// URLs and move on to the next one when a node fails transiently.
type Client struct {
	logger    types.Logger
	metrics   types.MetricsManager
	http      *fasthttp.Client
	endpoints []*endpoint
	next      atomic.Uint32
	ids       atomic.Uint64
	timeout   time.Duration
}

func NewClient(logger types.Logger, config *types.ChainConfig, opts ...Option) (*Client, error) {
	if config == nil || len(config.RPCURLs) == 0 {
		return nil, types.ErrRPCEndpointMissing
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		logger: logger,
		http: &fasthttp.Client{
			Name:                "sai-chainsync",
			MaxConnsPerHost:     config.MaxConnsPerHost,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 90 * time.Second,
		},
		timeout: timeout,
	}

	for _, url := range config.RPCURLs {
		c.endpoints = append(c.endpoints, &endpoint{
			url:     url,
			breaker: NewCircuitBreaker(config.CircuitBreaker, logger, url),
		})
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Call invokes method and decodes the result into out. out may be nil.
func (c *Client) Call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if params == nil {
		params = []interface{}{}
	}

	body, err := utils.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.ids.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return types.WrapError(err, "failed to marshal rpc request")
	}

	start := c.next.Add(1) - 1
	var lastErr error

	for i := range c.endpoints {
		ep := c.endpoints[(int(start)+i)%len(c.endpoints)]

		err := c.callEndpoint(ctx, ep, method, body, out)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil || !cache.IsTransient(err) {
			return err
		}

		lastErr = err
		if i < len(c.endpoints)-1 {
			c.logger.Warn("RPC endpoint failed, trying next",
				zap.String("endpoint", ep.url),
				zap.String("method", method),
				zap.Error(err))
		}
	}

	return lastErr
}

// EthCall executes a read-only contract call against the latest block.
func (c *Client) EthCall(ctx context.Context, to string, data []byte) ([]byte, error) {
	var result string
	call := map[string]string{
		"to":   to,
		"data": EncodeHex(data),
	}

	if err := c.Call(ctx, "eth_call", []interface{}{call, "latest"}, &result); err != nil {
		return nil, err
	}

	return DecodeHex(result)
}

func (c *Client) Balance(ctx context.Context, account string) (*big.Int, error) {
	var result string
	if err := c.Call(ctx, "eth_getBalance", []interface{}{account, "latest"}, &result); err != nil {
		return nil, err
	}

	return DecodeQuantity(result)
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.Call(ctx, "eth_blockNumber", nil, &result); err != nil {
		return 0, err
	}

	n, err := DecodeQuantity(result)
	if err != nil {
		return 0, err
	}

	if !n.IsUint64() {
		return 0, types.Errorf(types.ErrMalformedResponse, "block number %s out of range", result)
	}

	return n.Uint64(), nil
}

// BreakerStates reports the circuit breaker state per endpoint.
func (c *Client) BreakerStates() map[string]string {
	states := make(map[string]string, len(c.endpoints))
	for _, ep := range c.endpoints {
		states[ep.url] = ep.breaker.State().String()
	}
	return states
}

func (c *Client) callEndpoint(ctx context.Context, ep *endpoint, method string, body []byte, out interface{}) (err error) {
	started := time.Now()
	defer func() {
		c.recordCall(method, started, err)
	}()

	if !ep.breaker.CanExecute() {
		return types.Transient(types.Errorf(types.ErrCircuitBreakerOpen, "endpoint: %s", ep.url))
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(ep.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		ep.breaker.RecordFailure()
		if ctx.Err() != nil {
			return types.WrapError(ctx.Err(), fmt.Sprintf("rpc %s aborted", method))
		}
		return types.Transient(types.Errorf(types.ErrClientRequestFailed, "%s %s: %v", ep.url, method, err))
	}

	if status := resp.StatusCode(); status != fasthttp.StatusOK {
		statusErr := &StatusError{Code: status, Endpoint: ep.url}
		if cache.IsRetryableStatus(status) {
			ep.breaker.RecordFailure()
		}
		return statusErr
	}

	ep.breaker.RecordSuccess()

	var response rpcResponse
	if err := utils.Unmarshal(resp.Body(), &response); err != nil {
		return types.Errorf(types.ErrMalformedResponse, "%s: %v", method, err)
	}

	if response.Error != nil {
		return types.Errorf(types.ErrRPCResponse, "%s: code %d: %s", method, response.Error.Code, response.Error.Message)
	}

	if len(response.Result) == 0 || string(response.Result) == "null" {
		return types.Errorf(types.ErrMalformedResponse, "%s: empty result", method)
	}

	if out == nil {
		return nil
	}

	if err := utils.UnmarshalInto(response.Result, out); err != nil {
		return types.Errorf(types.ErrMalformedResponse, "%s: %v", method, err)
	}

	return nil
}

func (c *Client) recordCall(method string, started time.Time, err error) {
	if c.metrics == nil {
		return
	}

	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, types.ErrCircuitBreakerOpen):
		result = "rejected"
	default:
		result = "error"
	}

	c.metrics.Counter("rpc_requests_total", map[string]string{
		"method": method,
		"result": result,
	}).Inc()

	c.metrics.Histogram("rpc_request_duration_seconds", rpcDurationBuckets, map[string]string{
		"method": method,
	}).ObserveDuration(started)
}
