package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CodeNotFound is the JSON-RPC error code a node uses for missing records.
const CodeNotFound = -32004

// RPCClient is the production Ledger adapter. It speaks JSON-RPC 2.0 to a
// node endpoint. Transport failures are reported as ErrUnavailable.
type RPCClient struct {
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Uint64
	logger     *zap.Logger
}

// NewRPCClient creates a client for endpoint. A zero timeout means 30s.
func NewRPCClient(endpoint string, timeout time.Duration, logger *zap.Logger) *RPCClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RPCClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Close releases idle connections.
func (c *RPCClient) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, result any) error {
	req := &rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug("close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s: http status %d", ErrUnavailable, method, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code == CodeNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, rpcResp.Error.Message)
		}
		return fmt.Errorf("jsonrpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	if result != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

func (c *RPCClient) Outputs(ctx context.Context, address, token string) ([]UTXO, error) {
	var out []UTXO
	err := c.call(ctx, "cf_getOutputs", []any{address, token}, &out)
	return out, err
}

func (c *RPCClient) NetworkFee(ctx context.Context, network, token string) (FeeQuote, error) {
	var q FeeQuote
	err := c.call(ctx, "cf_getNetworkFee", []any{network, token}, &q)
	return q, err
}

func (c *RPCClient) MarketRate(ctx context.Context, sell, buy string) (decimal.Decimal, error) {
	var r decimal.Decimal
	err := c.call(ctx, "cf_getMarketRate", []any{sell, buy}, &r)
	return r, err
}

func (c *RPCClient) Congestion(ctx context.Context) (decimal.Decimal, error) {
	var f decimal.Decimal
	err := c.call(ctx, "cf_getCongestion", nil, &f)
	return f, err
}

func (c *RPCClient) Submit(ctx context.Context, tx *SignedTx) (string, error) {
	var hash string
	if err := c.call(ctx, "cf_submitTransaction", []any{tx}, &hash); err != nil {
		return "", err
	}
	if hash == "" {
		hash = tx.Hash
	}
	return hash, nil
}

func (c *RPCClient) StakeLocks(ctx context.Context, owner string) ([]StakeLock, error) {
	var out []StakeLock
	err := c.call(ctx, "cf_getStakeLocks", []any{owner}, &out)
	return out, err
}

func (c *RPCClient) StakeLock(ctx context.Context, hash string) (StakeLock, error) {
	var out StakeLock
	err := c.call(ctx, "cf_getStakeLock", []any{hash}, &out)
	return out, err
}

func (c *RPCClient) StakeLockHistory(ctx context.Context, owner string, limit int) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := c.call(ctx, "cf_getStakeLockHistory", []any{owner, limit}, &out)
	return out, err
}

func (c *RPCClient) ExchangeOrders(ctx context.Context, owner string) ([]ExchangeOrder, error) {
	var out []ExchangeOrder
	err := c.call(ctx, "cf_getExchangeOrders", []any{owner}, &out)
	return out, err
}

func (c *RPCClient) ExchangeOrder(ctx context.Context, hash string) (ExchangeOrder, error) {
	var out ExchangeOrder
	err := c.call(ctx, "cf_getExchangeOrder", []any{hash}, &out)
	return out, err
}

func (c *RPCClient) Proposals(ctx context.Context, status string) ([]Proposal, error) {
	var out []Proposal
	err := c.call(ctx, "cf_getProposals", []any{status}, &out)
	return out, err
}

func (c *RPCClient) VotingResult(ctx context.Context, hash string) (VotingResult, error) {
	var out VotingResult
	err := c.call(ctx, "cf_getVotingResult", []any{hash}, &out)
	return out, err
}

func (c *RPCClient) Votes(ctx context.Context, voter string) ([]Vote, error) {
	var out []Vote
	err := c.call(ctx, "cf_getVotes", []any{voter}, &out)
	return out, err
}

func (c *RPCClient) Delegations(ctx context.Context, owner string) ([]Delegation, error) {
	var out []Delegation
	err := c.call(ctx, "cf_getDelegations", []any{owner}, &out)
	return out, err
}

func (c *RPCClient) DelegationRewards(ctx context.Context, hash string) (DelegationRewards, error) {
	var out DelegationRewards
	err := c.call(ctx, "cf_getDelegationRewards", []any{hash}, &out)
	return out, err
}

func (c *RPCClient) Validator(ctx context.Context, node string) (Validator, error) {
	var out Validator
	err := c.call(ctx, "cf_getValidator", []any{node}, &out)
	return out, err
}

func (c *RPCClient) Validators(ctx context.Context) ([]Validator, error) {
	var out []Validator
	err := c.call(ctx, "cf_getValidators", nil, &out)
	return out, err
}

func (c *RPCClient) ServicePayments(ctx context.Context, owner string) ([]ServicePayment, error) {
	var out []ServicePayment
	err := c.call(ctx, "cf_getServicePayments", []any{owner}, &out)
	return out, err
}

func (c *RPCClient) ServicePayment(ctx context.Context, hash string) (ServicePayment, error) {
	var out ServicePayment
	err := c.call(ctx, "cf_getServicePayment", []any{hash}, &out)
	return out, err
}
