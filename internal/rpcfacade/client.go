// Package rpcfacade wraps a Starknet JSON-RPC client with a small, typed
// surface: submit/read calls that return plain structs and a classified
// error instead of raw provider types, plus a raw_request passthrough for
// methods the typed provider doesn't expose.
package rpcfacade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/rpc"
)

// Client is the shared, thread-safe RPC facade. One Client is constructed
// per run and handed to every shooter task and the block watcher; the
// underlying HTTP transport is pooled to at least submit+verify concurrency
// connections so neither stage starves the other for sockets.
type Client struct {
	provider *rpc.Provider
	rawURL   string
	http     *http.Client
}

// Config controls facade construction.
type Config struct {
	URL string
	// MaxConns bounds the HTTP connection pool. Size it to at least the sum
	// of submit and verify concurrency so neither stage blocks on sockets
	// held by the other.
	MaxConns int
}

// New dials the target node and returns a ready facade.
func New(ctx context.Context, cfg Config) (*Client, error) {
	provider, err := rpc.NewProvider(cfg.URL)
	if err != nil {
		return nil, wrap("connect", KindTransport, err)
	}

	maxConns := cfg.MaxConns
	if maxConns < 1 {
		maxConns = 64
	}

	transport := &http.Transport{
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     maxConns,
	}

	log.Printf("[rpc] connected to %s (pool=%d)", cfg.URL, maxConns)

	return &Client{
		provider: provider,
		rawURL:   cfg.URL,
		http:     &http.Client{Transport: transport, Timeout: 0},
	}, nil
}

// Receipt mirrors the subset of the Starknet receipt the engine cares
// about: finality status, whether it reverted, and block-level numbers
// needed to compute verification latency and block metrics.
type Receipt struct {
	Hash            *felt.Felt
	FinalityStatus  string // "RECEIVED" | "ACCEPTED_ON_L2" | "ACCEPTED_ON_L1"
	ExecutionStatus string // "SUCCEEDED" | "REVERTED"
	BlockNumber     uint64
	ActualFee       *felt.Felt
	Found           bool
}

// Block is the subset of a Starknet block the block watcher needs.
type Block struct {
	Number       uint64
	Timestamp    uint64
	TxHashes     []*felt.Felt
	L1GasPrice   uint64
	L1DataGasPrice uint64
}

// Fee is the result of estimate_fee.
type Fee struct {
	GasConsumed uint64
	GasPrice    uint64
	OverallFee  *felt.Felt
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		return wrap(op, KindRpcRejected, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return wrap(op, KindTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return wrap(op, KindCancelled, err)
	}
	return wrap(op, KindTransport, err)
}

// Classify maps an error from any Starknet RPC call into the facade's error
// taxonomy, for code that talks to the node through a path other than
// Client's own methods (the account package's own build-and-send calls, for
// instance) but still wants the same Transport/RpcRejected/Timeout/Cancelled
// distinctions callers switch on.
func Classify(op string, err error) error {
	return classify(op, err)
}

// AddDeclare submits a signed declare v3 transaction, returning both the
// transaction hash and the resulting class hash.
func (c *Client) AddDeclare(ctx context.Context, tx rpc.BroadcastDeclareTxnType) (txHash, classHash *felt.Felt, err error) {
	resp, err := c.provider.AddDeclareTransaction(ctx, tx)
	if err != nil {
		return nil, nil, classify("add_declare", err)
	}
	return resp.TransactionHash, resp.ClassHash, nil
}

// AddDeployAccount submits a signed deploy-account v3 transaction, returning
// the transaction hash and the deployed account's address.
func (c *Client) AddDeployAccount(ctx context.Context, tx rpc.BroadcastAddDeployTxnType) (txHash, addr *felt.Felt, err error) {
	resp, err := c.provider.AddDeployAccountTransaction(ctx, tx)
	if err != nil {
		return nil, nil, classify("add_deploy_account", err)
	}
	return resp.TransactionHash, resp.ContractAddress, nil
}

// GetReceipt fetches a transaction receipt. A not-found transaction is not
// an error: Found is false and the caller should keep polling.
func (c *Client) GetReceipt(ctx context.Context, hash *felt.Felt) (Receipt, error) {
	resp, err := c.provider.TransactionReceipt(ctx, hash)
	if err != nil {
		if rpc.RPCErrorMatchesCode(err, rpc.ErrHashNotFound) {
			return Receipt{Hash: hash, Found: false}, nil
		}
		return Receipt{}, classify("get_receipt", err)
	}

	txr := resp.TransactionReceipt
	return Receipt{
		Hash:            hash,
		FinalityStatus:  string(txr.FinalityStatus),
		ExecutionStatus: string(txr.ExecutionStatus),
		BlockNumber:     txr.BlockNumber,
		ActualFee:       txr.ActualFee.Amount,
		Found:           true,
	}, nil
}

// GetNonce reads the on-chain nonce for an address, used by the initial
// nonce sync of the deployer and benchmark accounts before shooters start.
func (c *Client) GetNonce(ctx context.Context, addr *felt.Felt) (uint64, error) {
	n, err := c.provider.Nonce(ctx, rpc.WithBlockTag("latest"), addr)
	if err != nil {
		return 0, classify("get_nonce", err)
	}
	return n.Uint64(), nil
}

// GetBlockWithTxHashes fetches a block by tag/number, used by the block
// watcher to poll chain head.
func (c *Client) GetBlockWithTxHashes(ctx context.Context, blockID rpc.BlockID) (Block, error) {
	resp, err := c.provider.BlockWithTxHashes(ctx, blockID)
	if err != nil {
		return Block{}, classify("get_block", err)
	}
	block, ok := resp.(*rpc.BlockTxHashes)
	if !ok {
		return Block{}, wrap("get_block", KindRpcRejected, fmt.Errorf("unexpected block response type %T", resp))
	}
	return Block{
		Number:       block.BlockNumber,
		Timestamp:    block.Timestamp,
		TxHashes:     block.Transactions,
		L1GasPrice:   block.L1GasPrice.PriceInWei.Uint64(),
		L1DataGasPrice: block.L1DataGasPrice.PriceInWei.Uint64(),
	}, nil
}

// EstimateFee estimates the fee for a not-yet-submitted transaction.
func (c *Client) EstimateFee(ctx context.Context, txs []rpc.BroadcastTxn) (Fee, error) {
	resp, err := c.provider.EstimateFee(ctx, txs, []rpc.SimulationFlag{}, rpc.WithBlockTag("latest"))
	if err != nil {
		return Fee{}, classify("estimate_fee", err)
	}
	if len(resp) == 0 {
		return Fee{}, wrap("estimate_fee", KindRpcRejected, fmt.Errorf("empty fee estimate"))
	}
	est := resp[0]
	return Fee{
		GasConsumed: est.GasConsumed.Uint64(),
		GasPrice:    est.GasPrice.Uint64(),
		OverallFee:  est.OverallFee,
	}, nil
}

// Call performs a read-only contract call.
func (c *Client) Call(ctx context.Context, contract, selector *felt.Felt, calldata []*felt.Felt) ([]*felt.Felt, error) {
	resp, err := c.provider.Call(ctx, rpc.FunctionCall{
		ContractAddress:    contract,
		EntryPointSelector: selector,
		Calldata:           calldata,
	}, rpc.WithBlockTag("latest"))
	if err != nil {
		return nil, classify("call", err)
	}
	return resp, nil
}

// rawEnvelope/rawResponse implement the minimal JSON-RPC 2.0 request/response
// shape needed for the read-benchmark passthrough; starknet.go's Provider
// does not expose its internal transport, so raw_request dials out directly.
type rawEnvelope struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rawResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// RawRequest issues an arbitrary JSON-RPC method/params pair and returns the
// raw JSON result, used by the read-bench shooter variant for methods the
// typed provider doesn't wrap.
func (c *Client) RawRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rawEnvelope{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, wrap("raw_request", KindTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, wrap("raw_request", KindTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify("raw_request", err)
	}
	defer resp.Body.Close()

	var out rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, wrap("raw_request", KindTransport, err)
	}
	if out.Error != nil {
		return nil, wrap("raw_request", KindRpcRejected, fmt.Errorf("%d: %s", out.Error.Code, out.Error.Message))
	}
	return out.Result, nil
}

// pollBackoff implements the capped exponential backoff used while polling
// for a transaction receipt: 50ms -> 2s, multiplier 1.5.
func pollBackoff(attempt int) time.Duration {
	d := 50 * time.Millisecond
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * 1.5)
		if d > 2*time.Second {
			return 2 * time.Second
		}
	}
	return d
}

// PollBackoff exposes pollBackoff for reuse by the shooter runtime's
// verification stage so both stay in lockstep with this one definition.
func PollBackoff(attempt int) time.Duration { return pollBackoff(attempt) }
