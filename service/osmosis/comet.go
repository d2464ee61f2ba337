package osmosis

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// RPCCaller is the subset of a JSON-RPC 2.0 client we need.
// This allows us to mock the RPC layer in tests without hitting a real node.
type RPCCaller interface {
	CallForInto(ctx context.Context, out interface{}, method string, params []interface{}) error
}

// NewRPCCaller creates a JSON-RPC 2.0 client for a CometBFT RPC endpoint,
// e.g. https://rpc.osmosis.zone.
func NewRPCCaller(rpcURL string) RPCCaller {
	return jsonrpc.NewClient(rpcURL)
}

// CometClient submits transactions and reads chain status through the
// CometBFT JSON-RPC interface of a node instead of its REST gateway.
type CometClient struct {
	rpc    RPCCaller
	logger *slog.Logger
}

// NewCometClient creates a new CometBFT RPC client.
func NewCometClient(rpc RPCCaller, logger *slog.Logger) *CometClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CometClient{rpc: rpc, logger: logger}
}

type broadcastTxResult struct {
	Code      uint32 `json:"code"`
	Data      string `json:"data"`
	Log       string `json:"log"`
	Codespace string `json:"codespace"`
	Hash      string `json:"hash"`
}

// SubmitTx broadcasts signed transaction bytes with broadcast_tx_sync.
func (c *CometClient) SubmitTx(ctx context.Context, txBytes []byte) (SubmitResult, error) {
	var out broadcastTxResult
	params := []interface{}{base64.StdEncoding.EncodeToString(txBytes)}
	if err := c.rpc.CallForInto(ctx, &out, "broadcast_tx_sync", params); err != nil {
		return SubmitResult{}, fmt.Errorf("broadcast_tx_sync failed: %w", err)
	}

	c.logger.InfoContext(ctx, "transaction submitted via rpc",
		"txhash", out.Hash,
		"code", out.Code,
	)
	return SubmitResult{
		Code:      out.Code,
		Codespace: out.Codespace,
		TxHash:    out.Hash,
		RawLog:    out.Log,
	}, nil
}

// GetLatestBlock returns the latest block height and chain id from the status endpoint.
func (c *CometClient) GetLatestBlock(ctx context.Context) (Block, error) {
	var out struct {
		NodeInfo struct {
			Network string `json:"network"`
		} `json:"node_info"`
		SyncInfo struct {
			LatestBlockHeight string `json:"latest_block_height"`
		} `json:"sync_info"`
	}
	if err := c.rpc.CallForInto(ctx, &out, "status", []interface{}{}); err != nil {
		return Block{}, fmt.Errorf("status failed: %w", err)
	}

	height, err := strconv.ParseInt(out.SyncInfo.LatestBlockHeight, 10, 64)
	if err != nil {
		return Block{}, fmt.Errorf("invalid block height %q: %w", out.SyncInfo.LatestBlockHeight, err)
	}
	return Block{Height: height, ChainID: out.NodeInfo.Network}, nil
}
