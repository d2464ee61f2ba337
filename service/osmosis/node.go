package osmosis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// NodeClient talks to the REST (LCD) endpoint of an Osmosis node.
type NodeClient struct {
	transport Transport
	baseURL   string
	denom     string
	logger    *slog.Logger
}

// NewNodeClient creates a new node client.
// Balances are reported in the given denom (defaults to uosmo).
func NewNodeClient(transport Transport, baseURL, denom string, logger *slog.Logger) *NodeClient {
	if logger == nil {
		logger = slog.Default()
	}
	if denom == "" {
		denom = Denom
	}
	return &NodeClient{
		transport: transport,
		baseURL:   strings.TrimRight(baseURL, "/"),
		denom:     denom,
		logger:    logger,
	}
}

// GetBalance returns the balance of address in the client's denom.
func (c *NodeClient) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	body, err := c.transport.Do(ctx, http.MethodGet, c.baseURL+"/cosmos/bank/v1beta1/balances/"+address, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch balance: %w", err)
	}

	var resp struct {
		Balances []Coin `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode balance response: %w", err)
	}

	balance := decimal.Zero
	for _, coin := range resp.Balances {
		if coin.Denom != c.denom {
			continue
		}
		amount, err := decimal.NewFromString(coin.Amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid balance amount %q: %w", coin.Amount, err)
		}
		balance = balance.Add(amount)
	}
	return balance, nil
}

// GetLatestBlock returns the height and chain id of the latest block.
func (c *NodeClient) GetLatestBlock(ctx context.Context) (Block, error) {
	body, err := c.transport.Do(ctx, http.MethodGet, c.baseURL+"/cosmos/base/tendermint/v1beta1/blocks/latest", nil)
	if err != nil {
		return Block{}, fmt.Errorf("failed to fetch latest block: %w", err)
	}

	var resp struct {
		Block struct {
			Header struct {
				ChainID string `json:"chain_id"`
				Height  string `json:"height"`
			} `json:"header"`
		} `json:"block"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Block{}, fmt.Errorf("failed to decode latest block response: %w", err)
	}

	height, err := strconv.ParseInt(resp.Block.Header.Height, 10, 64)
	if err != nil {
		return Block{}, fmt.Errorf("invalid block height %q: %w", resp.Block.Header.Height, err)
	}
	return Block{Height: height, ChainID: resp.Block.Header.ChainID}, nil
}

type baseAccount struct {
	AccountNumber string `json:"account_number"`
	Sequence      string `json:"sequence"`
}

// GetAccountInfo returns the account number and current sequence of address.
// Vesting accounts nest their base account; both shapes are understood.
func (c *NodeClient) GetAccountInfo(ctx context.Context, address string) (AccountInfo, error) {
	body, err := c.transport.Do(ctx, http.MethodGet, c.baseURL+"/cosmos/auth/v1beta1/accounts/"+address, nil)
	if err != nil {
		return AccountInfo{}, fmt.Errorf("failed to fetch account info: %w", err)
	}

	var resp struct {
		Account struct {
			baseAccount
			BaseAccount        *baseAccount `json:"base_account"`
			BaseVestingAccount *struct {
				BaseAccount *baseAccount `json:"base_account"`
			} `json:"base_vesting_account"`
		} `json:"account"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return AccountInfo{}, fmt.Errorf("failed to decode account response: %w", err)
	}

	acc := resp.Account.baseAccount
	switch {
	case resp.Account.BaseAccount != nil:
		acc = *resp.Account.BaseAccount
	case resp.Account.BaseVestingAccount != nil && resp.Account.BaseVestingAccount.BaseAccount != nil:
		acc = *resp.Account.BaseVestingAccount.BaseAccount
	}

	number, err := strconv.ParseUint(acc.AccountNumber, 10, 64)
	if err != nil {
		return AccountInfo{}, fmt.Errorf("invalid account number %q: %w", acc.AccountNumber, err)
	}
	sequence, err := strconv.ParseUint(acc.Sequence, 10, 64)
	if err != nil {
		return AccountInfo{}, fmt.Errorf("invalid sequence %q: %w", acc.Sequence, err)
	}
	return AccountInfo{AccountNumber: number, Sequence: sequence}, nil
}

// SubmitTx broadcasts signed transaction bytes in sync mode.
// The call is never retried: resubmitting a transaction the node may have seen is unsafe.
func (c *NodeClient) SubmitTx(ctx context.Context, txBytes []byte) (SubmitResult, error) {
	req := map[string]string{
		"tx_bytes": base64.StdEncoding.EncodeToString(txBytes),
		"mode":     "BROADCAST_MODE_SYNC",
	}
	body, err := c.transport.DoOnce(ctx, http.MethodPost, c.baseURL+"/cosmos/tx/v1beta1/txs", req)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to submit transaction: %w", err)
	}

	var resp struct {
		TxResponse SubmitResult `json:"tx_response"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return SubmitResult{}, fmt.Errorf("failed to decode submit response: %w", err)
	}

	c.logger.InfoContext(ctx, "transaction submitted",
		"txhash", resp.TxResponse.TxHash,
		"code", resp.TxResponse.Code,
	)
	return resp.TxResponse, nil
}
