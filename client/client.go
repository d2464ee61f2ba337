package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/brojonat/osmosync/service/txpipeline"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Account represents a registered account that the server keeps in sync.
type Account struct {
	Address          string          `json:"address"`
	AccountID        string          `json:"account_id"`
	Network          string          `json:"network"`
	Balance          decimal.Decimal `json:"balance"`
	SpendableBalance decimal.Decimal `json:"spendable_balance"`
	BlockHeight      int64           `json:"block_height"`
	OperationsCount  int             `json:"operations_count"`
	Partial          bool            `json:"partial"`
	SyncInterval     time.Duration   `json:"sync_interval"`
	Status           string          `json:"status"` // active, paused, error
	LastSyncTime     *time.Time      `json:"last_sync_time,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// SyncResult is the outcome of an on-demand sync.
type SyncResult struct {
	Address         string              `json:"address"`
	AccountID       string              `json:"account_id"`
	Balance         decimal.Decimal     `json:"balance"`
	BlockHeight     int64               `json:"block_height"`
	OperationsCount int                 `json:"operations_count"`
	NewOperations   []osmosis.Operation `json:"new_operations"`
	Pages           int                 `json:"pages"`
	Written         int                 `json:"written"`
	Published       int                 `json:"published"`
	Partial         bool                `json:"partial"`
	SyncedAt        time.Time           `json:"synced_at"`
}

// TxStatus is the server's validation of a transaction intent.
// Errors and Warnings are keyed by field: "recipient", "amount" or "fees".
type TxStatus struct {
	Errors        map[string]string `json:"errors"`
	Warnings      map[string]string `json:"warnings"`
	EstimatedFees decimal.Decimal   `json:"estimated_fees"`
	Amount        decimal.Decimal   `json:"amount"`
	TotalSpent    decimal.Decimal   `json:"total_spent"`

	// Intent is the intent as evaluated, with fees filled in.
	Intent txpipeline.Intent `json:"intent"`
}

// OK reports whether the intent can be submitted.
func (s *TxStatus) OK() bool {
	return len(s.Errors) == 0
}

// Client is the HTTP client for the osmosync account service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new account service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Register tells the server to start syncing an account. Registering an
// account again updates its network and sync interval.
// A zero interval uses the server default; an empty network uses the server's.
func (c *Client) Register(ctx context.Context, address, network string, syncInterval time.Duration) (*Account, error) {
	reqBody := map[string]interface{}{
		"address": address,
	}
	if network != "" {
		reqBody["network"] = network
	}
	if syncInterval > 0 {
		reqBody["sync_interval"] = syncInterval.String()
	}

	var apiAccount accountResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/accounts", reqBody, &apiAccount, http.StatusCreated, http.StatusOK); err != nil {
		return nil, err
	}

	c.logger.Debug("account registered", "address", address, "sync_interval", syncInterval)
	return responseToAccount(&apiAccount)
}

// Unregister tells the server to stop syncing an account and drop its history.
func (c *Client) Unregister(ctx context.Context, address string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/v1/accounts/"+url.PathEscape(address), nil, nil, http.StatusNoContent); err != nil {
		return err
	}
	c.logger.Debug("account unregistered", "address", address)
	return nil
}

// Get retrieves the last synced state of an account.
func (c *Client) Get(ctx context.Context, address string) (*Account, error) {
	var apiAccount accountResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(address), nil, &apiAccount, http.StatusOK); err != nil {
		return nil, err
	}
	return responseToAccount(&apiAccount)
}

// List retrieves all registered accounts.
func (c *Client) List(ctx context.Context) ([]*Account, error) {
	var response struct {
		Accounts []accountResponse `json:"accounts"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts", nil, &response, http.StatusOK); err != nil {
		return nil, err
	}

	accounts := make([]*Account, len(response.Accounts))
	for i, apiAccount := range response.Accounts {
		account, err := responseToAccount(&apiAccount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse account %s: %w", apiAccount.Address, err)
		}
		accounts[i] = account
	}

	return accounts, nil
}

// Operations lists stored operations of an account, most recent first.
// A zero limit uses the server default.
func (c *Client) Operations(ctx context.Context, address string, limit, offset int) ([]osmosis.Operation, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/accounts/" + url.PathEscape(address) + "/operations"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var response struct {
		Operations []osmosis.Operation `json:"operations"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &response, http.StatusOK); err != nil {
		return nil, err
	}
	return response.Operations, nil
}

// Sync asks the server to synchronize an account right away.
func (c *Client) Sync(ctx context.Context, address string) (*SyncResult, error) {
	var result SyncResult
	path := "/api/v1/accounts/" + url.PathEscape(address) + "/sync"
	if err := c.do(ctx, http.MethodPost, path, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// Status validates a transaction intent against the account's last synced state.
func (c *Client) Status(ctx context.Context, address string, intent txpipeline.Intent) (*TxStatus, error) {
	var response struct {
		Status TxStatus          `json:"status"`
		Intent txpipeline.Intent `json:"intent"`
	}
	path := "/api/v1/accounts/" + url.PathEscape(address) + "/status"
	if err := c.do(ctx, http.MethodPost, path, intent, &response, http.StatusOK); err != nil {
		return nil, err
	}
	status := response.Status
	status.Intent = response.Intent
	return &status, nil
}

// MaxSpendable returns the largest amount a transaction of mode can move.
func (c *Client) MaxSpendable(ctx context.Context, address string, mode txpipeline.Mode) (decimal.Decimal, error) {
	var response struct {
		MaxSpendable decimal.Decimal `json:"max_spendable"`
	}
	path := "/api/v1/accounts/" + url.PathEscape(address) + "/max?mode=" + url.QueryEscape(string(mode))
	if err := c.do(ctx, http.MethodGet, path, nil, &response, http.StatusOK); err != nil {
		return decimal.Zero, err
	}
	return response.MaxSpendable, nil
}

// Broadcast submits a signed operation through the server. A chain rejection
// is returned as a *txpipeline.BroadcastRejectedError.
func (c *Client) Broadcast(ctx context.Context, signed txpipeline.SignedOperation) (*osmosis.Operation, error) {
	body, err := json.Marshal(signed)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.send(ctx, http.MethodPost, "/api/v1/broadcast", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnprocessableEntity:
		var rejected struct {
			Code      uint32 `json:"code"`
			Codespace string `json:"codespace"`
			TxHash    string `json:"txhash"`
			RawLog    string `json:"raw_log"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&rejected); err != nil {
			return nil, fmt.Errorf("failed to decode rejection: %w", err)
		}
		return nil, &txpipeline.BroadcastRejectedError{
			Code:      rejected.Code,
			Codespace: rejected.Codespace,
			TxHash:    rejected.TxHash,
			RawLog:    rejected.RawLog,
		}
	default:
		return nil, c.parseErrorResponse(resp)
	}

	var response struct {
		Operation osmosis.Operation `json:"operation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	c.logger.Debug("operation broadcast", "hash", response.Operation.Hash)
	return &response.Operation, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.send(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// do sends a JSON request and decodes the response into out when it is not nil.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, want ...int) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !lo.Contains(want, resp.StatusCode) {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// accountResponse is the API response format for an account.
// The server returns sync_interval as a string (e.g. "30s").
type accountResponse struct {
	Address          string          `json:"address"`
	AccountID        string          `json:"account_id"`
	Network          string          `json:"network"`
	Balance          decimal.Decimal `json:"balance"`
	SpendableBalance decimal.Decimal `json:"spendable_balance"`
	BlockHeight      int64           `json:"block_height"`
	OperationsCount  int             `json:"operations_count"`
	Partial          bool            `json:"partial"`
	SyncInterval     string          `json:"sync_interval"`
	Status           string          `json:"status"`
	LastSyncTime     *time.Time      `json:"last_sync_time,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// responseToAccount converts an API response to a domain Account.
func responseToAccount(resp *accountResponse) (*Account, error) {
	syncInterval, err := time.ParseDuration(resp.SyncInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid sync_interval %q: %w", resp.SyncInterval, err)
	}

	return &Account{
		Address:          resp.Address,
		AccountID:        resp.AccountID,
		Network:          resp.Network,
		Balance:          resp.Balance,
		SpendableBalance: resp.SpendableBalance,
		BlockHeight:      resp.BlockHeight,
		OperationsCount:  resp.OperationsCount,
		Partial:          resp.Partial,
		SyncInterval:     syncInterval,
		Status:           resp.Status,
		LastSyncTime:     resp.LastSyncTime,
		CreatedAt:        resp.CreatedAt,
		UpdatedAt:        resp.UpdatedAt,
	}, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
