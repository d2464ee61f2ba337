package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/osmosync/service/db"
	"github.com/brojonat/osmosync/service/metrics"
	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 128
	maxSyncInterval    = 24 * time.Hour
	defaultOpsLimit    = 100
	maxOpsLimit        = 1000
)

var supportedNetworks = map[string]bool{"mainnet": true, "testnet": true}

// accountResponse is the JSON response format for an account.
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

// accountToResponse converts a stored Account to a response format.
func accountToResponse(a *db.Account) accountResponse {
	return accountResponse{
		Address:          a.Address,
		AccountID:        a.AccountID,
		Network:          a.Network,
		Balance:          a.Balance,
		SpendableBalance: a.SpendableBalance,
		BlockHeight:      a.BlockHeight,
		OperationsCount:  a.OperationsCount,
		Partial:          a.Partial,
		SyncInterval:     a.SyncInterval.String(),
		Status:           a.Status,
		LastSyncTime:     a.LastSyncTime,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

// syncResponse is the JSON response of an on-demand sync.
type syncResponse struct {
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

// handleRegisterAccount registers an account and creates its sync schedule.
// POST /api/v1/accounts
func (s *Server) handleRegisterAccount(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req struct {
		Address      string `json:"address"`
		Network      string `json:"network"`
		SyncInterval string `json:"sync_interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Debug("failed to decode register request", "error", err)
		if strings.Contains(err.Error(), "http: request body too large") {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return
	}

	if err := s.validateAddress(req.Address); err != nil {
		logger.Debug("invalid address", "address", req.Address, "error", err)
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Network == "" {
		req.Network = s.cfg.Network
	}
	if err := validateNetwork(req.Network); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	interval := s.cfg.DefaultSyncInterval
	if req.SyncInterval != "" {
		parsed, err := time.ParseDuration(req.SyncInterval)
		if err != nil {
			writeError(w, "invalid sync_interval: must be a valid duration (e.g. '30s', '1m')", http.StatusBadRequest)
			return
		}
		interval = parsed
	}
	if err := validateSyncInterval(interval, s.cfg.MinSyncInterval); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	_, err := s.deps.Store.GetAccount(ctx, req.Address)
	existed := err == nil
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		logger.Error("failed to check account", "address", req.Address, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	account, err := s.deps.Store.UpsertAccount(ctx, db.UpsertAccountParams{
		Address:      req.Address,
		AccountID:    osmosis.EncodeAccountID(s.cfg.CurrencyID, req.Address),
		Network:      req.Network,
		SyncInterval: interval,
		Status:       "active",
	})
	if err != nil {
		logger.Error("failed to register account", "address", req.Address, "error", err)
		writeError(w, "failed to register account", http.StatusInternalServerError)
		return
	}

	if err := s.deps.Scheduler.UpsertAccountSchedule(ctx, req.Address, req.Network, interval); err != nil {
		logger.Error("failed to create schedule", "address", req.Address, "error", err)
		if !existed {
			if delErr := s.deps.Store.DeleteAccount(ctx, req.Address); delErr != nil {
				logger.Error("failed to roll back account registration", "address", req.Address, "error", delErr)
			}
		}
		writeError(w, "failed to schedule account sync", http.StatusInternalServerError)
		return
	}

	s.cache.Delete(req.Address)
	logger.Info("account registered",
		"address", req.Address,
		"network", req.Network,
		"sync_interval", interval,
		"existed", existed,
	)

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, accountToResponse(account), status)
}

// handleUnregisterAccount deletes an account, its history and its schedule.
// DELETE /api/v1/accounts/{address}
func (s *Server) handleUnregisterAccount(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)
	address := chi.URLParam(r, "address")
	if err := s.validateAddress(address); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	account, err := s.deps.Store.GetAccount(ctx, address)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("failed to get account", "address", address, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// A missing schedule must not keep the account registered.
	if err := s.deps.Scheduler.DeleteAccountSchedule(ctx, address, account.Network); err != nil {
		logger.Warn("failed to delete schedule", "address", address, "error", err)
	}

	if err := s.deps.Store.DeleteAccount(ctx, address); err != nil && !errors.Is(err, db.ErrNotFound) {
		logger.Error("failed to delete account", "address", address, "error", err)
		writeError(w, "failed to unregister account", http.StatusInternalServerError)
		return
	}

	s.cache.Delete(address)
	logger.Info("account unregistered", "address", address)
	w.WriteHeader(http.StatusNoContent)
}

// handleGetAccount returns the last synced state of an account.
// GET /api/v1/accounts/{address}
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)
	address := chi.URLParam(r, "address")
	if err := s.validateAddress(address); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if cached, ok := s.cache.Get(address); ok {
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, cached, http.StatusOK)
		return
	}

	account, err := s.deps.Store.GetAccount(r.Context(), address)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("failed to get account", "address", address, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := accountToResponse(account)
	s.cache.SetDefault(address, resp)
	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, resp, http.StatusOK)
}

// handleListAccounts lists all registered accounts.
// GET /api/v1/accounts
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)
	accounts, err := s.deps.Store.ListAccounts(r.Context())
	if err != nil {
		logger.Error("failed to list accounts", "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := make([]accountResponse, len(accounts))
	for i, account := range accounts {
		resp[i] = accountToResponse(account)
	}

	writeJSON(w, map[string]interface{}{
		"accounts": resp,
	}, http.StatusOK)
}

// handleListOperations lists the stored operations of an account, most recent first.
// GET /api/v1/accounts/{address}/operations?limit=N&offset=N
func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)
	address := chi.URLParam(r, "address")
	if err := s.validateAddress(address); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	limit, err := parseBoundedInt(query.Get("limit"), defaultOpsLimit, 1, maxOpsLimit)
	if err != nil {
		writeError(w, "invalid limit parameter: "+err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := parseBoundedInt(query.Get("offset"), 0, 0, -1)
	if err != nil {
		writeError(w, "invalid offset parameter: "+err.Error(), http.StatusBadRequest)
		return
	}

	ops, err := s.deps.Store.ListOperations(r.Context(), db.ListOperationsParams{
		Address: address,
		Limit:   int32(limit),
		Offset:  int32(offset),
	})
	if err != nil {
		logger.Error("failed to list operations", "address", address, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"operations": ops,
		"count":      len(ops),
		"limit":      limit,
		"offset":     offset,
	}, http.StatusOK)
}

// handleSyncAccount runs the sync engine for a registered account right away.
// POST /api/v1/accounts/{address}/sync
func (s *Server) handleSyncAccount(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)
	address := chi.URLParam(r, "address")
	if err := s.validateAddress(address); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	account, err := s.deps.Store.GetAccount(ctx, address)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("failed to get account", "address", address, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	status := "error"
	if s.deps.Metrics != nil {
		defer metrics.Timer(time.Now(), func(d float64) {
			s.deps.Metrics.RecordWorkflowDuration(address, "manual_"+status, d)
		})()
	}

	previous, err := s.deps.Store.LoadSnapshot(ctx, address)
	if err != nil {
		logger.Error("failed to load snapshot", "address", address, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	res, err := s.deps.Engine.Sync(ctx, previous, address)
	if err != nil {
		logger.Error("sync failed", "address", address, "error", err)
		writeError(w, fmt.Sprintf("sync failed: %v", err), http.StatusBadGateway)
		return
	}

	written, err := s.deps.Store.SaveSnapshot(ctx, account.Network, res.Snapshot)
	if err != nil {
		logger.Error("failed to save snapshot", "address", address, "error", err)
		writeError(w, "failed to save snapshot", http.StatusInternalServerError)
		return
	}
	s.cache.Delete(address)

	published := s.publish(r, account.Network, address, res.NewOperations)
	status = "success"

	logger.Info("account synced on demand",
		"address", address,
		"new_operations", len(res.NewOperations),
		"written", written,
		"partial", res.Snapshot.Partial,
	)

	newOps := res.NewOperations
	if newOps == nil {
		newOps = []osmosis.Operation{}
	}
	writeJSON(w, syncResponse{
		Address:         address,
		AccountID:       res.Snapshot.AccountID,
		Balance:         res.Snapshot.Balance,
		BlockHeight:     res.Snapshot.BlockHeight,
		OperationsCount: res.Snapshot.OperationsCount,
		NewOperations:   newOps,
		Pages:           res.Pages,
		Written:         written,
		Published:       published,
		Partial:         res.Snapshot.Partial,
		SyncedAt:        res.Snapshot.SyncedAt,
	}, http.StatusOK)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}

// validateAddress checks an account address for safety and bech32 format.
func (s *Server) validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !osmosis.NewBech32Validator(nil).IsValid(s.cfg.CurrencyID, address) {
		return errorf("invalid address format: must be a bech32 %s address", osmosis.AddressPrefix)
	}

	return nil
}

// validateNetwork validates a network parameter.
func validateNetwork(network string) error {
	if !supportedNetworks[network] {
		return errorf("invalid network: must be 'mainnet' or 'testnet'")
	}
	return nil
}

// validateSyncInterval validates a sync interval for reasonable bounds.
func validateSyncInterval(interval, minInterval time.Duration) error {
	if interval <= 0 {
		return errorf("sync_interval must be positive")
	}
	if interval < minInterval {
		return errorf("sync_interval must be at least %v", minInterval)
	}
	if interval > maxSyncInterval {
		return errorf("sync_interval cannot exceed %v", maxSyncInterval)
	}
	return nil
}

// parseBoundedInt parses an optional query integer. A negative max means unbounded.
func parseBoundedInt(raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errorf("must be an integer")
	}
	if v < lo {
		return 0, errorf("must be at least %d", lo)
	}
	if hi >= 0 && v > hi {
		return 0, errorf("cannot exceed %d", hi)
	}
	return v, nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
