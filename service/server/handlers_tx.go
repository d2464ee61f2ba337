package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/brojonat/osmosync/service/db"
	natspkg "github.com/brojonat/osmosync/service/nats"
	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/brojonat/osmosync/service/txpipeline"
	"github.com/go-chi/chi/v5"
)

// statusResponse carries the validation result together with the intent as
// evaluated, fees included, so a client can sign exactly what was checked.
type statusResponse struct {
	Status txpipeline.Status `json:"status"`
	Intent txpipeline.Intent `json:"intent"`
}

// broadcastRejectedResponse reports the chain's answer verbatim.
type broadcastRejectedResponse struct {
	Error     string `json:"error"`
	Code      uint32 `json:"code"`
	Codespace string `json:"codespace,omitempty"`
	TxHash    string `json:"txhash,omitempty"`
	RawLog    string `json:"raw_log"`
}

// handleTransactionStatus validates a transaction intent against the account's stored snapshot.
// Fees are estimated for the intent's mode when the request does not carry them.
// POST /api/v1/accounts/{address}/status
func (s *Server) handleTransactionStatus(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)
	address := chi.URLParam(r, "address")
	if err := s.validateAddress(address); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	intent := txpipeline.NewIntent()
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		writeError(w, "invalid request body: must be a valid transaction intent", http.StatusBadRequest)
		return
	}
	if intent.Mode == "" {
		intent.Mode = txpipeline.ModeSend
	}
	if intent.Fees == nil {
		fees, err := txpipeline.EstimateFees(intent.Mode)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		intent.Fees = &fees
	}

	snapshot, err := s.deps.Store.LoadSnapshot(r.Context(), address)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("failed to load snapshot", "address", address, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	status := s.deps.Validator.Validate(snapshot, intent)
	logger.Debug("transaction status computed",
		"address", address,
		"errors", len(status.Errors),
		"total_spent", status.TotalSpent.String(),
	)

	writeJSON(w, statusResponse{Status: status, Intent: intent}, http.StatusOK)
}

// handleMaxSpendable returns the largest amount a transaction of the given mode can move.
// GET /api/v1/accounts/{address}/max?mode=send
func (s *Server) handleMaxSpendable(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)
	address := chi.URLParam(r, "address")
	if err := s.validateAddress(address); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	mode := txpipeline.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = txpipeline.ModeSend
	}

	snapshot, err := s.deps.Store.LoadSnapshot(r.Context(), address)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("failed to load snapshot", "address", address, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	maxSpendable, err := txpipeline.EstimateMaxSpendable(snapshot, mode)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]interface{}{
		"address":       address,
		"mode":          mode,
		"max_spendable": maxSpendable,
	}, http.StatusOK)
}

// handleBroadcast submits a signed operation to the chain.
// POST /api/v1/broadcast
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)
	if s.deps.Broadcaster == nil {
		writeError(w, "broadcasting is not configured", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var signed txpipeline.SignedOperation
	if err := json.NewDecoder(r.Body).Decode(&signed); err != nil {
		writeError(w, "invalid request body: must be a signed operation", http.StatusBadRequest)
		return
	}
	if signed.Signature == "" {
		writeError(w, "signature is required", http.StatusBadRequest)
		return
	}

	op, err := s.deps.Broadcaster.Broadcast(r.Context(), signed)
	var rejected *txpipeline.BroadcastRejectedError
	switch {
	case errors.As(err, &rejected):
		logger.Warn("broadcast rejected", "code", rejected.Code, "raw_log", rejected.RawLog)
		writeJSON(w, broadcastRejectedResponse{
			Error:     rejected.Error(),
			Code:      rejected.Code,
			Codespace: rejected.Codespace,
			TxHash:    rejected.TxHash,
			RawLog:    rejected.RawLog,
		}, http.StatusUnprocessableEntity)
		return
	case err != nil:
		logger.Error("broadcast failed", "error", err)
		writeError(w, "broadcast failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	logger.Info("operation broadcast", "hash", op.Hash, "account_id", op.AccountID)
	writeJSON(w, map[string]interface{}{
		"operation": op,
	}, http.StatusOK)
}

// publish sends new operations to NATS. Failures are logged; the sync result stands.
func (s *Server) publish(r *http.Request, network, address string, ops []osmosis.Operation) int {
	if s.deps.Publisher == nil || len(ops) == 0 {
		return 0
	}
	events := make([]*natspkg.OperationEvent, 0, len(ops))
	for _, op := range ops {
		events = append(events, natspkg.FromOperation(network, address, op))
	}
	published, err := s.deps.Publisher.PublishOperationBatch(r.Context(), events)
	if err != nil {
		loggerFrom(r.Context(), s.logger).Warn("failed to publish operations",
			"address", address,
			"published", published,
			"total", len(events),
			"error", err,
		)
	}
	return published
}
