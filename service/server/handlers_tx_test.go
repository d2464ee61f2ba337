package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/brojonat/osmosync/service/txpipeline"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusBody struct {
	Status struct {
		Errors        map[string]string `json:"errors"`
		Warnings      map[string]string `json:"warnings"`
		EstimatedFees decimal.Decimal   `json:"estimated_fees"`
		Amount        decimal.Decimal   `json:"amount"`
		TotalSpent    decimal.Decimal   `json:"total_spent"`
	} `json:"status"`
	Intent txpipeline.Intent `json:"intent"`
}

func TestTransactionStatus(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		wantErrors     map[string]string
		wantAmount     int64
		wantTotalSpent int64
		wantFees       int64
	}{
		{
			name:           "valid send",
			body:           fmt.Sprintf(`{"recipient": %q, "amount": "1000"}`, testCounterparty),
			wantErrors:     map[string]string{},
			wantAmount:     1000,
			wantTotalSpent: 1000,
		},
		{
			name:           "explicit fees are kept",
			body:           fmt.Sprintf(`{"recipient": %q, "amount": "1000", "fees": "250"}`, testCounterparty),
			wantErrors:     map[string]string{},
			wantAmount:     1000,
			wantTotalSpent: 1250,
			wantFees:       250,
		},
		{
			name:           "send to self",
			body:           fmt.Sprintf(`{"recipient": %q, "amount": "1000"}`, testAddress),
			wantErrors:     map[string]string{"recipient": txpipeline.ErrInvalidAddressBecauseDestinationIsAlsoSource.Error()},
			wantAmount:     1000,
			wantTotalSpent: 1000,
		},
		{
			name:           "more than the balance",
			body:           fmt.Sprintf(`{"recipient": %q, "amount": "2000000"}`, testCounterparty),
			wantErrors:     map[string]string{"amount": txpipeline.ErrNotEnoughBalance.Error()},
			wantAmount:     2000000,
			wantTotalSpent: 2000000,
		},
		{
			name:           "use all amount",
			body:           fmt.Sprintf(`{"recipient": %q, "use_all_amount": true}`, testCounterparty),
			wantErrors:     map[string]string{},
			wantAmount:     1000000,
			wantTotalSpent: 1000000,
		},
		{
			name: "missing recipient and amount",
			body: `{}`,
			wantErrors: map[string]string{
				"recipient": txpipeline.ErrRecipientRequired.Error(),
				"amount":    txpipeline.ErrAmountRequired.Error(),
			},
		},
		{
			name:           "foreign recipient",
			body:           fmt.Sprintf(`{"recipient": %q, "amount": "1"}`, testCosmos),
			wantErrors:     map[string]string{"recipient": txpipeline.ErrInvalidAddress.Error()},
			wantAmount:     1,
			wantTotalSpent: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			env.store.seed(testAddress, 1000000)

			rec := env.do(t, http.MethodPost, "/api/v1/accounts/"+testAddress+"/status", tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp statusBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantErrors, resp.Status.Errors)
			assert.True(t, decimal.NewFromInt(tt.wantAmount).Equal(resp.Status.Amount), "amount %s", resp.Status.Amount)
			assert.True(t, decimal.NewFromInt(tt.wantTotalSpent).Equal(resp.Status.TotalSpent), "total %s", resp.Status.TotalSpent)
			assert.True(t, decimal.NewFromInt(tt.wantFees).Equal(resp.Status.EstimatedFees))

			require.NotNil(t, resp.Intent.Fees, "the evaluated intent always carries fees")
			assert.Equal(t, txpipeline.ModeSend, resp.Intent.Mode)
		})
	}
}

func TestTransactionStatus_Errors(t *testing.T) {
	tests := []struct {
		name       string
		address    string
		body       string
		seed       bool
		wantStatus int
	}{
		{"unknown account", testAddress, `{"amount": "1"}`, false, http.StatusNotFound},
		{"invalid address", testCosmos, `{"amount": "1"}`, false, http.StatusBadRequest},
		{"malformed body", testAddress, `{"amount": `, true, http.StatusBadRequest},
		{"unsupported mode", testAddress, `{"amount": "1", "mode": "stake"}`, true, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			if tt.seed {
				env.store.seed(testAddress, 1000)
			}
			rec := env.do(t, http.MethodPost, "/api/v1/accounts/"+tt.address+"/status", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestMaxSpendable(t *testing.T) {
	env := newTestEnv(t, false)
	env.store.seed(testAddress, 5000)

	rec := env.do(t, http.MethodGet, "/api/v1/accounts/"+testAddress+"/max", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Address      string          `json:"address"`
		Mode         string          `json:"mode"`
		MaxSpendable decimal.Decimal `json:"max_spendable"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testAddress, resp.Address)
	assert.Equal(t, "send", resp.Mode)
	assert.True(t, decimal.NewFromInt(5000).Equal(resp.MaxSpendable))

	rec = env.do(t, http.MethodGet, "/api/v1/accounts/"+testAddress+"/max?mode=stake", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/accounts/"+testCounterparty+"/max", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func signedBody(t *testing.T, signature string) string {
	t.Helper()
	op := testOperation("", osmosis.OperationTypeOut, 1500)
	b, err := json.Marshal(txpipeline.SignedOperation{Operation: op, Signature: signature})
	require.NoError(t, err)
	return string(b)
}

func TestBroadcast(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.broadcaster.op = testOperation("CAFE", osmosis.OperationTypeOut, 1500)

		rec := env.do(t, http.MethodPost, "/api/v1/broadcast", signedBody(t, "0a0b0c"))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Operation osmosis.Operation `json:"operation"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "CAFE", resp.Operation.Hash)
		require.Len(t, env.broadcaster.received, 1)
		assert.Equal(t, "0a0b0c", env.broadcaster.received[0].Signature)
	})

	t.Run("rejected by chain", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.broadcaster.err = &txpipeline.BroadcastRejectedError{
			Code:      5,
			Codespace: "sdk",
			TxHash:    "CAFE",
			RawLog:    "insufficient funds",
		}

		rec := env.do(t, http.MethodPost, "/api/v1/broadcast", signedBody(t, "0a"))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var resp broadcastRejectedResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, uint32(5), resp.Code)
		assert.Equal(t, "sdk", resp.Codespace)
		assert.Equal(t, "insufficient funds", resp.RawLog)
	})

	t.Run("node unreachable", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.broadcaster.err = errBoom

		rec := env.do(t, http.MethodPost, "/api/v1/broadcast", signedBody(t, "0a"))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		requireErrorBody(t, rec, "broadcast failed")
	})

	t.Run("missing signature", func(t *testing.T) {
		env := newTestEnv(t, false)
		rec := env.do(t, http.MethodPost, "/api/v1/broadcast", signedBody(t, ""))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		requireErrorBody(t, rec, "signature is required")
		assert.Empty(t, env.broadcaster.received)
	})

	t.Run("malformed body", func(t *testing.T) {
		env := newTestEnv(t, false)
		rec := env.do(t, http.MethodPost, "/api/v1/broadcast", `{"signature": 12}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t, true)
		rec := env.do(t, http.MethodPost, "/api/v1/broadcast", signedBody(t, "0a"))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
