package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	natspkg "github.com/brojonat/osmosync/service/nats"
	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/brojonat/osmosync/service/txpipeline"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "osmo1qyqszqgpqyqszqgpqyqszqgpqyqszqgp6gjwmw"

func accountJSON() map[string]interface{} {
	return map[string]interface{}{
		"address":           testAddress,
		"account_id":        "js:2:osmosis:" + testAddress + ":",
		"network":           "mainnet",
		"balance":           "1500",
		"spendable_balance": "1500",
		"block_height":      42,
		"operations_count":  3,
		"sync_interval":     "30s",
		"status":            "active",
		"created_at":        time.Now().Format(time.RFC3339),
		"updated_at":        time.Now().Format(time.RFC3339),
	}
}

func TestRegister_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/accounts", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		err := json.NewDecoder(r.Body).Decode(&body)
		require.NoError(t, err)

		assert.Equal(t, testAddress, body["address"])
		assert.Equal(t, "mainnet", body["network"])
		assert.Equal(t, "30s", body["sync_interval"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(accountJSON())
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	account, err := client.Register(context.Background(), testAddress, "mainnet", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, testAddress, account.Address)
	assert.Equal(t, 30*time.Second, account.SyncInterval)
}

func TestRegister_ExistingAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotContains(t, body, "network")
		assert.NotContains(t, body, "sync_interval")

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(accountJSON())
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Register(context.Background(), testAddress, "", 0)
	assert.NoError(t, err)
}

func TestRegister_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "invalid address format: must be a bech32 osmo address",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Register(context.Background(), "invalid", "mainnet", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid address format")
}

func TestUnregister(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "DELETE", r.Method)
			assert.Equal(t, "/api/v1/accounts/"+testAddress, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		client := NewClient(server.URL, nil, nil)
		assert.NoError(t, client.Unregister(context.Background(), testAddress))
	})

	t.Run("not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "account not found"})
		}))
		defer server.Close()

		client := NewClient(server.URL, nil, nil)
		err := client.Unregister(context.Background(), testAddress)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "account not found")
	})
}

func TestGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/accounts/"+testAddress, r.URL.Path)
		json.NewEncoder(w).Encode(accountJSON())
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	account, err := client.Get(context.Background(), testAddress)
	require.NoError(t, err)

	assert.Equal(t, "js:2:osmosis:"+testAddress+":", account.AccountID)
	assert.True(t, decimal.NewFromInt(1500).Equal(account.Balance))
	assert.Equal(t, int64(42), account.BlockHeight)
	assert.Equal(t, 3, account.OperationsCount)
	assert.Equal(t, "active", account.Status)
}

func TestGet_BadInterval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := accountJSON()
		body["sync_interval"] = "often"
		json.NewEncoder(w).Encode(body)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Get(context.Background(), testAddress)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sync_interval")
}

func TestList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accounts": []interface{}{accountJSON(), accountJSON()},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	accounts, err := client.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}

func TestList_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestOperations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/"+testAddress+"/operations", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "20", r.URL.Query().Get("offset"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"operations": []osmosis.Operation{{ID: "op-1", Hash: "AAA", Type: osmosis.OperationTypeIn}},
			"count":      1,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ops, err := client.Operations(context.Background(), testAddress, 10, 20)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "AAA", ops[0].Hash)
}

func TestSync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/accounts/"+testAddress+"/sync", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"address":        testAddress,
			"block_height":   99,
			"new_operations": []osmosis.Operation{{ID: "op-1"}},
			"written":        1,
			"published":      1,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	result, err := client.Sync(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Equal(t, int64(99), result.BlockHeight)
	assert.Len(t, result.NewOperations, 1)
	assert.Equal(t, 1, result.Written)
}

func TestStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/"+testAddress+"/status", r.URL.Path)

		var intent txpipeline.Intent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&intent))
		assert.Equal(t, "hello", intent.Memo)

		fees := decimal.Zero
		intent.Fees = &fees
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": map[string]interface{}{
				"errors":         map[string]string{"amount": "not enough balance"},
				"warnings":       map[string]string{},
				"estimated_fees": "0",
				"amount":         "100",
				"total_spent":    "100",
			},
			"intent": intent,
		})
	}))
	defer server.Close()

	intent := txpipeline.NewIntent()
	intent.Amount = decimal.NewFromInt(100)
	intent.Memo = "hello"

	client := NewClient(server.URL, nil, nil)
	status, err := client.Status(context.Background(), testAddress, intent)
	require.NoError(t, err)
	assert.False(t, status.OK())
	assert.Equal(t, "not enough balance", status.Errors["amount"])
	require.NotNil(t, status.Intent.Fees)
	assert.True(t, status.Intent.Fees.IsZero())
}

func TestMaxSpendable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "send", r.URL.Query().Get("mode"))
		json.NewEncoder(w).Encode(map[string]interface{}{"max_spendable": "777"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	maxSpendable, err := client.MaxSpendable(context.Background(), testAddress, txpipeline.ModeSend)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(777).Equal(maxSpendable))
}

func TestBroadcast(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var signed txpipeline.SignedOperation
			require.NoError(t, json.NewDecoder(r.Body).Decode(&signed))
			assert.Equal(t, "0a0b", signed.Signature)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"operation": osmosis.Operation{Hash: "CAFE"},
			})
		}))
		defer server.Close()

		client := NewClient(server.URL, nil, nil)
		op, err := client.Broadcast(context.Background(), txpipeline.SignedOperation{Signature: "0a0b"})
		require.NoError(t, err)
		assert.Equal(t, "CAFE", op.Hash)
	})

	t.Run("rejected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":   "transaction rejected (code 5): insufficient funds",
				"code":    5,
				"raw_log": "insufficient funds",
			})
		}))
		defer server.Close()

		client := NewClient(server.URL, nil, nil)
		_, err := client.Broadcast(context.Background(), txpipeline.SignedOperation{Signature: "0a"})
		var rejected *txpipeline.BroadcastRejectedError
		require.True(t, errors.As(err, &rejected))
		assert.Equal(t, uint32(5), rejected.Code)
		assert.Equal(t, "insufficient funds", rejected.RawLog)
	})

	t.Run("unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": "broadcasting is not configured"})
		}))
		defer server.Close()

		client := NewClient(server.URL, nil, nil)
		_, err := client.Broadcast(context.Background(), txpipeline.SignedOperation{Signature: "0a"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broadcasting is not configured")
	})
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	assert.NoError(t, client.Health(context.Background()))
}

func sseServer(t *testing.T, events ...natspkg.OperationEvent) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/operations/"+testAddress, r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		w.Write([]byte("event: connected\ndata: {\"account\":\"" + testAddress + "\"}\n\n"))
		w.Write([]byte(": keepalive\n\n"))
		for _, event := range events {
			data, _ := json.Marshal(event)
			w.Write([]byte("event: operation\ndata: " + string(data) + "\n\n"))
		}
		flusher.Flush()
		<-r.Context().Done()
	}))
}

func TestAwait_MatchingOperation(t *testing.T) {
	server := sseServer(t,
		natspkg.OperationEvent{ID: "op-1", Type: osmosis.OperationTypeOut, Value: decimal.NewFromInt(5)},
		natspkg.OperationEvent{ID: "op-2", Type: osmosis.OperationTypeIn, Value: decimal.NewFromInt(1000), Memo: "invoice-7"},
	)
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	op, err := client.Await(ctx, testAddress, func(op *natspkg.OperationEvent) bool {
		return op.Type == osmosis.OperationTypeIn && op.Memo == "invoice-7"
	})
	require.NoError(t, err)
	assert.Equal(t, "op-2", op.ID)
	assert.True(t, decimal.NewFromInt(1000).Equal(op.Value))
}

func TestAwait_Timeout(t *testing.T) {
	server := sseServer(t, natspkg.OperationEvent{ID: "op-1", Type: osmosis.OperationTypeOut})
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	op, err := client.Await(ctx, testAddress, func(op *natspkg.OperationEvent) bool {
		return op.Type == osmosis.OperationTypeIn
	})
	assert.Nil(t, op)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStream_ClosedByServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		data, _ := json.Marshal(natspkg.OperationEvent{ID: "op-1"})
		w.Write([]byte("event: operation\ndata: " + string(data) + "\n\n"))
		w.Write([]byte("event: operation\ndata: not-json\n\n"))
	}))
	defer server.Close()

	var seen []string
	client := NewClient(server.URL, nil, nil)
	err := client.Stream(context.Background(), "", func(op *natspkg.OperationEvent) error {
		seen = append(seen, op.ID)
		return nil
	})
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.Equal(t, []string{"op-1"}, seen)
}
