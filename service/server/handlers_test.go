package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/brojonat/osmosync/service/syncer"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegisterAccount_PathologicalInput tests that the register endpoint
// properly validates and rejects malicious or malformed input.
func TestRegisterAccount_PathologicalInput(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantContain string
	}{
		{
			name:        "malformed JSON",
			body:        `{"address": "osmo1`,
			wantStatus:  http.StatusBadRequest,
			wantContain: "invalid request body",
		},
		{
			name:        "empty body",
			body:        `{}`,
			wantStatus:  http.StatusBadRequest,
			wantContain: "address is required",
		},
		{
			name:        "oversized body",
			body:        fmt.Sprintf(`{"address": "%s"}`, strings.Repeat("a", 2<<20)),
			wantStatus:  http.StatusBadRequest,
			wantContain: "request body too large",
		},
		{
			name:        "address too long",
			body:        fmt.Sprintf(`{"address": "%s"}`, strings.Repeat("q", 200)),
			wantStatus:  http.StatusBadRequest,
			wantContain: "address too long",
		},
		{
			name:        "null byte in address",
			body:        `{"address": "osmo1qyqszqgp\u0000qyqszqgp"}`,
			wantStatus:  http.StatusBadRequest,
			wantContain: "control characters",
		},
		{
			name:        "wrong bech32 prefix",
			body:        fmt.Sprintf(`{"address": %q}`, testCosmos),
			wantStatus:  http.StatusBadRequest,
			wantContain: "invalid address format",
		},
		{
			name:        "bad checksum",
			body:        `{"address": "osmo1qyqszqgpqyqszqgpqyqszqgpqyqszqgp6gjwmx"}`,
			wantStatus:  http.StatusBadRequest,
			wantContain: "invalid address format",
		},
		{
			name:        "sql injection",
			body:        `{"address": "'; DROP TABLE accounts; --"}`,
			wantStatus:  http.StatusBadRequest,
			wantContain: "invalid address format",
		},
		{
			name:        "unknown network",
			body:        fmt.Sprintf(`{"address": %q, "network": "devnet"}`, testAddress),
			wantStatus:  http.StatusBadRequest,
			wantContain: "invalid network",
		},
		{
			name:        "unparseable interval",
			body:        fmt.Sprintf(`{"address": %q, "sync_interval": "soon"}`, testAddress),
			wantStatus:  http.StatusBadRequest,
			wantContain: "invalid sync_interval",
		},
		{
			name:        "negative interval",
			body:        fmt.Sprintf(`{"address": %q, "sync_interval": "-1m"}`, testAddress),
			wantStatus:  http.StatusBadRequest,
			wantContain: "must be positive",
		},
		{
			name:        "interval below minimum",
			body:        fmt.Sprintf(`{"address": %q, "sync_interval": "1s"}`, testAddress),
			wantStatus:  http.StatusBadRequest,
			wantContain: "at least",
		},
		{
			name:        "interval above maximum",
			body:        fmt.Sprintf(`{"address": %q, "sync_interval": "48h"}`, testAddress),
			wantStatus:  http.StatusBadRequest,
			wantContain: "cannot exceed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			rec := env.do(t, http.MethodPost, "/api/v1/accounts", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			requireErrorBody(t, rec, tt.wantContain)
			assert.Equal(t, 0, env.scheduler.ScheduleCount())
		})
	}
}

func TestRegisterAccount_CreatesSchedule(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/v1/accounts",
		fmt.Sprintf(`{"address": %q, "sync_interval": "2m"}`, testAddress))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testAddress, resp.Address)
	assert.Equal(t, "js:2:osmosis:"+testAddress+":", resp.AccountID)
	assert.Equal(t, "mainnet", resp.Network)
	assert.Equal(t, "2m0s", resp.SyncInterval)
	assert.Equal(t, "active", resp.Status)

	interval, ok := env.scheduler.GetScheduleInterval(testAddress, "mainnet")
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, interval)
}

func TestRegisterAccount_DefaultInterval(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/v1/accounts", fmt.Sprintf(`{"address": %q}`, testAddress))
	require.Equal(t, http.StatusCreated, rec.Code)

	interval, ok := env.scheduler.GetScheduleInterval(testAddress, "mainnet")
	require.True(t, ok)
	assert.Equal(t, time.Minute, interval)
}

func TestRegisterAccount_ReRegisterUpdatesInterval(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/v1/accounts",
		fmt.Sprintf(`{"address": %q, "sync_interval": "1m"}`, testAddress))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/accounts",
		fmt.Sprintf(`{"address": %q, "sync_interval": "5m"}`, testAddress))
	require.Equal(t, http.StatusOK, rec.Code)

	interval, ok := env.scheduler.GetScheduleInterval(testAddress, "mainnet")
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, interval)
	assert.Equal(t, 1, env.scheduler.ScheduleCount())
}

func TestRegisterAccount_SchedulerFailureRollsBack(t *testing.T) {
	env := newTestEnv(t, false)
	env.scheduler.SetCreateError(errBoom)

	rec := env.do(t, http.MethodPost, "/api/v1/accounts", fmt.Sprintf(`{"address": %q}`, testAddress))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	requireErrorBody(t, rec, "failed to schedule account sync")

	assert.False(t, env.store.has(testAddress), "a new account must not survive a scheduling failure")
}

func TestRegisterAccount_SchedulerFailureKeepsExistingAccount(t *testing.T) {
	env := newTestEnv(t, false)
	env.store.seed(testAddress, 1000)
	env.scheduler.SetCreateError(errBoom)

	rec := env.do(t, http.MethodPost, "/api/v1/accounts", fmt.Sprintf(`{"address": %q}`, testAddress))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	assert.True(t, env.store.has(testAddress))
}

func TestRegisterAccount_StoreFailure(t *testing.T) {
	env := newTestEnv(t, false)
	env.store.upsertErr = errBoom

	rec := env.do(t, http.MethodPost, "/api/v1/accounts", fmt.Sprintf(`{"address": %q}`, testAddress))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 0, env.scheduler.ScheduleCount())
}

func TestGetAccount_PathologicalInput(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"invalid address", "/api/v1/accounts/not-an-address", http.StatusBadRequest},
		{"foreign prefix", "/api/v1/accounts/" + testCosmos, http.StatusBadRequest},
		{"too long", "/api/v1/accounts/" + strings.Repeat("q", 200), http.StatusBadRequest},
		{"unknown account", "/api/v1/accounts/" + testAddress, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			rec := env.do(t, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestGetAccount_Cached(t *testing.T) {
	env := newTestEnv(t, false)
	env.store.seed(testAddress, 4200)

	rec := env.do(t, http.MethodGet, "/api/v1/accounts/"+testAddress, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

	var resp accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, decimal.NewFromInt(4200).Equal(resp.Balance))

	rec = env.do(t, http.MethodGet, "/api/v1/accounts/"+testAddress, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, 1, env.store.getCalls)
}

func TestGetAccount_CacheInvalidatedOnUnregister(t *testing.T) {
	env := newTestEnv(t, false)
	env.store.seed(testAddress, 4200)
	require.NoError(t, env.scheduler.CreateAccountSchedule(t.Context(), testAddress, "mainnet", time.Minute))

	rec := env.do(t, http.MethodGet, "/api/v1/accounts/"+testAddress, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/accounts/"+testAddress, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/accounts/"+testAddress, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAccounts(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/api/v1/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var empty struct {
		Accounts []accountResponse `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &empty))
	assert.Empty(t, empty.Accounts)

	env.store.seed(testAddress, 1)
	env.store.seed(testCounterparty, 2)

	rec = env.do(t, http.MethodGet, "/api/v1/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Accounts []accountResponse `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Accounts, 2)
	addresses := []string{resp.Accounts[0].Address, resp.Accounts[1].Address}
	assert.ElementsMatch(t, []string{testAddress, testCounterparty}, addresses)
}

func TestListAccounts_StoreFailure(t *testing.T) {
	env := newTestEnv(t, false)
	env.store.listErr = errBoom

	rec := env.do(t, http.MethodGet, "/api/v1/accounts", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestUnregisterAccount(t *testing.T) {
	t.Run("removes account and schedule", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.store.seed(testAddress, 0)
		require.NoError(t, env.scheduler.CreateAccountSchedule(t.Context(), testAddress, "mainnet", time.Minute))

		rec := env.do(t, http.MethodDelete, "/api/v1/accounts/"+testAddress, "")
		require.Equal(t, http.StatusNoContent, rec.Code)

		assert.False(t, env.store.has(testAddress))
		assert.False(t, env.scheduler.ScheduleExists(testAddress, "mainnet"))
	})

	t.Run("missing schedule does not block removal", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.store.seed(testAddress, 0)

		rec := env.do(t, http.MethodDelete, "/api/v1/accounts/"+testAddress, "")
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.False(t, env.store.has(testAddress))
	})

	t.Run("unknown account", func(t *testing.T) {
		env := newTestEnv(t, false)
		rec := env.do(t, http.MethodDelete, "/api/v1/accounts/"+testAddress, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid address", func(t *testing.T) {
		env := newTestEnv(t, false)
		rec := env.do(t, http.MethodDelete, "/api/v1/accounts/"+testCosmos, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListOperations(t *testing.T) {
	env := newTestEnv(t, false)
	env.store.seed(testAddress, 0,
		testOperation("AAA", osmosis.OperationTypeIn, 10),
		testOperation("BBB", osmosis.OperationTypeIn, 20),
		testOperation("CCC", osmosis.OperationTypeIn, 30),
	)

	rec := env.do(t, http.MethodGet, "/api/v1/accounts/"+testAddress+"/operations?limit=2&offset=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Operations []osmosis.Operation `json:"operations"`
		Count      int                 `json:"count"`
		Limit      int                 `json:"limit"`
		Offset     int                 `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 2, resp.Limit)
	assert.Equal(t, 1, resp.Offset)
	require.Len(t, resp.Operations, 2)
	assert.Equal(t, "BBB", resp.Operations[0].Hash)
	assert.Equal(t, "CCC", resp.Operations[1].Hash)
}

func TestListOperations_InvalidPagination(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"non-numeric limit", "limit=ten", "invalid limit parameter"},
		{"zero limit", "limit=0", "must be at least 1"},
		{"limit too large", "limit=5000", "cannot exceed 1000"},
		{"negative offset", "offset=-1", "invalid offset parameter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			rec := env.do(t, http.MethodGet, "/api/v1/accounts/"+testAddress+"/operations?"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			requireErrorBody(t, rec, tt.want)
		})
	}
}

func TestSyncAccount(t *testing.T) {
	env := newTestEnv(t, false)
	env.store.seed(testAddress, 0)

	in := testOperation("AAA", osmosis.OperationTypeIn, 1000)
	env.engine.result = syncer.Result{
		Snapshot: osmosis.AccountSnapshot{
			AccountID:        osmosis.EncodeAccountID(osmosis.CurrencyID, testAddress),
			Address:          testAddress,
			BlockHeight:      120,
			Balance:          decimal.NewFromInt(1000),
			SpendableBalance: decimal.NewFromInt(1000),
			Operations:       []osmosis.Operation{in},
			OperationsCount:  1,
			SyncedAt:         time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		NewOperations: []osmosis.Operation{in},
		Pages:         1,
	}

	// Warm the cache so the sync has something to invalidate.
	rec := env.do(t, http.MethodGet, "/api/v1/accounts/"+testAddress, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/accounts/"+testAddress+"/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp syncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(120), resp.BlockHeight)
	assert.Equal(t, 1, resp.OperationsCount)
	assert.Equal(t, 1, resp.Written)
	assert.Equal(t, 1, resp.Published)
	assert.Equal(t, 1, resp.Pages)
	require.Len(t, resp.NewOperations, 1)
	assert.Equal(t, in.ID, resp.NewOperations[0].ID)

	events := env.publisher.GetPublishedEventsForAccount(testAddress)
	require.Len(t, events, 1)
	assert.Equal(t, in.ID, events[0].ID)

	rec = env.do(t, http.MethodGet, "/api/v1/accounts/"+testAddress, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	var account accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &account))
	assert.True(t, decimal.NewFromInt(1000).Equal(account.Balance))
	assert.Equal(t, int64(120), account.BlockHeight)
}

func TestSyncAccount_NoNewOperations(t *testing.T) {
	env := newTestEnv(t, false)
	env.store.seed(testAddress, 0)
	env.engine.result = syncer.Result{
		Snapshot: osmosis.AccountSnapshot{Address: testAddress, Balance: decimal.Zero},
	}

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/"+testAddress+"/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"new_operations":[]`)
	assert.Equal(t, 0, env.publisher.GetPublishedEventCount())
}

func TestSyncAccount_Errors(t *testing.T) {
	t.Run("unregistered account", func(t *testing.T) {
		env := newTestEnv(t, false)
		rec := env.do(t, http.MethodPost, "/api/v1/accounts/"+testAddress+"/sync", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, 0, env.engine.calls)
	})

	t.Run("engine failure", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.store.seed(testAddress, 0)
		env.engine.err = errBoom

		rec := env.do(t, http.MethodPost, "/api/v1/accounts/"+testAddress+"/sync", "")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		requireErrorBody(t, rec, "sync failed")
	})

	t.Run("save failure", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.store.seed(testAddress, 0)
		env.store.saveErr = errBoom

		rec := env.do(t, http.MethodPost, "/api/v1/accounts/"+testAddress+"/sync", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, 0, env.publisher.GetPublishedEventCount())
	})

	t.Run("publish failure keeps result", func(t *testing.T) {
		env := newTestEnv(t, false)
		env.store.seed(testAddress, 0)
		in := testOperation("AAA", osmosis.OperationTypeIn, 1)
		env.engine.result = syncer.Result{
			Snapshot:      osmosis.AccountSnapshot{Address: testAddress, Operations: []osmosis.Operation{in}},
			NewOperations: []osmosis.Operation{in},
		}
		env.publisher.SetPublishBatchError(errBoom)

		rec := env.do(t, http.MethodPost, "/api/v1/accounts/"+testAddress+"/sync", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp syncResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Written)
		assert.Equal(t, 0, resp.Published)
	})
}

func TestHealthAndMiddleware(t *testing.T) {
	env := newTestEnv(t, false)

	t.Run("health", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OK", rec.Body.String())
	})

	t.Run("request id is generated", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/health", "")
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("request id is echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "req-123")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	})

	t.Run("cors preflight", func(t *testing.T) {
		rec := env.do(t, http.MethodOptions, "/api/v1/accounts", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("metrics disabled without collector", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("stream disabled without nats", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/stream/operations", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestParseBoundedInt(t *testing.T) {
	v, err := parseBoundedInt("", 7, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	v, err = parseBoundedInt("1000000", 0, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, 1000000, v)

	_, err = parseBoundedInt("11", 0, 1, 10)
	assert.EqualError(t, err, "cannot exceed 10")
}
