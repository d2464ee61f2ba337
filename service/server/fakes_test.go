package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/osmosync/service/config"
	"github.com/brojonat/osmosync/service/db"
	natspkg "github.com/brojonat/osmosync/service/nats"
	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/brojonat/osmosync/service/syncer"
	"github.com/brojonat/osmosync/service/temporal"
	"github.com/brojonat/osmosync/service/txpipeline"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testAddress      = "osmo1qyqszqgpqyqszqgpqyqszqgpqyqszqgp6gjwmw"
	testCounterparty = "osmo1qgpqyqszqgpqyqszqgpqyqszqgpqyqsztv5tsc"
	testCosmos       = "cosmos1qyqszqgpqyqszqgpqyqszqgpqyqszqgpjnp7du"
)

// fakeStore is an in-memory AccountStore.
type fakeStore struct {
	mu        sync.Mutex
	accounts  map[string]*db.Account
	snapshots map[string]osmosis.AccountSnapshot
	getCalls  int
	upsertErr error
	listErr   error
	saveErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:  make(map[string]*db.Account),
		snapshots: make(map[string]osmosis.AccountSnapshot),
	}
}

func (f *fakeStore) UpsertAccount(ctx context.Context, params db.UpsertAccountParams) (*db.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	now := time.Now()
	account, ok := f.accounts[params.Address]
	if !ok {
		account = &db.Account{
			Address:          params.Address,
			AccountID:        params.AccountID,
			Balance:          decimal.Zero,
			SpendableBalance: decimal.Zero,
			CreatedAt:        now,
		}
		f.accounts[params.Address] = account
	}
	account.Network = params.Network
	account.SyncInterval = params.SyncInterval
	account.Status = params.Status
	account.UpdatedAt = now
	cp := *account
	return &cp, nil
}

func (f *fakeStore) GetAccount(ctx context.Context, address string) (*db.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	account, ok := f.accounts[address]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", address, db.ErrNotFound)
	}
	cp := *account
	return &cp, nil
}

func (f *fakeStore) ListAccounts(ctx context.Context) ([]*db.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*db.Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (f *fakeStore) DeleteAccount(ctx context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[address]; !ok {
		return db.ErrNotFound
	}
	delete(f.accounts, address)
	delete(f.snapshots, address)
	return nil
}

func (f *fakeStore) LoadSnapshot(ctx context.Context, address string) (osmosis.AccountSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[address]
	if !ok {
		return osmosis.AccountSnapshot{}, fmt.Errorf("account %s: %w", address, db.ErrNotFound)
	}
	if snap, ok := f.snapshots[address]; ok {
		return snap, nil
	}
	return osmosis.AccountSnapshot{
		AccountID:        account.AccountID,
		Address:          address,
		Balance:          account.Balance,
		SpendableBalance: account.SpendableBalance,
	}, nil
}

func (f *fakeStore) SaveSnapshot(ctx context.Context, network string, snap osmosis.AccountSnapshot) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return 0, f.saveErr
	}
	known := make(map[string]bool)
	for _, op := range f.snapshots[snap.Address].Operations {
		known[op.ID] = true
	}
	written := 0
	for _, op := range snap.Operations {
		if !known[op.ID] {
			written++
		}
	}
	f.snapshots[snap.Address] = snap
	if account, ok := f.accounts[snap.Address]; ok {
		account.Balance = snap.Balance
		account.SpendableBalance = snap.SpendableBalance
		account.BlockHeight = snap.BlockHeight
		account.OperationsCount = snap.OperationsCount
		account.Partial = snap.Partial
		synced := snap.SyncedAt
		account.LastSyncTime = &synced
	}
	return written, nil
}

func (f *fakeStore) ListOperations(ctx context.Context, params db.ListOperationsParams) ([]osmosis.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := f.snapshots[params.Address].Operations
	start := int(params.Offset)
	if start > len(ops) {
		start = len(ops)
	}
	end := start + int(params.Limit)
	if end > len(ops) {
		end = len(ops)
	}
	return append([]osmosis.Operation{}, ops[start:end]...), nil
}

// seed registers an account with a known spendable balance.
func (f *fakeStore) seed(address string, spendable int64, ops ...osmosis.Operation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.accounts[address] = &db.Account{
		Address:          address,
		AccountID:        osmosis.EncodeAccountID(osmosis.CurrencyID, address),
		Network:          "mainnet",
		Balance:          decimal.NewFromInt(spendable),
		SpendableBalance: decimal.NewFromInt(spendable),
		SyncInterval:     time.Minute,
		Status:           "active",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	f.snapshots[address] = osmosis.AccountSnapshot{
		AccountID:        osmosis.EncodeAccountID(osmosis.CurrencyID, address),
		Address:          address,
		Balance:          decimal.NewFromInt(spendable),
		SpendableBalance: decimal.NewFromInt(spendable),
		Operations:       ops,
		OperationsCount:  len(ops),
	}
}

func (f *fakeStore) has(address string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.accounts[address]
	return ok
}

// fakeEngine returns a canned sync result.
type fakeEngine struct {
	result syncer.Result
	err    error
	calls  int
}

func (f *fakeEngine) Sync(ctx context.Context, previous osmosis.AccountSnapshot, address string) (syncer.Result, error) {
	f.calls++
	return f.result, f.err
}

// fakeBroadcaster returns a canned broadcast outcome.
type fakeBroadcaster struct {
	op       osmosis.Operation
	err      error
	received []txpipeline.SignedOperation
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, signed txpipeline.SignedOperation) (osmosis.Operation, error) {
	f.received = append(f.received, signed)
	return f.op, f.err
}

type testEnv struct {
	store       *fakeStore
	scheduler   *temporal.MockScheduler
	engine      *fakeEngine
	broadcaster *fakeBroadcaster
	publisher   *natspkg.MockPublisher
	handler     http.Handler
}

func testConfig() *config.Config {
	return &config.Config{
		Network:             "mainnet",
		CurrencyID:          osmosis.CurrencyID,
		DefaultSyncInterval: time.Minute,
		MinSyncInterval:     15 * time.Second,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newTestEnv builds a server around fakes. The broadcaster is wired unless
// withoutBroadcaster is set.
func newTestEnv(t *testing.T, withoutBroadcaster bool) *testEnv {
	t.Helper()
	env := &testEnv{
		store:       newFakeStore(),
		scheduler:   temporal.NewMockScheduler(),
		engine:      &fakeEngine{},
		broadcaster: &fakeBroadcaster{},
		publisher:   natspkg.NewMockPublisher(),
	}
	deps := Deps{
		Store:     env.store,
		Scheduler: env.scheduler,
		Engine:    env.engine,
		Publisher: env.publisher,
	}
	if !withoutBroadcaster {
		deps.Broadcaster = env.broadcaster
	}
	env.handler = New(":0", testConfig(), deps, testLogger()).Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func testOperation(hash string, opType osmosis.OperationType, value int64) osmosis.Operation {
	accountID := osmosis.EncodeAccountID(osmosis.CurrencyID, testAddress)
	height := int64(100)
	return osmosis.Operation{
		ID:          osmosis.EncodeOperationID(accountID, hash, opType),
		AccountID:   accountID,
		Type:        opType,
		Value:       decimal.NewFromInt(value),
		Fee:         decimal.NewFromInt(500),
		Hash:        hash,
		BlockHeight: &height,
		Date:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Senders:     []string{testCounterparty},
		Recipients:  []string{testAddress},
	}
}

var errBoom = errors.New("boom")

func requireErrorBody(t *testing.T, rec *httptest.ResponseRecorder, contains string) {
	t.Helper()
	require.Contains(t, rec.Body.String(), contains)
}
