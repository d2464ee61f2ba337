package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/osmosync/service/metrics"
	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when an account does not exist.
var ErrNotFound = errors.New("not found")

// Store provides database operations for the service.
// It persists account snapshots between syncs; the sync engine itself never touches it.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If metrics is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Account represents a registered account that the worker keeps in sync.
type Account struct {
	Address          string
	AccountID        string
	Network          string
	Balance          decimal.Decimal
	SpendableBalance decimal.Decimal
	BlockHeight      int64
	OperationsCount  int
	Partial          bool
	SyncInterval     time.Duration
	Status           string
	LastSyncTime     *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UpsertAccountParams contains the parameters for registering an account.
type UpsertAccountParams struct {
	Address      string
	AccountID    string
	Network      string
	SyncInterval time.Duration
	Status       string
}

const accountColumns = `address, account_id, network, balance::text, spendable_balance::text,
	block_height, operations_count, partial, sync_interval, status, last_sync_time, created_at, updated_at`

// UpsertAccount registers an account, or updates the sync settings of an existing one.
// Balances and history are left untouched.
func (s *Store) UpsertAccount(ctx context.Context, params UpsertAccountParams) (*Account, error) {
	start := time.Now()
	status := params.Status
	if status == "" {
		status = "active"
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (address, account_id, network, sync_interval, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE SET
			network = EXCLUDED.network,
			sync_interval = EXCLUDED.sync_interval,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING `+accountColumns,
		params.Address, params.AccountID, params.Network, pgIntervalFromDuration(params.SyncInterval), status,
	)
	account, err := scanAccount(row)
	s.record("upsert_account", "accounts", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}
	return account, nil
}

// GetAccount retrieves an account by address. Returns ErrNotFound if it does not exist.
func (s *Store) GetAccount(ctx context.Context, address string) (*Account, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE address = $1`, address)
	account, err := scanAccount(row)
	s.record("get_account", "accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", address, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// ListAccounts retrieves all registered accounts, oldest first.
func (s *Store) ListAccounts(ctx context.Context) ([]*Account, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, address`)
	if err != nil {
		s.record("list_accounts", "accounts", start, err)
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			s.record("list_accounts", "accounts", start, err)
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	err = rows.Err()
	s.record("list_accounts", "accounts", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// DeleteAccount removes an account and its operations.
// Returns ErrNotFound if the account does not exist.
func (s *Store) DeleteAccount(ctx context.Context, address string) error {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE address = $1`, address)
	s.record("delete_account", "accounts", start, err)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", address, ErrNotFound)
	}
	return nil
}

// SaveSnapshot writes the account row and every operation of snap in one transaction.
// Operations already stored are left as they are, so saving the same snapshot twice
// is a no-op. It returns the number of operations that were newly inserted.
func (s *Store) SaveSnapshot(ctx context.Context, network string, snap osmosis.AccountSnapshot) (int, error) {
	start := time.Now()
	inserted, err := s.saveSnapshot(ctx, network, snap)
	s.record("save_snapshot", "operations", start, err)
	return inserted, err
}

func (s *Store) saveSnapshot(ctx context.Context, network string, snap osmosis.AccountSnapshot) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	syncedAt := pgtype.Timestamptz{Time: snap.SyncedAt, Valid: !snap.SyncedAt.IsZero()}
	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (address, account_id, network, balance, spendable_balance,
			block_height, operations_count, partial, sync_interval, last_sync_time)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, $10)
		ON CONFLICT (address) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			balance = EXCLUDED.balance,
			spendable_balance = EXCLUDED.spendable_balance,
			block_height = EXCLUDED.block_height,
			operations_count = EXCLUDED.operations_count,
			partial = EXCLUDED.partial,
			last_sync_time = EXCLUDED.last_sync_time,
			updated_at = NOW()`,
		snap.Address, snap.AccountID, network, snap.Balance.String(), snap.SpendableBalance.String(),
		snap.BlockHeight, snap.OperationsCount, snap.Partial, pgIntervalFromDuration(0), syncedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save account: %w", err)
	}

	inserted := 0
	if len(snap.Operations) > 0 {
		batch := &pgx.Batch{}
		for i, op := range snap.Operations {
			batch.Queue(`
				INSERT INTO operations (id, account_address, account_id, position, hash, type, value, fee,
					block_hash, block_height, date, senders, recipients, has_failed, memo)
				VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10, $11, $12, $13, $14, $15)
				ON CONFLICT (id) DO NOTHING`,
				op.ID, snap.Address, op.AccountID, i, op.Hash, string(op.Type), op.Value.String(), op.Fee.String(),
				op.BlockHash, op.BlockHeight, op.Date, nonNil(op.Senders), nonNil(op.Recipients), op.HasFailed, op.Memo(),
			)
		}

		br := tx.SendBatch(ctx, batch)
		for range snap.Operations {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return 0, fmt.Errorf("failed to insert operation: %w", err)
			}
			inserted += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return 0, fmt.Errorf("failed to insert operations: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return inserted, nil
}

// LoadSnapshot rebuilds the last saved snapshot of an account, operations in merge order.
// Returns ErrNotFound if the account does not exist.
func (s *Store) LoadSnapshot(ctx context.Context, address string) (osmosis.AccountSnapshot, error) {
	account, err := s.GetAccount(ctx, address)
	if err != nil {
		return osmosis.AccountSnapshot{}, err
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, `SELECT `+operationColumns+`
		FROM operations WHERE account_address = $1 ORDER BY position, id`, address)
	if err != nil {
		s.record("load_snapshot", "operations", start, err)
		return osmosis.AccountSnapshot{}, fmt.Errorf("failed to load operations: %w", err)
	}
	ops, err := collectOperations(rows)
	s.record("load_snapshot", "operations", start, err)
	if err != nil {
		return osmosis.AccountSnapshot{}, err
	}

	snap := osmosis.AccountSnapshot{
		AccountID:        account.AccountID,
		Address:          account.Address,
		BlockHeight:      account.BlockHeight,
		Balance:          account.Balance,
		SpendableBalance: account.SpendableBalance,
		Operations:       ops,
		OperationsCount:  len(ops),
		Partial:          account.Partial,
	}
	if account.LastSyncTime != nil {
		snap.SyncedAt = *account.LastSyncTime
	}
	return snap, nil
}

// ListOperationsParams contains pagination parameters.
type ListOperationsParams struct {
	Address string
	Limit   int32
	Offset  int32
}

// ListOperations retrieves the operations of an account, most recent first.
func (s *Store) ListOperations(ctx context.Context, params ListOperationsParams) ([]osmosis.Operation, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `SELECT `+operationColumns+`
		FROM operations WHERE account_address = $1
		ORDER BY date DESC, position DESC
		LIMIT $2 OFFSET $3`, params.Address, params.Limit, params.Offset)
	if err != nil {
		s.record("list_operations", "operations", start, err)
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	ops, err := collectOperations(rows)
	s.record("list_operations", "operations", start, err)
	return ops, err
}

// GetOperations retrieves the given operations of an account in merge order.
// Unknown ids are ignored.
func (s *Store) GetOperations(ctx context.Context, address string, ids []string) ([]osmosis.Operation, error) {
	if len(ids) == 0 {
		return []osmosis.Operation{}, nil
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, `SELECT `+operationColumns+`
		FROM operations WHERE account_address = $1 AND id = ANY($2)
		ORDER BY position, id`, address, ids)
	if err != nil {
		s.record("get_operations", "operations", start, err)
		return nil, fmt.Errorf("failed to get operations: %w", err)
	}
	ops, err := collectOperations(rows)
	s.record("get_operations", "operations", start, err)
	return ops, err
}

const operationColumns = `id, account_id, hash, type, value::text, fee::text, block_hash, block_height,
	date, senders, recipients, has_failed, memo`

func collectOperations(rows pgx.Rows) ([]osmosis.Operation, error) {
	defer rows.Close()

	ops := []osmosis.Operation{}
	for rows.Next() {
		var (
			op         osmosis.Operation
			opType     string
			value, fee string
			memo       string
		)
		err := rows.Scan(&op.ID, &op.AccountID, &op.Hash, &opType, &value, &fee, &op.BlockHash,
			&op.BlockHeight, &op.Date, &op.Senders, &op.Recipients, &op.HasFailed, &memo)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		op.Type = osmosis.OperationType(opType)
		if op.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("invalid value for operation %s: %w", op.ID, err)
		}
		if op.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("invalid fee for operation %s: %w", op.ID, err)
		}
		op.Date = op.Date.UTC()
		op.Extra = map[string]string{"memo": memo}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read operations: %w", err)
	}
	return ops, nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var (
		a                  Account
		balance, spendable string
		interval           pgtype.Interval
		lastSync           pgtype.Timestamptz
	)
	err := row.Scan(&a.Address, &a.AccountID, &a.Network, &balance, &spendable, &a.BlockHeight,
		&a.OperationsCount, &a.Partial, &interval, &a.Status, &lastSync, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("invalid balance: %w", err)
	}
	if a.SpendableBalance, err = decimal.NewFromString(spendable); err != nil {
		return nil, fmt.Errorf("invalid spendable balance: %w", err)
	}
	a.SyncInterval = durationFromPgInterval(interval)
	a.LastSyncTime = timePtrFromPgTimestamptz(lastSync)
	return &a, nil
}

func (s *Store) record(operation, table string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	// A missing row is an answer, not a failure.
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func pgIntervalFromDuration(d time.Duration) pgtype.Interval {
	return pgtype.Interval{
		Microseconds: d.Microseconds(),
		Valid:        true,
	}
}

func durationFromPgInterval(i pgtype.Interval) time.Duration {
	if !i.Valid {
		return 0
	}
	return time.Duration(i.Microseconds)*time.Microsecond +
		time.Duration(i.Days)*24*time.Hour
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	tt := t.Time.UTC()
	return &tt
}
