package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/osmosync/service/metrics"
	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/shopspring/decimal"
)

// DefaultMaxPages bounds the number of indexer pages fetched by one sync.
const DefaultMaxPages = 20

// Indexer is the paginated history source. A nil page, like an empty one, ends the history.
// This allows us to mock the indexer in tests without hitting a real service.
type Indexer interface {
	SearchTransactions(ctx context.Context, params osmosis.SearchParams) (*osmosis.Page, error)
}

// Node provides the account state that is not derived from history.
type Node interface {
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
	GetLatestBlock(ctx context.Context) (osmosis.Block, error)
}

// Options configures an Engine.
type Options struct {
	Network    string // indexer network name, e.g. "osmosis"
	CurrencyID string
	PageSize   int
	MaxPages   int
}

// Result is the outcome of a sync.
type Result struct {
	Snapshot osmosis.AccountSnapshot
	// NewOperations are the operations that were not part of the previous snapshot.
	NewOperations []osmosis.Operation
	Pages         int
}

// Engine synchronizes an account's balance and history.
type Engine struct {
	indexer Indexer
	node    Node
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine creates a new sync engine.
// If metrics is nil, no metrics will be recorded.
func NewEngine(indexer Indexer, node Node, opts Options, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if opts.Network == "" {
		opts.Network = osmosis.CurrencyID
	}
	if opts.CurrencyID == "" {
		opts.CurrencyID = osmosis.CurrencyID
	}
	if opts.PageSize <= 0 {
		opts.PageSize = osmosis.DefaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		indexer: indexer,
		node:    node,
		opts:    opts,
		logger:  logger,
		metrics: m,
	}
}

// Sync builds a new snapshot of address from the previous one plus freshly fetched history.
// Pass the zero snapshot for a first sync.
//
// A failure to read the balance or the latest block fails the sync. A failure to fetch
// a history page stops pagination and returns what was merged so far with Partial set.
func (e *Engine) Sync(ctx context.Context, previous osmosis.AccountSnapshot, address string) (Result, error) {
	start := time.Now()
	accountID := osmosis.EncodeAccountID(e.opts.CurrencyID, address)

	balance, err := e.node.GetBalance(ctx, address)
	if err != nil {
		e.recordSync("error", start)
		return Result{}, fmt.Errorf("failed to get balance for %s: %w", address, err)
	}
	block, err := e.node.GetLatestBlock(ctx)
	if err != nil {
		e.recordSync("error", start)
		return Result{}, fmt.Errorf("failed to get latest block: %w", err)
	}

	e.logger.DebugContext(ctx, "starting history sync",
		"address", address,
		"previous_operations", len(previous.Operations),
		"block_height", block.Height,
	)

	operations, _ := Merge(previous.Operations, nil)
	var newOperations []osmosis.Operation
	partial := false
	offset := 0
	pages := 0

	for pages < e.opts.MaxPages {
		page, err := e.indexer.SearchTransactions(ctx, osmosis.SearchParams{
			Network: e.opts.Network,
			Account: []string{address},
			Limit:   e.opts.PageSize,
			Offset:  offset,
		})
		pages++
		if err != nil {
			e.logger.WarnContext(ctx, "history page failed, returning partial snapshot",
				"address", address,
				"offset", offset,
				"page", pages,
				"error", err,
			)
			if e.metrics != nil {
				e.metrics.RecordSyncPage(e.opts.Network, "error", 0)
			}
			partial = true
			break
		}
		if page == nil || page.Size == 0 {
			if e.metrics != nil {
				e.metrics.RecordSyncPage(e.opts.Network, "success", 0)
			}
			break
		}
		if e.metrics != nil {
			e.metrics.RecordSyncPage(e.opts.Network, "success", page.Size)
		}

		mapped, unmapped := osmosis.MapTransactions(page.Transactions, address, accountID)
		var added []osmosis.Operation
		operations, added = Merge(operations, mapped)
		newOperations = append(newOperations, added...)

		if e.metrics != nil {
			e.metrics.RecordOperationsMerged(address, len(added))
			e.metrics.RecordOperationsSkipped(address, len(mapped)-len(added))
		}
		e.logger.DebugContext(ctx, "merged history page",
			"address", address,
			"offset", offset,
			"records", page.Size,
			"mapped", len(mapped),
			"unmapped_events", unmapped,
			"added", len(added),
		)

		offset += page.Size
	}

	snapshot := osmosis.AccountSnapshot{
		AccountID:        accountID,
		Address:          address,
		BlockHeight:      block.Height,
		Balance:          balance,
		SpendableBalance: balance,
		Operations:       operations,
		OperationsCount:  len(operations),
		Partial:          partial,
		SyncedAt:         time.Now().UTC(),
	}

	status := "success"
	if partial {
		status = "partial"
	}
	e.recordSync(status, start)
	e.logger.InfoContext(ctx, "account synced",
		"address", address,
		"status", status,
		"pages", pages,
		"operations", len(operations),
		"new_operations", len(newOperations),
		"balance", balance.String(),
		"block_height", block.Height,
	)

	return Result{Snapshot: snapshot, NewOperations: newOperations, Pages: pages}, nil
}

func (e *Engine) recordSync(status string, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordSync(status, time.Since(start).Seconds())
	}
}
