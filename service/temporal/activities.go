package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/osmosync/service/db"
	"github.com/brojonat/osmosync/service/metrics"
	natspkg "github.com/brojonat/osmosync/service/nats"
	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/brojonat/osmosync/service/syncer"
	"github.com/samber/lo"
)

// SyncAccountInput contains the input parameters for syncing an account.
type SyncAccountInput struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

// SyncAccountWorkflowResult contains the result of one scheduled sync.
type SyncAccountWorkflowResult struct {
	Address         string    `json:"address"`
	BlockHeight     int64     `json:"block_height"`
	OperationsCount int       `json:"operations_count"`
	NewOperations   int       `json:"new_operations"`
	Written         int       `json:"written"`
	Published       int       `json:"published"`
	Partial         bool      `json:"partial"`
	SyncTime        time.Time `json:"sync_time"`
	Error           *string   `json:"error,omitempty"`
}

// SyncActivityInput contains parameters for the SyncAccount activity.
type SyncActivityInput struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

// SyncActivityResult summarizes one load, sync and save cycle.
// Operations stay in the database; only the ids of new ones cross the activity boundary.
type SyncActivityResult struct {
	Found           bool     `json:"found"` // a snapshot was stored before this run
	BlockHeight     int64    `json:"block_height"`
	OperationsCount int      `json:"operations_count"`
	Pages           int      `json:"pages"`
	Partial         bool     `json:"partial"`
	Written         int      `json:"written"`
	Skipped         int      `json:"skipped"` // already stored
	NewOperationIDs []string `json:"new_operation_ids"`
}

// PublishOperationsInput contains parameters for the PublishOperations activity.
type PublishOperationsInput struct {
	Address      string   `json:"address"`
	Network      string   `json:"network"`
	OperationIDs []string `json:"operation_ids"`
}

// PublishOperationsResult contains the number of events accepted by NATS.
type PublishOperationsResult struct {
	Published int `json:"published"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	LoadSnapshot(ctx context.Context, address string) (osmosis.AccountSnapshot, error)
	SaveSnapshot(ctx context.Context, network string, snap osmosis.AccountSnapshot) (int, error)
	GetOperations(ctx context.Context, address string, ids []string) ([]osmosis.Operation, error)
}

// EngineInterface defines the sync operation needed by activities.
type EngineInterface interface {
	Sync(ctx context.Context, previous osmosis.AccountSnapshot, address string) (syncer.Result, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishOperationBatch(ctx context.Context, events []*natspkg.OperationEvent) (int, error)
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	store     StoreInterface
	engine    EngineInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded. If publisher is nil,
// operations are not published.
func NewActivities(
	store StoreInterface,
	engine EngineInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		engine:    engine,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// SyncAccount loads the stored snapshot, syncs on top of it and saves the result.
// An account that was never synced starts from an empty snapshot.
func (a *Activities) SyncAccount(ctx context.Context, input SyncActivityInput) (*SyncActivityResult, error) {
	start := time.Now()
	defer a.recordDuration("SyncAccount", input.Address, start)

	found := true
	previous, err := a.store.LoadSnapshot(ctx, input.Address)
	if errors.Is(err, db.ErrNotFound) {
		a.logger.InfoContext(ctx, "no stored snapshot, starting from scratch", "address", input.Address)
		previous, found = osmosis.AccountSnapshot{}, false
	} else if err != nil {
		a.logger.ErrorContext(ctx, "failed to load snapshot",
			"address", input.Address,
			"error", err,
		)
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	res, err := a.engine.Sync(ctx, previous, input.Address)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to sync account",
			"address", input.Address,
			"error", err,
		)
		return nil, fmt.Errorf("failed to sync account: %w", err)
	}

	written, err := a.store.SaveSnapshot(ctx, input.Network, res.Snapshot)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to save snapshot",
			"address", input.Address,
			"error", err,
		)
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	if a.metrics != nil {
		a.metrics.RecordOperationsWritten(input.Address, written)
	}

	result := &SyncActivityResult{
		Found:           found,
		BlockHeight:     res.Snapshot.BlockHeight,
		OperationsCount: res.Snapshot.OperationsCount,
		Pages:           res.Pages,
		Partial:         res.Snapshot.Partial,
		Written:         written,
		Skipped:         len(res.Snapshot.Operations) - written,
		NewOperationIDs: lo.Map(res.NewOperations, func(op osmosis.Operation, _ int) string { return op.ID }),
	}

	a.logger.InfoContext(ctx, "saved snapshot",
		"address", input.Address,
		"found", found,
		"new_operations", len(result.NewOperationIDs),
		"written", result.Written,
		"skipped", result.Skipped,
		"block_height", result.BlockHeight,
	)
	return result, nil
}

// PublishOperations reads the given operations back from the store and publishes
// them to NATS for real-time subscribers.
// A partial failure is reported through the result count; only a complete failure
// is returned as an error.
func (a *Activities) PublishOperations(ctx context.Context, input PublishOperationsInput) (*PublishOperationsResult, error) {
	start := time.Now()
	defer a.recordDuration("PublishOperations", input.Address, start)

	if a.publisher == nil || len(input.OperationIDs) == 0 {
		return &PublishOperationsResult{}, nil
	}

	ops, err := a.store.GetOperations(ctx, input.Address, input.OperationIDs)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to read operations to publish",
			"address", input.Address,
			"count", len(input.OperationIDs),
			"error", err,
		)
		return nil, fmt.Errorf("failed to read operations: %w", err)
	}

	events := make([]*natspkg.OperationEvent, 0, len(ops))
	for _, op := range ops {
		events = append(events, natspkg.FromOperation(input.Network, input.Address, op))
	}

	published, err := a.publisher.PublishOperationBatch(ctx, events)
	if err != nil && published == 0 {
		a.logger.ErrorContext(ctx, "failed to publish operations",
			"address", input.Address,
			"count", len(events),
			"error", err,
		)
		return nil, fmt.Errorf("failed to publish operations: %w", err)
	}
	if err != nil {
		a.logger.WarnContext(ctx, "some operations were not published",
			"address", input.Address,
			"published", published,
			"total", len(events),
			"error", err,
		)
	}

	a.logger.DebugContext(ctx, "published operations",
		"address", input.Address,
		"published", published,
	)
	return &PublishOperationsResult{Published: published}, nil
}

func (a *Activities) recordDuration(activity, address string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, address, time.Since(start).Seconds())
	}
}
