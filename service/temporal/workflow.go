package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// SyncAccountWorkflow is the Temporal workflow that synchronizes one Osmosis account.
// It is triggered by a Temporal schedule at the account's sync interval.
//
// The workflow performs these steps:
// 1. Load the stored snapshot, sync on top of it and save it (SyncAccount activity)
// 2. Publish new operations to NATS by id (PublishOperations activity, best effort)
func SyncAccountWorkflow(ctx workflow.Context, input SyncAccountInput) (*SyncAccountWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SyncAccountWorkflow started", "address", input.Address, "network", input.Network)

	result := &SyncAccountWorkflowResult{
		Address:  input.Address,
		SyncTime: workflow.Now(ctx),
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	// Step 1: load, sync and persist
	var synced *SyncActivityResult
	err := workflow.ExecuteActivity(ctx, a.SyncAccount, SyncActivityInput{
		Address: input.Address,
		Network: input.Network,
	}).Get(ctx, &synced)
	if err != nil {
		logger.Error("failed to sync account", "address", input.Address, "error", err)
		return fail(result, "failed to sync account", err)
	}

	result.BlockHeight = synced.BlockHeight
	result.OperationsCount = synced.OperationsCount
	result.NewOperations = len(synced.NewOperationIDs)
	result.Written = synced.Written
	result.Partial = synced.Partial

	if len(synced.NewOperationIDs) == 0 {
		logger.Info("no new operations", "address", input.Address)
		return result, nil
	}

	// Step 2: publish. The snapshot is already stored, so a failure here does not fail the sync.
	var published *PublishOperationsResult
	err = workflow.ExecuteActivity(ctx, a.PublishOperations, PublishOperationsInput{
		Address:      input.Address,
		Network:      input.Network,
		OperationIDs: synced.NewOperationIDs,
	}).Get(ctx, &published)
	if err != nil {
		logger.Warn("failed to publish operations", "address", input.Address, "error", err)
	} else {
		result.Published = published.Published
	}

	logger.Info("SyncAccountWorkflow completed successfully",
		"address", input.Address,
		"new_operations", result.NewOperations,
		"written", result.Written,
		"published", result.Published,
		"partial", result.Partial,
	)

	return result, nil
}

func fail(result *SyncAccountWorkflowResult, msg string, err error) (*SyncAccountWorkflowResult, error) {
	errMsg := fmt.Sprintf("%s: %v", msg, err)
	result.Error = &errMsg
	return result, fmt.Errorf("%s: %w", msg, err)
}
