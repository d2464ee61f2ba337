package temporal

import (
	"context"
	"strings"
	"time"
)

// Scheduler manages Temporal schedules for account syncing.
// Each account gets its own schedule that triggers the SyncAccountWorkflow.
type Scheduler interface {
	// CreateAccountSchedule creates a new schedule for syncing an account.
	CreateAccountSchedule(ctx context.Context, address, network string, interval time.Duration) error

	// UpsertAccountSchedule creates the schedule or updates its interval.
	UpsertAccountSchedule(ctx context.Context, address, network string, interval time.Duration) error

	// DeleteAccountSchedule deletes the schedule for an account.
	// This stops the account from being synced.
	DeleteAccountSchedule(ctx context.Context, address, network string) error
}

// SchedulePrefix starts the ID of every account sync schedule.
const SchedulePrefix = "sync-account-"

// ScheduleID returns the Temporal schedule ID for an account.
func ScheduleID(address, network string) string {
	return SchedulePrefix + network + "-" + address
}

// ParseScheduleID splits a schedule ID produced by ScheduleID back into its
// network and address. Bech32 addresses never contain '-', so the network is
// everything up to the first dash after the prefix.
func ParseScheduleID(id string) (network, address string, ok bool) {
	rest, found := strings.CutPrefix(id, SchedulePrefix)
	if !found {
		return "", "", false
	}
	network, address, found = strings.Cut(rest, "-")
	if !found || network == "" || address == "" {
		return "", "", false
	}
	return network, address, true
}

// workflowID returns the ID of the workflows started by an account's schedule.
func workflowID(address, network string) string {
	return "sync-account-workflow-" + network + "-" + address
}
