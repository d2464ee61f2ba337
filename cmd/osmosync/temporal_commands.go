package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/brojonat/osmosync/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-schedules",
		Usage:   "List all Temporal schedules",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ids, err := listScheduleIDs(context.Background(), temporalClient.SDKClient())
			if err != nil {
				return err
			}

			if done, err := output(c, ids); done {
				return err
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCHEDULE ID\tNETWORK\tADDRESS")
			for _, id := range ids {
				network, address, ok := temporal.ParseScheduleID(id)
				if !ok {
					network, address = "-", "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", id, network, address)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d schedules\n", len(ids))
			return nil
		},
	}
}

func listScheduleIDs(ctx context.Context, temporalClient client.Client) ([]string, error) {
	iter, err := temporalClient.ScheduleClient().List(ctx, client.ScheduleListOptions{
		PageSize: 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	var ids []string
	for iter.HasNext() {
		schedule, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate schedules: %w", err)
		}
		ids = append(ids, schedule.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe-schedule",
		Usage:     "Describe a Temporal schedule",
		Aliases:   []string{"desc"},
		ArgsUsage: "<schedule-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: schedule ID")
			}

			scheduleID := c.Args().First()
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.SDKClient().ScheduleClient().GetHandle(ctx, scheduleID)
			desc, err := handle.Describe(ctx)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Schedule ID:    %s\n", scheduleID)
			if network, address, ok := temporal.ParseScheduleID(scheduleID); ok {
				fmt.Fprintf(w, "Account:        %s (%s)\n", address, network)
			}
			fmt.Fprintf(w, "State Note:     %s\n", desc.Schedule.State.Note)
			fmt.Fprintf(w, "Paused:         %v\n", desc.Schedule.State.Paused)

			if action, ok := desc.Schedule.Action.(*client.ScheduleWorkflowAction); ok {
				fmt.Fprintf(w, "\nWorkflow:\n")
				fmt.Fprintf(w, "  Workflow ID:  %s\n", action.ID)
				fmt.Fprintf(w, "  Workflow:     %v\n", action.Workflow)
				fmt.Fprintf(w, "  Task Queue:   %s\n", action.TaskQueue)
			}

			if len(desc.Schedule.Spec.Intervals) > 0 {
				fmt.Fprintf(w, "\nSchedule Spec:\n")
				for i, interval := range desc.Schedule.Spec.Intervals {
					fmt.Fprintf(w, "  Interval %d:   Every %v\n", i+1, interval.Every)
				}
			}

			fmt.Fprintf(w, "\nRecent Actions: %d\n", len(desc.Info.RecentActions))
			if n := len(desc.Info.RecentActions); n > 0 {
				fmt.Fprintf(w, "Last Action:    %s\n", desc.Info.RecentActions[n-1].ActualTime.Format(time.RFC3339))
			}
			if len(desc.Info.NextActionTimes) > 0 {
				fmt.Fprintf(w, "Next Action:    %s\n", desc.Info.NextActionTimes[0].Format(time.RFC3339))
			}
			return nil
		},
	}
}

func pauseScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "pause-schedule",
		Usage:     "Pause a Temporal schedule",
		ArgsUsage: "<schedule-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is paused",
				Value: "Paused via osmosync CLI",
			},
		},
		Action: func(c *cli.Context) error {
			return withScheduleHandle(c, func(ctx context.Context, handle client.ScheduleHandle) error {
				if err := handle.Pause(ctx, client.SchedulePauseOptions{Note: c.String("note")}); err != nil {
					return fmt.Errorf("failed to pause schedule: %w", err)
				}
				fmt.Fprintf(c.App.Writer, "✓ Schedule paused: %s\n", handle.GetID())
				return nil
			})
		},
	}
}

func resumeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume-schedule",
		Usage:     "Resume a paused Temporal schedule",
		ArgsUsage: "<schedule-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is resumed",
				Value: "Resumed via osmosync CLI",
			},
		},
		Action: func(c *cli.Context) error {
			return withScheduleHandle(c, func(ctx context.Context, handle client.ScheduleHandle) error {
				if err := handle.Unpause(ctx, client.ScheduleUnpauseOptions{Note: c.String("note")}); err != nil {
					return fmt.Errorf("failed to resume schedule: %w", err)
				}
				fmt.Fprintf(c.App.Writer, "✓ Schedule resumed: %s\n", handle.GetID())
				return nil
			})
		},
	}
}

func triggerScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "trigger-schedule",
		Usage:     "Run a schedule's sync workflow immediately",
		ArgsUsage: "<schedule-id>",
		Action: func(c *cli.Context) error {
			return withScheduleHandle(c, func(ctx context.Context, handle client.ScheduleHandle) error {
				if err := handle.Trigger(ctx, client.ScheduleTriggerOptions{}); err != nil {
					return fmt.Errorf("failed to trigger schedule: %w", err)
				}
				fmt.Fprintf(c.App.Writer, "✓ Schedule triggered: %s\n", handle.GetID())
				return nil
			})
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete-schedule",
		Usage:     "Delete a Temporal schedule (use for orphaned schedules)",
		ArgsUsage: "<schedule-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Skip confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 1 && !c.Bool("force") {
				fmt.Fprintf(c.App.Writer, "Are you sure you want to delete schedule %s? (yes/no): ", c.Args().First())
				var response string
				fmt.Fscanln(os.Stdin, &response)
				if response != "yes" {
					fmt.Fprintln(c.App.Writer, "Cancelled")
					return nil
				}
			}

			return withScheduleHandle(c, func(ctx context.Context, handle client.ScheduleHandle) error {
				if err := handle.Delete(ctx); err != nil {
					return fmt.Errorf("failed to delete schedule: %w", err)
				}
				fmt.Fprintf(c.App.Writer, "✓ Schedule deleted: %s\n", handle.GetID())
				return nil
			})
		},
	}
}

func withScheduleHandle(c *cli.Context, fn func(context.Context, client.ScheduleHandle) error) error {
	if c.NArg() != 1 {
		return fmt.Errorf("requires exactly one argument: schedule ID")
	}

	temporalClient, err := getTemporalClient(c)
	if err != nil {
		return err
	}
	defer temporalClient.Close()

	ctx := context.Background()
	return fn(ctx, temporalClient.SDKClient().ScheduleClient().GetHandle(ctx, c.Args().First()))
}

// reconcileReport lists the differences between registered accounts and sync schedules.
type reconcileReport struct {
	Accounts  int      `json:"accounts"`
	Schedules int      `json:"schedules"`
	Missing   []string `json:"missing"`  // account addresses without a schedule
	Orphaned  []string `json:"orphaned"` // schedule IDs without an account
}

type accountKey struct {
	address string
	network string
}

// reconcile compares registered accounts, keyed to whether they are active,
// with the sync schedules found in Temporal.
func reconcile(accounts map[accountKey]bool, scheduleIDs []string) reconcileReport {
	report := reconcileReport{
		Accounts:  len(accounts),
		Schedules: len(scheduleIDs),
		Missing:   []string{},
		Orphaned:  []string{},
	}

	scheduled := make(map[accountKey]bool)
	for _, id := range scheduleIDs {
		network, address, ok := temporal.ParseScheduleID(id)
		if !ok {
			continue
		}
		key := accountKey{address: address, network: network}
		if _, registered := accounts[key]; !registered {
			report.Orphaned = append(report.Orphaned, id)
			continue
		}
		scheduled[key] = true
	}

	for key, active := range accounts {
		if active && !scheduled[key] {
			report.Missing = append(report.Missing, temporal.ScheduleID(key.address, key.network))
		}
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Orphaned)
	return report
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Check for inconsistencies between database and Temporal schedules",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "fix",
				Usage: "Automatically fix inconsistencies (creates missing schedules, deletes orphaned ones)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()

			dbAccounts, err := store.ListAccounts(ctx)
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}
			accounts := make(map[accountKey]bool, len(dbAccounts))
			intervals := make(map[string]time.Duration, len(dbAccounts))
			for _, account := range dbAccounts {
				accounts[accountKey{address: account.Address, network: account.Network}] = account.Status == "active"
				intervals[temporal.ScheduleID(account.Address, account.Network)] = account.SyncInterval
			}

			ids, err := listScheduleIDs(ctx, temporalClient.SDKClient())
			if err != nil {
				return err
			}

			report := reconcile(accounts, ids)
			done, err := output(c, report)
			if err != nil {
				return err
			}
			if done && !c.Bool("fix") {
				return nil
			}

			w := c.App.Writer
			if done {
				w = c.App.ErrWriter
			}
			fmt.Fprintf(w, "Reconciliation Report:\n")
			fmt.Fprintf(w, "  Accounts in DB: %d\n", report.Accounts)
			fmt.Fprintf(w, "  Schedules in Temporal: %d\n\n", report.Schedules)

			if len(report.Missing) > 0 {
				fmt.Fprintf(w, "⚠ Accounts missing schedules (%d):\n", len(report.Missing))
				for _, id := range report.Missing {
					fmt.Fprintf(w, "  - %s\n", id)
				}
			} else {
				fmt.Fprintf(w, "✓ All active accounts have schedules\n")
			}

			if len(report.Orphaned) > 0 {
				fmt.Fprintf(w, "\n⚠ Orphaned schedules (%d):\n", len(report.Orphaned))
				for _, id := range report.Orphaned {
					fmt.Fprintf(w, "  - %s\n", id)
				}
			} else {
				fmt.Fprintf(w, "✓ No orphaned schedules\n")
			}

			if len(report.Missing) == 0 && len(report.Orphaned) == 0 {
				return nil
			}
			if !c.Bool("fix") {
				fmt.Fprintf(w, "\nTo fix these issues, run: osmosync temporal reconcile --fix\n")
				return nil
			}

			fmt.Fprintf(w, "\nFixing inconsistencies...\n")
			for _, id := range report.Missing {
				network, address, _ := temporal.ParseScheduleID(id)
				if err := temporalClient.CreateAccountSchedule(ctx, address, network, intervals[id]); err != nil {
					fmt.Fprintf(w, "  ✗ Failed to create schedule for %s: %v\n", address, err)
					continue
				}
				fmt.Fprintf(w, "  ✓ Created schedule %s\n", id)
			}
			for _, id := range report.Orphaned {
				network, address, _ := temporal.ParseScheduleID(id)
				if err := temporalClient.DeleteAccountSchedule(ctx, address, network); err != nil {
					fmt.Fprintf(w, "  ✗ Failed to delete schedule %s: %v\n", id, err)
					continue
				}
				fmt.Fprintf(w, "  ✓ Deleted orphaned schedule %s\n", id)
			}
			fmt.Fprintf(w, "\nReconciliation complete!\n")
			return nil
		},
	}
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		cliLogger(),
	)
}
