package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/osmosync/client"
	natspkg "github.com/brojonat/osmosync/service/nats"
	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/itchyny/gojq"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
)

func accountCommands() *cli.Command {
	return &cli.Command{
		Name:    "account",
		Aliases: []string{"accounts"},
		Usage:   "Account sync commands (HTTP API)",
		Subcommands: []*cli.Command{
			accountRegisterCommand(),
			accountUnregisterCommand(),
			accountGetCommand(),
			accountListCommand(),
			accountOperationsCommand(),
			accountSyncCommand(),
			accountStreamCommand(),
			accountAwaitCommand(),
		},
	}
}

func newClient(c *cli.Context) *client.Client {
	return client.NewClient(strings.TrimRight(c.String("server-url"), "/"), nil, cliLogger())
}

func requireAddress(c *cli.Context) (string, error) {
	if c.NArg() < 1 {
		return "", fmt.Errorf("account address is required")
	}
	return c.Args().Get(0), nil
}

func accountRegisterCommand() *cli.Command {
	return &cli.Command{
		Name:      "register",
		Aliases:   []string{"add"},
		Usage:     "Register an account for syncing",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "network",
				Aliases: []string{"n"},
				Usage:   "Network (mainnet or testnet); defaults to the server's",
			},
			&cli.DurationFlag{
				Name:    "sync-interval",
				Aliases: []string{"i"},
				Usage:   "How often to sync the account (e.g., 30s, 1m); defaults to the server's",
			},
		},
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}

			account, err := newClient(c).Register(context.Background(), address, c.String("network"), c.Duration("sync-interval"))
			if err != nil {
				return fmt.Errorf("failed to register account: %w", err)
			}

			if done, err := output(c, account); done {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Account registered successfully\n")
			fmt.Fprintf(c.App.Writer, "  Address:       %s\n", account.Address)
			fmt.Fprintf(c.App.Writer, "  Network:       %s\n", account.Network)
			fmt.Fprintf(c.App.Writer, "  Sync Interval: %s\n", account.SyncInterval)
			return nil
		},
	}
}

func accountUnregisterCommand() *cli.Command {
	return &cli.Command{
		Name:      "unregister",
		Aliases:   []string{"rm", "remove"},
		Usage:     "Stop syncing an account and drop its history",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}

			if err := newClient(c).Unregister(context.Background(), address); err != nil {
				return fmt.Errorf("failed to unregister account: %w", err)
			}

			if done, err := output(c, map[string]string{"address": address, "status": "unregistered"}); done {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Account unregistered: %s\n", address)
			return nil
		},
	}
}

func accountGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show the last synced state of an account",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}

			account, err := newClient(c).Get(context.Background(), address)
			if err != nil {
				return fmt.Errorf("failed to get account: %w", err)
			}

			if done, err := output(c, account); done {
				return err
			}
			printAccount(c, account)
			return nil
		},
	}
}

func printAccount(c *cli.Context, account *client.Account) {
	w := c.App.Writer
	fmt.Fprintf(w, "Address:        %s\n", account.Address)
	fmt.Fprintf(w, "Account ID:     %s\n", account.AccountID)
	fmt.Fprintf(w, "Network:        %s\n", account.Network)
	fmt.Fprintf(w, "Balance:        %s %s\n", account.Balance, osmosis.Denom)
	fmt.Fprintf(w, "Spendable:      %s %s\n", account.SpendableBalance, osmosis.Denom)
	fmt.Fprintf(w, "Block Height:   %d\n", account.BlockHeight)
	fmt.Fprintf(w, "Operations:     %d\n", account.OperationsCount)
	if account.Partial {
		fmt.Fprintf(w, "Partial:        yes (history incomplete)\n")
	}
	fmt.Fprintf(w, "Status:         %s\n", account.Status)
	fmt.Fprintf(w, "Sync Interval:  %s\n", account.SyncInterval)
	if account.LastSyncTime != nil {
		fmt.Fprintf(w, "Last Sync:      %s\n", account.LastSyncTime.Format(time.RFC3339))
	} else {
		fmt.Fprintf(w, "Last Sync:      never\n")
	}
}

func accountListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List registered accounts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "Filter by status (active, paused, error)",
			},
		},
		Action: func(c *cli.Context) error {
			accounts, err := newClient(c).List(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}

			if status := c.String("status"); status != "" {
				accounts = lo.Filter(accounts, func(a *client.Account, _ int) bool {
					return a.Status == status
				})
			}

			if done, err := output(c, accounts); done {
				return err
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tNETWORK\tSTATUS\tBALANCE\tOPS\tINTERVAL\tLAST SYNC")
			for _, account := range accounts {
				lastSync := "never"
				if account.LastSyncTime != nil {
					lastSync = account.LastSyncTime.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					account.Address,
					account.Network,
					account.Status,
					account.Balance,
					account.OperationsCount,
					account.SyncInterval,
					lastSync,
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d accounts\n", len(accounts))
			return nil
		},
	}
}

func accountOperationsCommand() *cli.Command {
	return &cli.Command{
		Name:      "operations",
		Aliases:   []string{"ops"},
		Usage:     "List stored operations of an account, most recent first",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   20,
				Usage:   "Maximum number of operations to return",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of operations to skip",
			},
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Only show operations of this type (IN, OUT, NONE)",
			},
		},
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}

			ops, err := newClient(c).Operations(context.Background(), address, c.Int("limit"), c.Int("offset"))
			if err != nil {
				return fmt.Errorf("failed to list operations: %w", err)
			}

			if opType := strings.ToUpper(c.String("type")); opType != "" {
				ops = lo.Filter(ops, func(op osmosis.Operation, _ int) bool {
					return string(op.Type) == opType
				})
			}

			if done, err := output(c, ops); done {
				return err
			}
			printOperations(c, ops)
			return nil
		},
	}
}

func printOperations(c *cli.Context, ops []osmosis.Operation) {
	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tTYPE\tVALUE\tFEE\tHEIGHT\tHASH\tFAILED")
	for _, op := range ops {
		height := "pending"
		if op.BlockHeight != nil {
			height = fmt.Sprintf("%d", *op.BlockHeight)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%v\n",
			op.Date.Format(time.RFC3339),
			op.Type,
			op.Value,
			op.Fee,
			height,
			op.Hash,
			op.HasFailed,
		)
	}
	w.Flush()
	fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d operations\n", len(ops))
}

func accountSyncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Synchronize an account right away",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}

			result, err := newClient(c).Sync(context.Background(), address)
			if err != nil {
				return fmt.Errorf("failed to sync account: %w", err)
			}

			if done, err := output(c, result); done {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Account synced\n")
			fmt.Fprintf(c.App.Writer, "  Balance:        %s %s\n", result.Balance, osmosis.Denom)
			fmt.Fprintf(c.App.Writer, "  Block Height:   %d\n", result.BlockHeight)
			fmt.Fprintf(c.App.Writer, "  Operations:     %d (%d new)\n", result.OperationsCount, len(result.NewOperations))
			fmt.Fprintf(c.App.Writer, "  Pages:          %d\n", result.Pages)
			if result.Partial {
				fmt.Fprintf(c.App.Writer, "  ⚠ History is partial; a page could not be fetched\n")
			}
			return nil
		},
	}
}

// interruptContext returns a context cancelled on SIGINT or SIGTERM.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func accountStreamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream new operations via SSE",
		ArgsUsage: "[ADDRESS]",
		Action: func(c *cli.Context) error {
			address := c.Args().First()
			ctx, cancel := interruptContext(context.Background())
			defer cancel()

			if !c.Bool("json") {
				target := address
				if target == "" {
					target = "all accounts"
				}
				fmt.Fprintf(c.App.ErrWriter, "📡 Streaming operations for %s (Ctrl-C to exit)\n\n", target)
			}

			count := 0
			err := newClient(c).Stream(ctx, address, func(event *natspkg.OperationEvent) error {
				count++
				if c.Bool("json") {
					return outputJSON(c.App.Writer, event)
				}
				printOperationEvent(c, event)
				return nil
			})
			if ctx.Err() != nil {
				fmt.Fprintf(c.App.ErrWriter, "\nReceived %d operations\n", count)
				return nil
			}
			return err
		},
	}
}

func printOperationEvent(c *cli.Context, event *natspkg.OperationEvent) {
	w := c.App.Writer
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Operation:    %s\n", event.ID)
	fmt.Fprintf(w, "Account:      %s (%s)\n", event.Address, event.Network)
	fmt.Fprintf(w, "Type:         %s\n", event.Type)
	fmt.Fprintf(w, "Value:        %s %s\n", event.Value, osmosis.Denom)
	fmt.Fprintf(w, "Fee:          %s %s\n", event.Fee, osmosis.Denom)
	fmt.Fprintf(w, "Hash:         %s\n", event.Hash)
	if event.BlockHeight != nil {
		fmt.Fprintf(w, "Height:       %d\n", *event.BlockHeight)
	}
	fmt.Fprintf(w, "Date:         %s\n", event.Date.Format(time.RFC3339))
	if event.Memo != "" {
		fmt.Fprintf(w, "Memo:         %s\n", event.Memo)
	}
	if event.HasFailed {
		fmt.Fprintf(w, "Failed:       yes\n")
	}
}

func accountAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until an operation matching criteria arrives",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "hash",
				Usage: "Filter by exact transaction hash",
			},
			&cli.StringFlag{
				Name:  "memo",
				Usage: "Filter by exact memo",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Usage:   "jq filter over the operation event that must evaluate to true (repeatable, all must match)",
				Aliases: []string{"m"},
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for the operation",
			},
		},
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}

			hash := c.String("hash")
			memo := c.String("memo")
			filters := c.StringSlice("must-jq")
			if hash == "" && memo == "" && len(filters) == 0 {
				return fmt.Errorf("must specify at least one filter: --hash, --memo, or --must-jq")
			}

			codes := make([]*gojq.Code, len(filters))
			for i, filter := range filters {
				if codes[i], err = compileJQ(filter); err != nil {
					return err
				}
			}

			logger := cliLogger()
			matcher := buildMatcher(hash, memo, codes, logger)

			if !c.Bool("json") {
				fmt.Fprintf(c.App.ErrWriter, "Waiting for operation on account %s...\n", address)
				for _, filter := range filters {
					fmt.Fprintf(c.App.ErrWriter, "  jq Filter: %s\n", filter)
				}
				fmt.Fprintf(c.App.ErrWriter, "  Timeout: %v\n\n", c.Duration("timeout"))
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			event, err := newClient(c).Await(ctx, address, matcher)
			if err != nil {
				return fmt.Errorf("failed to await operation: %w", err)
			}

			if done, err := output(c, event); done {
				return err
			}
			fmt.Fprintln(c.App.Writer, "✓ Operation Received")
			printOperationEvent(c, event)
			return nil
		},
	}
}

// buildMatcher combines the await filters; an operation must pass all of them.
func buildMatcher(hash, memo string, codes []*gojq.Code, logger *slog.Logger) func(*natspkg.OperationEvent) bool {
	return func(event *natspkg.OperationEvent) bool {
		if hash != "" && !strings.EqualFold(event.Hash, hash) {
			return false
		}
		if memo != "" && event.Memo != memo {
			return false
		}
		return matchesAll(codes, event, logger)
	}
}
