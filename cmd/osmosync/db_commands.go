package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/brojonat/osmosync/client"
	"github.com/brojonat/osmosync/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the database tables if they do not exist",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(context.Background()); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "✓ Schema applied")
			return nil
		},
	}
}

func listAccountsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-accounts",
		Usage:   "List all registered accounts",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "Filter by status (active, paused, error)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			accounts, err := store.ListAccounts(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}

			if status := c.String("status"); status != "" {
				accounts = lo.Filter(accounts, func(a *db.Account, _ int) bool {
					return a.Status == status
				})
			}

			views := lo.Map(accounts, func(a *db.Account, _ int) *client.Account {
				return accountView(a)
			})
			if done, err := output(c, views); done {
				return err
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tNETWORK\tSTATUS\tSYNC INTERVAL\tLAST SYNC\tCREATED")
			for _, account := range accounts {
				lastSync := "never"
				if account.LastSyncTime != nil {
					lastSync = account.LastSyncTime.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
					account.Address,
					account.Network,
					account.Status,
					account.SyncInterval,
					lastSync,
					account.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d accounts\n", len(accounts))
			return nil
		},
	}
}

func getAccountCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-account",
		Usage:     "Get account details",
		Aliases:   []string{"get"},
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			account, err := store.GetAccount(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get account: %w", err)
			}

			view := accountView(account)
			if done, err := output(c, view); done {
				return err
			}
			printAccount(c, view)
			fmt.Fprintf(c.App.Writer, "Created:        %s\n", account.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(c.App.Writer, "Updated:        %s\n", account.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func listOperationsCommand() *cli.Command {
	return &cli.Command{
		Name:      "operations",
		Usage:     "List stored operations of an account, most recent first",
		Aliases:   []string{"ops"},
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of operations",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of operations to skip",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ops, err := store.ListOperations(context.Background(), db.ListOperationsParams{
				Address: c.Args().First(),
				Limit:   int32(c.Int("limit")),
				Offset:  int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list operations: %w", err)
			}

			if done, err := output(c, ops); done {
				return err
			}
			printOperations(c, ops)
			return nil
		},
	}
}

// accountView converts a stored account to the shape the HTTP API returns,
// so db and account commands print the same JSON.
func accountView(a *db.Account) *client.Account {
	return &client.Account{
		Address:          a.Address,
		AccountID:        a.AccountID,
		Network:          a.Network,
		Balance:          a.Balance,
		SpendableBalance: a.SpendableBalance,
		BlockHeight:      a.BlockHeight,
		OperationsCount:  a.OperationsCount,
		Partial:          a.Partial,
		SyncInterval:     a.SyncInterval,
		Status:           a.Status,
		LastSyncTime:     a.LastSyncTime,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool, nil), pool.Close, nil
}
