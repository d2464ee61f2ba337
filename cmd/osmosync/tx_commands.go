package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/brojonat/osmosync/service/signer"
	"github.com/brojonat/osmosync/service/txpipeline"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func txCommands() *cli.Command {
	return &cli.Command{
		Name:  "tx",
		Usage: "Validate, sign and broadcast transactions",
		Subcommands: []*cli.Command{
			txStatusCommand(),
			txMaxCommand(),
			txSendCommand(),
			txBroadcastCommand(),
		},
	}
}

func intentFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "to",
			Usage: "Recipient address",
		},
		&cli.StringFlag{
			Name:  "amount",
			Usage: "Amount to send in " + osmosis.Denom,
			Value: "0",
		},
		&cli.BoolFlag{
			Name:  "all",
			Usage: "Send the whole spendable balance minus fees",
		},
		&cli.StringFlag{
			Name:  "memo",
			Usage: "Transaction memo",
		},
		&cli.StringFlag{
			Name:  "fees",
			Usage: "Fees in " + osmosis.Denom + " (estimated when omitted)",
		},
		&cli.Uint64Flag{
			Name:  "gas",
			Usage: "Gas limit (defaults to the network default)",
		},
	}
}

// intentFromFlags builds a send intent from the intent flags.
func intentFromFlags(c *cli.Context) (txpipeline.Intent, error) {
	intent := txpipeline.NewIntent()
	intent.Recipient = c.String("to")
	intent.UseAllAmount = c.Bool("all")
	intent.Memo = c.String("memo")

	amount, err := decimal.NewFromString(c.String("amount"))
	if err != nil {
		return intent, fmt.Errorf("invalid --amount: %w", err)
	}
	intent.Amount = amount

	if s := c.String("fees"); s != "" {
		fees, err := decimal.NewFromString(s)
		if err != nil {
			return intent, fmt.Errorf("invalid --fees: %w", err)
		}
		intent.Fees = &fees
	}
	if gas := c.Uint64("gas"); gas > 0 {
		g := decimal.NewFromInt(int64(gas))
		intent.Gas = &g
	}
	return intent, nil
}

func txStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Validate a transaction intent against the account's synced state",
		ArgsUsage: "ADDRESS",
		Flags:     intentFlags(),
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}
			intent, err := intentFromFlags(c)
			if err != nil {
				return err
			}

			status, err := newClient(c).Status(context.Background(), address, intent)
			if err != nil {
				return fmt.Errorf("failed to validate transaction: %w", err)
			}

			if done, err := output(c, status); done {
				return err
			}

			w := c.App.Writer
			if status.OK() {
				fmt.Fprintf(w, "✓ Transaction is valid\n")
			} else {
				fmt.Fprintf(w, "✗ Transaction is invalid\n")
			}
			fmt.Fprintf(w, "  Amount:      %s %s\n", status.Amount, osmosis.Denom)
			fmt.Fprintf(w, "  Fees:        %s %s\n", status.EstimatedFees, osmosis.Denom)
			fmt.Fprintf(w, "  Total Spent: %s %s\n", status.TotalSpent, osmosis.Denom)
			for field, msg := range status.Errors {
				fmt.Fprintf(w, "  error   %-10s %s\n", field, msg)
			}
			for field, msg := range status.Warnings {
				fmt.Fprintf(w, "  warning %-10s %s\n", field, msg)
			}
			if !status.OK() {
				return fmt.Errorf("transaction is invalid")
			}
			return nil
		},
	}
}

func txMaxCommand() *cli.Command {
	return &cli.Command{
		Name:      "max",
		Usage:     "Show the maximum amount an account can send",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Transaction mode",
				Value: string(txpipeline.ModeSend),
			},
		},
		Action: func(c *cli.Context) error {
			address, err := requireAddress(c)
			if err != nil {
				return err
			}

			maxSpendable, err := newClient(c).MaxSpendable(context.Background(), address, txpipeline.Mode(c.String("mode")))
			if err != nil {
				return fmt.Errorf("failed to estimate max spendable: %w", err)
			}

			if done, err := output(c, map[string]interface{}{"address": address, "max_spendable": maxSpendable}); done {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s %s\n", maxSpendable, osmosis.Denom)
			return nil
		},
	}
}

func txSendCommand() *cli.Command {
	flags := append(intentFlags(),
		&cli.StringFlag{
			Name:    "private-key",
			Usage:   "Hex encoded secp256k1 private key of the sender",
			EnvVars: []string{"OSMOSYNC_PRIVATE_KEY"},
		},
		&cli.StringFlag{
			Name:    "mnemonic",
			Usage:   "BIP-39 mnemonic of the sender",
			EnvVars: []string{"OSMOSYNC_MNEMONIC"},
		},
		&cli.StringFlag{
			Name:  "hd-path",
			Usage: "HD derivation path used with --mnemonic",
			Value: signer.DefaultHDPath,
		},
		&cli.StringFlag{
			Name:    "node-url",
			Usage:   "Osmosis LCD endpoint used for balance, account number and chain ID",
			EnvVars: []string{"OSMOSIS_NODE_URL", "NODE_URL"},
			Value:   "https://lcd.osmosis.zone",
		},
		&cli.BoolFlag{
			Name:  "direct",
			Usage: "Broadcast straight to the node instead of through the server",
		},
		&cli.BoolFlag{
			Name:  "sign-only",
			Usage: "Print the signed operation without broadcasting it",
		},
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "Sign without asking for confirmation",
		},
	)

	return &cli.Command{
		Name:  "send",
		Usage: "Sign a transfer with a local key and broadcast it",
		Flags: flags,
		Action: func(c *cli.Context) error {
			intent, err := intentFromFlags(c)
			if err != nil {
				return err
			}

			sw, err := loadSigner(c)
			if err != nil {
				return err
			}
			if !c.Bool("yes") {
				sw.WithApproval(promptApproval(c))
			}

			ctx, cancel := interruptContext(context.Background())
			defer cancel()

			logger := cliLogger()
			transport := osmosis.NewHTTPTransport(osmosis.TransportConfig{
				Component:   "node",
				Timeout:     15 * time.Second,
				MaxAttempts: 3,
			}, nil, logger)
			node := osmosis.NewNodeClient(transport, c.String("node-url"), osmosis.Denom, logger)

			account, err := accountFromNode(ctx, node, sw.Address())
			if err != nil {
				return err
			}

			p := txpipeline.New(account, intent, node, sw, txpipeline.Options{}, nil, logger)
			signed, err := p.Run(ctx, func(e txpipeline.Event) {
				switch e.Type {
				case txpipeline.EventSignatureRequested:
					fmt.Fprintf(c.App.ErrWriter, "✍ Signature requested for %s\n", sw.Address())
				case txpipeline.EventSignatureGranted:
					fmt.Fprintf(c.App.ErrWriter, "✓ Signature granted\n")
				}
			})
			if err != nil {
				return fmt.Errorf("failed to sign transaction: %w", err)
			}
			if signed == nil {
				return fmt.Errorf("transaction cancelled")
			}

			if c.Bool("sign-only") {
				return outputJSON(c.App.Writer, signed)
			}

			var op osmosis.Operation
			if c.Bool("direct") {
				op, err = p.Broadcast(ctx, txpipeline.NewBroadcaster(node, nil, logger))
			} else {
				var broadcast *osmosis.Operation
				broadcast, err = newClient(c).Broadcast(ctx, *signed)
				if broadcast != nil {
					op = *broadcast
				}
			}
			if err != nil {
				return broadcastError(err)
			}

			if done, err := output(c, op); done {
				return err
			}
			printBroadcast(c, op)
			return nil
		},
	}
}

func txBroadcastCommand() *cli.Command {
	return &cli.Command{
		Name:      "broadcast",
		Usage:     "Broadcast a signed operation through the server",
		ArgsUsage: "[FILE]",
		Description: `Reads the signed operation JSON printed by "tx send --sign-only"
from FILE, or from stdin when FILE is omitted or "-".`,
		Action: func(c *cli.Context) error {
			var r io.Reader = os.Stdin
			if path := c.Args().First(); path != "" && path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open signed operation: %w", err)
				}
				defer f.Close()
				r = f
			}

			var signed txpipeline.SignedOperation
			if err := json.NewDecoder(r).Decode(&signed); err != nil {
				return fmt.Errorf("failed to decode signed operation: %w", err)
			}
			if signed.Signature == "" {
				return fmt.Errorf("signed operation has no signature")
			}

			op, err := newClient(c).Broadcast(context.Background(), signed)
			if err != nil {
				return broadcastError(err)
			}

			if done, err := output(c, op); done {
				return err
			}
			printBroadcast(c, *op)
			return nil
		},
	}
}

func loadSigner(c *cli.Context) (*signer.Software, error) {
	switch {
	case c.String("private-key") != "":
		return signer.NewFromPrivateKeyHex(c.String("private-key"), osmosis.AddressPrefix)
	case c.String("mnemonic") != "":
		return signer.NewFromMnemonic(c.String("mnemonic"), "", c.String("hd-path"), osmosis.AddressPrefix)
	default:
		return nil, fmt.Errorf("a sender key is required (use --private-key or --mnemonic)")
	}
}

// accountFromNode builds a minimal snapshot holding only the live balance,
// which is all validation needs.
func accountFromNode(ctx context.Context, node *osmosis.NodeClient, address string) (osmosis.AccountSnapshot, error) {
	balance, err := node.GetBalance(ctx, address)
	if err != nil {
		return osmosis.AccountSnapshot{}, fmt.Errorf("failed to fetch balance: %w", err)
	}
	block, err := node.GetLatestBlock(ctx)
	if err != nil {
		return osmosis.AccountSnapshot{}, fmt.Errorf("failed to fetch latest block: %w", err)
	}
	return osmosis.AccountSnapshot{
		AccountID:        osmosis.EncodeAccountID(osmosis.CurrencyID, address),
		Address:          address,
		BlockHeight:      block.Height,
		Balance:          balance,
		SpendableBalance: balance,
		Operations:       []osmosis.Operation{},
		SyncedAt:         time.Now().UTC(),
	}, nil
}

// promptApproval shows the sign document and asks for confirmation on stdin.
func promptApproval(c *cli.Context) signer.ApproveFunc {
	return func(ctx context.Context, address string, doc []byte) error {
		fmt.Fprintf(c.App.ErrWriter, "\nSign document for %s:\n%s\n\nSign? (yes/no): ", address, doc)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if strings.TrimSpace(line) != "yes" {
			return signer.ErrRefused
		}
		return nil
	}
}

func broadcastError(err error) error {
	var rejected *txpipeline.BroadcastRejectedError
	if errors.As(err, &rejected) {
		return fmt.Errorf("transaction rejected by the chain (code %d, codespace %q): %s", rejected.Code, rejected.Codespace, rejected.RawLog)
	}
	return fmt.Errorf("failed to broadcast transaction: %w", err)
}

func printBroadcast(c *cli.Context, op osmosis.Operation) {
	w := c.App.Writer
	fmt.Fprintf(w, "✓ Transaction broadcast\n")
	fmt.Fprintf(w, "  Hash:   %s\n", op.Hash)
	fmt.Fprintf(w, "  Type:   %s\n", op.Type)
	fmt.Fprintf(w, "  Value:  %s %s\n", op.Value, osmosis.Denom)
	fmt.Fprintf(w, "  Fee:    %s %s\n", op.Fee, osmosis.Denom)
	if len(op.Recipients) > 0 {
		fmt.Fprintf(w, "  To:     %s\n", strings.Join(op.Recipients, ", "))
	}
}
