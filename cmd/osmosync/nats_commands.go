package main

import (
	"context"
	"encoding/json"
	"fmt"

	natspkg "github.com/brojonat/osmosync/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to operation events straight from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to operation events for an account",
		ArgsUsage: "[address]",
		Description: `Subscribe to operation events published to NATS JetStream.

Events are published to the subject ops.{address}. Without an address the
command follows every account.

Example:
  osmosync --json nats subscribe osmo1qyqszqgpqyqszqgpqyqszqgpqyqszqgp6gjwmw`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "osmosync-cli",
			},
			&cli.BoolFlag{
				Name:  "from-start",
				Usage: "Replay every retained event instead of only new ones",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.StreamSubjects
			if c.NArg() > 0 {
				subject = natspkg.Subject(c.Args().First())
			}

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: jetstream.DeliverNewPolicy,
			}
			if c.Bool("from-start") {
				consumerConfig.DeliverPolicy = jetstream.DeliverAllPolicy
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			ctx, cancel := interruptContext(context.Background())
			defer cancel()
			return streamOperations(ctx, c, consumerConfig)
		},
	}
}

// streamOperations consumes events matching cfg until ctx is done.
func streamOperations(ctx context.Context, c *cli.Context, cfg jetstream.ConsumerConfig) error {
	nc, err := natspkg.Connect(c.String("nats-url"), "osmosync-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, cfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	jsonOutput := c.Bool("json")
	if !jsonOutput {
		fmt.Fprintf(c.App.ErrWriter, "📡 Subscribing to: %s\n", cfg.FilterSubject)
		fmt.Fprintf(c.App.ErrWriter, "   NATS: %s\n", c.String("nats-url"))
		if cfg.Durable != "" {
			fmt.Fprintf(c.App.ErrWriter, "   Consumer: %s (durable)\n", cfg.Durable)
		}
		fmt.Fprintf(c.App.ErrWriter, "\nWaiting for operations... (Ctrl-C to exit)\n\n")
	}

	msgs := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgs <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgs:
			var event natspkg.OperationEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(c.App.ErrWriter, "Error parsing event: %v\n", err)
				_ = msg.Ack()
				continue
			}
			count++

			if jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Fprintln(c.App.Writer, string(data))
			} else {
				printOperationEvent(c, &event)
				fmt.Fprintln(c.App.Writer)
			}
			_ = msg.Ack()

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(c.App.ErrWriter, "\n✅ Received %d operations\n", count)
			}
			return nil
		}
	}
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the OPERATIONS JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := natspkg.Connect(c.String("nats-url"), "osmosync-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx := context.Background()
			stream, err := js.Stream(ctx, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if done, err := output(c, info); done {
				return err
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Description:  %s\n", info.Config.Description)
			fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(w, "First Seq:    %d\n", info.State.FirstSeq)
			fmt.Fprintf(w, "Last Seq:     %d\n", info.State.LastSeq)
			fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(w, "Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}
