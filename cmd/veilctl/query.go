package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"VeilSum/client"
	"VeilSum/internal/ledger"
	"VeilSum/internal/network"
)

var requestCmd = &cobra.Command{
	Use:   "request <id>",
	Short: "Show a decryption request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			view, err := c.Request(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, view)
		})
	},
}

// eventsFrom and eventsLimit page the event log.
var (
	eventsFrom  uint64
	eventsLimit int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List persisted ledger events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			events, err := c.Events(ctx, eventsFrom, eventsLimit)
			if err != nil {
				return err
			}
			return printJSON(cmd, events)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the ledger configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			view, err := c.Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, view)
		})
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <file>",
	Short: "Download the node's latest snapshot (load it with node -import)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			data, seq, err := c.Snapshot(ctx)
			if err != nil {
				return err
			}

			if err := os.WriteFile(args[0], data, 0600); err != nil {
				return fmt.Errorf("write snapshot:\n%w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes at event %d\n", len(data), seq)

			return nil
		})
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the --key file and print its actor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(globalFlags.Key); err == nil {
			return fmt.Errorf("%s already exists", globalFlags.Key)
		}

		key, err := network.LoadOrGenerateKey(globalFlags.Key)
		if err != nil {
			return err
		}

		var actor ledger.Actor
		copy(actor[:], key.Public().(ed25519.PublicKey))

		fmt.Fprintln(cmd.OutOrStdout(), actor.String())

		return nil
	},
}

func init() {
	eventsCmd.Flags().Uint64Var(&eventsFrom, "from", 1, "First event sequence number")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 100, "Maximum number of events")
}
