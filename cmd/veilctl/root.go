package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"VeilSum/client"
	"VeilSum/internal/ledger"
	"VeilSum/internal/network"
)

// GlobalFlags holds the persistent flags.
type GlobalFlags struct {
	Node    string        // Node is the HTTP address of the ledger node
	Key     string        // Key is the Ed25519 private key file that signs requests
	Timeout time.Duration // Timeout bounds each command
}

var globalFlags GlobalFlags

// rootCmd is the veilctl command.
var rootCmd = &cobra.Command{
	Use:   "veilctl",
	Short: "Encrypted aggregation ledger client",
	Long: `veilctl talks to a ledger node over its HTTP API.

Mutating commands are signed with the key given by --key; the key's public
half is the actor the ledger sees. Readings are encrypted locally under the
node's published key before they are submitted.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.Node, "node", "127.0.0.1:8080", "Ledger node HTTP address")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Key, "key", "veilctl.key", "Ed25519 signing key file (created if missing)")
	rootCmd.PersistentFlags().DurationVar(&globalFlags.Timeout, "timeout", 30*time.Second, "Command timeout")

	rootCmd.AddCommand(grantCmd, revokeCmd, pauseCmd, unpauseCmd, cooldownCmd, ownerCmd)
	rootCmd.AddCommand(openCmd, closeCmd, submitCmd, aggregateCmd, batchCmd)
	rootCmd.AddCommand(requestCmd, eventsCmd, statusCmd, snapshotCmd, keygenCmd)
}

// getClient returns a client signing with the --key file.
func getClient() (*client.Client, error) {
	key, err := network.LoadOrGenerateKey(globalFlags.Key)
	if err != nil {
		return nil, fmt.Errorf("load key:\n%w", err)
	}

	return client.New(globalFlags.Node, key), nil
}

// withClient runs fn with a client and a context bounded by --timeout.
func withClient(fn func(ctx context.Context, c *client.Client) error) error {
	c, err := getClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), globalFlags.Timeout)
	defer cancel()

	return fn(ctx, c)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseBatch parses a batch id argument.
func parseBatch(s string) (ledger.BatchID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid batch id %q", s)
	}
	return ledger.BatchID(id), nil
}
