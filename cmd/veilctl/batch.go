package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"VeilSum/client"
)

var openCmd = &cobra.Command{
	Use:   "open <batch>",
	Short: "Open a collection window (owner)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBatch(args[0])
		if err != nil {
			return err
		}

		return withClient(func(ctx context.Context, c *client.Client) error {
			return c.OpenBatch(ctx, id)
		})
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <batch>",
	Short: "Close a collection window (owner)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBatch(args[0])
		if err != nil {
			return err
		}

		return withClient(func(ctx context.Context, c *client.Client) error {
			return c.CloseBatch(ctx, id)
		})
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit <batch> <value>",
	Short: "Encrypt a reading and submit it to an open batch (provider)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBatch(args[0])
		if err != nil {
			return err
		}

		value, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid value %q", args[1])
		}

		return withClient(func(ctx context.Context, c *client.Client) error {
			return c.SubmitValue(ctx, id, value)
		})
	},
}

// waitFlag makes aggregate block until the result is revealed.
var waitFlag bool

var aggregateCmd = &cobra.Command{
	Use:   "aggregate <batch>",
	Short: "Request decryption of a closed batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBatch(args[0])
		if err != nil {
			return err
		}

		return withClient(func(ctx context.Context, c *client.Client) error {
			agg, err := c.RequestAggregation(ctx, id)
			if err != nil {
				return err
			}

			if !waitFlag {
				return printJSON(cmd, agg)
			}

			res, err := c.WaitResult(ctx, agg.RequestID, 500*time.Millisecond)
			if err != nil {
				return err
			}

			return printJSON(cmd, res)
		})
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch <batch>",
	Short: "Show a batch and its encrypted aggregate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBatch(args[0])
		if err != nil {
			return err
		}

		return withClient(func(ctx context.Context, c *client.Client) error {
			view, err := c.Batch(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, view)
		})
	},
}

func init() {
	aggregateCmd.Flags().BoolVar(&waitFlag, "wait", false, "Wait for the oracle to reveal the result")
}
