package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"VeilSum/client"
	"VeilSum/internal/ledger"
)

var grantCmd = &cobra.Command{
	Use:   "grant <actor>",
	Short: "Allow-list a data provider (owner)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, err := ledger.ParseActor(args[0])
		if err != nil {
			return err
		}

		return withClient(func(ctx context.Context, c *client.Client) error {
			return c.GrantProvider(ctx, actor)
		})
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <actor>",
	Short: "Remove a data provider (owner)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, err := ledger.ParseActor(args[0])
		if err != nil {
			return err
		}

		return withClient(func(ctx context.Context, c *client.Client) error {
			return c.RevokeProvider(ctx, actor)
		})
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Halt submissions, batch changes and requests (owner)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			return c.Pause(ctx)
		})
	},
}

var unpauseCmd = &cobra.Command{
	Use:   "unpause",
	Short: "Resume operation (owner)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			return c.Unpause(ctx)
		})
	},
}

var cooldownCmd = &cobra.Command{
	Use:   "cooldown <seconds>",
	Short: "Set the per-actor rate-limit interval (owner)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seconds %q", args[0])
		}

		return withClient(func(ctx context.Context, c *client.Client) error {
			return c.SetCooldown(ctx, seconds)
		})
	},
}

var ownerCmd = &cobra.Command{
	Use:   "transfer-owner <actor>",
	Short: "Hand the owner role to another key (owner)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		next, err := ledger.ParseActor(args[0])
		if err != nil {
			return err
		}

		return withClient(func(ctx context.Context, c *client.Client) error {
			return c.TransferOwnership(ctx, next)
		})
	},
}
