package main

import (
	"context"
	"fmt"
	"time"

	"github.com/oddbit-project/safekeep"
	"github.com/oddbit-project/safekeep/console"
	"github.com/spf13/cobra"
)

var alertsAll bool

func init() {
	alertsCmd.Flags().BoolVarP(&alertsAll, "all", "a", false, "include resolved alerts")
	alertsCmd.AddCommand(alertsResolveCmd)
	rootCmd.AddCommand(alertsCmd)

	devicesCmd.AddCommand(devicesApproveCmd)
	devicesCmd.AddCommand(devicesForgetCmd)
	rootCmd.AddCommand(devicesCmd)
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List security alerts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			alerts, err := c.Alerts(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, a := range alerts {
				if a.Resolved && !alertsAll {
					continue
				}
				fmt.Fprintf(out, "%s  %s  %-8s %s\n", a.AlertID, a.CreatedAt.Local().Format(time.DateTime),
					console.Level(string(a.Severity)).Sprint(a.Severity), a.Message)
				for _, action := range a.RecommendedActions {
					fmt.Fprintln(out, "    "+console.Info.Sprint("→"), action)
				}
			}
			return nil
		})
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Mark an alert as resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			if err := c.ResolveAlert(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.Success.Sprint("✓"), "resolved", args[0])
			return nil
		})
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices that unlocked the vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			devices, err := c.Devices(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range devices {
				fmt.Fprintf(out, "%s  trusted %-4s %4d  %s %s\n", d.FingerprintID, console.Flag(d.Trusted), d.AccessCount,
					d.RawAttributes.Platform, console.Muted.Sprintf("last seen %s", d.LastSeenAt.Local().Format(time.DateTime)))
			}
			return nil
		})
	},
}

var devicesApproveCmd = &cobra.Command{
	Use:   "approve <fingerprint>",
	Short: "Trust a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			if err := c.ApproveDevice(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.Success.Sprint("✓"), "trusted", args[0])
			return nil
		})
	},
}

var devicesForgetCmd = &cobra.Command{
	Use:   "forget <fingerprint>",
	Short: "Remove a device; its next unlock raises an alert again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			if err := c.ForgetDevice(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.Success.Sprint("✓"), "forgot", args[0])
			return nil
		})
	},
}
