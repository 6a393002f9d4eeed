package main

import (
	"context"
	"fmt"
	"time"

	"github.com/oddbit-project/safekeep"
	"github.com/oddbit-project/safekeep/console"
	"github.com/oddbit-project/safekeep/engine"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault state, security profile and open alerts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			state := c.State()
			fmt.Fprintln(cmd.OutOrStdout(), "State:   ", stateLabel(state))
			fmt.Fprintln(cmd.OutOrStdout(), "Level:   ", console.Level(string(c.CurrentSecurityLevel())).Sprint(c.CurrentSecurityLevel()))
			if state == engine.StateUninitialized {
				fmt.Fprintln(cmd.OutOrStdout(), console.Info.Sprint("→"), "run", console.Code.Sprint("safekeepctl init"), "to set a master secret")
				return nil
			}

			profile, err := c.Profile(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Strength:", profile.StrengthTier)
			fmt.Fprintln(cmd.OutOrStdout(), "Sessions:", profile.SessionCount)
			if !profile.LastActivityAt.IsZero() {
				fmt.Fprintln(cmd.OutOrStdout(), "Active:  ", profile.LastActivityAt.Local().Format(time.RFC1123))
			}
			until, err := c.LockedUntil(ctx)
			if err != nil {
				return err
			}
			if !until.IsZero() {
				fmt.Fprintln(cmd.OutOrStdout(), console.Error.Sprint("Locked out until"), until.Local().Format(time.RFC1123))
			}

			names, err := c.Namespaces(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Records: ", len(names))

			alerts, err := c.Alerts(ctx)
			if err != nil {
				return err
			}
			open := 0
			for _, a := range alerts {
				if !a.Resolved {
					open++
				}
			}
			if open > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), console.Warn.Sprintf("%d unresolved alert(s)", open), console.Muted.Sprint("safekeepctl alerts"))
			}
			return nil
		})
	},
}

func stateLabel(s engine.State) string {
	switch s {
	case engine.StateUnlocked:
		return console.Success.Sprint(s)
	case engine.StateUninitialized:
		return console.Warn.Sprint(s)
	}
	return console.Info.Sprint(s)
}
