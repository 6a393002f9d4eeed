package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/oddbit-project/safekeep"
	"github.com/oddbit-project/safekeep/console"
	"github.com/spf13/cobra"
)

func init() {
	consentCmd.AddCommand(consentListCmd)
	consentCmd.AddCommand(consentGrantCmd)
	consentCmd.AddCommand(consentRevokeCmd)
	rootCmd.AddCommand(consentCmd)
}

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Review and change processing consents",
}

var consentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List consents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			consents, err := c.Consents(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, rec := range consents {
				line := fmt.Sprintf("%-22s %-4s %s", rec.ConsentID, console.Flag(rec.Granted), rec.Purpose)
				if rec.ExpiresAt != nil {
					line += " " + console.Muted.Sprintf("expires %s", rec.ExpiresAt.Local().Format(time.DateOnly))
				}
				fmt.Fprintln(out, line)
			}
			return nil
		})
	},
}

var consentGrantCmd = &cobra.Command{
	Use:   "grant <consent>",
	Short: "Grant a consent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setConsent(cmd, args[0], true)
	},
}

var consentRevokeCmd = &cobra.Command{
	Use:   "revoke <consent>",
	Short: "Withdraw a consent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setConsent(cmd, args[0], false)
	},
}

func setConsent(cmd *cobra.Command, id string, granted bool) error {
	return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
		rec, err := c.UpdateConsent(ctx, id, granted)
		if err != nil {
			return err
		}
		verb := "revoked"
		if rec.Granted {
			verb = "granted"
		}
		fmt.Fprintln(cmd.OutOrStdout(), console.Success.Sprint("✓"), verb, console.Highlight.Sprint(rec.ConsentID),
			console.Muted.Sprintf("version %d", rec.Version))
		return nil
	})
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
