package main

import (
	"context"
	"fmt"

	"github.com/oddbit-project/safekeep"
	"github.com/oddbit-project/safekeep/console"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(passwdCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set the master secret of a new vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			secret, err := readNewSecret()
			if err != nil {
				return err
			}
			if err = c.SetupSecret(ctx, secret, deviceAttributes()); err != nil {
				return err
			}
			profile, err := c.Profile(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.Success.Sprint("✓"), "vault initialized",
				console.Muted.Sprintf("secret strength: %s", profile.StrengthTier))
			return nil
		})
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the master secret and re-encrypt every record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			current, err := readSecret("Current master secret: ")
			if err != nil {
				return err
			}
			next, err := readNewSecret()
			if err != nil {
				return err
			}
			if err = c.ChangeSecret(ctx, current, next); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.Success.Sprint("✓"), "master secret changed")
			return nil
		})
	},
}
