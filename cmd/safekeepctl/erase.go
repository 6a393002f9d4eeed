package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/oddbit-project/safekeep"
	"github.com/oddbit-project/safekeep/compliance"
	"github.com/oddbit-project/safekeep/console"
	"github.com/spf13/cobra"
)

var (
	eraseCategories []string
	eraseReason     string
	eraseYes        bool
)

func init() {
	eraseCmd.Flags().StringSliceVar(&eraseCategories, "category", []string{compliance.CategoryAll}, "categories to erase")
	eraseCmd.Flags().StringVar(&eraseReason, "reason", "", "reason stored in the erasure tombstone")
	eraseCmd.Flags().BoolVarP(&eraseYes, "yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(eraseCmd)
}

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase stored data",
	Long: `Erases the selected categories. Erasing "all" destroys the key material and
every record, and also removes synced copies when cloud sync consent was granted.
The operation cannot be undone.

Categories: all, records, documents, alerts, devices, activity, biometric,
consents, exports, profile.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !eraseYes && !confirm(cmd, fmt.Sprintf("Erase %s? This cannot be undone [y/N] ", strings.Join(eraseCategories, ", "))) {
			fmt.Fprintln(os.Stderr, console.Warn.Sprint("aborted"))
			return nil
		}
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			result, err := c.RequestErasure(ctx, eraseReason, eraseCategories)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.Success.Sprint("✓"), "erased", strings.Join(result.Categories, ", "),
				console.Muted.Sprintf("%d keys", result.KeysDeleted))
			if result.RemoteErased {
				fmt.Fprintln(cmd.OutOrStdout(), console.Success.Sprint("✓"), "removed", result.RemoteObjects, "synced object(s)")
			}
			if result.RemoteError != "" {
				fmt.Fprintln(cmd.OutOrStdout(), console.Error.Sprint("✗"), "remote erasure failed:", result.RemoteError)
			}
			return nil
		})
	},
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprint(os.Stderr, prompt)
	answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
