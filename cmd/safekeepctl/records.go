package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/oddbit-project/safekeep"
	"github.com/oddbit-project/safekeep/console"
	"github.com/spf13/cobra"
)

var (
	protectFile string
	revealOut   string
)

func init() {
	protectCmd.Flags().StringVarP(&protectFile, "file", "f", "", "read plaintext from file instead of stdin")
	revealCmd.Flags().StringVarP(&revealOut, "out", "o", "", "write plaintext to file instead of stdout")
	rootCmd.AddCommand(protectCmd)
	rootCmd.AddCommand(revealCmd)
	rootCmd.AddCommand(listCmd)
}

var protectCmd = &cobra.Command{
	Use:   "protect <namespace>",
	Short: "Encrypt data into a namespace",
	Long: `Encrypts data into a namespace, replacing any previous record.

Examples:
  # Store a file
  safekeepctl protect journal --file journal.md

  # Store piped data; the secret comes from SAFEKEEP_SECRET
  echo '{"mood":7}' | SAFEKEEP_SECRET=... safekeepctl protect kitchen`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			var (
				data []byte
				err  error
			)
			if protectFile != "" {
				data, err = os.ReadFile(protectFile)
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}
			if err = unlock(ctx, c); err != nil {
				return err
			}
			rec, err := c.Protect(ctx, args[0], data)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, console.Success.Sprint("✓"), "protected", console.Highlight.Sprint(args[0]),
				console.Muted.Sprintf("%d bytes", len(rec.Ciphertext)))
			return nil
		})
	},
}

var revealCmd = &cobra.Command{
	Use:   "reveal <namespace>",
	Short: "Decrypt a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			if err := unlock(ctx, c); err != nil {
				return err
			}
			data, err := c.RevealStored(ctx, args[0])
			if err != nil {
				return err
			}
			if revealOut != "" {
				return os.WriteFile(revealOut, data, 0600)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List protected namespaces",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			names, err := c.Namespaces(ctx)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		})
	},
}
