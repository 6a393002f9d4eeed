package main

import (
	"fmt"
	"os"

	"github.com/oddbit-project/safekeep/console"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "safekeepctl",
	Short: "Manage a local safekeep vault",
	Long: `safekeepctl operates a local safekeep vault: encrypted records, consents,
security alerts and data subject requests.

The master secret is read from the terminal, or from SAFEKEEP_SECRET when stdin
is not a terminal.

Configuration is read from --config (json or yaml) and then from SAFEKEEP_*
environment variables, e.g. SAFEKEEP_SESSION_SESSION_TIMEOUT_MINUTES=5.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (.json, .yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, console.Error.Sprint("✗"), err)
		os.Exit(1)
	}
}
