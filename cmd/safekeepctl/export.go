package main

import (
	"context"
	"fmt"
	"os"

	"github.com/oddbit-project/safekeep"
	"github.com/oddbit-project/safekeep/compliance"
	"github.com/oddbit-project/safekeep/console"
	"github.com/spf13/cobra"
)

var (
	exportFormat   string
	exportSections []string
	exportOut      string
)

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", compliance.FormatJSON, "json, csv, xml or yaml")
	exportCmd.Flags().StringSliceVar(&exportSections, "section", nil, "sections to include (default all)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write the export to file instead of stdout")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(reportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export your data in a portable format",
	Long: `Exports profile, consents, alerts, devices, biometric credentials, processing
activity, record metadata and documents. Encrypted payloads and key material are
never exported.

Examples:
  safekeepctl export --format csv --out mydata.csv
  safekeepctl export --section consents --section activity`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			export, err := c.RequestExport(ctx, exportFormat, exportSections)
			if err != nil {
				return err
			}
			if exportOut == "" {
				_, err = cmd.OutOrStdout().Write(export.Data)
				return err
			}
			if err = os.WriteFile(exportOut, export.Data, 0600); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, console.Success.Sprint("✓"), "export", export.Job.ExportID,
				"written to", console.Highlight.Sprint(exportOut), console.Muted.Sprint(export.ContentType))
			return nil
		})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the compliance report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			r, err := c.ComplianceReport(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Consents:")
			for _, id := range sortedKeys(r.Consents) {
				fmt.Fprintf(out, "  %-22s %s\n", id, console.Flag(r.Consents[id]))
			}
			for _, id := range r.ExpiredConsents {
				fmt.Fprintln(out, console.Warn.Sprint("  expired:"), id)
			}
			fmt.Fprintln(out, "Stored:")
			for _, cat := range sortedKeys(r.StoredCategories) {
				fmt.Fprintf(out, "  %-22s %d\n", cat, r.StoredCategories[cat])
			}
			fmt.Fprintf(out, "Processing activities: %d\n", r.ActivityCount)
			for _, kind := range sortedKeys(r.ActivityByKind) {
				fmt.Fprintf(out, "  %-22s %d\n", kind, r.ActivityByKind[kind])
			}
			fmt.Fprintln(out, "Rights:")
			for _, right := range sortedKeys(r.Rights) {
				fmt.Fprintf(out, "  %-22s %s\n", right, console.Muted.Sprint(r.Rights[right]))
			}
			return nil
		})
	},
}
