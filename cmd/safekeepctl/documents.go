package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oddbit-project/safekeep"
	"github.com/oddbit-project/safekeep/console"
	"github.com/spf13/cobra"
)

var docUnset []string

func init() {
	docFixCmd.Flags().StringSliceVar(&docUnset, "unset", nil, "fields to remove")
	docCmd.AddCommand(docShowCmd)
	docCmd.AddCommand(docSaveCmd)
	docCmd.AddCommand(docFixCmd)
	rootCmd.AddCommand(docCmd)
}

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Manage profile documents such as contact or health details",
}

var docShowCmd = &cobra.Command{
	Use:   "show <category>",
	Short: "Print a document as json",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			doc, err := c.Document(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		})
	},
}

var docSaveCmd = &cobra.Command{
	Use:   "save <category> key=value...",
	Short: "Create or replace a document",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(args[1:])
		if err != nil {
			return err
		}
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			if _, err := c.SaveDocument(ctx, args[0], fields); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.Success.Sprint("✓"), "saved", console.Highlight.Sprint(args[0]))
			return nil
		})
	},
}

var docFixCmd = &cobra.Command{
	Use:   "fix <category> [key=value...]",
	Short: "Correct fields of an existing document",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := parseFields(args[1:])
		if err != nil {
			return err
		}
		for _, name := range docUnset {
			patch[name] = nil
		}
		if len(patch) == 0 {
			return fmt.Errorf("nothing to change")
		}
		return withCore(cmd, func(ctx context.Context, c *safekeep.Core) error {
			doc, err := c.RequestRectification(ctx, args[0], patch)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.Success.Sprint("✓"), "updated", console.Highlight.Sprint(doc.Category),
				console.Muted.Sprintf("%d fields", len(doc.Fields)))
			return nil
		})
	},
}

// parseFields reads key=value pairs; values that parse as json keep their type
func parseFields(pairs []string) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", pair)
		}
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		fields[key] = v
	}
	return fields, nil
}
