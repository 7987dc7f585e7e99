// Package cmd defines and implements the CLI commands for the signac-index executable.
package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates the 'crawl' subcommand, which prints the master index
// as NDJSON.
func newCrawlCmd() *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Print the index of the configured root as NDJSON",
		Long: `Walks crawl.root for access modules, runs every crawler they expose,
and writes one JSON index document per line to stdout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			n := 0
			for entry, err := range appInstance.Crawl(cmd.Context(), depth) {
				if err != nil {
					return fmt.Errorf("crawl: %w", err)
				}
				if err := enc.Encode(entry.Doc); err != nil {
					return fmt.Errorf("write document %s: %w", entry.ID, err)
				}
				n++
			}
			appInstance.Logger().Info("crawl finished", zap.Int("documents", n))
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", -1, "maximum directory depth below root (default crawl.depth)")
	return cmd
}
