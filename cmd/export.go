package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newExportCmd creates the 'export' subcommand.
func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export the index to the configured sink",
		Long: `Crawls crawl.root and upserts every index document into the sink named by
sink.kind, in chunks of sink.chunk_size. A summary of the run is published
when notify.kind is set and printed to stdout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, exportErr := appInstance.Export(cmd.Context())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			if exportErr != nil {
				return fmt.Errorf("export: %w", exportErr)
			}
			return nil
		},
	}
}
