package main

import (
	"encoding/json"
	"fmt"
	"os"

	"xhale-breath/internal/export"
	"xhale-breath/internal/session"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var file, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a session record (JSON) to XLSX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read record: %w", err)
			}
			var record session.Record
			if err := json.Unmarshal(data, &record); err != nil {
				return fmt.Errorf("failed to parse record %s: %w", file, err)
			}

			workbook, err := export.SessionWorkbook(&record)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, workbook, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d samples to %s\n", len(record.DataPoints), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "session record JSON file")
	cmd.Flags().StringVar(&out, "out", "", "output .xlsx path")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}
