package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arfve/launchsite/internal/staging"
	"github.com/arfve/launchsite/internal/survey"
)

func exportCmd() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export-survey",
		Short: "Export survey results from the survey database",
		Long: `Export all survey responses as CSV or JSON.

The output file is written to a temp file first and renamed into place,
so an interrupted export never leaves a truncated file behind.

Examples:
  # CSV to stdout
  launchctl export-survey

  # JSON to a file
  launchctl export-survey --format json --output results.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "csv" && format != "json" {
				return fmt.Errorf("unknown format %q (use csv or json)", format)
			}
			if cfg.Survey.DatabaseURL == "" {
				return survey.ErrNotConfigured
			}

			store, err := survey.NewPostgres(cmd.Context(), cfg.Survey.DatabaseURL)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			svc := survey.NewService(store, nil, cfg.Survey.Title, "", logger)
			table, err := svc.Export(cmd.Context())
			if err != nil {
				return err
			}

			write := func(w io.Writer) error { return writeExport(w, table, format) }

			if output == "" {
				return write(cmd.OutOrStdout())
			}

			size, err := staging.WriteFile(output, write)
			if err != nil {
				return err
			}
			logger.Info("survey exported",
				zap.String("file", output),
				zap.String("format", format),
				zap.Int("responses", len(table.Rows)),
				zap.Int64("bytes", size),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "output format: csv or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	return cmd
}

func writeExport(w io.Writer, table *survey.Table, format string) error {
	if format == "csv" {
		return survey.WriteCSV(w, table)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"total_responses": len(table.Rows),
		"data":            table.Records(),
	})
}

