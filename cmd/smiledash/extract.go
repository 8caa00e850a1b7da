package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"smiledash/internal/backend"
	"smiledash/internal/cli"
	"smiledash/internal/config"
	"smiledash/internal/core"
	"smiledash/internal/layout"
	"smiledash/internal/log"
)

func newExtractCmd() *cobra.Command {
	var (
		jsonOut bool
		file    string
		sheet   string
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run the pipeline once and print the extracted report",
		Long:  "Download (or read) the workbook, extract the report and print a summary, or the full report with --json.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli.LoadEnvFile()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if file != "" {
				cfg.FetchBackend = string(backend.FileBackend)
				cfg.LocalFile = file
			}
			if sheet != "" {
				cfg.SheetName = sheet
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			// Diagnostics go to stderr so stdout stays clean for --json.
			logger := cli.SetupLogger(cfg, cmd.ErrOrStderr())
			lay, err := cli.LoadLayout(cfg.LayoutFile)
			if err != nil {
				return err
			}
			svc, err := newReportService(cmd.Context(), cfg, lay, nil, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := svc.Close(); err != nil {
					logger.Warn("Failed to close report service", log.FieldError, err)
				}
			}()

			r, err := svc.Load(cmd.Context())
			if err != nil {
				var nf *layout.LandmarkNotFoundError
				if errors.As(err, &nf) && !jsonOut {
					printPreview(cmd.OutOrStdout(), nf.Preview)
				}
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			printReport(cmd.OutOrStdout(), r)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the full report as JSON")
	cmd.Flags().StringVar(&file, "file", "", "read the workbook from a local .xlsx instead of Drive")
	cmd.Flags().StringVar(&sheet, "sheet", "", "worksheet name (overrides SHEET_NAME)")
	return cmd
}

func printReport(w io.Writer, r *core.Report) {
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	mark := func(v core.Value) string {
		s := fmt.Sprintf("%16s", core.FormatBRL(v.Amount))
		if !v.Observed {
			return faint(s)
		}
		return s
	}

	fmt.Fprintf(w, "%s %s\n", bold("Dashboard"), bold(r.Month))
	fmt.Fprintf(w, "  source:   %s\n", r.Source)
	fmt.Fprintf(w, "  fetched:  %s\n", r.FetchedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  landmark: %s %s\n", layout.CellName(r.Landmark), green("✓"))
	if r.Shift != (core.Position{}) {
		fmt.Fprintf(w, "  shift:    %+d rows, %+d columns\n", r.Shift.Row, r.Shift.Column)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  %-10s %16s %16s %16s\n", "", "Meta", "Acumulado", "Gap")
	for _, m := range core.Metrics {
		gap := fmt.Sprintf("%16s", core.FormatBRL(r.Gap(m)))
		if r.Gap(m) <= 0 {
			gap = green(gap)
		}
		fmt.Fprintf(w, "  %-10s %s %s %s\n", m.Label(), mark(r.Targets.ByMetric[m]), mark(r.Accumulated.ByMetric[m]), gap)
	}
	fmt.Fprintf(w, "  %-10s %s\n", "Receb.", mark(r.Targets.Total))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  %d days, %d defaulted daily values\n", len(r.Daily), r.Daily.DefaultedCount())
	if r.Fallback {
		fmt.Fprintf(w, "  %s\n", red("✗ summary unreadable, reference values in use"))
	}
	if len(r.Warnings) > 0 {
		fmt.Fprintf(w, "  %s\n", yellow(fmt.Sprintf("! %d warning(s)", len(r.Warnings))))
		for _, wn := range r.Warnings {
			cell := ""
			if wn.Cell != nil {
				cell = " (" + layout.CellName(*wn.Cell) + ")"
			}
			fmt.Fprintf(w, "    - %s%s: %s\n", wn.Field, cell, wn.Message)
		}
	}
}

func printPreview(w io.Writer, rows [][]string) {
	fmt.Fprintln(w, color.New(color.FgRed).Sprint("Day-one landmark not found. First rows of the sheet:"))
	for i, row := range rows {
		fmt.Fprintf(w, "  %2d | %s\n", i, strings.Join(row, " | "))
	}
}

func newLayoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layout",
		Short: "Print the effective sheet layout as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli.LoadEnvFile()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			lay, err := cli.LoadLayout(cfg.LayoutFile)
			if err != nil {
				return err
			}
			out, err := lay.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
