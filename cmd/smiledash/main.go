package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "smiledash",
		Short:         "Monthly sales dashboard built from a shared spreadsheet",
		Long:          "smiledash downloads the monthly sales workbook, locates the daily grid and serves it as a dashboard.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd(), newExtractCmd(), newLayoutCmd())
	return root
}
