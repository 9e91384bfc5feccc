package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/conviction-cli/internal/config"
	"github.com/sells-group/conviction-cli/internal/proposal"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Export a proposal's conviction curve",
	Long: "Samples conviction on every time unit over the last 50 units before --time. " +
		"The xlsx format needs --output; the others write to stdout unless --output is set.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		id, _ := cmd.Flags().GetString("proposal")
		entity, _ := cmd.Flags().GetString("entity")
		now, _ := cmd.Flags().GetInt64("time")
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		if format == formatXLSX && output == "" {
			return eris.New("history: --output is required for xlsx")
		}

		env, err := initEngine(ctx, config.ModeLedger)
		if err != nil {
			return err
		}
		defer env.Close()

		h, err := env.Evaluator.History(ctx, id, now, entity)
		if err != nil {
			return eris.Wrapf(err, "history %s", id)
		}

		if err := exportHistory(os.Stdout, h, format, output); err != nil {
			return err
		}
		if output != "" {
			fmt.Fprintf(os.Stderr, "Wrote %d points to %s\n", len(h.Points), output)
		}
		return nil
	},
}

// exportHistory writes h to output, or to stdout when output is empty.
func exportHistory(stdout io.Writer, h proposal.History, format, output string) error {
	if format == formatXLSX {
		return saveHistoryXLSX(output, h)
	}
	if output == "" {
		return writeHistory(stdout, h, format)
	}

	f, err := os.Create(output)
	if err != nil {
		return eris.Wrapf(err, "history: create %s", output)
	}
	defer f.Close() //nolint:errcheck
	return writeHistory(f, h, format)
}

func init() {
	historyCmd.Flags().String("proposal", "", "proposal ID")
	historyCmd.Flags().String("entity", "", "sample one entity's conviction instead of the total")
	historyCmd.Flags().Int64("time", -1, "end of the history (default ledger head)")
	historyCmd.Flags().String("format", formatTable, "output format (table, csv, json, xlsx)")
	historyCmd.Flags().String("output", "", "output file path")
	_ = historyCmd.MarkFlagRequired("proposal")

	rootCmd.AddCommand(historyCmd)
}
