package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/conviction-cli/internal/config"
	"github.com/sells-group/conviction-cli/internal/proposal"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Classify proposals as passed, pending, unreachable or blocked",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		id, _ := cmd.Flags().GetString("proposal")
		now, _ := cmd.Flags().GetInt64("time")
		format, _ := cmd.Flags().GetString("format")
		if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
			cfg.Watch.Concurrency = n
		}

		env, err := initEngine(ctx, config.ModeLedger)
		if err != nil {
			return err
		}
		defer env.Close()

		var statuses []proposal.Status
		if id != "" {
			st, err := env.Evaluator.Status(ctx, id, now, "")
			if err != nil {
				return eris.Wrapf(err, "status %s", id)
			}
			statuses = []proposal.Status{st}
		} else {
			statuses, err = env.Evaluator.EvaluateAll(ctx, now)
			if err != nil {
				return eris.Wrap(err, "status")
			}
		}

		if format == formatJSON {
			return encodeJSON(os.Stdout, statuses)
		}
		if len(statuses) == 0 {
			fmt.Fprintln(os.Stderr, "No proposals found.")
			return nil
		}
		formatStatusList(os.Stdout, statuses)
		return nil
	},
}

func init() {
	statusCmd.Flags().String("proposal", "", "only this proposal")
	statusCmd.Flags().Int64("time", -1, "evaluation time (default ledger head)")
	statusCmd.Flags().Int("concurrency", 0, "proposals evaluated in parallel (default from config)")
	statusCmd.Flags().String("format", formatTable, "output format (table, json)")

	rootCmd.AddCommand(statusCmd)
}
