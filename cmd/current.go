package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/conviction-cli/internal/config"
)

var currentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show a proposal's conviction and passing figures",
	Long:  "Evaluates one proposal at a point in time. Without --time the ledger head is used.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		id, _ := cmd.Flags().GetString("proposal")
		entity, _ := cmd.Flags().GetString("entity")
		now, _ := cmd.Flags().GetInt64("time")
		format, _ := cmd.Flags().GetString("format")

		env, err := initEngine(ctx, config.ModeLedger)
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Evaluator.Status(ctx, id, now, entity)
		if err != nil {
			return eris.Wrapf(err, "current %s", id)
		}

		if format == formatJSON {
			return encodeJSON(os.Stdout, st)
		}
		formatStatusDetail(os.Stdout, st)
		return nil
	},
}

func init() {
	currentCmd.Flags().String("proposal", "", "proposal ID")
	currentCmd.Flags().String("entity", "", "also report this entity's conviction")
	currentCmd.Flags().Int64("time", -1, "evaluation time (default ledger head)")
	currentCmd.Flags().String("format", formatTable, "output format (table, json)")
	_ = currentCmd.MarkFlagRequired("proposal")

	rootCmd.AddCommand(currentCmd)
}
