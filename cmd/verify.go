package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/conviction-cli/internal/config"
	"github.com/sells-group/conviction-cli/internal/conviction"
	"github.com/sells-group/conviction-cli/internal/fixedpoint"
	"github.com/sells-group/conviction-cli/internal/model"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the float engine against the integer contract arithmetic",
	Long: "Recomputes conviction and thresholds with 128-bit fixed-point arithmetic, audits every " +
		"embedded checkpoint and exits non-zero when any drift exceeds --tolerance.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		id, _ := cmd.Flags().GetString("proposal")
		now, _ := cmd.Flags().GetInt64("time")
		tolerance, _ := cmd.Flags().GetFloat64("tolerance")
		format, _ := cmd.Flags().GetString("format")

		env, err := initEngine(ctx, config.ModeLedger)
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := verifyProposals(ctx, env, id, now, tolerance)
		if err != nil {
			return err
		}

		if format == formatJSON {
			if err := encodeJSON(os.Stdout, rows); err != nil {
				return err
			}
		} else {
			formatVerify(os.Stdout, rows, tolerance)
		}

		var failed int
		for _, r := range rows {
			if !r.OK {
				failed++
			}
		}
		if failed > 0 {
			return eris.Errorf("verify: %d of %d proposals drift beyond %g", failed, len(rows), tolerance)
		}
		return nil
	},
}

type verifyRow struct {
	ProposalID string            `json:"proposal_id"`
	OK         bool              `json:"ok"`
	Report     fixedpoint.Report `json:"report"`
}

// verifyProposals compares one proposal, or all of them when id is empty.
func verifyProposals(ctx context.Context, env *engineEnv, id string, now int64, tolerance float64) ([]verifyRow, error) {
	var proposals []model.Proposal
	if id != "" {
		p, err := env.Source.GetProposal(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "verify %s", id)
		}
		proposals = []model.Proposal{p}
	} else {
		ps, err := env.Source.ListProposals(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "verify: list proposals")
		}
		proposals = ps
	}

	funding, err := env.Source.Funding(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "verify: funding")
	}
	params := env.Evaluator.Params()

	rows := make([]verifyRow, 0, len(proposals))
	for _, p := range proposals {
		stakes, at, err := env.Evaluator.Stakes(ctx, p.ID, now)
		if err != nil {
			return nil, eris.Wrapf(err, "verify %s", p.ID)
		}
		tp := conviction.ThresholdParams{
			Requested: p.Requested,
			Funds:     funding.Funds,
			Supply:    funding.Supply,
			Beta:      params.Beta,
			Rho:       params.Rho,
		}
		r := fixedpoint.Compare(stakes, at, tp, params.Decay.Alpha, tolerance)
		rows = append(rows, verifyRow{ProposalID: p.ID, OK: r.OK(tolerance), Report: r})

		if len(r.Findings) > 0 {
			zap.L().Warn("checkpoint drift",
				zap.String("proposal_id", p.ID),
				zap.Int("findings", len(r.Findings)),
				zap.Float64("max_drift", maxFindingDrift(r.Findings)),
			)
		}
	}
	return rows, nil
}

func maxFindingDrift(findings []fixedpoint.Finding) float64 {
	var m float64
	for _, f := range findings {
		m = max(m, f.Drift)
	}
	return m
}

func formatVerify(out io.Writer, rows []verifyRow, tolerance float64) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTIME\tFLOAT\tFIXED\tDRIFT\tTHRESHOLD_DRIFT\tFINDINGS\tRESULT")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t-----\t-----\t---------------\t--------\t------")

	for _, r := range rows {
		result := "ok"
		if !r.OK {
			result = "DRIFT"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%.3g\t%.3g\t%d\t%s\n",
			r.ProposalID,
			r.Report.Time,
			amount(r.Report.Float),
			amount(r.Report.Fixed),
			r.Report.Drift,
			r.Report.ThresholdDrift,
			len(r.Report.Findings),
			result,
		)
	}
	_, _ = fmt.Fprintf(w, "\ntolerance %g\n", tolerance)
	_ = w.Flush()
}

func init() {
	verifyCmd.Flags().String("proposal", "", "only this proposal")
	verifyCmd.Flags().Int64("time", -1, "evaluation time (default ledger head)")
	verifyCmd.Flags().Float64("tolerance", 1e-6, "max relative drift")
	verifyCmd.Flags().String("format", formatTable, "output format (table, json)")

	rootCmd.AddCommand(verifyCmd)
}
