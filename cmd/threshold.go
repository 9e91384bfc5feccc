package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/conviction-cli/internal/config"
	"github.com/sells-group/conviction-cli/internal/conviction"
	"github.com/sells-group/conviction-cli/internal/fixedpoint"
	"github.com/sells-group/conviction-cli/internal/model"
)

var thresholdCmd = &cobra.Command{
	Use:   "threshold",
	Short: "Compute the conviction a request needs to pass",
	Long:  "Pure calculation; no ledger is read. Unset --alpha, --beta and --rho come from config.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate(config.ModeEngine); err != nil {
			return err
		}

		tp := conviction.ThresholdParams{Beta: cfg.Threshold.Beta, Rho: cfg.Threshold.Rho}
		tp.Requested, _ = cmd.Flags().GetFloat64("requested")
		tp.Funds, _ = cmd.Flags().GetFloat64("funds")
		tp.Supply, _ = cmd.Flags().GetFloat64("supply")
		alpha := cfg.Decay.Alpha
		if cmd.Flags().Changed("alpha") {
			alpha, _ = cmd.Flags().GetFloat64("alpha")
		}
		if cmd.Flags().Changed("beta") {
			tp.Beta, _ = cmd.Flags().GetFloat64("beta")
		}
		if cmd.Flags().Changed("rho") {
			tp.Rho, _ = cmd.Flags().GetFloat64("rho")
		}
		format, _ := cmd.Flags().GetString("format")

		r, err := computeThreshold(tp, alpha)
		if err != nil {
			return err
		}
		if format == formatJSON {
			return encodeJSON(os.Stdout, r)
		}
		formatThreshold(os.Stdout, r)
		return nil
	},
}

type thresholdReport struct {
	Params         conviction.ThresholdParams `json:"params"`
	Alpha          float64                    `json:"alpha"`
	Threshold      model.Float                `json:"threshold"`
	FixedThreshold model.Float                `json:"fixed_threshold"`
	MinNeededStake model.Float                `json:"min_needed_stake"`
	MaxConviction  model.Float                `json:"max_conviction"`
	Passable       bool                       `json:"passable"`
}

func computeThreshold(tp conviction.ThresholdParams, alpha float64) (thresholdReport, error) {
	switch {
	case tp.Funds <= 0 || tp.Supply <= 0:
		return thresholdReport{}, eris.New("threshold: --funds and --supply must be > 0")
	case tp.Requested < 0:
		return thresholdReport{}, eris.New("threshold: --requested must be >= 0")
	case alpha <= 0 || alpha >= 1:
		return thresholdReport{}, eris.Errorf("threshold: alpha must be in (0,1), got %v", alpha)
	case tp.Beta <= 0 || tp.Beta >= 1:
		return thresholdReport{}, eris.Errorf("threshold: beta must be in (0,1), got %v", tp.Beta)
	case tp.Rho <= 0:
		return thresholdReport{}, eris.Errorf("threshold: rho must be > 0, got %v", tp.Rho)
	}

	thr := tp.Threshold(alpha)
	maxConv := conviction.MaxConviction(tp.Supply, alpha)

	fixed := math.Inf(1)
	if v, err := fixedpoint.CalculateThreshold(
		fixedpoint.Int(tp.Requested), fixedpoint.Int(tp.Funds), fixedpoint.Int(tp.Supply),
		fixedpoint.Decay(alpha), fixedpoint.Scale(tp.Beta), fixedpoint.Scale(tp.Rho),
	); err == nil {
		fixed = fixedpoint.Float(v)
	}

	return thresholdReport{
		Params:         tp,
		Alpha:          alpha,
		Threshold:      model.Float(thr),
		FixedThreshold: model.Float(fixed),
		MinNeededStake: model.Float(conviction.MinNeededStake(thr, alpha)),
		MaxConviction:  model.Float(maxConv),
		Passable:       thr < maxConv,
	}, nil
}

func formatThreshold(out io.Writer, r thresholdReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	row := func(k, v string) { _, _ = fmt.Fprintf(w, "%s\t%s\n", k, v) }

	row("Requested:", amount(r.Params.Requested))
	row("Funds:", amount(r.Params.Funds))
	row("Supply:", amount(r.Params.Supply))
	row("Alpha / beta / rho:", fmt.Sprintf("%v / %v / %v", r.Alpha, r.Params.Beta, r.Params.Rho))
	row("Threshold:", amount(float64(r.Threshold)))
	row("Fixed-point threshold:", amount(float64(r.FixedThreshold)))
	row("Min needed stake:", amount(float64(r.MinNeededStake)))
	row("Max conviction:", amount(float64(r.MaxConviction)))
	if r.Passable {
		row("Passable:", "yes")
	} else {
		row("Passable:", "no")
	}
	_ = w.Flush()
}

func init() {
	thresholdCmd.Flags().Float64("requested", 0, "requested amount")
	thresholdCmd.Flags().Float64("funds", 0, "funds available in the pool")
	thresholdCmd.Flags().Float64("supply", 0, "effective token supply")
	thresholdCmd.Flags().Float64("alpha", 0, "decay (default from config)")
	thresholdCmd.Flags().Float64("beta", 0, "max ratio (default from config)")
	thresholdCmd.Flags().Float64("rho", 0, "weight (default from config)")
	thresholdCmd.Flags().String("format", formatTable, "output format (table, json)")
	_ = thresholdCmd.MarkFlagRequired("requested")
	_ = thresholdCmd.MarkFlagRequired("funds")
	_ = thresholdCmd.MarkFlagRequired("supply")

	rootCmd.AddCommand(thresholdCmd)
}
