package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/conviction-cli/internal/model"
	"github.com/sells-group/conviction-cli/internal/proposal"
)

// Output formats accepted by --format.
const (
	formatTable = "table"
	formatCSV   = "csv"
	formatJSON  = "json"
	formatXLSX  = "xlsx"
)

var printer = message.NewPrinter(language.English)

// amount formats a token or conviction figure with digit grouping.
func amount(v float64) string {
	if s, ok := special(v); ok {
		return s
	}
	return printer.Sprintf("%.2f", v)
}

// percent formats a ratio as a percentage.
func percent(v float64) string {
	if s, ok := special(v); ok {
		return s
	}
	return printer.Sprintf("%.2f%%", v*100)
}

// ticks formats a remaining time, which is NaN when the stake never gets there.
func ticks(v float64) string {
	switch {
	case math.IsNaN(v):
		return "never"
	case v <= 0:
		return "0"
	}
	return printer.Sprintf("%.0f", math.Ceil(v))
}

func special(v float64) (string, bool) {
	switch {
	case math.IsNaN(v):
		return "n/a", true
	case math.IsInf(v, 1):
		return "inf", true
	case math.IsInf(v, -1):
		return "-inf", true
	}
	return "", false
}

func encodeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatStatusList writes one row per proposal.
func formatStatusList(out io.Writer, statuses []proposal.Status) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tSTATE\tSTAKED\tCONVICTION\tTHRESHOLD\tREMAINING\tTREND")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t-----\t------\t----------\t---------\t---------\t-----")

	for _, st := range statuses {
		name := st.Proposal.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		status := string(st.Proposal.Status)
		if status == "" {
			status = string(model.ProposalStatusOpen)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			st.Proposal.ID,
			name,
			status,
			st.State,
			amount(st.StakedTokens),
			amount(float64(st.Conviction)),
			amount(float64(st.Threshold)),
			ticks(float64(st.RemainingTime)),
			percent(float64(st.Trend)),
		)
	}
	_ = w.Flush()
}

// formatStatusDetail writes every figure of one status as key/value lines.
func formatStatusDetail(out io.Writer, st proposal.Status) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	row := func(k, v string) { _, _ = fmt.Fprintf(w, "%s\t%s\n", k, v) }

	row("Proposal:", st.Proposal.ID+" "+st.Proposal.Name)
	row("Time:", strconv.FormatInt(st.Now, 10))
	row("State:", string(st.State))
	row("Requested:", amount(st.Proposal.Requested))
	row("Staked tokens:", amount(st.StakedTokens))
	row("Conviction:", amount(float64(st.Conviction)))
	if st.EntityConviction != nil {
		row("Conviction ("+st.Entity+"):", amount(float64(*st.EntityConviction)))
	}
	row("Threshold:", amount(float64(st.Threshold)))
	row("Max conviction:", amount(float64(st.MaxConviction)))
	row("Future conviction:", amount(float64(st.FutureCeiling)))
	row("Staked ratio:", percent(float64(st.StakedRatio)))
	row("Needed ratio:", percent(float64(st.NeededRatio)))
	row("Future ratio:", percent(float64(st.FutureRatio)))
	row("Min needed stake:", amount(float64(st.MinNeededStake)))
	row("Needed tokens:", amount(float64(st.NeededTokens)))
	row("Remaining time:", ticks(float64(st.RemainingTime)))
	row("Trend:", percent(float64(st.Trend)))
	_ = w.Flush()
}

// writeHistory writes h to out as a table, CSV or JSON.
func writeHistory(out io.Writer, h proposal.History, format string) error {
	switch format {
	case formatJSON:
		return encodeJSON(out, h)
	case formatCSV:
		cw := csv.NewWriter(out)
		_ = cw.Write([]string{"time", "conviction"})
		for _, p := range h.Points {
			_ = cw.Write([]string{
				strconv.FormatInt(p.Time, 10),
				strconv.FormatFloat(p.Conviction, 'f', -1, 64),
			})
		}
		cw.Flush()
		return eris.Wrap(cw.Error(), "write csv")
	case formatTable, "":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
		_, _ = fmt.Fprintln(w, "TIME\tCONVICTION\t")
		for _, p := range h.Points {
			_, _ = fmt.Fprintf(w, "%d\t%s\t\n", p.Time, amount(p.Conviction))
		}
		return w.Flush()
	}
	return eris.Errorf("unknown format %q", format)
}

// saveHistoryXLSX writes h to a workbook with a "history" sheet.
func saveHistoryXLSX(path string, h proposal.History) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("history")
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	header.AddCell().SetString("time")
	header.AddCell().SetString("conviction")
	for _, p := range h.Points {
		row := sheet.AddRow()
		row.AddCell().SetInt64(p.Time)
		row.AddCell().SetFloat(p.Conviction)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}
