package ledger

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/conviction-cli/internal/conviction"
	"github.com/sells-group/conviction-cli/internal/model"
)

// StakeColumns is the header of a tabular stake export.
var StakeColumns = []string{"proposal_id", "time", "entity", "tokens_staked", "total_tokens_staked", "conviction"}

// LoadFile reads a ledger export into memory. YAML and JSON files hold a full
// model.Snapshot; CSV and XLSX files hold a stake table with StakeColumns, and
// proposals are synthesized from its rows. Positive fields of funding override
// what the file says.
func LoadFile(ctx context.Context, path string, funding model.Funding) (*Memory, error) {
	log := zap.L().With(zap.String("component", "ledger"), zap.String("path", path))

	var (
		snap *model.Snapshot
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		snap, err = readSnapshot(path, yaml.Unmarshal)
	case ".json":
		snap, err = readSnapshot(path, json.Unmarshal)
	case ".csv":
		var rows [][]string
		if rows, err = readCSV(ctx, path); err == nil {
			snap, err = parseStakeTable(rows)
		}
	case ".xlsx":
		var rows [][]string
		if rows, err = readXLSX(path); err == nil {
			snap, err = parseStakeTable(rows)
		}
	default:
		return nil, eris.Errorf("ledger: unsupported file type %q", ext)
	}
	if err != nil {
		return nil, err
	}

	snap.Funding = overrideFunding(snap.Funding, funding)

	m, err := FromSnapshot(snap)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: %s", path)
	}
	log.Debug("loaded ledger file", zap.Int("proposals", len(snap.Proposals)))
	return m, nil
}

func readSnapshot(path string, unmarshal func([]byte, any) error) (*model.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: read file")
	}
	var snap model.Snapshot
	if err := unmarshal(data, &snap); err != nil {
		return nil, eris.Wrapf(err, "ledger: decode %s", filepath.Base(path))
	}
	return &snap, nil
}

func readCSV(ctx context.Context, path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "csv: open file")
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	var rows [][]string
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "csv: context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}
		rows = append(rows, record)
	}
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}

	sheet := f.Sheets[0]
	if s, ok := f.Sheet["stakes"]; ok {
		sheet = s
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// parseStakeTable turns a header row plus stake rows into a snapshot. Column
// order is free; blank rows are skipped.
func parseStakeTable(rows [][]string) (*model.Snapshot, error) {
	if len(rows) == 0 {
		return nil, eris.New("ledger: stake table is empty")
	}

	idx := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range StakeColumns {
		if _, ok := idx[col]; !ok {
			return nil, eris.Errorf("ledger: stake table missing column %q", col)
		}
	}

	snap := &model.Snapshot{}
	byID := make(map[string]int)
	for n, row := range rows[1:] {
		line := n + 2
		get := func(col string) string {
			if i := idx[col]; i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}
		if isBlank(row) {
			continue
		}

		id := get("proposal_id")
		if id == "" {
			return nil, eris.Errorf("ledger: row %d: missing proposal_id", line)
		}
		t, err := strconv.ParseInt(get("time"), 10, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "ledger: row %d: time", line)
		}
		ev := conviction.StakeEvent{Time: t, Entity: get("entity")}
		for col, dst := range map[string]*float64{
			"tokens_staked":       &ev.TokensStaked,
			"total_tokens_staked": &ev.TotalTokensStaked,
			"conviction":          &ev.Conviction,
		} {
			if *dst, err = strconv.ParseFloat(get(col), 64); err != nil {
				return nil, eris.Wrapf(err, "ledger: row %d: %s", line, col)
			}
		}

		pos, ok := byID[id]
		if !ok {
			pos = len(snap.Proposals)
			byID[id] = pos
			snap.Proposals = append(snap.Proposals, model.ProposalLedger{
				Proposal: model.Proposal{ID: id, Name: "Proposal " + id, Status: model.ProposalStatusOpen},
			})
		}
		snap.Proposals[pos].Stakes = append(snap.Proposals[pos].Stakes, ev)
	}
	return snap, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
