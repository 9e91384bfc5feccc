package main

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/conviction-cli/internal/config"
	"github.com/sells-group/conviction-cli/internal/conviction"
	"github.com/sells-group/conviction-cli/internal/proposal"
)

const ledgerYAML = `
head: 120
funding:
  funds: 50000
  supply: 1000000
proposals:
  - id: "1"
    name: Community grants
    requested: 5000
    status: open
    stakes:
      - {time: 10, entity: alice, tokens_staked: 100, total_tokens_staked: 100, conviction: 0}
      - {time: 20, entity: bob, tokens_staked: 50, total_tokens_staked: 150, conviction: %s}
  - id: "2"
    name: Audit
    requested: 900
    status: executed
`

// withLedger points the global config at a file ledger holding ledgerYAML
// with the given embedded conviction for the second stake.
func withLedger(t *testing.T, secondConviction string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	content := bytes.Replace([]byte(ledgerYAML), []byte("%s"), []byte(secondConviction), 1)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	prev := cfg
	cfg = &config.Config{
		Decay:     config.DecayConfig{Alpha: 0.9, TimeUnit: 5},
		Threshold: config.ThresholdConfig{Beta: 0.2, Rho: 0.002},
		Ledger:    config.LedgerConfig{Driver: config.DriverFile, Path: path},
		Watch:     config.WatchConfig{Concurrency: 2},
	}
	t.Cleanup(func() { cfg = prev })
}

func TestInitEngine_FileLedger(t *testing.T) {
	withLedger(t, "651.3215599")
	ctx := context.Background()

	env, err := initEngine(ctx, config.ModeLedger)
	require.NoError(t, err)
	defer env.Close()

	st, err := env.Evaluator.Status(ctx, "1", -1, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(120), st.Now)
	assert.Equal(t, 150.0, st.StakedTokens)
	require.NotNil(t, st.EntityConviction)
	assert.Equal(t, proposal.StateUnreachable, st.State)

	h, err := env.Evaluator.History(ctx, "1", 120, "")
	require.NoError(t, err)
	assert.Len(t, h.Points, conviction.HistoryWindow+1)
}

func TestInitEngine_InvalidConfig(t *testing.T) {
	withLedger(t, "0")
	cfg.Decay.Alpha = 1.5

	_, err := initEngine(context.Background(), config.ModeLedger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decay.alpha")
}

func TestVerifyProposals(t *testing.T) {
	withLedger(t, "651.3215599")
	ctx := context.Background()

	env, err := initEngine(ctx, config.ModeLedger)
	require.NoError(t, err)
	defer env.Close()

	rows, err := verifyProposals(ctx, env, "", -1, 1e-2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.True(t, r.OK, "proposal %s", r.ProposalID)
		assert.Empty(t, r.Report.Findings)
		assert.Equal(t, int64(120), r.Report.Time)
	}

	var buf bytes.Buffer
	formatVerify(&buf, rows, 1e-2)
	assert.Contains(t, buf.String(), "ok")
}

func TestVerifyProposals_BetweenStakes(t *testing.T) {
	withLedger(t, "651.3215599")
	ctx := context.Background()

	env, err := initEngine(ctx, config.ModeLedger)
	require.NoError(t, err)
	defer env.Close()

	rows, err := verifyProposals(ctx, env, "1", 15, 1e-2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].OK)
	assert.Equal(t, int64(15), rows[0].Report.Time)
	// Only alice's stake at 10 exists at 15.
	assert.InDelta(t, conviction.CalculateConviction(5, 0, 100, 0.9), rows[0].Report.Float, 1e-9)

	st, err := env.Evaluator.Status(ctx, "1", 15, "")
	require.NoError(t, err)
	h, err := env.Evaluator.History(ctx, "1", 15, "")
	require.NoError(t, err)
	assert.InDelta(t, h.Points[len(h.Points)-1].Conviction, float64(st.Conviction), 1e-9)
	assert.Equal(t, 100.0, st.StakedTokens)
}

func TestVerifyProposals_CorruptedCheckpoint(t *testing.T) {
	withLedger(t, "900")
	ctx := context.Background()

	env, err := initEngine(ctx, config.ModeLedger)
	require.NoError(t, err)
	defer env.Close()

	rows, err := verifyProposals(ctx, env, "1", -1, 1e-2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].OK)
	require.Len(t, rows[0].Report.Findings, 1)
	assert.Equal(t, 1, rows[0].Report.Findings[0].Index)

	var buf bytes.Buffer
	formatVerify(&buf, rows, 1e-2)
	assert.Contains(t, buf.String(), "DRIFT")
}

func TestVerifyProposals_NotFound(t *testing.T) {
	withLedger(t, "0")
	ctx := context.Background()

	env, err := initEngine(ctx, config.ModeLedger)
	require.NoError(t, err)
	defer env.Close()

	_, err = verifyProposals(ctx, env, "missing", -1, 1e-2)
	require.Error(t, err)
}

func TestComputeThreshold(t *testing.T) {
	tp := conviction.ThresholdParams{Requested: 5000, Funds: 50000, Supply: 1000000, Beta: 0.2, Rho: 0.002}

	r, err := computeThreshold(tp, 0.9)
	require.NoError(t, err)
	// 0.002 * 1e6 / 0.1 / (0.2 - 0.1)^2
	assert.InDelta(t, 2_000_000, float64(r.Threshold), 1e-3)
	assert.InEpsilon(t, float64(r.Threshold), float64(r.FixedThreshold), 1e-6)
	assert.InDelta(t, 200_000, float64(r.MinNeededStake), 1e-3)
	assert.True(t, r.Passable)

	var buf bytes.Buffer
	formatThreshold(&buf, r)
	assert.Contains(t, buf.String(), "2,000,000.00")
	assert.Contains(t, buf.String(), "yes")
}

func TestComputeThreshold_Blocked(t *testing.T) {
	tp := conviction.ThresholdParams{Requested: 20000, Funds: 50000, Supply: 1000000, Beta: 0.2, Rho: 0.002}

	r, err := computeThreshold(tp, 0.9)
	require.NoError(t, err)
	assert.True(t, math.IsInf(float64(r.Threshold), 1))
	assert.True(t, math.IsInf(float64(r.FixedThreshold), 1))
	assert.False(t, r.Passable)
}

func TestComputeThreshold_InvalidInputs(t *testing.T) {
	base := conviction.ThresholdParams{Requested: 1, Funds: 10, Supply: 10, Beta: 0.2, Rho: 0.002}

	tests := []struct {
		name   string
		mutate func(*conviction.ThresholdParams, *float64)
	}{
		{"zero funds", func(p *conviction.ThresholdParams, _ *float64) { p.Funds = 0 }},
		{"negative request", func(p *conviction.ThresholdParams, _ *float64) { p.Requested = -1 }},
		{"alpha one", func(_ *conviction.ThresholdParams, a *float64) { *a = 1 }},
		{"beta zero", func(p *conviction.ThresholdParams, _ *float64) { p.Beta = 0 }},
		{"rho zero", func(p *conviction.ThresholdParams, _ *float64) { p.Rho = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp, alpha := base, 0.9
			tt.mutate(&tp, &alpha)
			_, err := computeThreshold(tp, alpha)
			assert.Error(t, err)
		})
	}
}
