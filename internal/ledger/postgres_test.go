package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/conviction-cli/internal/conviction"
	"github.com/sells-group/conviction-cli/internal/model"
	"github.com/sells-group/conviction-cli/internal/resilience"
)

// newMockPostgresSource creates a PostgresSource backed by pgxmock. Retries
// are off unless a test turns them on.
func newMockPostgresSource(t *testing.T) (*PostgresSource, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresSource{pool: mock, retry: resilience.RetryConfig{MaxAttempts: 1}}
	return s, mock
}

var proposalColumns = []string{"id", "name", "requested", "beneficiary", "status", "created_at"}

func TestPostgresSource_ListProposals(t *testing.T) {
	s, mock := newMockPostgresSource(t)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`^list_proposals$`).
		WillReturnRows(pgxmock.NewRows(proposalColumns).
			AddRow("10", "Grants round", 5000.0, "0xabc", "open", created).
			AddRow("2", "Audit", 1200.0, "", "executed", created))

	got, err := s.ListProposals(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID, "numeric IDs sort numerically")
	assert.Equal(t, model.ProposalStatusExecuted, got[0].Status)
	assert.Equal(t, "10", got[1].ID)
	assert.Equal(t, "0xabc", got[1].Beneficiary)
	assert.InDelta(t, 5000.0, got[1].Requested, 1e-9)
	assert.Equal(t, created, got[1].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_GetProposal_NotFound(t *testing.T) {
	s, mock := newMockPostgresSource(t)

	mock.ExpectQuery(`^get_proposal$`).
		WithArgs("404").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetProposal(context.Background(), "404")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProposalNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_GetProposal(t *testing.T) {
	s, mock := newMockPostgresSource(t)

	mock.ExpectQuery(`^get_proposal$`).
		WithArgs("7").
		WillReturnRows(pgxmock.NewRows(proposalColumns).
			AddRow("7", "Docs", 300.0, "", "open", time.Time{}))

	p, err := s.GetProposal(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "Docs", p.Name)
	assert.True(t, p.Status.IsOpen())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_ListStakes(t *testing.T) {
	s, mock := newMockPostgresSource(t)

	mock.ExpectQuery(`^list_stakes$`).
		WithArgs("1").
		WillReturnRows(pgxmock.NewRows([]string{"time", "entity", "tokens_staked", "total_tokens_staked", "conviction"}).
			AddRow(int64(3), "alice", 100.0, 100.0, 0.0).
			AddRow(int64(8), "bob", 50.0, 150.0, 409.51))

	got, err := s.ListStakes(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, []conviction.StakeEvent{
		{Time: 3, Entity: "alice", TokensStaked: 100, TotalTokensStaked: 100},
		{Time: 8, Entity: "bob", TokensStaked: 50, TotalTokensStaked: 150, Conviction: 409.51},
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_ListStakes_QueryError(t *testing.T) {
	s, mock := newMockPostgresSource(t)

	mock.ExpectQuery(`^list_stakes$`).
		WithArgs("1").
		WillReturnError(errors.New("relation \"stakes\" does not exist"))

	_, err := s.ListStakes(context.Background(), "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list stakes for 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_ListStakes_RetriesTransient(t *testing.T) {
	s, mock := newMockPostgresSource(t)
	s.retry = resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

	mock.ExpectQuery(`^list_stakes$`).
		WithArgs("1").
		WillReturnError(&pgconn.PgError{Code: "40001", Message: "serialization failure"})
	mock.ExpectQuery(`^list_stakes$`).
		WithArgs("1").
		WillReturnRows(pgxmock.NewRows([]string{"time", "entity", "tokens_staked", "total_tokens_staked", "conviction"}).
			AddRow(int64(1), "alice", 10.0, 10.0, 0.0))

	got, err := s.ListStakes(context.Background(), "1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_Funding(t *testing.T) {
	s, mock := newMockPostgresSource(t)
	s.fallback = model.Funding{Supply: 2_000_000}

	mock.ExpectQuery(`^funding$`).
		WillReturnRows(pgxmock.NewRows([]string{"funds", "supply"}).AddRow(75_000.0, 1_000_000.0))

	f, err := s.Funding(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.Funding{Funds: 75_000, Supply: 2_000_000}, f, "configured supply wins")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_Funding_NoRowFallsBack(t *testing.T) {
	s, mock := newMockPostgresSource(t)
	s.fallback = model.Funding{Funds: 10, Supply: 20}

	mock.ExpectQuery(`^funding$`).WillReturnError(pgx.ErrNoRows)

	f, err := s.Funding(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.Funding{Funds: 10, Supply: 20}, f)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_Head(t *testing.T) {
	s, mock := newMockPostgresSource(t)

	mock.ExpectQuery(`^head$`).
		WillReturnRows(pgxmock.NewRows([]string{"greatest"}).AddRow(int64(1234)))

	h, err := s.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1234), h)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOverrideFunding(t *testing.T) {
	base := model.Funding{Funds: 1, Supply: 2}
	assert.Equal(t, base, overrideFunding(base, model.Funding{}))
	assert.Equal(t, model.Funding{Funds: 5, Supply: 2}, overrideFunding(base, model.Funding{Funds: 5, Supply: -1}))
}

func TestPreparedStatements_CoverEveryQuery(t *testing.T) {
	for _, name := range []string{stmtListProposals, stmtGetProposal, stmtListStakes, stmtFunding, stmtHead} {
		assert.NotEmpty(t, preparedStatements[name], "statement %q is queried but never prepared", name)
	}
	assert.Len(t, preparedStatements, 5)
}
