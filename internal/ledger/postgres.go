package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/conviction-cli/internal/config"
	"github.com/sells-group/conviction-cli/internal/conviction"
	"github.com/sells-group/conviction-cli/internal/db"
	"github.com/sells-group/conviction-cli/internal/model"
	"github.com/sells-group/conviction-cli/internal/resilience"
)

const (
	pgListProposals = `SELECT id, name, requested::float8, COALESCE(beneficiary, ''), status, created_at FROM proposals ORDER BY id`
	pgGetProposal   = `SELECT id, name, requested::float8, COALESCE(beneficiary, ''), status, created_at FROM proposals WHERE id = $1`
	pgListStakes    = `SELECT time, entity, tokens_staked::float8, total_tokens_staked::float8, conviction::float8 FROM stakes WHERE proposal_id = $1 ORDER BY time, seq`
	pgFunding       = `SELECT funds::float8, supply::float8 FROM funding ORDER BY updated_at DESC LIMIT 1`
	pgHead          = `SELECT GREATEST(COALESCE((SELECT MAX(head) FROM indexer_state), 0), COALESCE((SELECT MAX(time) FROM stakes), 0))::bigint`
)

// Prepared statement names. Queries pass the name, and pgx resolves it to
// the statement prepared on the connection.
const (
	stmtListProposals = "list_proposals"
	stmtGetProposal   = "get_proposal"
	stmtListStakes    = "list_stakes"
	stmtFunding       = "funding"
	stmtHead          = "head"
)

// preparedStatements are prepared on every new pool connection.
var preparedStatements = map[string]string{
	stmtListProposals: pgListProposals,
	stmtGetProposal:   pgGetProposal,
	stmtListStakes:    pgListStakes,
	stmtFunding:       pgFunding,
	stmtHead:          pgHead,
}

// PostgresSource reads the indexer's Postgres tables.
type PostgresSource struct {
	pool     db.Pool
	retry    resilience.RetryConfig
	fallback model.Funding
}

// NewPostgres connects to the indexer database. Positive funding fields in
// cfg override the funding table.
func NewPostgres(ctx context.Context, cfg config.LedgerConfig) (*PostgresSource, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns, minConns := int32(10), int32(2)
	if cfg.Pool.MaxConns > 0 {
		maxConns = cfg.Pool.MaxConns
	}
	if cfg.Pool.MinConns > 0 {
		minConns = cfg.Pool.MinConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresSource(pool, cfg), nil
}

func newPostgresSource(pool db.Pool, cfg config.LedgerConfig) *PostgresSource {
	return &PostgresSource{
		pool:     pool,
		retry:    resilience.FromRetryConfig(cfg.Retry),
		fallback: model.Funding{Funds: cfg.Funds, Supply: cfg.Supply},
	}
}

func (s *PostgresSource) retryFor(op string) resilience.RetryConfig {
	r := s.retry
	r.OnRetry = resilience.RetryLogger("postgres", op)
	return r
}

// ListProposals implements Source.
func (s *PostgresSource) ListProposals(ctx context.Context) ([]model.Proposal, error) {
	out, err := resilience.DoVal(ctx, s.retryFor("list_proposals"), func(ctx context.Context) ([]model.Proposal, error) {
		rows, err := s.pool.Query(ctx, stmtListProposals)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var ps []model.Proposal
		for rows.Next() {
			p, err := scanProposal(rows)
			if err != nil {
				return nil, err
			}
			ps = append(ps, p)
		}
		return ps, rows.Err()
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list proposals")
	}
	sortProposals(out)
	return out, nil
}

// GetProposal implements Source.
func (s *PostgresSource) GetProposal(ctx context.Context, id string) (model.Proposal, error) {
	p, err := resilience.DoVal(ctx, s.retryFor("get_proposal"), func(ctx context.Context) (model.Proposal, error) {
		return scanProposal(s.pool.QueryRow(ctx, stmtGetProposal, id))
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Proposal{}, eris.Wrapf(ErrProposalNotFound, "id %s", id)
	}
	if err != nil {
		return model.Proposal{}, eris.Wrapf(err, "postgres: get proposal %s", id)
	}
	return p, nil
}

// ListStakes implements Source.
func (s *PostgresSource) ListStakes(ctx context.Context, proposalID string) ([]conviction.StakeEvent, error) {
	out, err := resilience.DoVal(ctx, s.retryFor("list_stakes"), func(ctx context.Context) ([]conviction.StakeEvent, error) {
		rows, err := s.pool.Query(ctx, stmtListStakes, proposalID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var stakes []conviction.StakeEvent
		for rows.Next() {
			var ev conviction.StakeEvent
			if err := rows.Scan(&ev.Time, &ev.Entity, &ev.TokensStaked, &ev.TotalTokensStaked, &ev.Conviction); err != nil {
				return nil, err
			}
			stakes = append(stakes, ev)
		}
		return stakes, rows.Err()
	})
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list stakes for %s", proposalID)
	}
	return out, nil
}

// Funding implements Source. A missing funding row falls back to config.
func (s *PostgresSource) Funding(ctx context.Context) (model.Funding, error) {
	f, err := resilience.DoVal(ctx, s.retryFor("funding"), func(ctx context.Context) (model.Funding, error) {
		var f model.Funding
		err := s.pool.QueryRow(ctx, stmtFunding).Scan(&f.Funds, &f.Supply)
		return f, err
	})
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return model.Funding{}, eris.Wrap(err, "postgres: funding")
	}
	return overrideFunding(f, s.fallback), nil
}

// Head implements Source.
func (s *PostgresSource) Head(ctx context.Context) (int64, error) {
	head, err := resilience.DoVal(ctx, s.retryFor("head"), func(ctx context.Context) (int64, error) {
		var h int64
		err := s.pool.QueryRow(ctx, stmtHead).Scan(&h)
		return h, err
	})
	if err != nil {
		return 0, eris.Wrap(err, "postgres: head")
	}
	return head, nil
}

// Close implements Source.
func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}

func scanProposal(row pgx.Row) (model.Proposal, error) {
	var (
		p      model.Proposal
		status string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Requested, &p.Beneficiary, &status, &p.CreatedAt); err != nil {
		return model.Proposal{}, err
	}
	p.Status = model.ProposalStatus(status)
	return p, nil
}

// overrideFunding applies the positive fields of override on top of f.
func overrideFunding(f, override model.Funding) model.Funding {
	if override.Funds > 0 {
		f.Funds = override.Funds
	}
	if override.Supply > 0 {
		f.Supply = override.Supply
	}
	return f
}
