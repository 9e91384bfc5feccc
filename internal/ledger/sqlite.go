package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/conviction-cli/internal/config"
	"github.com/sells-group/conviction-cli/internal/conviction"
	"github.com/sells-group/conviction-cli/internal/model"
	"github.com/sells-group/conviction-cli/internal/resilience"
)

// SQLiteSchema is the table layout the indexer writes to its SQLite export.
// created_at holds unix seconds.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS proposals (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	requested   REAL NOT NULL,
	beneficiary TEXT,
	status      TEXT NOT NULL DEFAULT 'open',
	created_at  INTEGER
);

CREATE TABLE IF NOT EXISTS stakes (
	seq                 INTEGER PRIMARY KEY AUTOINCREMENT,
	proposal_id         TEXT NOT NULL REFERENCES proposals(id),
	time                INTEGER NOT NULL,
	entity              TEXT NOT NULL,
	tokens_staked       REAL NOT NULL,
	total_tokens_staked REAL NOT NULL,
	conviction          REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS funding (
	funds      REAL NOT NULL,
	supply     REAL NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS indexer_state (
	head INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stakes_proposal_time ON stakes(proposal_id, time, seq);
`

const (
	sqliteListProposals = `SELECT id, name, requested, COALESCE(beneficiary, ''), status, created_at FROM proposals`
	sqliteGetProposal   = sqliteListProposals + ` WHERE id = ?`
	sqliteListStakes    = `SELECT time, entity, tokens_staked, total_tokens_staked, conviction FROM stakes WHERE proposal_id = ? ORDER BY time, seq`
	sqliteFunding       = `SELECT funds, supply FROM funding ORDER BY updated_at DESC LIMIT 1`
	sqliteHead          = `SELECT MAX(COALESCE((SELECT MAX(head) FROM indexer_state), 0), COALESCE((SELECT MAX(time) FROM stakes), 0))`
)

// SQLiteSource reads an indexer's SQLite export.
type SQLiteSource struct {
	db       *sql.DB
	retry    resilience.RetryConfig
	fallback model.Funding
}

// NewSQLite opens the database at cfg.Path. The connection refuses writes.
func NewSQLite(cfg config.LedgerConfig) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA query_only=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteSource{
		db:       db,
		retry:    resilience.FromRetryConfig(cfg.Retry),
		fallback: model.Funding{Funds: cfg.Funds, Supply: cfg.Supply},
	}, nil
}

func (s *SQLiteSource) retryFor(op string) resilience.RetryConfig {
	r := s.retry
	r.OnRetry = resilience.RetryLogger("sqlite", op)
	return r
}

// ListProposals implements Source.
func (s *SQLiteSource) ListProposals(ctx context.Context) ([]model.Proposal, error) {
	out, err := resilience.DoVal(ctx, s.retryFor("list_proposals"), func(ctx context.Context) ([]model.Proposal, error) {
		rows, err := s.db.QueryContext(ctx, sqliteListProposals)
		if err != nil {
			return nil, err
		}
		defer rows.Close() //nolint:errcheck

		var ps []model.Proposal
		for rows.Next() {
			p, err := scanSQLiteProposal(rows)
			if err != nil {
				return nil, err
			}
			ps = append(ps, p)
		}
		return ps, rows.Err()
	})
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list proposals")
	}
	sortProposals(out)
	return out, nil
}

// GetProposal implements Source.
func (s *SQLiteSource) GetProposal(ctx context.Context, id string) (model.Proposal, error) {
	p, err := resilience.DoVal(ctx, s.retryFor("get_proposal"), func(ctx context.Context) (model.Proposal, error) {
		return scanSQLiteProposal(s.db.QueryRowContext(ctx, sqliteGetProposal, id))
	})
	if errors.Is(err, sql.ErrNoRows) {
		return model.Proposal{}, eris.Wrapf(ErrProposalNotFound, "id %s", id)
	}
	if err != nil {
		return model.Proposal{}, eris.Wrapf(err, "sqlite: get proposal %s", id)
	}
	return p, nil
}

// ListStakes implements Source.
func (s *SQLiteSource) ListStakes(ctx context.Context, proposalID string) ([]conviction.StakeEvent, error) {
	out, err := resilience.DoVal(ctx, s.retryFor("list_stakes"), func(ctx context.Context) ([]conviction.StakeEvent, error) {
		rows, err := s.db.QueryContext(ctx, sqliteListStakes, proposalID)
		if err != nil {
			return nil, err
		}
		defer rows.Close() //nolint:errcheck

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
		return nil, eris.Wrapf(err, "sqlite: list stakes for %s", proposalID)
	}
	return out, nil
}

// Funding implements Source. A missing funding row falls back to config.
func (s *SQLiteSource) Funding(ctx context.Context) (model.Funding, error) {
	f, err := resilience.DoVal(ctx, s.retryFor("funding"), func(ctx context.Context) (model.Funding, error) {
		var f model.Funding
		err := s.db.QueryRowContext(ctx, sqliteFunding).Scan(&f.Funds, &f.Supply)
		return f, err
	})
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.Funding{}, eris.Wrap(err, "sqlite: funding")
	}
	return overrideFunding(f, s.fallback), nil
}

// Head implements Source.
func (s *SQLiteSource) Head(ctx context.Context) (int64, error) {
	head, err := resilience.DoVal(ctx, s.retryFor("head"), func(ctx context.Context) (int64, error) {
		var h int64
		err := s.db.QueryRowContext(ctx, sqliteHead).Scan(&h)
		return h, err
	})
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: head")
	}
	return head, nil
}

// Close implements Source.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProposal(row rowScanner) (model.Proposal, error) {
	var (
		p       model.Proposal
		status  string
		created sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Requested, &p.Beneficiary, &status, &created); err != nil {
		return model.Proposal{}, err
	}
	p.Status = model.ProposalStatus(status)
	if created.Valid {
		p.CreatedAt = time.Unix(created.Int64, 0).UTC()
	}
	return p, nil
}
