// Package ledger reads proposals, funding and ordered stake logs from an
// indexer. Every source is read-only; the conviction math runs on top of what
// it returns.
package ledger

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/conviction-cli/internal/conviction"
	"github.com/sells-group/conviction-cli/internal/model"
)

// ErrProposalNotFound is returned for unknown proposal IDs.
var ErrProposalNotFound = eris.New("ledger: proposal not found")

// Source is a read-only view of the indexer.
type Source interface {
	// ListProposals returns every proposal ordered by ID.
	ListProposals(ctx context.Context) ([]model.Proposal, error)
	// GetProposal returns ErrProposalNotFound for unknown IDs.
	GetProposal(ctx context.Context, id string) (model.Proposal, error)
	// ListStakes returns the proposal's stake events ordered by time, then by
	// the order the indexer recorded them. Unknown proposals have no stakes.
	ListStakes(ctx context.Context, proposalID string) ([]conviction.StakeEvent, error)
	// Funding returns the funds pool and the effective token supply.
	Funding(ctx context.Context) (model.Funding, error)
	// Head returns the current time index of the indexer.
	Head(ctx context.Context) (int64, error)
	Close() error
}
