package proposal

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/conviction-cli/internal/conviction"
	"github.com/sells-group/conviction-cli/internal/model"
)

// Ledger is the part of ledger.Source the evaluator reads.
type Ledger interface {
	ListProposals(ctx context.Context) ([]model.Proposal, error)
	GetProposal(ctx context.Context, id string) (model.Proposal, error)
	ListStakes(ctx context.Context, proposalID string) ([]conviction.StakeEvent, error)
	Funding(ctx context.Context) (model.Funding, error)
	Head(ctx context.Context) (int64, error)
}

// Evaluator evaluates proposals read from a ledger.
type Evaluator struct {
	ledger      Ledger
	params      Params
	concurrency int
}

// NewEvaluator returns an Evaluator. concurrency bounds EvaluateAll; values
// below 1 mean 4.
func NewEvaluator(l Ledger, params Params, concurrency int) *Evaluator {
	if concurrency < 1 {
		concurrency = 4
	}
	return &Evaluator{ledger: l, params: params, concurrency: concurrency}
}

// Params returns the evaluator's parameters.
func (e *Evaluator) Params() Params { return e.params }

// Status evaluates one proposal at now. A negative now means the ledger head.
// entity may be empty.
func (e *Evaluator) Status(ctx context.Context, id string, now int64, entity string) (Status, error) {
	in, err := e.input(ctx, id, now, entity)
	if err != nil {
		return Status{}, err
	}
	return Evaluate(in), nil
}

// History samples one proposal's conviction curve ending at now.
func (e *Evaluator) History(ctx context.Context, id string, now int64, entity string) (History, error) {
	in, err := e.input(ctx, id, now, entity)
	if err != nil {
		return History{}, err
	}
	return BuildHistory(in), nil
}

// Stakes returns a proposal's stake log up to and including the resolved
// time, together with that time.
func (e *Evaluator) Stakes(ctx context.Context, id string, now int64) ([]conviction.StakeEvent, int64, error) {
	if _, err := e.ledger.GetProposal(ctx, id); err != nil {
		return nil, 0, err
	}
	now, err := e.resolveNow(ctx, now)
	if err != nil {
		return nil, 0, err
	}
	stakes, err := e.ledger.ListStakes(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	return conviction.StakesUntil(stakes, now), now, nil
}

// EvaluateAll evaluates every proposal at now, in ledger order.
func (e *Evaluator) EvaluateAll(ctx context.Context, now int64) ([]Status, error) {
	now, err := e.resolveNow(ctx, now)
	if err != nil {
		return nil, err
	}
	proposals, err := e.ledger.ListProposals(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "proposal: list proposals")
	}
	funding, err := e.ledger.Funding(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "proposal: funding")
	}

	out := make([]Status, len(proposals))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, p := range proposals {
		g.Go(func() error {
			stakes, err := e.ledger.ListStakes(gctx, p.ID)
			if err != nil {
				return eris.Wrapf(err, "proposal: stakes for %s", p.ID)
			}
			out[i] = Evaluate(Input{Proposal: p, Stakes: stakes, Funding: funding, Now: now, Params: e.params})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Debug("evaluated proposals",
		zap.String("component", "proposal"),
		zap.Int("count", len(out)),
		zap.Int64("time", now),
	)
	return out, nil
}

func (e *Evaluator) input(ctx context.Context, id string, now int64, entity string) (Input, error) {
	p, err := e.ledger.GetProposal(ctx, id)
	if err != nil {
		return Input{}, err
	}
	if now, err = e.resolveNow(ctx, now); err != nil {
		return Input{}, err
	}
	stakes, err := e.ledger.ListStakes(ctx, id)
	if err != nil {
		return Input{}, eris.Wrapf(err, "proposal: stakes for %s", id)
	}
	funding, err := e.ledger.Funding(ctx)
	if err != nil {
		return Input{}, eris.Wrap(err, "proposal: funding")
	}
	return Input{Proposal: p, Stakes: stakes, Funding: funding, Now: now, Entity: entity, Params: e.params}, nil
}

func (e *Evaluator) resolveNow(ctx context.Context, now int64) (int64, error) {
	if now >= 0 {
		return now, nil
	}
	head, err := e.ledger.Head(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "proposal: head")
	}
	return head, nil
}
