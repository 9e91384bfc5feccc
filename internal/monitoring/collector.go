// Package monitoring watches proposals between evaluation rounds and posts
// alerts to a webhook when one becomes passable, unreachable or blocked.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/conviction-cli/internal/proposal"
)

// Evaluations is the part of proposal.Evaluator the collector needs.
type Evaluations interface {
	EvaluateAll(ctx context.Context, now int64) ([]proposal.Status, error)
}

// RoundSnapshot is one evaluation round over the open proposals.
type RoundSnapshot struct {
	Time        int64                  `json:"time"`
	Total       int                    `json:"total"`
	Open        int                    `json:"open"`
	ByState     map[proposal.State]int `json:"by_state"`
	Statuses    []proposal.Status      `json:"-"`
	CollectedAt time.Time              `json:"collected_at"`
}

// Collector runs evaluation rounds at the ledger head.
type Collector struct {
	evals Evaluations
}

// NewCollector creates a collector over evals.
func NewCollector(evals Evaluations) *Collector {
	return &Collector{evals: evals}
}

// Collect evaluates every proposal and keeps the open ones. Executed and
// cancelled proposals are counted in Total only.
func (c *Collector) Collect(ctx context.Context) (*RoundSnapshot, error) {
	all, err := c.evals.EvaluateAll(ctx, -1)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: evaluate proposals")
	}

	snap := &RoundSnapshot{
		Total:       len(all),
		ByState:     make(map[proposal.State]int),
		CollectedAt: time.Now().UTC(),
	}
	for _, st := range all {
		snap.Time = st.Now
		if !st.Proposal.Status.IsOpen() {
			continue
		}
		snap.Open++
		snap.ByState[st.State]++
		snap.Statuses = append(snap.Statuses, st)
	}
	return snap, nil
}
