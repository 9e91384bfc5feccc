package ledger

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/conviction-cli/internal/conviction"
	"github.com/sells-group/conviction-cli/internal/model"
)

// Memory is an in-memory Source. File snapshots load into it and the NATS
// stream keeps one up to date. It is safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	proposals map[string]model.Proposal
	stakes    map[string][]conviction.StakeEvent
	funding   model.Funding
	head      int64
	latest    int64
}

// NewMemory returns an empty ledger.
func NewMemory() *Memory {
	return &Memory{
		proposals: make(map[string]model.Proposal),
		stakes:    make(map[string][]conviction.StakeEvent),
	}
}

// FromSnapshot validates snap and loads it into a new Memory.
func FromSnapshot(snap *model.Snapshot) (*Memory, error) {
	if err := snap.Validate(); err != nil {
		return nil, eris.Wrap(err, "ledger: load snapshot")
	}
	m := NewMemory()
	m.SetFunding(snap.Funding)
	m.SetHead(snap.Head)
	for _, p := range snap.Proposals {
		m.PutProposal(p.Proposal)
		for _, s := range p.Stakes {
			m.AddStake(p.ID, s)
		}
	}
	return m, nil
}

// PutProposal inserts or replaces a proposal.
func (m *Memory) PutProposal(p model.Proposal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals[p.ID] = p
}

// AddStake records a stake event. Events are kept ordered by time; an event
// sharing a time with earlier ones goes after them. A stake for an unknown
// proposal registers an open placeholder until PutProposal supplies details.
func (m *Memory) AddStake(proposalID string, ev conviction.StakeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.proposals[proposalID]; !ok {
		m.proposals[proposalID] = model.Proposal{ID: proposalID, Status: model.ProposalStatusOpen}
	}
	log := m.stakes[proposalID]
	i := sort.Search(len(log), func(i int) bool { return log[i].Time > ev.Time })
	m.stakes[proposalID] = slices.Insert(log, i, ev)

	if ev.Time > m.latest {
		m.latest = ev.Time
	}
}

// SetFunding replaces the funding figures.
func (m *Memory) SetFunding(f model.Funding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funding = f
}

// SetHead moves the time reference. Head never reports less than the latest
// stake time.
func (m *Memory) SetHead(t int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = t
}

// ListProposals implements Source.
func (m *Memory) ListProposals(_ context.Context) ([]model.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Proposal, 0, len(m.proposals))
	for _, p := range m.proposals {
		out = append(out, p)
	}
	sortProposals(out)
	return out, nil
}

// GetProposal implements Source.
func (m *Memory) GetProposal(_ context.Context, id string) (model.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.proposals[id]
	if !ok {
		return model.Proposal{}, eris.Wrapf(ErrProposalNotFound, "id %s", id)
	}
	return p, nil
}

// ListStakes implements Source. The returned slice is a copy.
func (m *Memory) ListStakes(_ context.Context, proposalID string) ([]conviction.StakeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.stakes[proposalID]), nil
}

// Funding implements Source.
func (m *Memory) Funding(_ context.Context) (model.Funding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.funding, nil
}

// Head implements Source.
func (m *Memory) Head(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return max(m.head, m.latest), nil
}

// Close implements Source.
func (m *Memory) Close() error { return nil }

// sortProposals orders by ID, numerically when both IDs are integers.
func sortProposals(ps []model.Proposal) {
	sort.Slice(ps, func(i, j int) bool {
		a, errA := strconv.ParseInt(ps[i].ID, 10, 64)
		b, errB := strconv.ParseInt(ps[j].ID, 10, 64)
		if errA == nil && errB == nil {
			return a < b
		}
		if (errA == nil) != (errB == nil) {
			return errA == nil
		}
		return ps[i].ID < ps[j].ID
	})
}
