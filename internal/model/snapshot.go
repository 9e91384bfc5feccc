package model

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Snapshot is a self-contained export of the indexer: funding, the current
// time reference and every proposal with its stake log.
type Snapshot struct {
	Head      int64            `json:"head" yaml:"head"`
	Funding   Funding          `json:"funding" yaml:"funding"`
	Proposals []ProposalLedger `json:"proposals" yaml:"proposals"`
}

// Validate reports ordering and identity problems the engine itself never
// checks: duplicate or empty proposal IDs, unknown statuses and stake logs
// that go back in time.
func (s *Snapshot) Validate() error {
	var problems []string
	seen := make(map[string]bool, len(s.Proposals))

	for i, p := range s.Proposals {
		if p.ID == "" {
			problems = append(problems, fmt.Sprintf("proposal %d: missing id", i))
			continue
		}
		if seen[p.ID] {
			problems = append(problems, fmt.Sprintf("proposal %s: duplicate id", p.ID))
		}
		seen[p.ID] = true

		if !p.Status.Valid() {
			problems = append(problems, fmt.Sprintf("proposal %s: unknown status %q", p.ID, p.Status))
		}
		for j := 1; j < len(p.Stakes); j++ {
			if p.Stakes[j].Time < p.Stakes[j-1].Time {
				problems = append(problems, fmt.Sprintf("proposal %s: stake %d at time %d before %d",
					p.ID, j, p.Stakes[j].Time, p.Stakes[j-1].Time))
				break
			}
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("model: invalid snapshot: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MaxStakeTime is the latest stake time across all proposals, or 0.
func (s *Snapshot) MaxStakeTime() int64 {
	var latest int64
	for _, p := range s.Proposals {
		if n := len(p.Stakes); n > 0 && p.Stakes[n-1].Time > latest {
			latest = p.Stakes[n-1].Time
		}
	}
	return latest
}
