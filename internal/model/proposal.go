package model

import (
	"time"

	"github.com/sells-group/conviction-cli/internal/conviction"
)

// ProposalStatus is the lifecycle state recorded by the indexer.
type ProposalStatus string

const (
	ProposalStatusOpen      ProposalStatus = "open"
	ProposalStatusExecuted  ProposalStatus = "executed"
	ProposalStatusCancelled ProposalStatus = "cancelled"
)

// Valid reports whether s is a known status. Empty is treated as open.
func (s ProposalStatus) Valid() bool {
	switch s {
	case ProposalStatusOpen, ProposalStatusExecuted, ProposalStatusCancelled, "":
		return true
	}
	return false
}

// IsOpen reports whether the proposal can still gather conviction.
func (s ProposalStatus) IsOpen() bool {
	return s == ProposalStatusOpen || s == ""
}

// Proposal is a funding request that stakes accumulate conviction on.
type Proposal struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Requested   float64        `json:"requested" yaml:"requested"`
	Beneficiary string         `json:"beneficiary,omitempty" yaml:"beneficiary,omitempty"`
	Status      ProposalStatus `json:"status" yaml:"status"`
	CreatedAt   time.Time      `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Funding holds the economic figures every threshold depends on.
type Funding struct {
	Funds  float64 `json:"funds" yaml:"funds"`
	Supply float64 `json:"supply" yaml:"supply"`
}

// ProposalLedger is a proposal together with its ordered stake events.
type ProposalLedger struct {
	Proposal `yaml:",inline"`
	Stakes   []conviction.StakeEvent `json:"stakes" yaml:"stakes"`
}
