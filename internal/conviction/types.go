// Package conviction implements the conviction-voting math: a time-decayed
// accumulation of stake that decides when a funding proposal has earned enough
// sustained support to pass.
//
// Every function is pure. Callers supply the ordered stake log, the current
// time index and the decay/economic parameters; nothing is cached or mutated.
package conviction

// HistoryWindow is the number of time units covered by a sampled history.
const HistoryWindow = 50

// DefaultTrendTimeUnit is the look-ahead stride used for trends when the
// caller has no sampling resolution of its own.
const DefaultTrendTimeUnit = 5

// MaxTimeUnit bounds the sampling stride. A history spans HistoryWindow
// units, so larger strides only describe ticks no ledger reaches.
const MaxTimeUnit = 1_000_000

// StakeEvent is a single stake change on a proposal.
type StakeEvent struct {
	Time              int64   `json:"time" yaml:"time"`
	Entity            string  `json:"entity" yaml:"entity"`
	TokensStaked      float64 `json:"tokens_staked" yaml:"tokens_staked"`             // entity amount in this event
	TotalTokensStaked float64 `json:"total_tokens_staked" yaml:"total_tokens_staked"` // proposal total after the event
	Conviction        float64 `json:"conviction" yaml:"conviction"`                   // value just before the amount changed
}

// Checkpoint is enough state to continue the recurrence forward without
// replaying earlier events.
type Checkpoint struct {
	Time              int64   `json:"time"`
	Conviction        float64 `json:"conviction"`
	TotalTokensStaked float64 `json:"total_tokens_staked"`
}

// At evaluates the checkpoint at time t. A t before the checkpoint rewinds it.
func (c Checkpoint) At(t int64, alpha float64) float64 {
	return CalculateConviction(float64(t-c.Time), c.Conviction, c.TotalTokensStaked, alpha)
}

// DecayParams holds the decay constant and the sampling stride for histories.
type DecayParams struct {
	Alpha    float64 `json:"alpha" yaml:"alpha" mapstructure:"alpha"`
	TimeUnit int64   `json:"time_unit" yaml:"time_unit" mapstructure:"time_unit"`
}

// ThresholdParams describes a funding request and the economy it draws on.
type ThresholdParams struct {
	Requested float64 `json:"requested"`
	Funds     float64 `json:"funds"`
	Supply    float64 `json:"supply"`
	Beta      float64 `json:"beta"`
	Rho       float64 `json:"rho"`
}

// Threshold returns the conviction the request needs under decay alpha.
func (p ThresholdParams) Threshold(alpha float64) float64 {
	return CalculateThreshold(p.Requested, p.Funds, p.Supply, alpha, p.Beta, p.Rho)
}

func checkpointOf(s StakeEvent) Checkpoint {
	return Checkpoint{Time: s.Time, Conviction: s.Conviction, TotalTokensStaked: s.TotalTokensStaked}
}
