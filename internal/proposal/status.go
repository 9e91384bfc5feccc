// Package proposal turns a proposal's stake log and the funding economy into
// the figures a voter looks at: conviction, threshold, how far off passing
// the proposal is and which way it is heading.
package proposal

import (
	"math"

	"github.com/sells-group/conviction-cli/internal/config"
	"github.com/sells-group/conviction-cli/internal/conviction"
	"github.com/sells-group/conviction-cli/internal/model"
)

// State summarizes where a proposal stands.
type State string

const (
	// StatePassed means conviction has reached the threshold.
	StatePassed State = "passed"
	// StatePending means the current stake will reach the threshold in time.
	StatePending State = "pending"
	// StateUnreachable means the current stake's ceiling is below the threshold.
	StateUnreachable State = "unreachable"
	// StateBlocked means the request is beta or more of the funds.
	StateBlocked State = "blocked"
)

// Params are the decay and threshold parameters shared by every proposal.
type Params struct {
	Decay conviction.DecayParams `json:"decay"`
	Beta  float64                `json:"beta"`
	Rho   float64                `json:"rho"`
}

// ParamsFromConfig reads Params from the decay and threshold sections.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Decay: conviction.DecayParams{Alpha: cfg.Decay.Alpha, TimeUnit: cfg.Decay.TimeUnit},
		Beta:  cfg.Threshold.Beta,
		Rho:   cfg.Threshold.Rho,
	}
}

// Input is everything Evaluate needs for one proposal.
type Input struct {
	Proposal model.Proposal
	Stakes   []conviction.StakeEvent
	Funding  model.Funding
	Now      int64
	Entity   string
	Params   Params
}

// Status is the evaluated state of a proposal at a point in time.
type Status struct {
	Proposal model.Proposal `json:"proposal"`
	Now      int64          `json:"time"`
	State    State          `json:"state"`

	StakedTokens   float64     `json:"staked_tokens"`
	Conviction     model.Float `json:"conviction"`
	Threshold      model.Float `json:"threshold"`
	MaxConviction  model.Float `json:"max_conviction"`
	FutureCeiling  model.Float `json:"future_conviction"`
	StakedRatio    model.Float `json:"staked_ratio"`
	NeededRatio    model.Float `json:"needed_ratio"`
	FutureRatio    model.Float `json:"future_ratio"`
	MinNeededStake model.Float `json:"min_needed_stake"`
	NeededTokens   model.Float `json:"needed_tokens"`
	RemainingTime  model.Float `json:"remaining_time"`
	Trend          model.Float `json:"trend"`

	Entity           string       `json:"entity,omitempty"`
	EntityConviction *model.Float `json:"entity_conviction,omitempty"`
}

// Evaluate derives the Status of in.Proposal at in.Now. Stake events after
// in.Now are ignored, so a past time sees the ledger as it was then.
//
// Ratios are relative to the conviction ceiling of the whole supply. Needed
// tokens can be negative when more than the minimum is already staked.
func Evaluate(in Input) Status {
	alpha := in.Params.Decay.Alpha
	timeUnit := in.Params.Decay.TimeUnit
	if timeUnit <= 0 {
		timeUnit = conviction.DefaultTrendTimeUnit
	}

	// Events after Now have not happened yet at Now.
	stakes := conviction.StakesUntil(in.Stakes, in.Now)

	var staked float64
	if n := len(stakes); n > 0 {
		staked = stakes[n-1].TotalTokensStaked
	}

	conv := conviction.CurrentConviction(stakes, in.Now, alpha)
	threshold := conviction.ThresholdParams{
		Requested: in.Proposal.Requested,
		Funds:     in.Funding.Funds,
		Supply:    in.Funding.Supply,
		Beta:      in.Params.Beta,
		Rho:       in.Params.Rho,
	}.Threshold(alpha)
	maxConv := conviction.MaxConviction(in.Funding.Supply, alpha)
	ceiling := conviction.MaxConviction(staked, alpha)
	minStake := conviction.MinNeededStake(threshold, alpha)

	st := Status{
		Proposal:       in.Proposal,
		Now:            in.Now,
		StakedTokens:   staked,
		Conviction:     model.Float(conv),
		Threshold:      model.Float(threshold),
		MaxConviction:  model.Float(maxConv),
		FutureCeiling:  model.Float(ceiling),
		StakedRatio:    model.Float(conv / maxConv),
		NeededRatio:    model.Float(threshold / maxConv),
		FutureRatio:    model.Float(ceiling / maxConv),
		MinNeededStake: model.Float(minStake),
		NeededTokens:   model.Float(minStake - staked),
		RemainingTime:  model.Float(conviction.RemainingTimeToPass(threshold, conv, staked, alpha)),
		Trend:          model.Float(conviction.ConvictionTrend(stakes, maxConv, in.Now, alpha, timeUnit)),
	}
	st.State = classify(conv, threshold, ceiling)

	if in.Entity != "" {
		ec := model.Float(conviction.CurrentConvictionByEntity(stakes, in.Entity, in.Now, alpha))
		st.Entity = in.Entity
		st.EntityConviction = &ec
	}
	return st
}

func classify(conv, threshold, ceiling float64) State {
	switch {
	case math.IsInf(threshold, 1):
		return StateBlocked
	case conv >= threshold:
		return StatePassed
	case ceiling < threshold:
		return StateUnreachable
	default:
		return StatePending
	}
}

// Point is one sample of a conviction history.
type Point struct {
	Time       int64   `json:"time"`
	Conviction float64 `json:"conviction"`
}

// History is a sampled conviction curve ending at Now.
type History struct {
	ProposalID string      `json:"proposal_id"`
	Entity     string      `json:"entity,omitempty"`
	Now        int64       `json:"time"`
	TimeUnit   int64       `json:"time_unit"`
	Threshold  model.Float `json:"threshold"`
	Points     []Point     `json:"points"`
}

// SampleTimes returns the ticks a history ending at now is sampled on: every
// multiple of timeUnit in [now-HistoryWindow*timeUnit, now].
func SampleTimes(now, timeUnit int64) []int64 {
	first := now - conviction.HistoryWindow*timeUnit
	switch r := first % timeUnit; {
	case r > 0:
		first += timeUnit - r
	case r < 0:
		first -= r
	}
	times := make([]int64, 0, conviction.HistoryWindow+1)
	for t := first; t <= now; t += timeUnit {
		times = append(times, t)
	}
	return times
}

// BuildHistory samples the proposal's conviction, or one entity's when
// in.Entity is set.
func BuildHistory(in Input) History {
	alpha := in.Params.Decay.Alpha
	timeUnit := in.Params.Decay.TimeUnit
	if timeUnit <= 0 {
		timeUnit = conviction.DefaultTrendTimeUnit
	}

	var samples []float64
	if in.Entity != "" {
		samples = conviction.ConvictionHistoryByEntity(in.Stakes, in.Entity, in.Now, alpha, timeUnit)
	} else {
		samples = conviction.ConvictionHistory(in.Stakes, in.Now, alpha, timeUnit)
	}

	// Negative times pad past now; only ticks up to now are kept.
	times := SampleTimes(in.Now, timeUnit)
	points := make([]Point, min(len(samples), len(times)))
	for i := range points {
		points[i] = Point{Time: times[i], Conviction: samples[i]}
	}

	return History{
		ProposalID: in.Proposal.ID,
		Entity:     in.Entity,
		Now:        in.Now,
		TimeUnit:   timeUnit,
		Threshold: model.Float(conviction.CalculateThreshold(
			in.Proposal.Requested, in.Funding.Funds, in.Funding.Supply, alpha, in.Params.Beta, in.Params.Rho)),
		Points: points,
	}
}
