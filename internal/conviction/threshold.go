package conviction

import "math"

// ConvictionTrend is the change in whole-ledger conviction over the next
// timeUnit ticks, normalized by maxConviction. It usually lies in [-1,1] but
// is not clamped.
func ConvictionTrend(stakes []StakeEvent, maxConviction float64, now int64, alpha float64, timeUnit int64) float64 {
	current := CurrentConviction(stakes, now, alpha)
	future := CurrentConviction(stakes, now+timeUnit, alpha)
	return (future - current) / maxConviction
}

// RemainingTimeToPass solves the decay formula for the number of ticks until
// conviction reaches threshold while amount stays staked.
//
// The result is NaN when amount/(1-alpha) never reaches threshold, negative
// when conviction already exceeds it, positive otherwise.
func RemainingTimeToPass(threshold, conviction, amount, alpha float64) float64 {
	a := alpha
	return math.Log(((a-1)*threshold+amount)/((a-1)*conviction+amount)) / math.Log(a)
}

// CalculateThreshold returns the conviction a proposal requesting requested
// out of funds needs to pass. Requests of beta or more of the funds can never
// pass and get +Inf.
func CalculateThreshold(requested, funds, supply, alpha, beta, rho float64) float64 {
	share := requested / funds
	if share < beta {
		return rho * supply / (1 - alpha) / math.Pow(beta-share, 2)
	}
	return math.Inf(1)
}

// MinNeededStake is the smallest constant stake whose ceiling reaches
// threshold, i.e. threshold*(1-alpha).
func MinNeededStake(threshold, alpha float64) float64 {
	return -alpha*threshold + threshold
}
