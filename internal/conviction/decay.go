package conviction

import "math"

// CalculateConviction evaluates the closed form of the recurrence
// conviction(t) = alpha*conviction(t-1) + amount:
//
//	y = y0*a^t + x*(1-a^t)/(1-a)
//
// A zero timePassed returns initConv unchanged. A negative timePassed rewinds
// the value through the same formula. alpha must lie in (0,1).
func CalculateConviction(timePassed, initConv, amount, alpha float64) float64 {
	at := math.Pow(alpha, timePassed)
	return initConv*at + amount*(1-at)/(1-alpha)
}

// MaxConviction is the asymptotic ceiling reached by holding amount forever.
func MaxConviction(amount, alpha float64) float64 {
	return amount / (1 - alpha)
}
