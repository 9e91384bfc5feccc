// Package fixedpoint mirrors the on-chain integer conviction arithmetic.
//
// Parameters are scaled by D and decay powers are carried as 128-bit binary
// fractions, so results match the contract bit for bit and can be compared
// with the floating-point engine in internal/conviction.
package fixedpoint

import (
	"math"
	"math/big"

	"github.com/rotisserie/eris"
)

// D is the scale of decay, max ratio and weight parameters.
const D = 10_000_000

// ErrAmountOverMaxRatio is returned when a request is too large to ever pass.
var ErrAmountOverMaxRatio = eris.New("fixedpoint: requested amount over max ratio")

var (
	bigD   = big.NewInt(D)
	two128 = new(big.Int).Lsh(big.NewInt(1), 128)
	two127 = new(big.Int).Lsh(big.NewInt(1), 127)
)

// Scale converts a fractional parameter into its D-scaled integer, rounding to
// the nearest unit. Decay, max ratio (beta) and weight (rho) all use it.
func Scale(x float64) *big.Int {
	return Int(x * D)
}

// Decay is Scale for the per-tick retention factor alpha.
func Decay(alpha float64) *big.Int {
	return Scale(alpha)
}

// Int rounds a token amount to an integer. Non-finite inputs map to zero.
func Int(x float64) *big.Int {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return new(big.Int)
	}
	i, _ := new(big.Float).SetFloat64(math.Round(x)).Int(nil)
	return i
}

// Float converts an integer result back to float64.
func Float(x *big.Int) float64 {
	f, _ := new(big.Float).SetInt(x).Float64()
	return f
}

// mul multiplies two 128-bit fractions with round-half-up.
func mul(a, b *big.Int) *big.Int {
	r := new(big.Int).Mul(a, b)
	r.Add(r, two127)
	return r.Rsh(r, 128)
}

// pow raises the 128-bit fraction a to the integer power b.
func pow(a *big.Int, b uint64) *big.Int {
	base := new(big.Int).Set(a)
	result := new(big.Int).Set(two128)
	for b > 0 {
		if b&1 == 0 {
			base = mul(base, base)
			b >>= 1
		} else {
			result = mul(result, base)
			b--
		}
	}
	return result
}

// CalculateConviction advances lastConv by t ticks with amount staked:
//
//	(a^t*lastConv + amount*D*(1-a^t)/(D-decay) + 2^127) >> 128
//
// where a^t is a 128-bit fraction.
func CalculateConviction(t uint64, lastConv, amount, decay *big.Int) *big.Int {
	at := pow(new(big.Int).Div(new(big.Int).Lsh(decay, 128), bigD), t)

	left := new(big.Int).Mul(at, lastConv)

	right := new(big.Int).Mul(amount, bigD)
	right.Mul(right, new(big.Int).Sub(two128, at))
	right.Div(right, new(big.Int).Sub(bigD, decay))

	left.Add(left, right)
	left.Add(left, two127)
	return left.Rsh(left, 128)
}

// CalculateThreshold returns the conviction a request needs to pass, with
// maxRatio and weight D-scaled. Requests of maxRatio or more of funds return
// ErrAmountOverMaxRatio.
func CalculateThreshold(requested, funds, supply, decay, maxRatio, weight *big.Int) (*big.Int, error) {
	limit := new(big.Int).Mul(maxRatio, funds)
	if limit.Cmp(new(big.Int).Mul(requested, bigD)) <= 0 {
		return nil, eris.Wrapf(ErrAmountOverMaxRatio, "requested %s of %s", requested, funds)
	}

	denom := new(big.Int).Div(new(big.Int).Lsh(maxRatio, 64), bigD)
	denom.Sub(denom, new(big.Int).Div(new(big.Int).Lsh(requested, 64), funds))

	sq := new(big.Int).Mul(denom, denom)
	sq.Rsh(sq, 64)
	if sq.Sign() == 0 {
		return nil, eris.Wrapf(ErrAmountOverMaxRatio, "requested %s of %s", requested, funds)
	}

	thr := new(big.Int).Div(new(big.Int).Lsh(weight, 128), bigD)
	thr.Div(thr, sq)
	thr.Mul(thr, bigD)
	thr.Div(thr, new(big.Int).Sub(bigD, decay))
	thr.Mul(thr, supply)
	return thr.Rsh(thr, 64), nil
}
