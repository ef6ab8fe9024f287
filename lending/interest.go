package lending

import (
	"math"
	"math/big"
)

// Accrue grows principal by continuous compounding, A = P * e^(r*t), with the
// result truncated to an integer token unit. It is pure and deterministic for
// a given input triple.
//
// The elapsed time is not validated: a negative value shrinks the principal
// (e to a negative exponent), which callers must guard against or accept.
// Returns nil when the growth factor is not representable (rate*t overflows
// the exponential); callers treat that as an arithmetic failure.
func Accrue(principal *big.Int, rate *big.Rat, elapsedSeconds int64) *big.Int {
	if principal == nil || principal.Sign() == 0 {
		return big.NewInt(0)
	}
	if rate == nil || rate.Sign() == 0 || elapsedSeconds == 0 {
		return new(big.Int).Set(principal)
	}

	r, _ := rate.Float64()
	factor := math.Exp(r * float64(elapsedSeconds))
	growth := new(big.Rat).SetFloat64(factor)
	if growth == nil {
		// Exp overflowed to +Inf (or produced NaN).
		return nil
	}

	grown := growth.Mul(growth, new(big.Rat).SetInt(principal))
	return new(big.Int).Quo(grown.Num(), grown.Denom())
}
