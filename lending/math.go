package lending

import (
	"math"
	"math/big"
)

var (
	basisPoints = big.NewInt(10_000)
	// maxLedgerAmount bounds every ledger balance to the 64-bit token unit
	// range; results beyond it are a checked arithmetic failure, never a
	// silent wraparound.
	maxLedgerAmount = new(big.Int).SetUint64(math.MaxUint64)
)

// sharesForAmount converts a principal delta into share units at the pool's
// current value per share: shares = totalShares * amount / totalPrincipal,
// truncated.
func sharesForAmount(totalShares, amount, totalPrincipal *big.Int) (*big.Int, error) {
	if totalPrincipal == nil || totalPrincipal.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	shares := new(big.Int).Mul(totalShares, amount)
	return shares.Quo(shares, totalPrincipal), nil
}

// applyBps scales amount by a basis-point fraction, truncated.
func applyBps(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return scaled.Quo(scaled, basisPoints)
}

// truncateRat floors a non-negative rational to an integer token unit.
func truncateRat(r *big.Rat) *big.Int {
	if r == nil || r.Sign() <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(r.Num(), r.Denom())
}

// checkAmount validates that a computed balance stays inside the ledger
// range.
func checkAmount(v *big.Int) error {
	if v == nil {
		return ErrArithmeticOverflow
	}
	if v.Sign() < 0 || v.Cmp(maxLedgerAmount) > 0 {
		return ErrArithmeticOverflow
	}
	return nil
}

// clampBig returns v capped at limit. Share decrements are clamped so
// truncation in ratio math can never push a balance negative.
func clampBig(v, limit *big.Int) *big.Int {
	if v.Cmp(limit) > 0 {
		return new(big.Int).Set(limit)
	}
	return new(big.Int).Set(v)
}
