package lending

import (
	"fmt"
	"math/big"

	"lendex/crypto"
)

// AssetClass identifies one of the two asset classes the protocol supports.
// Requests carry the class explicitly instead of discriminating on token
// identifiers.
type AssetClass uint8

const (
	AssetPrimary AssetClass = iota
	AssetSecondary
)

// Other returns the opposite asset class. Borrowing power is always derived
// from the class the borrower did not request.
func (a AssetClass) Other() AssetClass {
	if a == AssetPrimary {
		return AssetSecondary
	}
	return AssetPrimary
}

func (a AssetClass) String() string {
	switch a {
	case AssetPrimary:
		return "primary"
	case AssetSecondary:
		return "secondary"
	}
	return fmt.Sprintf("asset(%d)", uint8(a))
}

// ParseAssetClass maps a configuration label onto an asset class.
func ParseAssetClass(label string) (AssetClass, error) {
	switch label {
	case "primary":
		return AssetPrimary, nil
	case "secondary":
		return AssetSecondary, nil
	}
	return 0, fmt.Errorf("lending: unknown asset class %q", label)
}

// RiskParameters groups the per-pool safety limits. Fractions are expressed
// in basis points for deterministic accounting.
type RiskParameters struct {
	LiquidationThresholdBps   uint64
	MaxLTVBps                 uint64
	LiquidationBonusBps       uint64
	LiquidationCloseFactorBps uint64
	// InterestRate is the per-second nominal rate driving continuous
	// compounding of the pool's principal.
	InterestRate *big.Rat
}

// AssetPool captures the aggregate accounting state for one asset class.
// Amounts are token base units held as big integers; the ledger range is
// bounded to 64 bits by the operations that mutate it.
type AssetPool struct {
	// Authority is the identity permitted to configure the pool and the
	// signing capability for reserve-originated transfers.
	Authority crypto.Address
	Asset     AssetClass
	// Denom and Decimals describe the custodied token.
	Denom    string
	Decimals uint8
	// FeedID names the oracle feed pricing this asset.
	FeedID string
	// ReserveAddress is the derived custody account holding the pool's
	// token reserve.
	ReserveAddress crypto.Address

	TotalDeposits      *big.Int
	TotalDepositShares *big.Int
	TotalBorrows       *big.Int
	TotalBorrowShares  *big.Int

	LiquidationThresholdBps   uint64
	MaxLTVBps                 uint64
	LiquidationBonusBps       uint64
	LiquidationCloseFactorBps uint64
	InterestRate              *big.Rat

	LastAccrualTime int64
}

// AssetHoldings is one position leg: the deposit and borrow balances a user
// holds in a single asset class, with the proportional share units backing
// them.
type AssetHoldings struct {
	DepositAmount *big.Int
	DepositShares *big.Int
	BorrowAmount  *big.Int
	BorrowShares  *big.Int
}

// Position maintains the per-user lending state across both asset classes.
// A position may reach all-zero balances but is never deleted.
type Position struct {
	Owner crypto.Address
	// ReferenceAsset designates which class is treated as the primary
	// pricing branch for this user.
	ReferenceAsset AssetClass
	Holdings       [2]AssetHoldings
	// LastUpdated and LastUpdatedBorrowed are the independent accrual bases
	// for the deposit and borrow legs.
	LastUpdated         int64
	LastUpdatedBorrowed int64
}

// Leg returns the holdings for the given asset class, never nil.
func (p *Position) Leg(asset AssetClass) *AssetHoldings {
	return &p.Holdings[asset]
}

func (p *AssetPool) ensureDefaults() {
	if p.TotalDeposits == nil {
		p.TotalDeposits = big.NewInt(0)
	}
	if p.TotalDepositShares == nil {
		p.TotalDepositShares = big.NewInt(0)
	}
	if p.TotalBorrows == nil {
		p.TotalBorrows = big.NewInt(0)
	}
	if p.TotalBorrowShares == nil {
		p.TotalBorrowShares = big.NewInt(0)
	}
	if p.InterestRate == nil {
		p.InterestRate = new(big.Rat)
	}
}

func (p *Position) ensureDefaults() {
	for i := range p.Holdings {
		leg := &p.Holdings[i]
		if leg.DepositAmount == nil {
			leg.DepositAmount = big.NewInt(0)
		}
		if leg.DepositShares == nil {
			leg.DepositShares = big.NewInt(0)
		}
		if leg.BorrowAmount == nil {
			leg.BorrowAmount = big.NewInt(0)
		}
		if leg.BorrowShares == nil {
			leg.BorrowShares = big.NewInt(0)
		}
	}
}
