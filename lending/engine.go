package lending

import (
	"fmt"
	"math/big"
	"time"

	"lendex/crypto"
	"lendex/oracle"
	"lendex/token"
)

// DefaultMaxPriceAge is the staleness bound applied to oracle quotes when the
// wiring does not configure one.
const DefaultMaxPriceAge int64 = 100

type engineState interface {
	GetPool(asset AssetClass) (*AssetPool, error)
	PutPool(pool *AssetPool) error
	GetPosition(owner crypto.Address) (*Position, error)
	PutPosition(position *Position) error
}

// Engine orchestrates the state transitions of the lending core. Every
// operation executes as a single pass over the two ledgers: load, validate,
// request the token transfer, mutate, persist. The engine performs no
// internal locking; the surrounding execution environment serializes
// operations and provides all-or-nothing commit semantics.
type Engine struct {
	state       engineState
	prices      oracle.Source
	transfers   token.Service
	maxPriceAge int64
	now         func() int64
}

// NewEngine constructs an engine with the default staleness bound and wall
// clock. State, price source and transfer service are wired separately.
func NewEngine() *Engine {
	return &Engine{
		maxPriceAge: DefaultMaxPriceAge,
		now:         func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPriceSource wires the oracle adapter used for collateral valuation.
func (e *Engine) SetPriceSource(src oracle.Source) { e.prices = src }

// SetTransferService wires the token custody service.
func (e *Engine) SetTransferService(svc token.Service) { e.transfers = svc }

// SetMaxPriceAge overrides the oracle staleness bound in seconds.
func (e *Engine) SetMaxPriceAge(seconds int64) {
	if e == nil || seconds <= 0 {
		return
	}
	e.maxPriceAge = seconds
}

// SetTimeSource overrides the clock, primarily for deterministic tests.
func (e *Engine) SetTimeSource(now func() int64) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// InitializePool creates the asset pool for one asset class and derives its
// reserve custody address. Fails when a pool for the class already exists.
func (e *Engine) InitializePool(authority crypto.Address, asset AssetClass, denom string, decimals uint8, feedID string, params RiskParameters) (*AssetPool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if params.LiquidationThresholdBps > 10_000 {
		return nil, fmt.Errorf("lending: liquidation threshold %d exceeds 100%%", params.LiquidationThresholdBps)
	}
	if params.MaxLTVBps > params.LiquidationThresholdBps {
		return nil, fmt.Errorf("lending: max LTV %d exceeds liquidation threshold %d", params.MaxLTVBps, params.LiquidationThresholdBps)
	}
	existing, err := e.state.GetPool(asset)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrPoolExists, asset)
	}

	pool := &AssetPool{
		Authority:                 authority,
		Asset:                     asset,
		Denom:                     denom,
		Decimals:                  decimals,
		FeedID:                    feedID,
		ReserveAddress:            crypto.DerivePoolAddress(denom, byte(asset)),
		TotalDeposits:             big.NewInt(0),
		TotalDepositShares:        big.NewInt(0),
		TotalBorrows:              big.NewInt(0),
		TotalBorrowShares:         big.NewInt(0),
		LiquidationThresholdBps:   params.LiquidationThresholdBps,
		MaxLTVBps:                 params.MaxLTVBps,
		LiquidationBonusBps:       params.LiquidationBonusBps,
		LiquidationCloseFactorBps: params.LiquidationCloseFactorBps,
		LastAccrualTime:           e.now(),
	}
	if params.InterestRate != nil {
		pool.InterestRate = new(big.Rat).Set(params.InterestRate)
	} else {
		pool.InterestRate = new(big.Rat)
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	return pool, nil
}

// InitializePosition creates the position record for an owner, recording the
// owner's designated reference asset class. Fails when the owner already has
// a position.
func (e *Engine) InitializePosition(owner crypto.Address, referenceAsset AssetClass) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	existing, err := e.state.GetPosition(owner)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrPositionExists, owner)
	}
	position := &Position{Owner: owner, ReferenceAsset: referenceAsset}
	position.ensureDefaults()
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	return position, nil
}

// Deposit moves amount from the owner's token account into the pool reserve
// and credits deposit shares at the pool's pre-transfer value per share. The
// first depositor seeds the pool at a 1:1 share ratio.
func (e *Engine) Deposit(owner crypto.Address, asset AssetClass, amount *big.Int) error {
	pool, position, err := e.loadLedgers(owner, asset, amount)
	if err != nil {
		return err
	}

	// Share delta from the pre-transfer totals.
	shareDelta := new(big.Int)
	if pool.TotalDeposits.Sign() == 0 {
		shareDelta.Set(amount)
	} else {
		shareDelta, err = sharesForAmount(pool.TotalDepositShares, amount, pool.TotalDeposits)
		if err != nil {
			return err
		}
	}

	if err := e.transfer(e.userAccount(pool, owner), e.reserveAccount(pool), amount, pool.Decimals, token.Authorization{Signer: owner}); err != nil {
		return err
	}

	leg := position.Leg(asset)
	newAmount := new(big.Int).Add(leg.DepositAmount, amount)
	newTotal := new(big.Int).Add(pool.TotalDeposits, amount)
	if err := checkAmount(newAmount); err != nil {
		return err
	}
	if err := checkAmount(newTotal); err != nil {
		return err
	}

	leg.DepositAmount = newAmount
	leg.DepositShares = new(big.Int).Add(leg.DepositShares, shareDelta)
	pool.TotalDeposits = newTotal
	pool.TotalDepositShares = new(big.Int).Add(pool.TotalDepositShares, shareDelta)
	position.LastUpdated = e.now()

	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	return e.state.PutPool(pool)
}

// Withdraw redeems amount from the owner's deposit leg. Interest accrued on
// the pool since its last accrual event is applied first, then the withdrawal
// is checked against both the recorded deposit and the share-backed
// redeemable value before the reserve pays out under the pool authority.
func (e *Engine) Withdraw(owner crypto.Address, asset AssetClass, amount *big.Int) error {
	pool, position, err := e.loadLedgers(owner, asset, amount)
	if err != nil {
		return err
	}

	leg := position.Leg(asset)
	if leg.DepositAmount.Cmp(amount) < 0 {
		return fmt.Errorf("%w: deposit %s below withdrawal %s", ErrInsufficientFunds, leg.DepositAmount, amount)
	}

	now := e.now()
	accrued := Accrue(pool.TotalDeposits, pool.InterestRate, now-pool.LastAccrualTime)
	if err := checkAmount(accrued); err != nil {
		return err
	}
	pool.TotalDeposits = accrued
	pool.LastAccrualTime = now

	if pool.TotalDepositShares.Sign() == 0 {
		return ErrDivisionByZero
	}
	// Redeemable value per the share-backed accounting: the recorded deposit
	// divided by the pool's value per share.
	redeemable := new(big.Rat).SetFrac(
		new(big.Int).Mul(leg.DepositAmount, pool.TotalDepositShares),
		pool.TotalDeposits,
	)
	if redeemable.Cmp(new(big.Rat).SetInt(amount)) < 0 {
		return fmt.Errorf("%w: redeemable value below withdrawal %s", ErrInsufficientFunds, amount)
	}

	if err := e.transfer(e.reserveAccount(pool), e.userAccount(pool, owner), amount, pool.Decimals, token.Authorization{Signer: pool.Authority}); err != nil {
		return err
	}

	shareDelta, err := sharesForAmount(pool.TotalDepositShares, amount, pool.TotalDeposits)
	if err != nil {
		return err
	}
	shareDelta = clampBig(shareDelta, leg.DepositShares)

	leg.DepositAmount = new(big.Int).Sub(leg.DepositAmount, amount)
	leg.DepositShares = new(big.Int).Sub(leg.DepositShares, shareDelta)
	pool.TotalDeposits = new(big.Int).Sub(pool.TotalDeposits, amount)
	pool.TotalDepositShares = new(big.Int).Sub(pool.TotalDepositShares, shareDelta)
	if pool.TotalDeposits.Sign() < 0 || pool.TotalDepositShares.Sign() < 0 {
		return ErrArithmeticOverflow
	}

	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	return e.state.PutPool(pool)
}

// Borrow lends amount of the requested asset against the owner's deposit in
// the opposite class. The collateral is valued at its oracle price after
// interest accrual, weighted by the collateral pool's liquidation threshold.
func (e *Engine) Borrow(owner crypto.Address, asset AssetClass, amount *big.Int) error {
	pool, position, err := e.loadLedgers(owner, asset, amount)
	if err != nil {
		return err
	}
	if e.prices == nil {
		return errNilOracle
	}
	collateralPool, err := e.loadPool(asset.Other())
	if err != nil {
		return err
	}

	now := e.now()
	collateralLeg := position.Leg(asset.Other())
	accrued := Accrue(collateralLeg.DepositAmount, collateralPool.InterestRate, now-position.LastUpdated)
	if err := checkAmount(accrued); err != nil {
		return err
	}
	price, err := e.prices.Quote(collateralPool.FeedID, e.maxPriceAge, now)
	if err != nil {
		return err
	}
	collateralValue := truncateRat(new(big.Rat).Mul(price, new(big.Rat).SetInt(accrued)))
	borrowable := applyBps(collateralValue, collateralPool.LiquidationThresholdBps)
	if borrowable.Cmp(amount) < 0 {
		return fmt.Errorf("%w: borrowable %s below requested %s", ErrOverBorrowableAmount, borrowable, amount)
	}

	// Share delta from the pre-transfer totals.
	shareDelta := new(big.Int)
	if pool.TotalBorrows.Sign() == 0 {
		shareDelta.Set(amount)
	} else {
		shareDelta, err = sharesForAmount(pool.TotalBorrowShares, amount, pool.TotalBorrows)
		if err != nil {
			return err
		}
	}

	if err := e.transfer(e.reserveAccount(pool), e.userAccount(pool, owner), amount, pool.Decimals, token.Authorization{Signer: pool.Authority}); err != nil {
		return err
	}

	leg := position.Leg(asset)
	newAmount := new(big.Int).Add(leg.BorrowAmount, amount)
	newTotal := new(big.Int).Add(pool.TotalBorrows, amount)
	if err := checkAmount(newAmount); err != nil {
		return err
	}
	if err := checkAmount(newTotal); err != nil {
		return err
	}

	leg.BorrowAmount = newAmount
	leg.BorrowShares = new(big.Int).Add(leg.BorrowShares, shareDelta)
	pool.TotalBorrows = newTotal
	pool.TotalBorrowShares = new(big.Int).Add(pool.TotalBorrowShares, shareDelta)
	position.LastUpdatedBorrowed = now

	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	return e.state.PutPool(pool)
}

// Repay returns amount of the borrowed asset to the pool reserve and burns
// the matching borrow shares at the pool's pre-transfer ratio.
func (e *Engine) Repay(owner crypto.Address, asset AssetClass, amount *big.Int) error {
	pool, position, err := e.loadLedgers(owner, asset, amount)
	if err != nil {
		return err
	}

	leg := position.Leg(asset)
	if amount.Cmp(leg.BorrowAmount) > 0 {
		return fmt.Errorf("%w: owed %s, repaying %s", ErrRepayExceedsOwed, leg.BorrowAmount, amount)
	}

	shareDelta, err := sharesForAmount(pool.TotalBorrowShares, amount, pool.TotalBorrows)
	if err != nil {
		return err
	}
	shareDelta = clampBig(shareDelta, leg.BorrowShares)

	if err := e.transfer(e.userAccount(pool, owner), e.reserveAccount(pool), amount, pool.Decimals, token.Authorization{Signer: owner}); err != nil {
		return err
	}

	leg.BorrowAmount = new(big.Int).Sub(leg.BorrowAmount, amount)
	leg.BorrowShares = new(big.Int).Sub(leg.BorrowShares, shareDelta)
	pool.TotalBorrows = new(big.Int).Sub(pool.TotalBorrows, amount)
	pool.TotalBorrowShares = new(big.Int).Sub(pool.TotalBorrowShares, shareDelta)
	if pool.TotalBorrows.Sign() < 0 || pool.TotalBorrowShares.Sign() < 0 {
		return ErrArithmeticOverflow
	}

	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	return e.state.PutPool(pool)
}

// Liquidate lets a third party repay a close-factor portion of an unhealthy
// position's debt in exchange for a bonus-weighted payout of its collateral.
// The target's borrowed leg and collateral leg are debited symmetrically with
// the two transfers, as are both pools' totals. The repaid debt and collateral
// payout are returned.
func (e *Engine) Liquidate(liquidator, target crypto.Address, collateralAsset, borrowedAsset AssetClass) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if e.prices == nil {
		return nil, nil, errNilOracle
	}
	if collateralAsset == borrowedAsset {
		return nil, nil, fmt.Errorf("lending: collateral and borrowed asset classes must differ")
	}
	collateralPool, err := e.loadPool(collateralAsset)
	if err != nil {
		return nil, nil, err
	}
	borrowedPool, err := e.loadPool(borrowedAsset)
	if err != nil {
		return nil, nil, err
	}
	position, err := e.loadPosition(target)
	if err != nil {
		return nil, nil, err
	}

	now := e.now()
	collateralPrice, err := e.prices.Quote(collateralPool.FeedID, e.maxPriceAge, now)
	if err != nil {
		return nil, nil, err
	}
	borrowedPrice, err := e.prices.Quote(borrowedPool.FeedID, e.maxPriceAge, now)
	if err != nil {
		return nil, nil, err
	}

	collateralLeg := position.Leg(collateralAsset)
	borrowedLeg := position.Leg(borrowedAsset)

	accruedCollateral := Accrue(collateralLeg.DepositAmount, collateralPool.InterestRate, now-position.LastUpdated)
	accruedBorrowed := Accrue(borrowedLeg.BorrowAmount, borrowedPool.InterestRate, now-position.LastUpdatedBorrowed)
	if err := checkAmount(accruedCollateral); err != nil {
		return nil, nil, err
	}
	if err := checkAmount(accruedBorrowed); err != nil {
		return nil, nil, err
	}

	totalCollateral := truncateRat(new(big.Rat).Mul(collateralPrice, new(big.Rat).SetInt(accruedCollateral)))
	totalBorrowed := truncateRat(new(big.Rat).Mul(borrowedPrice, new(big.Rat).SetInt(accruedBorrowed)))

	// healthFactor = totalCollateral * threshold / totalBorrowed, liquidatable
	// only below 1. A position with no debt is always healthy.
	weighted := applyBps(totalCollateral, collateralPool.LiquidationThresholdBps)
	if totalBorrowed.Sign() == 0 || weighted.Cmp(totalBorrowed) >= 0 {
		return nil, nil, ErrNotUnderCollateralized
	}

	liquidationAmount := applyBps(totalBorrowed, borrowedPool.LiquidationCloseFactorBps)
	payout := new(big.Int).Mul(liquidationAmount, new(big.Int).SetUint64(10_000+collateralPool.LiquidationBonusBps))
	payout.Quo(payout, basisPoints)
	if err := checkAmount(liquidationAmount); err != nil {
		return nil, nil, err
	}
	if err := checkAmount(payout); err != nil {
		return nil, nil, err
	}

	if err := e.transfer(e.userAccount(borrowedPool, liquidator), e.reserveAccount(borrowedPool), liquidationAmount, borrowedPool.Decimals, token.Authorization{Signer: liquidator}); err != nil {
		return nil, nil, err
	}
	if err := e.transfer(e.reserveAccount(collateralPool), e.userAccount(collateralPool, liquidator), payout, collateralPool.Decimals, token.Authorization{Signer: collateralPool.Authority}); err != nil {
		return nil, nil, err
	}

	// Debit the liquidated position symmetrically with the two transfers.
	repaidDebt := clampBig(liquidationAmount, borrowedLeg.BorrowAmount)
	var repaidShares *big.Int
	if borrowedPool.TotalBorrows.Sign() > 0 {
		repaidShares, err = sharesForAmount(borrowedPool.TotalBorrowShares, repaidDebt, borrowedPool.TotalBorrows)
		if err != nil {
			return nil, nil, err
		}
	} else {
		repaidShares = big.NewInt(0)
	}
	repaidShares = clampBig(repaidShares, borrowedLeg.BorrowShares)

	seizedDeposit := clampBig(payout, collateralLeg.DepositAmount)
	var seizedShares *big.Int
	if collateralPool.TotalDeposits.Sign() > 0 {
		seizedShares, err = sharesForAmount(collateralPool.TotalDepositShares, seizedDeposit, collateralPool.TotalDeposits)
		if err != nil {
			return nil, nil, err
		}
	} else {
		seizedShares = big.NewInt(0)
	}
	seizedShares = clampBig(seizedShares, collateralLeg.DepositShares)

	borrowedLeg.BorrowAmount = new(big.Int).Sub(borrowedLeg.BorrowAmount, repaidDebt)
	borrowedLeg.BorrowShares = new(big.Int).Sub(borrowedLeg.BorrowShares, repaidShares)
	borrowedPool.TotalBorrows = new(big.Int).Sub(borrowedPool.TotalBorrows, clampBig(repaidDebt, borrowedPool.TotalBorrows))
	borrowedPool.TotalBorrowShares = new(big.Int).Sub(borrowedPool.TotalBorrowShares, repaidShares)

	collateralLeg.DepositAmount = new(big.Int).Sub(collateralLeg.DepositAmount, seizedDeposit)
	collateralLeg.DepositShares = new(big.Int).Sub(collateralLeg.DepositShares, seizedShares)
	collateralPool.TotalDeposits = new(big.Int).Sub(collateralPool.TotalDeposits, clampBig(seizedDeposit, collateralPool.TotalDeposits))
	collateralPool.TotalDepositShares = new(big.Int).Sub(collateralPool.TotalDepositShares, seizedShares)

	if err := e.state.PutPosition(position); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutPool(borrowedPool); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutPool(collateralPool); err != nil {
		return nil, nil, err
	}

	return liquidationAmount, payout, nil
}

func (e *Engine) loadLedgers(owner crypto.Address, asset AssetClass, amount *big.Int) (*AssetPool, *Position, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if err := checkAmount(amount); err != nil {
		return nil, nil, err
	}
	pool, err := e.loadPool(asset)
	if err != nil {
		return nil, nil, err
	}
	position, err := e.loadPosition(owner)
	if err != nil {
		return nil, nil, err
	}
	return pool, position, nil
}

func (e *Engine) loadPool(asset AssetClass) (*AssetPool, error) {
	pool, err := e.state.GetPool(asset)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, asset)
	}
	pool.ensureDefaults()
	return pool, nil
}

func (e *Engine) loadPosition(owner crypto.Address) (*Position, error) {
	position, err := e.state.GetPosition(owner)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, owner)
	}
	position.ensureDefaults()
	return position, nil
}

func (e *Engine) userAccount(pool *AssetPool, holder crypto.Address) token.AccountRef {
	return token.AccountRef{Holder: holder, Denom: pool.Denom}
}

func (e *Engine) reserveAccount(pool *AssetPool) token.AccountRef {
	return token.AccountRef{Holder: pool.ReserveAddress, Denom: pool.Denom}
}

func (e *Engine) transfer(from, to token.AccountRef, amount *big.Int, decimals uint8, auth token.Authorization) error {
	if e.transfers == nil {
		return errNilTransfer
	}
	if err := e.transfers.Transfer(from, to, amount, decimals, auth); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferRejected, err)
	}
	return nil
}
