package token

import (
	"fmt"
	"math/big"

	"lendex/crypto"
)

// VaultLedger is an in-memory token custody ledger. Pool reserve accounts are
// registered with the pool authority allowed to debit them; every other
// account is controlled by its holder. Accounts are created on first credit
// so a receiver never needs prior setup.
//
// The ledger performs no internal locking: the surrounding execution
// environment serializes operations against it.
type VaultLedger struct {
	balances    map[string]*big.Int
	authorities map[string]crypto.Address
}

func NewVaultLedger() *VaultLedger {
	return &VaultLedger{
		balances:    make(map[string]*big.Int),
		authorities: make(map[string]crypto.Address),
	}
}

// RegisterReserve records the signing authority for a pool reserve address.
// Debits from the reserve are honoured only when the presented authorization
// matches this authority.
func (v *VaultLedger) RegisterReserve(reserve, authority crypto.Address) {
	if v == nil {
		return
	}
	v.authorities[string(reserve.Bytes())] = authority
}

// Credit mints amount into the account, creating it when absent. Used to seed
// balances in tests and tooling.
func (v *VaultLedger) Credit(account AccountRef, amount *big.Int) {
	if v == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	balance, ok := v.balances[account.key()]
	if !ok {
		balance = big.NewInt(0)
	}
	v.balances[account.key()] = new(big.Int).Add(balance, amount)
}

// Balance returns the current balance of the account, zero when absent.
func (v *VaultLedger) Balance(account AccountRef) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	balance, ok := v.balances[account.key()]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balance)
}

// Transfer implements Service.
func (v *VaultLedger) Transfer(from, to AccountRef, amount *big.Int, decimals uint8, auth Authorization) error {
	if v == nil {
		return ErrUnknownAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive amount", ErrInsufficientBalance)
	}
	if err := v.authorize(from, auth); err != nil {
		return err
	}
	balance, ok := v.balances[from.key()]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownAccount, from.Holder, from.Denom)
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s %s", ErrInsufficientBalance, balance, amount, from.Denom)
	}

	v.balances[from.key()] = new(big.Int).Sub(balance, amount)
	dest, ok := v.balances[to.key()]
	if !ok {
		dest = big.NewInt(0)
	}
	v.balances[to.key()] = new(big.Int).Add(dest, amount)
	return nil
}

func (v *VaultLedger) authorize(from AccountRef, auth Authorization) error {
	if from.Holder.Prefix() == crypto.PoolPrefix {
		authority, ok := v.authorities[string(from.Holder.Bytes())]
		if !ok || !authority.Equal(auth.Signer) {
			return fmt.Errorf("%w: reserve %s", ErrUnauthorized, from.Holder)
		}
		return nil
	}
	if !from.Holder.Equal(auth.Signer) {
		return fmt.Errorf("%w: account %s", ErrUnauthorized, from.Holder)
	}
	return nil
}
