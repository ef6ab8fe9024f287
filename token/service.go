package token

import (
	"errors"
	"math/big"

	"lendex/crypto"
)

var (
	// ErrInsufficientBalance is returned when the funding account does not
	// hold enough of the denomination to cover the transfer.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrUnauthorized is returned when the presented authorization does not
	// match the funding account's owner or registered reserve authority.
	ErrUnauthorized = errors.New("token: transfer not authorized")
	// ErrUnknownAccount is returned when the funding account has never been
	// credited.
	ErrUnknownAccount = errors.New("token: unknown account")
)

// AccountRef addresses a custodied token account: one holder can hold one
// account per denomination.
type AccountRef struct {
	Holder crypto.Address
	Denom  string
}

func (r AccountRef) key() string {
	return string(r.Holder.Prefix()) + "/" + string(r.Holder.Bytes()) + "/" + r.Denom
}

// Authorization proves the right to debit the funding account. User-held
// accounts are debited under the owner's own identity; pool reserve accounts
// are debited under the authority registered for that reserve.
type Authorization struct {
	Signer crypto.Address
}

// Service moves custodied tokens between accounts under an authorization
// proof. Implementations must be all-or-nothing: a failed transfer leaves
// both accounts untouched.
type Service interface {
	Transfer(from, to AccountRef, amount *big.Int, decimals uint8, auth Authorization) error
}
