package lending

import "errors"

// Operation failures surface as one of these kinds. Every failure aborts the
// whole operation: no ledger mutation is committed alongside an error.
var (
	ErrInvalidAmount          = errors.New("lending: amount must be positive")
	ErrPoolExists             = errors.New("lending: pool already initialised for asset")
	ErrPoolNotFound           = errors.New("lending: pool not initialised for asset")
	ErrPositionExists         = errors.New("lending: position already initialised for owner")
	ErrPositionNotFound       = errors.New("lending: position not initialised for owner")
	ErrInsufficientFunds      = errors.New("lending: insufficient funds")
	ErrOverBorrowableAmount   = errors.New("lending: amount exceeds borrowable limit")
	ErrRepayExceedsOwed       = errors.New("lending: repay exceeds outstanding debt")
	ErrNotUnderCollateralized = errors.New("lending: position is not under-collateralized")
	ErrTransferRejected       = errors.New("lending: token transfer rejected")
	ErrArithmeticOverflow     = errors.New("lending: amount outside 64-bit ledger range")
	ErrDivisionByZero         = errors.New("lending: division by zero principal or share total")
)

var (
	errNilState    = errors.New("lending: state not configured")
	errNilOracle   = errors.New("lending: price source not configured")
	errNilTransfer = errors.New("lending: transfer service not configured")
)
