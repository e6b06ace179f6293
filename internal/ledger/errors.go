package ledger

import "errors"

// Every failure returned by the engine wraps exactly one of these, and none
// of them leaves the stored portfolio modified.
var (
	InvalidQuantityError    = errors.New("invalid quantity")
	InvalidSymbolError      = errors.New("invalid symbol")
	InvalidUserError        = errors.New("invalid user id")
	InsufficientFundsError  = errors.New("insufficient funds for this transaction")
	NoPositionError         = errors.New("no position")
	InsufficientSharesError = errors.New("insufficient shares")
	StoreUnavailableError   = errors.New("portfolio store unavailable")
)

// IsRejection reports whether err is a business rule rejection rather than
// an infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, InvalidQuantityError) ||
		errors.Is(err, InvalidSymbolError) ||
		errors.Is(err, InvalidUserError) ||
		errors.Is(err, InsufficientFundsError) ||
		errors.Is(err, NoPositionError) ||
		errors.Is(err, InsufficientSharesError)
}
