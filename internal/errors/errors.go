package errors

import (
	"errors"
	"fmt"
)

// Domain error taxonomy for the ledger core. Validation failures are
// terminal for the request; only ErrStoreUnavailable and
// ErrConcurrencyConflict are safe to retry.
var (
	ErrAmountOutOfRange    = errors.New("amount out of range")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrUnknownAccount      = errors.New("unknown account")
	ErrUnknownLoan         = errors.New("unknown loan transaction")
	ErrLoanLimitExceeded   = errors.New("open loan limit exceeded")
	ErrLoanNotApproved     = errors.New("loan is not approved")
	ErrLoanAlreadyApproved = errors.New("loan is already approved")
	ErrLoanAlreadyRepaid   = errors.New("loan is already repaid")
	ErrStoreUnavailable    = errors.New("ledger store unavailable")
	ErrConcurrencyConflict = errors.New("concurrent update conflict")

	ErrSameAccount          = errors.New("counterpart account must differ from the actor account")
	ErrAccountAlreadyExists = errors.New("account already exists")
	ErrInvalidAccountType   = errors.New("invalid account type")
	ErrInvalidAmount        = errors.New("amount must be positive")
)

// StoreError wraps an infrastructure failure raised by a ledger store
// operation, keeping the failing operation name for logging.
type StoreError struct {
	Operation string
	Cause     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during '%s': %v", e.Operation, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

func NewStoreError(operation string, cause error) error {
	return &StoreError{
		Operation: operation,
		Cause:     cause,
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// IsRetryable reports whether the request may be retried as-is. Every other
// failure is terminal and must be surfaced to the caller verbatim.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrConcurrencyConflict)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownAccount) || errors.Is(err, ErrUnknownLoan)
}

func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

func IsAmountOutOfRange(err error) bool {
	return errors.Is(err, ErrAmountOutOfRange)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAccountAlreadyExists)
}
