// Package rules is the validation core: pure functions that accept or reject
// a proposed operation given the account state observed inside the store's
// critical section. Nothing here mutates state or touches storage.
package rules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/junaaid96/bank-ledger/internal/errors"
	"github.com/junaaid96/bank-ledger/internal/models"
)

// Policy carries the configurable business limits applied by the validators.
type Policy struct {
	MinDeposit    decimal.Decimal
	MaxDeposit    decimal.Decimal
	MinWithdraw   decimal.Decimal
	MaxWithdraw   decimal.Decimal
	MinTransfer   decimal.Decimal
	MinLoanFactor decimal.Decimal
	MaxLoanFactor decimal.Decimal
	MaxOpenLoans  int
}

// DefaultPolicy returns the stock retail limits: deposits of 100 to 100000,
// withdrawals of 500 to 50000, transfers of at least 10, loans between 10%
// and 50% of the current balance, and at most 3 unpaid loans per account.
func DefaultPolicy() Policy {
	return Policy{
		MinDeposit:    decimal.NewFromInt(100),
		MaxDeposit:    decimal.NewFromInt(100000),
		MinWithdraw:   decimal.NewFromInt(500),
		MaxWithdraw:   decimal.NewFromInt(50000),
		MinTransfer:   decimal.NewFromInt(10),
		MinLoanFactor: decimal.NewFromFloat(0.1),
		MaxLoanFactor: decimal.NewFromFloat(0.5),
		MaxOpenLoans:  3,
	}
}

// ValidateDeposit accepts amounts within the configured deposit bounds.
func (p Policy) ValidateDeposit(amount decimal.Decimal) error {
	if amount.Cmp(p.MinDeposit) < 0 || amount.Cmp(p.MaxDeposit) > 0 {
		return fmt.Errorf("%w: deposit must be between %s and %s",
			errors.ErrAmountOutOfRange, p.MinDeposit, p.MaxDeposit)
	}
	return nil
}

// ValidateWithdraw accepts amounts within the withdrawal bounds that do not
// exceed the current balance.
func (p Policy) ValidateWithdraw(balance, amount decimal.Decimal) error {
	if amount.Cmp(p.MinWithdraw) < 0 || amount.Cmp(p.MaxWithdraw) > 0 {
		return fmt.Errorf("%w: withdrawal must be between %s and %s",
			errors.ErrAmountOutOfRange, p.MinWithdraw, p.MaxWithdraw)
	}
	if amount.Cmp(balance) > 0 {
		return fmt.Errorf("%w: balance is %s", errors.ErrInsufficientFunds, balance)
	}
	return nil
}

// ValidateTransfer accepts amounts of at least the transfer minimum that do
// not exceed the sender's balance. Resolution of the receiver account is the
// store's concern, not a rule.
func (p Policy) ValidateTransfer(senderBalance, amount decimal.Decimal) error {
	if amount.Cmp(p.MinTransfer) < 0 {
		return fmt.Errorf("%w: transfer must be at least %s",
			errors.ErrAmountOutOfRange, p.MinTransfer)
	}
	if amount.Cmp(senderBalance) > 0 {
		return fmt.Errorf("%w: balance is %s", errors.ErrInsufficientFunds, senderBalance)
	}
	return nil
}

// ValidateLoanRequest accepts loan amounts within the factor bounds of the
// current balance, provided the account holds fewer than MaxOpenLoans loans
// that are not yet repaid.
func (p Policy) ValidateLoanRequest(balance, amount decimal.Decimal, openLoans int) error {
	if openLoans >= p.MaxOpenLoans {
		return fmt.Errorf("%w: %d loans outstanding, limit is %d",
			errors.ErrLoanLimitExceeded, openLoans, p.MaxOpenLoans)
	}
	minLoan := balance.Mul(p.MinLoanFactor)
	maxLoan := balance.Mul(p.MaxLoanFactor)
	if amount.Cmp(minLoan) < 0 || amount.Cmp(maxLoan) > 0 {
		return fmt.Errorf("%w: loan must be between %s and %s",
			errors.ErrAmountOutOfRange, minLoan, maxLoan)
	}
	return nil
}

// ValidateRepayment accepts repayment of a loan transaction that is approved,
// not yet repaid, and whose original amount is covered by the balance.
func (p Policy) ValidateRepayment(loan *models.Transaction, balance decimal.Decimal) error {
	if loan.Type != models.TypeLoan {
		return errors.ErrUnknownLoan
	}
	if !loan.LoanApproved {
		return errors.ErrLoanNotApproved
	}
	if loan.LoanRepaid {
		return errors.ErrLoanAlreadyRepaid
	}
	if loan.Amount.Cmp(balance) > 0 {
		return fmt.Errorf("%w: balance is %s, loan amount is %s",
			errors.ErrInsufficientFunds, balance, loan.Amount)
	}
	return nil
}
