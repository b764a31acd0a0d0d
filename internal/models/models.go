package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType classifies an account at opening time.
type AccountType string

const (
	AccountTypeSaving  AccountType = "Saving"
	AccountTypeCurrent AccountType = "Current"
	AccountTypeFixed   AccountType = "Fixed"
)

// ValidAccountType reports whether t is one of the supported account types.
func ValidAccountType(t AccountType) bool {
	switch t {
	case AccountTypeSaving, AccountTypeCurrent, AccountTypeFixed:
		return true
	}
	return false
}

// TransactionType names the effect a transaction had on its account.
// Amount is always a positive magnitude; the type implies the sign.
type TransactionType string

const (
	TypeDeposit   TransactionType = "Deposit"
	TypeWithdraw  TransactionType = "Withdraw"
	TypeTransfer  TransactionType = "Transfer"
	TypeLoan      TransactionType = "Loan"
	TypeRepayment TransactionType = "Repayment"
)

// AccountNumberBase is the offset added to the account sequence to form the
// customer-facing account number.
const AccountNumberBase = 2024000

type Account struct {
	ID            string          `json:"id"`
	AccountNumber int64           `json:"account_number"`
	AccountType   AccountType     `json:"account_type"`
	Balance       decimal.Decimal `json:"balance"`
	OpenedDate    time.Time       `json:"opened_date"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Transaction is an append-only ledger row. Rows are never rewritten after
// creation except by the loan lifecycle: approval sets LoanApproved and the
// credited BalanceAfter, repayment sets LoanRepaid.
type Transaction struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	Amount       decimal.Decimal `json:"amount"`
	Type         TransactionType `json:"type"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Timestamp    time.Time       `json:"timestamp"`
	LoanApproved bool            `json:"loan_approved"`
	LoanRepaid   bool            `json:"loan_repaid"`
	// CounterpartNumber is the other account's number on transfer legs,
	// zero for every other type.
	CounterpartNumber int64 `json:"counterpart_number,omitempty"`
}

// Report is the result of a transaction report query. PeriodBalance is the
// account balance at the end of the requested range, or the live balance
// when no range was given.
type Report struct {
	AccountID     string          `json:"account_id"`
	Transactions  []*Transaction  `json:"transactions"`
	PeriodBalance decimal.Decimal `json:"period_balance"`
}

type OpenAccountRequest struct {
	AccountType AccountType `json:"account_type"`
}

type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type TransferRequest struct {
	ToAccountNumber int64           `json:"to_account_number"`
	Amount          decimal.Decimal `json:"amount"`
}

type AccountResponse struct {
	ID            string          `json:"id"`
	AccountNumber int64           `json:"account_number"`
	AccountType   AccountType     `json:"account_type"`
	Balance       decimal.Decimal `json:"balance"`
	OpenedDate    time.Time       `json:"opened_date"`
}

type TransferResponse struct {
	Debit  *Transaction `json:"debit"`
	Credit *Transaction `json:"credit"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
