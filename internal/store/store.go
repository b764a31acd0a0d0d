// Package store provides durable storage for accounts and their append-only
// transaction ledger. Every balance change goes through Apply or ApplyPair,
// which guarantee that the read-validate-write-append sequence for an
// account executes under that account's exclusive guard.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/junaaid96/bank-ledger/internal/models"
)

// Tx is the view of one account handed to a mutation while the account's
// guard is held. It is only valid for the duration of the mutation call.
type Tx interface {
	// Account returns the snapshot observed inside the critical section.
	// Mutations must validate against this value, never a stale read.
	Account() *models.Account
	// OpenLoanCount returns the number of loan transactions for this
	// account that have not been repaid.
	OpenLoanCount() (int, error)
	// Loan fetches a transaction owned by this account, for the loan
	// approval and repayment paths.
	Loan(transactionID string) (*models.Transaction, error)
	// SetBalance stages the account's new balance.
	SetBalance(balance decimal.Decimal) error
	// Append stages a new ledger row. ID and Timestamp are assigned by the
	// store; the returned row carries them.
	Append(t *models.Transaction) (*models.Transaction, error)
	// SetLoanApproved stages the approval flag and the credited
	// balance-after snapshot on an existing loan row.
	SetLoanApproved(transactionID string, balanceAfter decimal.Decimal) error
	// SetLoanRepaid stages the repaid flag on an existing loan row.
	SetLoanRepaid(transactionID string) error
}

// Mutation runs inside one account's critical section and returns the
// transaction to hand back to the caller. Returning an error discards every
// staged change.
type Mutation func(tx Tx) (*models.Transaction, error)

// PairMutation runs inside the critical sections of two accounts, debit
// side first.
type PairMutation func(debit, credit Tx) (*models.Transaction, *models.Transaction, error)

// Store is the ledger store contract. Implementations guarantee serializable
// execution per account and atomicity of everything staged by a mutation:
// either the balance write, appended rows, and flag updates all commit, or
// none do.
type Store interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetAccountByNumber(ctx context.Context, number int64) (*models.Account, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	// ListTransactions returns the account's rows in append order,
	// optionally bounded by an inclusive timestamp range.
	ListTransactions(ctx context.Context, accountID string, from, to *time.Time) ([]*models.Transaction, error)

	// Apply runs fn under the account's exclusive guard.
	Apply(ctx context.Context, accountID string, fn Mutation) (*models.Transaction, error)
	// ApplyPair runs fn under both accounts' guards, acquired in a globally
	// consistent order so that opposite-direction pairs cannot deadlock.
	ApplyPair(ctx context.Context, debitAccountID, creditAccountID string, fn PairMutation) (*models.Transaction, *models.Transaction, error)
}
