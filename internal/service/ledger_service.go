package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/junaaid96/bank-ledger/internal/errors"
	"github.com/junaaid96/bank-ledger/internal/models"
	"github.com/junaaid96/bank-ledger/internal/rules"
	"github.com/junaaid96/bank-ledger/internal/store"
)

// LedgerService is the money-movement API. Every operation validates against
// the account state observed inside the store's critical section and either
// commits balance change plus ledger row as one unit, or leaves no trace.
type LedgerService interface {
	Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Transaction, error)
	Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Transaction, error)
	Transfer(ctx context.Context, fromAccountID string, toAccountNumber int64, amount decimal.Decimal) (*models.Transaction, *models.Transaction, error)
	RequestLoan(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Transaction, error)
	ApproveLoan(ctx context.Context, transactionID string) (*models.Transaction, error)
	RepayLoan(ctx context.Context, transactionID string) (*models.Transaction, error)
	Report(ctx context.Context, accountID string, from, to *time.Time) (*models.Report, error)
}

type LedgerServiceImpl struct {
	store    store.Store
	policy   rules.Policy
	notifier Notifier
	logger   *slog.Logger
}

func NewLedgerService(st store.Store, policy rules.Policy, notifier Notifier, logger *slog.Logger) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		store:    st,
		policy:   policy,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *LedgerServiceImpl) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Transaction, error) {
	row, err := s.store.Apply(ctx, accountID, func(tx store.Tx) (*models.Transaction, error) {
		acct := tx.Account()
		if err := s.policy.ValidateDeposit(amount); err != nil {
			return nil, err
		}
		newBalance := acct.Balance.Add(amount)
		if err := tx.SetBalance(newBalance); err != nil {
			return nil, err
		}
		return tx.Append(&models.Transaction{
			Amount:       amount,
			Type:         models.TypeDeposit,
			BalanceAfter: newBalance,
		})
	})
	if err != nil {
		s.logger.Warn("deposit rejected",
			"account_id", accountID,
			"amount", amount.String(),
			"error", err.Error(),
		)
		return nil, err
	}

	s.logger.Info("deposit applied",
		"account_id", accountID,
		"amount", amount.String(),
		"balance_after", row.BalanceAfter.String(),
	)
	s.notify(ctx, accountID, models.TypeDeposit, amount)
	return row, nil
}

func (s *LedgerServiceImpl) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Transaction, error) {
	row, err := s.store.Apply(ctx, accountID, func(tx store.Tx) (*models.Transaction, error) {
		acct := tx.Account()
		if err := s.policy.ValidateWithdraw(acct.Balance, amount); err != nil {
			return nil, err
		}
		newBalance := acct.Balance.Sub(amount)
		if err := tx.SetBalance(newBalance); err != nil {
			return nil, err
		}
		return tx.Append(&models.Transaction{
			Amount:       amount,
			Type:         models.TypeWithdraw,
			BalanceAfter: newBalance,
		})
	})
	if err != nil {
		s.logger.Warn("withdrawal rejected",
			"account_id", accountID,
			"amount", amount.String(),
			"error", err.Error(),
		)
		return nil, err
	}

	s.logger.Info("withdrawal applied",
		"account_id", accountID,
		"amount", amount.String(),
		"balance_after", row.BalanceAfter.String(),
	)
	s.notify(ctx, accountID, models.TypeWithdraw, amount)
	return row, nil
}

// Transfer moves amount from the actor account to the account addressed by
// number. Both legs commit atomically; a failure anywhere applies neither.
func (s *LedgerServiceImpl) Transfer(ctx context.Context, fromAccountID string, toAccountNumber int64, amount decimal.Decimal) (*models.Transaction, *models.Transaction, error) {
	receiver, err := s.store.GetAccountByNumber(ctx, toAccountNumber)
	if err != nil {
		s.logger.Warn("transfer receiver not found",
			"from_account_id", fromAccountID,
			"to_account_number", toAccountNumber,
		)
		return nil, nil, err
	}
	if receiver.ID == fromAccountID {
		return nil, nil, errors.ErrSameAccount
	}

	debitRow, creditRow, err := s.store.ApplyPair(ctx, fromAccountID, receiver.ID,
		func(debit, credit store.Tx) (*models.Transaction, *models.Transaction, error) {
			sender := debit.Account()
			if err := s.policy.ValidateTransfer(sender.Balance, amount); err != nil {
				return nil, nil, err
			}

			senderBalance := sender.Balance.Sub(amount)
			if err := debit.SetBalance(senderBalance); err != nil {
				return nil, nil, err
			}
			out, err := debit.Append(&models.Transaction{
				Amount:            amount,
				Type:              models.TypeTransfer,
				BalanceAfter:      senderBalance,
				CounterpartNumber: toAccountNumber,
			})
			if err != nil {
				return nil, nil, err
			}

			receiverBalance := credit.Account().Balance.Add(amount)
			if err := credit.SetBalance(receiverBalance); err != nil {
				return nil, nil, err
			}
			in, err := credit.Append(&models.Transaction{
				Amount:            amount,
				Type:              models.TypeTransfer,
				BalanceAfter:      receiverBalance,
				CounterpartNumber: sender.AccountNumber,
			})
			if err != nil {
				return nil, nil, err
			}
			return out, in, nil
		})
	if err != nil {
		s.logger.Warn("transfer rejected",
			"from_account_id", fromAccountID,
			"to_account_number", toAccountNumber,
			"amount", amount.String(),
			"error", err.Error(),
		)
		return nil, nil, err
	}

	s.logger.Info("transfer applied",
		"from_account_id", fromAccountID,
		"to_account_id", receiver.ID,
		"amount", amount.String(),
	)
	s.notify(ctx, fromAccountID, models.TypeTransfer, amount)
	s.notify(ctx, receiver.ID, models.TypeTransfer, amount)
	return debitRow, creditRow, nil
}

// RequestLoan records a pending loan. The balance is untouched until an
// approval credits it.
func (s *LedgerServiceImpl) RequestLoan(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Transaction, error) {
	row, err := s.store.Apply(ctx, accountID, func(tx store.Tx) (*models.Transaction, error) {
		acct := tx.Account()
		openLoans, err := tx.OpenLoanCount()
		if err != nil {
			return nil, err
		}
		if err := s.policy.ValidateLoanRequest(acct.Balance, amount, openLoans); err != nil {
			return nil, err
		}
		return tx.Append(&models.Transaction{
			Amount:       amount,
			Type:         models.TypeLoan,
			BalanceAfter: acct.Balance,
		})
	})
	if err != nil {
		s.logger.Warn("loan request rejected",
			"account_id", accountID,
			"amount", amount.String(),
			"error", err.Error(),
		)
		return nil, err
	}

	s.logger.Info("loan requested",
		"account_id", accountID,
		"transaction_id", row.ID,
		"amount", amount.String(),
	)
	s.notify(ctx, accountID, models.TypeLoan, amount)
	return row, nil
}

// ApproveLoan is the admin action: it flips the approval flag and credits
// the account in one atomic step, through the same store contract as every
// customer-facing operation.
func (s *LedgerServiceImpl) ApproveLoan(ctx context.Context, transactionID string) (*models.Transaction, error) {
	seed, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if seed.Type != models.TypeLoan {
		return nil, errors.ErrUnknownLoan
	}

	row, err := s.store.Apply(ctx, seed.AccountID, func(tx store.Tx) (*models.Transaction, error) {
		loan, err := tx.Loan(transactionID)
		if err != nil {
			return nil, err
		}
		if loan.Type != models.TypeLoan {
			return nil, errors.ErrUnknownLoan
		}
		if loan.LoanApproved {
			return nil, errors.ErrLoanAlreadyApproved
		}
		if loan.LoanRepaid {
			return nil, errors.ErrLoanAlreadyRepaid
		}

		newBalance := tx.Account().Balance.Add(loan.Amount)
		if err := tx.SetBalance(newBalance); err != nil {
			return nil, err
		}
		if err := tx.SetLoanApproved(transactionID, newBalance); err != nil {
			return nil, err
		}

		loan.LoanApproved = true
		loan.BalanceAfter = newBalance
		return loan, nil
	})
	if err != nil {
		s.logger.Warn("loan approval rejected",
			"transaction_id", transactionID,
			"error", err.Error(),
		)
		return nil, err
	}

	s.logger.Info("loan approved",
		"account_id", row.AccountID,
		"transaction_id", transactionID,
		"amount", row.Amount.String(),
	)
	s.notify(ctx, row.AccountID, models.TypeLoan, row.Amount)
	return row, nil
}

// RepayLoan debits the loan's original amount, marks the loan row repaid,
// and appends the Repayment row, all in one atomic step.
func (s *LedgerServiceImpl) RepayLoan(ctx context.Context, transactionID string) (*models.Transaction, error) {
	seed, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if seed.Type != models.TypeLoan {
		return nil, errors.ErrUnknownLoan
	}

	row, err := s.store.Apply(ctx, seed.AccountID, func(tx store.Tx) (*models.Transaction, error) {
		loan, err := tx.Loan(transactionID)
		if err != nil {
			return nil, err
		}
		acct := tx.Account()
		if err := s.policy.ValidateRepayment(loan, acct.Balance); err != nil {
			return nil, err
		}

		newBalance := acct.Balance.Sub(loan.Amount)
		if err := tx.SetBalance(newBalance); err != nil {
			return nil, err
		}
		if err := tx.SetLoanRepaid(transactionID); err != nil {
			return nil, err
		}
		return tx.Append(&models.Transaction{
			Amount:       loan.Amount,
			Type:         models.TypeRepayment,
			BalanceAfter: newBalance,
		})
	})
	if err != nil {
		s.logger.Warn("loan repayment rejected",
			"transaction_id", transactionID,
			"error", err.Error(),
		)
		return nil, err
	}

	s.logger.Info("loan repaid",
		"account_id", row.AccountID,
		"loan_transaction_id", transactionID,
		"amount", row.Amount.String(),
	)
	s.notify(ctx, row.AccountID, models.TypeRepayment, row.Amount)
	return row, nil
}

// Report returns the account's rows, optionally bounded by an inclusive
// timestamp range, together with the balance at the end of the period.
func (s *LedgerServiceImpl) Report(ctx context.Context, accountID string, from, to *time.Time) (*models.Report, error) {
	transactions, err := s.store.ListTransactions(ctx, accountID, from, to)
	if err != nil {
		s.logger.Warn("report failed",
			"account_id", accountID,
			"error", err.Error(),
		)
		return nil, err
	}

	report := &models.Report{
		AccountID:    accountID,
		Transactions: transactions,
	}
	if from == nil && to == nil {
		acct, err := s.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		report.PeriodBalance = acct.Balance
	} else if len(transactions) > 0 {
		report.PeriodBalance = transactions[len(transactions)-1].BalanceAfter
	}
	return report, nil
}

// notify informs the collaborator after a committed mutation. A notifier
// failure is logged and dropped; it can never unwind the mutation.
func (s *LedgerServiceImpl) notify(ctx context.Context, accountID string, kind models.TransactionType, amount decimal.Decimal) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, accountID, kind, amount); err != nil {
		s.logger.Error("notification failed",
			"account_id", accountID,
			"kind", string(kind),
			"error", err.Error(),
		)
	}
}
