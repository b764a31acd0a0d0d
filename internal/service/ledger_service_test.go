package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junaaid96/bank-ledger/internal/errors"
	"github.com/junaaid96/bank-ledger/internal/models"
	"github.com/junaaid96/bank-ledger/internal/rules"
	"github.com/junaaid96/bank-ledger/internal/store"
)

type notification struct {
	accountID string
	kind      models.TransactionType
	amount    decimal.Decimal
}

// recordingNotifier captures notifications; fail makes every delivery error.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
	fail bool
}

func (n *recordingNotifier) Notify(ctx context.Context, accountID string, kind models.TransactionType, amount decimal.Decimal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{accountID: accountID, kind: kind, amount: amount})
	if n.fail {
		return errors.ErrStoreUnavailable
	}
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fixture struct {
	store    *store.MemoryStore
	ledger   *LedgerServiceImpl
	accounts *AccountServiceImpl
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	return &fixture{
		store:    st,
		ledger:   NewLedgerService(st, rules.DefaultPolicy(), notifier, logger),
		accounts: NewAccountService(st, logger),
		notifier: notifier,
	}
}

// openWithBalance opens an account and funds it through a regular deposit.
func (f *fixture) openWithBalance(t *testing.T, balance int64) *models.Account {
	t.Helper()
	account, err := f.accounts.OpenAccount(context.Background(), &models.OpenAccountRequest{
		AccountType: models.AccountTypeSaving,
	})
	require.NoError(t, err)
	if balance > 0 {
		_, err = f.ledger.Deposit(context.Background(), account.ID, decimal.NewFromInt(balance))
		require.NoError(t, err)
	}
	got, err := f.accounts.GetAccount(context.Background(), account.ID)
	require.NoError(t, err)
	return got
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDepositAppendsMatchingRow(t *testing.T) {
	f := newFixture(t)
	account := f.openWithBalance(t, 0)

	row, err := f.ledger.Deposit(context.Background(), account.ID, dec("250.75"))
	require.NoError(t, err)
	assert.Equal(t, models.TypeDeposit, row.Type)
	assert.True(t, row.Amount.Equal(dec("250.75")))
	assert.True(t, row.BalanceAfter.Equal(dec("250.75")))
	assert.NotEmpty(t, row.ID)

	got, err := f.accounts.GetAccount(context.Background(), account.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(row.BalanceAfter))
}

func TestDepositOutOfRangeWritesNothing(t *testing.T) {
	f := newFixture(t)
	account := f.openWithBalance(t, 0)

	_, err := f.ledger.Deposit(context.Background(), account.ID, dec("99.99"))
	require.ErrorIs(t, err, errors.ErrAmountOutOfRange)

	report, err := f.ledger.Report(context.Background(), account.ID, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Transactions)
	assert.True(t, report.PeriodBalance.IsZero())
}

// The §8 walk: balance 1000, withdraw 500 succeeds leaving 500, withdrawing
// 600 then fails with insufficient funds and changes nothing.
func TestWithdrawScenario(t *testing.T) {
	f := newFixture(t)
	account := f.openWithBalance(t, 1000)

	row, err := f.ledger.Withdraw(context.Background(), account.ID, dec("500.00"))
	require.NoError(t, err)
	assert.Equal(t, models.TypeWithdraw, row.Type)
	assert.True(t, row.Amount.Equal(dec("500.00")))
	assert.True(t, row.BalanceAfter.Equal(dec("500.00")))

	_, err = f.ledger.Withdraw(context.Background(), account.ID, dec("600.00"))
	require.ErrorIs(t, err, errors.ErrInsufficientFunds)

	got, err := f.accounts.GetAccount(context.Background(), account.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("500.00")))

	report, err := f.ledger.Report(context.Background(), account.ID, nil, nil)
	require.NoError(t, err)
	assert.Len(t, report.Transactions, 2) // deposit + one withdrawal
}

// After any sequence of successful operations, balance equals the last
// row's balance-after snapshot and the signed sum of applied amounts.
func TestBalanceEqualsLastBalanceAfter(t *testing.T) {
	f := newFixture(t)
	account := f.openWithBalance(t, 0)
	ctx := context.Background()

	_, err := f.ledger.Deposit(ctx, account.ID, dec("4000"))
	require.NoError(t, err)
	_, err = f.ledger.Withdraw(ctx, account.ID, dec("1500"))
	require.NoError(t, err)
	_, err = f.ledger.Deposit(ctx, account.ID, dec("300.50"))
	require.NoError(t, err)
	_, err = f.ledger.Withdraw(ctx, account.ID, dec("800.25"))
	require.NoError(t, err)

	want := dec("4000").Sub(dec("1500")).Add(dec("300.50")).Sub(dec("800.25"))

	got, err := f.accounts.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(want), "balance %s", got.Balance)

	report, err := f.ledger.Report(ctx, account.ID, nil, nil)
	require.NoError(t, err)
	last := report.Transactions[len(report.Transactions)-1]
	assert.True(t, got.Balance.Equal(last.BalanceAfter))
}

func TestConcurrentDepositsThroughService(t *testing.T) {
	f := newFixture(t)
	account := f.openWithBalance(t, 0)

	const workers = 40
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Deposit(context.Background(), account.ID, decimal.NewFromInt(100))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.accounts.GetAccount(context.Background(), account.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(workers*100)))

	report, err := f.ledger.Report(context.Background(), account.ID, nil, nil)
	require.NoError(t, err)
	assert.Len(t, report.Transactions, workers)
}

func TestTransferScenario(t *testing.T) {
	f := newFixture(t)
	a := f.openWithBalance(t, 500)
	b := f.openWithBalance(t, 100)

	debit, credit, err := f.ledger.Transfer(context.Background(), a.ID, b.AccountNumber, dec("200.00"))
	require.NoError(t, err)

	assert.Equal(t, models.TypeTransfer, debit.Type)
	assert.Equal(t, a.ID, debit.AccountID)
	assert.True(t, debit.BalanceAfter.Equal(dec("300.00")))
	assert.Equal(t, b.AccountNumber, debit.CounterpartNumber)

	assert.Equal(t, models.TypeTransfer, credit.Type)
	assert.Equal(t, b.ID, credit.AccountID)
	assert.True(t, credit.BalanceAfter.Equal(dec("300.00")))
	assert.Equal(t, a.AccountNumber, credit.CounterpartNumber)

	gotA, err := f.accounts.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)
	gotB, err := f.accounts.GetAccount(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, gotA.Balance.Equal(dec("300.00")))
	assert.True(t, gotB.Balance.Equal(dec("300.00")))
}

func TestTransferRejections(t *testing.T) {
	f := newFixture(t)
	a := f.openWithBalance(t, 500)
	b := f.openWithBalance(t, 100)

	_, _, err := f.ledger.Transfer(context.Background(), a.ID, 9999999, dec("50"))
	assert.ErrorIs(t, err, errors.ErrUnknownAccount)

	_, _, err = f.ledger.Transfer(context.Background(), a.ID, a.AccountNumber, dec("50"))
	assert.ErrorIs(t, err, errors.ErrSameAccount)

	_, _, err = f.ledger.Transfer(context.Background(), a.ID, b.AccountNumber, dec("600"))
	assert.ErrorIs(t, err, errors.ErrInsufficientFunds)

	// Nothing moved.
	gotA, err := f.accounts.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)
	gotB, err := f.accounts.GetAccount(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, gotA.Balance.Equal(dec("500")))
	assert.True(t, gotB.Balance.Equal(dec("100")))
}

// Loan lifecycle: requested with no balance effect, approval credits the
// account and rewrites the loan snapshot, repayment debits once.
func TestLoanLifecycle(t *testing.T) {
	f := newFixture(t)
	account := f.openWithBalance(t, 2000)
	ctx := context.Background()

	loan, err := f.ledger.RequestLoan(ctx, account.ID, dec("800.00"))
	require.NoError(t, err)
	assert.Equal(t, models.TypeLoan, loan.Type)
	assert.False(t, loan.LoanApproved)
	assert.False(t, loan.LoanRepaid)
	assert.True(t, loan.BalanceAfter.Equal(dec("2000")))

	got, err := f.accounts.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("2000")), "balance moves only on approval")

	approved, err := f.ledger.ApproveLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, approved.LoanApproved)
	assert.True(t, approved.BalanceAfter.Equal(dec("2800")))

	got, err = f.accounts.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("2800")))

	repayment, err := f.ledger.RepayLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TypeRepayment, repayment.Type)
	assert.True(t, repayment.Amount.Equal(dec("800")))
	assert.True(t, repayment.BalanceAfter.Equal(dec("2000")))

	stored, err := f.store.GetTransaction(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, stored.LoanRepaid)
}

// Repaying twice must fail the second time, with exactly one debit applied.
func TestRepayLoanNotIdempotent(t *testing.T) {
	f := newFixture(t)
	account := f.openWithBalance(t, 2000)
	ctx := context.Background()

	loan, err := f.ledger.RequestLoan(ctx, account.ID, dec("600"))
	require.NoError(t, err)
	_, err = f.ledger.ApproveLoan(ctx, loan.ID)
	require.NoError(t, err)

	_, err = f.ledger.RepayLoan(ctx, loan.ID)
	require.NoError(t, err)

	_, err = f.ledger.RepayLoan(ctx, loan.ID)
	require.ErrorIs(t, err, errors.ErrLoanAlreadyRepaid)

	got, err := f.accounts.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("2000")), "exactly one debit: %s", got.Balance)
}

func TestRepayLoanBeforeApproval(t *testing.T) {
	f := newFixture(t)
	account := f.openWithBalance(t, 2000)

	loan, err := f.ledger.RequestLoan(context.Background(), account.ID, dec("600"))
	require.NoError(t, err)

	_, err = f.ledger.RepayLoan(context.Background(), loan.ID)
	assert.ErrorIs(t, err, errors.ErrLoanNotApproved)
}

func TestApproveLoanTwice(t *testing.T) {
	f := newFixture(t)
	account := f.openWithBalance(t, 2000)

	loan, err := f.ledger.RequestLoan(context.Background(), account.ID, dec("600"))
	require.NoError(t, err)

	_, err = f.ledger.ApproveLoan(context.Background(), loan.ID)
	require.NoError(t, err)

	_, err = f.ledger.ApproveLoan(context.Background(), loan.ID)
	assert.ErrorIs(t, err, errors.ErrLoanAlreadyApproved)
}

func TestApproveNonLoanTransaction(t *testing.T) {
	f := newFixture(t)
	account := f.openWithBalance(t, 0)

	row, err := f.ledger.Deposit(context.Background(), account.ID, dec("500"))
	require.NoError(t, err)

	_, err = f.ledger.ApproveLoan(context.Background(), row.ID)
	assert.ErrorIs(t, err, errors.ErrUnknownLoan)
	_, err = f.ledger.RepayLoan(context.Background(), row.ID)
	assert.ErrorIs(t, err, errors.ErrUnknownLoan)
}

// The open-loan cap rejects a fourth request regardless of amount.
func TestLoanCap(t *testing.T) {
	f := newFixture(t)
	account := f.openWithBalance(t, 2000)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.ledger.RequestLoan(ctx, account.ID, dec("300"))
		require.NoError(t, err)
	}

	_, err := f.ledger.RequestLoan(ctx, account.ID, dec("300"))
	assert.ErrorIs(t, err, errors.ErrLoanLimitExceeded)
}

func TestLoanCapFreedByRepayment(t *testing.T) {
	f := newFixture(t)
	account := f.openWithBalance(t, 2000)
	ctx := context.Background()

	var first *models.Transaction
	for i := 0; i < 3; i++ {
		loan, err := f.ledger.RequestLoan(ctx, account.ID, dec("300"))
		require.NoError(t, err)
		if first == nil {
			first = loan
		}
	}

	_, err := f.ledger.ApproveLoan(ctx, first.ID)
	require.NoError(t, err)
	_, err = f.ledger.RepayLoan(ctx, first.ID)
	require.NoError(t, err)

	_, err = f.ledger.RequestLoan(ctx, account.ID, dec("300"))
	assert.NoError(t, err, "a repaid loan no longer counts against the cap")
}

func TestReportWithDateRange(t *testing.T) {
	f := newFixture(t)
	account := f.openWithBalance(t, 0)
	ctx := context.Background()

	_, err := f.ledger.Deposit(ctx, account.ID, dec("1000"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	cut := time.Now()
	time.Sleep(5 * time.Millisecond)
	_, err = f.ledger.Withdraw(ctx, account.ID, dec("500"))
	require.NoError(t, err)

	full, err := f.ledger.Report(ctx, account.ID, nil, nil)
	require.NoError(t, err)
	assert.Len(t, full.Transactions, 2)
	assert.True(t, full.PeriodBalance.Equal(dec("500")))

	early, err := f.ledger.Report(ctx, account.ID, nil, &cut)
	require.NoError(t, err)
	require.Len(t, early.Transactions, 1)
	assert.True(t, early.PeriodBalance.Equal(dec("1000")))

	late, err := f.ledger.Report(ctx, account.ID, &cut, nil)
	require.NoError(t, err)
	require.Len(t, late.Transactions, 1)
	assert.True(t, late.PeriodBalance.Equal(dec("500")))

	_, err = f.ledger.Report(ctx, "missing", nil, nil)
	assert.ErrorIs(t, err, errors.ErrUnknownAccount)
}

func TestNotifierInformedAfterSuccess(t *testing.T) {
	f := newFixture(t)
	account := f.openWithBalance(t, 0)

	_, err := f.ledger.Deposit(context.Background(), account.ID, dec("500"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.notifier.count())

	// A rejected operation notifies nobody.
	_, err = f.ledger.Deposit(context.Background(), account.ID, dec("1"))
	require.Error(t, err)
	assert.Equal(t, 1, f.notifier.count())
}

// A failing notifier never unwinds the committed mutation.
func TestNotifierFailureDoesNotAffectMutation(t *testing.T) {
	f := newFixture(t)
	f.notifier.fail = true
	account := f.openWithBalance(t, 0)

	row, err := f.ledger.Deposit(context.Background(), account.ID, dec("500"))
	require.NoError(t, err)
	assert.True(t, row.BalanceAfter.Equal(dec("500")))

	got, err := f.accounts.GetAccount(context.Background(), account.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("500")))
}
