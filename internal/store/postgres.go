package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/junaaid96/bank-ledger/internal/errors"
	"github.com/junaaid96/bank-ledger/internal/models"
)

// DefaultOperationTimeout bounds every Postgres store operation; expiry
// surfaces as ErrStoreUnavailable rather than a hung request.
const DefaultOperationTimeout = 5 * time.Second

// PostgresStore implements Store on Postgres. Mutations run in a
// SERIALIZABLE transaction with the account rows locked via
// SELECT ... FOR UPDATE; pair mutations lock both rows in ascending ID
// order. Serialization failures map to ErrConcurrencyConflict so callers
// can retry.
type PostgresStore struct {
	db        *sql.DB
	opTimeout time.Duration
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, opTimeout: DefaultOperationTimeout}
}

// SetOperationTimeout overrides the per-operation deadline.
func (s *PostgresStore) SetOperationTimeout(d time.Duration) {
	s.opTimeout = d
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account *models.Account) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if account.ID == "" {
		account.ID = uuid.New().String()
	}

	query := `INSERT INTO accounts (id, account_type, balance)
		VALUES ($1, $2, $3)
		RETURNING account_number, opened_date, created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query, account.ID, string(account.AccountType), account.Balance).
		Scan(&account.AccountNumber, &account.OpenedDate, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.ErrAccountAlreadyExists
		}
		return s.mapError("create account", err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	query := `SELECT id, account_number, account_type, balance, opened_date, created_at, updated_at
		FROM accounts WHERE id = $1`
	return s.scanAccount(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) GetAccountByNumber(ctx context.Context, number int64) (*models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	query := `SELECT id, account_number, account_type, balance, opened_date, created_at, updated_at
		FROM accounts WHERE account_number = $1`
	return s.scanAccount(s.db.QueryRowContext(ctx, query, number))
}

func (s *PostgresStore) scanAccount(row *sql.Row) (*models.Account, error) {
	account := &models.Account{}
	var accountType string
	err := row.Scan(&account.ID, &account.AccountNumber, &accountType, &account.Balance,
		&account.OpenedDate, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrUnknownAccount
		}
		return nil, s.mapError("get account", err)
	}
	account.AccountType = models.AccountType(accountType)
	return account, nil
}

const transactionColumns = `id, account_id, amount, type, balance_after, created_at,
	loan_approved, loan_repaid, counterpart_number`

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	t, err := scanTransaction(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrUnknownLoan
		}
		return nil, s.mapError("get transaction", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID string, from, to *time.Time) ([]*models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE account_id = $1`
	args := []interface{}{accountID}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.mapError("list transactions", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, s.mapError("scan transaction", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapError("iterate transactions", err)
	}
	return out, nil
}

func (s *PostgresStore) Apply(ctx context.Context, accountID string, fn Mutation) (*models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, s.mapError("begin", err)
	}
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	view, err := s.lockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	result, err := fn(view)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, s.mapError("commit", err)
	}
	tx = nil
	return result, nil
}

func (s *PostgresStore) ApplyPair(ctx context.Context, debitAccountID, creditAccountID string, fn PairMutation) (*models.Transaction, *models.Transaction, error) {
	if debitAccountID == creditAccountID {
		return nil, nil, errors.ErrSameAccount
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, s.mapError("begin", err)
	}
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	// Row locks are taken in ascending account-ID order to keep
	// opposite-direction pairs deadlock-free.
	first, second := debitAccountID, creditAccountID
	if second < first {
		first, second = second, first
	}
	views := make(map[string]*pgTx, 2)
	for _, id := range []string{first, second} {
		view, err := s.lockAccount(ctx, tx, id)
		if err != nil {
			return nil, nil, err
		}
		views[id] = view
	}

	debitRow, creditRow, err := fn(views[debitAccountID], views[creditAccountID])
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, s.mapError("commit", err)
	}
	tx = nil
	return debitRow, creditRow, nil
}

func (s *PostgresStore) lockAccount(ctx context.Context, tx *sql.Tx, accountID string) (*pgTx, error) {
	query := `SELECT id, account_number, account_type, balance, opened_date, created_at, updated_at
		FROM accounts WHERE id = $1 FOR UPDATE`

	account := &models.Account{}
	var accountType string
	err := tx.QueryRowContext(ctx, query, accountID).
		Scan(&account.ID, &account.AccountNumber, &accountType, &account.Balance,
			&account.OpenedDate, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrUnknownAccount
		}
		return nil, s.mapError("lock account", err)
	}
	account.AccountType = models.AccountType(accountType)
	return &pgTx{store: s, ctx: ctx, tx: tx, account: account}, nil
}

// mapError translates driver failures into the store taxonomy.
func (s *PostgresStore) mapError(operation string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.NewStoreError(operation, errors.ErrStoreUnavailable)
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return errors.NewStoreError(operation, errors.ErrConcurrencyConflict)
		case "57P01", "08000", "08006": // shutdown, connection failures
			return errors.NewStoreError(operation, errors.ErrStoreUnavailable)
		}
	}
	return fmt.Errorf("%s: %w", operation, err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	t := &models.Transaction{}
	var txType string
	var counterpart sql.NullInt64
	err := row.Scan(&t.ID, &t.AccountID, &t.Amount, &txType, &t.BalanceAfter,
		&t.Timestamp, &t.LoanApproved, &t.LoanRepaid, &counterpart)
	if err != nil {
		return nil, err
	}
	t.Type = models.TransactionType(txType)
	if counterpart.Valid {
		t.CounterpartNumber = counterpart.Int64
	}
	return t, nil
}

// pgTx is the Tx view over one locked account row.
type pgTx struct {
	store   *PostgresStore
	ctx     context.Context
	tx      *sql.Tx
	account *models.Account
}

func (t *pgTx) Account() *models.Account {
	return t.account
}

func (t *pgTx) OpenLoanCount() (int, error) {
	query := `SELECT COUNT(*) FROM transactions
		WHERE account_id = $1 AND type = $2 AND loan_repaid = false`

	var count int
	err := t.tx.QueryRowContext(t.ctx, query, t.account.ID, string(models.TypeLoan)).Scan(&count)
	if err != nil {
		return 0, t.store.mapError("count open loans", err)
	}
	return count, nil
}

func (t *pgTx) Loan(transactionID string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE id = $1 AND account_id = $2`

	row, err := scanTransaction(t.tx.QueryRowContext(t.ctx, query, transactionID, t.account.ID))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrUnknownLoan
		}
		return nil, t.store.mapError("get loan", err)
	}
	return row, nil
}

func (t *pgTx) SetBalance(balance decimal.Decimal) error {
	query := `UPDATE accounts SET balance = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`

	result, err := t.tx.ExecContext(t.ctx, query, balance, t.account.ID)
	if err != nil {
		return t.store.mapError("update balance", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return t.store.mapError("update balance", err)
	}
	if affected == 0 {
		return errors.ErrUnknownAccount
	}
	t.account.Balance = balance
	return nil
}

func (t *pgTx) Append(row *models.Transaction) (*models.Transaction, error) {
	row.ID = uuid.New().String()
	row.AccountID = t.account.ID

	query := `INSERT INTO transactions
		(id, account_id, amount, type, balance_after, loan_approved, loan_repaid, counterpart_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	var counterpart sql.NullInt64
	if row.CounterpartNumber != 0 {
		counterpart = sql.NullInt64{Int64: row.CounterpartNumber, Valid: true}
	}
	err := t.tx.QueryRowContext(t.ctx, query,
		row.ID, row.AccountID, row.Amount, string(row.Type), row.BalanceAfter,
		row.LoanApproved, row.LoanRepaid, counterpart,
	).Scan(&row.Timestamp)
	if err != nil {
		return nil, t.store.mapError("append transaction", err)
	}
	return row, nil
}

func (t *pgTx) SetLoanApproved(transactionID string, balanceAfter decimal.Decimal) error {
	query := `UPDATE transactions SET loan_approved = true, balance_after = $1
		WHERE id = $2 AND account_id = $3`
	return t.updateLoan("approve loan", query, balanceAfter, transactionID)
}

func (t *pgTx) SetLoanRepaid(transactionID string) error {
	query := `UPDATE transactions SET loan_repaid = true
		WHERE id = $1 AND account_id = $2`
	return t.updateLoan("repay loan", query, transactionID)
}

func (t *pgTx) updateLoan(operation, query string, args ...interface{}) error {
	args = append(args, t.account.ID)
	result, err := t.tx.ExecContext(t.ctx, query, args...)
	if err != nil {
		return t.store.mapError(operation, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return t.store.mapError(operation, err)
	}
	if affected == 0 {
		return errors.ErrUnknownLoan
	}
	return nil
}
