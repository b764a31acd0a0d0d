package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/junaaid96/bank-ledger/internal/errors"
	"github.com/junaaid96/bank-ledger/internal/models"
)

// DefaultLockTimeout bounds how long a mutation waits for an account guard
// before failing with ErrStoreUnavailable.
const DefaultLockTimeout = 3 * time.Second

// MemoryStore is an in-process Store keeping accounts and the ledger in maps.
// A one-slot channel per account serves as its exclusive guard; mutations
// stage their changes on private copies and commit them in one step, so a
// failed mutation leaves no partial effects.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*models.Account
	byNumber  map[int64]string
	txns      map[string]*models.Transaction
	byAccount map[string][]string

	guardMu sync.Mutex
	guards  map[string]chan struct{}

	seq         int64
	lockTimeout time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]*models.Account),
		byNumber:    make(map[int64]string),
		txns:        make(map[string]*models.Transaction),
		byAccount:   make(map[string][]string),
		guards:      make(map[string]chan struct{}),
		lockTimeout: DefaultLockTimeout,
	}
}

// SetLockTimeout overrides the guard acquisition timeout.
func (s *MemoryStore) SetLockTimeout(d time.Duration) {
	s.lockTimeout = d
}

func (s *MemoryStore) CreateAccount(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if _, exists := s.accounts[account.ID]; exists {
		return errors.ErrAccountAlreadyExists
	}

	s.seq++
	now := time.Now()
	account.AccountNumber = models.AccountNumberBase + s.seq
	if account.OpenedDate.IsZero() {
		account.OpenedDate = now
	}
	account.CreatedAt = now
	account.UpdatedAt = now

	cp := *account
	s.accounts[account.ID] = &cp
	s.byNumber[account.AccountNumber] = account.ID
	return nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, errors.ErrUnknownAccount
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetAccountByNumber(ctx context.Context, number int64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byNumber[number]
	if !ok {
		return nil, errors.ErrUnknownAccount
	}
	cp := *s.accounts[id]
	return &cp, nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, errors.ErrUnknownLoan
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, accountID string, from, to *time.Time) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[accountID]; !ok {
		return nil, errors.ErrUnknownAccount
	}
	var out []*models.Transaction
	for _, id := range s.byAccount[accountID] {
		t := s.txns[id]
		if from != nil && t.Timestamp.Before(*from) {
			continue
		}
		if to != nil && t.Timestamp.After(*to) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

// acquire takes the account's guard, waiting at most lockTimeout. The
// returned release function must be called exactly once.
func (s *MemoryStore) acquire(ctx context.Context, accountID string) (func(), error) {
	s.guardMu.Lock()
	guard, ok := s.guards[accountID]
	if !ok {
		guard = make(chan struct{}, 1)
		s.guards[accountID] = guard
	}
	s.guardMu.Unlock()

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case guard <- struct{}{}:
		return func() { <-guard }, nil
	case <-timer.C:
		return nil, errors.ErrStoreUnavailable
	case <-ctx.Done():
		return nil, errors.NewStoreError("acquire guard", errors.ErrStoreUnavailable)
	}
}

func (s *MemoryStore) Apply(ctx context.Context, accountID string, fn Mutation) (*models.Transaction, error) {
	release, err := s.acquire(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := s.begin(accountID)
	if err != nil {
		return nil, err
	}

	result, err := fn(tx)
	if err != nil {
		return nil, err
	}

	s.commit(tx)
	return result, nil
}

func (s *MemoryStore) ApplyPair(ctx context.Context, debitAccountID, creditAccountID string, fn PairMutation) (*models.Transaction, *models.Transaction, error) {
	if debitAccountID == creditAccountID {
		return nil, nil, errors.ErrSameAccount
	}

	// Guards are always taken in ascending account-ID order so that two
	// opposite-direction transfers cannot deadlock each other.
	ordered := []string{debitAccountID, creditAccountID}
	sort.Strings(ordered)
	for _, id := range ordered {
		release, err := s.acquire(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		defer release()
	}

	debit, err := s.begin(debitAccountID)
	if err != nil {
		return nil, nil, err
	}
	credit, err := s.begin(creditAccountID)
	if err != nil {
		return nil, nil, err
	}

	debitRow, creditRow, err := fn(debit, credit)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	debit.commitLocked()
	credit.commitLocked()
	s.mu.Unlock()
	return debitRow, creditRow, nil
}

// begin snapshots the account into a staging view. The caller must hold the
// account's guard.
func (s *MemoryStore) begin(accountID string) (*memTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, errors.ErrUnknownAccount
	}
	cp := *a
	return &memTx{store: s, account: &cp}, nil
}

func (s *MemoryStore) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx.commitLocked()
}

type flagUpdate struct {
	transactionID string
	approved      bool
	balanceAfter  decimal.Decimal
	repaid        bool
}

// memTx stages one account's mutation. All reads go against the snapshot
// taken under the guard; nothing touches shared state until commitLocked.
type memTx struct {
	store   *MemoryStore
	account *models.Account
	appends []*models.Transaction
	flags   []flagUpdate
}

func (t *memTx) Account() *models.Account {
	return t.account
}

func (t *memTx) OpenLoanCount() (int, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	count := 0
	for _, id := range t.store.byAccount[t.account.ID] {
		row := t.store.txns[id]
		if row.Type == models.TypeLoan && !row.LoanRepaid {
			count++
		}
	}
	for _, row := range t.appends {
		if row.Type == models.TypeLoan && !row.LoanRepaid {
			count++
		}
	}
	return count, nil
}

func (t *memTx) Loan(transactionID string) (*models.Transaction, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	row, ok := t.store.txns[transactionID]
	if !ok || row.AccountID != t.account.ID {
		return nil, errors.ErrUnknownLoan
	}
	cp := *row
	return &cp, nil
}

func (t *memTx) SetBalance(balance decimal.Decimal) error {
	t.account.Balance = balance
	return nil
}

func (t *memTx) Append(row *models.Transaction) (*models.Transaction, error) {
	row.ID = uuid.New().String()
	row.AccountID = t.account.ID
	row.Timestamp = time.Now()
	t.appends = append(t.appends, row)
	cp := *row
	return &cp, nil
}

func (t *memTx) SetLoanApproved(transactionID string, balanceAfter decimal.Decimal) error {
	if _, err := t.Loan(transactionID); err != nil {
		return err
	}
	t.flags = append(t.flags, flagUpdate{transactionID: transactionID, approved: true, balanceAfter: balanceAfter})
	return nil
}

func (t *memTx) SetLoanRepaid(transactionID string) error {
	if _, err := t.Loan(transactionID); err != nil {
		return err
	}
	t.flags = append(t.flags, flagUpdate{transactionID: transactionID, repaid: true})
	return nil
}

// commitLocked publishes the staged balance, rows, and flag updates. The
// caller must hold store.mu.
func (t *memTx) commitLocked() {
	live := t.store.accounts[t.account.ID]
	live.Balance = t.account.Balance
	live.UpdatedAt = time.Now()

	for _, row := range t.appends {
		cp := *row
		t.store.txns[cp.ID] = &cp
		t.store.byAccount[cp.AccountID] = append(t.store.byAccount[cp.AccountID], cp.ID)
	}
	for _, f := range t.flags {
		row := t.store.txns[f.transactionID]
		if f.approved {
			row.LoanApproved = true
			row.BalanceAfter = f.balanceAfter
		}
		if f.repaid {
			row.LoanRepaid = true
		}
	}
}
