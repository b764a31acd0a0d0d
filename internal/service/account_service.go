package service

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/junaaid96/bank-ledger/internal/errors"
	"github.com/junaaid96/bank-ledger/internal/models"
	"github.com/junaaid96/bank-ledger/internal/store"
)

type AccountService interface {
	OpenAccount(ctx context.Context, req *models.OpenAccountRequest) (*models.Account, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetAccountByNumber(ctx context.Context, number int64) (*models.Account, error)
}

type AccountServiceImpl struct {
	store  store.Store
	logger *slog.Logger
}

func NewAccountService(st store.Store, logger *slog.Logger) *AccountServiceImpl {
	return &AccountServiceImpl{store: st, logger: logger}
}

// OpenAccount registers a new account with a zero balance. The store assigns
// the account number from the base offset plus its sequence.
func (s *AccountServiceImpl) OpenAccount(ctx context.Context, req *models.OpenAccountRequest) (*models.Account, error) {
	if !models.ValidAccountType(req.AccountType) {
		return nil, errors.ErrInvalidAccountType
	}

	account := &models.Account{
		AccountType: req.AccountType,
		Balance:     decimal.Zero,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		s.logger.Error("failed to open account",
			"account_type", string(req.AccountType),
			"error", err.Error(),
		)
		return nil, err
	}

	s.logger.Info("account opened",
		"account_id", account.ID,
		"account_number", account.AccountNumber,
		"account_type", string(account.AccountType),
	)
	return account, nil
}

func (s *AccountServiceImpl) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			s.logger.Warn("account not found", "account_id", id)
			return nil, err
		}
		s.logger.Error("failed to get account",
			"account_id", id,
			"error", err.Error(),
		)
		return nil, err
	}
	return account, nil
}

func (s *AccountServiceImpl) GetAccountByNumber(ctx context.Context, number int64) (*models.Account, error) {
	account, err := s.store.GetAccountByNumber(ctx, number)
	if err != nil {
		if errors.IsNotFound(err) {
			s.logger.Warn("account not found", "account_number", number)
			return nil, err
		}
		s.logger.Error("failed to get account by number",
			"account_number", number,
			"error", err.Error(),
		)
		return nil, err
	}
	return account, nil
}
