package service

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/junaaid96/bank-ledger/internal/models"
)

// Notifier is told about successful ledger operations so a front end can
// send email or UI messages. Delivery failure never affects the committed
// mutation.
type Notifier interface {
	Notify(ctx context.Context, accountID string, kind models.TransactionType, amount decimal.Decimal) error
}

// LogNotifier records notifications in the log. It stands in for the mail
// collaborator in deployments without one.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, accountID string, kind models.TransactionType, amount decimal.Decimal) error {
	n.logger.Info("operation notification",
		"account_id", accountID,
		"kind", string(kind),
		"amount", amount.String(),
	)
	return nil
}
