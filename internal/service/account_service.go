package service

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"brokerage/internal/domain"
	"brokerage/internal/errors"
)

type AccountService struct {
	ledger     domain.AccountRepository
	statements domain.StatementRepository
	logger     *slog.Logger
}

func NewAccountService(ledger domain.AccountRepository, statements domain.StatementRepository, logger *slog.Logger) *AccountService {
	return &AccountService{
		ledger:     ledger,
		statements: statements,
		logger:     logger,
	}
}

func (s *AccountService) GetBalance(ctx context.Context, clientID int64) (*domain.Account, error) {
	if clientID <= 0 {
		return nil, errors.ErrInvalidClientID
	}
	return s.ledger.GetAccount(ctx, clientID)
}

// VerifyFunds reports whether the client can cover required. A missing
// account has no funds.
func (s *AccountService) VerifyFunds(ctx context.Context, clientID int64, required decimal.Decimal) (bool, error) {
	if clientID <= 0 {
		return false, errors.ErrInvalidClientID
	}
	if required.IsNegative() {
		return false, errors.ErrInvalidAmount.WithDetails("required amount must not be negative")
	}

	account, err := s.ledger.GetAccount(ctx, clientID)
	if err != nil {
		if errors.KindOf(err) == errors.KindNotFound {
			return false, nil
		}
		return false, err
	}

	hasFunds := account.Balance.GreaterThanOrEqual(required)
	s.logger.Debug("Verified funds", "client_id", clientID, "required", required, "has_funds", hasFunds)
	return hasFunds, nil
}

// Debit withdraws amount when the balance covers it. A missing account and
// an insufficient balance are both reported as ErrWithdrawalRejected. A
// debit carrying an already applied reference is not charged again.
func (s *AccountService) Debit(ctx context.Context, clientID int64, amount decimal.Decimal, reference string) (*domain.Account, error) {
	if clientID <= 0 {
		return nil, errors.ErrInvalidClientID
	}
	if !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount.WithDetails("amount must be positive")
	}

	account, err := s.ledger.UpdateBalance(ctx, clientID, reference, func(current domain.Account) (decimal.Decimal, error) {
		if current.Balance.LessThan(amount) {
			return decimal.Zero, errors.ErrInsufficientFunds
		}
		return current.Balance.Sub(amount), nil
	})
	if err != nil {
		return nil, s.rejected(err, errors.ErrWithdrawalRejected, clientID, amount)
	}

	s.logger.Info("Account debited", "client_id", clientID, "amount", amount, "reference", reference, "balance", account.Balance)
	return account, nil
}

// Credit deposits amount. It is rejected only when the account is missing.
func (s *AccountService) Credit(ctx context.Context, clientID int64, amount decimal.Decimal, reference string) (*domain.Account, error) {
	if clientID <= 0 {
		return nil, errors.ErrInvalidClientID
	}
	if !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount.WithDetails("amount must be positive")
	}

	account, err := s.ledger.UpdateBalance(ctx, clientID, reference, func(current domain.Account) (decimal.Decimal, error) {
		return current.Balance.Add(amount), nil
	})
	if err != nil {
		return nil, s.rejected(err, errors.ErrDepositRejected, clientID, amount)
	}

	s.logger.Info("Account credited", "client_id", clientID, "amount", amount, "reference", reference, "balance", account.Balance)
	return account, nil
}

// rejected collapses not-found and insufficient-funds outcomes into the
// operation's bare rejection; the reason is only logged. Store failures pass
// through unchanged.
func (s *AccountService) rejected(err error, rejection *errors.AppError, clientID int64, amount decimal.Decimal) error {
	appErr := errors.From(err)
	if appErr == nil || appErr.Kind() == errors.KindTransient {
		s.logger.Error("Balance update failed", "client_id", clientID, "amount", amount, "error", err)
		return err
	}

	s.logger.Warn("Balance update rejected", "client_id", clientID, "amount", amount, "reason", appErr.Code)
	return rejection
}

func (s *AccountService) Ping(ctx context.Context) error {
	return s.ledger.Ping(ctx)
}
