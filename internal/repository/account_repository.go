package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"brokerage/internal/domain"
	"brokerage/internal/errors"
)

const accountColumns = `account_id, client_id, account_type, balance, is_active, created_date`

type accountRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func newAccountRepository(db SQLExecutor, logger *slog.Logger) *accountRepository {
	return &accountRepository{
		db:     db,
		logger: logger,
	}
}

func (r *accountRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (client_id, account_type, balance, is_active, created_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING account_id
	`

	if account.CreatedDate.IsZero() {
		account.CreatedDate = time.Now().UTC()
	}

	err := r.db.QueryRowContext(ctx,
		query,
		account.ClientID,
		account.AccountType,
		account.Balance.String(),
		account.IsActive,
		account.CreatedDate,
	).Scan(&account.AccountID)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" { // unique_violation
				r.logger.Warn("Duplicate account creation attempt", "client_id", account.ClientID)
				return errors.ErrDuplicateAccount
			}
		}
		r.logger.Error("Failed to create account", "client_id", account.ClientID, "error", err)
		return errors.Wrap(errors.InternalError, "failed to create account", err)
	}

	r.logger.Info("Account created successfully", "client_id", account.ClientID, "account_id", account.AccountID)
	return nil
}

func (r *accountRepository) GetAccount(ctx context.Context, clientID int64) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE client_id = $1`

	return r.scanAccount(ctx, query, clientID)
}

// GetAccountForUpdate locks the client's row until the surrounding transaction ends.
func (r *accountRepository) GetAccountForUpdate(ctx context.Context, clientID int64) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE client_id = $1 FOR UPDATE`

	return r.scanAccount(ctx, query, clientID)
}

func (r *accountRepository) scanAccount(ctx context.Context, query string, clientID int64) (*domain.Account, error) {
	var account domain.Account
	var balanceStr string

	err := r.db.QueryRowContext(ctx, query, clientID).Scan(
		&account.AccountID,
		&account.ClientID,
		&account.AccountType,
		&balanceStr,
		&account.IsActive,
		&account.CreatedDate,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			r.logger.Warn("Account not found", "client_id", clientID)
			return nil, errors.ErrAccountNotFound
		}
		r.logger.Error("Failed to get account", "client_id", clientID, "error", err)
		return nil, errors.Wrap(errors.InternalError, "failed to get account", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		r.logger.Error("Failed to parse balance", "client_id", clientID, "balance_str", balanceStr, "error", err)
		return nil, errors.Wrap(errors.InternalError, "failed to parse balance", err)
	}

	account.Balance = balance
	return &account, nil
}

func (r *accountRepository) UpdateAccountBalance(ctx context.Context, clientID int64, newBalance decimal.Decimal) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET balance = $1
		WHERE client_id = $2
		RETURNING ` + accountColumns

	var account domain.Account
	var balanceStr string

	err := r.db.QueryRowContext(ctx, query, newBalance.String(), clientID).Scan(
		&account.AccountID,
		&account.ClientID,
		&account.AccountType,
		&balanceStr,
		&account.IsActive,
		&account.CreatedDate,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			r.logger.Warn("No account found to update", "client_id", clientID)
			return nil, errors.ErrAccountNotFound
		}
		r.logger.Error("Failed to update account balance", "client_id", clientID, "error", err)
		return nil, errors.Wrap(errors.InternalError, "failed to update account balance", err)
	}

	account.Balance, err = decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "failed to parse balance", err)
	}

	r.logger.Info("Account balance updated", "client_id", clientID, "new_balance", account.Balance)
	return &account, nil
}

// BalanceChangeOwner returns the client a balance change reference was
// recorded for, or 0 when the reference is unused.
func (r *accountRepository) BalanceChangeOwner(ctx context.Context, reference string) (int64, error) {
	query := `SELECT client_id FROM balance_changes WHERE reference = $1`

	var clientID int64
	err := r.db.QueryRowContext(ctx, query, reference).Scan(&clientID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		r.logger.Error("Failed to look up balance change", "reference", reference, "error", err)
		return 0, errors.Wrap(errors.InternalError, "failed to look up balance change", err)
	}
	return clientID, nil
}

func (r *accountRepository) RecordBalanceChange(ctx context.Context, reference string, clientID int64, amount decimal.Decimal) error {
	query := `
		INSERT INTO balance_changes (reference, client_id, amount)
		VALUES ($1, $2, $3)
	`

	if _, err := r.db.ExecContext(ctx, query, reference, clientID, amount.String()); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.ErrDuplicateReference
		}
		r.logger.Error("Failed to record balance change", "reference", reference, "client_id", clientID, "error", err)
		return errors.Wrap(errors.InternalError, "failed to record balance change", err)
	}
	return nil
}
