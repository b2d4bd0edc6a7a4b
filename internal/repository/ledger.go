package repository

import (
	"context"

	"brokerage/internal/domain"
	"brokerage/internal/errors"
)

var _ domain.AccountRepository = (*Ledger)(nil)

// Ledger is the PostgreSQL account store. Balance mutations run in a
// transaction holding the client's row lock between the read and the write,
// so mutations for one client serialize while other clients proceed.
type Ledger struct {
	store *Store
}

func NewLedger(store *Store) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) CreateAccount(ctx context.Context, account *domain.Account) error {
	return l.store.Account().CreateAccount(ctx, account)
}

func (l *Ledger) GetAccount(ctx context.Context, clientID int64) (*domain.Account, error) {
	return l.store.Account().GetAccount(ctx, clientID)
}

func (l *Ledger) UpdateBalance(ctx context.Context, clientID int64, reference string, mutate domain.BalanceMutation) (*domain.Account, error) {
	var updated *domain.Account

	err := l.store.WithTransaction(ctx, func(tx *Store) error {
		accounts := tx.Account()

		current, err := accounts.GetAccountForUpdate(ctx, clientID)
		if err != nil {
			return err
		}

		// The row lock serializes replays of one reference for this client.
		if reference != "" {
			owner, err := accounts.BalanceChangeOwner(ctx, reference)
			if err != nil {
				return err
			}
			switch owner {
			case 0:
			case clientID:
				l.store.logger.Info("Balance change already applied", "client_id", clientID, "reference", reference)
				updated = current
				return nil
			default:
				return errors.ErrDuplicateReference
			}
		}

		newBalance, err := mutate(*current)
		if err != nil {
			return err
		}

		updated, err = accounts.UpdateAccountBalance(ctx, clientID, newBalance)
		if err != nil {
			return err
		}

		if reference != "" {
			return accounts.RecordBalanceChange(ctx, reference, clientID, newBalance.Sub(current.Balance))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (l *Ledger) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}
