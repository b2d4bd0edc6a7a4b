package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Account struct {
	AccountID   int64           `json:"account_id"`
	ClientID    int64           `json:"client_id"`
	AccountType string          `json:"account_type"`
	Balance     decimal.Decimal `json:"balance"`
	IsActive    bool            `json:"is_active"`
	CreatedDate time.Time       `json:"created_date"`
}

// BalanceMutation computes the new balance from the locked, current account.
// Returning an error aborts the mutation without writing anything. It must not
// perform I/O: it runs while the client's balance is locked.
type BalanceMutation func(current Account) (decimal.Decimal, error)

type AccountRepository interface {
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, clientID int64) (*Account, error)
	// UpdateBalance re-reads the balance, applies mutate and writes the result
	// as one isolated unit per client. A non-empty reference is recorded with
	// the change; a second call with the same reference leaves the balance
	// alone and returns the account as it stands.
	UpdateBalance(ctx context.Context, clientID int64, reference string, mutate BalanceMutation) (*Account, error)
	Ping(ctx context.Context) error
}

// StatementFile is a generated account statement persisted alongside the ledger.
type StatementFile struct {
	FileID      int64     `json:"file_id"`
	AccountID   int64     `json:"account_id"`
	FileName    string    `json:"file_name"`
	FileType    string    `json:"file_type"`
	Content     []byte    `json:"-"`
	CreatedDate time.Time `json:"created_date"`
}

type StatementRepository interface {
	SaveStatement(ctx context.Context, file *StatementFile) error
}
