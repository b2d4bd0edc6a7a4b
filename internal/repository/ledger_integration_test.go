package repository

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"brokerage/internal/domain"
	"brokerage/internal/errors"
	"brokerage/internal/logging"
	"brokerage/migrations"
)

func startLedger(t *testing.T) (*Ledger, *sql.DB) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping PostgreSQL tests in short mode")
	}
	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("accounts"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	if err != nil {
		t.Fatalf("failed to start container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(postgresContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logging.Discard()
	require.NoError(t, NewMigrator(db, DialectPostgres, migrations.Account, "account", logger).ApplyAll(ctx))

	return NewLedger(NewStore(db, logger)), db
}

func TestLedgerPostgres(t *testing.T) {
	ledger, db := startLedger(t)
	ctx := context.Background()

	t.Run("seed and read", func(t *testing.T) {
		require.NoError(t, Seed(ctx, db, migrations.Seed, "seed/account.sql"))
		require.NoError(t, Seed(ctx, db, migrations.Seed, "seed/account.sql"))

		account, err := ledger.GetAccount(ctx, 101)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(50000).Equal(account.Balance))
		assert.Equal(t, "Brokerage", account.AccountType)
		assert.True(t, account.IsActive)

		_, err = ledger.GetAccount(ctx, 999)
		assert.ErrorIs(t, err, errors.ErrAccountNotFound)
	})

	t.Run("create account", func(t *testing.T) {
		account := &domain.Account{ClientID: 201, AccountType: "Brokerage", Balance: decimal.RequireFromString("10.25"), IsActive: true}
		require.NoError(t, ledger.CreateAccount(ctx, account))
		assert.NotZero(t, account.AccountID)

		err := ledger.CreateAccount(ctx, &domain.Account{ClientID: 201, AccountType: "Brokerage"})
		assert.ErrorIs(t, err, errors.ErrDuplicateAccount)
	})

	t.Run("update balance", func(t *testing.T) {
		updated, err := ledger.UpdateBalance(ctx, 201, "", debit(decimal.RequireFromString("0.25")))
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(10).Equal(updated.Balance))

		_, err = ledger.UpdateBalance(ctx, 201, "", debit(decimal.NewFromInt(11)))
		assert.ErrorIs(t, err, errors.ErrInsufficientFunds)

		_, err = ledger.UpdateBalance(ctx, 999, "", debit(decimal.NewFromInt(1)))
		assert.ErrorIs(t, err, errors.ErrAccountNotFound)
	})

	t.Run("concurrent debits never overdraw", func(t *testing.T) {
		require.NoError(t, ledger.CreateAccount(ctx, &domain.Account{ClientID: 301, AccountType: "Brokerage", Balance: decimal.NewFromInt(1000), IsActive: true}))

		const attempts = 30
		var (
			wg        sync.WaitGroup
			succeeded atomic.Int64
		)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := ledger.UpdateBalance(ctx, 301, "", debit(decimal.NewFromInt(100))); err == nil {
					succeeded.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(10), succeeded.Load())
		account, err := ledger.GetAccount(ctx, 301)
		require.NoError(t, err)
		assert.True(t, account.Balance.IsZero(), "balance %s", account.Balance)
	})

	t.Run("references", func(t *testing.T) {
		require.NoError(t, ledger.CreateAccount(ctx, &domain.Account{ClientID: 401, AccountType: "Brokerage", Balance: decimal.NewFromInt(1000), IsActive: true}))
		require.NoError(t, ledger.CreateAccount(ctx, &domain.Account{ClientID: 402, AccountType: "Brokerage", Balance: decimal.NewFromInt(1000), IsActive: true}))

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := ledger.UpdateBalance(ctx, 401, "trade-401", debit(decimal.NewFromInt(100)))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		account, err := ledger.GetAccount(ctx, 401)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(900).Equal(account.Balance), "balance %s", account.Balance)

		_, err = ledger.UpdateBalance(ctx, 402, "trade-401", debit(decimal.NewFromInt(100)))
		assert.ErrorIs(t, err, errors.ErrDuplicateReference)

		var changes int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM balance_changes WHERE reference = $1`, "trade-401").Scan(&changes))
		assert.Equal(t, 1, changes)
	})

	t.Run("statements", func(t *testing.T) {
		account, err := ledger.GetAccount(ctx, 201)
		require.NoError(t, err)

		file := &domain.StatementFile{AccountID: account.AccountID, FileName: "statement.csv", FileType: "csv", Content: []byte("a,b\n")}
		require.NoError(t, ledger.store.Statement().SaveStatement(ctx, file))
		assert.NotZero(t, file.FileID)
	})
}
