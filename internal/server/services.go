package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"brokerage/internal/accountclient"
	"brokerage/internal/config"
	"brokerage/internal/domain"
	"brokerage/internal/errors"
	"brokerage/internal/handler"
	"brokerage/internal/repository"
	"brokerage/internal/service"
	"brokerage/migrations"
)

// NewAccountServer wires the account service on the ledger selected by
// cfg.AccountStore.
func NewAccountServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	var (
		ledger     domain.AccountRepository
		statements domain.StatementRepository
		db         *sql.DB
	)

	switch cfg.AccountStore {
	case config.StorePostgres:
		var err error
		db, err = openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		store := repository.NewStore(db, logger)
		ledger = repository.NewLedger(store)
		statements = store.Statement()

	case config.StoreMemory:
		memory := repository.NewMemoryLedger()
		if cfg.SeedDemoData {
			if err := seedAccounts(ctx, memory); err != nil {
				return nil, err
			}
		}
		ledger = memory
		statements = repository.NewMemoryStatements()

	default:
		return nil, fmt.Errorf("unknown account store %q", cfg.AccountStore)
	}

	accountService := service.NewAccountService(ledger, statements, logger)

	s := newServer("account-service", accountService, logger)
	handler.NewAccountHandler(accountService).Routes(s.router)
	if db != nil {
		s.closers = append(s.closers, db)
	}

	logger.Info("Account service ready", "store", cfg.AccountStore)
	return s, nil
}

// NewPortfolioServer wires the portfolio service on the store selected by
// cfg.PortfolioStore and points its trade orchestrator at the account service.
func NewPortfolioServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	var (
		portfolios domain.PortfolioRepository
		db         *sql.DB
	)

	switch cfg.PortfolioStore {
	case config.StoreSQLite:
		var err error
		db, err = openSQLite(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		portfolios = repository.NewPortfolioStore(db, logger)

	case config.StoreMemory:
		memory := repository.NewMemoryPortfolioStore()
		if cfg.SeedDemoData {
			if err := seedPortfolios(ctx, memory); err != nil {
				return nil, err
			}
		}
		portfolios = memory

	default:
		return nil, fmt.Errorf("unknown portfolio store %q", cfg.PortfolioStore)
	}

	accounts := accountclient.New(cfg.AccountServiceURL, cfg.AccountServiceTimeout, logger)
	portfolioService := service.NewPortfolioService(portfolios, logger)
	tradeService := service.NewTradeService(portfolios, accounts, cfg.AccountServiceTimeout, logger)

	s := newServer("portfolio-service", portfolioService, logger)
	handler.NewPortfolioHandler(portfolioService, tradeService).Routes(s.router)
	if db != nil {
		s.closers = append(s.closers, db)
	}

	logger.Info("Portfolio service ready",
		"store", cfg.PortfolioStore,
		"account_service", cfg.AccountServiceURL,
		"account_timeout", cfg.AccountServiceTimeout,
	)
	return s, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDBConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Successfully connected to database", "host", cfg.DBHost, "name", cfg.DBName)

	if err := prepare(ctx, cfg, db, repository.DialectPostgres, "account", logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openSQLite(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := repository.OpenSQLite(cfg.PortfolioDBPath)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Opened holdings database", "path", cfg.PortfolioDBPath)

	if err := prepare(ctx, cfg, db, repository.DialectSQLite, "portfolio", logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// prepare applies the embedded migrations of one service and, when asked,
// its demo data.
func prepare(ctx context.Context, cfg *config.Config, db *sql.DB, dialect repository.Dialect, name string, logger *slog.Logger) error {
	if cfg.AutoMigrate {
		schema := migrations.Account
		if name == "portfolio" {
			schema = migrations.Portfolio
		}
		if err := repository.NewMigrator(db, dialect, schema, name, logger).ApplyAll(ctx); err != nil {
			return fmt.Errorf("migrate %s schema: %w", name, err)
		}
	}
	if cfg.SeedDemoData {
		if err := repository.Seed(ctx, db, migrations.Seed, "seed/"+name+".sql"); err != nil {
			return err
		}
		logger.Info("Seeded demo data", "schema", name)
	}
	return nil
}

// seedAccounts mirrors seed/account.sql for the in-memory ledger.
func seedAccounts(ctx context.Context, ledger domain.AccountRepository) error {
	seed := []domain.Account{
		{ClientID: 101, AccountType: "Brokerage", Balance: decimal.RequireFromString("50000.00"), IsActive: true},
		{ClientID: 102, AccountType: "Brokerage", Balance: decimal.RequireFromString("75000.00"), IsActive: true},
	}
	for i := range seed {
		if err := ledger.CreateAccount(ctx, &seed[i]); err != nil && !errors.Is(err, errors.ErrDuplicateAccount) {
			return fmt.Errorf("seed account %d: %w", seed[i].ClientID, err)
		}
	}
	return nil
}

// seedPortfolios mirrors seed/portfolio.sql for the in-memory store.
func seedPortfolios(ctx context.Context, store *repository.MemoryPortfolioStore) error {
	holdings := map[int64][]domain.Holding{
		101: {
			{Symbol: "AAPL", Quantity: 100, CurrentPrice: decimal.NewFromInt(150)},
			{Symbol: "MSFT", Quantity: 50, CurrentPrice: decimal.NewFromInt(300)},
		},
		102: nil,
	}

	for _, clientID := range []int64{101, 102} {
		portfolio := &domain.Portfolio{ClientID: clientID}
		if err := store.CreatePortfolio(ctx, portfolio); err != nil {
			return fmt.Errorf("seed portfolio for client %d: %w", clientID, err)
		}
		for i := range holdings[clientID] {
			holding := holdings[clientID][i]
			holding.PortfolioID = portfolio.PortfolioID
			if err := store.AddHolding(ctx, &holding); err != nil {
				return fmt.Errorf("seed holding %s: %w", holding.Symbol, err)
			}
		}
	}
	return nil
}
